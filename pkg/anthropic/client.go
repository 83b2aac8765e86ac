// Package anthropic is a narrow Claude Messages client for single-turn
// extraction prompts.
package anthropic

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Client sends one message exchange to Claude.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// MessageRequest is a prompt: an optional system text and the turns.
type MessageRequest struct {
	Model       string
	MaxTokens   int64
	System      string
	Messages    []Message
	Temperature *float64

	// CacheSystem marks the system text as a one-hour cache breakpoint, so a
	// batch of extractions pays for the instructions once.
	CacheSystem bool
}

// Message is one turn. Role is "user" or "assistant".
type Message struct {
	Role    string
	Content string
}

// MessageResponse is Claude's reply with its text blocks joined.
type MessageResponse struct {
	ID         string
	Model      string
	Text       string
	StopReason string
	Usage      TokenUsage
}

// TokenUsage counts tokens billed for one call.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

type rate struct{ in, out float64 }

// USD per million tokens, by model family. Dated releases match by prefix.
var familyRates = []struct {
	prefix string
	rate   rate
}{
	{"claude-haiku-4-5", rate{0.80, 4.00}},
	{"claude-sonnet-4-5", rate{3.00, 15.00}},
}

// EstimateCost prices u for model in USD. Cache writes bill at 1.25x input
// and cache reads at 0.1x. Unknown models cost 0.
func (u TokenUsage) EstimateCost(model string) float64 {
	for _, f := range familyRates {
		if !strings.HasPrefix(model, f.prefix) {
			continue
		}
		in := float64(u.InputTokens) + 1.25*float64(u.CacheCreationInputTokens) + 0.1*float64(u.CacheReadInputTokens)
		return (in*f.rate.in + float64(u.OutputTokens)*f.rate.out) / 1e6
	}
	return 0
}

// LogCost logs u and its estimated cost under op.
func (u TokenUsage) LogCost(model, op string) {
	zap.L().Info("anthropic: usage",
		zap.String("model", model),
		zap.String("op", op),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheCreationInputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("estimated_cost_usd", u.EstimateCost(model)),
	)
}

type sdkClient struct {
	client sdk.Client
}

// NewClient returns a Client backed by the official SDK. opts are passed
// through, e.g. option.WithBaseURL in tests.
func NewClient(apiKey string, opts ...option.RequestOption) Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &sdkClient{client: sdk.NewClient(opts...)}
}

func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  toSDKMessages(req.Messages),
	}
	if req.System != "" {
		block := sdk.TextBlockParam{Text: req.System}
		if req.CacheSystem {
			block.CacheControl = sdk.NewCacheControlEphemeralParam()
			block.CacheControl.TTL = sdk.CacheControlEphemeralTTL("1h")
		}
		params.System = []sdk.TextBlockParam{block}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrapf(err, "anthropic: create message (%s)", req.Model)
	}

	var text strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}
	return &MessageResponse{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Text:       text.String(),
		StopReason: string(msg.StopReason),
		Usage: TokenUsage{
			InputTokens:              msg.Usage.InputTokens,
			OutputTokens:             msg.Usage.OutputTokens,
			CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
		},
	}, nil
}

// toSDKMessages maps turns to SDK params. Anything not "assistant" is sent
// as a user turn.
func toSDKMessages(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		block := sdk.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out = append(out, sdk.NewAssistantMessage(block))
			continue
		}
		out = append(out, sdk.NewUserMessage(block))
	}
	return out
}
