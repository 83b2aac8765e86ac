// Package extract turns editorial articles into ai_extract raw records
// attached to a canonical place.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/config"
	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/pkg/anthropic"
)

const (
	// SourceName is the raw record source for extracted claims.
	SourceName = "ai_extract"
	// MatchMethod is recorded on the entity link.
	MatchMethod = "ai_extract"

	defaultMaxChars  = 40000
	defaultMaxTokens = 1024
)

// ErrNoClaims is returned when the model found nothing it could support
// with a quote from the article.
var ErrNoClaims = eris.New("extract: no supported claims")

// Store is the persistence extraction needs.
type Store interface {
	GetPlace(ctx context.Context, id string) (*model.Place, error)
	InsertRawRecord(ctx context.Context, r *model.RawRecord) error
	LinkRawRecord(ctx context.Context, rawID, placeID, method string, confidence *float64) error
}

// Article is the editorial text to read.
type Article struct {
	URL         string
	Title       string
	Publication string
	Body        string
}

// Claim is the model's answer. Evidence maps each field to the article
// sentence that supports it.
type Claim struct {
	Name         string            `json:"name,omitempty"`
	Address      string            `json:"address,omitempty"`
	Neighborhood string            `json:"neighborhood,omitempty"`
	Phone        string            `json:"phone,omitempty"`
	Website      string            `json:"website,omitempty"`
	Hours        string            `json:"hours,omitempty"`
	Description  string            `json:"description,omitempty"`
	Confidence   float64           `json:"confidence"`
	Evidence     map[string]string `json:"evidence,omitempty"`
}

func (c *Claim) fields() map[string]*string {
	return map[string]*string{
		"name":         &c.Name,
		"address":      &c.Address,
		"neighborhood": &c.Neighborhood,
		"phone":        &c.Phone,
		"website":      &c.Website,
		"hours":        &c.Hours,
		"description":  &c.Description,
	}
}

// Result reports what one extraction stored.
type Result struct {
	RawID   string
	PlaceID string
	Claim   Claim
	Kept    []string
	Dropped []string
	Usage   anthropic.TokenUsage
}

// Extractor reads articles with Claude.
type Extractor struct {
	ai       anthropic.Client
	store    Store
	cfg      config.AnthropicConfig
	maxChars int
	dryRun   bool
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithDryRun skips the raw record write.
func WithDryRun(v bool) Option {
	return func(e *Extractor) { e.dryRun = v }
}

// WithMaxChars caps the article text sent to the model.
func WithMaxChars(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxChars = n
		}
	}
}

// New creates an Extractor.
func New(ai anthropic.Client, st Store, cfg config.AnthropicConfig, opts ...Option) *Extractor {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	e := &Extractor{ai: ai, store: st, cfg: cfg, maxChars: defaultMaxChars}
	for _, o := range opts {
		o(e)
	}
	return e
}

const systemPrompt = `You read restaurant and bar coverage and extract facts about one named place.
Reply with a single JSON object and nothing else:
{"name":"","address":"","neighborhood":"","phone":"","website":"","hours":"","description":"","confidence":0.0,"evidence":{"<field>":"<exact sentence from the article>"}}
Rules:
- Only fill a field the article states about this place. Leave the rest empty.
- Every filled field needs an evidence entry quoting the article verbatim.
- description is one sentence in your own words; its evidence is the sentence it summarizes.
- confidence is 0 to 1 for the whole answer.`

// Extract asks the model about placeID in a, keeps the claims backed by a
// verbatim quote, and stores them as one raw record linked to the place.
func (e *Extractor) Extract(ctx context.Context, placeID string, a Article) (*Result, error) {
	if strings.TrimSpace(a.Body) == "" {
		return nil, eris.New("extract: empty article")
	}
	place, err := e.store.GetPlace(ctx, placeID)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: place %s", placeID)
	}

	body := truncate(a.Body, e.maxChars)
	temp := 0.0
	resp, err := e.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		System:      systemPrompt,
		CacheSystem: true,
		Messages:    []anthropic.Message{{Role: "user", Content: userPrompt(place, a, body)}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "extract: place %s", placeID)
	}
	resp.Usage.LogCost(e.cfg.Model, "extract")

	var claim Claim
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text)), &claim); err != nil {
		return nil, eris.Wrapf(err, "extract: parse answer for place %s", placeID)
	}
	kept, dropped := verify(&claim, body)
	if len(kept) == 0 {
		return nil, eris.Wrapf(ErrNoClaims, "extract: place %s", placeID)
	}
	claim.Confidence = clamp01(claim.Confidence)

	res := &Result{PlaceID: placeID, Claim: claim, Kept: kept, Dropped: dropped, Usage: resp.Usage}
	if len(dropped) > 0 {
		zap.L().Info("extract: dropped unsupported claims",
			zap.String("place_id", placeID),
			zap.Strings("fields", dropped),
		)
	}
	if e.dryRun {
		return res, nil
	}

	raw, err := json.Marshal(rawDoc{Claim: claim, SourceURL: a.URL, Publication: a.Publication, Model: resp.Model})
	if err != nil {
		return nil, eris.Wrap(err, "extract: encode raw record")
	}
	rec := &model.RawRecord{
		PlaceID:    placeID,
		SourceName: SourceName,
		RawJSON:    raw,
		Lat:        place.Lat,
		Lng:        place.Lng,
	}
	if err := e.store.InsertRawRecord(ctx, rec); err != nil {
		return nil, eris.Wrapf(err, "extract: place %s", placeID)
	}
	conf := claim.Confidence
	if err := e.store.LinkRawRecord(ctx, rec.ID, placeID, MatchMethod, &conf); err != nil {
		return nil, eris.Wrapf(err, "extract: place %s", placeID)
	}
	res.RawID = rec.ID

	zap.L().Info("extract: stored claim",
		zap.String("place_id", placeID),
		zap.String("raw_id", rec.ID),
		zap.Strings("fields", kept),
		zap.Float64("confidence", conf),
	)
	return res, nil
}

type rawDoc struct {
	Claim
	SourceURL   string `json:"source_url,omitempty"`
	Publication string `json:"publication,omitempty"`
	Model       string `json:"model,omitempty"`
}

func userPrompt(p *model.Place, a Article, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Place: %s\n", p.Name)
	if p.Address != "" {
		fmt.Fprintf(&b, "Known address: %s\n", p.Address)
	}
	if p.City != "" {
		fmt.Fprintf(&b, "City: %s\n", p.City)
	}
	if a.Title != "" {
		fmt.Fprintf(&b, "Article title: %s\n", a.Title)
	}
	if a.Publication != "" {
		fmt.Fprintf(&b, "Publication: %s\n", a.Publication)
	}
	b.WriteString("\nArticle:\n")
	b.WriteString(body)
	return b.String()
}

// verify clears every field whose evidence is missing or not found in the
// article, and returns the kept and dropped field names in sorted order.
func verify(c *Claim, body string) (kept, dropped []string) {
	haystack := squash(body)
	evidence := make(map[string]string, len(c.Evidence))
	fs := c.fields()
	for _, name := range fieldOrder {
		v := fs[name]
		*v = strings.TrimSpace(*v)
		if *v == "" {
			continue
		}
		quote := squash(c.Evidence[name])
		if quote == "" || !strings.Contains(haystack, quote) {
			*v = ""
			dropped = append(dropped, name)
			continue
		}
		evidence[name] = c.Evidence[name]
		kept = append(kept, name)
	}
	c.Evidence = evidence
	return kept, dropped
}

var fieldOrder = []string{"address", "description", "hours", "name", "neighborhood", "phone", "website"}

// squash lowercases s and collapses whitespace and curly quotes so a quote
// survives the model re-flowing the text.
func squash(s string) string {
	s = strings.NewReplacer("’", "'", "‘", "'", "“", `"`, "”", `"`).Replace(s)
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// cleanJSON pulls a JSON object out of text that may be wrapped in markdown
// code fences or prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
