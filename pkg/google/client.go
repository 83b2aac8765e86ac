package google

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/place-resolver/internal/resilience"
)

const defaultBaseURL = "https://places.googleapis.com/v1"

const (
	searchFieldMask  = "places.id,places.displayName,places.formattedAddress,places.location,places.websiteUri,places.types,places.businessStatus"
	detailsFieldMask = "id,displayName,formattedAddress,location,websiteUri,nationalPhoneNumber,types,businessStatus"
)

// Client performs Google Places API (New) operations.
type Client interface {
	SearchText(ctx context.Context, req TextSearchRequest) ([]Place, error)
	SearchNearby(ctx context.Context, req NearbySearchRequest) ([]Place, error)
	GetDetails(ctx context.Context, placeID string) (*Place, error)
}

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Place represents a place returned by the API.
type Place struct {
	ID                  string      `json:"id"`
	DisplayName         DisplayName `json:"displayName"`
	FormattedAddress    string      `json:"formattedAddress,omitempty"`
	Location            *LatLng     `json:"location,omitempty"`
	WebsiteURI          string      `json:"websiteUri,omitempty"`
	NationalPhoneNumber string      `json:"nationalPhoneNumber,omitempty"`
	Types               []string    `json:"types,omitempty"`
	BusinessStatus      string      `json:"businessStatus,omitempty"`
}

// DisplayName holds the place's display name.
type DisplayName struct {
	Text string `json:"text"`
}

// TextSearchRequest is a free-text query, optionally biased toward a circle.
type TextSearchRequest struct {
	Query      string
	MaxResults int
	Bias       *LatLng
	// BiasRadiusM is ignored without Bias.
	BiasRadiusM float64
}

// NearbySearchRequest restricts results to a circle around Center.
type NearbySearchRequest struct {
	Center     LatLng
	RadiusM    float64
	MaxResults int
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit paces calls to at most r per second with no burst, which
// serializes callers behind a fixed inter-call delay. Zero disables pacing.
func WithRateLimit(r rate.Limit) Option {
	return func(c *httpClient) {
		if r <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(r, 1)
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a Google Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type circle struct {
	Center LatLng  `json:"center"`
	Radius float64 `json:"radius"`
}

type area struct {
	Circle circle `json:"circle"`
}

type textSearchBody struct {
	TextQuery      string `json:"textQuery"`
	MaxResultCount int    `json:"maxResultCount,omitempty"`
	LocationBias   *area  `json:"locationBias,omitempty"`
}

type nearbySearchBody struct {
	MaxResultCount      int  `json:"maxResultCount,omitempty"`
	LocationRestriction area `json:"locationRestriction"`
}

type searchResponse struct {
	Places []Place `json:"places"`
}

func (c *httpClient) SearchText(ctx context.Context, req TextSearchRequest) ([]Place, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, eris.New("google: empty text query")
	}
	body := textSearchBody{TextQuery: req.Query, MaxResultCount: req.MaxResults}
	if req.Bias != nil {
		body.LocationBias = &area{Circle: circle{Center: *req.Bias, Radius: req.BiasRadiusM}}
	}

	var resp searchResponse
	if err := c.do(ctx, http.MethodPost, "/places:searchText", searchFieldMask, body, &resp); err != nil {
		return nil, err
	}
	return resp.Places, nil
}

func (c *httpClient) SearchNearby(ctx context.Context, req NearbySearchRequest) ([]Place, error) {
	body := nearbySearchBody{
		MaxResultCount:      req.MaxResults,
		LocationRestriction: area{Circle: circle{Center: req.Center, Radius: req.RadiusM}},
	}

	var resp searchResponse
	if err := c.do(ctx, http.MethodPost, "/places:searchNearby", searchFieldMask, body, &resp); err != nil {
		return nil, err
	}
	return resp.Places, nil
}

func (c *httpClient) GetDetails(ctx context.Context, placeID string) (*Place, error) {
	if placeID == "" {
		return nil, eris.New("google: empty place id")
	}

	var p Place
	if err := c.do(ctx, http.MethodGet, "/places/"+url.PathEscape(placeID), detailsFieldMask, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// do sends one paced request. 429 and 5xx responses come back as
// resilience.TransientError carrying the status code.
func (c *httpClient) do(ctx context.Context, method, path, fieldMask string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "google: rate limit wait")
		}
	}

	var reader io.Reader
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return eris.Wrap(err, "google: marshal request")
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return eris.Wrap(err, "google: create request")
	}

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "google: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "google: read response")
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := eris.Errorf("google: unexpected status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return statusErr
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "google: unmarshal response")
	}
	return nil
}
