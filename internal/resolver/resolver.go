// Package resolver attaches Google place ids (GPIDs) to canonical places.
// It only matches on strong textual or geographic evidence; everything else
// is escalated to the GPID review queue.
package resolver

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/geo"
	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/internal/resilience"
	"github.com/sells-group/place-resolver/pkg/google"
)

// Store is the persistence the resolver needs.
type Store interface {
	ListPlaces(ctx context.Context, f model.PlaceFilter) ([]model.Place, error)
	RawRecordsForPlace(ctx context.Context, placeID string) ([]model.RawRecord, error)
	KnownLocationForGPID(ctx context.Context, gpid string) (lat, lng float64, ok bool, err error)
	ApplyGPID(ctx context.Context, placeID, gpid string, lat, lng *float64) error
	EnqueueGpid(ctx context.Context, it *model.GpidQueueItem) error
}

// Outcome is the terminal result of resolving one place.
type Outcome struct {
	PlaceID    string                `json:"place_id"`
	PlaceName  string                `json:"place_name"`
	Status     model.ResolverStatus  `json:"status"`
	Reason     string                `json:"reason"`
	GPID       string                `json:"gpid,omitempty"`
	Similarity *float64              `json:"similarity,omitempty"`
	Lat        *float64              `json:"lat,omitempty"`
	Lng        *float64              `json:"lng,omitempty"`
	Candidates []model.GpidCandidate `json:"candidates,omitempty"`
	Nearby     int                   `json:"nearby_results"`
	Text       int                   `json:"text_results"`
	Err        error                 `json:"-"`
}

// BestCandidate returns the GPID of the most similar candidate, or "".
func (o *Outcome) BestCandidate() string {
	best, id := -1.0, ""
	for _, c := range o.Candidates {
		if c.GooglePlaceID != "" && c.Similarity > best {
			best, id = c.Similarity, c.GooglePlaceID
		}
	}
	return id
}

func (o *Outcome) bestSimilarity() *float64 {
	if len(o.Candidates) == 0 {
		return nil
	}
	best := 0.0
	for _, c := range o.Candidates {
		if c.Similarity > best {
			best = c.Similarity
		}
	}
	return &best
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithBreaker routes every Places call through b so a failing API fails
// the rest of the batch fast instead of retrying each record.
func WithBreaker(b *resilience.Breaker) Option {
	return func(r *Resolver) {
		r.breaker = b
	}
}

// Resolver runs the GPID state machine for canonical places.
type Resolver struct {
	client  google.Client
	store   Store
	cfg     Config
	breaker *resilience.Breaker
}

// New creates a Resolver.
func New(client google.Client, st Store, cfg Config, opts ...Option) *Resolver {
	r := &Resolver{client: client, store: st, cfg: cfg}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve takes one place to MATCH, AMBIGUOUS, NO_MATCH or ERROR. It never
// writes; Run applies or enqueues the outcome.
func (r *Resolver) Resolve(ctx context.Context, p *model.Place) Outcome {
	out := Outcome{PlaceID: p.ID, PlaceName: p.Name}

	if trustworthyGPID(p.GooglePlaceID) {
		out.GPID = strings.TrimSpace(p.GooglePlaceID)
		out.Status, out.Reason = model.ResolverMatch, model.ReasonExistingGPID
		return out
	}

	name := cleanName(p.Name)
	if name == "" {
		out.Status, out.Reason = model.ResolverNoMatch, model.ReasonMissingName
		return out
	}

	ref, hasRef := r.referencePoint(ctx, p)

	if hasRef {
		results, err := call(ctx, r, "search_nearby", func(ctx context.Context) ([]google.Place, error) {
			return r.client.SearchNearby(ctx, google.NearbySearchRequest{
				Center:     ref,
				RadiusM:    r.cfg.NearbyRadiusM,
				MaxResults: r.cfg.MaxResults,
			})
		})
		if err != nil {
			out.Status, out.Reason, out.Err = model.ResolverError, model.ReasonNearbyAPIError, err
			return out
		}
		out.Nearby = len(results)
		if i, ok := r.strongNearby(name, ref, results); ok {
			out.match(name, results[i], model.ReasonNearbyStrongMatch)
			return out
		}
	}

	results, err := call(ctx, r, "search_text", func(ctx context.Context) ([]google.Place, error) {
		return r.client.SearchText(ctx, google.TextSearchRequest{
			Query:       r.textQuery(name, p),
			MaxResults:  r.cfg.MaxResults,
			Bias:        &r.cfg.Centroid,
			BiasRadiusM: r.cfg.BiasRadiusM,
		})
	})
	if err != nil {
		out.Status, out.Reason, out.Err = model.ResolverError, model.ReasonTextAPIError, err
		return out
	}
	out.Text = len(results)
	out.Candidates = r.candidates(name, results)

	switch len(results) {
	case 0:
		out.Status, out.Reason = model.ResolverNoMatch, model.ReasonTextZeroResults
		return out
	case 1:
		if Similarity(name, results[0].DisplayName.Text) >= r.cfg.NameSimilarity {
			out.match(name, results[0], model.ReasonTextSingleHighSim)
			return out
		}
		out.Status, out.Reason = model.ResolverAmbiguous, model.ReasonTextSingleLowSim
		out.Similarity = out.bestSimilarity()
		return out
	}

	i, reason, err := r.tieBreak(ctx, p, ref, hasRef, results, out.Candidates)
	if err != nil {
		out.Status, out.Reason, out.Err = model.ResolverError, model.ReasonDetailsAPIError, err
		out.Similarity = out.bestSimilarity()
		return out
	}
	if i >= 0 {
		out.match(name, results[i], reason)
		return out
	}
	out.Status, out.Reason = model.ResolverAmbiguous, model.ReasonTextMultiResults
	out.Similarity = out.bestSimilarity()
	return out
}

func (o *Outcome) match(name string, res google.Place, reason string) {
	sim := Similarity(name, res.DisplayName.Text)
	o.Status, o.Reason = model.ResolverMatch, reason
	o.GPID = res.ID
	o.Similarity = &sim
	if res.Location != nil {
		lat, lng := res.Location.Latitude, res.Location.Longitude
		o.Lat, o.Lng = &lat, &lng
	}
}

// trustworthyGPID treats an existing id as settled when it looks like a
// real Places id.
func trustworthyGPID(gpid string) bool {
	return len(strings.TrimSpace(gpid)) >= MinGPIDLength
}

// referencePoint resolves the best-known coordinates: the place's own, then
// a linked raw record's, then any location previously seen for a GPID the
// place or its raw records carry.
func (r *Resolver) referencePoint(ctx context.Context, p *model.Place) (google.LatLng, bool) {
	if p.HasLatLng() {
		return google.LatLng{Latitude: *p.Lat, Longitude: *p.Lng}, true
	}

	log := zap.L().With(zap.String("place_id", p.ID))

	raws, err := r.store.RawRecordsForPlace(ctx, p.ID)
	if err != nil {
		log.Warn("resolver: load raw records", zap.Error(err))
	}
	for i := range raws {
		if raws[i].HasLatLng() {
			return google.LatLng{Latitude: *raws[i].Lat, Longitude: *raws[i].Lng}, true
		}
	}

	for _, gpid := range knownGPIDs(p, raws) {
		lat, lng, ok, err := r.store.KnownLocationForGPID(ctx, gpid)
		if err != nil {
			log.Warn("resolver: known location lookup", zap.String("gpid", gpid), zap.Error(err))
			continue
		}
		if ok {
			return google.LatLng{Latitude: lat, Longitude: lng}, true
		}
	}
	return google.LatLng{}, false
}

func knownGPIDs(p *model.Place, raws []model.RawRecord) []string {
	var ids []string
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		for _, x := range ids {
			if x == id {
				return
			}
		}
		ids = append(ids, id)
	}

	add(p.GooglePlaceID)
	for _, raw := range raws {
		var doc struct {
			GooglePlaceID string `json:"google_place_id"`
			PlaceID       string `json:"place_id"`
		}
		if err := json.Unmarshal(raw.RawJSON, &doc); err != nil {
			continue
		}
		add(doc.GooglePlaceID)
		add(doc.PlaceID)
	}
	return ids
}

// strongNearby returns the single nearby result that is both similar enough
// by name and inside the radius.
func (r *Resolver) strongNearby(name string, ref google.LatLng, results []google.Place) (int, bool) {
	found := -1
	for i, res := range results {
		if res.Location == nil || res.ID == "" {
			continue
		}
		if Similarity(name, res.DisplayName.Text) < r.cfg.NameSimilarity {
			continue
		}
		d := geo.Haversine(ref.Latitude, ref.Longitude, res.Location.Latitude, res.Location.Longitude)
		if d > r.cfg.NearbyRadiusM {
			continue
		}
		if found >= 0 {
			return -1, false
		}
		found = i
	}
	return found, found >= 0
}

func (r *Resolver) textQuery(name string, p *model.Place) string {
	city := p.City
	if city == "" {
		city = r.cfg.City
	}
	parts := []string{name}
	for _, s := range []string{p.Neighborhood, city} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func (r *Resolver) candidates(name string, results []google.Place) []model.GpidCandidate {
	n := len(results)
	if r.cfg.MaxCandidates > 0 && n > r.cfg.MaxCandidates {
		n = r.cfg.MaxCandidates
	}
	out := make([]model.GpidCandidate, 0, n)
	for _, res := range results[:n] {
		c := model.GpidCandidate{
			GooglePlaceID:    res.ID,
			Name:             res.DisplayName.Text,
			FormattedAddress: res.FormattedAddress,
			Types:            res.Types,
			BusinessStatus:   res.BusinessStatus,
			Website:          res.WebsiteURI,
			Similarity:       Similarity(name, res.DisplayName.Text),
		}
		if res.Location != nil {
			lat, lng := res.Location.Latitude, res.Location.Longitude
			c.Lat, c.Lng = &lat, &lng
		}
		out = append(out, c)
	}
	return out
}

// call runs one Places request with bounded retries and a per-attempt
// timeout, through the circuit breaker when one is configured.
func call[T any](ctx context.Context, r *Resolver, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	retry := r.cfg.Retry
	retry.AttemptTimeout = r.cfg.CallTimeout
	retry.OnRetry = resilience.RetryLogger("google_places", op)

	return resilience.DoVal(ctx, retry, func(ctx context.Context) (T, error) {
		if r.breaker == nil {
			return fn(ctx)
		}
		return resilience.Guard(ctx, r.breaker, fn)
	})
}
