package fusion

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/place-resolver/internal/confidence"
	"github.com/sells-group/place-resolver/internal/model"
)

// Store is the persistence the pipeline needs.
type Store interface {
	ListPlaces(ctx context.Context, f model.PlaceFilter) ([]model.Place, error)
	RawRecordsForPlace(ctx context.Context, placeID string) ([]model.RawRecord, error)
	UpdateConfidence(ctx context.Context, placeID string, m model.ConfidenceMap, overall float64) error
}

// Options scopes one backfill run.
type Options struct {
	Region       string
	Neighborhood string
	IDs          []string
	Limit        int
	// Force recomputes places whose confidence is already fresh.
	Force bool
	// DryRun computes and logs without writing.
	DryRun bool
}

// RunStats summarizes a run. In a dry run Updated counts the places that
// would have been written.
type RunStats struct {
	Scanned  int           `json:"scanned"`
	Updated  int           `json:"updated"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Pipeline recomputes and persists confidence for canonical places.
type Pipeline struct {
	store        Store
	extractor    *Extractor
	cfg          confidence.Config
	manualSource string
	concurrency  int
}

// NewPipeline creates a Pipeline. concurrency below 1 runs serially.
func NewPipeline(st Store, ex *Extractor, cfg confidence.Config, manualSource string, concurrency int) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	if !ex.Registry().Known(manualSource) {
		zap.L().Warn("fusion: manual source has no trust tier; places without raw records will score no fields",
			zap.String("manual_source", manualSource))
	}
	return &Pipeline{
		store:        st,
		extractor:    ex,
		cfg:          cfg,
		manualSource: manualSource,
		concurrency:  concurrency,
	}
}

// Run processes every place in scope. A failure on one place is logged and
// counted; it never stops the run. Cancellation stops issuing new places.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*RunStats, error) {
	start := time.Now()
	log := zap.L().With(zap.String("job", "confidence_backfill"), zap.Bool("dry_run", opts.DryRun))

	places, err := p.store.ListPlaces(ctx, model.PlaceFilter{
		IDs:          opts.IDs,
		Region:       opts.Region,
		Neighborhood: opts.Neighborhood,
		StaleOnly:    !opts.Force,
		Limit:        opts.Limit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "fusion: list places")
	}
	log.Info("fusion: places in scope", zap.Int("count", len(places)))

	var (
		mu    sync.Mutex
		stats RunStats
	)
	count := func(fn func(s *RunStats)) {
		mu.Lock()
		fn(&stats)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i := range places {
		if gctx.Err() != nil {
			break
		}
		place := &places[i]
		g.Go(func() error {
			count(func(s *RunStats) { s.Scanned++ })

			updated, err := p.processPlace(gctx, place, opts.DryRun)
			switch {
			case err != nil:
				log.Warn("fusion: place failed", zap.String("place_id", place.ID), zap.Error(err))
				count(func(s *RunStats) { s.Failed++ })
			case updated:
				count(func(s *RunStats) { s.Updated++ })
			default:
				count(func(s *RunStats) { s.Skipped++ })
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Duration = time.Since(start)
	log.Info("fusion: run complete",
		zap.Int("scanned", stats.Scanned),
		zap.Int("updated", stats.Updated),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Duration("duration", stats.Duration),
	)
	if err := ctx.Err(); err != nil {
		return &stats, eris.Wrap(err, "fusion: run cancelled")
	}
	return &stats, nil
}

// processPlace reports whether the place was (or in a dry run would be)
// written. Fresh places whose result is unchanged are skipped.
func (p *Pipeline) processPlace(ctx context.Context, place *model.Place, dryRun bool) (bool, error) {
	raws, err := p.store.RawRecordsForPlace(ctx, place.ID)
	if err != nil {
		return false, err
	}

	m, overall := ComputePlace(place, raws, p.extractor, p.cfg, p.manualSource)

	fresh := place.ConfidenceUpdatedAt != nil && !place.ConfidenceUpdatedAt.Before(place.UpdatedAt)
	if fresh && unchanged(place, m, overall) {
		return false, nil
	}

	if dryRun {
		zap.L().Info("fusion: dry run",
			zap.String("place_id", place.ID),
			zap.Int("fields", len(m)),
			zap.Float64("overall", overall),
		)
		return true, nil
	}
	if err := p.store.UpdateConfidence(ctx, place.ID, m, overall); err != nil {
		return false, err
	}
	return true, nil
}

func unchanged(place *model.Place, m model.ConfidenceMap, overall float64) bool {
	if place.OverallConfidence == nil || math.Abs(*place.OverallConfidence-overall) > 1e-9 {
		return false
	}
	prev, err := json.Marshal(place.Confidence)
	if err != nil {
		return false
	}
	next, err := json.Marshal(m)
	if err != nil {
		return false
	}
	return string(prev) == string(next)
}
