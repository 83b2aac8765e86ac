package resolver

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/model"
)

// Options scopes one resolver batch.
type Options struct {
	Region       string
	Neighborhood string
	// IDs resolves exactly these places, including ones that already carry
	// a GPID. Without IDs only places missing a GPID are listed.
	IDs    []string
	Limit  int
	DryRun bool
}

// RunStats summarizes a batch.
type RunStats struct {
	RunID     string        `json:"run_id"`
	Scanned   int           `json:"scanned"`
	Matched   int           `json:"matched"`
	Ambiguous int           `json:"ambiguous"`
	NoMatch   int           `json:"no_match"`
	Errored   int           `json:"errored"`
	Applied   int           `json:"applied"`
	Enqueued  int           `json:"enqueued"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Run resolves every place in scope one at a time, so Places calls stay
// serialized behind the client's pacing. Matches are applied and every other
// outcome is enqueued for review, unless DryRun. Cancellation stops issuing
// new places; the place in flight when it happens is dropped.
func (r *Resolver) Run(ctx context.Context, opts Options) (*RunStats, []Outcome, error) {
	start := time.Now()
	stats := &RunStats{RunID: uuid.New().String()}
	log := zap.L().With(
		zap.String("job", "gpid_resolve"),
		zap.String("run_id", stats.RunID),
		zap.Bool("dry_run", opts.DryRun),
	)

	places, err := r.store.ListPlaces(ctx, model.PlaceFilter{
		IDs:          opts.IDs,
		Region:       opts.Region,
		Neighborhood: opts.Neighborhood,
		MissingGPID:  len(opts.IDs) == 0,
		Limit:        opts.Limit,
	})
	if err != nil {
		return nil, nil, eris.Wrap(err, "resolver: list places")
	}
	log.Info("resolver: places in scope", zap.Int("count", len(places)))

	outcomes := make([]Outcome, 0, len(places))
	for i := range places {
		if ctx.Err() != nil {
			break
		}
		p := &places[i]

		out := r.Resolve(ctx, p)
		if ctx.Err() != nil {
			break
		}
		stats.Scanned++
		stats.count(out.Status)

		fields := []zap.Field{
			zap.String("place_id", p.ID),
			zap.String("status", string(out.Status)),
			zap.String("reason", out.Reason),
		}
		if out.Err != nil {
			fields = append(fields, zap.Error(out.Err))
		}
		log.Info("resolver: resolved", fields...)

		if !opts.DryRun {
			r.persist(ctx, p, &out, stats)
		}
		outcomes = append(outcomes, out)
	}

	stats.Duration = time.Since(start)
	log.Info("resolver: run complete",
		zap.Int("scanned", stats.Scanned),
		zap.Int("matched", stats.Matched),
		zap.Int("ambiguous", stats.Ambiguous),
		zap.Int("no_match", stats.NoMatch),
		zap.Int("errored", stats.Errored),
		zap.Int("failed", stats.Failed),
		zap.Duration("duration", stats.Duration),
	)
	if err := ctx.Err(); err != nil {
		return stats, outcomes, eris.Wrap(err, "resolver: run cancelled")
	}
	return stats, outcomes, nil
}

func (s *RunStats) count(st model.ResolverStatus) {
	switch st {
	case model.ResolverMatch:
		s.Matched++
	case model.ResolverAmbiguous:
		s.Ambiguous++
	case model.ResolverNoMatch:
		s.NoMatch++
	case model.ResolverError:
		s.Errored++
	}
}

// persist applies a match or enqueues anything else. A failed write is
// counted and logged; the batch continues.
func (r *Resolver) persist(ctx context.Context, p *model.Place, out *Outcome, stats *RunStats) {
	log := zap.L().With(zap.String("place_id", p.ID))

	if out.Status == model.ResolverMatch {
		if out.Reason == model.ReasonExistingGPID {
			return
		}
		// Google's coordinates only fill a gap; they never replace ours.
		var lat, lng *float64
		if !p.HasLatLng() {
			lat, lng = out.Lat, out.Lng
		}
		if err := r.store.ApplyGPID(ctx, p.ID, out.GPID, lat, lng); err != nil {
			log.Error("resolver: apply gpid", zap.String("gpid", out.GPID), zap.Error(err))
			stats.Failed++
			return
		}
		stats.Applied++
		return
	}

	item := &model.GpidQueueItem{
		PlaceID:         p.ID,
		CandidateGPID:   out.BestCandidate(),
		ResolverStatus:  out.Status,
		ReasonCode:      out.Reason,
		SimilarityScore: out.Similarity,
		Candidates:      out.Candidates,
		RunID:           stats.RunID,
	}
	if err := r.store.EnqueueGpid(ctx, item); err != nil {
		log.Error("resolver: enqueue for review", zap.Error(err))
		stats.Failed++
		return
	}
	stats.Enqueued++
}
