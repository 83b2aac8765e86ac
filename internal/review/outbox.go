package review

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/internal/resilience"
)

// OutboxKind tags review decisions in the outbox.
const OutboxKind = "review_decision"

// Decision is the outbox payload for one operator decision.
type Decision struct {
	QueueID  string         `json:"queue_id"`
	Decision model.Decision `json:"decision"`
	Notes    string         `json:"notes,omitempty"`
	Reviewer string         `json:"reviewer,omitempty"`
	At       time.Time      `json:"at"`
}

// Outbox is the durable queue decisions pass through.
type Outbox interface {
	Enqueue(ctx context.Context, e *resilience.OutboxEntry) error
	Due(ctx context.Context, now time.Time, limit int) ([]resilience.OutboxEntry, error)
	Update(ctx context.Context, e *resilience.OutboxEntry) error
	OpenKeys(ctx context.Context, kind string) (map[string]resilience.OutboxStatus, error)
	List(ctx context.Context, status resilience.OutboxStatus) ([]resilience.OutboxEntry, error)
	Requeue(ctx context.Context, id string) error
}

// WorkerConfig controls how decisions are delivered.
type WorkerConfig struct {
	// MaxAttempts is the delivery budget per decision before it is parked.
	MaxAttempts int
	Retry       resilience.RetryConfig
	Interval    time.Duration
	BatchSize   int
}

// DefaultWorkerConfig returns the production delivery settings.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		MaxAttempts: 8,
		Retry:       resilience.DefaultRetryConfig(),
		Interval:    5 * time.Second,
		BatchSize:   100,
	}
}

// DrainStats counts what one drain pass did.
type DrainStats struct {
	Delivered int `json:"delivered"`
	Retrying  int `json:"retrying"`
	Dead      int `json:"dead"`
}

// Worker drains review decisions from the outbox into the store.
type Worker struct {
	outbox Outbox
	svc    *Service
	cfg    WorkerConfig
	now    func() time.Time
}

// NewWorker creates a Worker.
func NewWorker(outbox Outbox, svc *Service, cfg WorkerConfig) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Worker{outbox: outbox, svc: svc, cfg: cfg, now: time.Now}
}

// Submit appends a decision to the outbox. Once Submit returns the decision
// survives a crash; delivery happens on the next drain.
func Submit(ctx context.Context, outbox Outbox, d Decision, maxAttempts int) error {
	if d.QueueID == "" {
		return eris.New("review: decision needs a queue id")
	}
	if _, err := model.ParseDecision(string(d.Decision)); err != nil {
		return eris.Wrap(ErrIllegalTransition, err.Error())
	}
	if d.At.IsZero() {
		d.At = time.Now().UTC()
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return eris.Wrap(err, "review: marshal decision")
	}
	err = outbox.Enqueue(ctx, &resilience.OutboxEntry{
		Kind:        OutboxKind,
		Key:         d.QueueID,
		Payload:     payload,
		MaxAttempts: maxAttempts,
	})
	return eris.Wrapf(err, "review: submit decision for %s", d.QueueID)
}

// Run drains on every interval until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.Drain(ctx); err != nil && ctx.Err() == nil {
			zap.L().Error("review: drain outbox", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Drain delivers every due decision once. Failures are rescheduled with
// backoff; permanent failures and exhausted entries are parked as dead.
func (w *Worker) Drain(ctx context.Context) (DrainStats, error) {
	var stats DrainStats
	entries, err := w.outbox.Due(ctx, w.now(), w.cfg.BatchSize)
	if err != nil {
		return stats, eris.Wrap(err, "review: load due decisions")
	}

	for i := range entries {
		if ctx.Err() != nil {
			break
		}
		e := &entries[i]
		log := zap.L().With(zap.String("outbox_id", e.ID), zap.String("queue_id", e.Key))

		if err := w.deliver(ctx, e); err != nil {
			e.RecordFailure(err, w.cfg.Retry, w.now())
			if e.Status == resilience.OutboxDead {
				stats.Dead++
				log.Error("review: decision parked", zap.Int("attempts", e.Attempts), zap.Error(err))
			} else {
				stats.Retrying++
				log.Warn("review: decision delivery failed", zap.Int("attempts", e.Attempts), zap.Time("next_attempt_at", e.NextAttemptAt), zap.Error(err))
			}
		} else {
			e.MarkDelivered(w.now())
			stats.Delivered++
		}

		if err := w.outbox.Update(ctx, e); err != nil {
			return stats, eris.Wrapf(err, "review: record delivery of %s", e.ID)
		}
	}
	return stats, nil
}

// Dead returns parked decisions for an operator to requeue.
func (w *Worker) Dead(ctx context.Context) ([]resilience.OutboxEntry, error) {
	entries, err := w.outbox.List(ctx, resilience.OutboxDead)
	return entries, eris.Wrap(err, "review: list dead decisions")
}

// Requeue gives a parked decision a fresh attempt budget.
func (w *Worker) Requeue(ctx context.Context, id string) error {
	return eris.Wrapf(w.outbox.Requeue(ctx, id), "review: requeue %s", id)
}

// deliver applies one decision. Store failures are retried; a decision the
// store rejects outright is permanent, unless the item already holds the
// same outcome from an earlier delivery whose bookkeeping was lost.
func (w *Worker) deliver(ctx context.Context, e *resilience.OutboxEntry) error {
	var d Decision
	if err := json.Unmarshal(e.Payload, &d); err != nil {
		return eris.Wrap(err, "review: decode decision")
	}

	err := w.svc.Apply(ctx, d)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, ErrIllegalTransition):
		if w.alreadyApplied(ctx, d) {
			return nil
		}
		return err
	case resilience.IsTransient(err):
		return err
	}
	return resilience.NewTransientError(err, 0)
}

func (w *Worker) alreadyApplied(ctx context.Context, d Decision) bool {
	// Deferring a closed item has nothing left to do.
	if d.Decision == model.DecisionSkip {
		return true
	}
	res, ok := d.Decision.Resolution()
	if !ok {
		return false
	}
	it, err := w.svc.store.GetReviewItem(ctx, d.QueueID)
	if err != nil {
		return false
	}
	return it.Status == model.ReviewResolved && it.Resolution == res
}
