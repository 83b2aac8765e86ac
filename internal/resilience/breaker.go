// Package resilience provides retry, circuit breaking, and outbox bookkeeping
// for calls that leave the process: the Places API and review persistence.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BreakerState is where a Breaker is in its cycle.
type BreakerState string

const (
	BreakerClosed BreakerState = "closed"
	BreakerOpen   BreakerState = "open"
	// BreakerProbing lets a single call through to test the service.
	BreakerProbing BreakerState = "probing"
)

// ErrBreakerOpen is returned without calling the service while the breaker
// is open, or while a probe is in flight.
var ErrBreakerOpen = eris.New("resilience: breaker open")

// BreakerConfig controls when a Breaker opens and how long it stays open.
type BreakerConfig struct {
	// Failures is the run of consecutive failures that opens the breaker.
	Failures int
	// Cooldown is how long an open breaker rejects calls before probing.
	Cooldown time.Duration
	// Counts selects the errors that count as failures. Nil counts all.
	// Context cancellation never counts.
	Counts   func(err error) bool
	OnChange func(from, to BreakerState)
}

// DefaultBreakerConfig opens after 5 failures and probes after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Failures: 5, Cooldown: 30 * time.Second}
}

// Breaker fails a batch fast once a service keeps failing, so the remaining
// records land in review as API errors instead of spending quota on retries.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
}

// NewBreaker creates a closed Breaker. Zero config values take the defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.Failures <= 0 {
		cfg.Failures = def.Failures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &Breaker{cfg: cfg, now: time.Now, state: BreakerClosed}
}

// Guard runs fn unless the breaker rejects the call, and records the result.
func Guard[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.acquire(); err != nil {
		return zero, err
	}
	v, err := fn(ctx)
	b.record(err)
	return v, err
}

// State reports the breaker's state. An open breaker whose cooldown has
// passed reports probing, since the next call will be let through.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.cooled() {
		return BreakerProbing
	}
	return b.state
}

func (b *Breaker) cooled() bool {
	return b.now().Sub(b.openedAt) >= b.cfg.Cooldown
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if !b.cooled() {
			return ErrBreakerOpen
		}
		b.set(BreakerProbing)
		return nil
	}
	return ErrBreakerOpen
}

func (b *Breaker) record(err error) {
	failed := err != nil && !errors.Is(err, context.Canceled) &&
		(b.cfg.Counts == nil || b.cfg.Counts(err))

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerProbing:
		if failed {
			b.open()
			return
		}
		b.failures = 0
		b.set(BreakerClosed)
	case BreakerClosed:
		if !failed {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.Failures {
			b.open()
		}
	}
}

func (b *Breaker) open() {
	b.openedAt = b.now()
	b.set(BreakerOpen)
}

func (b *Breaker) set(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	zap.L().Debug("resilience: breaker state change",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	if b.cfg.OnChange != nil {
		b.cfg.OnChange(from, to)
	}
}
