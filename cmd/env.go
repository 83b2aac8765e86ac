package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gofrs/flock"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/place-resolver/internal/store"
	"github.com/sells-group/place-resolver/internal/trust"
	"github.com/sells-group/place-resolver/pkg/google"
)

// initStore validates mode and connects to Postgres. Callers close the
// store.
func initStore(ctx context.Context, mode string) (*store.PostgresStore, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
}

// initOutbox opens and migrates the review decision outbox.
func initOutbox(ctx context.Context) (*store.SQLiteOutbox, error) {
	o, err := store.NewSQLiteOutbox(cfg.Store.OutboxPath)
	if err != nil {
		return nil, err
	}
	if err := o.Migrate(ctx); err != nil {
		_ = o.Close()
		return nil, eris.Wrap(err, "migrate outbox")
	}
	return o, nil
}

// loadRegistry reads the source registry from file, or the built-in one.
func loadRegistry() (*trust.Registry, error) {
	if cfg.Confidence.SourcesFile == "" {
		return trust.Default(), nil
	}
	return trust.LoadFile(cfg.Confidence.SourcesFile)
}

// initRegistry loads the registry and overlays the tiers stored in the
// sources table.
func initRegistry(ctx context.Context, st *store.PostgresStore) (*trust.Registry, error) {
	reg, err := loadRegistry()
	if err != nil {
		return nil, err
	}

	tiers, err := st.TrustTiers(ctx)
	if err != nil {
		return nil, err
	}
	if len(tiers) == 0 {
		zap.L().Warn("sources table is empty; using registry tiers only")
		return reg, nil
	}
	return reg.WithTiers(tiers)
}

// initGoogle builds the Places client. A positive inter-call delay paces
// calls; otherwise google.rate_per_sec does.
func initGoogle() google.Client {
	limit := rate.Limit(cfg.Google.RatePerSec)
	if cfg.Resolver.InterCallDelayMs > 0 {
		limit = rate.Every(time.Duration(cfg.Resolver.InterCallDelayMs) * time.Millisecond)
	}
	timeout := time.Duration(cfg.Google.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts := []google.Option{
		google.WithHTTPClient(&http.Client{Timeout: timeout}),
		google.WithRateLimit(limit),
	}
	if cfg.Google.BaseURL != "" {
		opts = append(opts, google.WithBaseURL(cfg.Google.BaseURL))
	}
	return google.NewClient(cfg.Google.Key, opts...)
}

// acquireBatchLock keeps one batch job per host. The returned func
// releases the lock.
func acquireBatchLock(path string) (func(), error) {
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, eris.Wrapf(err, "acquire lock %s", path)
	}
	if !ok {
		return nil, eris.Errorf("another batch job holds %s", path)
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			zap.L().Warn("release batch lock", zap.String("path", path), zap.Error(err))
		}
	}, nil
}
