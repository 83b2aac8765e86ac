// Package store persists canonical places, raw records, the GPID review
// queue and the duplicate review queue in Postgres, and the review decision
// outbox in SQLite.
package store

import (
	"context"
	"time"

	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/internal/resilience"
)

// Store defines the persistence interface shared by the batch jobs and the
// review services.
type Store interface {
	// Places
	ListPlaces(ctx context.Context, f model.PlaceFilter) ([]model.Place, error)
	GetPlace(ctx context.Context, id string) (*model.Place, error)
	UpdateConfidence(ctx context.Context, placeID string, m model.ConfidenceMap, overall float64) error
	ApplyGPID(ctx context.Context, placeID, gpid string, lat, lng *float64) error
	KnownLocationForGPID(ctx context.Context, gpid string) (lat, lng float64, ok bool, err error)

	// Raw records
	RawRecordsForPlace(ctx context.Context, placeID string) ([]model.RawRecord, error)
	InsertRawRecord(ctx context.Context, r *model.RawRecord) error
	LinkRawRecord(ctx context.Context, rawID, placeID, method string, confidence *float64) error

	// Sources
	TrustTiers(ctx context.Context) (map[string]float64, error)
	SyncSources(ctx context.Context, tiers map[string]float64) (int64, error)

	// GPID queue
	EnqueueGpid(ctx context.Context, it *model.GpidQueueItem) error
	ListGpidQueue(ctx context.Context, f model.GpidQueueFilter) ([]model.GpidQueueItem, int, error)
	GpidQueueStats(ctx context.Context) (model.GpidQueueStats, error)
	GetGpidQueueItem(ctx context.Context, id string) (*model.GpidQueueItem, error)
	DecideGpid(ctx context.Context, id string, d model.GpidDecision) error

	// Duplicate review queue
	CreateReviewItem(ctx context.Context, it *model.DuplicateReviewItem) error
	ListReviewItems(ctx context.Context, f model.ReviewFilter) ([]model.DuplicateReviewItem, int, error)
	GetReviewItem(ctx context.Context, id string) (*model.DuplicateReviewItem, error)
	ResolveReviewItem(ctx context.Context, d model.ReviewDecision) error
	DeferReviewItem(ctx context.Context, id string) error
	ReviewStats(ctx context.Context) (model.ReviewStats, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Outbox is a durable queue of work to apply to the Store.
type Outbox interface {
	Enqueue(ctx context.Context, e *resilience.OutboxEntry) error
	Due(ctx context.Context, now time.Time, limit int) ([]resilience.OutboxEntry, error)
	Update(ctx context.Context, e *resilience.OutboxEntry) error
	OpenKeys(ctx context.Context, kind string) (map[string]resilience.OutboxStatus, error)
	List(ctx context.Context, status resilience.OutboxStatus) ([]resilience.OutboxEntry, error)
	Requeue(ctx context.Context, id string) error
	Migrate(ctx context.Context) error
	Close() error
}

var (
	_ Store  = (*PostgresStore)(nil)
	_ Outbox = (*SQLiteOutbox)(nil)
)
