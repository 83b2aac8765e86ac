package review

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/model"
)

var (
	// ErrNotFound is returned for an unknown queue id.
	ErrNotFound = eris.New("review: item not found")
	// ErrIllegalTransition is returned when an item is no longer open, or a
	// decision has no valid target state.
	ErrIllegalTransition = eris.New("review: illegal transition")
)

// Store is the persistence the review service needs.
type Store interface {
	CreateReviewItem(ctx context.Context, it *model.DuplicateReviewItem) error
	ListReviewItems(ctx context.Context, f model.ReviewFilter) ([]model.DuplicateReviewItem, int, error)
	GetReviewItem(ctx context.Context, id string) (*model.DuplicateReviewItem, error)
	ResolveReviewItem(ctx context.Context, d model.ReviewDecision) error
	DeferReviewItem(ctx context.Context, id string) error
	ReviewStats(ctx context.Context) (model.ReviewStats, error)
}

// Item is a queue item with its evidence.
type Item struct {
	model.DuplicateReviewItem
	Evidence Evidence `json:"evidence"`
}

// Pagination describes the page a listing returned.
type Pagination struct {
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// Page is one listing of the queue.
type Page struct {
	Items      []Item            `json:"items"`
	Pagination Pagination        `json:"pagination"`
	Stats      model.ReviewStats `json:"stats"`
}

// Service reads and writes the duplicate review queue.
type Service struct {
	store Store
}

// NewService creates a Service.
func NewService(st Store) *Service {
	return &Service{store: st}
}

// Create queues a candidate duplicate pair from an upstream detector. Fields
// that conflict are filled in from the evidence when the detector left them
// empty.
func (s *Service) Create(ctx context.Context, it *model.DuplicateReviewItem) error {
	if it.RecordA == nil || it.RecordA.RawID == "" {
		return eris.New("review: item needs record a")
	}
	if it.ConflictType == "" {
		it.ConflictType = model.ConflictPotentialDuplicate
	}
	if len(it.ConflictingFields) == 0 && it.RecordB != nil {
		it.ConflictingFields = Compare(it.RecordA, it.RecordB).Conflicts()
	}
	if err := s.store.CreateReviewItem(ctx, it); err != nil {
		return eris.Wrap(err, "review: create")
	}
	return nil
}

// List returns one page of open items, highest priority first, each with its
// evidence.
func (s *Service) List(ctx context.Context, f model.ReviewFilter) (*Page, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	rows, total, err := s.store.ListReviewItems(ctx, f)
	if err != nil {
		return nil, eris.Wrap(err, "review: list")
	}
	stats, err := s.store.ReviewStats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "review: stats")
	}

	items := make([]Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, Item{DuplicateReviewItem: r, Evidence: Compare(r.RecordA, r.RecordB)})
	}
	return &Page{
		Items:      items,
		Pagination: Pagination{Total: total, Offset: f.Offset, Limit: f.Limit},
		Stats:      stats,
	}, nil
}

// Get returns one item with its evidence.
func (s *Service) Get(ctx context.Context, id string) (*Item, error) {
	it, err := s.store.GetReviewItem(ctx, id)
	if err != nil {
		return nil, mapErr(err, "review: get "+id)
	}
	return &Item{DuplicateReviewItem: *it, Evidence: Compare(it.RecordA, it.RecordB)}, nil
}

// Resolve records a final resolution for an open item in one conditional
// update.
func (s *Service) Resolve(ctx context.Context, d model.ReviewDecision) error {
	if _, err := model.ParseResolution(string(d.Resolution)); err != nil {
		return eris.Wrap(ErrIllegalTransition, err.Error())
	}
	if err := s.store.ResolveReviewItem(ctx, d); err != nil {
		return mapErr(err, "review: resolve "+d.QueueID)
	}
	zap.L().Info("review: resolved",
		zap.String("queue_id", d.QueueID),
		zap.String("resolution", string(d.Resolution)),
		zap.String("reviewer", d.Reviewer),
	)
	return nil
}

// Skip returns an open item to the pool as deferred with raised priority.
func (s *Service) Skip(ctx context.Context, id string) error {
	if err := s.store.DeferReviewItem(ctx, id); err != nil {
		return mapErr(err, "review: skip "+id)
	}
	return nil
}

// Apply persists one operator decision.
func (s *Service) Apply(ctx context.Context, d Decision) error {
	if d.Decision == model.DecisionSkip {
		return s.Skip(ctx, d.QueueID)
	}
	res, ok := d.Decision.Resolution()
	if !ok {
		return eris.Wrapf(ErrIllegalTransition, "review: decision %q", d.Decision)
	}
	return s.Resolve(ctx, model.ReviewDecision{
		QueueID:    d.QueueID,
		Resolution: res,
		Notes:      d.Notes,
		Reviewer:   d.Reviewer,
	})
}

func mapErr(err error, msg string) error {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return eris.Wrap(ErrNotFound, msg)
	case errors.Is(err, model.ErrStateChanged):
		return eris.Wrap(ErrIllegalTransition, msg)
	}
	return eris.Wrap(err, msg)
}
