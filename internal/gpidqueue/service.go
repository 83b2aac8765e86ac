// Package gpidqueue is the human-in-the-loop workflow for resolver outcomes
// that could not be matched automatically.
package gpidqueue

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/internal/resolver"
)

const defaultLimit = 50

var (
	// ErrNotFound is returned for an unknown queue id.
	ErrNotFound = eris.New("gpidqueue: item not found")
	// ErrAlreadyResolved is returned when the item is no longer pending.
	ErrAlreadyResolved = eris.New("gpidqueue: item already resolved")
	// ErrInvalidGPID is returned when an approval has no plausible GPID.
	ErrInvalidGPID = eris.New("gpidqueue: invalid candidate gpid")
)

// Store is the persistence the queue service needs.
type Store interface {
	ListGpidQueue(ctx context.Context, f model.GpidQueueFilter) ([]model.GpidQueueItem, int, error)
	GpidQueueStats(ctx context.Context) (model.GpidQueueStats, error)
	GetGpidQueueItem(ctx context.Context, id string) (*model.GpidQueueItem, error)
	DecideGpid(ctx context.Context, id string, d model.GpidDecision) error
}

// Filter scopes a listing. A zero HumanStatus lists pending items.
type Filter struct {
	HumanStatus    model.HumanStatus
	ResolverStatus model.ResolverStatus
	ReasonCode     string
	Sort           model.GpidQueueSort
	Limit          int
	Offset         int
}

// Pagination describes the page a listing returned.
type Pagination struct {
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// Page is one listing of the queue.
type Page struct {
	Items      []model.GpidQueueItem `json:"items"`
	Pagination Pagination            `json:"pagination"`
	Stats      model.GpidQueueStats  `json:"stats"`
}

// Service applies reviewer decisions to the GPID queue.
type Service struct {
	store   Store
	minGPID int
}

// Option configures a Service.
type Option func(*Service)

// WithMinGPIDLength overrides the shortest GPID an approval accepts.
func WithMinGPIDLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.minGPID = n
		}
	}
}

// NewService creates a Service.
func NewService(st Store, opts ...Option) *Service {
	s := &Service{store: st, minGPID: resolver.MinGPIDLength}
	for _, o := range opts {
		o(s)
	}
	return s
}

// List returns one page of the queue with global counters.
func (s *Service) List(ctx context.Context, f Filter) (*Page, error) {
	if f.HumanStatus == "" {
		f.HumanStatus = model.HumanPending
	}
	if f.Sort == "" {
		f.Sort = model.SortSimilarityDesc
	}
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	items, total, err := s.store.ListGpidQueue(ctx, model.GpidQueueFilter{
		HumanStatus:    f.HumanStatus,
		ResolverStatus: f.ResolverStatus,
		ReasonCode:     f.ReasonCode,
		Sort:           f.Sort,
		Limit:          f.Limit,
		Offset:         f.Offset,
	})
	if err != nil {
		return nil, eris.Wrap(err, "gpidqueue: list")
	}
	stats, err := s.store.GpidQueueStats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "gpidqueue: stats")
	}
	if items == nil {
		items = []model.GpidQueueItem{}
	}
	return &Page{
		Items:      items,
		Pagination: Pagination{Total: total, Offset: f.Offset, Limit: f.Limit},
		Stats:      stats,
	}, nil
}

// Get returns one item.
func (s *Service) Get(ctx context.Context, id string) (*model.GpidQueueItem, error) {
	it, err := s.store.GetGpidQueueItem(ctx, id)
	if err != nil {
		return nil, mapErr(err, "gpidqueue: get "+id)
	}
	return it, nil
}

// Approve writes a GPID to the item's place and marks the item APPROVED.
// An empty gpid falls back to the item's candidate.
func (s *Service) Approve(ctx context.Context, id, gpid, reviewer, note string) error {
	it, err := s.pending(ctx, id)
	if err != nil {
		return err
	}
	gpid = strings.TrimSpace(gpid)
	if gpid == "" {
		gpid = strings.TrimSpace(it.CandidateGPID)
	}
	if len(gpid) < s.minGPID {
		return eris.Wrapf(ErrInvalidGPID, "gpidqueue: approve %s", id)
	}
	return s.decide(ctx, id, model.GpidDecision{
		Status:   model.HumanApproved,
		GPID:     gpid,
		Reviewer: reviewer,
		Note:     note,
	})
}

// Reject records that no candidate is the place. No GPID is written.
func (s *Service) Reject(ctx context.Context, id, reviewer, note string) error {
	if _, err := s.pending(ctx, id); err != nil {
		return err
	}
	return s.decide(ctx, id, model.GpidDecision{Status: model.HumanRejected, Reviewer: reviewer, Note: note})
}

// MarkAmbiguous records that a human could not pick a candidate either.
func (s *Service) MarkAmbiguous(ctx context.Context, id, reviewer, note string) error {
	if _, err := s.pending(ctx, id); err != nil {
		return err
	}
	return s.decide(ctx, id, model.GpidDecision{Status: model.HumanAmbiguous, Reviewer: reviewer, Note: note})
}

// Skip leaves a pending item untouched.
func (s *Service) Skip(ctx context.Context, id string) error {
	_, err := s.pending(ctx, id)
	return err
}

func (s *Service) pending(ctx context.Context, id string) (*model.GpidQueueItem, error) {
	it, err := s.store.GetGpidQueueItem(ctx, id)
	if err != nil {
		return nil, mapErr(err, "gpidqueue: get "+id)
	}
	if it.HumanStatus != model.HumanPending {
		return nil, eris.Wrapf(ErrAlreadyResolved, "gpidqueue: %s is %s", id, it.HumanStatus)
	}
	return it, nil
}

func (s *Service) decide(ctx context.Context, id string, d model.GpidDecision) error {
	if err := s.store.DecideGpid(ctx, id, d); err != nil {
		return mapErr(err, "gpidqueue: decide "+id)
	}
	zap.L().Info("gpidqueue: decided",
		zap.String("queue_id", id),
		zap.String("status", string(d.Status)),
		zap.String("gpid", d.GPID),
		zap.String("reviewer", d.Reviewer),
	)
	return nil
}

// mapErr translates store sentinels into the queue's own.
func mapErr(err error, msg string) error {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return eris.Wrap(ErrNotFound, msg)
	case errors.Is(err, model.ErrStateChanged):
		return eris.Wrap(ErrAlreadyResolved, msg)
	}
	return eris.Wrap(err, msg)
}
