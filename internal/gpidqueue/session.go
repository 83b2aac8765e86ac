package gpidqueue

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/place-resolver/internal/model"
)

// Session is one operator's working view of the pending queue. Decisions
// remove the item from the view before the store confirms; a failed write
// puts it back. Counters are local until Refresh reloads them.
type Session struct {
	svc      *Service
	filter   Filter
	reviewer string

	items []model.GpidQueueItem
	stats model.GpidQueueStats
	total int
}

// NewSession creates a session and loads its first page.
func NewSession(ctx context.Context, svc *Service, reviewer string, f Filter) (*Session, error) {
	s := &Session{svc: svc, filter: f, reviewer: reviewer}
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Refresh reloads the view from the store, dropping local state.
func (s *Session) Refresh(ctx context.Context) error {
	page, err := s.svc.List(ctx, s.filter)
	if err != nil {
		return eris.Wrap(err, "gpidqueue: refresh session")
	}
	s.items = page.Items
	s.stats = page.Stats
	s.total = page.Pagination.Total
	return nil
}

// Current is the item under review, or nil when the view is empty.
func (s *Session) Current() *model.GpidQueueItem {
	if len(s.items) == 0 {
		return nil
	}
	return &s.items[0]
}

// Items returns the view in review order.
func (s *Session) Items() []model.GpidQueueItem {
	return s.items
}

// Stats returns the session's counters.
func (s *Session) Stats() model.GpidQueueStats {
	return s.stats
}

// Remaining is the number of items left in the view.
func (s *Session) Remaining() int {
	return len(s.items)
}

// Approve applies gpid (or the candidate when empty) to the current item.
func (s *Session) Approve(ctx context.Context, gpid, note string) error {
	return s.apply(func(it *model.GpidQueueItem) error {
		return s.svc.Approve(ctx, it.ID, gpid, s.reviewer, note)
	}, func(st *model.GpidQueueStats) { st.Approved++ })
}

// Reject marks the current item as having no match.
func (s *Session) Reject(ctx context.Context, note string) error {
	return s.apply(func(it *model.GpidQueueItem) error {
		return s.svc.Reject(ctx, it.ID, s.reviewer, note)
	}, func(st *model.GpidQueueStats) { st.Rejected++ })
}

// MarkAmbiguous marks the current item ambiguous.
func (s *Session) MarkAmbiguous(ctx context.Context, note string) error {
	return s.apply(func(it *model.GpidQueueItem) error {
		return s.svc.MarkAmbiguous(ctx, it.ID, s.reviewer, note)
	}, func(st *model.GpidQueueStats) { st.Ambiguous++ })
}

// Skip moves the current item to the end of the view.
func (s *Session) Skip(ctx context.Context) error {
	if len(s.items) == 0 {
		return nil
	}
	it := s.items[0]
	if err := s.svc.Skip(ctx, it.ID); err != nil {
		if eris.Is(err, ErrAlreadyResolved) || eris.Is(err, ErrNotFound) {
			s.items = s.items[1:]
		}
		return err
	}
	s.items = append(s.items[1:], it)
	return nil
}

func (s *Session) apply(write func(*model.GpidQueueItem) error, count func(*model.GpidQueueStats)) error {
	if len(s.items) == 0 {
		return nil
	}
	it := s.items[0]
	prev := s.stats

	s.items = s.items[1:]
	if s.stats.Pending > 0 {
		s.stats.Pending--
	}
	count(&s.stats)

	if err := write(&it); err != nil {
		s.stats = prev
		// Someone else decided it; it stays out of the view.
		if eris.Is(err, ErrAlreadyResolved) || eris.Is(err, ErrNotFound) {
			return err
		}
		s.items = append([]model.GpidQueueItem{it}, s.items...)
		return err
	}
	return nil
}
