package review

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/place-resolver/internal/model"
)

// Session is one operator's pass through the queue. A decision is written
// to the outbox before the view advances, so the operator never waits on
// the store and no decision is lost if delivery fails later. Items that
// already have a queued decision are hidden when the session opens.
type Session struct {
	outbox      Outbox
	reviewer    string
	maxAttempts int

	items   []Item
	index   int
	decided map[string]model.Decision
	streak  int
}

// SessionStats is the operator's progress readout.
type SessionStats struct {
	Pending  int `json:"pending"`
	Resolved int `json:"resolved"`
	Skipped  int `json:"skipped"`
	Streak   int `json:"streak"`
}

// OpenSession loads a page of open items, minus any with an undelivered
// decision in the outbox.
func OpenSession(ctx context.Context, svc *Service, outbox Outbox, reviewer string, limit, maxAttempts int) (*Session, error) {
	page, err := svc.List(ctx, model.ReviewFilter{Limit: limit})
	if err != nil {
		return nil, err
	}
	queued, err := outbox.OpenKeys(ctx, OutboxKind)
	if err != nil {
		return nil, eris.Wrap(err, "review: load queued decisions")
	}

	items := make([]Item, 0, len(page.Items))
	for _, it := range page.Items {
		if _, ok := queued[it.QueueID]; ok {
			continue
		}
		items = append(items, it)
	}
	return &Session{
		outbox:      outbox,
		reviewer:    reviewer,
		maxAttempts: maxAttempts,
		items:       items,
		decided:     make(map[string]model.Decision),
	}, nil
}

// Current is the item under review, or nil once the view is exhausted.
func (s *Session) Current() *Item {
	if s.index < 0 || s.index >= len(s.items) {
		return nil
	}
	return &s.items[s.index]
}

// Index is the position of the current item in the view.
func (s *Session) Index() int {
	return s.index
}

// Len is the number of items in the view.
func (s *Session) Len() int {
	return len(s.items)
}

// Next moves forward without deciding, stopping at the last item.
func (s *Session) Next() {
	if s.index < len(s.items)-1 {
		s.index++
	}
}

// Prev moves back, stopping at the first item.
func (s *Session) Prev() {
	if s.index > 0 {
		s.index--
	}
}

// Decide records d for the current item and advances. Skipped items may be
// decided again later in the session; resolved ones may not.
func (s *Session) Decide(ctx context.Context, d model.Decision, notes string) error {
	it := s.Current()
	if it == nil {
		return nil
	}
	if prev, ok := s.decided[it.QueueID]; ok && prev != model.DecisionSkip {
		return eris.Wrapf(ErrIllegalTransition, "review: %s already decided as %s", it.QueueID, prev)
	}
	if err := Submit(ctx, s.outbox, Decision{
		QueueID:  it.QueueID,
		Decision: d,
		Notes:    notes,
		Reviewer: s.reviewer,
	}, s.maxAttempts); err != nil {
		return err
	}

	s.decided[it.QueueID] = d
	if d != model.DecisionSkip {
		s.streak++
	}
	s.index++
	return nil
}

// Handle applies a keyboard action.
func (s *Session) Handle(ctx context.Context, a Action) error {
	switch a {
	case ActionNext:
		s.Next()
		return nil
	case ActionPrev:
		s.Prev()
		return nil
	}
	d, ok := a.Decision()
	if !ok {
		return eris.Errorf("review: unknown action %q", a)
	}
	return s.Decide(ctx, d, "")
}

// Stats returns the session's progress.
func (s *Session) Stats() SessionStats {
	st := SessionStats{Streak: s.streak}
	for _, d := range s.decided {
		if d == model.DecisionSkip {
			st.Skipped++
		} else {
			st.Resolved++
		}
	}
	st.Pending = len(s.items) - st.Resolved
	return st
}
