package review

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/internal/resilience"
)

func openTestSession(t *testing.T, ids ...string) (*Session, Outbox) {
	t.Helper()
	svc, st := newTestService(t)
	o := newTestOutbox(t)

	var items []model.DuplicateReviewItem
	for _, id := range ids {
		items = append(items, pair(id))
	}
	st.On("ListReviewItems", mock.Anything, mock.Anything).Return(items, len(items), nil)
	st.On("ReviewStats", mock.Anything).Return(model.ReviewStats{Pending: len(items)}, nil)

	s, err := OpenSession(context.Background(), svc, o, "ana", 20, 3)
	require.NoError(t, err)
	return s, o
}

func queuedDecisions(t *testing.T, o Outbox) []Decision {
	t.Helper()
	entries, err := o.List(context.Background(), resilience.OutboxPending)
	require.NoError(t, err)
	out := make([]Decision, 0, len(entries))
	for _, e := range entries {
		var d Decision
		require.NoError(t, json.Unmarshal(e.Payload, &d))
		out = append(out, d)
	}
	return out
}

func TestSession_DecideQueuesAndAdvances(t *testing.T) {
	s, o := openTestSession(t, "r1", "r2", "r3")
	ctx := context.Background()

	require.NoError(t, s.Decide(ctx, model.DecisionMerge, "same room"))
	assert.Equal(t, "r2", s.Current().QueueID)

	require.NoError(t, s.Handle(ctx, ActionSkip))
	require.NoError(t, s.Handle(ctx, ActionFlag))
	assert.Nil(t, s.Current())

	got := queuedDecisions(t, o)
	require.Len(t, got, 3)
	assert.Equal(t, "r1", got[0].QueueID)
	assert.Equal(t, model.DecisionMerge, got[0].Decision)
	assert.Equal(t, "same room", got[0].Notes)
	assert.Equal(t, "ana", got[0].Reviewer)
	assert.Equal(t, model.DecisionSkip, got[1].Decision)
	assert.Equal(t, model.DecisionFlag, got[2].Decision)

	assert.Equal(t, SessionStats{Pending: 1, Resolved: 2, Skipped: 1, Streak: 2}, s.Stats())
}

func TestSession_Navigation(t *testing.T) {
	s, _ := openTestSession(t, "r1", "r2")
	ctx := context.Background()

	s.Prev()
	assert.Equal(t, 0, s.Index())
	require.NoError(t, s.Handle(ctx, ActionNext))
	assert.Equal(t, "r2", s.Current().QueueID)
	s.Next()
	assert.Equal(t, 1, s.Index(), "next stops at the last item")
	require.NoError(t, s.Handle(ctx, ActionPrev))
	assert.Equal(t, "r1", s.Current().QueueID)
}

func TestSession_CannotDecideTwice(t *testing.T) {
	s, o := openTestSession(t, "r1", "r2")
	ctx := context.Background()

	require.NoError(t, s.Decide(ctx, model.DecisionSkip, ""))
	s.Prev()
	require.NoError(t, s.Decide(ctx, model.DecisionDifferent, ""), "a skipped item can still be decided")
	s.Prev()
	err := s.Decide(ctx, model.DecisionMerge, "")
	assert.True(t, errors.Is(err, ErrIllegalTransition))
	assert.Len(t, queuedDecisions(t, o), 2)
}

func TestSession_HidesItemsWithQueuedDecisions(t *testing.T) {
	svc, st := newTestService(t)
	o := newTestOutbox(t)
	st.On("ListReviewItems", mock.Anything, mock.Anything).Return([]model.DuplicateReviewItem{pair("r1"), pair("r2")}, 2, nil)
	st.On("ReviewStats", mock.Anything).Return(model.ReviewStats{Pending: 2}, nil)

	require.NoError(t, Submit(context.Background(), o, Decision{QueueID: "r1", Decision: model.DecisionMerge}, 3))

	s, err := OpenSession(context.Background(), svc, o, "ana", 20, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, "r2", s.Current().QueueID)
}

func TestSession_EmptyAndUnknownAction(t *testing.T) {
	s, _ := openTestSession(t)
	assert.Nil(t, s.Current())
	assert.NoError(t, s.Decide(context.Background(), model.DecisionMerge, ""))
	assert.Error(t, s.Handle(context.Background(), Action("undo")))
	assert.Equal(t, SessionStats{}, s.Stats())
}
