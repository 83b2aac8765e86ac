package review

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/internal/resilience"
	"github.com/sells-group/place-resolver/internal/store"
)

func newTestOutbox(t *testing.T) *store.SQLiteOutbox {
	t.Helper()
	o, err := store.NewSQLiteOutbox(filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() }) //nolint:errcheck
	require.NoError(t, o.Migrate(context.Background()))
	return o
}

func testWorkerConfig() WorkerConfig {
	return WorkerConfig{
		MaxAttempts: 2,
		Retry:       resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		Interval:    10 * time.Millisecond,
		BatchSize:   10,
	}
}

func newTestWorker(t *testing.T) (*Worker, *store.SQLiteOutbox, *mockStore) {
	t.Helper()
	svc, st := newTestService(t)
	o := newTestOutbox(t)
	w := NewWorker(o, svc, testWorkerConfig())
	// Each reading is a minute later, well past any backoff the worker
	// schedules.
	clock := time.Now()
	w.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return w, o, st
}

func submit(t *testing.T, o Outbox, id string, d model.Decision) {
	t.Helper()
	require.NoError(t, Submit(context.Background(), o, Decision{QueueID: id, Decision: d, Reviewer: "ana"}, 2))
}

func TestSubmit_Validates(t *testing.T) {
	o := newTestOutbox(t)
	ctx := context.Background()

	assert.Error(t, Submit(ctx, o, Decision{Decision: model.DecisionMerge}, 2))
	err := Submit(ctx, o, Decision{QueueID: "r1", Decision: "undo"}, 2)
	assert.True(t, errors.Is(err, ErrIllegalTransition))

	keys, err := o.OpenKeys(ctx, OutboxKind)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestWorker_DeliversInOrder(t *testing.T) {
	w, o, st := newTestWorker(t)
	ctx := context.Background()

	var calls []string
	st.On("DeferReviewItem", mock.Anything, "r1").Run(func(mock.Arguments) { calls = append(calls, "skip r1") }).Return(nil)
	st.On("ResolveReviewItem", mock.Anything, mock.MatchedBy(func(d model.ReviewDecision) bool {
		return d.QueueID == "r1" && d.Resolution == model.ResolutionMerged && d.Reviewer == "ana"
	})).Run(func(mock.Arguments) { calls = append(calls, "merge r1") }).Return(nil)

	submit(t, o, "r1", model.DecisionSkip)
	submit(t, o, "r1", model.DecisionMerge)

	stats, err := w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Delivered: 2}, stats)
	assert.Equal(t, []string{"skip r1", "merge r1"}, calls)

	keys, err := o.OpenKeys(ctx, OutboxKind)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestWorker_RetriesThenParks(t *testing.T) {
	w, o, st := newTestWorker(t)
	ctx := context.Background()
	st.On("ResolveReviewItem", mock.Anything, mock.Anything).Return(errors.New("pool exhausted"))

	submit(t, o, "r1", model.DecisionFlag)

	stats, err := w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Retrying: 1}, stats)

	pending, err := o.List(ctx, resilience.OutboxPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "transient", pending[0].ErrorType)

	stats, err = w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Dead: 1}, stats)

	dead, err := w.Dead(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "r1", dead[0].Key)
	assert.Contains(t, dead[0].LastError, "pool exhausted")

	keys, err := o.OpenKeys(ctx, OutboxKind)
	require.NoError(t, err)
	assert.Equal(t, resilience.OutboxDead, keys["r1"])
}

func TestWorker_RequeueDeliversParkedDecision(t *testing.T) {
	w, o, st := newTestWorker(t)
	ctx := context.Background()
	st.On("ResolveReviewItem", mock.Anything, mock.Anything).Return(eris.Wrap(model.ErrNotFound, "postgres: review item r1")).Once()

	submit(t, o, "r1", model.DecisionMerge)
	stats, err := w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Dead: 1}, stats, "a missing item is permanent")

	dead, err := w.Dead(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "permanent", dead[0].ErrorType)

	st.On("ResolveReviewItem", mock.Anything, mock.Anything).Return(nil).Once()
	require.NoError(t, w.Requeue(ctx, dead[0].ID))

	stats, err = w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Delivered: 1}, stats)
}

func TestWorker_AlreadyAppliedCountsAsDelivered(t *testing.T) {
	w, o, st := newTestWorker(t)
	ctx := context.Background()
	st.On("ResolveReviewItem", mock.Anything, mock.Anything).Return(eris.Wrap(model.ErrStateChanged, "resolved"))
	done := pair("r1")
	done.Status = model.ReviewResolved
	done.Resolution = model.ResolutionMerged
	st.On("GetReviewItem", mock.Anything, "r1").Return(&done, nil)
	st.On("DeferReviewItem", mock.Anything, "r2").Return(eris.Wrap(model.ErrStateChanged, "resolved"))

	submit(t, o, "r1", model.DecisionMerge)
	submit(t, o, "r2", model.DecisionSkip)

	stats, err := w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Delivered: 2}, stats)
}

func TestWorker_ConflictingResolutionIsParked(t *testing.T) {
	w, o, st := newTestWorker(t)
	ctx := context.Background()
	st.On("ResolveReviewItem", mock.Anything, mock.Anything).Return(eris.Wrap(model.ErrStateChanged, "resolved"))
	done := pair("r1")
	done.Status = model.ReviewResolved
	done.Resolution = model.ResolutionKeptSeparate
	st.On("GetReviewItem", mock.Anything, "r1").Return(&done, nil)

	submit(t, o, "r1", model.DecisionMerge)

	stats, err := w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Dead: 1}, stats)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	w, o, st := newTestWorker(t)
	delivered := make(chan struct{})
	st.On("DeferReviewItem", mock.Anything, "r1").Run(func(mock.Arguments) { close(delivered) }).Return(nil).Once()
	submit(t, o, "r1", model.DecisionSkip)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("decision not delivered")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
