package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/place-resolver/internal/resilience"
)

func newTestOutbox(t *testing.T) *SQLiteOutbox {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "outbox.db")
	o, err := NewSQLiteOutbox(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() }) //nolint:errcheck
	require.NoError(t, o.Migrate(context.Background()))
	return o
}

func decisionEntry(key string) *resilience.OutboxEntry {
	return &resilience.OutboxEntry{
		Kind:        "review_decision",
		Key:         key,
		Payload:     json.RawMessage(`{"queue_id":"` + key + `","resolution":"merged"}`),
		MaxAttempts: 3,
	}
}

func TestOutbox_EnqueueAndDue(t *testing.T) {
	o := newTestOutbox(t)
	ctx := context.Background()

	first := decisionEntry("q1")
	require.NoError(t, o.Enqueue(ctx, first))
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, resilience.OutboxPending, first.Status)

	later := decisionEntry("q2")
	later.NextAttemptAt = time.Now().Add(time.Hour)
	require.NoError(t, o.Enqueue(ctx, later))

	due, err := o.Due(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "q1", due[0].Key)
	assert.JSONEq(t, `{"queue_id":"q1","resolution":"merged"}`, string(due[0].Payload))
	assert.Equal(t, 3, due[0].MaxAttempts)

	due, err = o.Due(ctx, time.Now().Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, due, 2)
	assert.Equal(t, "q1", due[0].Key, "oldest first")
}

func TestOutbox_EnqueueValidation(t *testing.T) {
	o := newTestOutbox(t)
	err := o.Enqueue(context.Background(), &resilience.OutboxEntry{Kind: "review_decision"})
	assert.ErrorContains(t, err, "needs kind and key")
}

func TestOutbox_UpdateLifecycle(t *testing.T) {
	o := newTestOutbox(t)
	ctx := context.Background()

	e := decisionEntry("q1")
	require.NoError(t, o.Enqueue(ctx, e))

	cfg := resilience.RetryConfig{InitialBackoff: time.Minute, MaxBackoff: time.Hour, Multiplier: 2}
	now := time.Now()
	e.RecordFailure(resilience.NewTransientError(errors.New("db down"), 0), cfg, now)
	require.NoError(t, o.Update(ctx, e))

	due, err := o.Due(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due, "rescheduled into the future")

	due, err = o.Due(ctx, now.Add(2*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Attempts)
	assert.Equal(t, "transient", due[0].ErrorType)

	e.MarkDelivered(now)
	require.NoError(t, o.Update(ctx, e))
	keys, err := o.OpenKeys(ctx, "review_decision")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestOutbox_DeadAndRequeue(t *testing.T) {
	o := newTestOutbox(t)
	ctx := context.Background()

	e := decisionEntry("q7")
	require.NoError(t, o.Enqueue(ctx, e))
	e.RecordFailure(errors.New("constraint violation"), resilience.DefaultRetryConfig(), time.Now())
	require.Equal(t, resilience.OutboxDead, e.Status)
	require.NoError(t, o.Update(ctx, e))

	dead, err := o.List(ctx, resilience.OutboxDead)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "constraint violation", dead[0].LastError)

	keys, err := o.OpenKeys(ctx, "review_decision")
	require.NoError(t, err)
	assert.Equal(t, resilience.OutboxDead, keys["q7"])

	require.NoError(t, o.Requeue(ctx, e.ID))
	due, err := o.Due(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Zero(t, due[0].Attempts)

	err = o.Requeue(ctx, e.ID)
	assert.ErrorContains(t, err, "not found", "only dead entries can be requeued")
}

func TestOutbox_OpenKeysPrefersDead(t *testing.T) {
	o := newTestOutbox(t)
	ctx := context.Background()

	dead := decisionEntry("q1")
	require.NoError(t, o.Enqueue(ctx, dead))
	dead.RecordFailure(errors.New("bad payload"), resilience.DefaultRetryConfig(), time.Now())
	require.NoError(t, o.Update(ctx, dead))
	require.NoError(t, o.Enqueue(ctx, decisionEntry("q1")))
	require.NoError(t, o.Enqueue(ctx, decisionEntry("q2")))

	keys, err := o.OpenKeys(ctx, "review_decision")
	require.NoError(t, err)
	assert.Equal(t, map[string]resilience.OutboxStatus{
		"q1": resilience.OutboxDead,
		"q2": resilience.OutboxPending,
	}, keys)

	other, err := o.OpenKeys(ctx, "something_else")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestOutbox_UpdateMissing(t *testing.T) {
	o := newTestOutbox(t)
	err := o.Update(context.Background(), &resilience.OutboxEntry{ID: "nope"})
	assert.ErrorContains(t, err, "outbox entry not found")
}

func TestOutbox_MigrateIdempotent(t *testing.T) {
	o := newTestOutbox(t)
	assert.NoError(t, o.Migrate(context.Background()))
}

func TestNewSQLiteOutbox_InvalidPath(t *testing.T) {
	_, err := NewSQLiteOutbox(filepath.Join(t.TempDir(), "missing", "dir", "outbox.db"))
	assert.Error(t, err)
}
