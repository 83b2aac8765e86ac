package resilience

import (
	"encoding/json"
	"time"
)

// OutboxStatus is the delivery state of an outbox entry.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxDelivered OutboxStatus = "delivered"
	// OutboxDead entries exhausted their attempts or hit a permanent error.
	// They stay in the outbox until an operator requeues or discards them.
	OutboxDead OutboxStatus = "dead"
)

// OutboxEntry is one durable unit of work waiting to be applied to the
// system of record, such as an operator's duplicate review decision.
type OutboxEntry struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	Key           string          `json:"key"`
	Payload       json.RawMessage `json:"payload"`
	Status        OutboxStatus    `json:"status"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	LastError     string          `json:"last_error,omitempty"`
	ErrorType     string          `json:"error_type,omitempty"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CanRetry returns true if the entry has attempts left.
func (e *OutboxEntry) CanRetry() bool {
	return e.Attempts < e.MaxAttempts
}

// RecordFailure counts a failed delivery. Transient failures with attempts
// left are rescheduled using cfg's backoff; anything else parks the entry as
// dead.
func (e *OutboxEntry) RecordFailure(err error, cfg RetryConfig, now time.Time) {
	e.Attempts++
	e.LastError = err.Error()
	e.ErrorType = ClassifyError(err)
	e.UpdatedAt = now

	if e.ErrorType == "permanent" || !e.CanRetry() {
		e.Status = OutboxDead
		return
	}
	e.Status = OutboxPending
	e.NextAttemptAt = now.Add(Backoff(e.Attempts-1, cfg))
}

// MarkDelivered records a successful delivery.
func (e *OutboxEntry) MarkDelivered(now time.Time) {
	e.Status = OutboxDelivered
	e.LastError = ""
	e.UpdatedAt = now
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
