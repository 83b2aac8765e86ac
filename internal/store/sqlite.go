package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/place-resolver/internal/model"
	"github.com/sells-group/place-resolver/internal/resilience"
)

// SQLiteOutbox implements Outbox using modernc.org/sqlite. Timestamps are
// stored as unix milliseconds so due-time comparisons stay numeric.
type SQLiteOutbox struct {
	db *sql.DB
}

// NewSQLiteOutbox opens a SQLite database at the given path and configures
// WAL mode.
func NewSQLiteOutbox(dsn string) (*SQLiteOutbox, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteOutbox{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS outbox (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	key             TEXT NOT NULL,
	payload         TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	attempts        INTEGER NOT NULL DEFAULT 0,
	max_attempts    INTEGER NOT NULL DEFAULT 8,
	last_error      TEXT NOT NULL DEFAULT '',
	error_type      TEXT NOT NULL DEFAULT '',
	next_attempt_at INTEGER NOT NULL,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outbox_due ON outbox(status, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_outbox_kind_key ON outbox(kind, key);
`

func (o *SQLiteOutbox) Migrate(ctx context.Context) error {
	_, err := o.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (o *SQLiteOutbox) Close() error {
	return o.db.Close()
}

// Enqueue appends a pending entry, due immediately unless NextAttemptAt is set.
func (o *SQLiteOutbox) Enqueue(ctx context.Context, e *resilience.OutboxEntry) error {
	if e.Kind == "" || e.Key == "" {
		return eris.New("sqlite: outbox entry needs kind and key")
	}
	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = 8
	}
	if e.NextAttemptAt.IsZero() {
		e.NextAttemptAt = now
	}
	e.Status = resilience.OutboxPending
	e.CreatedAt, e.UpdatedAt = now, now

	_, err := o.db.ExecContext(ctx,
		`INSERT INTO outbox (id, kind, key, payload, status, attempts, max_attempts, next_attempt_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.Key, string(e.Payload), string(e.Status), e.Attempts, e.MaxAttempts,
		e.NextAttemptAt.UnixMilli(), now.UnixMilli(), now.UnixMilli())
	return eris.Wrapf(err, "sqlite: enqueue %s", e.Key)
}

const selectOutbox = `SELECT id, kind, key, payload, status, attempts, max_attempts, last_error, error_type,
	next_attempt_at, created_at, updated_at FROM outbox`

// Due returns pending entries whose next attempt is at or before now, oldest
// first.
func (o *SQLiteOutbox) Due(ctx context.Context, now time.Time, limit int) ([]resilience.OutboxEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := o.db.QueryContext(ctx,
		selectOutbox+` WHERE status = ? AND next_attempt_at <= ? ORDER BY created_at, rowid LIMIT ?`,
		string(resilience.OutboxPending), now.UnixMilli(), limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: due entries")
	}
	return scanOutboxRows(rows)
}

// List returns entries in a status, oldest first.
func (o *SQLiteOutbox) List(ctx context.Context, status resilience.OutboxStatus) ([]resilience.OutboxEntry, error) {
	rows, err := o.db.QueryContext(ctx, selectOutbox+` WHERE status = ? ORDER BY created_at, rowid`, string(status))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list outbox")
	}
	return scanOutboxRows(rows)
}

// Update persists the delivery state of an entry.
func (o *SQLiteOutbox) Update(ctx context.Context, e *resilience.OutboxEntry) error {
	res, err := o.db.ExecContext(ctx,
		`UPDATE outbox SET status = ?, attempts = ?, last_error = ?, error_type = ?, next_attempt_at = ?, updated_at = ?
		WHERE id = ?`,
		string(e.Status), e.Attempts, e.LastError, e.ErrorType, e.NextAttemptAt.UnixMilli(),
		time.Now().UTC().UnixMilli(), e.ID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update outbox %s", e.ID)
	}
	return checkRowsAffected(res, "outbox entry", e.ID)
}

// OpenKeys returns the keys of kind that still have an undelivered entry,
// with the most severe status per key (dead over pending).
func (o *SQLiteOutbox) OpenKeys(ctx context.Context, kind string) (map[string]resilience.OutboxStatus, error) {
	rows, err := o.db.QueryContext(ctx,
		`SELECT key, status FROM outbox WHERE kind = ? AND status IN (?, ?)`,
		kind, string(resilience.OutboxPending), string(resilience.OutboxDead))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open keys")
	}
	defer rows.Close()

	keys := make(map[string]resilience.OutboxStatus)
	for rows.Next() {
		var key, status string
		if err := rows.Scan(&key, &status); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan open key")
		}
		if keys[key] != resilience.OutboxDead {
			keys[key] = resilience.OutboxStatus(status)
		}
	}
	return keys, eris.Wrap(rows.Err(), "sqlite: open keys iterate")
}

// Requeue returns a dead entry to pending with a fresh attempt budget.
func (o *SQLiteOutbox) Requeue(ctx context.Context, id string) error {
	now := time.Now().UTC().UnixMilli()
	res, err := o.db.ExecContext(ctx,
		`UPDATE outbox SET status = ?, attempts = 0, next_attempt_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(resilience.OutboxPending), now, now, id, string(resilience.OutboxDead))
	if err != nil {
		return eris.Wrapf(err, "sqlite: requeue %s", id)
	}
	return checkRowsAffected(res, "dead outbox entry", id)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrNotFound, "sqlite: %s not found: %s", entity, id)
	}
	return nil
}

func scanOutboxRows(rows *sql.Rows) ([]resilience.OutboxEntry, error) {
	defer rows.Close()
	var out []resilience.OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: outbox iterate")
}

func scanOutbox(row scannable) (*resilience.OutboxEntry, error) {
	var e resilience.OutboxEntry
	var payload, status string
	var next, created, updated int64

	err := row.Scan(&e.ID, &e.Kind, &e.Key, &payload, &status, &e.Attempts, &e.MaxAttempts,
		&e.LastError, &e.ErrorType, &next, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.New("outbox entry not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan outbox")
	}
	e.Payload = []byte(payload)
	e.Status = resilience.OutboxStatus(status)
	e.NextAttemptAt = time.UnixMilli(next).UTC()
	e.CreatedAt = time.UnixMilli(created).UTC()
	e.UpdatedAt = time.UnixMilli(updated).UTC()
	return &e, nil
}
