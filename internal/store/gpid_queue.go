package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/place-resolver/internal/db"
	"github.com/sells-group/place-resolver/internal/model"
)

const selectGpidItem = `SELECT q.id, q.place_id, COALESCE(p.name, ''), COALESCE(p.slug, ''),
	COALESCE(q.candidate_gpid, ''), q.resolver_status, q.reason_code, q.similarity_score, q.candidates,
	q.human_status, COALESCE(q.human_decision, ''), COALESCE(q.human_note, ''), COALESCE(q.reviewed_by, ''),
	q.reviewed_at, COALESCE(q.run_id, ''), q.created_at, q.updated_at
	FROM gpid_resolution_queue q LEFT JOIN places p ON p.id = q.place_id`

var gpidSortClauses = map[model.GpidQueueSort]string{
	model.SortSimilarityDesc: `q.similarity_score DESC NULLS LAST, q.created_at ASC`,
	model.SortSimilarityAsc:  `q.similarity_score ASC NULLS FIRST, q.created_at ASC`,
	model.SortCreatedAsc:     `q.created_at ASC`,
	model.SortCreatedDesc:    `q.created_at DESC`,
}

func scanGpidItem(row scannable) (*model.GpidQueueItem, error) {
	var it model.GpidQueueItem
	var resolver, human, decision string
	var candidates []byte
	err := row.Scan(&it.ID, &it.PlaceID, &it.PlaceName, &it.PlaceSlug, &it.CandidateGPID, &resolver,
		&it.ReasonCode, &it.SimilarityScore, &candidates, &human, &decision, &it.HumanNote,
		&it.ReviewedBy, &it.ReviewedAt, &it.RunID, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if it.ResolverStatus, err = model.ParseResolverStatus(resolver); err != nil {
		return nil, err
	}
	if it.HumanStatus, err = model.ParseHumanStatus(human); err != nil {
		return nil, err
	}
	it.HumanDecision = model.HumanDecision(decision)
	if len(candidates) > 0 {
		if err := json.Unmarshal(candidates, &it.Candidates); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal candidates for %s", it.ID)
		}
	}
	return &it, nil
}

// EnqueueGpid records an unresolved resolver outcome. A place has at most
// one pending item; re-running the resolver refreshes it in place.
func (s *PostgresStore) EnqueueGpid(ctx context.Context, it *model.GpidQueueItem) error {
	if it.ID == "" {
		it.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	it.HumanStatus = model.HumanPending
	it.CreatedAt, it.UpdatedAt = now, now

	candidates, err := json.Marshal(it.Candidates)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal candidates")
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO gpid_resolution_queue (id, place_id, candidate_gpid, resolver_status, reason_code,
			similarity_score, candidates, human_status, run_id, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, 'PENDING', NULLIF($8, ''), $9, $9)
		ON CONFLICT (place_id) WHERE human_status = 'PENDING' DO UPDATE SET
			candidate_gpid = EXCLUDED.candidate_gpid, resolver_status = EXCLUDED.resolver_status,
			reason_code = EXCLUDED.reason_code, similarity_score = EXCLUDED.similarity_score,
			candidates = EXCLUDED.candidates, run_id = EXCLUDED.run_id, updated_at = EXCLUDED.updated_at
		RETURNING id`,
		it.ID, it.PlaceID, it.CandidateGPID, string(it.ResolverStatus), it.ReasonCode,
		it.SimilarityScore, candidates, it.RunID, now,
	).Scan(&it.ID)
	return eris.Wrapf(err, "postgres: enqueue gpid for %s", it.PlaceID)
}

// ListGpidQueue returns one page of items and the total matching count.
func (s *PostgresStore) ListGpidQueue(ctx context.Context, f model.GpidQueueFilter) ([]model.GpidQueueItem, int, error) {
	where := ` WHERE true`
	args := []any{}
	argIdx := 1

	if f.HumanStatus != "" {
		where += fmt.Sprintf(` AND q.human_status = $%d`, argIdx)
		args = append(args, string(f.HumanStatus))
		argIdx++
	}
	if f.ResolverStatus != "" {
		where += fmt.Sprintf(` AND q.resolver_status = $%d`, argIdx)
		args = append(args, string(f.ResolverStatus))
		argIdx++
	}
	if f.ReasonCode != "" {
		where += fmt.Sprintf(` AND q.reason_code = $%d`, argIdx)
		args = append(args, f.ReasonCode)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM gpid_resolution_queue q`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count gpid queue")
	}

	order, ok := gpidSortClauses[f.Sort]
	if !ok {
		order = gpidSortClauses[model.SortSimilarityDesc]
	}
	query := selectGpidItem + where + ` ORDER BY ` + order

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++
	if f.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list gpid queue")
	}
	defer rows.Close()

	var items []model.GpidQueueItem
	for rows.Next() {
		it, err := scanGpidItem(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "postgres: scan gpid item")
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list gpid queue iterate")
	}
	return items, total, nil
}

// GpidQueueStats counts items per human status.
func (s *PostgresStore) GpidQueueStats(ctx context.Context) (model.GpidQueueStats, error) {
	var st model.GpidQueueStats
	rows, err := s.pool.Query(ctx, `SELECT human_status, count(*) FROM gpid_resolution_queue GROUP BY human_status`)
	if err != nil {
		return st, eris.Wrap(err, "postgres: gpid queue stats")
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return st, eris.Wrap(err, "postgres: scan gpid queue stats")
		}
		switch model.HumanStatus(status) {
		case model.HumanPending:
			st.Pending = n
		case model.HumanApproved:
			st.Approved = n
		case model.HumanRejected:
			st.Rejected = n
		case model.HumanAmbiguous:
			st.Ambiguous = n
		}
	}
	return st, eris.Wrap(rows.Err(), "postgres: gpid queue stats iterate")
}

// GetGpidQueueItem returns one item or model.ErrNotFound.
func (s *PostgresStore) GetGpidQueueItem(ctx context.Context, id string) (*model.GpidQueueItem, error) {
	it, err := scanGpidItem(s.pool.QueryRow(ctx, selectGpidItem+` WHERE q.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: gpid item %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get gpid item %s", id)
	}
	return it, nil
}

// DecideGpid moves a pending item to a terminal status in one transaction.
// Approvals also write the GPID to the place. The update is conditional on
// the item still being pending, so two reviewers cannot both decide it; the
// loser gets model.ErrStateChanged.
func (s *PostgresStore) DecideGpid(ctx context.Context, id string, d model.GpidDecision) error {
	if !model.HumanPending.CanTransition(d.Status) {
		return eris.Wrapf(model.ErrUnknownStatus, "postgres: cannot decide gpid item as %s", d.Status)
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var placeID string
		err := tx.QueryRow(ctx,
			`UPDATE gpid_resolution_queue SET human_status = $2, human_decision = $3,
				human_note = NULLIF($4, ''), reviewed_by = NULLIF($5, ''), reviewed_at = $6, updated_at = $6
			WHERE id = $1 AND human_status = 'PENDING'
			RETURNING place_id`,
			id, string(d.Status), string(d.Status.Decision()), d.Note, d.Reviewer, time.Now().UTC(),
		).Scan(&placeID)
		if errors.Is(err, pgx.ErrNoRows) {
			return gpidMissingOrDecided(ctx, tx, id)
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: decide gpid item %s", id)
		}
		if d.Status == model.HumanApproved {
			return applyGPID(ctx, tx, placeID, d.GPID, nil, nil)
		}
		return nil
	})
}

func gpidMissingOrDecided(ctx context.Context, q rowQuerier, id string) error {
	var status string
	err := q.QueryRow(ctx, `SELECT human_status FROM gpid_resolution_queue WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(model.ErrNotFound, "postgres: gpid item %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: gpid item %s", id)
	}
	return eris.Wrapf(model.ErrStateChanged, "postgres: gpid item %s is %s", id, status)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
