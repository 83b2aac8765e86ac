package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/place-resolver/internal/db"
	"github.com/sells-group/place-resolver/internal/model"
)

// MaxReviewPriority caps the priority bump applied on skip.
const MaxReviewPriority = 10

const selectReviewItem = `SELECT q.id, q.conflict_type, COALESCE(q.canonical_id, ''), q.match_confidence,
	q.conflicting_fields, q.priority, q.status, COALESCE(q.resolution, ''), COALESCE(q.resolved_by, ''),
	q.resolved_at, COALESCE(q.notes, ''), q.created_at,
	a.id, a.source_name, a.raw_json, a.lat, a.lng,
	b.id, b.source_name, b.raw_json, b.lat, b.lng
	FROM review_queue q
	JOIN raw_records a ON a.id = q.raw_record_a
	LEFT JOIN raw_records b ON b.id = q.raw_record_b`

func scanReviewItem(row scannable) (*model.DuplicateReviewItem, error) {
	var it model.DuplicateReviewItem
	var conflictType, status, resolution string
	var fields, rawA, rawB []byte
	var idA, sourceA string
	var idB, sourceB *string
	var latA, lngA, latB, lngB *float64

	err := row.Scan(&it.QueueID, &conflictType, &it.CanonicalID, &it.MatchConfidence, &fields,
		&it.Priority, &status, &resolution, &it.ResolvedBy, &it.ResolvedAt, &it.Notes, &it.CreatedAt,
		&idA, &sourceA, &rawA, &latA, &lngA,
		&idB, &sourceB, &rawB, &latB, &lngB)
	if err != nil {
		return nil, err
	}
	it.ConflictType = model.ConflictType(conflictType)
	it.Status = model.ReviewStatus(status)
	it.Resolution = model.Resolution(resolution)
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &it.ConflictingFields); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal conflicting fields for %s", it.QueueID)
		}
	}
	it.RecordA = reviewRecord(idA, sourceA, rawA, latA, lngA)
	if idB != nil {
		src := ""
		if sourceB != nil {
			src = *sourceB
		}
		it.RecordB = reviewRecord(*idB, src, rawB, latB, lngB)
	}
	return &it, nil
}

// reviewKeys lists the raw JSON keys read for each comparable attribute.
var reviewKeys = map[string][]string{
	"name":         {"name", "displayName.text"},
	"address":      {"address_street", "address", "formatted_address", "formattedAddress"},
	"neighborhood": {"neighborhood"},
	"category":     {"category", "cuisine", "primaryType"},
	"phone":        {"phone", "nationalPhoneNumber", "formatted_phone_number"},
}

func reviewRecord(id, source string, raw []byte, lat, lng *float64) *model.ReviewRecord {
	r := &model.ReviewRecord{RawID: id, SourceName: source, Lat: lat, Lng: lng, RawJSON: json.RawMessage(raw)}
	var doc map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &doc)
	}
	r.Name = firstString(doc, reviewKeys["name"])
	r.Address = firstString(doc, reviewKeys["address"])
	r.Neighborhood = firstString(doc, reviewKeys["neighborhood"])
	r.Category = firstString(doc, reviewKeys["category"])
	r.Phone = firstString(doc, reviewKeys["phone"])
	return r
}

func firstString(doc map[string]any, paths []string) string {
	for _, p := range paths {
		var cur any = doc
		for _, part := range strings.Split(p, ".") {
			m, ok := cur.(map[string]any)
			if !ok {
				cur = nil
				break
			}
			cur = m[part]
		}
		if s, ok := cur.(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// CreateReviewItem queues a candidate duplicate pair.
func (s *PostgresStore) CreateReviewItem(ctx context.Context, it *model.DuplicateReviewItem) error {
	if it.RecordA == nil || it.RecordA.RawID == "" {
		return eris.New("postgres: review item needs record a")
	}
	if it.QueueID == "" {
		it.QueueID = uuid.New().String()
	}
	if it.Priority == 0 {
		it.Priority = 5
	}
	it.Status = model.ReviewPending
	it.CreatedAt = time.Now().UTC()

	fields, err := json.Marshal(it.ConflictingFields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal conflicting fields")
	}
	var rawB *string
	if it.RecordB != nil && it.RecordB.RawID != "" {
		rawB = &it.RecordB.RawID
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO review_queue (id, conflict_type, raw_record_a, raw_record_b, canonical_id,
			match_confidence, conflicting_fields, priority, status, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, 'pending', $9)`,
		it.QueueID, string(it.ConflictType), it.RecordA.RawID, rawB, it.CanonicalID,
		it.MatchConfidence, fields, it.Priority, it.CreatedAt)
	return eris.Wrapf(err, "postgres: create review item %s", it.QueueID)
}

// ListReviewItems returns hydrated items by descending priority, oldest
// first within a priority, and the total matching count.
func (s *PostgresStore) ListReviewItems(ctx context.Context, f model.ReviewFilter) ([]model.DuplicateReviewItem, int, error) {
	statuses := f.Statuses
	if len(statuses) == 0 {
		statuses = []model.ReviewStatus{model.ReviewPending, model.ReviewDeferred}
	}
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM review_queue q WHERE q.status = ANY($1)`, names,
	).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count review queue")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := selectReviewItem + ` WHERE q.status = ANY($1) ORDER BY q.priority DESC, q.created_at ASC LIMIT $2`
	args := []any{names, limit}
	if f.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, len(args)+1)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list review queue")
	}
	defer rows.Close()

	var items []model.DuplicateReviewItem
	for rows.Next() {
		it, err := scanReviewItem(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "postgres: scan review item")
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list review queue iterate")
	}
	return items, total, nil
}

// GetReviewItem returns one hydrated item or model.ErrNotFound.
func (s *PostgresStore) GetReviewItem(ctx context.Context, id string) (*model.DuplicateReviewItem, error) {
	it, err := scanReviewItem(s.pool.QueryRow(ctx, selectReviewItem+` WHERE q.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: review item %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get review item %s", id)
	}
	return it, nil
}

// ResolveReviewItem records a final decision. Merges link both raw records
// to the canonical place (a new id when the pair had none) and mark them
// processed; kept_separate only marks them processed; flagged changes the
// status alone. The status update is conditional on the item still being
// open.
func (s *PostgresStore) ResolveReviewItem(ctx context.Context, d model.ReviewDecision) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var rawA string
		var rawB, canonical *string
		var matchConfidence *float64
		err := tx.QueryRow(ctx,
			`UPDATE review_queue SET status = 'resolved', resolution = $2, resolved_by = NULLIF($3, ''),
				resolved_at = $4, notes = NULLIF($5, '')
			WHERE id = $1 AND status IN ('pending', 'deferred')
			RETURNING raw_record_a, raw_record_b, canonical_id, match_confidence`,
			d.QueueID, string(d.Resolution), d.Reviewer, time.Now().UTC(), d.Notes,
		).Scan(&rawA, &rawB, &canonical, &matchConfidence)
		if errors.Is(err, pgx.ErrNoRows) {
			return reviewMissingOrResolved(ctx, tx, d.QueueID)
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: resolve review item %s", d.QueueID)
		}

		rawIDs := []string{rawA}
		if rawB != nil && *rawB != "" {
			rawIDs = append(rawIDs, *rawB)
		}

		switch d.Resolution {
		case model.ResolutionMerged:
			placeID := uuid.New().String()
			if canonical != nil && *canonical != "" {
				placeID = *canonical
			}
			for _, id := range rawIDs {
				if _, err := tx.Exec(ctx,
					`INSERT INTO entity_links (raw_record_id, place_id, match_method, match_confidence)
					VALUES ($1, $2, 'human_review', $3)
					ON CONFLICT (raw_record_id) DO UPDATE SET place_id = EXCLUDED.place_id,
						match_method = EXCLUDED.match_method, match_confidence = EXCLUDED.match_confidence`,
					id, placeID, matchConfidence); err != nil {
					return eris.Wrapf(err, "postgres: link raw record %s", id)
				}
			}
			return markProcessed(ctx, tx, rawIDs)
		case model.ResolutionKeptSeparate:
			return markProcessed(ctx, tx, rawIDs)
		}
		return nil
	})
}

func markProcessed(ctx context.Context, tx pgx.Tx, ids []string) error {
	_, err := tx.Exec(ctx, `UPDATE raw_records SET processed = true WHERE id = ANY($1)`, ids)
	return eris.Wrap(err, "postgres: mark raw records processed")
}

// DeferReviewItem returns an open item to the pool with its priority raised
// by one, capped at MaxReviewPriority.
func (s *PostgresStore) DeferReviewItem(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_queue SET status = 'deferred', priority = LEAST(priority + 1, $2)
		WHERE id = $1 AND status IN ('pending', 'deferred')`,
		id, MaxReviewPriority)
	if err != nil {
		return eris.Wrapf(err, "postgres: defer review item %s", id)
	}
	if tag.RowsAffected() == 0 {
		return reviewMissingOrResolved(ctx, s.pool, id)
	}
	return nil
}

// ReviewStats counts review items by status.
func (s *PostgresStore) ReviewStats(ctx context.Context) (model.ReviewStats, error) {
	var st model.ReviewStats
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM review_queue GROUP BY status`)
	if err != nil {
		return st, eris.Wrap(err, "postgres: review stats")
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return st, eris.Wrap(err, "postgres: scan review stats")
		}
		switch model.ReviewStatus(status) {
		case model.ReviewPending:
			st.Pending = n
		case model.ReviewDeferred:
			st.Deferred = n
		case model.ReviewResolved:
			st.Resolved = n
		}
	}
	return st, eris.Wrap(rows.Err(), "postgres: review stats iterate")
}

func reviewMissingOrResolved(ctx context.Context, q rowQuerier, id string) error {
	var status string
	err := q.QueryRow(ctx, `SELECT status FROM review_queue WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(model.ErrNotFound, "postgres: review item %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: review item %s", id)
	}
	return eris.Wrapf(model.ErrStateChanged, "postgres: review item %s is %s", id, status)
}
