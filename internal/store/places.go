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
	"github.com/sells-group/place-resolver/internal/geo"
	"github.com/sells-group/place-resolver/internal/model"
)

const selectPlace = `SELECT p.id, COALESCE(p.slug, ''), p.name, COALESCE(p.address, ''),
	COALESCE(p.neighborhood, ''), COALESCE(p.city, ''), COALESCE(p.postal_code, ''),
	COALESCE(p.region, ''), COALESCE(p.phone, ''), COALESCE(p.website, ''), p.hours,
	COALESCE(p.description, ''), p.lat, p.lng, COALESCE(p.google_place_id, ''),
	p.confidence, p.overall_confidence, p.confidence_updated_at, p.updated_at
	FROM places p`

const selectRawForPlace = `SELECT r.id, COALESCE(r.place_id, ''), r.source_name, r.raw_json, r.lat, r.lng, r.processed, r.created_at
	FROM raw_records r
	WHERE r.place_id = $1 OR r.id IN (SELECT raw_record_id FROM entity_links WHERE place_id = $1)
	ORDER BY r.created_at, r.id`

const updateConfidenceSQL = `UPDATE places SET confidence = $2, overall_confidence = $3, confidence_updated_at = $4 WHERE id = $1`

type scannable interface {
	Scan(dest ...any) error
}

func scanPlace(row scannable) (*model.Place, error) {
	var p model.Place
	var hours, confidence []byte
	err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Address, &p.Neighborhood, &p.City, &p.PostalCode,
		&p.Region, &p.Phone, &p.Website, &hours, &p.Description, &p.Lat, &p.Lng, &p.GooglePlaceID,
		&confidence, &p.OverallConfidence, &p.ConfidenceUpdatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(hours) > 0 {
		p.Hours = json.RawMessage(hours)
	}
	if len(confidence) > 0 {
		if err := json.Unmarshal(confidence, &p.Confidence); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal confidence for %s", p.ID)
		}
	}
	return &p, nil
}

// ListPlaces returns canonical records matching f, ordered by id.
func (s *PostgresStore) ListPlaces(ctx context.Context, f model.PlaceFilter) ([]model.Place, error) {
	query := selectPlace + ` WHERE true`
	args := []any{}
	argIdx := 1

	if len(f.IDs) > 0 {
		query += fmt.Sprintf(` AND p.id = ANY($%d)`, argIdx)
		args = append(args, f.IDs)
		argIdx++
	}
	if f.Region != "" {
		query += fmt.Sprintf(` AND p.region = $%d`, argIdx)
		args = append(args, f.Region)
		argIdx++
	}
	if f.Neighborhood != "" {
		query += fmt.Sprintf(` AND p.neighborhood = $%d`, argIdx)
		args = append(args, f.Neighborhood)
		argIdx++
	}
	if f.StaleOnly {
		query += ` AND (p.confidence_updated_at IS NULL OR p.confidence_updated_at < p.updated_at)`
	}
	if f.MissingGPID {
		query += ` AND (p.google_place_id IS NULL OR p.google_place_id = '')`
	}
	query += ` ORDER BY p.id`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list places")
	}
	defer rows.Close()

	var places []model.Place
	for rows.Next() {
		p, err := scanPlace(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan place")
		}
		places = append(places, *p)
	}
	return places, eris.Wrap(rows.Err(), "postgres: list places iterate")
}

// GetPlace returns one canonical record or model.ErrNotFound.
func (s *PostgresStore) GetPlace(ctx context.Context, id string) (*model.Place, error) {
	p, err := scanPlace(s.pool.QueryRow(ctx, selectPlace+` WHERE p.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: place %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get place %s", id)
	}
	return p, nil
}

// RawRecordsForPlace returns every raw record attached to a place, directly
// or through an entity link.
func (s *PostgresStore) RawRecordsForPlace(ctx context.Context, placeID string) ([]model.RawRecord, error) {
	rows, err := s.pool.Query(ctx, selectRawForPlace, placeID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: raw records for %s", placeID)
	}
	defer rows.Close()

	var out []model.RawRecord
	for rows.Next() {
		var r model.RawRecord
		var raw []byte
		if err := rows.Scan(&r.ID, &r.PlaceID, &r.SourceName, &raw, &r.Lat, &r.Lng, &r.Processed, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan raw record")
		}
		r.RawJSON = json.RawMessage(raw)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: raw records iterate")
}

// UpdateConfidence replaces the confidence map and overall score of a place.
func (s *PostgresStore) UpdateConfidence(ctx context.Context, placeID string, m model.ConfidenceMap, overall float64) error {
	data, err := json.Marshal(m)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal confidence")
	}
	tag, err := s.pool.Exec(ctx, updateConfidenceSQL, placeID, data, overall, time.Now().UTC())
	if err != nil {
		return eris.Wrapf(err, "postgres: update confidence %s", placeID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrNotFound, "postgres: place %s", placeID)
	}
	return nil
}

// ApplyGPID writes a resolved Google Place ID to a place. When coordinates
// are known the location point is written too.
func (s *PostgresStore) ApplyGPID(ctx context.Context, placeID, gpid string, lat, lng *float64) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return applyGPID(ctx, tx, placeID, gpid, lat, lng)
	})
}

func applyGPID(ctx context.Context, tx pgx.Tx, placeID, gpid string, lat, lng *float64) error {
	if lat == nil || lng == nil {
		tag, err := tx.Exec(ctx,
			`UPDATE places SET google_place_id = $2, updated_at = $3 WHERE id = $1`,
			placeID, gpid, time.Now().UTC())
		if err != nil {
			return eris.Wrapf(err, "postgres: apply gpid %s", placeID)
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(model.ErrNotFound, "postgres: place %s", placeID)
		}
		return nil
	}

	point, err := geo.EncodePoint(*lat, *lng)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		`UPDATE places SET google_place_id = $2, lat = $3, lng = $4, location = ST_GeomFromEWKB($5), updated_at = $6 WHERE id = $1`,
		placeID, gpid, *lat, *lng, point, time.Now().UTC())
	if err != nil {
		return eris.Wrapf(err, "postgres: apply gpid %s", placeID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrNotFound, "postgres: place %s", placeID)
	}
	return nil
}

// KnownLocationForGPID returns the most recent coordinates any raw record
// reported for gpid. ok is false when none did.
func (s *PostgresStore) KnownLocationForGPID(ctx context.Context, gpid string) (lat, lng float64, ok bool, err error) {
	err = s.pool.QueryRow(ctx,
		`SELECT lat, lng FROM raw_records
		WHERE (raw_json->>'google_place_id' = $1 OR raw_json->>'place_id' = $1)
			AND lat IS NOT NULL AND lng IS NOT NULL AND lat <> 0 AND lng <> 0
		ORDER BY created_at DESC LIMIT 1`,
		gpid,
	).Scan(&lat, &lng)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, eris.Wrapf(err, "postgres: known location for %s", gpid)
	}
	return lat, lng, true, nil
}

// InsertRawRecord stores one raw record, assigning an id when empty.
func (s *PostgresStore) InsertRawRecord(ctx context.Context, r *model.RawRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO raw_records (id, place_id, source_name, raw_json, lat, lng, processed, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8)`,
		r.ID, r.PlaceID, r.SourceName, []byte(r.RawJSON), r.Lat, r.Lng, r.Processed, r.CreatedAt)
	return eris.Wrapf(err, "postgres: insert raw record %s", r.ID)
}

// LinkRawRecord attaches a raw record to a place. An existing link is
// replaced.
func (s *PostgresStore) LinkRawRecord(ctx context.Context, rawID, placeID, method string, confidence *float64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO entity_links (raw_record_id, place_id, match_method, match_confidence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (raw_record_id) DO UPDATE SET place_id = EXCLUDED.place_id,
			match_method = EXCLUDED.match_method, match_confidence = EXCLUDED.match_confidence`,
		rawID, placeID, method, confidence)
	return eris.Wrapf(err, "postgres: link raw record %s", rawID)
}

// TrustTiers reads the sources table.
func (s *PostgresStore) TrustTiers(ctx context.Context) (map[string]float64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, trust_tier FROM sources`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: trust tiers")
	}
	defer rows.Close()

	tiers := make(map[string]float64)
	for rows.Next() {
		var id string
		var tier float64
		if err := rows.Scan(&id, &tier); err != nil {
			return nil, eris.Wrap(err, "postgres: scan trust tier")
		}
		tiers[id] = tier
	}
	return tiers, eris.Wrap(rows.Err(), "postgres: trust tiers iterate")
}

// SyncSources upserts trust tiers into the sources table.
func (s *PostgresStore) SyncSources(ctx context.Context, tiers map[string]float64) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(tiers))
	for id, tier := range tiers {
		rows = append(rows, []any{id, tier, now})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "sources",
		Columns:      []string{"id", "trust_tier", "updated_at"},
		ConflictKeys: []string{"id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: sync sources")
	}
	return n, nil
}
