package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/place-resolver/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func ptr[T any](v T) *T { return &v }

var placeColumns = []string{
	"id", "slug", "name", "address", "neighborhood", "city", "postal_code", "region", "phone",
	"website", "hours", "description", "lat", "lng", "google_place_id", "confidence",
	"overall_confidence", "confidence_updated_at", "updated_at",
}

func placeRow(id string, confidence []byte) []any {
	return []any{
		id, "bestia", "Bestia", "2121 E 7th Pl", "Arts District", "Los Angeles", "90021", "la",
		"(213) 514-5724", "bestiala.com", []byte(`{"mon":"closed"}`), "Italian", ptr(34.0339), ptr(-118.2293),
		"", confidence, ptr(0.8), nil, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestPostgresStore_GetPlace(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	conf := []byte(`{"name":{"value":"Bestia","score":0.9,"sources":[{"source_id":"eater","value":"Bestia"}],"winner":"eater","conflicts":[]}}`)
	mock.ExpectQuery(`FROM places p WHERE p.id = \$1`).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows(placeColumns).AddRow(placeRow("p1", conf)...))

	p, err := s.GetPlace(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Bestia", p.Name)
	assert.True(t, p.HasLatLng())
	assert.JSONEq(t, `{"mon":"closed"}`, string(p.Hours))
	assert.InDelta(t, 0.9, p.Confidence[model.FieldName].Score, 1e-9)
	assert.Equal(t, "eater", p.Confidence[model.FieldName].Winner)
	assert.Nil(t, p.ConfidenceUpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPlace_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM places p WHERE p.id`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetPlace(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListPlaces_Filter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`p.id = ANY\(\$1\) AND p.region = \$2 AND \(p.confidence_updated_at IS NULL`).
		WithArgs([]string{"p1", "p2"}, "la", 10).
		WillReturnRows(pgxmock.NewRows(placeColumns).
			AddRow(placeRow("p1", nil)...).
			AddRow(placeRow("p2", nil)...))

	places, err := s.ListPlaces(context.Background(), model.PlaceFilter{
		IDs:       []string{"p1", "p2"},
		Region:    "la",
		StaleOnly: true,
		Limit:     10,
	})
	require.NoError(t, err)
	require.Len(t, places, 2)
	assert.Equal(t, "p2", places[1].ID)
	assert.Nil(t, places[0].Confidence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListPlaces_MissingGPID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`google_place_id IS NULL OR p.google_place_id = ''`).
		WithArgs("Silver Lake").
		WillReturnRows(pgxmock.NewRows(placeColumns))

	places, err := s.ListPlaces(context.Background(), model.PlaceFilter{Neighborhood: "Silver Lake", MissingGPID: true})
	require.NoError(t, err)
	assert.Empty(t, places)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RawRecordsForPlace(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM raw_records r`).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "place_id", "source_name", "raw_json", "lat", "lng", "processed", "created_at"}).
			AddRow("r1", "p1", "Eater LA", []byte(`{"name":"Bestia"}`), nil, nil, false, created).
			AddRow("r2", "", "google", []byte(`{"displayName":{"text":"Bestia"}}`), ptr(34.03), ptr(-118.22), true, created))

	recs, err := s.RawRecordsForPlace(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Eater LA", recs[0].SourceName)
	assert.False(t, recs[0].HasLatLng())
	assert.True(t, recs[1].HasLatLng())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateConfidence(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	m := model.ConfidenceMap{model.FieldName: {Value: "Bestia", Score: 0.8, Winner: "eater"}}
	mock.ExpectExec(`UPDATE places SET confidence`).
		WithArgs("p1", pgxmock.AnyArg(), 0.8, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.UpdateConfidence(context.Background(), "p1", m, 0.8))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateConfidence_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE places SET confidence`).
		WithArgs("gone", pgxmock.AnyArg(), 0.5, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateConfidence(context.Background(), "gone", model.ConfidenceMap{}, 0.5)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPostgresStore_ApplyGPID_WithLocation(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE places SET google_place_id = \$2, lat = \$3, lng = \$4, location = ST_GeomFromEWKB`).
		WithArgs("p1", "ChIJN1t_tDeuEmsRUsoyG83frY4", 34.03, -118.22, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := s.ApplyGPID(context.Background(), "p1", "ChIJN1t_tDeuEmsRUsoyG83frY4", ptr(34.03), ptr(-118.22))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyGPID_NoLocation(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE places SET google_place_id = \$2, updated_at`).
		WithArgs("p1", "ChIJN1t_tDeuEmsRUsoyG83frY4", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.ApplyGPID(context.Background(), "p1", "ChIJN1t_tDeuEmsRUsoyG83frY4", nil, nil)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_KnownLocationForGPID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT lat, lng FROM raw_records`).
		WithArgs("gpid-1").
		WillReturnRows(pgxmock.NewRows([]string{"lat", "lng"}).AddRow(34.1, -118.3))
	mock.ExpectQuery(`SELECT lat, lng FROM raw_records`).
		WithArgs("gpid-2").
		WillReturnError(pgx.ErrNoRows)

	lat, lng, ok, err := s.KnownLocationForGPID(context.Background(), "gpid-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 34.1, lat)
	assert.Equal(t, -118.3, lng)

	_, _, ok, err = s.KnownLocationForGPID(context.Background(), "gpid-2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertRawRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO raw_records`).
		WithArgs(pgxmock.AnyArg(), "p1", "ai_extract", []byte(`{"name":"Bestia"}`),
			pgxmock.AnyArg(), pgxmock.AnyArg(), false, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := &model.RawRecord{PlaceID: "p1", SourceName: "ai_extract", RawJSON: json.RawMessage(`{"name":"Bestia"}`)}
	require.NoError(t, s.InsertRawRecord(context.Background(), rec))
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TrustTiers(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, trust_tier FROM sources`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "trust_tier"}).
			AddRow("google_places", 0.85).
			AddRow("eater", 0.75))

	tiers, err := s.TrustTiers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"google_places": 0.85, "eater": 0.75}, tiers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SyncSources(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_sources"}, []string{"id", "trust_tier", "updated_at"}).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "sources"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.SyncSources(context.Background(), map[string]float64{"michelin": 0.9})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS places`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgres_EmptyURL(t *testing.T) {
	_, err := NewPostgres(context.Background(), "", nil)
	assert.ErrorContains(t, err, "database url is empty")
}
