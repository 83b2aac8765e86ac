package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/place-resolver/internal/model"
)

var reviewColumns = []string{
	"id", "conflict_type", "canonical_id", "match_confidence", "conflicting_fields", "priority",
	"status", "resolution", "resolved_by", "resolved_at", "notes", "created_at",
	"a_id", "a_source", "a_raw", "a_lat", "a_lng",
	"b_id", "b_source", "b_raw", "b_lat", "b_lng",
}

func reviewRow(id string) []any {
	return []any{
		id, "potential_duplicate", "", ptr(0.72), []byte(`["phone"]`), 6,
		"pending", "", "", nil, "", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		"ra", "editorial", []byte(`{"name":"Bestia","neighborhood":"Arts District","cuisine":"Italian"}`), ptr(34.0339), ptr(-118.2293),
		ptr("rb"), ptr("google_places"), []byte(`{"displayName":{"text":"Bestia"},"formattedAddress":"2121 E 7th Pl","nationalPhoneNumber":"(213) 514-5724"}`), ptr(34.0340), ptr(-118.2294),
	}
}

func TestPostgresStore_ListReviewItems(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	statuses := []string{"pending", "deferred"}
	mock.ExpectQuery(`SELECT count\(\*\) FROM review_queue`).
		WithArgs(statuses).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`ORDER BY q.priority DESC, q.created_at ASC LIMIT \$2`).
		WithArgs(statuses, 50).
		WillReturnRows(pgxmock.NewRows(reviewColumns).AddRow(reviewRow("q1")...))

	items, total, err := s.ListReviewItems(context.Background(), model.ReviewFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)

	it := items[0]
	assert.Equal(t, model.ConflictPotentialDuplicate, it.ConflictType)
	assert.Equal(t, []string{"phone"}, it.ConflictingFields)
	assert.Equal(t, 6, it.Priority)
	assert.Equal(t, "Bestia", it.RecordA.Name)
	assert.Equal(t, "Italian", it.RecordA.Category)
	require.NotNil(t, it.RecordB)
	assert.Equal(t, "google_places", it.RecordB.SourceName)
	assert.Equal(t, "Bestia", it.RecordB.Name)
	assert.Equal(t, "2121 E 7th Pl", it.RecordB.Address)
	assert.Equal(t, "(213) 514-5724", it.RecordB.Phone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateReviewItem(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO review_queue`).
		WithArgs(pgxmock.AnyArg(), "potential_duplicate", "ra", pgxmock.AnyArg(), "", pgxmock.AnyArg(),
			[]byte(`["name"]`), 5, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	it := &model.DuplicateReviewItem{
		ConflictType:      model.ConflictPotentialDuplicate,
		RecordA:           &model.ReviewRecord{RawID: "ra"},
		RecordB:           &model.ReviewRecord{RawID: "rb"},
		ConflictingFields: []string{"name"},
	}
	require.NoError(t, s.CreateReviewItem(context.Background(), it))
	assert.NotEmpty(t, it.QueueID)
	assert.Equal(t, model.ReviewPending, it.Status)
	assert.NoError(t, mock.ExpectationsWereMet())

	err := s.CreateReviewItem(context.Background(), &model.DuplicateReviewItem{})
	assert.ErrorContains(t, err, "needs record a")
}

func TestPostgresStore_ResolveReviewItem_Merged(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE review_queue SET status = 'resolved'`).
		WithArgs("q1", "merged", "bob", pgxmock.AnyArg(), "same chef").
		WillReturnRows(pgxmock.NewRows([]string{"raw_record_a", "raw_record_b", "canonical_id", "match_confidence"}).
			AddRow("ra", ptr("rb"), ptr("place-9"), ptr(0.7)))
	mock.ExpectExec(`INSERT INTO entity_links`).
		WithArgs("ra", "place-9", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO entity_links`).
		WithArgs("rb", "place-9", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE raw_records SET processed = true`).
		WithArgs([]string{"ra", "rb"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	err := s.ResolveReviewItem(context.Background(), model.ReviewDecision{
		QueueID: "q1", Resolution: model.ResolutionMerged, Notes: "same chef", Reviewer: "bob",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolveReviewItem_MergedNewCanonical(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE review_queue`).
		WithArgs("q1", "merged", "", pgxmock.AnyArg(), "").
		WillReturnRows(pgxmock.NewRows([]string{"raw_record_a", "raw_record_b", "canonical_id", "match_confidence"}).
			AddRow("ra", nil, nil, nil))
	mock.ExpectExec(`INSERT INTO entity_links`).
		WithArgs("ra", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE raw_records SET processed = true`).
		WithArgs([]string{"ra"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := s.ResolveReviewItem(context.Background(), model.ReviewDecision{QueueID: "q1", Resolution: model.ResolutionMerged})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolveReviewItem_KeptSeparate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE review_queue`).
		WithArgs("q1", "kept_separate", "", pgxmock.AnyArg(), "").
		WillReturnRows(pgxmock.NewRows([]string{"raw_record_a", "raw_record_b", "canonical_id", "match_confidence"}).
			AddRow("ra", ptr("rb"), nil, nil))
	mock.ExpectExec(`UPDATE raw_records SET processed = true`).
		WithArgs([]string{"ra", "rb"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	err := s.ResolveReviewItem(context.Background(), model.ReviewDecision{QueueID: "q1", Resolution: model.ResolutionKeptSeparate})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolveReviewItem_FlaggedTouchesStatusOnly(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE review_queue`).
		WithArgs("q1", "flagged", "", pgxmock.AnyArg(), "").
		WillReturnRows(pgxmock.NewRows([]string{"raw_record_a", "raw_record_b", "canonical_id", "match_confidence"}).
			AddRow("ra", ptr("rb"), nil, nil))
	mock.ExpectCommit()

	err := s.ResolveReviewItem(context.Background(), model.ReviewDecision{QueueID: "q1", Resolution: model.ResolutionFlagged})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolveReviewItem_AlreadyResolved(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE review_queue`).
		WithArgs("q1", "merged", "", pgxmock.AnyArg(), "").
		WillReturnRows(pgxmock.NewRows([]string{"raw_record_a", "raw_record_b", "canonical_id", "match_confidence"}))
	mock.ExpectQuery(`SELECT status FROM review_queue`).
		WithArgs("q1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("resolved"))
	mock.ExpectRollback()

	err := s.ResolveReviewItem(context.Background(), model.ReviewDecision{QueueID: "q1", Resolution: model.ResolutionMerged})
	assert.ErrorIs(t, err, model.ErrStateChanged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeferReviewItem(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE review_queue SET status = 'deferred', priority = LEAST`).
		WithArgs("q1", MaxReviewPriority).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.DeferReviewItem(context.Background(), "q1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeferReviewItem_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE review_queue SET status = 'deferred'`).
		WithArgs("q404", MaxReviewPriority).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM review_queue`).
		WithArgs("q404").
		WillReturnRows(pgxmock.NewRows([]string{"status"}))

	err := s.DeferReviewItem(context.Background(), "q404")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReviewStats(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT status, count\(\*\) FROM review_queue GROUP BY status`).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 4).
			AddRow("resolved", 9))

	st, err := s.ReviewStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.ReviewStats{Pending: 4, Resolved: 9}, st)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRecord_Hydration(t *testing.T) {
	r := reviewRecord("r1", "eater", []byte(`{"address":"  ","address_street":"","formatted_address":"1 Main St","category":"Bar"}`), nil, nil)
	assert.Equal(t, "1 Main St", r.Address, "blank values fall through to later keys")
	assert.Equal(t, "Bar", r.Category)
	assert.Empty(t, r.Name)

	r = reviewRecord("r2", "eater", []byte(`not json`), nil, nil)
	assert.Equal(t, "r2", r.RawID)
	assert.Empty(t, r.Name)
}
