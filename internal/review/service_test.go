package review

import (
	"context"
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/place-resolver/internal/model"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateReviewItem(ctx context.Context, it *model.DuplicateReviewItem) error {
	return m.Called(ctx, it).Error(0)
}

func (m *mockStore) ListReviewItems(ctx context.Context, f model.ReviewFilter) ([]model.DuplicateReviewItem, int, error) {
	args := m.Called(ctx, f)
	items, _ := args.Get(0).([]model.DuplicateReviewItem)
	return items, args.Int(1), args.Error(2)
}

func (m *mockStore) GetReviewItem(ctx context.Context, id string) (*model.DuplicateReviewItem, error) {
	args := m.Called(ctx, id)
	it, _ := args.Get(0).(*model.DuplicateReviewItem)
	return it, args.Error(1)
}

func (m *mockStore) ResolveReviewItem(ctx context.Context, d model.ReviewDecision) error {
	return m.Called(ctx, d).Error(0)
}

func (m *mockStore) DeferReviewItem(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockStore) ReviewStats(ctx context.Context) (model.ReviewStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.ReviewStats), args.Error(1)
}

func newTestService(t *testing.T) (*Service, *mockStore) {
	t.Helper()
	st := &mockStore{}
	t.Cleanup(func() { st.AssertExpectations(t) })
	return NewService(st), st
}

func pair(id string) model.DuplicateReviewItem {
	return model.DuplicateReviewItem{
		QueueID:      id,
		ConflictType: model.ConflictPotentialDuplicate,
		RecordA:      editorialRecord(),
		RecordB:      googleRecord(),
		Priority:     5,
		Status:       model.ReviewPending,
	}
}

func TestService_ListAddsEvidence(t *testing.T) {
	svc, st := newTestService(t)
	st.On("ListReviewItems", mock.Anything, model.ReviewFilter{Limit: 20}).
		Return([]model.DuplicateReviewItem{pair("r1"), pair("r2")}, 7, nil)
	st.On("ReviewStats", mock.Anything).Return(model.ReviewStats{Pending: 6, Deferred: 1, Resolved: 40}, nil)

	page, err := svc.List(context.Background(), model.ReviewFilter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "r1", page.Items[0].QueueID)
	require.NotNil(t, page.Items[0].Evidence.DistanceM)
	assert.Equal(t, Pagination{Total: 7, Offset: 0, Limit: 20}, page.Pagination)
	assert.Equal(t, 40, page.Stats.Resolved)
}

func TestService_ListError(t *testing.T) {
	svc, st := newTestService(t)
	st.On("ListReviewItems", mock.Anything, mock.Anything).Return(nil, 0, errors.New("down"))

	_, err := svc.List(context.Background(), model.ReviewFilter{})
	assert.ErrorContains(t, err, "review: list")
}

func TestService_CreateFillsConflicts(t *testing.T) {
	svc, st := newTestService(t)
	it := pair("")
	it.ConflictType = ""
	st.On("CreateReviewItem", mock.Anything, mock.MatchedBy(func(it *model.DuplicateReviewItem) bool {
		return it.ConflictType == model.ConflictPotentialDuplicate &&
			assert.ObjectsAreEqual([]string{"neighborhood"}, it.ConflictingFields)
	})).Return(nil)

	require.NoError(t, svc.Create(context.Background(), &it))
}

func TestService_CreateNeedsRecordA(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.Create(context.Background(), &model.DuplicateReviewItem{})
	assert.ErrorContains(t, err, "needs record a")
}

func TestService_Resolve(t *testing.T) {
	svc, st := newTestService(t)
	d := model.ReviewDecision{QueueID: "r1", Resolution: model.ResolutionMerged, Reviewer: "ana"}
	st.On("ResolveReviewItem", mock.Anything, d).Return(nil)

	require.NoError(t, svc.Resolve(context.Background(), d))
}

func TestService_ResolveRejectsUnknownResolution(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.Resolve(context.Background(), model.ReviewDecision{QueueID: "r1", Resolution: "dismissed"})
	assert.True(t, errors.Is(err, ErrIllegalTransition))
}

func TestService_ResolveMapsStoreErrors(t *testing.T) {
	svc, st := newTestService(t)
	st.On("ResolveReviewItem", mock.Anything, mock.MatchedBy(func(d model.ReviewDecision) bool { return d.QueueID == "gone" })).
		Return(eris.Wrap(model.ErrNotFound, "postgres: review item gone"))
	st.On("ResolveReviewItem", mock.Anything, mock.MatchedBy(func(d model.ReviewDecision) bool { return d.QueueID == "done" })).
		Return(eris.Wrap(model.ErrStateChanged, "postgres: review item done is resolved"))

	err := svc.Resolve(context.Background(), model.ReviewDecision{QueueID: "gone", Resolution: model.ResolutionFlagged})
	assert.True(t, errors.Is(err, ErrNotFound))

	err = svc.Resolve(context.Background(), model.ReviewDecision{QueueID: "done", Resolution: model.ResolutionFlagged})
	assert.True(t, errors.Is(err, ErrIllegalTransition))
}

func TestService_Apply(t *testing.T) {
	svc, st := newTestService(t)
	st.On("DeferReviewItem", mock.Anything, "r1").Return(nil)
	st.On("ResolveReviewItem", mock.Anything, model.ReviewDecision{
		QueueID: "r2", Resolution: model.ResolutionKeptSeparate, Notes: "two locations", Reviewer: "ana",
	}).Return(nil)

	ctx := context.Background()
	require.NoError(t, svc.Apply(ctx, Decision{QueueID: "r1", Decision: model.DecisionSkip}))
	require.NoError(t, svc.Apply(ctx, Decision{QueueID: "r2", Decision: model.DecisionDifferent, Notes: "two locations", Reviewer: "ana"}))

	err := svc.Apply(ctx, Decision{QueueID: "r3", Decision: "undo"})
	assert.True(t, errors.Is(err, ErrIllegalTransition))
}
