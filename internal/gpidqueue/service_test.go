package gpidqueue

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

const (
	gpidA = "ChIJaaaaaaaaaaaaaaaaaaaa"
	gpidB = "ChIJbbbbbbbbbbbbbbbbbbbb"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) ListGpidQueue(ctx context.Context, f model.GpidQueueFilter) ([]model.GpidQueueItem, int, error) {
	args := m.Called(ctx, f)
	items, _ := args.Get(0).([]model.GpidQueueItem)
	return items, args.Int(1), args.Error(2)
}

func (m *mockStore) GpidQueueStats(ctx context.Context) (model.GpidQueueStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.GpidQueueStats), args.Error(1)
}

func (m *mockStore) GetGpidQueueItem(ctx context.Context, id string) (*model.GpidQueueItem, error) {
	args := m.Called(ctx, id)
	it, _ := args.Get(0).(*model.GpidQueueItem)
	return it, args.Error(1)
}

func (m *mockStore) DecideGpid(ctx context.Context, id string, d model.GpidDecision) error {
	args := m.Called(ctx, id, d)
	return args.Error(0)
}

func newTestService(t *testing.T) (*Service, *mockStore) {
	t.Helper()
	st := &mockStore{}
	t.Cleanup(func() { st.AssertExpectations(t) })
	return NewService(st), st
}

func pendingItem(id, candidate string) *model.GpidQueueItem {
	return &model.GpidQueueItem{
		ID:             id,
		PlaceID:        "place-" + id,
		CandidateGPID:  candidate,
		ResolverStatus: model.ResolverAmbiguous,
		ReasonCode:     model.ReasonTextMultiResults,
		HumanStatus:    model.HumanPending,
	}
}

func TestList_Defaults(t *testing.T) {
	svc, st := newTestService(t)
	st.On("ListGpidQueue", mock.Anything, model.GpidQueueFilter{
		HumanStatus: model.HumanPending,
		Sort:        model.SortSimilarityDesc,
		Limit:       50,
	}).Return([]model.GpidQueueItem{*pendingItem("q1", gpidA)}, 12, nil)
	st.On("GpidQueueStats", mock.Anything).Return(model.GpidQueueStats{Pending: 12, Approved: 3, Rejected: 1, Ambiguous: 2}, nil)

	page, err := svc.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.Equal(t, Pagination{Total: 12, Offset: 0, Limit: 50}, page.Pagination)
	assert.Equal(t, 3, page.Stats.Approved)
	assert.Equal(t, 2, page.Stats.Ambiguous)
}

func TestList_PassesFilters(t *testing.T) {
	svc, st := newTestService(t)
	st.On("ListGpidQueue", mock.Anything, model.GpidQueueFilter{
		HumanStatus:    model.HumanApproved,
		ResolverStatus: model.ResolverNoMatch,
		ReasonCode:     model.ReasonTextZeroResults,
		Sort:           model.SortCreatedDesc,
		Limit:          10,
		Offset:         20,
	}).Return(nil, 0, nil)
	st.On("GpidQueueStats", mock.Anything).Return(model.GpidQueueStats{}, nil)

	page, err := svc.List(context.Background(), Filter{
		HumanStatus:    model.HumanApproved,
		ResolverStatus: model.ResolverNoMatch,
		ReasonCode:     model.ReasonTextZeroResults,
		Sort:           model.SortCreatedDesc,
		Limit:          10,
		Offset:         20,
	})
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
}

func TestList_StoreError(t *testing.T) {
	svc, st := newTestService(t)
	st.On("ListGpidQueue", mock.Anything, mock.Anything).Return(nil, 0, errors.New("down"))

	_, err := svc.List(context.Background(), Filter{})
	assert.ErrorContains(t, err, "gpidqueue: list")
}

func TestApprove_ExplicitGPID(t *testing.T) {
	svc, st := newTestService(t)
	st.On("GetGpidQueueItem", mock.Anything, "q1").Return(pendingItem("q1", gpidA), nil)
	st.On("DecideGpid", mock.Anything, "q1", model.GpidDecision{
		Status: model.HumanApproved, GPID: gpidB, Reviewer: "ana", Note: "second result",
	}).Return(nil)

	require.NoError(t, svc.Approve(context.Background(), "q1", " "+gpidB+" ", "ana", "second result"))
}

func TestApprove_FallsBackToCandidate(t *testing.T) {
	svc, st := newTestService(t)
	st.On("GetGpidQueueItem", mock.Anything, "q1").Return(pendingItem("q1", gpidA), nil)
	st.On("DecideGpid", mock.Anything, "q1", model.GpidDecision{
		Status: model.HumanApproved, GPID: gpidA, Reviewer: "ana",
	}).Return(nil)

	require.NoError(t, svc.Approve(context.Background(), "q1", "", "ana", ""))
}

func TestApprove_RejectsShortGPID(t *testing.T) {
	svc, st := newTestService(t)
	st.On("GetGpidQueueItem", mock.Anything, "q1").Return(pendingItem("q1", ""), nil)

	err := svc.Approve(context.Background(), "q1", "ChIJshort", "ana", "")
	assert.True(t, errors.Is(err, ErrInvalidGPID))

	err = svc.Approve(context.Background(), "q1", "", "ana", "")
	assert.True(t, errors.Is(err, ErrInvalidGPID))
	st.AssertNotCalled(t, "DecideGpid", mock.Anything, mock.Anything, mock.Anything)
}

func TestApprove_NotPending(t *testing.T) {
	svc, st := newTestService(t)
	it := pendingItem("q1", gpidA)
	it.HumanStatus = model.HumanRejected
	st.On("GetGpidQueueItem", mock.Anything, "q1").Return(it, nil)

	err := svc.Approve(context.Background(), "q1", "", "ana", "")
	assert.True(t, errors.Is(err, ErrAlreadyResolved))
}

func TestApprove_LostRace(t *testing.T) {
	svc, st := newTestService(t)
	st.On("GetGpidQueueItem", mock.Anything, "q1").Return(pendingItem("q1", gpidA), nil)
	st.On("DecideGpid", mock.Anything, "q1", mock.Anything).
		Return(eris.Wrap(model.ErrStateChanged, "postgres: gpid item q1 is APPROVED"))

	err := svc.Approve(context.Background(), "q1", "", "bo", "")
	assert.True(t, errors.Is(err, ErrAlreadyResolved))
}

func TestGet_NotFound(t *testing.T) {
	svc, st := newTestService(t)
	st.On("GetGpidQueueItem", mock.Anything, "nope").Return(nil, eris.Wrap(model.ErrNotFound, "postgres: gpid item nope"))

	_, err := svc.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReject(t *testing.T) {
	svc, st := newTestService(t)
	st.On("GetGpidQueueItem", mock.Anything, "q1").Return(pendingItem("q1", gpidA), nil)
	st.On("DecideGpid", mock.Anything, "q1", model.GpidDecision{
		Status: model.HumanRejected, Reviewer: "ana", Note: "closed",
	}).Return(nil)

	require.NoError(t, svc.Reject(context.Background(), "q1", "ana", "closed"))
}

func TestMarkAmbiguous(t *testing.T) {
	svc, st := newTestService(t)
	st.On("GetGpidQueueItem", mock.Anything, "q1").Return(pendingItem("q1", gpidA), nil)
	st.On("DecideGpid", mock.Anything, "q1", model.GpidDecision{
		Status: model.HumanAmbiguous, Reviewer: "ana",
	}).Return(nil)

	require.NoError(t, svc.MarkAmbiguous(context.Background(), "q1", "ana", ""))
}

func TestSkip(t *testing.T) {
	svc, st := newTestService(t)
	st.On("GetGpidQueueItem", mock.Anything, "q1").Return(pendingItem("q1", gpidA), nil).Once()

	require.NoError(t, svc.Skip(context.Background(), "q1"))

	done := pendingItem("q2", gpidA)
	done.HumanStatus = model.HumanApproved
	st.On("GetGpidQueueItem", mock.Anything, "q2").Return(done, nil).Once()
	assert.True(t, errors.Is(svc.Skip(context.Background(), "q2"), ErrAlreadyResolved))
	st.AssertNotCalled(t, "DecideGpid", mock.Anything, mock.Anything, mock.Anything)
}
