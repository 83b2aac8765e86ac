// Package mocks provides test doubles for the google client.
package mocks

import (
	"context"

	google "github.com/sells-group/place-resolver/pkg/google"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// SearchText provides a mock function with given fields: ctx, req
func (_m *MockClient) SearchText(ctx context.Context, req google.TextSearchRequest) ([]google.Place, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for SearchText")
	}

	var r0 []google.Place
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, google.TextSearchRequest) ([]google.Place, error)); ok {
		return rf(ctx, req)
	}
	if rf, ok := ret.Get(0).(func(context.Context, google.TextSearchRequest) []google.Place); ok {
		r0 = rf(ctx, req)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]google.Place)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, google.TextSearchRequest) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// SearchNearby provides a mock function with given fields: ctx, req
func (_m *MockClient) SearchNearby(ctx context.Context, req google.NearbySearchRequest) ([]google.Place, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for SearchNearby")
	}

	var r0 []google.Place
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, google.NearbySearchRequest) ([]google.Place, error)); ok {
		return rf(ctx, req)
	}
	if rf, ok := ret.Get(0).(func(context.Context, google.NearbySearchRequest) []google.Place); ok {
		r0 = rf(ctx, req)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]google.Place)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, google.NearbySearchRequest) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// GetDetails provides a mock function with given fields: ctx, placeID
func (_m *MockClient) GetDetails(ctx context.Context, placeID string) (*google.Place, error) {
	ret := _m.Called(ctx, placeID)

	if len(ret) == 0 {
		panic("no return value specified for GetDetails")
	}

	var r0 *google.Place
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*google.Place, error)); ok {
		return rf(ctx, placeID)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) *google.Place); ok {
		r0 = rf(ctx, placeID)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*google.Place)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, placeID)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockClient creates a new instance of MockClient.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	mock := &MockClient{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
