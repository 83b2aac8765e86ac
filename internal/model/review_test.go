package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReviewStatus_Open(t *testing.T) {
	t.Parallel()

	assert.True(t, ReviewPending.Open())
	assert.True(t, ReviewDeferred.Open())
	assert.False(t, ReviewResolved.Open())
}

func TestParseDecision(t *testing.T) {
	t.Parallel()

	for _, d := range []Decision{DecisionMerge, DecisionDifferent, DecisionSkip, DecisionFlag} {
		got, err := ParseDecision(string(d))
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}

	_, err := ParseDecision("MERGE")
	assert.True(t, errors.Is(err, ErrUnknownStatus))
}

func TestDecision_Resolution(t *testing.T) {
	t.Parallel()

	tests := []struct {
		decision Decision
		want     Resolution
		ok       bool
	}{
		{DecisionMerge, ResolutionMerged, true},
		{DecisionDifferent, ResolutionKeptSeparate, true},
		{DecisionFlag, ResolutionFlagged, true},
		{DecisionSkip, "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.decision), func(t *testing.T) {
			t.Parallel()
			got, ok := tt.decision.Resolution()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseResolution(t *testing.T) {
	t.Parallel()

	got, err := ParseResolution("kept_separate")
	require.NoError(t, err)
	assert.Equal(t, ResolutionKeptSeparate, got)

	_, err = ParseResolution("deleted")
	assert.True(t, errors.Is(err, ErrUnknownStatus))
}
