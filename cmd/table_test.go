package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTable(t *testing.T) {
	out := renderTable(
		[]string{"Name", "Count"},
		[][]string{{"alpha", "1"}, {"beta"}},
		[]columnAlignment{alignLeft, alignRight},
	)
	assert.Contains(t, out, "Name")
	assert.Contains(t, out, "Count")
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "beta")
	assert.True(t, strings.HasPrefix(out, "╭"), "rounded style")
}

func TestRenderTable_NoHeaders(t *testing.T) {
	assert.Empty(t, renderTable(nil, [][]string{{"x"}}, nil))
}

func TestTruncateCell(t *testing.T) {
	assert.Equal(t, "short", truncateCell("short", 10))
	assert.Equal(t, "Taquer…", truncateCell("Taqueria del Sol", 7))
	assert.Equal(t, "Caf…", truncateCell("Café Lola", 4))
	assert.Equal(t, "abc", truncateCell("abc", 1))
}

func TestAcquireBatchLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.lock")

	unlock, err := acquireBatchLock(path)
	require.NoError(t, err)

	_, err = acquireBatchLock(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another batch job")

	unlock()
	unlock2, err := acquireBatchLock(path)
	require.NoError(t, err)
	unlock2()
}
