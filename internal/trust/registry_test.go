package trust

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/place-resolver/internal/model"
)

func TestDefault(t *testing.T) {
	r := Default()

	s, ok := r.Score("google_places")
	require.True(t, ok)
	assert.InDelta(t, 0.85, s, 0.0001)

	_, ok = r.Score("yelp")
	assert.False(t, ok, "unknown sources have no entry")
	assert.Zero(t, r.Trust("yelp"))
	assert.True(t, r.Known("manual_owner"))
}

func TestCanonical(t *testing.T) {
	r := Default()
	assert.Equal(t, "google_places", r.Canonical("  Google "))
	assert.Equal(t, "michelin", r.Canonical("Michelin Guide"))
	assert.Equal(t, "eater", r.Canonical("eater_la"))
	assert.Equal(t, "some_blog", r.Canonical("Some_Blog"))
	assert.Equal(t, "", r.Canonical("   "))
}

func TestExtraction(t *testing.T) {
	r := Default()

	g := r.Extraction("google_places")
	assert.Equal(t, []string{"name", "displayName.text"}, g[model.FieldName])
	assert.Equal(t, []string{"description"}, g[model.FieldDescription], "unmapped fields use defaults")

	assert.Equal(t, []string{"address_street", "address"}, r.Extraction("eater")[model.FieldAddress])
	assert.Equal(t, DefaultFields, r.Extraction("unknown"))
}

func TestNew_Validation(t *testing.T) {
	_, err := New([]Source{{ID: "x", TrustTier: 1.2}})
	assert.ErrorContains(t, err, "outside [0,1]")

	_, err = New([]Source{{ID: ""}})
	assert.ErrorContains(t, err, "empty id")

	_, err = New([]Source{{ID: "a", TrustTier: 0.5}, {ID: "A", TrustTier: 0.6}})
	assert.ErrorContains(t, err, "duplicate source")

	_, err = New([]Source{{ID: "a", TrustTier: 0.5, Fields: map[string][]string{"category": {"cat"}}}})
	assert.ErrorIs(t, err, model.ErrUnknownField)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	data := `
sources:
  - id: google_places
    trust_tier: 0.85
    aliases: [google]
    fields:
      address: [formattedAddress]
  - id: la_times
    trust_tier: 0.7
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	r, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"google_places", "la_times"}, r.IDs())
	assert.Equal(t, []string{"formattedAddress"}, r.Extraction("google_places")[model.FieldAddress])
	assert.Equal(t, "google_places", r.Canonical("GOOGLE"))
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "trust: read")

	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sources: []\n"), 0o644))
	_, err = LoadFile(path)
	assert.ErrorContains(t, err, "defines no sources")
}

func TestWithTiers(t *testing.T) {
	base := Default()
	r, err := base.WithTiers(map[string]float64{"google_places": 0.7, "yelp": 0.4})
	require.NoError(t, err)

	assert.InDelta(t, 0.7, r.Trust("google_places"), 0.0001)
	assert.InDelta(t, 0.4, r.Trust("yelp"), 0.0001)
	assert.InDelta(t, 0.85, base.Trust("google_places"), 0.0001, "original is unchanged")
	assert.Equal(t, DefaultFields, r.Extraction("yelp"))

	_, err = base.WithTiers(map[string]float64{"x": -1})
	assert.Error(t, err)
}
