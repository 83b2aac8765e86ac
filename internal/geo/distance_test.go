package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversine(t *testing.T) {
	assert.Equal(t, 0.0, Haversine(34.05, -118.25, 34.05, -118.25))

	// One thousandth of a degree of latitude is about 111 meters.
	d := Haversine(34.000, -118.25, 34.001, -118.25)
	assert.InDelta(t, 111.2, d, 0.5)

	// Downtown LA to Santa Monica pier, roughly 24 km.
	d = Haversine(34.0522, -118.2437, 34.0094, -118.4973)
	assert.InDelta(t, 23800, d, 500)

	assert.InDelta(t, Haversine(1, 2, 3, 4), Haversine(3, 4, 1, 2), 1e-6, "symmetric")
}

func TestDistance(t *testing.T) {
	lat1, lng1 := 34.0, -118.0
	lat2, lng2 := 34.0001, -118.0

	d, ok := Distance(&lat1, &lng1, &lat2, &lng2)
	require.True(t, ok)
	assert.InDelta(t, 11.1, d, 0.2)

	_, ok = Distance(nil, &lng1, &lat2, &lng2)
	assert.False(t, ok)
}

func TestEncodePoint_RoundTrip(t *testing.T) {
	data, err := EncodePoint(34.078, -118.261)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, byte(1), data[0], "little-endian")

	lat, lng, err := DecodePoint(data)
	require.NoError(t, err)
	assert.InDelta(t, 34.078, lat, 1e-9)
	assert.InDelta(t, -118.261, lng, 1e-9)
}

func TestDecodePoint_Invalid(t *testing.T) {
	_, _, err := DecodePoint([]byte{0x01, 0x02})
	assert.ErrorContains(t, err, "geo: decode point")
}
