// Package geo provides great-circle distance, proximity buckets and point
// encoding for place coordinates.
package geo

// Proximity buckets for a pair of records.
const (
	ProximitySameStorefront  = "likely same storefront"
	ProximitySameBlock       = "same block"
	ProximityNearby          = "nearby"
	ProximityDifferentBlocks = "different blocks"
)

// Bucket thresholds (meters).
const (
	storefrontThreshold = 20.0
	blockThreshold      = 50.0
	nearbyThreshold     = 100.0
)

// Classify returns the proximity bucket for a distance in meters and whether
// the distance should be surfaced as a warning.
// Rules:
//   - likely same storefront: < 20m
//   - same block: < 50m
//   - nearby: < 100m
//   - different blocks: >= 100m (warning)
func Classify(meters float64) (string, bool) {
	switch {
	case meters < storefrontThreshold:
		return ProximitySameStorefront, false
	case meters < blockThreshold:
		return ProximitySameBlock, false
	case meters < nearbyThreshold:
		return ProximityNearby, false
	}
	return ProximityDifferentBlocks, true
}
