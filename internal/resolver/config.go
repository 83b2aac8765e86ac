package resolver

import (
	"time"

	"github.com/sells-group/place-resolver/internal/config"
	"github.com/sells-group/place-resolver/internal/resilience"
	"github.com/sells-group/place-resolver/pkg/google"
)

// MinGPIDLength is the shortest Google place id treated as plausible.
const MinGPIDLength = 20

// Config holds the resolver thresholds and call policy.
type Config struct {
	// NearbyRadiusM is both the nearby search radius and the maximum
	// distance of a strong nearby match.
	NearbyRadiusM  float64
	NameSimilarity float64
	MaxResults     int
	MaxCandidates  int
	// DistanceSafetyFraction is the largest ratio of the closest candidate's
	// squared distance to the runner-up's that still counts as a clear winner.
	DistanceSafetyFraction float64
	CallTimeout            time.Duration
	Retry                  resilience.RetryConfig

	City        string
	Centroid    google.LatLng
	BiasRadiusM float64
}

// DefaultConfig returns the production resolver settings for Los Angeles.
func DefaultConfig() Config {
	return Config{
		NearbyRadiusM:          200,
		NameSimilarity:         0.85,
		MaxResults:             5,
		MaxCandidates:          7,
		DistanceSafetyFraction: 0.25,
		CallTimeout:            10 * time.Second,
		Retry:                  resilience.DefaultRetryConfig(),
		City:                   "Los Angeles",
		Centroid:               google.LatLng{Latitude: 34.078, Longitude: -118.261},
		BiasRadiusM:            50000,
	}
}

// FromConfig builds a Config from the application config section. Zero
// values keep the defaults.
func FromConfig(c config.ResolverConfig) Config {
	cfg := DefaultConfig()
	if c.NearbyRadiusM > 0 {
		cfg.NearbyRadiusM = c.NearbyRadiusM
	}
	if c.NameSimilarity > 0 {
		cfg.NameSimilarity = c.NameSimilarity
	}
	if c.MaxResults > 0 {
		cfg.MaxResults = c.MaxResults
	}
	if c.MaxCandidates > 0 {
		cfg.MaxCandidates = c.MaxCandidates
	}
	if c.DistanceSafetyFraction > 0 {
		cfg.DistanceSafetyFraction = c.DistanceSafetyFraction
	}
	if c.CallTimeoutSecs > 0 {
		cfg.CallTimeout = time.Duration(c.CallTimeoutSecs) * time.Second
	}
	cfg.Retry = resilience.FromRetryConfig(c.Retry)
	if c.Region.City != "" {
		cfg.City = c.Region.City
	}
	if c.Region.Lat != 0 || c.Region.Lng != 0 {
		cfg.Centroid = google.LatLng{Latitude: c.Region.Lat, Longitude: c.Region.Lng}
	}
	if c.Region.RadiusM > 0 {
		cfg.BiasRadiusM = c.Region.RadiusM
	}
	return cfg
}
