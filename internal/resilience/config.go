package resilience

import (
	"time"

	"github.com/sells-group/place-resolver/internal/config"
)

// FromRetryConfig converts a config section to a RetryConfig. Zero values
// keep the defaults.
func FromRetryConfig(c config.RetryConfig) RetryConfig {
	cfg := DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	if c.InitialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(c.InitialBackoffMs) * time.Millisecond
	}
	if c.MaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(c.MaxBackoffMs) * time.Millisecond
	}
	if c.Multiplier > 0 {
		cfg.Multiplier = c.Multiplier
	}
	if c.JitterFraction >= 0 {
		cfg.JitterFraction = c.JitterFraction
	}
	return cfg
}

// BreakerFromConfig builds a BreakerConfig from the resolver settings.
// Non-positive values keep the defaults.
func BreakerFromConfig(failures, cooldownSecs int) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if failures > 0 {
		cfg.Failures = failures
	}
	if cooldownSecs > 0 {
		cfg.Cooldown = time.Duration(cooldownSecs) * time.Second
	}
	return cfg
}
