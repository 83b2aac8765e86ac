package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Confidence ConfidenceConfig `yaml:"confidence" mapstructure:"confidence"`
	Fusion     FusionConfig     `yaml:"fusion" mapstructure:"fusion"`
	Resolver   ResolverConfig   `yaml:"resolver" mapstructure:"resolver"`
	GpidQueue  GpidQueueConfig  `yaml:"gpid_queue" mapstructure:"gpid_queue"`
	Review     ReviewConfig     `yaml:"review" mapstructure:"review"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backends.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	OutboxPath  string `yaml:"outbox_path" mapstructure:"outbox_path"`
}

// GoogleConfig holds Places API settings.
type GoogleConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// AnthropicConfig holds Anthropic API settings for article extraction.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ConfidenceConfig holds field confidence scoring parameters.
type ConfidenceConfig struct {
	AgreementBoost  float64            `yaml:"agreement_boost" mapstructure:"agreement_boost"`
	ConflictPenalty float64            `yaml:"conflict_penalty" mapstructure:"conflict_penalty"`
	GeocodeBoost    float64            `yaml:"geocode_boost" mapstructure:"geocode_boost"`
	ManualSourceID  string             `yaml:"manual_source_id" mapstructure:"manual_source_id"`
	SourcesFile     string             `yaml:"sources_file" mapstructure:"sources_file"`
	Weights         map[string]float64 `yaml:"weights" mapstructure:"weights"`
}

// FusionConfig configures the confidence backfill batch.
type FusionConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// RetryConfig configures bounded exponential backoff for external calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// RegionConfig describes the geographic scope and text search bias centroid.
type RegionConfig struct {
	Name string  `yaml:"name" mapstructure:"name"`
	City string  `yaml:"city" mapstructure:"city"`
	Lat  float64 `yaml:"lat" mapstructure:"lat"`
	Lng  float64 `yaml:"lng" mapstructure:"lng"`
	// RadiusM is the location bias radius for text search.
	RadiusM float64 `yaml:"radius_m" mapstructure:"radius_m"`
}

// ResolverConfig configures the GPID resolver.
type ResolverConfig struct {
	NearbyRadiusM          float64      `yaml:"nearby_radius_m" mapstructure:"nearby_radius_m"`
	NameSimilarity         float64      `yaml:"name_similarity" mapstructure:"name_similarity"`
	MaxResults             int          `yaml:"max_results" mapstructure:"max_results"`
	MaxCandidates          int          `yaml:"max_candidates" mapstructure:"max_candidates"`
	DistanceSafetyFraction float64      `yaml:"distance_safety_fraction" mapstructure:"distance_safety_fraction"`
	InterCallDelayMs       int          `yaml:"inter_call_delay_ms" mapstructure:"inter_call_delay_ms"`
	CallTimeoutSecs        int          `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	CircuitFailures        int          `yaml:"circuit_failures" mapstructure:"circuit_failures"`
	CircuitResetSecs       int          `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
	Retry                  RetryConfig  `yaml:"retry" mapstructure:"retry"`
	Region                 RegionConfig `yaml:"region" mapstructure:"region"`
}

// GpidQueueConfig configures the GPID review queue.
type GpidQueueConfig struct {
	MinGPIDLength int `yaml:"min_gpid_length" mapstructure:"min_gpid_length"`
	PageSize      int `yaml:"page_size" mapstructure:"page_size"`
}

// ReviewConfig configures the duplicate review queue and its outbox worker.
type ReviewConfig struct {
	OutboxMaxAttempts int         `yaml:"outbox_max_attempts" mapstructure:"outbox_max_attempts"`
	DrainIntervalSecs int         `yaml:"drain_interval_secs" mapstructure:"drain_interval_secs"`
	Retry             RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// BatchConfig configures batch job coordination.
type BatchConfig struct {
	LockPath string `yaml:"lock_path" mapstructure:"lock_path"`
}

// ServerConfig configures the review API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env files, config file, and environment.
func Load() (*Config, error) {
	// .env files are optional; existing environment variables win.
	for _, f := range []string{".env.local", ".env"} {
		_ = godotenv.Load(f)
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PLACES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.outbox_path", "review-outbox.db")
	v.SetDefault("google.key", "")
	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("google.timeout_secs", 10)
	v.SetDefault("google.rate_per_sec", 5.0)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("confidence.agreement_boost", 0.05)
	v.SetDefault("confidence.conflict_penalty", 0.10)
	v.SetDefault("confidence.geocode_boost", 0.05)
	v.SetDefault("confidence.manual_source_id", "manual_owner")
	v.SetDefault("confidence.sources_file", "")
	v.SetDefault("fusion.concurrency", 8)
	v.SetDefault("resolver.nearby_radius_m", 200.0)
	v.SetDefault("resolver.name_similarity", 0.85)
	v.SetDefault("resolver.max_results", 5)
	v.SetDefault("resolver.max_candidates", 7)
	v.SetDefault("resolver.distance_safety_fraction", 0.25)
	v.SetDefault("resolver.inter_call_delay_ms", 200)
	v.SetDefault("resolver.call_timeout_secs", 10)
	v.SetDefault("resolver.circuit_failures", 5)
	v.SetDefault("resolver.circuit_reset_secs", 30)
	v.SetDefault("resolver.retry.max_attempts", 3)
	v.SetDefault("resolver.retry.initial_backoff_ms", 1000)
	v.SetDefault("resolver.retry.max_backoff_ms", 8000)
	v.SetDefault("resolver.retry.multiplier", 2.0)
	v.SetDefault("resolver.retry.jitter_fraction", 0.0)
	v.SetDefault("resolver.region.name", "la")
	v.SetDefault("resolver.region.city", "Los Angeles")
	v.SetDefault("resolver.region.lat", 34.078)
	v.SetDefault("resolver.region.lng", -118.261)
	v.SetDefault("resolver.region.radius_m", 50000.0)
	v.SetDefault("gpid_queue.min_gpid_length", 20)
	v.SetDefault("gpid_queue.page_size", 50)
	v.SetDefault("review.outbox_max_attempts", 8)
	v.SetDefault("review.drain_interval_secs", 5)
	v.SetDefault("review.retry.max_attempts", 3)
	v.SetDefault("review.retry.initial_backoff_ms", 250)
	v.SetDefault("review.retry.max_backoff_ms", 4000)
	v.SetDefault("review.retry.multiplier", 2.0)
	v.SetDefault("review.retry.jitter_fraction", 0.1)
	v.SetDefault("batch.lock_path", "/tmp/place-resolver.lock")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings required by a command mode are present.
// Modes: "confidence", "resolve", "review", "extract", "serve", "migrate".
func (c *Config) Validate(mode string) error {
	var errs []string

	needDB := func() {
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	}
	checkFraction := func(name string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, name+" must be between 0 and 1")
		}
	}

	switch mode {
	case "confidence":
		needDB()
		if c.Fusion.Concurrency < 1 || c.Fusion.Concurrency > 64 {
			errs = append(errs, "fusion.concurrency must be between 1 and 64")
		}
		checkFraction("confidence.agreement_boost", c.Confidence.AgreementBoost)
		checkFraction("confidence.conflict_penalty", c.Confidence.ConflictPenalty)
		checkFraction("confidence.geocode_boost", c.Confidence.GeocodeBoost)
		if c.Confidence.ManualSourceID == "" {
			errs = append(errs, "confidence.manual_source_id is required")
		}
	case "resolve":
		needDB()
		if c.Google.Key == "" {
			errs = append(errs, "google.key is required")
		}
		checkFraction("resolver.name_similarity", c.Resolver.NameSimilarity)
		checkFraction("resolver.distance_safety_fraction", c.Resolver.DistanceSafetyFraction)
		if c.Resolver.Retry.MaxAttempts < 1 {
			errs = append(errs, "resolver.retry.max_attempts must be >= 1")
		}
		if c.Resolver.CallTimeoutSecs < 1 {
			errs = append(errs, "resolver.call_timeout_secs must be >= 1")
		}
	case "review":
		needDB()
		if c.Store.OutboxPath == "" {
			errs = append(errs, "store.outbox_path is required")
		}
	case "extract":
		needDB()
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	case "migrate":
		needDB()
	case "serve":
		needDB()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Store.OutboxPath == "" {
			errs = append(errs, "store.outbox_path is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
