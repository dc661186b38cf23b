package config

import (
	"time"

	"github.com/alfredcs/reasonflow/types"
)

// Config is the complete reasonflow configuration.
type Config struct {
	// Algorithm holds the GVPO engine parameters.
	Algorithm AlgorithmConfig `yaml:"algorithm" env:"ALGORITHM"`

	// Trainer controls the training step loop.
	Trainer TrainerConfig `yaml:"trainer" env:"TRAINER"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Redis configures the rollout buffer transport.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database configures the run-history store.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Telemetry configures OpenTelemetry export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// AlgorithmConfig holds the GVPO parameters. Field semantics match
// gvpo.Config; they are duplicated here so that the YAML surface stays
// decoupled from the numerical core.
type AlgorithmConfig struct {
	// Beta is the KL temperature coefficient (>= 0).
	Beta float64 `yaml:"beta" env:"BETA"`
	// UseBesselCorrection selects the (k-1) loss denominator.
	UseBesselCorrection bool `yaml:"use_bessel_correction" env:"USE_BESSEL_CORRECTION"`
	// ClipWeight clamps weight magnitudes; 0 disables clipping.
	ClipWeight float64 `yaml:"clip_weight" env:"CLIP_WEIGHT"`
	// NormalizeWeights re-centers groups to exactly zero mean.
	NormalizeWeights bool `yaml:"normalize_weights" env:"NORMALIZE_WEIGHTS"`
	// StrictInvariants fails on zero-sum violations instead of logging.
	StrictInvariants bool `yaml:"strict_invariants" env:"STRICT_INVARIANTS"`
	// SamplesPerPrompt is the uniform group size k used when batches do
	// not carry explicit uids.
	SamplesPerPrompt int `yaml:"samples_per_prompt" env:"SAMPLES_PER_PROMPT"`
	// Reduction is "mean" or "sum".
	Reduction string `yaml:"reduction" env:"REDUCTION"`
}

// TrainerConfig controls the step loop.
type TrainerConfig struct {
	// MaxSteps bounds the number of training steps; 0 means run until the
	// rollout source is exhausted.
	MaxSteps int `yaml:"max_steps" env:"MAX_STEPS"`
	// PollInterval is the idle wait between rollout polls.
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	// RunName labels the training run in logs and the history store.
	RunName string `yaml:"run_name" env:"RUN_NAME"`
}

// LogConfig configures zap.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Development switches to the human-readable console encoder.
	Development bool `yaml:"development" env:"DEVELOPMENT"`
}

// RedisConfig configures the rollout buffer connection.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	// Queue is the list key rollout batches are exchanged on.
	Queue string `yaml:"queue" env:"QUEUE"`
	// PollRate bounds buffer polls per second; 0 disables the limiter.
	PollRate float64 `yaml:"poll_rate" env:"POLL_RATE"`
	PoolSize int     `yaml:"pool_size" env:"POOL_SIZE"`
}

// DatabaseConfig configures the sqlite-backed run-history store.
type DatabaseConfig struct {
	// Path is the sqlite database file; ":memory:" keeps history
	// in-process only.
	Path string `yaml:"path" env:"PATH"`
	// Enabled turns run-history persistence on.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// TelemetryConfig configures OTel export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Addr      string `yaml:"addr" env:"ADDR"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Algorithm: AlgorithmConfig{
			Beta:                0.1,
			UseBesselCorrection: true,
			ClipWeight:          0,
			NormalizeWeights:    true,
			StrictInvariants:    false,
			SamplesPerPrompt:    8,
			Reduction:           "mean",
		},
		Trainer: TrainerConfig{
			MaxSteps:     0,
			PollInterval: time.Second,
			RunName:      "gvpo",
		},
		Log: LogConfig{
			Level:       "info",
			Development: false,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       0,
			Queue:    "reasonflow:rollouts",
			PollRate: 0,
			PoolSize: 10,
		},
		Database: DatabaseConfig{
			Path:    "reasonflow.db",
			Enabled: false,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "reasonflow",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Addr:      ":9090",
			Namespace: "reasonflow",
		},
	}
}

// Validate checks cross-field consistency of the loaded configuration.
func (c *Config) Validate() error {
	if c.Algorithm.Beta < 0 {
		return types.NewErrorf(types.ErrConfigInvalid, "algorithm.beta must be >= 0, got %v", c.Algorithm.Beta)
	}
	if c.Algorithm.ClipWeight < 0 {
		return types.NewErrorf(types.ErrConfigInvalid, "algorithm.clip_weight must be >= 0, got %v", c.Algorithm.ClipWeight)
	}
	if c.Algorithm.SamplesPerPrompt < 1 {
		return types.NewErrorf(types.ErrConfigInvalid, "algorithm.samples_per_prompt must be >= 1, got %d", c.Algorithm.SamplesPerPrompt)
	}
	if r := c.Algorithm.Reduction; r != "mean" && r != "sum" {
		return types.NewErrorf(types.ErrInvalidReduction, "algorithm.reduction must be mean or sum, got %q", r)
	}
	if c.Trainer.MaxSteps < 0 {
		return types.NewErrorf(types.ErrConfigInvalid, "trainer.max_steps must be >= 0, got %d", c.Trainer.MaxSteps)
	}
	if c.Redis.PollRate < 0 {
		return types.NewErrorf(types.ErrConfigInvalid, "redis.poll_rate must be >= 0, got %v", c.Redis.PollRate)
	}
	return nil
}
