package gvpo

import (
	"github.com/alfredcs/reasonflow/types"
)

// Reduction selects how per-group losses are combined into the batch loss.
type Reduction string

const (
	// ReductionMean divides the summed group losses by the group count.
	ReductionMean Reduction = "mean"
	// ReductionSum returns the summed group losses unscaled.
	ReductionSum Reduction = "sum"
)

// zeroSumTolerance bounds the acceptable per-group weight sum, scaled by
// group size. Exceeding it means a computation bug, not a data condition.
const zeroSumTolerance = 1e-8

// stdFloor guards divisions by a near-zero group standard deviation in the
// normalized advantage path.
const stdFloor = 1e-8

// Config holds the immutable parameters of one Engine. The zero value is
// not valid; use DefaultConfig as a starting point.
type Config struct {
	// Beta is the KL temperature coefficient. Must be >= 0; zero collapses
	// the weights to pure reward centering.
	Beta float64 `yaml:"beta" json:"beta"`

	// UseBesselCorrection selects the (k-1) loss denominator instead of k.
	UseBesselCorrection bool `yaml:"use_bessel_correction" json:"use_bessel_correction"`

	// ClipWeight clamps each weight to [-ClipWeight, ClipWeight] when
	// positive. Clipping runs after centering and intentionally breaks the
	// exact zero-sum property. Zero disables clipping.
	ClipWeight float64 `yaml:"clip_weight" json:"clip_weight"`

	// NormalizeWeights re-centers each group's weights to exactly zero
	// mean after computation, absorbing floating-point drift.
	NormalizeWeights bool `yaml:"normalize_weights" json:"normalize_weights"`

	// StrictInvariants turns a zero-sum tolerance violation into an
	// InvariantViolation error. When false the violation is reported to
	// the Observer and computation proceeds. Tests and debug builds run
	// strict; production runs permissive.
	StrictInvariants bool `yaml:"strict_invariants" json:"strict_invariants"`
}

// DefaultConfig returns the standard GVPO configuration.
func DefaultConfig() Config {
	return Config{
		Beta:                0.1,
		UseBesselCorrection: true,
		ClipWeight:          0,
		NormalizeWeights:    true,
		StrictInvariants:    false,
	}
}

// Validate checks the configuration. Beta may be zero (pure reward
// centering) but never negative; a negative clip bound is likewise
// rejected.
func (c Config) Validate() error {
	if c.Beta < 0 {
		return types.NewErrorf(types.ErrConfigInvalid, "beta must be >= 0, got %v", c.Beta)
	}
	if c.ClipWeight < 0 {
		return types.NewErrorf(types.ErrConfigInvalid, "clip_weight must be >= 0, got %v", c.ClipWeight)
	}
	return nil
}

// Observer receives diagnostics from the numerical core. Implementations
// must be cheap; they run inline with the computation. A nil Observer is
// always legal.
type Observer interface {
	// ObserveMetrics is called once per computation with the diagnostic
	// metric map. Keys are stable; see the Metric* constants.
	ObserveMetrics(metrics map[string]float64)

	// ObserveInvariantViolation is called when a group's weight sum
	// exceeds the zero-sum tolerance and StrictInvariants is off.
	ObserveInvariantViolation(group int, sum float64)
}

// Engine computes GVPO weights and losses under a fixed Config. It holds
// no mutable state: calls are idempotent and safe for concurrent use.
type Engine struct {
	cfg Config
	obs Observer
}

// NewEngine validates cfg and returns an Engine reporting to obs, which
// may be nil.
func NewEngine(cfg Config, obs Observer) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, obs: obs}, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) observeMetrics(m map[string]float64) {
	if e.obs != nil {
		e.obs.ObserveMetrics(m)
	}
}

func (e *Engine) observeViolation(group int, sum float64) {
	if e.obs != nil {
		e.obs.ObserveInvariantViolation(group, sum)
	}
}
