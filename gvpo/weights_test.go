package gvpo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredcs/reasonflow/types"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, nil)
	require.NoError(t, err)
	return e
}

func strictConfig() Config {
	cfg := DefaultConfig()
	cfg.StrictInvariants = true
	return cfg
}

func TestComputeWeightsRewardCenteringOnly(t *testing.T) {
	// Identical current and reference log probs: the KL term vanishes and
	// the weights are exactly the centered rewards.
	e := newTestEngine(t, strictConfig())

	rewards := []float64{1.0, 2.0, 3.0, 4.0}
	logProbs := []float64{-1.0, -2.0, -3.0, -4.0}
	groups, err := GroupUniform(4, 4)
	require.NoError(t, err)

	weights, metrics, err := e.ComputeWeights(rewards, logProbs, logProbs, groups)
	require.NoError(t, err)

	want := []float64{-1.5, -0.5, 0.5, 1.5}
	for i := range want {
		assert.InDelta(t, want[i], weights[i], 1e-12, "index %d", i)
	}
	assert.InDelta(t, 2.5, metrics[MetricMeanReward], 1e-12)
	assert.InDelta(t, 0.0, metrics[MetricMeanLogRatio], 1e-12)
}

func TestComputeWeightsTwoGroups(t *testing.T) {
	e := newTestEngine(t, strictConfig())

	// Group 0 has identical rewards and identical log ratios: zero spread,
	// zero weights. Group 1 centers to [-4, 4] before the KL adjustment.
	rewards := []float64{5.0, 5.0, 1.0, 9.0}
	logProbs := []float64{-1.0, -1.0, -2.0, -2.0}
	refLogProbs := []float64{-1.0, -1.0, -2.0, -2.0}
	groups, err := GroupByID([]string{"0", "0", "1", "1"})
	require.NoError(t, err)

	weights, _, err := e.ComputeWeights(rewards, logProbs, refLogProbs, groups)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, weights[0], 1e-12)
	assert.InDelta(t, 0.0, weights[1], 1e-12)
	assert.InDelta(t, -4.0, weights[2], 1e-12)
	assert.InDelta(t, 4.0, weights[3], 1e-12)
}

func TestComputeWeightsZeroSumPerGroup(t *testing.T) {
	e := newTestEngine(t, strictConfig())

	rewards := []float64{0.3, -1.2, 4.5, 2.2, -0.7, 1.1, 0.0, 3.3}
	logProbs := []float64{-5.1, -3.3, -7.7, -2.4, -6.0, -1.1, -4.2, -8.8}
	refLogProbs := []float64{-4.9, -3.5, -7.0, -2.8, -5.5, -1.6, -4.0, -9.1}
	groups, err := GroupUniform(8, 4)
	require.NoError(t, err)

	weights, _, err := e.ComputeWeights(rewards, logProbs, refLogProbs, groups)
	require.NoError(t, err)

	for gi := 0; gi < groups.NumGroups(); gi++ {
		sum := 0.0
		for _, i := range groups.Members(gi) {
			sum += weights[i]
		}
		assert.InDelta(t, 0.0, sum, 1e-8*float64(len(groups.Members(gi))), "group %d", gi)
	}
}

func TestComputeWeightsPositionIndependent(t *testing.T) {
	// Samples with the same uid must get the same weights whether their
	// group is contiguous or interleaved in the batch.
	e := newTestEngine(t, strictConfig())

	rewards := []float64{1.0, 2.0, 3.0, 4.0}
	logProbs := []float64{-1.0, -2.0, -3.0, -4.0}
	refLogProbs := []float64{-1.5, -1.5, -2.5, -4.5}

	contiguous, err := GroupByID([]string{"a", "a", "b", "b"})
	require.NoError(t, err)
	wContig, _, err := e.ComputeWeights(rewards, logProbs, refLogProbs, contiguous)
	require.NoError(t, err)

	// Interleave: indices 0,2 are "a"; 1,3 are "b".
	permRewards := []float64{1.0, 3.0, 2.0, 4.0}
	permLogProbs := []float64{-1.0, -3.0, -2.0, -4.0}
	permRefLogProbs := []float64{-1.5, -2.5, -1.5, -4.5}
	interleaved, err := GroupByID([]string{"a", "b", "a", "b"})
	require.NoError(t, err)
	wInter, _, err := e.ComputeWeights(permRewards, permLogProbs, permRefLogProbs, interleaved)
	require.NoError(t, err)

	assert.InDelta(t, wContig[0], wInter[0], 1e-12)
	assert.InDelta(t, wContig[1], wInter[2], 1e-12)
	assert.InDelta(t, wContig[2], wInter[1], 1e-12)
	assert.InDelta(t, wContig[3], wInter[3], 1e-12)
}

func TestComputeWeightsBetaSensitivity(t *testing.T) {
	rewards := []float64{1.0, 2.0, 3.0, 4.0}
	logProbs := []float64{-1.0, -2.0, -3.0, -4.0}
	refLogProbs := []float64{-1.5, -1.0, -3.5, -3.0}
	groups, err := GroupUniform(4, 4)
	require.NoError(t, err)

	cfgLow := strictConfig()
	cfgLow.Beta = 0.01
	cfgHigh := strictConfig()
	cfgHigh.Beta = 1.0

	wLow, _, err := newTestEngine(t, cfgLow).ComputeWeights(rewards, logProbs, refLogProbs, groups)
	require.NoError(t, err)
	wHigh, _, err := newTestEngine(t, cfgHigh).ComputeWeights(rewards, logProbs, refLogProbs, groups)
	require.NoError(t, err)

	different := false
	for i := range wLow {
		if math.Abs(wLow[i]-wHigh[i]) > 1e-9 {
			different = true
		}
	}
	assert.True(t, different, "different beta must produce different weights")
}

func TestComputeWeightsBetaZero(t *testing.T) {
	// Beta 0 is pure reward centering, not an error.
	cfg := strictConfig()
	cfg.Beta = 0
	e := newTestEngine(t, cfg)

	rewards := []float64{2.0, 6.0}
	logProbs := []float64{-1.0, -9.0}
	refLogProbs := []float64{-4.0, -2.0}
	groups, err := GroupUniform(2, 2)
	require.NoError(t, err)

	weights, _, err := e.ComputeWeights(rewards, logProbs, refLogProbs, groups)
	require.NoError(t, err)
	assert.InDelta(t, -2.0, weights[0], 1e-12)
	assert.InDelta(t, 2.0, weights[1], 1e-12)
}

func TestComputeWeightsClipping(t *testing.T) {
	cfg := strictConfig()
	cfg.ClipWeight = 2.0
	e := newTestEngine(t, cfg)

	rewards := []float64{10.0, -10.0, 5.0, -5.0}
	logProbs := []float64{-1.0, -2.0, -3.0, -4.0}
	refLogProbs := []float64{-1.1, -2.2, -2.9, -3.8}
	groups, err := GroupUniform(4, 4)
	require.NoError(t, err)

	weights, _, err := e.ComputeWeights(rewards, logProbs, refLogProbs, groups)
	require.NoError(t, err)

	for i, w := range weights {
		assert.LessOrEqual(t, w, 2.0, "index %d", i)
		assert.GreaterOrEqual(t, w, -2.0, "index %d", i)
	}
}

func TestComputeWeightsSingletonGroup(t *testing.T) {
	e := newTestEngine(t, strictConfig())

	rewards := []float64{7.0, 1.0, 2.0}
	logProbs := []float64{-1.0, -2.0, -3.0}
	refLogProbs := []float64{-1.5, -2.5, -3.5}
	groups, err := GroupByID([]string{"solo", "pair", "pair"})
	require.NoError(t, err)

	weights, _, err := e.ComputeWeights(rewards, logProbs, refLogProbs, groups)
	require.NoError(t, err)
	assert.Equal(t, 0.0, weights[0], "singleton group has no contrast")
}

func TestComputeWeightsExtremeMagnitudes(t *testing.T) {
	e := newTestEngine(t, strictConfig())

	rewards := []float64{1e6, -1e6, 1e5, -1e5}
	logProbs := []float64{0.0, -1.0, -2.0, -3.0}
	refLogProbs := []float64{-0.5, -1.5, -2.5, -3.5}
	groups, err := GroupByID([]string{"0", "0", "1", "1"})
	require.NoError(t, err)

	weights, _, err := e.ComputeWeights(rewards, logProbs, refLogProbs, groups)
	require.NoError(t, err)
	for i, w := range weights {
		assert.False(t, math.IsNaN(w) || math.IsInf(w, 0), "index %d not finite", i)
	}
}

func TestComputeWeightsIdempotent(t *testing.T) {
	e := newTestEngine(t, strictConfig())

	rewards := []float64{0.4, -1.9, 2.2, 0.1, 5.5, -3.3}
	logProbs := []float64{-2.0, -4.0, -1.0, -6.0, -3.0, -5.0}
	refLogProbs := []float64{-2.5, -3.5, -1.5, -5.5, -3.5, -4.5}
	groups, err := GroupUniform(6, 3)
	require.NoError(t, err)

	first, _, err := e.ComputeWeights(rewards, logProbs, refLogProbs, groups)
	require.NoError(t, err)
	second, _, err := e.ComputeWeights(rewards, logProbs, refLogProbs, groups)
	require.NoError(t, err)

	assert.Equal(t, first, second, "identical inputs must produce bit-identical outputs")
}

func TestComputeWeightsRejectsNaN(t *testing.T) {
	e := newTestEngine(t, strictConfig())
	groups, err := GroupUniform(2, 2)
	require.NoError(t, err)

	tests := []struct {
		name        string
		rewards     []float64
		logProbs    []float64
		refLogProbs []float64
	}{
		{"nan reward", []float64{math.NaN(), 1.0}, []float64{-1, -2}, []float64{-1, -2}},
		{"inf log prob", []float64{1.0, 2.0}, []float64{math.Inf(1), -2}, []float64{-1, -2}},
		{"nan ref log prob", []float64{1.0, 2.0}, []float64{-1, -2}, []float64{-1, math.NaN()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := e.ComputeWeights(tt.rewards, tt.logProbs, tt.refLogProbs, groups)
			require.Error(t, err)
			assert.Equal(t, types.ErrDataInvalid, types.GetErrorCode(err))
		})
	}
}

func TestComputeWeightsShapeMismatch(t *testing.T) {
	e := newTestEngine(t, strictConfig())
	groups, err := GroupUniform(4, 2)
	require.NoError(t, err)

	_, _, err = e.ComputeWeights([]float64{1, 2, 3}, make([]float64, 4), make([]float64, 4), groups)
	require.Error(t, err)
	assert.Equal(t, types.ErrShapeMismatch, types.GetErrorCode(err))
}

func TestComputeNormalizedWeightsUnitSpread(t *testing.T) {
	e := newTestEngine(t, strictConfig())

	rewards := []float64{1.0, 2.0, 3.0, 4.0}
	logProbs := []float64{-1.0, -2.0, -3.0, -4.0}
	groups, err := GroupUniform(4, 4)
	require.NoError(t, err)

	advantages, metrics, err := e.ComputeNormalizedWeights(rewards, logProbs, logProbs, groups)
	require.NoError(t, err)

	// Raw weights are [-1.5,-0.5,0.5,1.5]; sample std is sqrt(5/3).
	scale := math.Sqrt(5.0 / 3.0)
	want := []float64{-1.5 / scale, -0.5 / scale, 0.5 / scale, 1.5 / scale}
	for i := range want {
		assert.InDelta(t, want[i], advantages[i], 1e-12, "index %d", i)
	}
	assert.Contains(t, metrics, MetricAdvantageMean)
	assert.Contains(t, metrics, MetricAdvantageStd)
}

func TestComputeNormalizedWeightsZeroSpread(t *testing.T) {
	// Identical rewards and log ratios: no spread, so no division occurs
	// and the advantages stay at zero.
	e := newTestEngine(t, strictConfig())

	rewards := []float64{3.0, 3.0, 3.0}
	logProbs := []float64{-2.0, -2.0, -2.0}
	groups, err := GroupUniform(3, 3)
	require.NoError(t, err)

	advantages, _, err := e.ComputeNormalizedWeights(rewards, logProbs, logProbs, groups)
	require.NoError(t, err)
	for i, a := range advantages {
		assert.InDelta(t, 0.0, a, 1e-12, "index %d", i)
	}
}

func TestNewEngineRejectsNegativeBeta(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Beta = -0.1
	_, err := NewEngine(cfg, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrConfigInvalid, types.GetErrorCode(err))
}
