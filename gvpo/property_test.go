package gvpo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Zero-sum invariant: for every group with size >= 2 and no clipping, the
// weights sum to zero within eps scaled by group size.
func TestPropertyWeightsZeroSumPerGroup(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numGroups := rapid.IntRange(1, 5).Draw(t, "numGroups")
		sizes := make([]int, numGroups)
		n := 0
		for i := range sizes {
			sizes[i] = rapid.IntRange(2, 8).Draw(t, "size")
			n += sizes[i]
		}

		rewards := drawFloats(t, "rewards", n, 100)
		logProbs := drawFloats(t, "logProbs", n, 20)
		refLogProbs := drawFloats(t, "refLogProbs", n, 20)
		beta := rapid.Float64Range(0, 2).Draw(t, "beta")

		cfg := strictConfig()
		cfg.Beta = beta
		cfg.NormalizeWeights = false
		e, err := NewEngine(cfg, nil)
		require.NoError(t, err)

		groups, err := GroupBySizes(sizes, n)
		require.NoError(t, err)

		weights, _, err := e.ComputeWeights(rewards, logProbs, refLogProbs, groups)
		require.NoError(t, err)

		for gi := 0; gi < groups.NumGroups(); gi++ {
			idx := groups.Members(gi)
			sum := 0.0
			for _, i := range idx {
				sum += weights[i]
			}
			if math.Abs(sum) >= 1e-8*float64(len(idx)) {
				t.Fatalf("group %d weight sum %v breaks zero-sum", gi, sum)
			}
		}
	})
}

// Clipping bound: every weight lands inside [-c, c].
func TestPropertyClippingBound(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		k := rapid.IntRange(2, 6).Draw(t, "k")
		groupCount := rapid.IntRange(1, 4).Draw(t, "groups")
		n := k * groupCount

		rewards := drawFloats(t, "rewards", n, 1e4)
		logProbs := drawFloats(t, "logProbs", n, 50)
		refLogProbs := drawFloats(t, "refLogProbs", n, 50)
		clip := rapid.Float64Range(0.1, 5).Draw(t, "clip")

		cfg := strictConfig()
		cfg.ClipWeight = clip
		e, err := NewEngine(cfg, nil)
		require.NoError(t, err)

		groups, err := GroupUniform(n, k)
		require.NoError(t, err)

		weights, _, err := e.ComputeWeights(rewards, logProbs, refLogProbs, groups)
		require.NoError(t, err)

		for i, w := range weights {
			if w > clip || w < -clip {
				t.Fatalf("weight %d = %v escapes clip bound %v", i, w, clip)
			}
		}
	})
}

// Grouping strategy equivalence: uid-matched grouping and explicit
// contiguous sizes produce identical numbers for the same logical groups.
func TestPropertyGroupingStrategiesAgree(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numGroups := rapid.IntRange(1, 4).Draw(t, "numGroups")
		sizes := make([]int, numGroups)
		ids := make([]string, 0)
		n := 0
		for i := range sizes {
			sizes[i] = rapid.IntRange(1, 6).Draw(t, "size")
			n += sizes[i]
			for j := 0; j < sizes[i]; j++ {
				ids = append(ids, string(rune('a'+i)))
			}
		}

		rewards := drawFloats(t, "rewards", n, 100)
		logProbs := drawFloats(t, "logProbs", n, 20)
		refLogProbs := drawFloats(t, "refLogProbs", n, 20)

		e, err := NewEngine(strictConfig(), nil)
		require.NoError(t, err)

		bySizes, err := GroupBySizes(sizes, n)
		require.NoError(t, err)
		byID, err := GroupByID(ids)
		require.NoError(t, err)

		w1, _, err := e.ComputeWeights(rewards, logProbs, refLogProbs, bySizes)
		require.NoError(t, err)
		w2, _, err := e.ComputeWeights(rewards, logProbs, refLogProbs, byID)
		require.NoError(t, err)

		for i := range w1 {
			if w1[i] != w2[i] {
				t.Fatalf("index %d: by-sizes %v != by-id %v", i, w1[i], w2[i])
			}
		}
	})
}

// Weights and loss stay finite for any finite inputs in a wide range.
func TestPropertyFiniteOutputs(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		k := rapid.IntRange(1, 6).Draw(t, "k")
		groupCount := rapid.IntRange(1, 4).Draw(t, "groups")
		n := k * groupCount

		rewards := drawFloats(t, "rewards", n, 1e6)
		logProbs := drawFloats(t, "logProbs", n, 200)
		refLogProbs := drawFloats(t, "refLogProbs", n, 200)

		e, err := NewEngine(strictConfig(), nil)
		require.NoError(t, err)

		groups, err := GroupUniform(n, k)
		require.NoError(t, err)

		weights, _, err := e.ComputeWeights(rewards, logProbs, refLogProbs, groups)
		require.NoError(t, err)
		loss, _, err := e.ComputeLoss(weights, logProbs, groups, ReductionMean)
		require.NoError(t, err)

		for i, w := range weights {
			if math.IsNaN(w) || math.IsInf(w, 0) {
				t.Fatalf("weight %d = %v is not finite", i, w)
			}
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			t.Fatalf("loss %v is not finite", loss)
		}
	})
}

func drawFloats(t *rapid.T, label string, n int, bound float64) []float64 {
	gen := rapid.Float64Range(-bound, bound)
	out := make([]float64, n)
	for i := range out {
		out[i] = gen.Draw(t, label)
	}
	return out
}
