package gvpo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredcs/reasonflow/types"
)

func TestSumSequenceLogProbs(t *testing.T) {
	tests := []struct {
		name          string
		tokenLogProbs [][]float64
		mask          [][]float64
		want          []float64
	}{
		{
			name:          "full mask sums everything",
			tokenLogProbs: [][]float64{{-1, -2, -3}, {-0.5, -0.5, -0.5}},
			mask:          [][]float64{{1, 1, 1}, {1, 1, 1}},
			want:          []float64{-6, -1.5},
		},
		{
			name:          "partial mask drops prompt tokens",
			tokenLogProbs: [][]float64{{-1, -2, -3, -4}},
			mask:          [][]float64{{0, 0, 1, 1}},
			want:          []float64{-7},
		},
		{
			name:          "all-zero mask row reduces to zero",
			tokenLogProbs: [][]float64{{-1, -2}, {-3, -4}},
			mask:          [][]float64{{0, 0}, {1, 0}},
			want:          []float64{0, -3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SumSequenceLogProbs(tt.tokenLogProbs, tt.mask)
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.InDelta(t, tt.want[i], got[i], 1e-12, "row %d", i)
			}
		})
	}
}

func TestSumSequenceLogProbsShapeErrors(t *testing.T) {
	_, err := SumSequenceLogProbs(nil, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrEmptyBatch, types.GetErrorCode(err))

	_, err = SumSequenceLogProbs([][]float64{{-1}}, [][]float64{{1}, {1}})
	require.Error(t, err)
	assert.Equal(t, types.ErrShapeMismatch, types.GetErrorCode(err))

	_, err = SumSequenceLogProbs([][]float64{{-1, -2}}, [][]float64{{1}})
	require.Error(t, err)
	assert.Equal(t, types.ErrShapeMismatch, types.GetErrorCode(err))
}

func TestTokenLogProbsShiftAndBound(t *testing.T) {
	// Batch of 1, sequence of 4, vocabulary of 3.
	logits := [][][]float64{{
		{2.0, 1.0, 0.0},
		{0.0, 3.0, 1.0},
		{1.0, 1.0, 1.0},
		{5.0, 0.0, 0.0},
	}}
	tokenIDs := [][]int{{0, 1, 2, 0}}
	mask := [][]float64{{1, 1, 1, 1}}

	out, err := TokenLogProbs(logits, tokenIDs, mask)
	require.NoError(t, err)
	require.Len(t, out, 1)
	// Shifted by one position for next-token alignment.
	require.Len(t, out[0], 3)

	for i, lp := range out[0] {
		assert.LessOrEqual(t, lp, 0.0, "position %d must be a log probability", i)
	}

	// Position 0 predicts token 1 from logits row 0.
	wantP0 := logits[0][0][1] - logSumExp(logits[0][0])
	assert.InDelta(t, wantP0, out[0][0], 1e-12)
}

func TestTokenLogProbsRespectsMask(t *testing.T) {
	logits := [][][]float64{{
		{1.0, 2.0},
		{3.0, 0.5},
		{0.5, 0.5},
	}}
	tokenIDs := [][]int{{0, 1, 0}}
	mask := [][]float64{{1, 0, 1}} // position 1 (after shift: output index 0) masked out

	out, err := TokenLogProbs(logits, tokenIDs, mask)
	require.NoError(t, err)
	assert.Equal(t, 0.0, out[0][0], "masked position must contribute zero")
	assert.Less(t, out[0][1], 0.0)
}

func TestTokenLogProbsLargeLogitsStayFinite(t *testing.T) {
	logits := [][][]float64{{
		{1000.0, -1000.0},
		{-1000.0, 1000.0},
	}}
	tokenIDs := [][]int{{0, 1}}
	mask := [][]float64{{1, 1}}

	out, err := TokenLogProbs(logits, tokenIDs, mask)
	require.NoError(t, err)
	for _, lp := range out[0] {
		assert.False(t, math.IsNaN(lp) || math.IsInf(lp, 0))
		assert.LessOrEqual(t, lp, 0.0)
	}
}

func TestTokenLogProbsOutOfVocabulary(t *testing.T) {
	logits := [][][]float64{{{1.0, 2.0}, {1.0, 2.0}}}
	tokenIDs := [][]int{{0, 7}}
	mask := [][]float64{{1, 1}}

	_, err := TokenLogProbs(logits, tokenIDs, mask)
	require.Error(t, err)
	assert.Equal(t, types.ErrDataInvalid, types.GetErrorCode(err))
}

func logSumExp(xs []float64) float64 {
	maxX := xs[0]
	for _, x := range xs[1:] {
		if x > maxX {
			maxX = x
		}
	}
	sum := 0.0
	for _, x := range xs {
		sum += math.Exp(x - maxX)
	}
	return maxX + math.Log(sum)
}
