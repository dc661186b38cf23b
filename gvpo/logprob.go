package gvpo

import (
	"math"

	"github.com/alfredcs/reasonflow/types"
)

// SumSequenceLogProbs reduces token-level log probabilities to one scalar
// per sample by summing the positions where mask is non-zero. A row whose
// mask is entirely zero (an empty response) reduces to 0, never NaN.
func SumSequenceLogProbs(tokenLogProbs, mask [][]float64) ([]float64, error) {
	if len(tokenLogProbs) == 0 {
		return nil, types.NewError(types.ErrEmptyBatch, "token log probs are empty")
	}
	if len(mask) != len(tokenLogProbs) {
		return nil, types.NewErrorf(types.ErrShapeMismatch,
			"mask rows %d, want %d", len(mask), len(tokenLogProbs))
	}
	out := make([]float64, len(tokenLogProbs))
	for i, row := range tokenLogProbs {
		if len(mask[i]) != len(row) {
			return nil, types.NewErrorf(types.ErrShapeMismatch,
				"mask row %d has %d entries, want %d", i, len(mask[i]), len(row))
		}
		sum := 0.0
		for j, lp := range row {
			sum += lp * mask[i][j]
		}
		out[i] = sum
	}
	return out, nil
}

// TokenLogProbs computes token-level log probabilities from raw model
// logits and the token ids the model actually produced.
//
// Logits and tokenIDs are aligned for next-token prediction: position t of
// the output holds log P(tokenIDs[t+1] | prefix up to t), so the output is
// one position shorter than the input sequence. The response mask is
// shifted the same way before being applied. Every returned value is a log
// probability and therefore <= 0 at unmasked positions.
func TokenLogProbs(logits [][][]float64, tokenIDs [][]int, mask [][]float64) ([][]float64, error) {
	if len(logits) == 0 {
		return nil, types.NewError(types.ErrEmptyBatch, "logits are empty")
	}
	if len(tokenIDs) != len(logits) || len(mask) != len(logits) {
		return nil, types.NewErrorf(types.ErrShapeMismatch,
			"token ids rows %d, mask rows %d, want %d", len(tokenIDs), len(mask), len(logits))
	}

	out := make([][]float64, len(logits))
	for b, seq := range logits {
		seqLen := len(seq)
		if len(tokenIDs[b]) != seqLen || len(mask[b]) != seqLen {
			return nil, types.NewErrorf(types.ErrShapeMismatch,
				"row %d: token ids %d, mask %d, logits %d", b, len(tokenIDs[b]), len(mask[b]), seqLen)
		}
		if seqLen < 2 {
			out[b] = []float64{}
			continue
		}

		row := make([]float64, seqLen-1)
		for t := 0; t < seqLen-1; t++ {
			label := tokenIDs[b][t+1]
			if label < 0 || label >= len(seq[t]) {
				return nil, types.NewErrorf(types.ErrDataInvalid,
					"row %d position %d: token id %d outside vocabulary of size %d",
					b, t, label, len(seq[t]))
			}
			row[t] = logSoftmaxAt(seq[t], label) * mask[b][t+1]
		}
		out[b] = row
	}
	return out, nil
}

// logSoftmaxAt returns log softmax(logits)[idx] using the max-subtracted
// log-sum-exp form, which stays finite for large logit magnitudes.
func logSoftmaxAt(logits []float64, idx int) float64 {
	maxLogit := logits[0]
	for _, l := range logits[1:] {
		if l > maxLogit {
			maxLogit = l
		}
	}
	sumExp := 0.0
	for _, l := range logits {
		sumExp += math.Exp(l - maxLogit)
	}
	return logits[idx] - maxLogit - math.Log(sumExp)
}
