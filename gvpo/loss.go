package gvpo

import (
	"github.com/alfredcs/reasonflow/types"
)

// ComputeLoss folds weights and current-policy sequence log probabilities
// into the scalar batch loss.
//
// Per group of size k: L_g = -β · Σ_i w_i · lp_i / denom, with denom = k-1
// under Bessel correction, k otherwise. A size-1 group under Bessel
// correction contributes zero loss, consistent with its zero advantage.
// Group losses are combined by reduction: ReductionMean divides by the
// group count, ReductionSum does not.
//
// Weights are constants here: the caller's optimizer must differentiate
// only through logProbs, matching policy-gradient semantics.
func (e *Engine) ComputeLoss(weights, logProbs []float64, groups *Groups, reduction Reduction) (float64, map[string]float64, error) {
	if groups == nil || groups.BatchSize() == 0 {
		return 0, nil, types.NewError(types.ErrEmptyBatch, "batch is empty")
	}
	n := groups.BatchSize()
	if len(weights) != n || len(logProbs) != n {
		return 0, nil, types.NewErrorf(types.ErrShapeMismatch,
			"weights=%d log_probs=%d, want %d", len(weights), len(logProbs), n)
	}
	if reduction != ReductionMean && reduction != ReductionSum {
		return 0, nil, types.NewErrorf(types.ErrInvalidReduction, "unknown reduction %q", reduction)
	}
	if !allFinite(weights) {
		return 0, nil, types.NewError(types.ErrDataInvalid, "weights contain NaN or Inf")
	}
	if !allFinite(logProbs) {
		return 0, nil, types.NewError(types.ErrDataInvalid, "log_probs contain NaN or Inf")
	}

	total := 0.0
	weightedSum := 0.0
	for gi := 0; gi < groups.NumGroups(); gi++ {
		idx := groups.Members(gi)
		k := len(idx)

		groupSum := 0.0
		for _, i := range idx {
			groupSum += weights[i] * logProbs[i]
		}
		weightedSum += groupSum

		denom := float64(k)
		if e.cfg.UseBesselCorrection {
			if k == 1 {
				// (k-1) would divide by zero; the sole sample carries
				// weight 0 anyway, so the group contributes nothing.
				continue
			}
			denom = float64(k - 1)
		}
		total += -e.cfg.Beta * groupSum / denom
	}

	loss := total
	if reduction == ReductionMean {
		loss = total / float64(groups.NumGroups())
	}

	bessel := 0.0
	if e.cfg.UseBesselCorrection {
		bessel = 1.0
	}
	metrics := map[string]float64{
		MetricLoss:            loss,
		MetricWeightedLogProb: weightedSum / float64(n),
		MetricNumGroups:       float64(groups.NumGroups()),
		MetricBessel:          bessel,
	}
	e.observeMetrics(metrics)

	return loss, metrics, nil
}
