package gvpo

import (
	"math"

	"github.com/alfredcs/reasonflow/types"
)

// ComputeWeights computes the raw zero-sum GVPO weights for a batch.
//
// Per group: w_i = (R_i - R̄) - β(s_i - s̄) with s = logProbs - refLogProbs.
// A group of size 1 has no contrast and gets weight 0. When ClipWeight is
// set, clipping runs last and may break the exact zero-sum property; that
// trade-off is accepted for stability.
//
// Inputs must share length with the partition's batch size and must be
// finite; NaN or Inf anywhere is a DataError. The returned metrics map
// uses the Metric* keys.
func (e *Engine) ComputeWeights(rewards, logProbs, refLogProbs []float64, groups *Groups) ([]float64, map[string]float64, error) {
	if err := checkInputs(rewards, logProbs, refLogProbs, groups); err != nil {
		return nil, nil, err
	}

	n := groups.BatchSize()
	logRatios := make([]float64, n)
	for i := range logRatios {
		logRatios[i] = logProbs[i] - refLogProbs[i]
	}

	weights := make([]float64, n)
	for gi := 0; gi < groups.NumGroups(); gi++ {
		idx := groups.Members(gi)
		if len(idx) == 1 {
			// No contrast within a single sample.
			weights[idx[0]] = 0
			continue
		}

		rMean := meanAt(rewards, idx)
		sMean := meanAt(logRatios, idx)

		sum := 0.0
		for _, i := range idx {
			w := (rewards[i] - rMean) - e.cfg.Beta*(logRatios[i]-sMean)
			weights[i] = w
			sum += w
		}

		// Zero-sum holds by construction; drifting past the tolerance
		// means a bug, not bad data.
		if tol := zeroSumTolerance * float64(len(idx)); math.Abs(sum) >= tol {
			if e.cfg.StrictInvariants {
				return nil, nil, types.NewErrorf(types.ErrInvariantViolation,
					"group %d weight sum %v exceeds tolerance %v", gi, sum, tol)
			}
			e.observeViolation(gi, sum)
		}

		if e.cfg.NormalizeWeights {
			wMean := meanAt(weights, idx)
			for _, i := range idx {
				weights[i] -= wMean
			}
		}

		if e.cfg.ClipWeight > 0 {
			for _, i := range idx {
				if weights[i] > e.cfg.ClipWeight {
					weights[i] = e.cfg.ClipWeight
				} else if weights[i] < -e.cfg.ClipWeight {
					weights[i] = -e.cfg.ClipWeight
				}
			}
		}
	}

	wMin, wMax := minMax(weights)
	metrics := map[string]float64{
		MetricMeanReward:   mean(rewards),
		MetricStdReward:    std(rewards),
		MetricMeanLogRatio: mean(logRatios),
		MetricStdLogRatio:  std(logRatios),
		MetricMeanWeight:   mean(weights),
		MetricStdWeight:    std(weights),
		MetricMaxWeight:    wMax,
		MetricMinWeight:    wMin,
	}
	e.observeMetrics(metrics)

	return weights, metrics, nil
}

// ComputeNormalizedWeights computes GVPO weights and divides each group by
// its weight standard deviation, producing a PPO-compatible advantage
// signal. This is a distinct output path: the raw weights keep the
// zero-sum scale, the normalized ones trade it for unit spread. Groups
// with near-zero spread keep their raw weights; size-1 groups stay 0.
func (e *Engine) ComputeNormalizedWeights(rewards, logProbs, refLogProbs []float64, groups *Groups) ([]float64, map[string]float64, error) {
	weights, metrics, err := e.ComputeWeights(rewards, logProbs, refLogProbs, groups)
	if err != nil {
		return nil, nil, err
	}

	advantages := make([]float64, len(weights))
	for gi := 0; gi < groups.NumGroups(); gi++ {
		idx := groups.Members(gi)
		if len(idx) < 2 {
			continue
		}
		groupStd := stdAt(weights, idx)
		if groupStd > stdFloor {
			for _, i := range idx {
				advantages[i] = weights[i] / groupStd
			}
		} else {
			for _, i := range idx {
				advantages[i] = weights[i]
			}
		}
	}

	metrics[MetricAdvantageMean] = mean(advantages)
	metrics[MetricAdvantageStd] = std(advantages)
	e.observeMetrics(metrics)

	return advantages, metrics, nil
}

func checkInputs(rewards, logProbs, refLogProbs []float64, groups *Groups) error {
	if groups == nil || groups.BatchSize() == 0 {
		return types.NewError(types.ErrEmptyBatch, "batch is empty")
	}
	n := groups.BatchSize()
	if len(rewards) != n || len(logProbs) != n || len(refLogProbs) != n {
		return types.NewErrorf(types.ErrShapeMismatch,
			"rewards=%d log_probs=%d ref_log_probs=%d, want %d",
			len(rewards), len(logProbs), len(refLogProbs), n)
	}
	if !allFinite(rewards) {
		return types.NewError(types.ErrDataInvalid, "rewards contain NaN or Inf")
	}
	if !allFinite(logProbs) {
		return types.NewError(types.ErrDataInvalid, "log_probs contain NaN or Inf")
	}
	if !allFinite(refLogProbs) {
		return types.NewError(types.ErrDataInvalid, "ref_log_probs contain NaN or Inf")
	}
	return nil
}
