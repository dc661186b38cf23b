package gvpo

import "math"

// Stable diagnostic metric keys. The "gvpo/" prefix namespaces them inside
// the trainer's flat metric maps.
const (
	MetricMeanReward   = "gvpo/mean_reward"
	MetricStdReward    = "gvpo/std_reward"
	MetricMeanLogRatio = "gvpo/mean_log_ratio"
	MetricStdLogRatio  = "gvpo/std_log_ratio"
	MetricMeanWeight   = "gvpo/mean_weight"
	MetricStdWeight    = "gvpo/std_weight"
	MetricMaxWeight    = "gvpo/max_weight"
	MetricMinWeight    = "gvpo/min_weight"

	MetricLoss            = "gvpo/loss"
	MetricWeightedLogProb = "gvpo/weighted_log_prob"
	MetricNumGroups       = "gvpo/num_groups"
	MetricBessel          = "gvpo/bessel_correction"

	MetricAdvantageMean = "gvpo/advantage_mean"
	MetricAdvantageStd  = "gvpo/advantage_std"
)

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func meanAt(xs []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	sum := 0.0
	for _, i := range idx {
		sum += xs[i]
	}
	return sum / float64(len(idx))
}

// std is the sample standard deviation (Bessel-corrected). Zero for fewer
// than two values.
func std(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

func stdAt(xs []float64, idx []int) float64 {
	if len(idx) < 2 {
		return 0
	}
	m := meanAt(xs, idx)
	sum := 0.0
	for _, i := range idx {
		d := xs[i] - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(idx)-1))
}

func minMax(xs []float64) (lo, hi float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	lo, hi = xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	return lo, hi
}

func allFinite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
