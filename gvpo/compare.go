package gvpo

import (
	"math"

	"github.com/alfredcs/reasonflow/types"
)

// ComputeGRPOAdvantages computes GRPO-style advantages for the same batch
// layout: (R_i - R̄) / σ_R per group, with the division guarded against
// near-zero spread. Provided for estimator comparison; the std division is
// exactly what GVPO avoids, since it amplifies low-variance groups.
func ComputeGRPOAdvantages(rewards []float64, groups *Groups) ([]float64, error) {
	if groups == nil || groups.BatchSize() == 0 {
		return nil, types.NewError(types.ErrEmptyBatch, "batch is empty")
	}
	if len(rewards) != groups.BatchSize() {
		return nil, types.NewErrorf(types.ErrShapeMismatch,
			"rewards=%d, want %d", len(rewards), groups.BatchSize())
	}
	if !allFinite(rewards) {
		return nil, types.NewError(types.ErrDataInvalid, "rewards contain NaN or Inf")
	}

	advantages := make([]float64, len(rewards))
	for gi := 0; gi < groups.NumGroups(); gi++ {
		idx := groups.Members(gi)
		if len(idx) < 2 {
			continue
		}
		m := meanAt(rewards, idx)
		s := stdAt(rewards, idx)
		if s > stdFloor {
			for _, i := range idx {
				advantages[i] = (rewards[i] - m) / s
			}
		}
	}
	return advantages, nil
}

// Comparison summarizes how GRPO and GVPO advantages diverge on one batch.
type Comparison struct {
	GRPO        []float64
	GVPO        []float64
	MeanAbsDiff float64
	Correlation float64
	GRPOStd     float64
	GVPOStd     float64
}

// CompareEstimators runs both estimators over the same inputs and reports
// their divergence. GVPO uses the engine's configuration; GRPO ignores the
// log-probability terms entirely.
func (e *Engine) CompareEstimators(rewards, logProbs, refLogProbs []float64, groups *Groups) (*Comparison, error) {
	grpo, err := ComputeGRPOAdvantages(rewards, groups)
	if err != nil {
		return nil, err
	}
	gvpo, _, err := e.ComputeWeights(rewards, logProbs, refLogProbs, groups)
	if err != nil {
		return nil, err
	}

	diff := 0.0
	for i := range grpo {
		diff += math.Abs(grpo[i] - gvpo[i])
	}

	return &Comparison{
		GRPO:        grpo,
		GVPO:        gvpo,
		MeanAbsDiff: diff / float64(len(grpo)),
		Correlation: correlation(grpo, gvpo),
		GRPOStd:     std(grpo),
		GVPOStd:     std(gvpo),
	}, nil
}

// correlation is the Pearson correlation coefficient; 0 when either side
// has no spread.
func correlation(xs, ys []float64) float64 {
	if len(xs) != len(ys) || len(xs) < 2 {
		return 0
	}
	mx, my := mean(xs), mean(ys)
	var sxy, sxx, syy float64
	for i := range xs {
		dx := xs[i] - mx
		dy := ys[i] - my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	return sxy / math.Sqrt(sxx*syy)
}
