package trainer

import (
	"github.com/alfredcs/reasonflow/gvpo"
	"github.com/alfredcs/reasonflow/types"
)

// Result carries everything one adapter invocation produced.
type Result struct {
	// Weights are the raw zero-sum GVPO weights, one per sample.
	Weights []float64
	// Advantages are the std-normalized, PPO-compatible per-sample values
	// that also get broadcast into the batch.
	Advantages []float64
	// Loss is the scalar batch loss.
	Loss float64
	// Metrics are the combined diagnostic metrics of the computation.
	Metrics map[string]float64
}

// Adapter turns rollout batches into advantages and a loss using a
// configured gvpo engine. Stateless apart from configuration.
type Adapter struct {
	engine    *gvpo.Engine
	reduction gvpo.Reduction
	groupSize int
}

// AdapterOption customizes an Adapter.
type AdapterOption func(*Adapter)

// WithUniformGroups makes the adapter fall back to contiguous groups of k
// samples when a batch carries no uids. Without it, missing uids are a
// hard error.
func WithUniformGroups(k int) AdapterOption {
	return func(a *Adapter) { a.groupSize = k }
}

// NewAdapter wires an adapter around engine. The reduction applies to the
// loss aggregation of every batch.
func NewAdapter(engine *gvpo.Engine, reduction gvpo.Reduction, opts ...AdapterOption) *Adapter {
	a := &Adapter{engine: engine, reduction: reduction}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ComputeAdvantages runs the full pipeline over one batch:
// field validation, token-to-sequence reduction, uid grouping, weight and
// loss computation, and write-back.
//
// The batch must carry token rewards, old and reference log probs, and
// uids; a missing field is a configuration error, not a soft default.
// On success batch.Advantages holds each sample's advantage replicated
// across its token positions and batch.Metrics carries the diagnostics.
func (a *Adapter) ComputeAdvantages(batch *types.RolloutBatch) (*Result, error) {
	if err := a.validateBatch(batch); err != nil {
		return nil, err
	}

	n := batch.Size()

	// Per-sample scalar reward: sum of token-level rewards.
	rewards := make([]float64, n)
	for i, row := range batch.TokenRewards {
		sum := 0.0
		for _, r := range row {
			sum += r
		}
		rewards[i] = sum
	}

	mask := batch.ResponseMask
	if mask == nil {
		mask = onesLike(batch.OldLogProbs)
	}
	logProbs, err := gvpo.SumSequenceLogProbs(batch.OldLogProbs, mask)
	if err != nil {
		return nil, err
	}
	refLogProbs, err := gvpo.SumSequenceLogProbs(batch.RefLogProbs, mask)
	if err != nil {
		return nil, err
	}

	// UIDs are arbitrary tokens; GroupByID canonicalizes them in
	// first-seen order, which keeps the computation deterministic. A batch
	// without uids falls back to contiguous uniform groups when the
	// adapter was configured with a group size.
	var groups *gvpo.Groups
	if batch.UIDs == nil {
		groups, err = gvpo.GroupUniform(n, a.groupSize)
	} else {
		groups, err = gvpo.GroupByID(batch.UIDs)
	}
	if err != nil {
		return nil, err
	}

	weights, metrics, err := a.engine.ComputeWeights(rewards, logProbs, refLogProbs, groups)
	if err != nil {
		return nil, err
	}
	advantages, advMetrics, err := a.engine.ComputeNormalizedWeights(rewards, logProbs, refLogProbs, groups)
	if err != nil {
		return nil, err
	}
	loss, lossMetrics, err := a.engine.ComputeLoss(weights, logProbs, groups, a.reduction)
	if err != nil {
		return nil, err
	}

	for k, v := range advMetrics {
		metrics[k] = v
	}
	for k, v := range lossMetrics {
		metrics[k] = v
	}

	// Broadcast each sample's advantage across its sequence so per-token
	// consumers downstream see the same scalar at every position.
	seqLen := batch.SeqLen()
	batch.Advantages = make([][]float64, n)
	for i := range batch.Advantages {
		row := make([]float64, seqLen)
		for j := range row {
			row[j] = advantages[i]
		}
		batch.Advantages[i] = row
	}
	batch.RecordMetrics(metrics)

	return &Result{
		Weights:    weights,
		Advantages: advantages,
		Loss:       loss,
		Metrics:    metrics,
	}, nil
}

func (a *Adapter) validateBatch(batch *types.RolloutBatch) error {
	if batch == nil {
		return types.NewError(types.ErrEmptyBatch, "batch is empty")
	}
	if batch.TokenRewards == nil {
		return types.NewError(types.ErrFieldMissing, "batch is missing token_rewards")
	}
	if batch.OldLogProbs == nil {
		return types.NewError(types.ErrFieldMissing, "batch is missing old_log_probs")
	}
	if batch.RefLogProbs == nil {
		return types.NewError(types.ErrFieldMissing, "batch is missing ref_log_probs")
	}
	if batch.UIDs == nil && a.groupSize == 0 {
		return types.NewError(types.ErrFieldMissing, "batch is missing uids")
	}
	if batch.Size() == 0 {
		return types.NewError(types.ErrEmptyBatch, "batch is empty")
	}

	n := len(batch.TokenRewards)
	if len(batch.OldLogProbs) != n || len(batch.RefLogProbs) != n {
		return types.NewErrorf(types.ErrShapeMismatch,
			"token_rewards=%d old_log_probs=%d ref_log_probs=%d",
			n, len(batch.OldLogProbs), len(batch.RefLogProbs))
	}
	if batch.UIDs != nil && len(batch.UIDs) != n {
		return types.NewErrorf(types.ErrShapeMismatch,
			"uids=%d, want %d", len(batch.UIDs), n)
	}
	if batch.ResponseMask != nil && len(batch.ResponseMask) != n {
		return types.NewErrorf(types.ErrShapeMismatch,
			"response_mask=%d, want %d", len(batch.ResponseMask), n)
	}
	return nil
}

func onesLike(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		ones := make([]float64, len(row))
		for j := range ones {
			ones[j] = 1
		}
		out[i] = ones
	}
	return out
}
