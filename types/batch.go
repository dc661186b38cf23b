package types

// RolloutBatch is the explicit batch contract at the boundary between the
// external rollout infrastructure and the advantage/loss core. Each outer
// index is one sampled response; inner slices are token positions.
//
// TokenRewards, OldLogProbs, RefLogProbs and ResponseMask must all have the
// same outer length, and per-row the same inner length. UIDs carries one
// opaque prompt identifier per sample; responses sharing a UID form a group.
type RolloutBatch struct {
	// TokenRewards holds per-token rewards; summed over the sequence to
	// produce the per-sample scalar reward.
	TokenRewards [][]float64 `json:"token_rewards"`

	// OldLogProbs holds token-level log probabilities under the policy
	// that generated the rollout.
	OldLogProbs [][]float64 `json:"old_log_probs"`

	// RefLogProbs holds token-level log probabilities under the frozen
	// reference policy.
	RefLogProbs [][]float64 `json:"ref_log_probs"`

	// ResponseMask marks the response tokens that count (1) versus prompt
	// and padding tokens (0).
	ResponseMask [][]float64 `json:"response_mask"`

	// UIDs holds the prompt identifier for each sample. Values are opaque
	// tokens; they need not be contiguous or numeric.
	UIDs []string `json:"uids"`

	// Advantages is written by the adapter: the per-sample advantage
	// broadcast across every token position of that sample.
	Advantages [][]float64 `json:"advantages,omitempty"`

	// Metrics is the side channel for diagnostic metrics recorded during
	// advantage computation. Never authoritative.
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// Size returns the number of samples in the batch.
func (b *RolloutBatch) Size() int {
	if b == nil {
		return 0
	}
	return len(b.TokenRewards)
}

// SeqLen returns the sequence length of the batch, taken from the first
// reward row. Zero for an empty batch.
func (b *RolloutBatch) SeqLen() int {
	if b == nil || len(b.TokenRewards) == 0 {
		return 0
	}
	return len(b.TokenRewards[0])
}

// RecordMetric stores a diagnostic metric in the batch side channel,
// allocating the map on first use.
func (b *RolloutBatch) RecordMetric(key string, value float64) {
	if b.Metrics == nil {
		b.Metrics = make(map[string]float64)
	}
	b.Metrics[key] = value
}

// RecordMetrics merges a metric map into the batch side channel.
func (b *RolloutBatch) RecordMetrics(m map[string]float64) {
	for k, v := range m {
		b.RecordMetric(k, v)
	}
}
