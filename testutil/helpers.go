package testutil

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alfredcs/reasonflow/types"
)

// TestContext returns a context bounded at 30 seconds, cancelled on
// test cleanup.
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestContextWithTimeout returns a context with a custom bound.
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext returns an already-cancelled context.
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// Ones returns an n by seqLen matrix of 1s, the all-response mask.
func Ones(n, seqLen int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		row := make([]float64, seqLen)
		for j := range row {
			row[j] = 1
		}
		out[i] = row
	}
	return out
}

// Broadcast returns an n by seqLen matrix where row i holds values[i]
// at every position.
func Broadcast(values []float64, seqLen int) [][]float64 {
	out := make([][]float64, len(values))
	for i, v := range values {
		row := make([]float64, seqLen)
		for j := range row {
			row[j] = v
		}
		out[i] = row
	}
	return out
}

// RolloutBatch builds a batch of len(rewards) samples over seqLen token
// positions. Each sample's reward lands on its final token position, log
// probabilities spread evenly across the sequence, and uids group the
// samples as given.
func RolloutBatch(rewards, logProbs, refLogProbs []float64, uids []string, seqLen int) *types.RolloutBatch {
	n := len(rewards)
	tokenRewards := make([][]float64, n)
	for i, r := range rewards {
		row := make([]float64, seqLen)
		row[seqLen-1] = r
		tokenRewards[i] = row
	}

	perToken := func(totals []float64) [][]float64 {
		out := make([][]float64, len(totals))
		for i, total := range totals {
			row := make([]float64, seqLen)
			for j := range row {
				row[j] = total / float64(seqLen)
			}
			out[i] = row
		}
		return out
	}

	return &types.RolloutBatch{
		TokenRewards: tokenRewards,
		OldLogProbs:  perToken(logProbs),
		RefLogProbs:  perToken(refLogProbs),
		ResponseMask: Ones(n, seqLen),
		UIDs:         uids,
	}
}

// UniformUIDs returns n uids forming groups of size k in order:
// k samples of "prompt-0", then "prompt-1", and so on. n must be a
// multiple of k.
func UniformUIDs(t *testing.T, n, k int) []string {
	t.Helper()
	if k <= 0 || n%k != 0 {
		t.Fatalf("cannot split %d samples into groups of %d", n, k)
	}
	uids := make([]string, n)
	for i := range uids {
		uids[i] = "prompt-" + strconv.Itoa(i/k)
	}
	return uids
}
