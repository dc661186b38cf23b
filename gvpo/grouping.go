package gvpo

import (
	"github.com/alfredcs/reasonflow/types"
)

// Groups is a partition of batch indices [0..N) into prompt groups.
// Groups are ordered by first appearance in the batch and each group lists
// its member indices in batch order, which keeps summation order, and
// therefore floating-point results, reproducible across calls.
type Groups struct {
	members [][]int
	n       int
}

// NumGroups returns the number of groups in the partition.
func (g *Groups) NumGroups() int {
	return len(g.members)
}

// BatchSize returns the total number of samples covered by the partition.
func (g *Groups) BatchSize() int {
	return g.n
}

// Members returns the batch indices belonging to group i, in batch order.
// The returned slice must not be modified.
func (g *Groups) Members(i int) []int {
	return g.members[i]
}

// Sizes returns the size of every group in partition order.
func (g *Groups) Sizes() []int {
	sizes := make([]int, len(g.members))
	for i, m := range g.members {
		sizes[i] = len(m)
	}
	return sizes
}

// GroupByID partitions a batch by prompt identifier equality. Identifiers
// are opaque tokens; membership need not be contiguous. Groups appear in
// first-seen order so that results are deterministic for a given batch
// layout.
func GroupByID(ids []string) (*Groups, error) {
	if len(ids) == 0 {
		return nil, types.NewError(types.ErrEmptyBatch, "group ids are empty")
	}
	index := make(map[string]int, len(ids))
	members := make([][]int, 0)
	for i, id := range ids {
		gi, ok := index[id]
		if !ok {
			gi = len(members)
			index[id] = gi
			members = append(members, nil)
		}
		members[gi] = append(members[gi], i)
	}
	return &Groups{members: members, n: len(ids)}, nil
}

// GroupBySizes partitions [0..n) into contiguous blocks of the given
// sizes. The sizes must be positive and sum to n.
func GroupBySizes(sizes []int, n int) (*Groups, error) {
	if n <= 0 {
		return nil, types.NewError(types.ErrEmptyBatch, "batch size must be positive")
	}
	if len(sizes) == 0 {
		return nil, types.NewError(types.ErrConfigInvalid, "group sizes are empty")
	}
	total := 0
	for _, s := range sizes {
		if s <= 0 {
			return nil, types.NewErrorf(types.ErrConfigInvalid, "group sizes must be positive, got %d", s)
		}
		total += s
	}
	if total != n {
		return nil, types.NewErrorf(types.ErrConfigInvalid,
			"group sizes sum to %d, want batch size %d", total, n)
	}
	members := make([][]int, len(sizes))
	start := 0
	for gi, s := range sizes {
		m := make([]int, s)
		for j := range m {
			m[j] = start + j
		}
		members[gi] = m
		start += s
	}
	return &Groups{members: members, n: n}, nil
}

// GroupUniform partitions [0..n) into contiguous groups of uniform size k.
// n must be divisible by k.
func GroupUniform(n, k int) (*Groups, error) {
	if n <= 0 {
		return nil, types.NewError(types.ErrEmptyBatch, "batch size must be positive")
	}
	if k < 1 {
		return nil, types.NewErrorf(types.ErrConfigInvalid, "samples per prompt must be >= 1, got %d", k)
	}
	if n%k != 0 {
		return nil, types.NewErrorf(types.ErrConfigInvalid,
			"batch size %d is not divisible by samples per prompt %d", n, k)
	}
	sizes := make([]int, n/k)
	for i := range sizes {
		sizes[i] = k
	}
	return GroupBySizes(sizes, n)
}
