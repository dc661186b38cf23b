// Copyright (c) ReasonFlow Authors.
// Licensed under the MIT License.

/*
Package gvpo implements the Group Variance Policy Optimization advantage
and loss computation.

GVPO compares the sampled responses to one prompt against each other and
turns their relative rewards into a zero-sum training signal. For a group
of k responses to the same prompt, the per-sample weight is

	w_i = (R_i - R̄) - β((lp_i - lpref_i) - mean(lp - lpref))

where R is the reward, lp the sequence log probability under the current
policy, lpref under the frozen reference policy, and β the KL temperature.
Centering both terms makes each group's weights sum to zero by
construction, which removes the need for a baseline or partition-function
estimate. Unlike GRPO-style estimators, no division by the group reward
standard deviation takes place, so low-variance groups are not amplified.

The loss over a group of size k is

	L_g = -β · Σ_i w_i · lp_i / (k-1)

with the Bessel denominator (k-1) configurable down to k. Weights are
constants with respect to the loss: the external optimizer must treat
them as detached when differentiating through the current-policy log
probabilities.

The package is a pure numerical core: stateless per call apart from its
Config, no I/O, no logging. Diagnostics are reported through the optional
Observer interface.

Core entry points:

  - Engine             — configured computation engine
  - GroupByID          — partition a batch by prompt identifier
  - GroupBySizes       — partition by explicit contiguous group sizes
  - GroupUniform       — partition into uniform groups of size k
  - ComputeWeights     — raw zero-sum GVPO weights
  - ComputeNormalizedWeights — std-normalized, PPO-compatible advantages
  - ComputeLoss        — Bessel-corrected scalar loss
  - SumSequenceLogProbs — masked token-to-sequence reduction
  - TokenLogProbs      — log-softmax + gather over raw logits
*/
package gvpo
