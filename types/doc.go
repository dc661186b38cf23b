// Copyright (c) ReasonFlow Authors.
// Licensed under the MIT License.

// Package types defines the shared data structures and the unified error
// taxonomy used across the reasonflow packages: the structured Error type
// with stable error codes, and the RolloutBatch container exchanged with
// the external rollout and optimizer infrastructure.
package types
