// Copyright (c) ReasonFlow Authors.
// Licensed under the MIT License.

// Package buffer moves rollout batches between the external rollout
// generator and the training loop over a redis list. This package is
// internal and should not be imported by external projects.
package buffer
