// Copyright (c) ReasonFlow Authors.
// Licensed under the MIT License.

// Package testutil provides shared helpers for tests: bounded contexts
// and rollout batch fixtures.
package testutil
