// Copyright (c) ReasonFlow Authors.
// Licensed under the MIT License.

// Package store persists training run history: one record per run and one
// per training step, backed by a cgo-free sqlite database. This package is
// internal and should not be imported by external projects.
package store
