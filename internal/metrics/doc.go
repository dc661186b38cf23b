// Copyright (c) ReasonFlow Authors.
// Licensed under the MIT License.

// Package metrics provides the internal Prometheus collector for training
// observability. This package is internal and should not be imported by
// external projects.
package metrics
