// Copyright (c) ReasonFlow Authors.
// Licensed under the MIT License.

// Package config loads and validates the reasonflow configuration: the
// algorithm parameters of the GVPO engine plus the trainer, logging,
// transport, persistence, and telemetry settings surrounding it.
//
// Values are resolved in three layers, each overriding the previous:
// defaults, then an optional YAML file, then REASONFLOW_* environment
// variables mapped through the `env` struct tags.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("reasonflow.yaml").
//	    Load()
package config
