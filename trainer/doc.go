// Copyright (c) ReasonFlow Authors.
// Licensed under the MIT License.

/*
Package trainer connects the GVPO numerical core to the surrounding
training infrastructure.

The Adapter consumes a types.RolloutBatch, validates its required fields,
reduces token-level values to sequence level, groups samples by prompt
uid, runs the gvpo engine, and writes the resulting advantages back into
the batch broadcast across every token position.

The Trainer drives the step loop: it pulls batches from a RolloutSource,
runs the Adapter, hands loss and advantages to a PolicyUpdater, and
reports to zap, Prometheus, OTel, and the run-history store. Rollout
generation and the optimizer itself stay external; both are reached only
through their interfaces.
*/
package trainer
