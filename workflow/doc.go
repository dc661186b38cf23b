// Copyright (c) ReasonFlow Authors.
// Licensed under the MIT License.

/*
Package workflow provides a dependency-resolving step executor for the
rollout pipeline.

A Workflow is a set of named steps with explicit dependencies. Execution
resolves the steps into waves: every step whose dependencies are already
complete runs in the next wave, and steps within a wave run concurrently.
Each step receives the outputs of its dependencies and may retry with
exponential backoff before the workflow fails.

# Core types

  - Runner   — the step function: func(ctx, deps) (output, error)
  - Workflow — step registry plus executor
  - Result   — outputs, status and execution history of one run

# Typical use

	wf := workflow.New(workflow.Config{Name: "rollout"}, logger)
	wf.AddStep("generate", generate)
	wf.AddStep("score", score, "generate")
	wf.AddStep("train", train, "score")
	result, err := wf.Execute(ctx)

Validation rejects duplicate step ids, dependencies on unknown steps, and
dependency cycles before anything runs.
*/
package workflow
