// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

package remoteexec

import (
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/chengis/chengis/internal/config"
)

// RunBuildActivityName is the name RunBuildActivity is registered under
// (see worker.go); BuildWorkflow invokes it by name rather than by
// function value so the workflow has no import-time dependency on a
// concrete *Activities receiver.
const RunBuildActivityName = "RunBuildActivity"

// BuildWorkflow is the durable entry point an agent's Temporal worker
// registers. It delegates the entire build to a single activity —
// internal/buildrunner already owns the sequencing (workspace, executor,
// notifiers) — so this workflow is purely the retry/timeout envelope
// around it.
func BuildWorkflow(ctx workflow.Context, input RunBuildInput, opts config.ActivityOptions) (RunBuildOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout:    opts.StartToCloseTimeout,
		ScheduleToCloseTimeout: opts.ScheduleToCloseTimeout,
		HeartbeatTimeout:       opts.HeartbeatTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    opts.RetryPolicy.InitialInterval,
			BackoffCoefficient: opts.RetryPolicy.BackoffCoefficient,
			MaximumInterval:    opts.RetryPolicy.MaximumInterval,
			MaximumAttempts:    opts.RetryPolicy.MaximumAttempts,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var out RunBuildOutput
	err := workflow.ExecuteActivity(ctx, RunBuildActivityName, input).Get(ctx, &out)
	return out, err
}
