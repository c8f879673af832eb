// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package remoteexec wraps internal/buildrunner in a Temporal workflow so
// an agent's build execution survives the agent process restarting mid
// build, grounded on the teacher's
// internal/orchestrator/temporal/workflows/pipeline.go +
// internal/orchestrator/temporal/activities/local_exec.go split between a
// thin workflow and an activity doing the actual work.
package remoteexec

import (
	"context"

	"github.com/chengis/chengis/internal/buildrunner"
	"github.com/chengis/chengis/internal/pipeline"
	"github.com/chengis/chengis/internal/store"
)

// RunBuildInput is the Temporal activity/workflow input: everything
// buildrunner.Runner.Run needs, flattened into serializable fields since
// Temporal marshals workflow/activity arguments to JSON.
type RunBuildInput struct {
	Build    store.Build
	Pipeline pipeline.Pipeline
}

// RunBuildOutput is the activity's result.
type RunBuildOutput struct {
	Status string
}

// Activities holds the dependencies RunBuildActivity needs to execute a
// build on this agent.
type Activities struct {
	runner *buildrunner.Runner
}

// NewActivities binds Activities to runner.
func NewActivities(runner *buildrunner.Runner) *Activities {
	return &Activities{runner: runner}
}

// RunBuildActivity runs one build to completion via buildrunner.Runner.
// Temporal retries this activity per the configured RetryPolicy on
// transient failure; buildrunner.Runner.Run is itself idempotent enough
// for a retry to be safe since it re-acquires a fresh workspace directory
// keyed by build_id each time.
func (a *Activities) RunBuildActivity(ctx context.Context, input RunBuildInput) (RunBuildOutput, error) {
	b := input.Build
	if err := a.runner.Run(ctx, &b, &input.Pipeline); err != nil {
		return RunBuildOutput{Status: string(b.Status)}, err
	}
	return RunBuildOutput{Status: string(b.Status)}, nil
}
