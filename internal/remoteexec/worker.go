// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

package remoteexec

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/chengis/chengis/internal/config"
)

// NewWorker returns a Temporal worker.Worker registered with BuildWorkflow
// and RunBuildActivity, ready for worker.Worker.Run; no further
// registration is needed. The caller owns the worker's lifecycle
// (cmd/agent starts/stops it alongside the dispatch-receiver HTTP server).
func NewWorker(c client.Client, cfg config.TemporalConfig, activities *Activities) worker.Worker {
	w := worker.New(c, cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     cfg.Worker.MaxConcurrentActivityExecutions,
		MaxConcurrentWorkflowTaskExecutionSize: cfg.Worker.MaxConcurrentWorkflows,
		TaskQueueActivitiesPerSecond:           cfg.Worker.ActivitiesPerSecond,
	})
	w.RegisterWorkflow(BuildWorkflow)
	w.RegisterActivityWithOptions(activities.RunBuildActivity, activity.RegisterOptions{Name: RunBuildActivityName})
	return w
}
