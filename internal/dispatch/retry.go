// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/chengis/chengis/internal/logger"
	"github.com/chengis/chengis/internal/registry"
)

// RunQueueWorker polls the agent registry and retries dispatch for
// queued builds until ctx is cancelled. Each dequeued item's retry
// attempts are bounded via cenkalti/backoff/v5's exponential policy
// (spec.md §4.G: "retries are bounded").
func (d *Dispatcher) RunQueueWorker(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drainOnce(ctx)
		}
	}
}

func (d *Dispatcher) drainOnce(ctx context.Context) {
	item, ok := d.queue.Pop()
	if !ok {
		return
	}

	op := func() (struct{}, error) {
		req := registry.Request{OrgID: item.Build.OrgID, CPUCount: 1}
		agent, found := d.registry.FindAvailable(req, time.Now())
		if !found || agent.CircuitState == registry.CircuitOpen {
			return struct{}{}, errNoAgentYet
		}
		if !d.tryRemote(ctx, &agent, item.Build, item.Job, "") {
			d.registry.RecordDispatchFailure(agent.AgentID, time.Now())
			return struct{}{}, errNoAgentYet
		}
		d.registry.IncrementBuilds(agent.AgentID)
		item.Build.AgentID = agent.AgentID
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(5),
	)
	if err != nil {
		logger.GetOrchestratorLogger().Warn().Str("build_id", item.Build.BuildID).Msg("queued build exhausted retries, re-queueing")
		d.queue.Push(item)
	}
}

var errNoAgentYet = &retryableError{"no available agent"}

type retryableError struct{ msg string }

func (e *retryableError) Error() string { return e.msg }
