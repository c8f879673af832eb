// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package buildrunner ties internal/workspace, internal/executor, and
// internal/plugin notifiers into the single "run one build end to end"
// operation described by spec.md §4.D/E/F together: acquire a workspace,
// honor a Chengisfile override, run the pipeline, persist the terminal
// status, and fire notifiers. internal/dispatch's LocalRunner and (once
// an agent receives a build remotely) the agent's own dispatch handler
// both call into this package rather than duplicating the sequencing.
package buildrunner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chengis/chengis/internal/buildstate"
	"github.com/chengis/chengis/internal/dsl"
	"github.com/chengis/chengis/internal/executor"
	"github.com/chengis/chengis/internal/logger"
	"github.com/chengis/chengis/internal/pipeline"
	"github.com/chengis/chengis/internal/plugin"
	"github.com/chengis/chengis/internal/store"
	"github.com/chengis/chengis/internal/workspace"
)

// MachineFactory returns the buildstate.Machine tracking buildID, creating
// one if this is the first call for that build. Owned by the caller
// (cmd/server wires it to a map shared with the websocket broadcaster) so
// this package stays ignorant of how transitions reach subscribers.
type MachineFactory func(buildID string) *buildstate.Machine

// Runner executes one Build's Pipeline from dispatch to terminal status.
type Runner struct {
	workspaces       *workspace.Manager
	registry         *plugin.Registry
	store            store.Store
	machines         MachineFactory
	maxParallelSteps int
}

// New wires a Runner. maxParallelSteps is AppConfig.Executor.MaxParallelSteps.
func New(workspaces *workspace.Manager, registry *plugin.Registry, st store.Store, machines MachineFactory, maxParallelSteps int) *Runner {
	return &Runner{
		workspaces:       workspaces,
		registry:         registry,
		store:            st,
		machines:         machines,
		maxParallelSteps: maxParallelSteps,
	}
}

// Run implements dispatch.LocalRunner's signature so it can be bound
// directly as the Dispatcher's local-execution fallback.
func (r *Runner) Run(ctx context.Context, b *store.Build, p *pipeline.Pipeline) error {
	machine := r.machines(b.BuildID)
	params := resolveParameters(p.Parameters, b.Parameters)

	ws, err := r.workspaces.Acquire(ctx, b.BuildID, p.Source)
	if err != nil {
		return r.handleCheckoutFailure(ctx, b, p, machine, params, err)
	}
	defer func() {
		if err := ws.Release(); err != nil {
			logger.GetOrchestratorLogger().Warn().Err(err).Str("build_id", b.BuildID).Msg("failed to release workspace")
		}
	}()

	effective := p
	if override, err := dsl.LoadChengisfileOverride(ws.Dir); err != nil {
		logger.GetOrchestratorLogger().Warn().Err(err).Str("build_id", b.BuildID).Msg("ignoring invalid Chengisfile override")
	} else if override != nil {
		effective = override
		params = resolveParameters(effective.Parameters, b.Parameters)
	}

	bctx := executor.BuildContext{
		BuildID:    b.BuildID,
		JobID:      b.JobID,
		Workspace:  ws.Dir,
		Parameters: params,
		ProcessEnv: processEnv(ws, params),
	}
	if ws.Git != nil {
		bctx.Branch = ws.Git.Branch
	}

	b.Workspace = ws.Dir
	if err := r.store.UpdateBuildStatus(ctx, b.BuildID, buildstate.StatusRunning, nil); err != nil {
		logger.GetOrchestratorLogger().Warn().Err(err).Str("build_id", b.BuildID).Msg("failed to persist running status")
	}

	ex := executor.New(r.registry, machine, r.maxParallelSteps)
	result, runErr := ex.Run(ctx, effective, bctx)
	if runErr != nil {
		logger.GetOrchestratorLogger().Error().Err(runErr).Str("build_id", b.BuildID).Msg("executor run failed")
		return runErr
	}

	completedAt := time.Now()
	b.Status = result.Status
	b.CompletedAt = completedAt
	if err := r.store.UpdateBuildStatus(ctx, b.BuildID, result.Status, &completedAt); err != nil {
		logger.GetOrchestratorLogger().Warn().Err(err).Str("build_id", b.BuildID).Msg("failed to persist terminal status")
	}

	r.notify(ctx, b, effective, result)
	return nil
}

// handleCheckoutFailure implements spec.md §7's CheckoutFailed row: the
// build fails before stage 1 runs, but post.always still fires. There is
// no workspace to run it in, so always steps execute with an empty
// working directory (shellstep falls back to the process's own cwd).
func (r *Runner) handleCheckoutFailure(ctx context.Context, b *store.Build, p *pipeline.Pipeline, machine *buildstate.Machine, params map[string]string, cause error) error {
	logger.GetOrchestratorLogger().Error().Err(cause).Str("build_id", b.BuildID).Msg("workspace checkout failed, failing build before stage 1")

	if err := machine.Transition(buildstate.StatusRunning); err != nil {
		return err
	}
	if err := machine.Transition(buildstate.StatusFailure); err != nil {
		return err
	}

	completedAt := time.Now()
	b.Status = buildstate.StatusFailure
	b.CompletedAt = completedAt
	if err := r.store.UpdateBuildStatus(ctx, b.BuildID, buildstate.StatusFailure, &completedAt); err != nil {
		logger.GetOrchestratorLogger().Warn().Err(err).Str("build_id", b.BuildID).Msg("failed to persist checkout-failure status")
	}

	bctx := executor.BuildContext{
		BuildID:    b.BuildID,
		JobID:      b.JobID,
		Parameters: params,
		ProcessEnv: processEnv(nil, params),
	}
	ex := executor.New(r.registry, machine, r.maxParallelSteps)
	post := ex.RunAlwaysHooks(ctx, p.Post, bctx)

	r.notify(ctx, b, p, &executor.BuildResult{Status: buildstate.StatusFailure, Post: post})
	return cause
}

func (r *Runner) notify(ctx context.Context, b *store.Build, p *pipeline.Pipeline, result *executor.BuildResult) {
	summary := plugin.BuildSummary{
		BuildID: b.BuildID,
		JobID:   b.JobID,
		Status:  string(result.Status),
		Stages:  make([]plugin.StageSummary, 0, len(result.Stages)),
	}
	for _, sr := range result.Stages {
		steps := make([]plugin.StepSummary, 0, len(sr.Steps))
		for _, st := range sr.Steps {
			steps = append(steps, plugin.StepSummary{Name: st.Name, Status: string(st.Status), ExitCode: st.ExitCode})
		}
		summary.Stages = append(summary.Stages, plugin.StageSummary{Name: sr.Name, Status: string(sr.Status), Steps: steps})
	}

	for _, nc := range p.Notifiers {
		notifier, ok := r.registry.Notifier(nc.Tag)
		if !ok {
			logger.GetPluginLogger().Warn().Str("tag", nc.Tag).Msg("no notifier registered for tag")
			continue
		}
		if _, err := notifier.Send(ctx, summary, nc.Config); err != nil {
			logger.GetPluginLogger().Error().Err(err).Str("tag", nc.Tag).Str("build_id", b.BuildID).Msg("notifier send failed")
		}
	}
}

// resolveParameters merges a Pipeline's declared defaults with the
// caller-supplied overrides, overrides winning (spec.md §3 Parameter).
func resolveParameters(declared []pipeline.Parameter, overrides map[string]string) map[string]string {
	resolved := make(map[string]string, len(declared)+len(overrides))
	for _, p := range declared {
		resolved[p.Name] = p.Default
	}
	for k, v := range overrides {
		resolved[k] = v
	}
	return resolved
}

// processEnv is the base environment every step's Env is merged over:
// the server process's own environment, GIT_* variables from the
// workspace checkout (if any), and PARAM_<NAME> for every resolved
// parameter, uppercased per shell convention.
func processEnv(ws *workspace.Workspace, params map[string]string) map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			env[parts[0]] = parts[1]
		}
	}
	if ws != nil && ws.Git != nil {
		for k, v := range ws.Git.Env() {
			env[k] = v
		}
	}
	for k, v := range params {
		env[fmt.Sprintf("PARAM_%s", strings.ToUpper(k))] = v
	}
	return env
}
