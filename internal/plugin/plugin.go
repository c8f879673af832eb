// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package plugin implements the process-wide StepExecutor/Notifier
// registry and the trust-policy gate described in spec §4.C. Built-in
// executors live in subpackages (shellstep, dockerstep, consolenotify)
// and are registered by builtins.Register (internal/plugin/builtins).
package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chengis/chengis/internal/logger"
	"github.com/chengis/chengis/internal/pipeline"
)

// StepContext carries everything a StepExecutor needs to run one Step:
// the resolved workspace path and the merged environment (the build's
// base environment from executor.BuildContext.ProcessEnv overlaid with
// the step's own env). BuildID and JobID travel as fields; they are not
// added to Env.
type StepContext struct {
	BuildID   string
	JobID     string
	Workspace string
	Env       map[string]string
	Timeout   time.Duration
}

// StepResult is what a StepExecutor returns for one Step.
type StepResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	// TimedOut distinguishes the timeout sentinel (exit_code -1) from a
	// genuine process exit code -1, which cannot otherwise occur.
	TimedOut bool
}

// StepExecutor executes one Step within a StepContext.
type StepExecutor interface {
	Execute(ctx context.Context, step pipeline.Step, sctx StepContext) (StepResult, error)
}

// NotifyResult is what a Notifier returns for one notification attempt.
type NotifyResult struct {
	OK      bool
	Details string
}

// BuildSummary is the minimal, executor-agnostic view of a finished
// build that Notifiers receive; it deliberately avoids depending on
// internal/buildstate or internal/executor to keep this package leaf-level.
type BuildSummary struct {
	BuildID string
	JobID   string
	Status  string
	Stages  []StageSummary
}

// StageSummary mirrors a stage's name/status/step summaries for notifiers.
type StageSummary struct {
	Name   string
	Status string
	Steps  []StepSummary
}

// StepSummary mirrors a step's name/status/exit code for notifiers.
type StepSummary struct {
	Name     string
	Status   string
	ExitCode int
}

// Notifier sends a finished build's summary to some external channel.
type Notifier interface {
	Send(ctx context.Context, summary BuildSummary, cfg map[string]interface{}) (NotifyResult, error)
}

// PluginMeta describes a registered plugin's provenance.
type PluginMeta struct {
	Name    string
	Version string
	Source  string // "builtin" or an external plugin directory path
}

// PolicyStore answers whether a given (org, plugin) pair is allowed to
// load. A nil PolicyStore means "no policy store configured" — spec
// §4.C's backward-compat mode where everything loads.
type PolicyStore interface {
	Allowed(orgID, pluginName string) bool
}

// PluginBlocked is returned by RegisterExternal when a PolicyStore rejects
// a plugin.
type PluginBlocked struct {
	OrgID  string
	Plugin string
}

func (e *PluginBlocked) Error() string {
	return fmt.Sprintf("plugin %q blocked for org %q by policy", e.Plugin, e.OrgID)
}

// UnknownStepType is returned by Registry.Executor when a step's type has
// no registered StepExecutor.
type UnknownStepType struct {
	StepType pipeline.StepType
}

func (e *UnknownStepType) Error() string {
	return fmt.Sprintf("unknown step type %q", e.StepType)
}

// Registry is the process-wide plugin registry. Writes happen once at
// startup (and on explicit reload); reads are lock-free only in the
// sense that RLock is cheap — the teacher's equivalent pattern
// (pkg/containers/service.Service) uses the same mutex-guarded-map shape.
type Registry struct {
	mu        sync.RWMutex
	executors map[pipeline.StepType]StepExecutor
	notifiers map[string]Notifier
	meta      map[string]PluginMeta
	policy    PolicyStore
}

// NewRegistry constructs an empty Registry with the given PolicyStore
// (nil = backward-compat "allow everything" mode).
func NewRegistry(policy PolicyStore) *Registry {
	return &Registry{
		executors: make(map[pipeline.StepType]StepExecutor),
		notifiers: make(map[string]Notifier),
		meta:      make(map[string]PluginMeta),
		policy:    policy,
	}
}

// RegisterExecutor registers a StepExecutor for stepType, always
// succeeding — built-ins are never policy-gated (spec §4.C).
func (r *Registry) RegisterExecutor(stepType pipeline.StepType, exec StepExecutor, meta PluginMeta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[stepType] = exec
	r.meta[meta.Name] = meta
}

// RegisterNotifier registers a Notifier under tag.
func (r *Registry) RegisterNotifier(tag string, n Notifier, meta PluginMeta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers[tag] = n
	r.meta[meta.Name] = meta
}

// RegisterExternal registers a StepExecutor sourced from an external
// plugin directory, subject to policy: it only loads if the configured
// PolicyStore (if any) allows (orgID, meta.Name).
func (r *Registry) RegisterExternal(orgID string, stepType pipeline.StepType, exec StepExecutor, meta PluginMeta) error {
	if r.policy != nil && !r.policy.Allowed(orgID, meta.Name) {
		logger.GetPluginLogger().Warn().Str("plugin", meta.Name).Str("org_id", orgID).Msg("plugin blocked by policy")
		return &PluginBlocked{OrgID: orgID, Plugin: meta.Name}
	}
	r.RegisterExecutor(stepType, exec, meta)
	logger.GetPluginLogger().Info().Str("plugin", meta.Name).Msg("external plugin registered")
	return nil
}

// Executor looks up the StepExecutor for a step type.
func (r *Registry) Executor(stepType pipeline.StepType) (StepExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[stepType]
	if !ok {
		return nil, &UnknownStepType{StepType: stepType}
	}
	return exec, nil
}

// Notifier looks up a registered Notifier by tag. ok is false if none is
// registered under that tag.
func (r *Registry) Notifier(tag string) (Notifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.notifiers[tag]
	return n, ok
}

// Plugins returns a snapshot of all registered plugin metadata.
func (r *Registry) Plugins() []PluginMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PluginMeta, 0, len(r.meta))
	for _, m := range r.meta {
		out = append(out, m)
	}
	return out
}
