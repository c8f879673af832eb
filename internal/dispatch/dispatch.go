// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dispatch implements the per-build dispatch decision of
// spec.md §4.G: try a remote agent, fall back to local execution or a
// bounded retry queue, or fail. HTTP dispatch uses a plain *http.Client
// since the wire protocol is literal JSON-over-HTTPS, not a Temporal
// activity — the teacher has no literal equivalent (Temporal's task
// queue plays this role internally), so this is new code written in
// the teacher's general error-handling/logging idiom.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/chengis/chengis/internal/buildstate"
	"github.com/chengis/chengis/internal/jobs"
	"github.com/chengis/chengis/internal/logger"
	"github.com/chengis/chengis/internal/pipeline"
	"github.com/chengis/chengis/internal/registry"
	"github.com/chengis/chengis/internal/store"
)

// Mode is the dispatcher's decision for where a build runs.
type Mode string

const (
	ModeRemote Mode = "remote"
	ModeLocal  Mode = "local"
	ModeQueued Mode = "queued"
	ModeFailed Mode = "failed"
)

// Decision is the outcome of one Dispatch call.
type Decision struct {
	Mode    Mode
	AgentID string
	Build   *store.Build
}

// Envelope is the literal wire body POSTed to an agent's /dispatch
// endpoint (spec.md §6).
type Envelope struct {
	BuildID       string            `json:"build_id"`
	JobID         string            `json:"job_id"`
	OrgID         string            `json:"org_id"`
	Pipeline      *pipeline.Pipeline `json:"pipeline"`
	Parameters    map[string]string `json:"parameters"`
	WorkspaceHint string            `json:"workspace_hint,omitempty"`
	ParentSpan    string            `json:"parent_span,omitempty"`
}

// dispatchResponse is the agent's acceptance body.
type dispatchResponse struct {
	AgentBuildID string `json:"agent_build_id"`
}

// LocalRunner executes a Build's pipeline in-process, bypassing remote
// dispatch (mode = local). Bound to internal/executor by the caller
// that wires up the Dispatcher, keeping this package independent of
// the executor's concrete API.
type LocalRunner func(ctx context.Context, b *store.Build, p *pipeline.Pipeline) error

// Dispatcher implements spec.md §4.G's decision algorithm.
type Dispatcher struct {
	registry      *registry.Registry
	store         store.Store
	httpClient    *http.Client
	queue         *Queue
	localRunner   LocalRunner
	fallbackLocal bool
	queueEnabled  bool
}

// New wires a Dispatcher. httpClient's Timeout should already be set
// from AppConfig.Dispatcher.DispatchTimeout by the caller.
func New(reg *registry.Registry, st store.Store, httpClient *http.Client, localRunner LocalRunner, fallbackLocal, queueEnabled bool, queueCapacity int) *Dispatcher {
	return &Dispatcher{
		registry:      reg,
		store:         st,
		httpClient:    httpClient,
		queue:         NewQueue(queueCapacity),
		localRunner:   localRunner,
		fallbackLocal: fallbackLocal,
		queueEnabled:  queueEnabled,
	}
}

var tracer = otel.Tracer("github.com/chengis/chengis/internal/dispatch")

// Dispatch runs the full algorithm of spec.md §4.G for one (job,
// resolved parameters, trigger, org) input.
func (d *Dispatcher) Dispatch(ctx context.Context, job *jobs.Job, params map[string]string, trig store.Trigger, orgID string, workspaceHint string, priority int) (*Decision, error) {
	number, err := d.store.NextBuildNumber(ctx, job.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to assign build number: %w", err)
	}

	b := &store.Build{
		BuildID:     uuid.NewString(),
		JobID:       job.Name,
		OrgID:       orgID,
		BuildNumber: number,
		Status:      buildstate.StatusQueued,
		Trigger:     trig,
		Parameters:  params,
		StartedAt:   time.Now(),
	}
	if err := d.store.CreateBuild(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to persist build: %w", err)
	}

	req := registry.Request{OrgID: orgID, CPUCount: 1}
	agent, found := d.registry.FindAvailable(req, time.Now())

	if found && agent.CircuitState != registry.CircuitOpen {
		if d.tryRemote(ctx, &agent, b, job, workspaceHint) {
			d.registry.IncrementBuilds(agent.AgentID)
			b.AgentID = agent.AgentID
			return &Decision{Mode: ModeRemote, AgentID: agent.AgentID, Build: b}, nil
		}

		d.registry.RecordDispatchFailure(agent.AgentID, time.Now())
		return d.afterRemoteFailure(ctx, b, job)
	}

	return d.afterNoAgent(ctx, b, job, priority)
}

// tryRemote POSTs the build envelope and reports success per spec.md
// §6's boundary: status < 300 is success, exactly 300 is failure.
func (d *Dispatcher) tryRemote(ctx context.Context, agent *registry.Agent, b *store.Build, job *jobs.Job, workspaceHint string) bool {
	spanCtx, span := tracer.Start(ctx, "dispatch.remote")
	defer span.End()

	env := Envelope{
		BuildID:       b.BuildID,
		JobID:         job.Name,
		OrgID:         b.OrgID,
		Pipeline:      job.Pipeline,
		Parameters:    b.Parameters,
		WorkspaceHint: workspaceHint,
		ParentSpan:    span.SpanContext().TraceID().String(),
	}

	body, err := json.Marshal(env)
	if err != nil {
		logger.GetOrchestratorLogger().Error().Err(err).Msg("failed to marshal dispatch envelope")
		return false
	}

	httpReq, err := http.NewRequestWithContext(spanCtx, http.MethodPost, agent.Endpoint+"/dispatch", bytes.NewReader(body))
	if err != nil {
		logger.GetOrchestratorLogger().Error().Err(err).Msg("failed to build dispatch request")
		return false
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		logger.GetOrchestratorLogger().Warn().Err(err).Str("agent_id", agent.AgentID).Msg("dispatch request failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		logger.GetOrchestratorLogger().Warn().Int("status", resp.StatusCode).Str("agent_id", agent.AgentID).Msg("agent rejected dispatch")
		return false
	}

	var accepted dispatchResponse
	_ = json.NewDecoder(resp.Body).Decode(&accepted)
	return true
}

func (d *Dispatcher) afterRemoteFailure(ctx context.Context, b *store.Build, job *jobs.Job) (*Decision, error) {
	if d.fallbackLocal {
		return d.runLocal(ctx, b, job)
	}
	if d.queueEnabled {
		return d.enqueue(ctx, b, job, 0)
	}
	return d.fail(ctx, b)
}

func (d *Dispatcher) afterNoAgent(ctx context.Context, b *store.Build, job *jobs.Job, priority int) (*Decision, error) {
	if d.queueEnabled {
		return d.enqueue(ctx, b, job, priority)
	}
	if d.fallbackLocal {
		return d.runLocal(ctx, b, job)
	}
	return d.fail(ctx, b)
}

func (d *Dispatcher) runLocal(ctx context.Context, b *store.Build, job *jobs.Job) (*Decision, error) {
	if d.localRunner == nil {
		return d.fail(ctx, b)
	}
	if err := d.localRunner(ctx, b, job.Pipeline); err != nil {
		logger.GetOrchestratorLogger().Error().Err(err).Str("build_id", b.BuildID).Msg("local execution failed")
	}
	return &Decision{Mode: ModeLocal, Build: b}, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, b *store.Build, job *jobs.Job, priority int) (*Decision, error) {
	d.queue.Push(Item{Build: b, Job: job, Priority: priority, EnqueuedAt: time.Now()})
	return &Decision{Mode: ModeQueued, Build: b}, nil
}

func (d *Dispatcher) fail(ctx context.Context, b *store.Build) (*Decision, error) {
	if err := d.store.UpdateBuildStatus(ctx, b.BuildID, buildstate.StatusFailure, nil); err != nil {
		return nil, err
	}
	b.Status = buildstate.StatusFailure
	return &Decision{Mode: ModeFailed, Build: b}, nil
}
