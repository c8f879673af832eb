// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chengis/chengis/internal/dispatch"
	"github.com/chengis/chengis/internal/jobs"
	"github.com/chengis/chengis/internal/pipeline"
	"github.com/chengis/chengis/internal/registry"
	"github.com/chengis/chengis/internal/store"
)

// CancelFunc cooperatively cancels a running build's cancel token (spec
// §5: "build cancel <build-id> sets the build's cancel token"). Returns
// false if buildID has no running local execution to cancel — cmd/server
// supplies the concrete implementation backed by a context.CancelFunc
// map, keeping this package ignorant of how builds actually run.
type CancelFunc func(buildID string) bool

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	broadcaster *EventBroadcaster
	jobs        *jobs.Table
	dispatcher  *dispatch.Dispatcher
	store       store.Store
	registry    *registry.Registry
	cancel      CancelFunc
}

// NewHandlers creates the handler set.
func NewHandlers(
	broadcaster *EventBroadcaster,
	jobTable *jobs.Table,
	dispatcher *dispatch.Dispatcher,
	st store.Store,
	reg *registry.Registry,
	cancel CancelFunc,
) *Handlers {
	return &Handlers{
		broadcaster: broadcaster,
		jobs:        jobTable,
		dispatcher:  dispatcher,
		store:       st,
		registry:    reg,
		cancel:      cancel,
	}
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		getLog().Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, clientMsg string, err error) {
	if err != nil {
		getLog().Error().Err(err).Msg(clientMsg)
	}
	writeJSON(w, status, map[string]string{"error": clientMsg})
}

// --- jobs ---

// createJobRequest is the JSON body for POST /api/v1/jobs. Pipeline is a
// fully-built *pipeline.Pipeline: the CLI parses and validates the
// Chengisfile/DSL file locally (spec §4.B) before ever reaching the
// server, so the wire body carries structured data, not source text.
type createJobRequest struct {
	Name          string             `json:"name"`
	OrgID         string             `json:"org_id,omitempty"`
	CronSchedule  string             `json:"cron_schedule,omitempty"`
	DefaultParams map[string]string  `json:"default_params,omitempty"`
	Pipeline      *pipeline.Pipeline `json:"pipeline"`
}

// CreateJob handles POST /api/v1/jobs.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var body createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	if body.Pipeline == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "pipeline is required"})
		return
	}

	job, err := h.jobs.Register(body.Name, body.OrgID, body.Pipeline, body.CronSchedule, body.DefaultParams)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to register job", err)
		return
	}

	h.broadcaster.Publish(JobRegisteredEvent{JobID: job.Name})
	writeJSON(w, http.StatusCreated, job)
}

// ListJobs handles GET /api/v1/jobs.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.jobs.List())
}

// GetJob handles GET /api/v1/jobs/{name}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	job, err := h.jobs.Get(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// --- builds ---

// triggerBuildRequest is the JSON body for POST /api/v1/jobs/{name}/builds.
type triggerBuildRequest struct {
	Parameters map[string]string `json:"parameters,omitempty"`
	Priority   int               `json:"priority,omitempty"`
}

// TriggerBuild handles POST /api/v1/jobs/{name}/builds.
func (h *Handlers) TriggerBuild(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	job, err := h.jobs.Get(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}

	var body triggerBuildRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
	}

	params := body.Parameters
	if params == nil {
		params = job.DefaultParams
	}

	decision, err := h.dispatcher.Dispatch(r.Context(), job, params, store.TriggerManual, job.OrgID, "", body.Priority)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to dispatch build", err)
		return
	}

	h.broadcaster.Publish(BuildTransitionEvent{BuildID: decision.Build.BuildID, JobID: job.Name, To: string(decision.Build.Status)})
	writeJSON(w, http.StatusCreated, map[string]any{
		"build":  decision.Build,
		"mode":   decision.Mode,
		"agent":  decision.AgentID,
	})
}

// ListBuildsByJob handles GET /api/v1/jobs/{name}/builds.
func (h *Handlers) ListBuildsByJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	builds, err := h.store.ListBuildsByJob(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load builds", err)
		return
	}
	writeJSON(w, http.StatusOK, builds)
}

// GetBuild handles GET /api/v1/builds/{buildId}.
func (h *Handlers) GetBuild(w http.ResponseWriter, r *http.Request) {
	buildID := chi.URLParam(r, "buildId")
	b, err := h.store.GetBuild(r.Context(), buildID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "build not found"})
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// CancelBuild handles POST /api/v1/builds/{buildId}/cancel.
func (h *Handlers) CancelBuild(w http.ResponseWriter, r *http.Request) {
	buildID := chi.URLParam(r, "buildId")
	if h.cancel == nil || !h.cancel(buildID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "build is not running locally on this server"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancel requested"})
}

// --- agents ---

// registerAgentRequest is the JSON body for POST /api/v1/agents.
type registerAgentRequest struct {
	AgentID            string   `json:"agent_id"`
	Endpoint           string   `json:"endpoint"`
	OrgID              string   `json:"org_id,omitempty"`
	Labels             []string `json:"labels,omitempty"`
	MaxBuilds          int      `json:"max_builds"`
	CPUCount           int      `json:"cpu_count"`
	HeartbeatTimeoutMS int64    `json:"heartbeat_timeout_ms"`
}

// RegisterAgent handles POST /api/v1/agents.
func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var body registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if strings.TrimSpace(body.AgentID) == "" || strings.TrimSpace(body.Endpoint) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agent_id and endpoint are required"})
		return
	}

	labels := make(map[string]struct{}, len(body.Labels))
	for _, l := range body.Labels {
		labels[l] = struct{}{}
	}

	h.registry.Register(registry.Agent{
		AgentID:            body.AgentID,
		Endpoint:           body.Endpoint,
		OrgID:              body.OrgID,
		Labels:             labels,
		MaxBuilds:          body.MaxBuilds,
		CPUCount:           body.CPUCount,
		HeartbeatTimeoutMS: body.HeartbeatTimeoutMS,
		LastHeartbeatAt:    time.Now(),
	})

	if err := h.store.UpsertAgent(r.Context(), &store.AgentRecord{
		AgentID:   body.AgentID,
		Endpoint:  body.Endpoint,
		OrgID:     body.OrgID,
		Labels:    body.Labels,
		MaxBuilds: body.MaxBuilds,
		CPUCount:  body.CPUCount,
	}); err != nil {
		getLog().Warn().Err(err).Str("agent_id", body.AgentID).Msg("failed to persist agent record")
	}

	h.broadcaster.Publish(AgentRegisteredEvent{AgentID: body.AgentID})
	writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

// DeregisterAgent handles DELETE /api/v1/agents/{id}.
func (h *Handlers) DeregisterAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	h.registry.Deregister(agentID)
	if err := h.store.DeleteAgent(r.Context(), agentID); err != nil {
		getLog().Warn().Err(err).Str("agent_id", agentID).Msg("failed to delete persisted agent record")
	}
	h.broadcaster.Publish(AgentDeregisteredEvent{AgentID: agentID})
	writeJSON(w, http.StatusOK, map[string]string{"status": "deregistered"})
}

// HeartbeatAgent handles POST /api/v1/agents/{id}/heartbeat.
func (h *Handlers) HeartbeatAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	h.registry.Heartbeat(agentID, time.Now())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListAgents handles GET /api/v1/agents.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListAgents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load agents", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
