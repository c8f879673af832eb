// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registry implements the Agent Registry: register/deregister/
// heartbeat/find_available/increment/decrement over an in-memory,
// mutex-guarded map, grounded on pkg/containers/service.Service's
// containers map[string]*models.Container + sync.RWMutex shape,
// repurposed from "containers this host owns" to "build agents this
// server can dispatch to".
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// CircuitState mirrors spec.md §3's Agent.circuit_state domain.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// Agent is one build agent's registered capacity and health.
type Agent struct {
	AgentID            string
	Endpoint           string
	Labels             map[string]struct{}
	OrgID              string // empty = no org restriction
	MaxBuilds          int
	CPUCount           int
	CurrentBuilds      int
	LastHeartbeatAt    time.Time
	HeartbeatTimeoutMS int64
	CircuitState       CircuitState
	circuitOpenedAt    time.Time
	consecutiveFails   int
}

// Request describes the capacity find_available needs to satisfy.
type Request struct {
	OrgID    string
	Labels   []string
	CPUCount int
}

// Registry is the process-wide agent registry.
type Registry struct {
	mu                      sync.RWMutex
	agents                  map[string]*Agent
	circuitBreakerThreshold int
	circuitBreakerCooldown  time.Duration
}

// New returns an empty Registry. threshold is the number of consecutive
// dispatch failures that opens an agent's circuit; cooldown is how long
// an open circuit stays open before moving to half-open.
func New(threshold int, cooldown time.Duration) *Registry {
	return &Registry{
		agents:                  make(map[string]*Agent),
		circuitBreakerThreshold: threshold,
		circuitBreakerCooldown:  cooldown,
	}
}

// Register adds or replaces an agent. Idempotent: registering the same
// agent_id again resets its record.
func (r *Registry) Register(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.CircuitState == "" {
		a.CircuitState = CircuitClosed
	}
	r.agents[a.AgentID] = &a
}

// Deregister removes an agent. Idempotent: deregistering an unknown
// agent_id is a no-op.
func (r *Registry) Deregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentID)
}

// Heartbeat updates last_heartbeat_at and moves a previously open
// circuit to half-open once the cool-down has elapsed (spec §4.F); a
// later RecordDispatchSuccess closes it.
func (r *Registry) Heartbeat(agentID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return
	}
	a.LastHeartbeatAt = at
	if a.CircuitState == CircuitOpen && at.Sub(a.circuitOpenedAt) >= r.circuitBreakerCooldown {
		a.CircuitState = CircuitHalfOpen
	}
}

// isOffline applies spec.md §3's exact-boundary rule: now - last_heartbeat_at
// == heartbeat_timeout_ms counts as offline.
func isOffline(a *Agent, now time.Time) bool {
	if a.HeartbeatTimeoutMS <= 0 {
		return false
	}
	elapsed := now.Sub(a.LastHeartbeatAt)
	return elapsed >= time.Duration(a.HeartbeatTimeoutMS)*time.Millisecond
}

// FindAvailable applies the ordered exclusion/scoring rules of spec §4.F
// and returns the winning agent, or ok=false if none qualifies.
func (r *Registry) FindAvailable(req Request, now time.Time) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		candidates = append(candidates, a)
	}

	candidates = lo.Filter(candidates, func(a *Agent, _ int) bool { return !isOffline(a, now) })
	candidates = lo.Filter(candidates, func(a *Agent, _ int) bool { return a.CurrentBuilds < a.MaxBuilds })
	candidates = lo.Filter(candidates, func(a *Agent, _ int) bool { return a.OrgID == "" || a.OrgID == req.OrgID })
	candidates = lo.Filter(candidates, func(a *Agent, _ int) bool { return hasAllLabels(a, req.Labels) })
	candidates = lo.Filter(candidates, func(a *Agent, _ int) bool { return a.CPUCount >= req.CPUCount })
	candidates = lo.Filter(candidates, func(a *Agent, _ int) bool { return a.CircuitState != CircuitOpen })

	if len(candidates) == 0 {
		return Agent{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		ri := ratio(candidates[i])
		rj := ratio(candidates[j])
		if ri != rj {
			return ri < rj
		}
		fi := candidates[i].CPUCount - candidates[i].CurrentBuilds
		fj := candidates[j].CPUCount - candidates[j].CurrentBuilds
		if fi != fj {
			return fi > fj
		}
		return candidates[i].AgentID < candidates[j].AgentID
	})

	return *candidates[0], true
}

func ratio(a *Agent) float64 {
	if a.MaxBuilds == 0 {
		return 1
	}
	return float64(a.CurrentBuilds) / float64(a.MaxBuilds)
}

func hasAllLabels(a *Agent, required []string) bool {
	for _, l := range required {
		if _, ok := a.Labels[l]; !ok {
			return false
		}
	}
	return true
}

// IncrementBuilds atomically bumps current_builds for agentID.
func (r *Registry) IncrementBuilds(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[agentID]; ok {
		a.CurrentBuilds++
	}
}

// DecrementBuilds atomically decrements current_builds for agentID,
// floored at zero.
func (r *Registry) DecrementBuilds(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[agentID]; ok && a.CurrentBuilds > 0 {
		a.CurrentBuilds--
	}
}

// RecordDispatchFailure increments an agent's consecutive-failure count
// and opens its circuit once circuitBreakerThreshold is reached.
func (r *Registry) RecordDispatchFailure(agentID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return
	}
	a.consecutiveFails++
	if a.consecutiveFails >= r.circuitBreakerThreshold && a.CircuitState != CircuitOpen {
		a.CircuitState = CircuitOpen
		a.circuitOpenedAt = at
	}
}

// RecordDispatchSuccess resets an agent's failure count and closes a
// half-open circuit.
func (r *Registry) RecordDispatchSuccess(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return
	}
	a.consecutiveFails = 0
	if a.CircuitState == CircuitHalfOpen {
		a.CircuitState = CircuitClosed
	}
}

// Get returns a snapshot of one agent's record.
func (r *Registry) Get(agentID string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}
