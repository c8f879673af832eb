// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"testing"
	"time"
)

func baseAgent(id string) Agent {
	return Agent{
		AgentID:            id,
		MaxBuilds:          4,
		CPUCount:           8,
		HeartbeatTimeoutMS: 30000,
		LastHeartbeatAt:    time.Now(),
		Labels:             map[string]struct{}{"linux": {}},
	}
}

func TestRegistry_RegisterDeregisterIdempotent(t *testing.T) {
	r := New(3, time.Minute)
	r.Register(baseAgent("a1"))
	r.Register(baseAgent("a1"))
	if _, ok := r.Get("a1"); !ok {
		t.Fatal("expected a1 to be registered")
	}
	r.Deregister("a1")
	r.Deregister("a1")
	if _, ok := r.Get("a1"); ok {
		t.Fatal("expected a1 to be gone after deregister")
	}
}

func TestRegistry_FindAvailable_ExcludesOffline(t *testing.T) {
	r := New(3, time.Minute)
	now := time.Now()
	stale := baseAgent("stale")
	stale.LastHeartbeatAt = now.Add(-time.Minute)
	r.Register(stale)

	_, ok := r.FindAvailable(Request{CPUCount: 1}, now)
	if ok {
		t.Fatal("expected no agent available, stale agent should be excluded")
	}
}

func TestRegistry_FindAvailable_ExcludesFullAgents(t *testing.T) {
	r := New(3, time.Minute)
	now := time.Now()
	full := baseAgent("full")
	full.CurrentBuilds = full.MaxBuilds
	r.Register(full)

	_, ok := r.FindAvailable(Request{CPUCount: 1}, now)
	if ok {
		t.Fatal("expected no agent available, full agent should be excluded")
	}
}

func TestRegistry_FindAvailable_ExcludesWrongOrg(t *testing.T) {
	r := New(3, time.Minute)
	now := time.Now()
	a := baseAgent("a1")
	a.OrgID = "org-a"
	r.Register(a)

	_, ok := r.FindAvailable(Request{OrgID: "org-b", CPUCount: 1}, now)
	if ok {
		t.Fatal("expected no agent available for mismatched org")
	}

	found, ok := r.FindAvailable(Request{OrgID: "org-a", CPUCount: 1}, now)
	if !ok || found.AgentID != "a1" {
		t.Fatalf("expected a1 to match its own org, got %+v ok=%v", found, ok)
	}
}

func TestRegistry_FindAvailable_ExcludesMissingLabels(t *testing.T) {
	r := New(3, time.Minute)
	now := time.Now()
	r.Register(baseAgent("a1"))

	_, ok := r.FindAvailable(Request{Labels: []string{"gpu"}, CPUCount: 1}, now)
	if ok {
		t.Fatal("expected no agent available, missing required label")
	}
}

func TestRegistry_FindAvailable_ExcludesInsufficientCPU(t *testing.T) {
	r := New(3, time.Minute)
	now := time.Now()
	r.Register(baseAgent("a1"))

	_, ok := r.FindAvailable(Request{CPUCount: 16}, now)
	if ok {
		t.Fatal("expected no agent available, insufficient cpu")
	}
}

func TestRegistry_FindAvailable_ScoresByLowestLoadRatio(t *testing.T) {
	r := New(3, time.Minute)
	now := time.Now()

	busy := baseAgent("busy")
	busy.CurrentBuilds = 3 // ratio 3/4
	idle := baseAgent("idle")
	idle.CurrentBuilds = 1 // ratio 1/4

	r.Register(busy)
	r.Register(idle)

	found, ok := r.FindAvailable(Request{CPUCount: 1}, now)
	if !ok || found.AgentID != "idle" {
		t.Fatalf("expected idle agent to win on lower load ratio, got %+v ok=%v", found, ok)
	}
}

func TestRegistry_FindAvailable_TieBreaksByFreeCPUThenAgentID(t *testing.T) {
	r := New(3, time.Minute)
	now := time.Now()

	a := baseAgent("b-agent")
	a.CPUCount = 4
	b := baseAgent("a-agent")
	b.CPUCount = 8

	r.Register(a)
	r.Register(b)

	found, ok := r.FindAvailable(Request{CPUCount: 1}, now)
	if !ok || found.AgentID != "a-agent" {
		t.Fatalf("expected a-agent to win on more free cpu, got %+v ok=%v", found, ok)
	}
}

func TestRegistry_IncrementDecrementBuilds(t *testing.T) {
	r := New(3, time.Minute)
	r.Register(baseAgent("a1"))

	r.IncrementBuilds("a1")
	r.IncrementBuilds("a1")
	a, _ := r.Get("a1")
	if a.CurrentBuilds != 2 {
		t.Fatalf("got %d current builds, want 2", a.CurrentBuilds)
	}

	r.DecrementBuilds("a1")
	a, _ = r.Get("a1")
	if a.CurrentBuilds != 1 {
		t.Fatalf("got %d current builds, want 1", a.CurrentBuilds)
	}

	r.DecrementBuilds("a1")
	r.DecrementBuilds("a1") // floor at zero
	a, _ = r.Get("a1")
	if a.CurrentBuilds != 0 {
		t.Fatalf("got %d current builds, want floored at 0", a.CurrentBuilds)
	}
}

func TestRegistry_CircuitBreaker_OpensAfterThreshold(t *testing.T) {
	r := New(2, 10*time.Millisecond)
	r.Register(baseAgent("a1"))
	now := time.Now()

	r.RecordDispatchFailure("a1", now)
	a, _ := r.Get("a1")
	if a.CircuitState != CircuitClosed {
		t.Fatalf("expected circuit still closed after 1 failure, got %v", a.CircuitState)
	}

	r.RecordDispatchFailure("a1", now)
	a, _ = r.Get("a1")
	if a.CircuitState != CircuitOpen {
		t.Fatalf("expected circuit open after threshold failures, got %v", a.CircuitState)
	}

	if _, ok := r.FindAvailable(Request{CPUCount: 1}, now); ok {
		t.Fatal("expected open-circuit agent to be excluded from selection")
	}
}

func TestRegistry_CircuitBreaker_HalfOpenAfterCooldownThenCloses(t *testing.T) {
	r := New(1, 10*time.Millisecond)
	r.Register(baseAgent("a1"))
	opened := time.Now()

	r.RecordDispatchFailure("a1", opened)
	a, _ := r.Get("a1")
	if a.CircuitState != CircuitOpen {
		t.Fatalf("expected circuit open, got %v", a.CircuitState)
	}

	afterCooldown := opened.Add(20 * time.Millisecond)
	r.Heartbeat("a1", afterCooldown)
	a, _ = r.Get("a1")
	if a.CircuitState != CircuitHalfOpen {
		t.Fatalf("expected circuit half-open after cooldown heartbeat, got %v", a.CircuitState)
	}

	r.RecordDispatchSuccess("a1")
	a, _ = r.Get("a1")
	if a.CircuitState != CircuitClosed {
		t.Fatalf("expected circuit closed after success in half-open, got %v", a.CircuitState)
	}
}
