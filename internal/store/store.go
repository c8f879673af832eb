// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides minimal durability for Build and Agent rows:
// restart-survival of build_number sequencing and agent registration.
// This is deliberately thin (spec.md §1 names persistence schema as a
// Non-goal) — two result columns and a monotonic counter per job, not
// a schema design exercise.
package store

import (
	"context"
	"time"

	"github.com/chengis/chengis/internal/buildstate"
)

// Trigger identifies what caused a Build to start.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerCron   Trigger = "cron"
	TriggerSCM    Trigger = "scm"
)

// Build is the durable record of one build's lifecycle, mirroring
// spec.md §3's Build entity.
type Build struct {
	BuildID     string
	JobID       string
	OrgID       string
	BuildNumber int
	Status      buildstate.Status
	Trigger     Trigger
	AgentID     string // set once dispatched remotely
	Workspace   string
	Parameters  map[string]string
	StartedAt   time.Time
	CompletedAt time.Time
}

// AgentRecord is the durable record of one registered agent.
type AgentRecord struct {
	AgentID   string
	Endpoint  string
	OrgID     string
	Labels    []string
	MaxBuilds int
	CPUCount  int
}

// Store is the persistence boundary for Builds and Agents.
type Store interface {
	CreateBuild(ctx context.Context, b *Build) error
	UpdateBuildStatus(ctx context.Context, buildID string, status buildstate.Status, completedAt *time.Time) error
	GetBuild(ctx context.Context, buildID string) (*Build, error)
	ListBuildsByJob(ctx context.Context, jobID string) ([]*Build, error)

	// NextBuildNumber returns 1 + max(existing build_numbers for jobID),
	// starting at 1 for a job with no prior builds (spec.md §8 invariant).
	NextBuildNumber(ctx context.Context, jobID string) (int, error)

	UpsertAgent(ctx context.Context, a *AgentRecord) error
	DeleteAgent(ctx context.Context, agentID string) error
	ListAgents(ctx context.Context) ([]*AgentRecord, error)
}
