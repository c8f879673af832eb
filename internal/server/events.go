// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides a REST + WebSocket API over the job table,
// dispatcher, and agent registry. Handlers call those components
// directly and broadcast the resulting Job/Build/Agent events to
// connected WebSocket clients.
package server

import (
	"net/http"
	"sync"

	"github.com/chengis/chengis/internal/logger"

	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetAPILogger()
		log = &l
	})
	return log
}

// Event is anything the broadcaster can fan out to WebSocket clients.
// Event types that carry a job or build identity should implement
// jobScoped and/or buildScoped so HandleWebSocket's filters apply; an
// event with neither is delivered to every client regardless of filter.
type Event interface{}

// BuildTransitionEvent is published on every buildstate.Machine
// transition (queued/running/success/failure/aborted).
type BuildTransitionEvent struct {
	BuildID string `json:"build_id"`
	JobID   string `json:"job_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}

func (e BuildTransitionEvent) GetJobID() string   { return e.JobID }
func (e BuildTransitionEvent) GetBuildID() string { return e.BuildID }

// JobRegisteredEvent is published whenever a job is created or replaced.
type JobRegisteredEvent struct {
	JobID string `json:"job_id"`
}

func (e JobRegisteredEvent) GetJobID() string { return e.JobID }

// AgentRegisteredEvent is published when an agent registers or re-registers.
type AgentRegisteredEvent struct {
	AgentID string `json:"agent_id"`
}

// AgentDeregisteredEvent is published when an agent deregisters.
type AgentDeregisteredEvent struct {
	AgentID string `json:"agent_id"`
}

// EventBroadcaster fans out published events to every connected
// WebSocket client whose filter matches.
type EventBroadcaster struct {
	clients *ClientRegistry
}

// NewEventBroadcaster creates a broadcaster with its own client registry.
// Call Handler to get the /ws route's http.HandlerFunc.
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{clients: NewClientRegistry()}
}

// Publish fans event out to matching clients. Safe to call from any
// goroutine, including synchronously from a buildstate.Observer.
func (b *EventBroadcaster) Publish(event Event) {
	if b.clients != nil {
		b.clients.Broadcast(event)
	}
}

// Handler returns the http.HandlerFunc that upgrades /ws connections into
// this broadcaster's client registry.
func (b *EventBroadcaster) Handler(allowedOrigins []string) http.HandlerFunc {
	return HandleWebSocket(b.clients, allowedOrigins)
}
