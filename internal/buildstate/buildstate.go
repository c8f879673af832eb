// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package buildstate guards the Build status field with the legal
// transition graph and broadcasts transitions to subscribed observers,
// grounded on internal/protocol/pipeline_lifecycle.go's typed event enum
// and internal/server/events.go's broadcaster pattern.
package buildstate

import (
	"fmt"
	"sync"
)

// Status is a Build's lifecycle status.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusAborted Status = "aborted"
)

// legalTransitions is exactly the graph in spec.md §3: queued can only
// move to running or aborted; running can only move to a terminal
// status; the three terminal statuses have no outgoing edges.
var legalTransitions = map[Status]map[Status]bool{
	StatusQueued:  {StatusRunning: true, StatusAborted: true},
	StatusRunning: {StatusSuccess: true, StatusFailure: true, StatusAborted: true},
}

// IsTerminal reports whether s has no legal outgoing transitions.
func IsTerminal(s Status) bool {
	_, ok := legalTransitions[s]
	return !ok
}

// IllegalTransition is raised when a transition isn't in the graph above.
// Spec treats this as a fatal programmer error: the build is marked
// failure and the incident logged by the caller.
type IllegalTransition struct {
	From, To Status
}

func (e *IllegalTransition) Error() string {
	return fmt.Sprintf("illegal build status transition: %s -> %s", e.From, e.To)
}

// Transition is broadcast to observers whenever a Machine moves state.
type Transition struct {
	BuildID string
	From    Status
	To      Status
}

// Observer is notified synchronously on every successful transition.
type Observer func(Transition)

// Machine guards one Build's status field.
type Machine struct {
	mu        sync.Mutex
	buildID   string
	status    Status
	observers []Observer
}

// NewMachine returns a Machine starting in StatusQueued for buildID.
func NewMachine(buildID string) *Machine {
	return &Machine{buildID: buildID, status: StatusQueued}
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe registers an Observer invoked synchronously on every
// successful Transition call, in registration order.
func (m *Machine) Subscribe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Transition moves the machine to 'to', rejecting anything outside the
// legal graph with *IllegalTransition.
func (m *Machine) Transition(to Status) error {
	m.mu.Lock()
	from := m.status
	allowed := legalTransitions[from]
	if !allowed[to] {
		m.mu.Unlock()
		return &IllegalTransition{From: from, To: to}
	}
	m.status = to
	observers := append([]Observer(nil), m.observers...)
	buildID := m.buildID
	m.mu.Unlock()

	for _, o := range observers {
		o(Transition{BuildID: buildID, From: from, To: to})
	}
	return nil
}
