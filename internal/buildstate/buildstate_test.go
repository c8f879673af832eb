// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

package buildstate

import "testing"

func TestMachine_LegalTransitions(t *testing.T) {
	m := NewMachine("b-1")
	if m.Status() != StatusQueued {
		t.Fatalf("got initial status %q, want queued", m.Status())
	}
	if err := m.Transition(StatusRunning); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Transition(StatusSuccess); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !IsTerminal(m.Status()) {
		t.Error("expected success to be terminal")
	}
}

func TestMachine_QueuedToAborted(t *testing.T) {
	m := NewMachine("b-2")
	if err := m.Transition(StatusAborted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMachine_RejectsIllegalTransition(t *testing.T) {
	m := NewMachine("b-3")
	err := m.Transition(StatusSuccess)
	if err == nil {
		t.Fatal("expected error transitioning queued -> success directly")
	}
	var illegal *IllegalTransition
	if it, ok := err.(*IllegalTransition); ok {
		illegal = it
	} else {
		t.Fatalf("expected *IllegalTransition, got %T", err)
	}
	if illegal.From != StatusQueued || illegal.To != StatusSuccess {
		t.Errorf("unexpected fields: %+v", illegal)
	}
}

func TestMachine_RejectsTransitionFromTerminal(t *testing.T) {
	m := NewMachine("b-4")
	if err := m.Transition(StatusRunning); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(StatusFailure); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(StatusRunning); err == nil {
		t.Fatal("expected error re-entering running from a terminal status")
	}
}

func TestMachine_BroadcastsToObservers(t *testing.T) {
	m := NewMachine("b-5")
	var seen []Transition
	m.Subscribe(func(tr Transition) { seen = append(seen, tr) })

	if err := m.Transition(StatusRunning); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(StatusAborted); err != nil {
		t.Fatal(err)
	}

	if len(seen) != 2 {
		t.Fatalf("got %d observed transitions, want 2", len(seen))
	}
	if seen[0].From != StatusQueued || seen[0].To != StatusRunning {
		t.Errorf("unexpected first transition: %+v", seen[0])
	}
	if seen[1].From != StatusRunning || seen[1].To != StatusAborted {
		t.Errorf("unexpected second transition: %+v", seen[1])
	}
}
