// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package consolenotify implements the built-in "console" Notifier: it
// writes a single JSON line describing the finished build's summary to
// an io.Writer (stdout in production), giving every install a working
// notification channel with zero external configuration.
package consolenotify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/chengis/chengis/internal/plugin"
)

// Notifier writes build summaries as JSON lines to out.
type Notifier struct {
	mu  sync.Mutex
	out io.Writer
}

// New returns a console Notifier writing to out.
func New(out io.Writer) *Notifier {
	return &Notifier{out: out}
}

type line struct {
	BuildID string      `json:"build_id"`
	JobID   string      `json:"job_id"`
	Status  string      `json:"status"`
	Stages  []stageLine `json:"stages"`
}

type stageLine struct {
	Name   string     `json:"name"`
	Status string     `json:"status"`
	Steps  []stepLine `json:"steps"`
}

type stepLine struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	ExitCode int    `json:"exit_code"`
}

// Send writes summary as one JSON line to out. cfg is accepted for
// interface parity with external notifiers but unused: the console
// notifier has no per-build configuration surface.
func (n *Notifier) Send(ctx context.Context, summary plugin.BuildSummary, cfg map[string]interface{}) (plugin.NotifyResult, error) {
	l := line{BuildID: summary.BuildID, JobID: summary.JobID, Status: summary.Status}
	for _, s := range summary.Stages {
		sl := stageLine{Name: s.Name, Status: s.Status}
		for _, st := range s.Steps {
			sl.Steps = append(sl.Steps, stepLine{Name: st.Name, Status: st.Status, ExitCode: st.ExitCode})
		}
		l.Stages = append(l.Stages, sl)
	}

	data, err := json.Marshal(l)
	if err != nil {
		return plugin.NotifyResult{}, fmt.Errorf("console notifier: marshal summary: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := n.out.Write(append(data, '\n')); err != nil {
		return plugin.NotifyResult{OK: false, Details: err.Error()}, err
	}
	return plugin.NotifyResult{OK: true}, nil
}
