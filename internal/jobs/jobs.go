// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package jobs holds the process-wide named-job table: the Pipeline a
// name currently resolves to, its monotonic build-number counter, and
// per-name serialized writes, grounded on
// internal/orchestrator/services/pipeline_service.go's idempotency
// check (checkIdempotency) and its per-entity mutation pattern.
package jobs

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/chengis/chengis/internal/pipeline"
)

// Job is one named, registered Pipeline plus its build sequencing state.
type Job struct {
	Name          string
	OrgID         string
	Pipeline      *pipeline.Pipeline
	CronSchedule  string // empty = no cron trigger
	DefaultParams map[string]string

	mu              sync.Mutex
	nextBuildNumber int
}

// NextBuildNumber returns the build_number to assign to the next Build
// for this job and advances the counter (spec.md §8: build_number(b_n+1)
// = build_number(b_n) + 1, starting at 1).
func (j *Job) NextBuildNumber() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nextBuildNumber++
	return j.nextBuildNumber
}

// Table is the process-wide named-job table.
type Table struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewTable returns an empty job table.
func NewTable() *Table {
	return &Table{jobs: make(map[string]*Job)}
}

// Register adds a job under name, or no-ops if name is already
// registered with an identical Pipeline (spec.md §8 idempotence
// property). Registering name again with a different Pipeline replaces
// it and resets build numbering is NOT performed — the existing
// counter is preserved so build_number stays monotonic for the job's
// lifetime.
func (t *Table) Register(name, orgID string, p *pipeline.Pipeline, cronSchedule string, defaultParams map[string]string) (*Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.jobs[name]; ok {
		if reflect.DeepEqual(existing.Pipeline, p) && existing.OrgID == orgID {
			return existing, nil
		}
		existing.OrgID = orgID
		existing.Pipeline = p
		existing.CronSchedule = cronSchedule
		existing.DefaultParams = defaultParams
		return existing, nil
	}

	job := &Job{
		Name:          name,
		OrgID:         orgID,
		Pipeline:      p,
		CronSchedule:  cronSchedule,
		DefaultParams: defaultParams,
	}
	t.jobs[name] = job
	return job, nil
}

// Get looks up a job by name.
func (t *Table) Get(name string) (*Job, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	j, ok := t.jobs[name]
	if !ok {
		return nil, fmt.Errorf("job %q not found", name)
	}
	return j, nil
}

// List returns every registered job.
func (t *Table) List() []*Job {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		out = append(out, j)
	}
	return out
}
