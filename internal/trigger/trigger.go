// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package trigger fires dispatch.Dispatch on a cron schedule per job.
// spec.md's Build.trigger enum includes "cron" but the distilled spec
// never designs the component that produces one; robfig/cron already
// arrives transitively through go.temporal.io/sdk in the teacher's
// go.mod, promoted here to a direct dependency.
package trigger

import (
	"context"
	"sync"

	"github.com/robfig/cron"

	"github.com/chengis/chengis/internal/dispatch"
	"github.com/chengis/chengis/internal/jobs"
	"github.com/chengis/chengis/internal/logger"
	"github.com/chengis/chengis/internal/store"
)

// Scheduler runs one cron entry per registered job with a non-empty
// CronSchedule.
type Scheduler struct {
	mu         sync.Mutex
	cron       *cron.Cron
	dispatcher *dispatch.Dispatcher
	entryIDs   map[string]cron.EntryID
}

// New returns a Scheduler bound to dispatcher. Call Start to begin
// firing and Stop to halt it.
func New(dispatcher *dispatch.Dispatcher) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		dispatcher: dispatcher,
		entryIDs:   make(map[string]cron.EntryID),
	}
}

// Start begins the underlying cron scheduler goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler; it does not wait for entries that are
// already running.
func (s *Scheduler) Stop() { s.cron.Stop() }

// Schedule registers job's CronSchedule as a cron entry that calls
// dispatch.Dispatch with the job's DefaultParams and TriggerCron on
// each firing. A job with an empty CronSchedule is not scheduled.
// Re-scheduling the same job name replaces its previous entry.
func (s *Scheduler) Schedule(job *jobs.Job) error {
	if job.CronSchedule == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entryIDs[job.Name]; ok {
		s.cron.Remove(id)
	}

	id, err := s.cron.AddFunc(job.CronSchedule, func() {
		ctx := context.Background()
		_, err := s.dispatcher.Dispatch(ctx, job, job.DefaultParams, store.TriggerCron, job.OrgID, "", 0)
		if err != nil {
			logger.GetOrchestratorLogger().Error().Err(err).Str("job", job.Name).Msg("cron-triggered dispatch failed")
		}
	})
	if err != nil {
		return err
	}
	s.entryIDs[job.Name] = id
	return nil
}

// Unschedule removes job's cron entry, if any.
func (s *Scheduler) Unschedule(jobName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entryIDs[jobName]; ok {
		s.cron.Remove(id)
		delete(s.entryIDs, jobName)
	}
}
