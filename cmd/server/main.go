// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/chengis/chengis/internal/buildrunner"
	"github.com/chengis/chengis/internal/buildstate"
	"github.com/chengis/chengis/internal/config"
	"github.com/chengis/chengis/internal/dispatch"
	"github.com/chengis/chengis/internal/jobs"
	"github.com/chengis/chengis/internal/logger"
	"github.com/chengis/chengis/internal/pipeline"
	"github.com/chengis/chengis/internal/plugin"
	"github.com/chengis/chengis/internal/plugin/builtins"
	"github.com/chengis/chengis/internal/registry"
	"github.com/chengis/chengis/internal/server"
	"github.com/chengis/chengis/internal/store"
	"github.com/chengis/chengis/internal/trigger"
	"github.com/chengis/chengis/internal/workspace"

	"github.com/chengis/chengis/pkg/containers/docker"
)

// machineTracker owns the buildstate.Machine and cancel token for every
// build this server has ever run locally, so handlers.CancelBuild and the
// websocket broadcaster both have somewhere to reach a running build.
type machineTracker struct {
	mu        sync.Mutex
	machines  map[string]*buildstate.Machine
	cancels   map[string]context.CancelFunc
	broadcast func(server.Event)
}

func newMachineTracker(broadcast func(server.Event)) *machineTracker {
	return &machineTracker{
		machines:  make(map[string]*buildstate.Machine),
		cancels:   make(map[string]context.CancelFunc),
		broadcast: broadcast,
	}
}

func (t *machineTracker) machineFor(buildID string) *buildstate.Machine {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.machines[buildID]; ok {
		return m
	}
	m := buildstate.NewMachine(buildID)
	m.Subscribe(func(tr buildstate.Transition) {
		t.broadcast(server.BuildTransitionEvent{
			BuildID: tr.BuildID,
			From:    string(tr.From),
			To:      string(tr.To),
		})
	})
	t.machines[buildID] = m
	return m
}

func (t *machineTracker) trackCancel(buildID string, cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancels[buildID] = cancel
}

func (t *machineTracker) cancel(buildID string) bool {
	t.mu.Lock()
	cancel, ok := t.cancels[buildID]
	t.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

func main() {
	cfg, err := config.NewConfig("config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.CloseGlobal()

	mainLog := logger.GetLogger("main")
	mainLog.Info().Msg("Starting chengis API server")

	st, err := openStore(cfg)
	if err != nil {
		mainLog.Error().Err(err).Msg("failed to open store")
		os.Exit(1)
	}

	jobTable := jobs.NewTable()

	dockerClient, err := docker.NewClientWithHost(cfg.Container.DockerHost)
	if err != nil {
		mainLog.Warn().Err(err).Msg("docker client unavailable, docker steps will fail at run time")
	}
	reg := plugin.NewRegistry(nil)
	builtins.Register(reg, dockerClient, cfg.Container.DefaultImage, os.Stdout)

	agentRegistry := registry.New(cfg.Registry.CircuitBreakerThreshold, cfg.Registry.CircuitBreakerCooldown)
	ws := workspace.NewManager(cfg.Workspace.BaseDir, cfg.Workspace.CloneTimeout, cfg.Workspace.CleanupOnEnd)

	broadcaster := server.NewEventBroadcaster()
	tracker := newMachineTracker(broadcaster.Publish)

	runner := buildrunner.New(ws, reg, st, tracker.machineFor, cfg.Executor.MaxParallelSteps)

	httpClient := &http.Client{Timeout: cfg.Dispatcher.DispatchTimeout}
	localRunner := func(ctx context.Context, b *store.Build, p *pipeline.Pipeline) error {
		runCtx, cancel := context.WithCancel(ctx)
		tracker.trackCancel(b.BuildID, cancel)
		defer cancel()
		return runner.Run(runCtx, b, p)
	}
	dispatcher := dispatch.New(agentRegistry, st, httpClient, localRunner, cfg.Dispatcher.FallbackLocal, cfg.Dispatcher.QueueEnabled, cfg.Dispatcher.QueueCapacity)

	ctx, cancel := context.WithCancel(context.Background())
	go dispatcher.RunQueueWorker(ctx, 5*time.Second)

	scheduler := trigger.New(dispatcher)
	for _, job := range jobTable.List() {
		if err := scheduler.Schedule(job); err != nil {
			mainLog.Warn().Err(err).Str("job", job.Name).Msg("failed to schedule cron job")
		}
	}
	scheduler.Start()

	srv := server.New(&cfg.Server, broadcaster, jobTable, dispatcher, st, agentRegistry, tracker.cancel)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- srv.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		mainLog.Info().Msgf("received signal %v, shutting down", sig)
	case err := <-serverErrChan:
		if err != nil {
			mainLog.Error().Err(err).Msg("server error")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		mainLog.Error().Err(err).Msg("error shutting down server")
	}

	scheduler.Stop()
	cancel()

	mainLog.Info().Msg("API server shut down")
}

func openStore(cfg *config.AppConfig) (store.Store, error) {
	if cfg.Database.Driver == "postgres" {
		return store.NewGormStore(cfg.Database.GetDSN())
	}
	return store.NewMemoryStore(), nil
}
