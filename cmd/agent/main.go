// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/chengis/chengis/internal/buildrunner"
	"github.com/chengis/chengis/internal/buildstate"
	"github.com/chengis/chengis/internal/config"
	"github.com/chengis/chengis/internal/dispatch"
	"github.com/chengis/chengis/internal/logger"
	"github.com/chengis/chengis/internal/plugin"
	"github.com/chengis/chengis/internal/plugin/builtins"
	"github.com/chengis/chengis/internal/remoteexec"
	"github.com/chengis/chengis/internal/store"
	"github.com/chengis/chengis/internal/workspace"

	"github.com/chengis/chengis/pkg/containers/docker"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// newDispatchHandler implements the agent side of spec.md §6's wire
// protocol: POST /dispatch accepts a dispatch.Envelope and runs it
// in-process via buildrunner. Accepting is immediate (status 202); the
// build itself runs on its own background context, since the calling
// server only waits on the HTTP round trip, not on completion.
func newDispatchHandler(runner *buildrunner.Runner, st store.Store) http.HandlerFunc {
	agentLog := logger.GetLogger("agent")
	return func(w http.ResponseWriter, r *http.Request) {
		var env dispatch.Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			http.Error(w, "invalid dispatch envelope", http.StatusBadRequest)
			return
		}
		if env.Pipeline == nil {
			http.Error(w, "missing pipeline", http.StatusBadRequest)
			return
		}

		b := &store.Build{
			BuildID:    env.BuildID,
			JobID:      env.JobID,
			OrgID:      env.OrgID,
			Status:     buildstate.StatusQueued,
			Trigger:    store.TriggerManual,
			Parameters: env.Parameters,
			StartedAt:  time.Now(),
		}
		if err := st.CreateBuild(r.Context(), b); err != nil {
			http.Error(w, "failed to record build", http.StatusInternalServerError)
			return
		}

		agentBuildID := uuid.NewString()
		go func() {
			if err := runner.Run(context.Background(), b, env.Pipeline); err != nil {
				agentLog.Error().Err(err).Str("build_id", b.BuildID).Msg("dispatched build failed")
			}
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"agent_build_id": agentBuildID})
	}
}

// registerWithServer POSTs this agent's capacity to the orchestrator's
// /api/v1/agents endpoint. There is no literal equivalent in the
// teacher (Temporal workers self-register with a task queue instead),
// so this is new code in the dispatcher's own HTTP-client idiom.
func registerWithServer(ctx context.Context, httpClient *http.Client, serverURL, agentID, selfEndpoint string, maxBuilds, cpuCount int) error {
	body, err := json.Marshal(map[string]interface{}{
		"agent_id":             agentID,
		"endpoint":             selfEndpoint,
		"max_builds":           maxBuilds,
		"cpu_count":            cpuCount,
		"heartbeat_timeout_ms": (30 * time.Second).Milliseconds(),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/api/v1/agents", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server rejected agent registration: status %d", resp.StatusCode)
	}
	return nil
}

func heartbeatLoop(ctx context.Context, httpClient *http.Client, serverURL, agentID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	agentLog := logger.GetLogger("agent")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/api/v1/agents/"+agentID+"/heartbeat", nil)
			if err != nil {
				continue
			}
			resp, err := httpClient.Do(req)
			if err != nil {
				agentLog.Warn().Err(err).Msg("heartbeat failed")
				continue
			}
			resp.Body.Close()
		}
	}
}

func main() {
	cfg, err := config.NewConfig("agent-config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.CloseGlobal()

	agentLog := logger.GetLogger("agent")
	agentLog.Info().Msg("Starting chengis build agent")

	agentID := os.Getenv("CHENGIS_AGENT_ID")
	if agentID == "" {
		agentID = "agent-" + uuid.NewString()
	}
	serverURL := os.Getenv("CHENGIS_AGENT_SERVER_URL")
	selfEndpoint := os.Getenv("CHENGIS_AGENT_ENDPOINT")
	if selfEndpoint == "" {
		selfEndpoint = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	// Agents don't persist builds across restarts; the server's store is
	// the system of record for build history. The in-memory store here
	// only backs buildrunner's UpdateBuildStatus calls for a build this
	// agent is actively running.
	st := store.NewMemoryStore()

	dockerClient, err := docker.NewClientWithHost(cfg.Container.DockerHost)
	if err != nil {
		agentLog.Warn().Err(err).Msg("docker client unavailable, docker steps will fail at run time")
	}
	reg := plugin.NewRegistry(nil)
	builtins.Register(reg, dockerClient, cfg.Container.DefaultImage, os.Stdout)

	ws := workspace.NewManager(cfg.Workspace.BaseDir, cfg.Workspace.CloneTimeout, cfg.Workspace.CleanupOnEnd)

	var machinesMu sync.Mutex
	machines := make(map[string]*buildstate.Machine)
	machineFor := func(buildID string) *buildstate.Machine {
		machinesMu.Lock()
		defer machinesMu.Unlock()
		if m, ok := machines[buildID]; ok {
			return m
		}
		m := buildstate.NewMachine(buildID)
		machines[buildID] = m
		return m
	}

	runner := buildrunner.New(ws, reg, st, machineFor, cfg.Executor.MaxParallelSteps)

	httpClient := &http.Client{Timeout: cfg.Dispatcher.DispatchTimeout}

	ctx, cancel := context.WithCancel(context.Background())

	if serverURL != "" {
		if err := registerWithServer(ctx, httpClient, serverURL, agentID, selfEndpoint, 4, 4); err != nil {
			agentLog.Warn().Err(err).Msg("failed to register with orchestrator, continuing unregistered")
		} else {
			go heartbeatLoop(ctx, httpClient, serverURL, agentID, 15*time.Second)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/dispatch", newDispatchHandler(runner, st))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		agentLog.Info().Str("addr", httpServer.Addr).Msg("dispatch-receiver listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- err
			return
		}
		serverErrChan <- nil
	}()

	// Durable execution path: an agent also runs a Temporal worker so
	// builds dispatched via BuildWorkflow survive an agent restart,
	// grounded on the teacher's cmd/agent worker wiring.
	var temporalWorker worker.Worker
	if cfg.Temporal.HostPort != "" {
		temporalClient, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
			Logger:    logger.GetTemporalLogAdapter("temporal-agent"),
		})
		if err != nil {
			agentLog.Warn().Err(err).Msg("temporal unavailable, durable execution path disabled")
		} else {
			defer temporalClient.Close()
			activities := remoteexec.NewActivities(runner)
			temporalWorker = remoteexec.NewWorker(temporalClient, cfg.Temporal, activities)
			go func() {
				if err := temporalWorker.Run(worker.InterruptCh()); err != nil {
					agentLog.Error().Err(err).Msg("temporal worker stopped with error")
				}
			}()
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		agentLog.Info().Msgf("received signal %v, shutting down", sig)
	case err := <-serverErrChan:
		if err != nil {
			agentLog.Error().Err(err).Msg("dispatch-receiver error")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		agentLog.Error().Err(err).Msg("error shutting down dispatch-receiver")
	}
	if temporalWorker != nil {
		temporalWorker.Stop()
	}
	cancel()

	agentLog.Info().Msg("agent shut down")
}
