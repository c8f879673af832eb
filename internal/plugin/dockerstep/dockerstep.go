// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dockerstep implements the built-in "docker" and
// "docker-compose" StepExecutors. It is grounded on
// pkg/containers/docker's Client and pkg/containers/models, repurposed
// from "AI sandbox container" lifecycle management to "one CI step runs
// in a disposable container".
package dockerstep

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chengis/chengis/internal/logger"
	"github.com/chengis/chengis/internal/pipeline"
	"github.com/chengis/chengis/internal/plugin"
	"github.com/chengis/chengis/pkg/containers/docker"
	"github.com/chengis/chengis/pkg/containers/models"
)

// Executor runs a Step by creating a disposable container, mounting the
// build workspace into it, running the step's shell command via docker
// exec, then tearing the container down.
type Executor struct {
	client       docker.ClientInterface
	defaultImage string
	stopTimeout  time.Duration
}

// New returns a docker StepExecutor bound to client, using defaultImage
// for steps that don't specify one via their opaque payload's "image" key.
func New(client docker.ClientInterface, defaultImage string, stopTimeout time.Duration) *Executor {
	return &Executor{client: client, defaultImage: defaultImage, stopTimeout: stopTimeout}
}

// Execute provisions a container, runs the step command inside it, and
// removes the container regardless of outcome.
func (e *Executor) Execute(ctx context.Context, step pipeline.Step, sctx plugin.StepContext) (plugin.StepResult, error) {
	command, image, workDir := stepCommandAndImage(step, e.defaultImage, sctx.Workspace)
	if command == "" {
		return plugin.StepResult{}, fmt.Errorf("docker step %q: missing command", step.Name)
	}

	name := fmt.Sprintf("chengis-%s-%s", sctx.BuildID, uuid.NewString()[:8])
	cfg := models.ContainerConfig{
		Name:        name,
		Image:       image,
		Environment: sctx.Env,
		BuildID:     sctx.BuildID,
		WorkingDir:  workDir,
		Labels:      map[string]string{"chengis.build_id": sctx.BuildID, "chengis.step": step.Name},
	}
	if sctx.Workspace != "" {
		cfg.Volumes = []models.VolumeMapping{{HostPath: sctx.Workspace, ContainerPath: workDir}}
	}

	container, err := e.client.CreateContainer(ctx, cfg)
	if err != nil {
		return plugin.StepResult{}, fmt.Errorf("docker step %q: create container: %w", step.Name, err)
	}
	defer e.cleanup(container.ID, step.Name)

	if err := e.client.StartContainer(ctx, container.ID); err != nil {
		return plugin.StepResult{}, fmt.Errorf("docker step %q: start container: %w", step.Name, err)
	}

	execResult, err := e.client.ExecContainer(ctx, container.ID, []string{"/bin/sh", "-c", command}, workDir)
	if err != nil {
		return plugin.StepResult{}, fmt.Errorf("docker step %q: exec: %w", step.Name, err)
	}

	return plugin.StepResult{
		ExitCode: execResult.ExitCode,
		Stdout:   execResult.Stdout,
		Stderr:   execResult.Stderr,
	}, nil
}

func (e *Executor) cleanup(containerID, stepName string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.stopTimeout+5*time.Second)
	defer cancel()
	timeout := e.stopTimeout
	if err := e.client.StopContainer(ctx, containerID, &timeout); err != nil {
		logger.GetContainerLogger().Warn().Err(err).Str("step", stepName).Str("container_id", containerID).Msg("failed to stop step container")
	}
	if err := e.client.RemoveContainer(ctx, containerID, true); err != nil {
		logger.GetContainerLogger().Warn().Err(err).Str("step", stepName).Str("container_id", containerID).Msg("failed to remove step container")
	}
}

// stepCommandAndImage extracts the command/image/workdir for both the
// "docker" step type (shell payload plus an opaque "image" override) and
// "docker-compose" (opaque payload names a compose command run in a
// compose-tooling image).
func stepCommandAndImage(step pipeline.Step, defaultImage, workspace string) (command, image, workDir string) {
	image = defaultImage
	workDir = "/workspace"

	if step.Shell != nil {
		command = step.Shell.Command
		if step.Shell.Dir != "" {
			workDir = step.Shell.Dir
		}
	}

	if step.Opaque != nil {
		if v, ok := step.Opaque["image"].(string); ok && v != "" {
			image = v
		}
		if step.Type == pipeline.StepDockerCompose {
			if v, ok := step.Opaque["command"].(string); ok && v != "" {
				command = "docker-compose " + v
			}
			if image == defaultImage {
				image = "docker/compose:1.29.2"
			}
		}
	}

	return command, image, workDir
}
