// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package builtins wires the built-in StepExecutors and Notifier into a
// plugin.Registry. It exists separately from internal/plugin to avoid an
// import cycle: the built-in implementations (shellstep, dockerstep,
// consolenotify) import internal/plugin for its shared types, so
// internal/plugin itself cannot import them back.
package builtins

import (
	"io"
	"time"

	"github.com/chengis/chengis/internal/pipeline"
	"github.com/chengis/chengis/internal/plugin"
	"github.com/chengis/chengis/internal/plugin/consolenotify"
	"github.com/chengis/chengis/internal/plugin/dockerstep"
	"github.com/chengis/chengis/internal/plugin/shellstep"
	"github.com/chengis/chengis/pkg/containers/docker"
)

// Register installs the shell, docker, and docker-compose StepExecutors
// plus the console Notifier into reg. dockerClient may be nil, in which
// case docker/docker-compose steps are left unregistered and will fail
// with plugin.UnknownStepType — a deployment with no Docker daemon simply
// can't run those step types (spec §4.C).
func Register(reg *plugin.Registry, dockerClient docker.ClientInterface, defaultImage string, out io.Writer) {
	reg.RegisterExecutor(pipeline.StepShell, shellstep.New(), plugin.PluginMeta{
		Name: "shell", Version: "builtin", Source: "builtin",
	})

	if dockerClient != nil {
		exec := dockerstep.New(dockerClient, defaultImage, 10*time.Second)
		reg.RegisterExecutor(pipeline.StepDocker, exec, plugin.PluginMeta{
			Name: "docker", Version: "builtin", Source: "builtin",
		})
		reg.RegisterExecutor(pipeline.StepDockerCompose, exec, plugin.PluginMeta{
			Name: "docker-compose", Version: "builtin", Source: "builtin",
		})
	}

	reg.RegisterNotifier("console", consolenotify.New(out), plugin.PluginMeta{
		Name: "console", Version: "builtin", Source: "builtin",
	})
}
