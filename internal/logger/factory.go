// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"github.com/rs/zerolog"
)

// Static logger getters that map directly to config.yaml log.levels
// These ensure consistent logger names across the codebase

// GetOrchestratorLogger returns a logger for build orchestration (executor, buildstate).
func GetOrchestratorLogger() zerolog.Logger {
	return GetLogger("orchestrator")
}

// GetTemporalLogger returns a logger for Temporal components (remote agent execution).
func GetTemporalLogger() zerolog.Logger {
	return GetLogger("temporal")
}

// GetDatabaseLogger returns a logger for database/store operations.
func GetDatabaseLogger() zerolog.Logger {
	return GetLogger("database")
}

// GetGitLogger returns a logger for workspace/git operations.
func GetGitLogger() zerolog.Logger {
	return GetLogger("git")
}

// GetContainerLogger returns a logger for docker/docker-compose step execution.
func GetContainerLogger() zerolog.Logger {
	return GetLogger("container")
}

// GetAPILogger returns a logger for the HTTP API.
func GetAPILogger() zerolog.Logger {
	return GetLogger("api")
}

// GetDispatchLogger returns a logger for the dispatcher.
func GetDispatchLogger() zerolog.Logger {
	return GetLogger("dispatcher")
}

// GetRegistryLogger returns a logger for the agent registry.
func GetRegistryLogger() zerolog.Logger {
	return GetLogger("registry")
}

// GetPluginLogger returns a logger for the plugin/step-executor registry.
func GetPluginLogger() zerolog.Logger {
	return GetLogger("plugin")
}
