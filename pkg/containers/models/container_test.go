// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVolumeMapping_Fields(t *testing.T) {
	tests := []struct {
		name    string
		mapping VolumeMapping
	}{
		{
			name:    "read-write workspace mount",
			mapping: VolumeMapping{HostPath: "/workspaces/b-1", ContainerPath: "/workspace", ReadOnly: false},
		},
		{
			name:    "read-only mount",
			mapping: VolumeMapping{HostPath: "/workspaces/b-1", ContainerPath: "/workspace", ReadOnly: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEmpty(t, tt.mapping.HostPath)
			assert.NotEmpty(t, tt.mapping.ContainerPath)
		})
	}
}

func TestContainerConfig_Fields(t *testing.T) {
	config := ContainerConfig{
		Name:  "chengis-b-1-abcd1234",
		Image: "golang:1.22",
		Environment: map[string]string{
			"GIT_BRANCH": "main",
		},
		Volumes: []VolumeMapping{
			{HostPath: "/workspaces/b-1", ContainerPath: "/workspace", ReadOnly: false},
		},
		WorkingDir: "/workspace",
		BuildID:    "b-1",
		Labels:     map[string]string{"chengis.build_id": "b-1", "chengis.step": "build"},
	}

	assert.NotEmpty(t, config.Name)
	assert.NotEmpty(t, config.Image)
	assert.NotEmpty(t, config.Environment)
	assert.NotEmpty(t, config.Volumes)
	assert.NotEmpty(t, config.WorkingDir)
	assert.NotEmpty(t, config.BuildID)
	assert.Equal(t, "b-1", config.Labels["chengis.build_id"])
}

func TestContainer_ID(t *testing.T) {
	c := &Container{ID: "container-123"}
	assert.Equal(t, "container-123", c.ID)
}

func TestExecResult_NonZeroExit(t *testing.T) {
	result := ExecResult{
		ExitCode: 1,
		Stdout:   "",
		Stderr:   "command failed\n",
	}

	assert.Equal(t, 1, result.ExitCode)
	assert.Empty(t, result.Stdout)
	assert.Contains(t, result.Stderr, "command failed")
}
