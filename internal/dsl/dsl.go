// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

package dsl

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chengis/chengis/internal/pipeline"
)

// ChengisfileName is the filename checked for at a workspace root; if
// present, its parsed Pipeline replaces the server-registered one for
// that build (spec §4.B override rule).
const ChengisfileName = "Chengisfile"

// LoadFile parses a pipeline definition file, dispatching on its
// extension: ".chengis" or ".lisp" is treated as code form, anything
// else (".yaml", ".yml", or no extension such as a bare "Chengisfile") as
// data form.
func LoadFile(path string) (*pipeline.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file %s: %w", path, err)
	}

	switch filepath.Ext(path) {
	case ".chengis", ".lisp":
		return LoadCodeForm(string(data))
	default:
		return LoadDataForm(data)
	}
}

// LoadChengisfileOverride checks workspaceRoot for a Chengisfile and, if
// found, parses it as a data-form Pipeline. Returns (nil, nil) if no
// Chengisfile is present — that is not an error, it just means no
// override applies.
func LoadChengisfileOverride(workspaceRoot string) (*pipeline.Pipeline, error) {
	path := filepath.Join(workspaceRoot, ChengisfileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return LoadDataForm(data)
}
