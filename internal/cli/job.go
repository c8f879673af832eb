// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/chengis/chengis/internal/dsl"
	"github.com/chengis/chengis/internal/pipeline"
)

type createJobRequest struct {
	Name          string             `json:"name"`
	OrgID         string             `json:"org_id,omitempty"`
	CronSchedule  string             `json:"cron_schedule,omitempty"`
	DefaultParams map[string]string  `json:"default_params,omitempty"`
	Pipeline      *pipeline.Pipeline `json:"pipeline"`
}

// jobCreateCommand implements "job create <pipeline-file>" (spec.md §6):
// parses the file with dsl.LoadFile, which dispatches on the file's
// extension, then registers the resulting Pipeline with the server.
func jobCreateCommand(args []string) error {
	fs := flag.NewFlagSet("job create", flag.ContinueOnError)
	name := fs.String("name", "", "job name (default: pipeline name from the file)")
	orgID := fs.String("org", "", "owning org id")
	cron := fs.String("cron", "", "cron schedule for this job (empty = no cron trigger)")
	if err := fs.Parse(args); err != nil {
		return userError("%w", err)
	}
	if fs.NArg() != 1 {
		return userError("usage: %s job create <pipeline-file>", appName)
	}
	path := fs.Arg(0)

	p, err := dsl.LoadFile(path)
	if err != nil {
		return userError("failed to parse %s: %w", filepath.Base(path), err)
	}

	jobName := strings.TrimSpace(*name)
	if jobName == "" {
		jobName = p.Name
	}

	body := createJobRequest{
		Name:         jobName,
		OrgID:        *orgID,
		CronSchedule: *cron,
		Pipeline:     p,
	}
	var respBody map[string]any
	if err := postJSON("/api/v1/jobs", body, &respBody); err != nil {
		return err
	}

	fmt.Printf("job %q registered\n", jobName)
	return nil
}

// postJSON POSTs body as JSON to path on the configured server and, on a
// 2xx response, decodes the response body into out (if non-nil).
func postJSON(path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return systemError("failed to encode request: %w", err)
	}

	resp, err := http.Post(serverURL()+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return systemError("failed to reach chengis server at %s: %w", serverURL(), err)
	}
	defer resp.Body.Close()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return systemError("server rejected request (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBytes)))
	}
	if out == nil || len(respBytes) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBytes, out); err != nil {
		return systemError("failed to decode server response: %w", err)
	}
	return nil
}
