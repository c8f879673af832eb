// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// paramFlags collects repeated "--param K=V" flags into a map, the same
// shape used by flag.Var for repeatable flags throughout the Go
// ecosystem's CLI conventions.
type paramFlags map[string]string

func (p paramFlags) String() string {
	pairs := make([]string, 0, len(p))
	for k, v := range p {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (p paramFlags) Set(value string) error {
	k, v, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("--param expects KEY=VALUE, got %q", value)
	}
	p[k] = v
	return nil
}

type triggerBuildRequest struct {
	Parameters map[string]string `json:"parameters,omitempty"`
	Priority   int               `json:"priority,omitempty"`
}

// buildTriggerCommand implements "build trigger <job-name> [--param K=V]..."
// (spec.md §6): resolves parameters and hands them to the dispatcher via
// the server's trigger endpoint.
func buildTriggerCommand(args []string) error {
	fs := flag.NewFlagSet("build trigger", flag.ContinueOnError)
	params := make(paramFlags)
	fs.Var(params, "param", "build parameter KEY=VALUE (repeatable)")
	priority := fs.Int("priority", 0, "queue priority (higher runs first)")
	if err := fs.Parse(args); err != nil {
		return userError("%w", err)
	}
	if fs.NArg() != 1 {
		return userError("usage: %s build trigger <job-name> [--param K=V]...", appName)
	}
	jobName := fs.Arg(0)

	body := triggerBuildRequest{
		Parameters: map[string]string(params),
		Priority:   *priority,
	}
	var resp struct {
		Build struct {
			BuildID     string `json:"BuildID"`
			BuildNumber int    `json:"BuildNumber"`
			Status      string `json:"Status"`
		} `json:"build"`
		Mode  string `json:"mode"`
		Agent string `json:"agent"`
	}
	path := fmt.Sprintf("/api/v1/jobs/%s/builds", url.PathEscape(jobName))
	if err := postJSON(path, body, &resp); err != nil {
		return err
	}

	fmt.Printf("build #%d (%s) triggered for job %q: mode=%s", resp.Build.BuildNumber, resp.Build.BuildID, jobName, resp.Mode)
	if resp.Agent != "" {
		fmt.Printf(" agent=%s", resp.Agent)
	}
	fmt.Println()
	return nil
}

// buildCancelCommand implements "build cancel <build-id>" (spec.md §6):
// sets the build's cancel token via the server's cancel endpoint.
func buildCancelCommand(args []string) error {
	fs := flag.NewFlagSet("build cancel", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return userError("%w", err)
	}
	if fs.NArg() != 1 {
		return userError("usage: %s build cancel <build-id>", appName)
	}
	buildID := fs.Arg(0)

	path := fmt.Sprintf("/api/v1/builds/%s/cancel", url.PathEscape(buildID))
	req, err := http.NewRequest(http.MethodPost, serverURL()+path, nil)
	if err != nil {
		return systemError("failed to build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return systemError("failed to reach chengis server at %s: %w", serverURL(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return userError("build %q is not running locally on the chengis server", buildID)
	}
	if resp.StatusCode >= 300 {
		return systemError("server rejected cancel request (status %d)", resp.StatusCode)
	}

	fmt.Printf("cancel requested for build %q\n", buildID)
	return nil
}
