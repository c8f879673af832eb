// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package workspace acquires a per-build working directory and, when a
// Pipeline names a Git source, performs the shallow clone that seeds it.
// Git invocation is grounded on services.GitService's allow-listed
// exec.Command wrapper: chengis shells out to the git binary rather than
// using go-git, matching the teacher's own choice.
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/chengis/chengis/internal/logger"
	"github.com/chengis/chengis/internal/pipeline"
)

// allowedGitOperations mirrors the teacher's allow-list; chengis only
// ever needs a handful of read-only/clone operations.
var allowedGitOperations = map[string]bool{
	"clone":     true,
	"checkout":  true,
	"log":       true,
	"rev-parse": true,
	"fetch":     true,
}

// CheckoutFailed wraps the underlying git error for a failed clone, so
// callers can fail the build before any stage runs (spec §4.D).
type CheckoutFailed struct {
	URL string
	Err error
}

func (e *CheckoutFailed) Error() string {
	return fmt.Sprintf("checkout of %q failed: %v", e.URL, e.Err)
}

func (e *CheckoutFailed) Unwrap() error { return e.Err }

// GitInfo is extracted from HEAD after a successful checkout and
// published into every step's environment as GIT_* variables.
type GitInfo struct {
	Commit      string
	CommitShort string
	Branch      string
	Author      string
	Email       string
	Message     string
}

// Env returns GitInfo as the GIT_* environment map spec §4.D requires.
func (g GitInfo) Env() map[string]string {
	return map[string]string{
		"GIT_COMMIT":       g.Commit,
		"GIT_COMMIT_SHORT": g.CommitShort,
		"GIT_BRANCH":       g.Branch,
		"GIT_AUTHOR":       g.Author,
		"GIT_EMAIL":        g.Email,
		"GIT_MESSAGE":      g.Message,
	}
}

// Workspace is a per-build working directory. It owns the directory
// exclusively for the lifetime of one build.
type Workspace struct {
	Dir     string
	Git     *GitInfo
	cleanup bool
}

// Manager acquires and releases Workspaces under a configured root.
type Manager struct {
	baseDir      string
	cloneTimeout time.Duration
	cleanupOnEnd bool
}

// NewManager returns a Manager rooted at baseDir.
func NewManager(baseDir string, cloneTimeout time.Duration, cleanupOnEnd bool) *Manager {
	return &Manager{baseDir: baseDir, cloneTimeout: cloneTimeout, cleanupOnEnd: cleanupOnEnd}
}

// Acquire creates a fresh directory for buildID and, if src is non-nil,
// performs the shallow clone described by it. On clone failure the
// directory is removed and a *CheckoutFailed is returned.
func (m *Manager) Acquire(ctx context.Context, buildID string, src *pipeline.Source) (*Workspace, error) {
	dir := filepath.Join(m.baseDir, buildID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create dir: %w", err)
	}

	ws := &Workspace{Dir: dir, cleanup: m.cleanupOnEnd}

	if src == nil {
		return ws, nil
	}

	cloneCtx := ctx
	var cancel context.CancelFunc
	if m.cloneTimeout > 0 {
		cloneCtx, cancel = context.WithTimeout(ctx, m.cloneTimeout)
		defer cancel()
	}

	if err := cloneInto(cloneCtx, dir, src); err != nil {
		os.RemoveAll(dir)
		return nil, &CheckoutFailed{URL: src.URL, Err: err}
	}

	info, err := extractGitInfo(cloneCtx, dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, &CheckoutFailed{URL: src.URL, Err: err}
	}
	ws.Git = info

	logger.GetGitLogger().Info().Str("build_id", buildID).Str("url", src.URL).Str("commit", info.CommitShort).Msg("workspace checkout complete")
	return ws, nil
}

// Release removes the workspace directory if the Manager was configured
// to clean up on build end (spec §4.D: "removed only after terminal
// status and post-hooks").
func (ws *Workspace) Release() error {
	if !ws.cleanup {
		return nil
	}
	return os.RemoveAll(ws.Dir)
}

func cloneInto(ctx context.Context, dir string, src *pipeline.Source) error {
	args := []string{"clone"}
	if src.Depth > 0 {
		args = append(args, "--depth", fmt.Sprintf("%d", src.Depth))
	}
	if src.Branch != "" {
		args = append(args, "--branch", src.Branch)
	}
	args = append(args, src.URL, dir)

	if err := runGit(ctx, "", args...); err != nil {
		return err
	}
	return nil
}

func extractGitInfo(ctx context.Context, dir string) (*GitInfo, error) {
	out, err := gitOutput(ctx, dir, "log", "-1", "--format=%H|%h|%an|%ae|%s")
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(strings.TrimSpace(out), "|", 5)
	if len(parts) < 5 {
		return nil, fmt.Errorf("unexpected git log output: %q", out)
	}

	branch, err := gitOutput(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		branch = ""
	}

	return &GitInfo{
		Commit:      parts[0],
		CommitShort: parts[1],
		Author:      parts[2],
		Email:       parts[3],
		Message:     parts[4],
		Branch:      strings.TrimSpace(branch),
	}, nil
}

func buildSafeGitCommand(ctx context.Context, workDir string, args ...string) (*exec.Cmd, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no git command specified")
	}
	if !allowedGitOperations[args[0]] {
		return nil, fmt.Errorf("git operation not allowed: %s", args[0])
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	cmd.Env = []string{
		"HOME=" + os.Getenv("HOME"),
		"PATH=" + os.Getenv("PATH"),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_ASKPASS=",
	}
	return cmd, nil
}

func runGit(ctx context.Context, workDir string, args ...string) error {
	cmd, err := buildSafeGitCommand(ctx, workDir, args...)
	if err != nil {
		return err
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

func gitOutput(ctx context.Context, workDir string, args ...string) (string, error) {
	cmd, err := buildSafeGitCommand(ctx, workDir, args...)
	if err != nil {
		return "", err
	}
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return string(out), nil
}
