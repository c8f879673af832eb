// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package executor walks a Pipeline's stages and steps for one Build.
// Step output capture is grounded verbatim on the teacher's
// outputCollector (internal/orchestrator/temporal/activities/local_exec.go);
// cancellation/post-hook phase sequencing is grounded on
// internal/orchestrator/temporal/workflows/pipeline.go's
// handlePipelineCancellation and disconnected-context cleanup, translated
// from Temporal workflow context into plain context.Context so this
// algorithm is directly unit-testable without a Temporal test environment.
package executor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/chengis/chengis/internal/buildstate"
	"github.com/chengis/chengis/internal/logger"
	"github.com/chengis/chengis/internal/pipeline"
	"github.com/chengis/chengis/internal/plugin"
)

// StepStatus mirrors spec.md §3's StepResult/StageResult status domain.
type StepStatus string

const (
	StatusPending StepStatus = "pending"
	StatusRunning StepStatus = "running"
	StatusSuccess StepStatus = "success"
	StatusFailure StepStatus = "failure"
	StatusSkipped StepStatus = "skipped"
)

// StepResult records one Step's outcome.
type StepResult struct {
	Name        string
	Status      StepStatus
	StartedAt   time.Time
	CompletedAt time.Time
	DurationMS  int64
	ExitCode    int
	Stdout      string
	Stderr      string
}

// StageResult records one Stage's outcome.
type StageResult struct {
	Name        string
	Status      StepStatus
	StartedAt   time.Time
	CompletedAt time.Time
	DurationMS  int64
	Steps       []StepResult
}

// Artifact is one collected artifact file.
type Artifact struct {
	Path string
	Size int64
}

// BuildResult is the final record of one Build's execution.
type BuildResult struct {
	Status    buildstate.Status
	Stages    []StageResult
	Post      []StepResult
	Artifacts []Artifact
}

// BuildContext carries the inputs an Executor needs that aren't already
// on the Pipeline itself: resolved parameters, the branch, the base
// environment (ProcessEnv) merged into every step's environment, and the
// build/job ids, which are passed to steps as StepContext fields rather
// than as environment variables.
type BuildContext struct {
	BuildID    string
	JobID      string
	Workspace  string
	Parameters map[string]string
	Branch     string
	ProcessEnv map[string]string
}

// Executor runs one Build's Pipeline to completion.
type Executor struct {
	registry  *plugin.Registry
	machine   *buildstate.Machine
	maxStepPp int // max parallel steps within one stage, 0 = unbounded
}

// New returns an Executor bound to registry (for step/notifier lookup)
// and machine (for status transitions/observer broadcast). maxParallel
// is AppConfig.Executor.MaxParallelSteps; 0 means unbounded.
func New(registry *plugin.Registry, machine *buildstate.Machine, maxParallel int) *Executor {
	return &Executor{registry: registry, machine: machine, maxStepPp: maxParallel}
}

// Run executes p against bctx, following the algorithm in spec.md §4.E:
// transition to running, walk stages in order (parallel groups run
// concurrently with no short-circuit; sequential groups short-circuit
// on first failure), run post hooks, collect artifacts, and transition
// to a terminal status.
func (e *Executor) Run(ctx context.Context, p *pipeline.Pipeline, bctx BuildContext) (*BuildResult, error) {
	if err := e.machine.Transition(buildstate.StatusRunning); err != nil {
		return nil, err
	}

	env := mergeEnv(bctx.ProcessEnv, nil)

	result := &BuildResult{}
	anyFailed := false
	aborted := false

	for _, stage := range p.Stages {
		if ctx.Err() != nil {
			aborted = true
			break
		}

		if stage.Condition != nil && !evaluateCondition(stage.Condition, bctx) {
			result.Stages = append(result.Stages, StageResult{Name: stage.Name, Status: StatusSkipped})
			continue
		}

		sr := e.runStage(ctx, stage, bctx, env)
		result.Stages = append(result.Stages, sr)
		if sr.Status == StatusFailure {
			anyFailed = true
		}
	}

	buildStatus := buildstate.StatusSuccess
	if aborted || ctx.Err() != nil {
		buildStatus = buildstate.StatusAborted
	} else if anyFailed {
		buildStatus = buildstate.StatusFailure
	}

	// Post hooks run on a context detached from cancellation so cleanup
	// always gets a chance to run, mirroring the teacher's
	// disconnected-context cleanup pattern in pipeline.go.
	postCtx := context.WithoutCancel(ctx)
	result.Post = e.runPostHooks(postCtx, p.Post, buildStatus, bctx, env)

	result.Artifacts = collectArtifacts(p.Artifacts, bctx.Workspace)

	result.Status = buildStatus
	if err := e.machine.Transition(buildStatus); err != nil {
		return result, err
	}
	return result, nil
}

func (e *Executor) runStage(ctx context.Context, stage pipeline.Stage, bctx BuildContext, env map[string]string) StageResult {
	sr := StageResult{Name: stage.Name, StartedAt: time.Now()}

	if stage.Parallel {
		sr.Steps = e.runParallel(ctx, stage.Steps, bctx, env)
	} else {
		sr.Steps = e.runSequential(ctx, stage.Steps, bctx, env)
	}

	sr.CompletedAt = time.Now()
	sr.DurationMS = sr.CompletedAt.Sub(sr.StartedAt).Milliseconds()
	sr.Status = summarize(sr.Steps)
	return sr
}

// runSequential runs steps in order, short-circuiting on first failure:
// remaining steps are marked skipped (spec §4.E.2.d).
func (e *Executor) runSequential(ctx context.Context, steps []pipeline.Step, bctx BuildContext, env map[string]string) []StepResult {
	results := make([]StepResult, 0, len(steps))
	shortCircuit := false

	for _, step := range steps {
		if shortCircuit || ctx.Err() != nil {
			results = append(results, StepResult{Name: step.Name, Status: StatusSkipped})
			continue
		}

		if step.Condition != nil && !evaluateCondition(step.Condition, bctx) {
			results = append(results, StepResult{Name: step.Name, Status: StatusSkipped})
			continue
		}

		r := e.runStep(ctx, step, bctx, env)
		results = append(results, r)
		if r.Status == StatusFailure {
			shortCircuit = true
		}
	}

	return results
}

// runParallel runs all steps concurrently, bounded by e.maxStepPp.
// Waits for all to finish; no short-circuit on first failure (spec
// §4.E.2.c).
func (e *Executor) runParallel(ctx context.Context, steps []pipeline.Step, bctx BuildContext, env map[string]string) []StepResult {
	results := make([]StepResult, len(steps))

	var sem chan struct{}
	if e.maxStepPp > 0 {
		sem = make(chan struct{}, e.maxStepPp)
	}

	var wg sync.WaitGroup
	for i, step := range steps {
		i, step := i, step
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}

			if step.Condition != nil && !evaluateCondition(step.Condition, bctx) {
				results[i] = StepResult{Name: step.Name, Status: StatusSkipped}
				return
			}
			if ctx.Err() != nil {
				results[i] = StepResult{Name: step.Name, Status: StatusSkipped}
				return
			}
			results[i] = e.runStep(ctx, step, bctx, env)
		}()
	}
	wg.Wait()

	return results
}

func (e *Executor) runStep(ctx context.Context, step pipeline.Step, bctx BuildContext, env map[string]string) StepResult {
	start := time.Now()

	exec, err := e.registry.Executor(step.Type)
	if err != nil {
		logger.GetOrchestratorLogger().Error().Err(err).Str("step", step.Name).Msg("no executor for step type")
		return StepResult{Name: step.Name, Status: StatusFailure, StartedAt: start, CompletedAt: time.Now(), ExitCode: -1}
	}

	sctx := plugin.StepContext{
		BuildID:   bctx.BuildID,
		JobID:     bctx.JobID,
		Workspace: bctx.Workspace,
		Env:       mergeEnv(env, stepEnv(step)),
	}

	res, err := exec.Execute(ctx, step, sctx)
	completed := time.Now()
	status := StatusSuccess
	if err != nil || res.ExitCode != 0 {
		status = StatusFailure
	}

	if err != nil {
		logger.GetOrchestratorLogger().Error().Err(err).Str("step", step.Name).Msg("step execution error")
	}

	return StepResult{
		Name:        step.Name,
		Status:      status,
		StartedAt:   start,
		CompletedAt: completed,
		DurationMS:  completed.Sub(start).Milliseconds(),
		ExitCode:    res.ExitCode,
		Stdout:      res.Stdout,
		Stderr:      res.Stderr,
	}
}

// RunAlwaysHooks runs only post.Always against bctx, without walking any
// stage. Used when a build fails before stage 1 (workspace checkout
// failure): spec §4.E says no post-hooks run except always in that case,
// so this is the entry point a caller reaches for instead of Run. It does
// not touch e.machine; the caller is responsible for the build's status
// transitions around the checkout failure.
func (e *Executor) RunAlwaysHooks(ctx context.Context, post pipeline.Post, bctx BuildContext) []StepResult {
	env := mergeEnv(bctx.ProcessEnv, nil)
	return e.runSequential(ctx, post.Always, bctx, env)
}

// runPostHooks runs always, then on-success or on-failure depending on
// buildStatus. Post-hook step failures are reported but never change
// the build's recorded status (spec §4.E.4).
func (e *Executor) runPostHooks(ctx context.Context, post pipeline.Post, buildStatus buildstate.Status, bctx BuildContext, env map[string]string) []StepResult {
	var results []StepResult

	results = append(results, e.runSequential(ctx, post.Always, bctx, env)...)

	switch buildStatus {
	case buildstate.StatusSuccess:
		results = append(results, e.runSequential(ctx, post.OnSuccess, bctx, env)...)
	case buildstate.StatusFailure:
		results = append(results, e.runSequential(ctx, post.OnFailure, bctx, env)...)
	}

	return results
}

// summarize derives a Stage's status from its steps: failure if any
// step failed, success if any step ran, else skipped (spec §4.E.2.e).
func summarize(steps []StepResult) StepStatus {
	ran := false
	for _, s := range steps {
		if s.Status == StatusFailure {
			return StatusFailure
		}
		if s.Status == StatusSuccess {
			ran = true
		}
	}
	if ran {
		return StatusSuccess
	}
	return StatusSkipped
}

// evaluateCondition resolves a Condition against the Build's resolved
// parameters and GitInfo (spec §4.E condition evaluation).
func evaluateCondition(c *pipeline.Condition, bctx BuildContext) bool {
	switch c.Kind {
	case pipeline.ConditionAlways:
		return true
	case pipeline.ConditionBranch:
		return bctx.Branch == c.BranchValue
	case pipeline.ConditionParam:
		return bctx.Parameters[c.ParamKey] == c.ParamValue
	default:
		return false
	}
}

func stepEnv(step pipeline.Step) map[string]string {
	if step.Shell != nil {
		return step.Shell.Env
	}
	return nil
}

func mergeEnv(base, override map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// collectArtifacts evaluates each glob against workspaceRoot. A pattern
// matching zero files is not an error, only logged at debug (spec
// §4.E Artifacts).
func collectArtifacts(patterns []string, workspaceRoot string) []Artifact {
	if workspaceRoot == "" {
		return nil
	}

	fsys := os.DirFS(workspaceRoot)
	var artifacts []Artifact
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			logger.GetOrchestratorLogger().Warn().Err(err).Str("pattern", pattern).Msg("invalid artifact glob")
			continue
		}
		if len(matches) == 0 {
			logger.GetOrchestratorLogger().Debug().Str("pattern", pattern).Msg("artifact glob matched no files")
			continue
		}
		for _, m := range matches {
			info, err := os.Stat(filepath.Join(workspaceRoot, m))
			if err != nil || info.IsDir() {
				continue
			}
			artifacts = append(artifacts, Artifact{Path: m, Size: info.Size()})
		}
	}
	return artifacts
}
