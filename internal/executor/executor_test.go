// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

package executor

import (
	"context"
	"testing"
	"time"

	"github.com/chengis/chengis/internal/buildstate"
	"github.com/chengis/chengis/internal/pipeline"
	"github.com/chengis/chengis/internal/plugin"
	"github.com/chengis/chengis/internal/plugin/shellstep"
)

func newRegistry() *plugin.Registry {
	reg := plugin.NewRegistry(nil)
	reg.RegisterExecutor(pipeline.StepShell, shellstep.New(), plugin.PluginMeta{Name: "shell", Source: "builtin"})
	return reg
}

func sh(name, command string) pipeline.Step {
	return pipeline.Step{Name: name, Type: pipeline.StepShell, Shell: &pipeline.ShellPayload{Command: command}}
}

func TestRun_HelloWorld(t *testing.T) {
	b, err := (&pipeline.Builder{
		Name: "hello-world",
		Stages: []pipeline.Stage{
			{Name: "Hello", Steps: []pipeline.Step{sh("hello", "echo hello")}},
			{Name: "Test", Parallel: true, Steps: []pipeline.Step{
				sh("Fast", "echo fast"),
				sh("Slow", "sleep 0.1 && echo slow"),
			}},
			{Name: "Done", Steps: []pipeline.Step{sh("done", "echo done")}},
		},
	}).Build()
	if err != nil {
		t.Fatalf("unexpected pipeline build error: %v", err)
	}

	machine := buildstate.NewMachine("b-1")
	ex := New(newRegistry(), machine, 0)

	result, err := ex.Run(context.Background(), b, BuildContext{BuildID: "b-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != buildstate.StatusSuccess {
		t.Fatalf("got status %v, want success", result.Status)
	}

	stepCount := 0
	for _, stage := range result.Stages {
		stepCount += len(stage.Steps)
	}
	if stepCount != 4 {
		t.Errorf("got %d step results, want 4", stepCount)
	}

	testStage := result.Stages[1]
	fast, slow := testStage.Steps[0], testStage.Steps[1]
	if fast.StartedAt.After(slow.CompletedAt) || slow.StartedAt.After(fast.CompletedAt) {
		t.Error("expected Fast and Slow intervals to overlap")
	}

	doneStage := result.Stages[2]
	if doneStage.Steps[0].StartedAt.Before(testStage.CompletedAt) {
		t.Error("expected Done to start after Test stage completed")
	}
}

func TestRun_SequentialShortCircuit(t *testing.T) {
	b, err := (&pipeline.Builder{
		Name: "seq",
		Stages: []pipeline.Stage{
			{Name: "stage", Steps: []pipeline.Step{sh("A", "exit 1"), sh("B", "echo hi")}},
		},
	}).Build()
	if err != nil {
		t.Fatal(err)
	}

	ex := New(newRegistry(), buildstate.NewMachine("b-2"), 0)
	result, err := ex.Run(context.Background(), b, BuildContext{BuildID: "b-2"})
	if err != nil {
		t.Fatal(err)
	}

	steps := result.Stages[0].Steps
	if steps[0].Status != StatusFailure {
		t.Errorf("got A status %v, want failure", steps[0].Status)
	}
	if steps[1].Status != StatusSkipped {
		t.Errorf("got B status %v, want skipped", steps[1].Status)
	}
	if result.Stages[0].Status != StatusFailure {
		t.Errorf("got stage status %v, want failure", result.Stages[0].Status)
	}
	if result.Status != buildstate.StatusFailure {
		t.Errorf("got build status %v, want failure", result.Status)
	}
}

func TestRun_ParallelNoShortCircuit(t *testing.T) {
	b, err := (&pipeline.Builder{
		Name: "par",
		Stages: []pipeline.Stage{
			{Name: "stage", Parallel: true, Steps: []pipeline.Step{sh("A", "exit 1"), sh("B", "echo hi")}},
		},
	}).Build()
	if err != nil {
		t.Fatal(err)
	}

	ex := New(newRegistry(), buildstate.NewMachine("b-3"), 0)
	result, err := ex.Run(context.Background(), b, BuildContext{BuildID: "b-3"})
	if err != nil {
		t.Fatal(err)
	}

	steps := result.Stages[0].Steps
	if steps[0].Status != StatusFailure {
		t.Errorf("got A status %v, want failure", steps[0].Status)
	}
	if steps[1].Status != StatusSuccess {
		t.Errorf("got B status %v, want success", steps[1].Status)
	}
	if result.Status != buildstate.StatusFailure {
		t.Errorf("got build status %v, want failure", result.Status)
	}
}

func TestRun_PostHooksOnFailure(t *testing.T) {
	b, err := (&pipeline.Builder{
		Name:   "post",
		Stages: []pipeline.Stage{{Name: "stage", Steps: []pipeline.Step{sh("fail", "exit 1")}}},
		Post: pipeline.Post{
			Always:    []pipeline.Step{sh("cleanup", "echo cleanup")},
			OnSuccess: []pipeline.Step{sh("notify-ok", "echo ok")},
			OnFailure: []pipeline.Step{sh("notify-fail", "exit 1")},
		},
	}).Build()
	if err != nil {
		t.Fatal(err)
	}

	ex := New(newRegistry(), buildstate.NewMachine("b-4"), 0)
	result, err := ex.Run(context.Background(), b, BuildContext{BuildID: "b-4"})
	if err != nil {
		t.Fatal(err)
	}

	if result.Status != buildstate.StatusFailure {
		t.Fatalf("got build status %v, want failure even though on-failure step failed", result.Status)
	}
	if len(result.Post) != 2 {
		t.Fatalf("got %d post results, want 2 (always + on-failure, no on-success)", len(result.Post))
	}
	if result.Post[0].Name != "cleanup" || result.Post[1].Name != "notify-fail" {
		t.Errorf("unexpected post hook names: %+v", result.Post)
	}
}

func TestRun_RespectsConditions(t *testing.T) {
	b, err := (&pipeline.Builder{
		Name: "cond",
		Stages: []pipeline.Stage{
			{Name: "only-main", Steps: []pipeline.Step{sh("deploy", "echo deploy")},
				Condition: &pipeline.Condition{Kind: pipeline.ConditionBranch, BranchValue: "main"}},
		},
	}).Build()
	if err != nil {
		t.Fatal(err)
	}

	ex := New(newRegistry(), buildstate.NewMachine("b-5"), 0)
	result, err := ex.Run(context.Background(), b, BuildContext{BuildID: "b-5", Branch: "feature/x"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Stages[0].Status != StatusSkipped {
		t.Errorf("got stage status %v, want skipped for non-matching branch", result.Stages[0].Status)
	}
}

func TestRun_MaxParallelStepsBounded(t *testing.T) {
	steps := []pipeline.Step{
		sh("s1", "sleep 0.05"),
		sh("s2", "sleep 0.05"),
		sh("s3", "sleep 0.05"),
		sh("s4", "sleep 0.05"),
	}
	b, err := (&pipeline.Builder{
		Name:   "bounded",
		Stages: []pipeline.Stage{{Name: "stage", Parallel: true, Steps: steps}},
	}).Build()
	if err != nil {
		t.Fatal(err)
	}

	ex := New(newRegistry(), buildstate.NewMachine("b-6"), 2)
	start := time.Now()
	result, err := ex.Run(context.Background(), b, BuildContext{BuildID: "b-6"})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != buildstate.StatusSuccess {
		t.Fatalf("got status %v, want success", result.Status)
	}
	if elapsed < 100*time.Millisecond {
		t.Errorf("expected bounding to 2 concurrent steps to take at least 2 batches (~100ms), took %v", elapsed)
	}
}
