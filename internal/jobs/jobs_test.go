// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

package jobs

import (
	"testing"

	"github.com/chengis/chengis/internal/pipeline"
)

func samplePipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	p, err := (&pipeline.Builder{
		Name: "build",
		Stages: []pipeline.Stage{
			{Name: "test", Steps: []pipeline.Step{
				{Name: "run", Type: pipeline.StepShell, Shell: &pipeline.ShellPayload{Command: "echo hi"}},
			}},
		},
	}).Build()
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestTable_RegisterAndGet(t *testing.T) {
	tbl := NewTable()
	p := samplePipeline(t)

	job, err := tbl.Register("build", "org-1", p, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if job.Name != "build" {
		t.Errorf("got name %q, want build", job.Name)
	}

	got, err := tbl.Get("build")
	if err != nil {
		t.Fatal(err)
	}
	if got != job {
		t.Error("expected Get to return the same job instance")
	}
}

func TestTable_Register_IdempotentOnIdenticalPipeline(t *testing.T) {
	tbl := NewTable()
	p := samplePipeline(t)

	first, err := tbl.Register("build", "org-1", p, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	first.NextBuildNumber() // counter now at 1

	second, err := tbl.Register("build", "org-1", p, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Fatal("expected re-registration with identical pipeline to be a no-op returning the same job")
	}
	if n := second.NextBuildNumber(); n != 2 {
		t.Errorf("got build number %d, want 2 (counter preserved across idempotent re-register)", n)
	}
}

func TestTable_Register_ReplacesOnDifferentPipeline(t *testing.T) {
	tbl := NewTable()
	p1 := samplePipeline(t)
	job, err := tbl.Register("build", "org-1", p1, "", nil)
	if err != nil {
		t.Fatal(err)
	}

	p2, err := (&pipeline.Builder{
		Name:   "build",
		Stages: []pipeline.Stage{{Name: "other", Steps: []pipeline.Step{{Name: "r", Type: pipeline.StepShell, Shell: &pipeline.ShellPayload{Command: "echo bye"}}}}},
	}).Build()
	if err != nil {
		t.Fatal(err)
	}

	updated, err := tbl.Register("build", "org-1", p2, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if updated != job {
		t.Error("expected the same job instance to be updated in place")
	}
	if updated.Pipeline.Stages[0].Name != "other" {
		t.Error("expected job's pipeline to be replaced with the new definition")
	}
}

func TestJob_NextBuildNumber_Monotonic(t *testing.T) {
	job := &Job{Name: "j"}
	for want := 1; want <= 3; want++ {
		if got := job.NextBuildNumber(); got != want {
			t.Fatalf("got build number %d, want %d", got, want)
		}
	}
}

func TestTable_Get_UnknownJob(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.Get("nope"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}
