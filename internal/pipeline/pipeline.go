// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pipeline holds the immutable Pipeline data model shared by both
// DSL surface syntaxes (internal/dsl) and consumed by the executor,
// dispatcher, and job table.
package pipeline

// Pipeline is an immutable, validated build definition. Construct one via
// Builder.Build, never by populating the struct literal directly —
// Builder.Build is what enforces the invariants in InvalidPipeline.
type Pipeline struct {
	Name        string
	Description string
	Source      *Source
	Parameters  []Parameter
	Stages      []Stage
	Post        Post
	Artifacts   []string
	Notifiers   []NotifierConfig
}

// Source describes a Git checkout to seed a build's workspace.
type Source struct {
	URL         string
	Branch      string // empty = remote HEAD
	Depth       int    // 0 = full clone
	Credentials *Credentials
}

// Credentials carries exactly one of an SSH key or a token.
type Credentials struct {
	SSHKey string
	Token  string
}

// ParameterType enumerates the supported Parameter value kinds.
type ParameterType string

const (
	ParameterString ParameterType = "string"
	ParameterChoice ParameterType = "choice"
)

// Parameter is a typed, named build input with a default value.
type Parameter struct {
	Name    string
	Type    ParameterType
	Default string
	Choices []string // only meaningful when Type == ParameterChoice
}

// Stage is an ordered, optionally-parallel group of Steps.
type Stage struct {
	Name      string
	Parallel  bool
	Steps     []Step
	Condition *Condition
}

// StepType identifies which StepExecutor runs a Step (internal/plugin).
type StepType string

const (
	StepShell         StepType = "shell"
	StepDocker        StepType = "docker"
	StepDockerCompose StepType = "docker-compose"
)

// Step is a single named action within a Stage. Payload carries the
// type-specific fields (for "shell": Command/Dir/Env/TimeoutMS); plugin
// step types carry an opaque payload map instead.
type Step struct {
	Name      string
	Type      StepType
	Shell     *ShellPayload
	Opaque    map[string]interface{}
	Condition *Condition
}

// ShellPayload is the type-specific payload for StepShell (and, by
// convention, for plugin-registered step types like "docker" that accept
// the same shape).
type ShellPayload struct {
	Command   string
	Dir       string
	Env       map[string]string
	TimeoutMS int
}

// ConditionKind tags the variant a Condition holds.
type ConditionKind string

const (
	ConditionAlways ConditionKind = "always"
	ConditionBranch ConditionKind = "branch"
	ConditionParam  ConditionKind = "param"
)

// Condition is a tagged variant evaluated against a running build's
// context (see internal/executor's condition evaluation).
type Condition struct {
	Kind        ConditionKind
	BranchValue string // Kind == ConditionBranch
	ParamKey    string // Kind == ConditionParam
	ParamValue  string // Kind == ConditionParam
}

// Post holds the three post-hook step lists run after main stages finish.
type Post struct {
	Always    []Step
	OnSuccess []Step
	OnFailure []Step
}

// NotifierConfig names a registered notifier (internal/plugin) plus its
// tag-specific settings, opaque to the pipeline model itself.
type NotifierConfig struct {
	Tag    string
	Config map[string]interface{}
}
