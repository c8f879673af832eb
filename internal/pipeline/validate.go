// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"fmt"
	"strings"
)

// InvalidPipeline is returned by Builder.Build when one or more structural
// violations are found. It enumerates every violation rather than
// failing on the first, so a loader can report all of them at once.
type InvalidPipeline struct {
	Violations []string
}

func (e *InvalidPipeline) Error() string {
	return fmt.Sprintf("invalid pipeline: %s", strings.Join(e.Violations, "; "))
}

// Builder accumulates a Pipeline's fields before validation. DSL loaders
// (internal/dsl) populate a Builder from their own surface syntax and
// call Build to obtain a validated, immutable Pipeline.
type Builder struct {
	Name        string
	Description string
	Source      *Source
	Parameters  []Parameter
	Stages      []Stage
	Post        Post
	Artifacts   []string
	Notifiers   []NotifierConfig
}

// Build validates the accumulated fields and returns an immutable
// Pipeline, or an *InvalidPipeline enumerating every violation found.
func (b *Builder) Build() (*Pipeline, error) {
	var violations []string

	if strings.TrimSpace(b.Name) == "" {
		violations = append(violations, "pipeline name must not be empty")
	}

	for _, p := range b.Parameters {
		violations = append(violations, validateParameter(p)...)
	}

	seenStage := make(map[string]bool, len(b.Stages))
	for _, s := range b.Stages {
		violations = append(violations, validateStage(s, seenStage)...)
	}

	violations = append(violations, validateSteps(b.Post.Always, "post.always", map[string]bool{})...)
	violations = append(violations, validateSteps(b.Post.OnSuccess, "post.on-success", map[string]bool{})...)
	violations = append(violations, validateSteps(b.Post.OnFailure, "post.on-failure", map[string]bool{})...)

	if b.Source != nil {
		if strings.TrimSpace(b.Source.URL) == "" {
			violations = append(violations, "source.url must not be empty")
		}
		if b.Source.Depth < 0 {
			violations = append(violations, "source.depth must be non-negative")
		}
	}

	if len(violations) > 0 {
		return nil, &InvalidPipeline{Violations: violations}
	}

	return &Pipeline{
		Name:        b.Name,
		Description: b.Description,
		Source:      b.Source,
		Parameters:  b.Parameters,
		Stages:      b.Stages,
		Post:        b.Post,
		Artifacts:   b.Artifacts,
		Notifiers:   b.Notifiers,
	}, nil
}

func validateParameter(p Parameter) []string {
	var violations []string
	if strings.TrimSpace(p.Name) == "" {
		violations = append(violations, "parameter name must not be empty")
		return violations
	}
	if p.Type == ParameterChoice {
		if len(p.Choices) == 0 {
			violations = append(violations, fmt.Sprintf("parameter %q: choice type requires at least one choice", p.Name))
		} else if !contains(p.Choices, p.Default) {
			violations = append(violations, fmt.Sprintf("parameter %q: default %q is not among its choices", p.Name, p.Default))
		}
	}
	return violations
}

func validateStage(s Stage, seenStage map[string]bool) []string {
	var violations []string

	if strings.TrimSpace(s.Name) == "" {
		violations = append(violations, "stage name must not be empty")
	} else if seenStage[s.Name] {
		violations = append(violations, fmt.Sprintf("duplicate stage name %q", s.Name))
	} else {
		seenStage[s.Name] = true
	}

	if len(s.Steps) == 0 {
		violations = append(violations, fmt.Sprintf("stage %q: must contain at least one step", s.Name))
	}

	violations = append(violations, validateSteps(s.Steps, fmt.Sprintf("stage %q", s.Name), map[string]bool{})...)

	return violations
}

func validateSteps(steps []Step, context string, seenStep map[string]bool) []string {
	var violations []string
	for _, step := range steps {
		if strings.TrimSpace(step.Name) == "" {
			violations = append(violations, fmt.Sprintf("%s: step name must not be empty", context))
		} else if seenStep[step.Name] {
			violations = append(violations, fmt.Sprintf("%s: duplicate step name %q", context, step.Name))
		} else {
			seenStep[step.Name] = true
		}

		if step.Type == StepShell {
			if step.Shell == nil || strings.TrimSpace(step.Shell.Command) == "" {
				violations = append(violations, fmt.Sprintf("%s: step %q: shell step requires a non-blank command", context, step.Name))
			}
			if step.Shell != nil && step.Shell.TimeoutMS < 0 {
				violations = append(violations, fmt.Sprintf("%s: step %q: timeout_ms must be non-negative", context, step.Name))
			}
		}

		if step.Condition != nil {
			violations = append(violations, validateCondition(*step.Condition, context, step.Name)...)
		}
	}
	return violations
}

func validateCondition(c Condition, context, stepName string) []string {
	var violations []string
	switch c.Kind {
	case ConditionAlways:
	case ConditionBranch:
		if strings.TrimSpace(c.BranchValue) == "" {
			violations = append(violations, fmt.Sprintf("%s: step %q: branch condition requires a value", context, stepName))
		}
	case ConditionParam:
		if strings.TrimSpace(c.ParamKey) == "" {
			violations = append(violations, fmt.Sprintf("%s: step %q: param condition requires a key", context, stepName))
		}
	default:
		violations = append(violations, fmt.Sprintf("%s: step %q: unknown condition kind %q", context, stepName, c.Kind))
	}
	return violations
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
