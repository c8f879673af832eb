// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

package dsl

import (
	"fmt"

	"github.com/chengis/chengis/internal/pipeline"
)

// LoadCodeForm parses the s-expression-like code form and produces a
// validated Pipeline. Evaluation is deliberately not a general macro
// system: each recognized form (defpipeline, stage, step, parallel, sh,
// when-branch, when-param, post, always, on-success, on-failure,
// artifacts, notify) is interpreted directly into a Pipeline fragment.
func LoadCodeForm(src string) (*pipeline.Pipeline, error) {
	forms, err := parseSexpr(src)
	if err != nil {
		return nil, fmt.Errorf("code-form parse error: %w", err)
	}

	for _, f := range forms {
		if f.isList() && len(f.list) > 0 && f.list[0].symbol == "defpipeline" {
			return evalDefpipeline(f.list[1:])
		}
	}
	return nil, fmt.Errorf("code-form source contains no (defpipeline ...) form")
}

func evalDefpipeline(args []node) (*pipeline.Pipeline, error) {
	if len(args) == 0 || !args[0].isStr {
		return nil, fmt.Errorf("defpipeline requires a string name as its first argument")
	}

	b := &pipeline.Builder{Name: args[0].str}
	rest := args[1:]

	i := 0
	for i < len(rest) {
		form := rest[i]

		if form.symbol == ":description" && i+1 < len(rest) && rest[i+1].isStr {
			b.Description = rest[i+1].str
			i += 2
			continue
		}

		if !form.isList() || len(form.list) == 0 {
			i++
			continue
		}

		head := form.list[0].symbol
		switch head {
		case "stage":
			stage, err := evalStage(form.list[1:])
			if err != nil {
				return nil, err
			}
			b.Stages = append(b.Stages, stage)
		case "post":
			if err := evalPost(form.list[1:], &b.Post); err != nil {
				return nil, err
			}
		case "artifacts":
			for _, a := range form.list[1:] {
				if a.isStr {
					b.Artifacts = append(b.Artifacts, a.str)
				}
			}
		case "notify":
			if len(form.list) > 1 && form.list[1].isStr {
				b.Notifiers = append(b.Notifiers, pipeline.NotifierConfig{Tag: form.list[1].str})
			}
		}
		i++
	}

	return b.Build()
}

func evalStage(args []node) (pipeline.Stage, error) {
	if len(args) == 0 || !args[0].isStr {
		return pipeline.Stage{}, fmt.Errorf("stage requires a string name as its first argument")
	}
	stage := pipeline.Stage{Name: args[0].str}
	rest := args[1:]

	i := 0
	for i < len(rest) {
		form := rest[i]

		if form.symbol == ":parallel" && i+1 < len(rest) && rest[i+1].isBool {
			stage.Parallel = rest[i+1].bval
			i += 2
			continue
		}

		if form.isList() && len(form.list) > 0 {
			switch form.list[0].symbol {
			case "step":
				step, err := evalStep(form.list[1:])
				if err != nil {
					return pipeline.Stage{}, err
				}
				stage.Steps = append(stage.Steps, step)
			case "parallel":
				stage.Parallel = true
				for _, child := range form.list[1:] {
					if child.isList() && len(child.list) > 0 && child.list[0].symbol == "step" {
						step, err := evalStep(child.list[1:])
						if err != nil {
							return pipeline.Stage{}, err
						}
						stage.Steps = append(stage.Steps, step)
					}
				}
			case "when-branch":
				if len(form.list) > 1 && form.list[1].isStr {
					c := pipeline.Condition{Kind: pipeline.ConditionBranch, BranchValue: form.list[1].str}
					stage.Condition = &c
				}
			case "when-param":
				if len(form.list) > 2 && form.list[1].isStr && form.list[2].isStr {
					c := pipeline.Condition{Kind: pipeline.ConditionParam, ParamKey: form.list[1].str, ParamValue: form.list[2].str}
					stage.Condition = &c
				}
			}
		}
		i++
	}

	return stage, nil
}

func evalStep(args []node) (pipeline.Step, error) {
	if len(args) == 0 || !args[0].isStr {
		return pipeline.Step{}, fmt.Errorf("step requires a string name as its first argument")
	}
	step := pipeline.Step{Name: args[0].str, Type: pipeline.StepShell}
	rest := args[1:]

	for _, form := range rest {
		if !form.isList() || len(form.list) == 0 {
			continue
		}
		switch form.list[0].symbol {
		case "sh":
			shell, err := evalShell(form.list[1:])
			if err != nil {
				return pipeline.Step{}, err
			}
			step.Shell = &shell
		case "when-branch":
			if len(form.list) > 1 && form.list[1].isStr {
				c := pipeline.Condition{Kind: pipeline.ConditionBranch, BranchValue: form.list[1].str}
				step.Condition = &c
			}
		case "when-param":
			if len(form.list) > 2 && form.list[1].isStr && form.list[2].isStr {
				c := pipeline.Condition{Kind: pipeline.ConditionParam, ParamKey: form.list[1].str, ParamValue: form.list[2].str}
				step.Condition = &c
			}
		case "always":
			step.Condition = &pipeline.Condition{Kind: pipeline.ConditionAlways}
		}
	}

	return step, nil
}

// evalShell parses (sh "command" :dir "..." :env (key val key val) :timeout 1000).
func evalShell(args []node) (pipeline.ShellPayload, error) {
	if len(args) == 0 || !args[0].isStr {
		return pipeline.ShellPayload{}, fmt.Errorf("sh requires a string command as its first argument")
	}
	shell := pipeline.ShellPayload{Command: args[0].str}

	i := 1
	for i < len(args) {
		switch args[i].symbol {
		case ":dir":
			if i+1 < len(args) && args[i+1].isStr {
				shell.Dir = args[i+1].str
			}
			i += 2
		case ":timeout":
			if i+1 < len(args) && args[i+1].isNum {
				shell.TimeoutMS = int(args[i+1].num)
			}
			i += 2
		case ":env":
			if i+1 < len(args) && args[i+1].isList() {
				shell.Env = evalEnvList(args[i+1].list)
			}
			i += 2
		default:
			i++
		}
	}

	return shell, nil
}

func evalEnvList(pairs []node) map[string]string {
	env := make(map[string]string)
	for i := 0; i+1 < len(pairs); i += 2 {
		key := pairs[i].symbol
		if pairs[i].isStr {
			key = pairs[i].str
		}
		if pairs[i+1].isStr {
			env[key] = pairs[i+1].str
		}
	}
	return env
}

func evalPost(args []node, post *pipeline.Post) error {
	for _, form := range args {
		if !form.isList() || len(form.list) == 0 {
			continue
		}
		var target *[]pipeline.Step
		switch form.list[0].symbol {
		case "always":
			target = &post.Always
		case "on-success":
			target = &post.OnSuccess
		case "on-failure":
			target = &post.OnFailure
		default:
			continue
		}
		for _, child := range form.list[1:] {
			if child.isList() && len(child.list) > 0 && child.list[0].symbol == "step" {
				step, err := evalStep(child.list[1:])
				if err != nil {
					return err
				}
				*target = append(*target, step)
			}
		}
	}
	return nil
}
