// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

package dsl

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/chengis/chengis/internal/pipeline"
)

// dataFormDoc mirrors the Chengisfile/data-form nested record described in
// spec §4.B: description, stages (each with name/parallel/steps), post
// (always/on-success/on-failure), artifacts, notify.
type dataFormDoc struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description"`
	Source      *dataFormSource      `yaml:"source"`
	Parameters  []dataFormParameter  `yaml:"parameters"`
	Stages      []dataFormStage      `yaml:"stages"`
	Post        *dataFormPost        `yaml:"post"`
	Artifacts   []string             `yaml:"artifacts"`
	Notify      []dataFormNotifier   `yaml:"notify"`
}

type dataFormSource struct {
	URL         string `yaml:"url"`
	Branch      string `yaml:"branch"`
	Depth       int    `yaml:"depth"`
	SSHKey      string `yaml:"ssh_key"`
	Token       string `yaml:"token"`
}

type dataFormParameter struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	Default string   `yaml:"default"`
	Choices []string `yaml:"choices"`
}

type dataFormStage struct {
	Name      string            `yaml:"name"`
	Parallel  bool              `yaml:"parallel"`
	Steps     []dataFormStep    `yaml:"steps"`
	Condition *dataFormCondition `yaml:"condition"`
}

type dataFormStep struct {
	Name      string            `yaml:"name"`
	Run       string            `yaml:"run"`
	Dir       string            `yaml:"dir"`
	Timeout   int               `yaml:"timeout"`
	Env       map[string]string `yaml:"env"`
	Condition *dataFormCondition `yaml:"condition"`
}

// dataFormCondition uses the canonical "type"/"value" keys. Only these
// keys are decoded: the "condition-type"/"condition-value" spelling is not
// rejected but ignored like any other unknown key, so a condition written
// with only those keys has an empty type and is treated as "always".
type dataFormCondition struct {
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
	Key   string `yaml:"key"` // used only when type == "param"
}

type dataFormPost struct {
	Always    []dataFormStep `yaml:"always"`
	OnSuccess []dataFormStep `yaml:"on-success"`
	OnFailure []dataFormStep `yaml:"on-failure"`
}

type dataFormNotifier struct {
	Tag    string                 `yaml:"tag"`
	Config map[string]interface{} `yaml:"config"`
}

// LoadDataForm parses the YAML data form (used both for server-side
// registration and for an in-repo Chengisfile override) and produces a
// validated Pipeline.
func LoadDataForm(src []byte) (*pipeline.Pipeline, error) {
	var doc dataFormDoc
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, fmt.Errorf("data-form parse error: %w", err)
	}
	return doc.toBuilder().Build()
}

func (doc dataFormDoc) toBuilder() *pipeline.Builder {
	b := &pipeline.Builder{
		Name:        doc.Name,
		Description: doc.Description,
		Artifacts:   doc.Artifacts,
	}

	if doc.Source != nil {
		src := &pipeline.Source{
			URL:    doc.Source.URL,
			Branch: doc.Source.Branch,
			Depth:  doc.Source.Depth,
		}
		if doc.Source.SSHKey != "" || doc.Source.Token != "" {
			src.Credentials = &pipeline.Credentials{SSHKey: doc.Source.SSHKey, Token: doc.Source.Token}
		}
		b.Source = src
	}

	for _, p := range doc.Parameters {
		ptype := pipeline.ParameterString
		if p.Type == string(pipeline.ParameterChoice) {
			ptype = pipeline.ParameterChoice
		}
		b.Parameters = append(b.Parameters, pipeline.Parameter{
			Name:    p.Name,
			Type:    ptype,
			Default: p.Default,
			Choices: p.Choices,
		})
	}

	for _, s := range doc.Stages {
		stage := pipeline.Stage{
			Name:      s.Name,
			Parallel:  s.Parallel,
			Condition: toCondition(s.Condition),
		}
		for _, st := range s.Steps {
			stage.Steps = append(stage.Steps, st.toStep())
		}
		b.Stages = append(b.Stages, stage)
	}

	if doc.Post != nil {
		for _, st := range doc.Post.Always {
			b.Post.Always = append(b.Post.Always, st.toStep())
		}
		for _, st := range doc.Post.OnSuccess {
			b.Post.OnSuccess = append(b.Post.OnSuccess, st.toStep())
		}
		for _, st := range doc.Post.OnFailure {
			b.Post.OnFailure = append(b.Post.OnFailure, st.toStep())
		}
	}

	for _, n := range doc.Notify {
		b.Notifiers = append(b.Notifiers, pipeline.NotifierConfig{Tag: n.Tag, Config: n.Config})
	}

	return b
}

func (st dataFormStep) toStep() pipeline.Step {
	return pipeline.Step{
		Name: st.Name,
		Type: pipeline.StepShell,
		Shell: &pipeline.ShellPayload{
			Command:   st.Run,
			Dir:       st.Dir,
			Env:       st.Env,
			TimeoutMS: st.Timeout,
		},
		Condition: toCondition(st.Condition),
	}
}

func toCondition(c *dataFormCondition) *pipeline.Condition {
	if c == nil {
		return nil
	}
	switch c.Type {
	case "branch":
		return &pipeline.Condition{Kind: pipeline.ConditionBranch, BranchValue: c.Value}
	case "param":
		return &pipeline.Condition{Kind: pipeline.ConditionParam, ParamKey: c.Key, ParamValue: c.Value}
	case "always", "":
		return &pipeline.Condition{Kind: pipeline.ConditionAlways}
	default:
		return &pipeline.Condition{Kind: pipeline.ConditionKind(c.Type)}
	}
}
