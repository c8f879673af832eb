// Copyright (C) 2026 Chengis
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/chengis/chengis/internal/buildstate"
)

// buildRow is the gorm model backing the builds table.
type buildRow struct {
	BuildID     string `gorm:"primaryKey"`
	JobID       string `gorm:"index"`
	OrgID       string
	BuildNumber int
	Status      string
	Trigger     string
	AgentID     string
	Workspace   string
	Parameters  string // "k=v,k=v" — thin by design, not a schema exercise
	StartedAt   time.Time
	CompletedAt time.Time
}

func (buildRow) TableName() string { return "builds" }

// agentRow is the gorm model backing the agents table.
type agentRow struct {
	AgentID   string `gorm:"primaryKey"`
	Endpoint  string
	OrgID     string
	Labels    string // comma-joined
	MaxBuilds int
	CPUCount  int
}

func (agentRow) TableName() string { return "agents" }

// GormStore is the gorm+Postgres Store implementation.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens a Postgres connection via dsn and runs AutoMigrate.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&buildRow{}, &agentRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate store schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

func toBuildRow(b *Build) *buildRow {
	return &buildRow{
		BuildID:     b.BuildID,
		JobID:       b.JobID,
		OrgID:       b.OrgID,
		BuildNumber: b.BuildNumber,
		Status:      string(b.Status),
		Trigger:     string(b.Trigger),
		AgentID:     b.AgentID,
		Workspace:   b.Workspace,
		Parameters:  encodeParams(b.Parameters),
		StartedAt:   b.StartedAt,
		CompletedAt: b.CompletedAt,
	}
}

func fromBuildRow(r *buildRow) *Build {
	return &Build{
		BuildID:     r.BuildID,
		JobID:       r.JobID,
		OrgID:       r.OrgID,
		BuildNumber: r.BuildNumber,
		Status:      buildstate.Status(r.Status),
		Trigger:     Trigger(r.Trigger),
		AgentID:     r.AgentID,
		Workspace:   r.Workspace,
		Parameters:  decodeParams(r.Parameters),
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}

func encodeParams(m map[string]string) string {
	parts := make([]string, 0, len(m))
	for k, v := range m {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func decodeParams(s string) map[string]string {
	out := make(map[string]string)
	if s == "" {
		return out
	}
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

func (s *GormStore) CreateBuild(ctx context.Context, b *Build) error {
	return s.db.WithContext(ctx).Create(toBuildRow(b)).Error
}

func (s *GormStore) UpdateBuildStatus(ctx context.Context, buildID string, status buildstate.Status, completedAt *time.Time) error {
	updates := map[string]interface{}{"status": string(status)}
	if completedAt != nil {
		updates["completed_at"] = *completedAt
	}
	return s.db.WithContext(ctx).Model(&buildRow{}).Where("build_id = ?", buildID).Updates(updates).Error
}

func (s *GormStore) GetBuild(ctx context.Context, buildID string) (*Build, error) {
	var row buildRow
	if err := s.db.WithContext(ctx).Where("build_id = ?", buildID).First(&row).Error; err != nil {
		return nil, fmt.Errorf("build %q not found: %w", buildID, err)
	}
	return fromBuildRow(&row), nil
}

func (s *GormStore) ListBuildsByJob(ctx context.Context, jobID string) ([]*Build, error) {
	var rows []buildRow
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*Build, len(rows))
	for i := range rows {
		out[i] = fromBuildRow(&rows[i])
	}
	return out, nil
}

// NextBuildNumber reads the current max build_number for jobID inside a
// transaction and returns max+1, without a database sequence object
// (kept thin per the persistence Non-goal). It writes nothing: the number
// is taken once the caller creates the build row, so calls made before
// that return the same number.
func (s *GormStore) NextBuildNumber(ctx context.Context, jobID string) (int, error) {
	var next int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var max int
		if err := tx.Model(&buildRow{}).Where("job_id = ?", jobID).
			Select("COALESCE(MAX(build_number), 0)").Scan(&max).Error; err != nil {
			return err
		}
		next = max + 1
		return nil
	})
	return next, err
}

func (s *GormStore) UpsertAgent(ctx context.Context, a *AgentRecord) error {
	row := &agentRow{
		AgentID:   a.AgentID,
		Endpoint:  a.Endpoint,
		OrgID:     a.OrgID,
		Labels:    strings.Join(a.Labels, ","),
		MaxBuilds: a.MaxBuilds,
		CPUCount:  a.CPUCount,
	}
	return s.db.WithContext(ctx).Save(row).Error
}

func (s *GormStore) DeleteAgent(ctx context.Context, agentID string) error {
	return s.db.WithContext(ctx).Where("agent_id = ?", agentID).Delete(&agentRow{}).Error
}

func (s *GormStore) ListAgents(ctx context.Context) ([]*AgentRecord, error) {
	var rows []agentRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*AgentRecord, len(rows))
	for i, r := range rows {
		labels := []string{}
		if r.Labels != "" {
			labels = strings.Split(r.Labels, ",")
		}
		out[i] = &AgentRecord{
			AgentID:   r.AgentID,
			Endpoint:  r.Endpoint,
			OrgID:     r.OrgID,
			Labels:    labels,
			MaxBuilds: r.MaxBuilds,
			CPUCount:  r.CPUCount,
		}
	}
	return out, nil
}
