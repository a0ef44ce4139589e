// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/autobrr/crossseed/internal/dbinterface"
)

// JobState tracks when a scheduled job last ran and when it is due next, so
// cadences survive restarts.
type JobState struct {
	Name    string
	LastRun *time.Time
	NextRun *time.Time
}

// JobStateStore persists scheduler state.
type JobStateStore struct {
	db dbinterface.Querier
}

func NewJobStateStore(db dbinterface.Querier) *JobStateStore {
	return &JobStateStore{db: db}
}

func (s *JobStateStore) Get(ctx context.Context, name string) (*JobState, error) {
	var (
		state   JobState
		lastRun sql.NullTime
		nextRun sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT name, last_run, next_run FROM job_state WHERE name = ?", name).
		Scan(&state.Name, &lastRun, &nextRun)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job state: %w", err)
	}
	if lastRun.Valid {
		state.LastRun = &lastRun.Time
	}
	if nextRun.Valid {
		state.NextRun = &nextRun.Time
	}
	return &state, nil
}

// RecordRun marks a completed run and schedules the next one from the run's
// end time.
func (s *JobStateStore) RecordRun(ctx context.Context, name string, ranAt time.Time, cadence time.Duration) error {
	next := ranAt.Add(cadence)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_state (name, last_run, next_run) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			last_run = excluded.last_run,
			next_run = excluded.next_run
	`, name, ranAt, next)
	if err != nil {
		return fmt.Errorf("record job run: %w", err)
	}
	return nil
}
