// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scheduler runs the periodic search and RSS loops for daemon mode.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/autobrr/crossseed/internal/models"
)

const (
	JobSearch = "search"
	JobRSS    = "rss"
)

// Job is one schedulable unit of work.
type Job func(ctx context.Context) error

// Scheduler drives cadenced jobs. Each job is single-flight: a tick that
// lands while the previous run is still going is skipped. The next run is
// scheduled from the end of the previous one, not its start, and the cadence
// survives restarts through the job_state table.
type Scheduler struct {
	jobState *models.JobStateStore
	logger   zerolog.Logger
}

func New(jobState *models.JobStateStore, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		jobState: jobState,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Run loops a job at the given cadence until the context is canceled. It
// never returns on job failure: errors are logged and the loop waits a full
// cadence before retrying. A zero cadence disables the job.
func (s *Scheduler) Run(ctx context.Context, name string, cadence time.Duration, job Job) {
	if cadence <= 0 {
		s.logger.Debug().Str("job", name).Msg("Job disabled, no cadence configured")
		return
	}

	logger := s.logger.With().Str("job", name).Dur("cadence", cadence).Logger()
	logger.Info().Msg("Starting job loop")

	var running atomic.Bool

	wait := s.initialDelay(ctx, name, cadence)
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("Job loop stopped")
			return
		case <-time.After(wait):
		}

		if !running.CompareAndSwap(false, true) {
			logger.Warn().Msg("Previous run still in flight, skipping tick")
			wait = cadence
			continue
		}

		start := time.Now()
		err := job(ctx)
		end := time.Now()
		running.Store(false)

		if err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Dur("took", end.Sub(start)).Msg("Job failed, retrying after cadence")
		} else if err == nil {
			logger.Info().Dur("took", end.Sub(start)).Msg("Job finished")
		}

		if recordErr := s.jobState.RecordRun(ctx, name, end, cadence); recordErr != nil && ctx.Err() == nil {
			logger.Error().Err(recordErr).Msg("Failed to persist job state")
		}
		wait = cadence
	}
}

// initialDelay honors a persisted next_run from a previous process so a
// restart does not hammer indexers ahead of schedule.
func (s *Scheduler) initialDelay(ctx context.Context, name string, cadence time.Duration) time.Duration {
	state, err := s.jobState.Get(ctx, name)
	if err != nil {
		s.logger.Warn().Err(err).Str("job", name).Msg("Failed to load job state, running immediately")
		return 0
	}
	if state == nil || state.NextRun == nil {
		return 0
	}
	until := time.Until(*state.NextRun)
	if until < 0 {
		return 0
	}
	if until > cadence {
		return cadence
	}
	return until
}
