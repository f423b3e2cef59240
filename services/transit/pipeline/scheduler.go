// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrSchedulerRunning is returned by Scheduler.Start when already started.
var ErrSchedulerRunning = errors.New("scheduler is already running")

// Triggerer starts a pipeline run. *Orchestrator implements it.
type Triggerer interface {
	Trigger(ctx context.Context) (RunReport, error)
}

// =============================================================================
// Scheduler
// =============================================================================

// Scheduler re-runs the pipeline on a fixed interval.
//
// # Description
//
// Uses the ticker + done channel pattern. A tick that lands while a run is
// active is skipped: ALREADY_RUNNING is expected here and logged at debug.
//
// # Thread Safety
//
// Start and Stop are safe to call from any goroutine.
type Scheduler struct {
	target   Triggerer
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. The first run happens one interval
// after Start.
func NewScheduler(target Triggerer, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{target: target, interval: interval, logger: logger}
}

// Start begins the scheduling loop. It stops when Stop is called or ctx is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("scheduler interval must be positive")
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerRunning
	}
	s.running = true
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	s.logger.Info("pipeline scheduler starting", slog.String("interval", s.interval.String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.exited(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
	return nil
}

// exited clears the running flag when the loop for done ends on its own,
// so a cancelled scheduler can be started again.
func (s *Scheduler) exited(done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.done == done {
		s.running = false
	}
}

// Stop halts the loop and waits for an in-progress tick to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("pipeline scheduler stopped")
}

func (s *Scheduler) tick(ctx context.Context) {
	report, err := s.target.Trigger(ctx)
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		s.logger.Debug("scheduled run skipped, pipeline busy")
	case err != nil:
		s.logger.Warn("scheduled run not started", slog.String("error", err.Error()))
	default:
		s.logger.Info("scheduled run finished",
			slog.String("run_id", report.RunID),
			slog.String("status", string(report.Status)))
	}
}
