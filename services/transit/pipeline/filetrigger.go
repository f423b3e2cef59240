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
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long FileTrigger waits for writes to settle.
const DefaultDebounce = 250 * time.Millisecond

// FileTrigger runs the pipeline when a fixture file changes.
//
// The parent directory is watched rather than the file itself so that
// editors and tools that replace the file by rename are still seen.
// Bursts of events within the debounce window produce one run.
type FileTrigger struct {
	path     string
	target   Triggerer
	debounce time.Duration
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewFileTrigger creates a trigger for path. debounce <= 0 uses DefaultDebounce.
func NewFileTrigger(path string, target Triggerer, debounce time.Duration, logger *slog.Logger) (*FileTrigger, error) {
	if path == "" {
		return nil, errors.New("file trigger requires a path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &FileTrigger{
		path:     abs,
		target:   target,
		debounce: debounce,
		logger:   logger,
		watcher:  w,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching.
func (f *FileTrigger) Start(ctx context.Context) error {
	if err := f.watcher.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(f.path), err)
	}
	f.logger.Info("watching fixture for changes", slog.String("path", f.path))
	f.wg.Add(1)
	go f.loop(ctx)
	return nil
}

// Stop stops watching and waits for the loop to exit.
func (f *FileTrigger) Stop() {
	f.stopOnce.Do(func() {
		close(f.done)
		f.watcher.Close()
	})
	f.wg.Wait()
}

func (f *FileTrigger) loop(ctx context.Context) {
	defer f.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.done:
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(f.debounce)
			} else {
				timer.Reset(f.debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			f.fire(ctx)
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("fixture watcher error", slog.String("error", err.Error()))
		}
	}
}

func (f *FileTrigger) fire(ctx context.Context) {
	f.logger.Info("fixture changed, rebuilding", slog.String("path", f.path))
	report, err := f.target.Trigger(ctx)
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		f.logger.Info("rebuild skipped, pipeline busy")
	case err != nil:
		f.logger.Warn("rebuild not started", slog.String("error", err.Error()))
	default:
		f.logger.Info("rebuild finished",
			slog.String("run_id", report.RunID),
			slog.String("status", string(report.Status)))
	}
}
