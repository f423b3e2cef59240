// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline runs graph builds as a guarded, non-overlapping sequence
// of stages: fetch stops, generate virtual stops, fetch edges, publish.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
)

var (
	// ErrAlreadyRunning is returned when a run is requested while one is active.
	ErrAlreadyRunning = errors.New("ALREADY_RUNNING")

	// ErrCannotRun is returned when a stage reports it cannot run.
	ErrCannotRun = errors.New("CANNOT_RUN")

	// ErrNoStages is returned by NewOrchestrator for an empty stage list.
	ErrNoStages = errors.New("pipeline has no stages")

	// ErrStagePanic wraps a panic recovered from a stage's Execute.
	ErrStagePanic = errors.New("stage panicked")
)

// State is the orchestrator state machine: idle → running → {success,
// failed, cancelled}. A terminal state is left on the next run.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateSuccess   State = "success"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// StageReport is the outcome of one stage.
type StageReport struct {
	Name       string `json:"name"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"durationMs"`
	Message    string `json:"message,omitempty"`
}

// RunReport is the outcome of one run. Stage failures are reported here,
// never returned as errors.
type RunReport struct {
	RunID      string                   `json:"runId"`
	Status     State                    `json:"status"`
	StartedAt  time.Time                `json:"startedAt"`
	DurationMs int64                    `json:"durationMs"`
	Stages     []StageReport            `json:"stages"`
	Mode       datatypes.DataSourceMode `json:"mode,omitempty"`
	Quality    datatypes.QualityScore   `json:"quality"`
	Version    *datatypes.VersionMeta   `json:"version,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

// Metadata is retained across runs.
type Metadata struct {
	State        State         `json:"state"`
	CurrentRunID string        `json:"currentRunId,omitempty"`
	LastRunAt    time.Time     `json:"lastRunAt"`
	LastStatus   State         `json:"lastStatus,omitempty"`
	LastDuration time.Duration `json:"lastDuration"`
	RunCount     int64         `json:"runCount"`
	LastReport   *RunReport    `json:"lastReport,omitempty"`
}

// Recorder observes finished runs for metrics.
type Recorder interface {
	ObserveRun(report RunReport)
}

// Orchestrator runs the stages of a graph build.
//
// Description:
//
//	At most one run is active at a time; the running flag is claimed with
//	a compare-and-swap so concurrent triggers cannot both start. Cancel is
//	cooperative: it sets a flag that is checked between stages, so a stage
//	that has started always runs to completion. A failed or cancelled run
//	never touches the published graph beyond what completed stages did,
//	and only PublishStage publishes.
//
// Thread Safety:
//
//	Orchestrator is safe for concurrent use.
type Orchestrator struct {
	stages   []Stage
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time

	running atomic.Bool
	cancel  atomic.Bool

	mu   sync.RWMutex
	meta Metadata

	events *broadcaster
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder sets the run metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// NewOrchestrator creates an orchestrator over stages, run in order.
func NewOrchestrator(stages []Stage, opts ...Option) (*Orchestrator, error) {
	if len(stages) == 0 {
		return nil, ErrNoStages
	}
	o := &Orchestrator{
		stages: stages,
		logger: slog.Default(),
		now:    time.Now,
		meta:   Metadata{State: StateIdle},
		events: newBroadcaster(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Trigger runs the pipeline synchronously.
//
// Inputs:
//
//	ctx - Tracing parent. A cancelled ctx is treated like Cancel().
//
// Outputs:
//
//	RunReport - Outcome of the run, including failed runs.
//	error - ErrAlreadyRunning or ErrCannotRun. Nothing else.
func (o *Orchestrator) Trigger(ctx context.Context) (RunReport, error) {
	runID, err := o.begin()
	if err != nil {
		return RunReport{}, err
	}
	return o.run(ctx, runID), nil
}

// Start runs the pipeline in the background and returns its run id.
//
// The run is detached from ctx cancellation; use Cancel to stop it.
func (o *Orchestrator) Start(ctx context.Context) (string, error) {
	runID, err := o.begin()
	if err != nil {
		return "", err
	}
	go o.run(context.WithoutCancel(ctx), runID)
	return runID, nil
}

// Cancel requests cancellation of the active run. It returns false when
// nothing is running.
func (o *Orchestrator) Cancel() bool {
	if !o.running.Load() {
		return false
	}
	o.cancel.Store(true)
	o.logger.Info("pipeline cancellation requested")
	return true
}

// Running reports whether a run is active.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Status returns a copy of the run metadata.
func (o *Orchestrator) Status() Metadata {
	o.mu.RLock()
	defer o.mu.RUnlock()
	m := o.meta
	if m.LastReport != nil {
		r := *m.LastReport
		r.Stages = append([]StageReport(nil), r.Stages...)
		m.LastReport = &r
	}
	return m
}

// Subscribe returns a channel of pipeline events and a function that
// unsubscribes and closes it. Slow subscribers miss events.
func (o *Orchestrator) Subscribe() (<-chan Event, func()) {
	return o.events.subscribe()
}

// begin claims the running flag and checks every stage. On error nothing
// has changed.
func (o *Orchestrator) begin() (string, error) {
	if !o.running.CompareAndSwap(false, true) {
		return "", ErrAlreadyRunning
	}
	check := NewRunState("", o.now())
	for _, s := range o.stages {
		if !s.CanRun(check) {
			o.running.Store(false)
			return "", fmt.Errorf("%w: stage %s", ErrCannotRun, s.Name())
		}
	}

	runID := uuid.NewString()[:12]
	o.cancel.Store(false)
	o.mu.Lock()
	o.meta.State = StateRunning
	o.meta.CurrentRunID = runID
	o.meta.RunCount++
	o.mu.Unlock()
	return runID, nil
}

func (o *Orchestrator) run(ctx context.Context, runID string) RunReport {
	initMetrics(o.logger)

	start := o.now()
	state := NewRunState(runID, start)
	report := RunReport{RunID: runID, StartedAt: start, Status: StateSuccess}

	ctx, span := tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(
			attribute.String("pipeline.run_id", runID),
			attribute.Int("pipeline.stage_count", len(o.stages)),
		),
	)
	defer span.End()

	o.logger.Info("pipeline started", slog.String("run_id", runID), slog.Int("stages", len(o.stages)))
	o.events.publish(Event{Type: EventRunStarted, RunID: runID, At: start})

	for _, stage := range o.stages {
		if o.cancel.Load() || ctx.Err() != nil {
			report.Status = StateCancelled
			report.Error = "cancelled before stage " + stage.Name()
			break
		}

		sr, err := o.runStage(ctx, stage, state)
		report.Stages = append(report.Stages, sr)
		o.events.publish(Event{Type: EventStageCompleted, RunID: runID, Stage: &sr, At: o.now()})

		if err != nil {
			report.Status = StateFailed
			report.Error = fmt.Sprintf("%s: %v", stage.Name(), err)
			break
		}
	}

	report.DurationMs = o.now().Sub(start).Milliseconds()
	report.Mode = state.Mode
	report.Quality = state.Quality
	report.Version = state.Published

	switch report.Status {
	case StateSuccess:
		var version uint64
		if report.Version != nil {
			version = report.Version.Version
		}
		span.SetStatus(codes.Ok, "")
		o.logger.Info("pipeline completed",
			slog.String("run_id", runID),
			slog.Int64("duration_ms", report.DurationMs),
			slog.String("mode", string(report.Mode)),
			slog.Uint64("version", version))
	case StateCancelled:
		span.SetStatus(codes.Error, "cancelled")
		o.logger.Warn("pipeline cancelled", slog.String("run_id", runID), slog.String("reason", report.Error))
	default:
		span.SetStatus(codes.Error, report.Error)
		o.logger.Error("pipeline failed", slog.String("run_id", runID), slog.String("error", report.Error))
	}
	recordRun(ctx, report)
	if o.recorder != nil {
		o.recorder.ObserveRun(report)
	}

	o.mu.Lock()
	o.meta.State = report.Status
	o.meta.CurrentRunID = ""
	o.meta.LastRunAt = start
	o.meta.LastStatus = report.Status
	o.meta.LastDuration = time.Duration(report.DurationMs) * time.Millisecond
	stored := report
	o.meta.LastReport = &stored
	o.mu.Unlock()
	o.running.Store(false)

	o.events.publish(Event{Type: EventRunFinished, RunID: runID, Report: &report, At: o.now()})
	return report
}

func (o *Orchestrator) runStage(ctx context.Context, stage Stage, state *RunState) (StageReport, error) {
	ctx, span := tracer.Start(ctx, "pipeline."+stage.Name(),
		trace.WithAttributes(attribute.String("pipeline.stage", stage.Name())))
	defer span.End()

	o.logger.Debug("stage starting", slog.String("run_id", state.RunID), slog.String("stage", stage.Name()))

	start := o.now()
	err := o.execute(ctx, stage, state)
	d := o.now().Sub(start)

	sr := StageReport{Name: stage.Name(), Success: err == nil, DurationMs: d.Milliseconds(), Message: state.takeMessage()}
	recordStage(ctx, stage.Name(), d, err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		sr.Message = err.Error()
		o.logger.Warn("stage failed",
			slog.String("run_id", state.RunID),
			slog.String("stage", stage.Name()),
			slog.String("error", err.Error()))
		return sr, err
	}
	o.logger.Info("stage completed",
		slog.String("run_id", state.RunID),
		slog.String("stage", stage.Name()),
		slog.Int64("duration_ms", sr.DurationMs),
		slog.String("message", sr.Message))
	return sr, nil
}

// execute runs stage.Execute, turning a panic into an ErrStagePanic so the
// run is reported as failed and the running flag is released.
func (o *Orchestrator) execute(ctx context.Context, stage Stage, state *RunState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			o.logger.Error("panic in pipeline stage",
				slog.String("run_id", state.RunID),
				slog.String("stage", stage.Name()),
				slog.Any("panic", r),
				slog.String("stack", string(buf[:n])))
			err = fmt.Errorf("%w: %s: %v", ErrStagePanic, stage.Name(), r)
		}
	}()
	return stage.Execute(ctx, state)
}
