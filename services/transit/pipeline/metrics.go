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
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("transitgraph.pipeline")
	meter  = otel.Meter("transitgraph.pipeline")
)

var (
	metricsOnce   sync.Once
	stageLatency  metric.Float64Histogram
	stageFailures metric.Int64Counter
	runLatency    metric.Float64Histogram
	runTotal      metric.Int64Counter
)

// initMetrics lazily initializes metrics.
// Logs errors if metric creation fails but runs continue without them.
func initMetrics(logger *slog.Logger) {
	metricsOnce.Do(func() {
		var initErrors []string
		var err error

		stageLatency, err = meter.Float64Histogram("pipeline_stage_duration_seconds",
			metric.WithDescription("Time spent in each pipeline stage"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_latency: "+err.Error())
		}

		stageFailures, err = meter.Int64Counter("pipeline_stage_failure_total",
			metric.WithDescription("Number of failed stage executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_failures: "+err.Error())
		}

		runLatency, err = meter.Float64Histogram("pipeline_run_duration_seconds",
			metric.WithDescription("Total pipeline run time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "run_latency: "+err.Error())
		}

		runTotal, err = meter.Int64Counter("pipeline_run_total",
			metric.WithDescription("Pipeline runs by status"),
		)
		if err != nil {
			initErrors = append(initErrors, "run_total: "+err.Error())
		}

		if len(initErrors) > 0 {
			logger.Error("failed to initialize some pipeline metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

func recordStage(ctx context.Context, stage string, d time.Duration, success bool) {
	attrs := metric.WithAttributes(attribute.String("stage", stage))
	if stageLatency != nil {
		stageLatency.Record(ctx, d.Seconds(), attrs)
	}
	if !success && stageFailures != nil {
		stageFailures.Add(ctx, 1, attrs)
	}
}

func recordRun(ctx context.Context, report RunReport) {
	attrs := metric.WithAttributes(attribute.String("status", string(report.Status)))
	if runLatency != nil {
		runLatency.Record(ctx, float64(report.DurationMs)/1000, attrs)
	}
	if runTotal != nil {
		runTotal.Add(ctx, 1, attrs)
	}
}
