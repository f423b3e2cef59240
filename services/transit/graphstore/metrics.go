// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graphstore

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
)

var (
	tracer = otel.Tracer("transitgraph.graphstore")
	meter  = otel.Meter("transitgraph.graphstore")
)

var (
	buildLatency metric.Float64Histogram
	buildTotal   metric.Int64Counter
	graphNodes   metric.Int64Histogram
	graphEdges   metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics registers instruments lazily so the global MeterProvider
// configured by telemetry.Init is picked up.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		if buildLatency, err = meter.Float64Histogram("graph_build_duration_seconds",
			metric.WithDescription("Duration of graph build and publish"),
			metric.WithUnit("s")); err != nil {
			metricsErr = err
			return
		}
		if buildTotal, err = meter.Int64Counter("graph_build_total",
			metric.WithDescription("Graph builds by outcome")); err != nil {
			metricsErr = err
			return
		}
		if graphNodes, err = meter.Int64Histogram("graph_nodes_published",
			metric.WithDescription("Node count of published versions")); err != nil {
			metricsErr = err
			return
		}
		graphEdges, metricsErr = meter.Int64Histogram("graph_edges_published",
			metric.WithDescription("Edge count of published versions"))
	})
	return metricsErr
}

func recordBuildMetrics(ctx context.Context, d time.Duration, nodes, edges int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	buildLatency.Record(ctx, d.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)
	if success {
		graphNodes.Record(ctx, int64(nodes))
		graphEdges.Record(ctx, int64(edges))
	}
}

func startBuildSpan(ctx context.Context, stops, virtualStops, edges int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "graphstore.Builder.Build",
		trace.WithAttributes(
			attribute.Int("graph.input_stops", stops),
			attribute.Int("graph.input_virtual_stops", virtualStops),
			attribute.Int("graph.input_edges", edges),
		),
	)
}

func setBuildSpanResult(span trace.Span, g *datatypes.GraphVersion) {
	span.SetAttributes(
		attribute.Int64("graph.version", int64(g.ID())),
		attribute.Int("graph.node_count", g.Meta.NodeCount),
		attribute.Int("graph.edge_count", g.Meta.EdgeCount),
	)
}
