// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics exposes Prometheus collectors for the data loader, the
// build pipeline and route search.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/TransitGraph/services/transit/pipeline"
	"github.com/AleutianAI/TransitGraph/services/transit/search"
	"github.com/AleutianAI/TransitGraph/services/transit/source"
)

const namespace = "transitgraph"

// =============================================================================
// Prometheus Metrics
// =============================================================================

// Collectors holds every transit collector registered on one registry.
//
// Collectors implements source.Recorder, pipeline.Recorder and
// search.Recorder, so one value can be handed to all three.
type Collectors struct {
	// loads counts loads by request kind and final mode.
	// Labels: kind (stops, routes), mode (REAL, RECOVERY, MOCK, UNKNOWN)
	loads *prometheus.CounterVec

	// loadQuality is the quality score of each load.
	// Labels: mode
	loadQuality *prometheus.HistogramVec

	// loadLatency measures load latency, cache hits included.
	// Labels: kind
	loadLatency *prometheus.HistogramVec

	// cacheHits counts loads served at least partly from the payload cache.
	cacheHits prometheus.Counter

	// upstreamErrors counts provider failures by fault kind.
	// Labels: kind
	upstreamErrors *prometheus.CounterVec

	// runs counts pipeline runs by final status.
	// Labels: status (success, failed, cancelled)
	runs *prometheus.CounterVec

	// runDuration measures end-to-end pipeline runs.
	runDuration prometheus.Histogram

	// stageDuration measures each pipeline stage.
	// Labels: stage, success
	stageDuration *prometheus.HistogramVec

	// graphVersion is the last published graph version.
	graphVersion prometheus.Gauge

	// graphSize is the node and edge count of the last published version.
	// Labels: part (nodes, edges)
	graphSize *prometheus.GaugeVec

	// searches counts route searches by outcome.
	// Labels: outcome (ok, ROUTES_NOT_FOUND, STOPS_NOT_FOUND, ...)
	searches *prometheus.CounterVec

	// searchLatency measures route searches.
	searchLatency prometheus.Histogram
}

// New registers all collectors on reg. A nil reg uses the default
// registerer. New panics if the collectors are already registered on reg.
func New(reg prometheus.Registerer) *Collectors {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Collectors{
		loads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "loads_total",
			Help:      "Data loads by request kind and selected source mode",
		}, []string{"kind", "mode"}),
		loadQuality: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "quality_score",
			Help:      "Quality score of loaded data",
			Buckets:   []float64{10, 25, 50, 70, 80, 90, 95, 100},
		}, []string{"mode"}),
		loadLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "load_duration_seconds",
			Help:      "Data load latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "cache_hits_total",
			Help:      "Loads that used the payload cache",
		}),
		upstreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "upstream_errors_total",
			Help:      "Upstream provider failures by fault kind",
		}, []string{"kind"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by final status",
		}, []string{"status"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Pipeline run duration in seconds",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"stage", "success"}),
		graphVersion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "version",
			Help:      "Last published graph version",
		}),
		graphSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "size",
			Help:      "Node and edge count of the last published graph version",
		}, []string{"part"}),
		searches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Route searches by outcome",
		}, []string{"outcome"}),
		searchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Route search latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// =============================================================================
// Metrics Recording Functions
// =============================================================================

// Record implements source.Recorder.
func (c *Collectors) Record(e source.Event) {
	kind := e.RequestKind
	if kind == "" {
		kind = "unknown"
	}
	c.loads.WithLabelValues(kind, string(e.Mode)).Inc()
	c.loadQuality.WithLabelValues(string(e.Mode)).Observe(float64(e.Quality))
	c.loadLatency.WithLabelValues(kind).Observe(e.Latency.Seconds())
	if e.CacheHit {
		c.cacheHits.Inc()
	}
	if e.ErrorKind != "" {
		c.upstreamErrors.WithLabelValues(string(e.ErrorKind)).Inc()
	}
}

// ObserveRun implements pipeline.Recorder.
func (c *Collectors) ObserveRun(r pipeline.RunReport) {
	c.runs.WithLabelValues(string(r.Status)).Inc()
	c.runDuration.Observe(msToSeconds(r.DurationMs))
	for _, s := range r.Stages {
		success := "false"
		if s.Success {
			success = "true"
		}
		c.stageDuration.WithLabelValues(s.Name, success).Observe(msToSeconds(s.DurationMs))
	}
	if r.Version != nil {
		c.graphVersion.Set(float64(r.Version.Version))
		c.graphSize.WithLabelValues("nodes").Set(float64(r.Version.NodeCount))
		c.graphSize.WithLabelValues("edges").Set(float64(r.Version.EdgeCount))
	}
}

// ObserveSearch implements search.Recorder.
func (c *Collectors) ObserveSearch(outcome string, d time.Duration) {
	c.searches.WithLabelValues(outcome).Inc()
	c.searchLatency.Observe(d.Seconds())
}

func msToSeconds(ms int64) float64 {
	return float64(ms) / 1000
}

var (
	_ source.Recorder   = (*Collectors)(nil)
	_ pipeline.Recorder = (*Collectors)(nil)
	_ search.Recorder   = (*Collectors)(nil)
)
