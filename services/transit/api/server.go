// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves route search, pipeline control and graph metadata
// over HTTP.
//
// # Routes
//
//	GET    /v1/routes/search          route search
//	POST   /v1/pipeline/runs          start a rebuild (202, 409, 412)
//	DELETE /v1/pipeline/runs/current  cancel the active rebuild
//	GET    /v1/pipeline/status        orchestrator metadata
//	GET    /v1/pipeline/events        websocket stream of pipeline events
//	GET    /v1/graph/current          current version metadata
//	GET    /v1/graph/versions         retained versions
//	GET    /v1/graph/versions/:version
//	GET    /v1/health
//	GET    /v1/diagnostics
//	GET    /metrics                   Prometheus
//
// # Error Mapping
//
// Only the search boundary kinds reach clients: STOPS_NOT_FOUND is 404,
// ROUTES_NOT_FOUND is 200 with empty routes, GRAPH_OUT_OF_SYNC is 503 with
// Retry-After and CRITICAL provider failures are 502. Messages come from
// faults.UserMessage and never carry internal detail.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
	"github.com/AleutianAI/TransitGraph/services/transit/pipeline"
	"github.com/AleutianAI/TransitGraph/services/transit/search"
)

// DefaultRetryAfter is sent with 503 GRAPH_OUT_OF_SYNC responses.
const DefaultRetryAfter = 5 * time.Second

// Searcher runs route searches. *search.Engine implements it.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (*search.Response, error)
}

// Pipeline controls graph rebuilds. *pipeline.Orchestrator implements it.
type Pipeline interface {
	Start(ctx context.Context) (string, error)
	Cancel() bool
	Status() pipeline.Metadata
	Subscribe() (<-chan pipeline.Event, func())
}

// Graph exposes graph version metadata. *graphstore.VersionStore
// implements it.
type Graph interface {
	CurrentVersion() uint64
	Metadata(ctx context.Context, version uint64) (datatypes.VersionMeta, error)
	Versions(ctx context.Context) ([]datatypes.VersionMeta, error)
}

// ModeReporter reports how many loads ended in each data source mode.
// *source.Selector implements it.
type ModeReporter interface {
	ModeDistribution() map[datatypes.DataSourceMode]int64
}

// CacheReporter reports risk cache effectiveness. *risk.Assessor
// implements it.
type CacheReporter interface {
	CacheStats() (hits, misses int64)
}

// Deps are the components the server fronts. Searcher, Pipeline and Graph
// are required.
type Deps struct {
	Searcher  Searcher
	Pipeline  Pipeline
	Graph     Graph
	Modes     ModeReporter
	RiskCache CacheReporter

	// Metrics serves /metrics when non-nil.
	Metrics http.Handler
}

// Server is the HTTP API.
type Server struct {
	deps       Deps
	logger     *slog.Logger
	retryAfter time.Duration
	started    time.Time
	service    string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRetryAfter sets the Retry-After hint for GRAPH_OUT_OF_SYNC.
func WithRetryAfter(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.retryAfter = d
		}
	}
}

// WithServiceName sets the otelgin service name.
func WithServiceName(name string) Option {
	return func(s *Server) { s.service = name }
}

// NewServer creates a Server.
func NewServer(deps Deps, opts ...Option) *Server {
	s := &Server{
		deps:       deps,
		logger:     slog.Default(),
		retryAfter: DefaultRetryAfter,
		started:    time.Now(),
		service:    "transitgraph",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(s.service))
	router.Use(RequestID())
	router.Use(AccessLog(s.logger))

	if s.deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}

	v1 := router.Group("/v1")
	{
		v1.GET("/health", s.handleHealth)
		v1.GET("/diagnostics", s.handleDiagnostics)
		v1.GET("/routes/search", s.handleSearch)

		p := v1.Group("/pipeline")
		{
			p.POST("/runs", s.handleStartRun)
			p.DELETE("/runs/current", s.handleCancelRun)
			p.GET("/status", s.handlePipelineStatus)
			p.GET("/events", s.handleEvents)
		}

		g := v1.Group("/graph")
		{
			g.GET("/current", s.handleCurrentGraph)
			g.GET("/versions", s.handleListVersions)
			g.GET("/versions/:version", s.handleGetVersion)
		}
	}
	return router
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
