// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-openapi/strfmt"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
	"github.com/AleutianAI/TransitGraph/services/transit/faults"
	"github.com/AleutianAI/TransitGraph/services/transit/graphstore"
	"github.com/AleutianAI/TransitGraph/services/transit/pipeline"
	"github.com/AleutianAI/TransitGraph/services/transit/search"
)

// Codes returned in the "code" field besides the faults kinds.
const (
	CodeInvalidQuery   = "INVALID_QUERY"
	CodeAlreadyRunning = "ALREADY_RUNNING"
	CodeCannotRun      = "CANNOT_RUN"
	CodeNotRunning     = "NOT_RUNNING"
	CodeNotFound       = "NOT_FOUND"
	CodeInternal       = "INTERNAL"
)

// SearchResponse is the body of GET /v1/routes/search.
type SearchResponse struct {
	Success      bool                     `json:"success"`
	Routes       []datatypes.RouteResult  `json:"routes"`
	Alternatives []datatypes.RouteResult  `json:"alternatives"`
	Error        string                   `json:"error,omitempty"`
	Code         string                   `json:"code,omitempty"`
	DataMode     datatypes.DataSourceMode `json:"dataMode,omitempty"`
	DataQuality  datatypes.QualityScore   `json:"dataQuality"`
	GraphVersion uint64                   `json:"graphVersion,omitempty"`
}

// ErrorResponse is the body of every non-search error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// =============================================================================
// Search
// =============================================================================

func (s *Server) handleSearch(c *gin.Context) {
	q := search.Query{From: c.Query("from"), To: c.Query("to"), Passengers: 1}
	if q.From == "" || q.To == "" {
		s.searchError(c, http.StatusBadRequest, CodeInvalidQuery, "Both a departure and a destination city are required.")
		return
	}

	date := strfmt.Date(time.Now().UTC())
	if raw := c.Query("date"); raw != "" {
		if err := date.UnmarshalText([]byte(raw)); err != nil {
			s.searchError(c, http.StatusBadRequest, CodeInvalidQuery, "The date must be in YYYY-MM-DD format.")
			return
		}
	}
	q.Date = date.String()

	if raw := c.Query("passengers"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > search.MaxPassengers {
			s.searchError(c, http.StatusBadRequest, CodeInvalidQuery,
				"Passengers must be a whole number between 1 and "+strconv.Itoa(search.MaxPassengers)+".")
			return
		}
		q.Passengers = n
	}

	resp, err := s.deps.Searcher.Search(c.Request.Context(), q)
	if err != nil {
		s.searchFailure(c, err)
		return
	}

	out := SearchResponse{
		Success:      len(resp.Routes) > 0,
		Routes:       nonNil(resp.Routes),
		Alternatives: nonNil(resp.Alternatives),
		DataMode:     resp.DataMode,
		DataQuality:  resp.DataQuality,
		GraphVersion: resp.GraphVersion,
	}
	if resp.Code != "" {
		out.Code = string(resp.Code)
		out.Error = faults.UserMessage(faults.RoutesNotFound(q.From, q.To))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) searchFailure(c *gin.Context, err error) {
	if errors.Is(err, search.ErrInvalidQuery) {
		s.searchError(c, http.StatusBadRequest, CodeInvalidQuery, "The search request is not valid. Please check the cities and passenger count.")
		return
	}

	kind := faults.KindOf(err)
	switch {
	case kind == faults.KindStopsNotFound:
		s.searchError(c, http.StatusNotFound, string(kind), faults.UserMessage(err))
	case kind == faults.KindGraphOutOfSync:
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(s.retryAfter.Seconds()))))
		s.searchError(c, http.StatusServiceUnavailable, string(kind), faults.UserMessage(err))
	case faults.SeverityOf(err) == faults.SeverityCritical:
		s.logger.Error("critical search failure", slog.String("error", err.Error()), slog.String("request_id", GetRequestID(c)))
		s.searchError(c, http.StatusBadGateway, string(kind), faults.UserMessage(err))
	default:
		s.logger.Error("search failed", slog.String("error", err.Error()), slog.String("request_id", GetRequestID(c)))
		s.searchError(c, http.StatusInternalServerError, CodeInternal, faults.UserMessage(err))
	}
}

func (s *Server) searchError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, SearchResponse{
		Success:      false,
		Routes:       []datatypes.RouteResult{},
		Alternatives: []datatypes.RouteResult{},
		Error:        msg,
		Code:         code,
	})
}

func nonNil(r []datatypes.RouteResult) []datatypes.RouteResult {
	if r == nil {
		return []datatypes.RouteResult{}
	}
	return r
}

// =============================================================================
// Pipeline
// =============================================================================

func (s *Server) handleStartRun(c *gin.Context) {
	runID, err := s.deps.Pipeline.Start(c.Request.Context())
	switch {
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "A graph rebuild is already running.", Code: CodeAlreadyRunning})
	case errors.Is(err, pipeline.ErrCannotRun):
		c.JSON(http.StatusPreconditionFailed, ErrorResponse{Error: "The pipeline is not configured to run.", Code: CodeCannotRun})
	case err != nil:
		s.logger.Error("pipeline start failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "The rebuild could not be started.", Code: CodeInternal})
	default:
		c.JSON(http.StatusAccepted, gin.H{"runId": runID})
	}
}

func (s *Server) handleCancelRun(c *gin.Context) {
	if !s.deps.Pipeline.Cancel() {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "No graph rebuild is running.", Code: CodeNotRunning})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"cancelled": true})
}

func (s *Server) handlePipelineStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Pipeline.Status())
}

// =============================================================================
// Graph
// =============================================================================

func (s *Server) handleCurrentGraph(c *gin.Context) {
	v := s.deps.Graph.CurrentVersion()
	if v == 0 {
		err := faults.GraphOutOfSync("no graph version has been published")
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(s.retryAfter.Seconds()))))
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: faults.UserMessage(err), Code: string(faults.KindGraphOutOfSync)})
		return
	}
	s.writeMetadata(c, v)
}

func (s *Server) handleGetVersion(c *gin.Context) {
	v, err := strconv.ParseUint(c.Param("version"), 10, 64)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Version must be a positive integer.", Code: CodeInvalidQuery})
		return
	}
	s.writeMetadata(c, v)
}

func (s *Server) writeMetadata(c *gin.Context, v uint64) {
	meta, err := s.deps.Graph.Metadata(c.Request.Context(), v)
	switch {
	case errors.Is(err, graphstore.ErrVersionNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Graph version not found.", Code: CodeNotFound})
	case err != nil:
		s.logger.Error("graph metadata failed", slog.Uint64("version", v), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Graph metadata is unavailable.", Code: CodeInternal})
	default:
		c.JSON(http.StatusOK, gin.H{
			"version":   meta.Version,
			"current":   meta.Version == s.deps.Graph.CurrentVersion(),
			"nodeCount": meta.NodeCount,
			"edgeCount": meta.EdgeCount,
			"builtAt":   meta.BuiltAt,
			"mode":      meta.Mode,
			"quality":   meta.Quality,
		})
	}
}

func (s *Server) handleListVersions(c *gin.Context) {
	metas, err := s.deps.Graph.Versions(c.Request.Context())
	if err != nil {
		s.logger.Error("list versions failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Graph versions are unavailable.", Code: CodeInternal})
		return
	}
	if metas == nil {
		metas = []datatypes.VersionMeta{}
	}
	c.JSON(http.StatusOK, gin.H{"current": s.deps.Graph.CurrentVersion(), "versions": metas})
}

// =============================================================================
// Health & Diagnostics
// =============================================================================

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"graphVersion": s.deps.Graph.CurrentVersion(),
	})
}

func (s *Server) handleDiagnostics(c *gin.Context) {
	out := gin.H{
		"uptimeSeconds": int64(time.Since(s.started).Seconds()),
		"pipeline":      s.deps.Pipeline.Status(),
	}

	if v := s.deps.Graph.CurrentVersion(); v != 0 {
		if meta, err := s.deps.Graph.Metadata(c.Request.Context(), v); err == nil {
			out["graph"] = meta
		}
	}

	if s.deps.Modes != nil {
		dist := s.deps.Modes.ModeDistribution()
		modes := make(map[string]int64, len(datatypes.AllModes))
		for _, m := range datatypes.AllModes {
			modes[string(m)] = dist[m]
		}
		out["modeDistribution"] = modes
	}

	if s.deps.RiskCache != nil {
		hits, misses := s.deps.RiskCache.CacheStats()
		out["riskCache"] = gin.H{"hits": hits, "misses": misses}
	}

	c.JSON(http.StatusOK, out)
}
