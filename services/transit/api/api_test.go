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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/TransitGraph/pkg/logging"
	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
	"github.com/AleutianAI/TransitGraph/services/transit/faults"
	"github.com/AleutianAI/TransitGraph/services/transit/graphstore"
	"github.com/AleutianAI/TransitGraph/services/transit/pipeline"
	"github.com/AleutianAI/TransitGraph/services/transit/search"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Test Doubles
// =============================================================================

type fakeSearcher struct {
	resp *search.Response
	err  error

	mu    sync.Mutex
	query search.Query
}

func (f *fakeSearcher) Search(ctx context.Context, q search.Query) (*search.Response, error) {
	f.mu.Lock()
	f.query = q
	f.mu.Unlock()
	return f.resp, f.err
}

type fakePipeline struct {
	runID    string
	startErr error
	cancelOK bool
	status   pipeline.Metadata
	events   chan pipeline.Event

	mu           sync.Mutex
	unsubscribed bool
}

func (f *fakePipeline) Start(ctx context.Context) (string, error) { return f.runID, f.startErr }
func (f *fakePipeline) Cancel() bool                              { return f.cancelOK }
func (f *fakePipeline) Status() pipeline.Metadata                 { return f.status }
func (f *fakePipeline) Subscribe() (<-chan pipeline.Event, func()) {
	return f.events, func() {
		f.mu.Lock()
		f.unsubscribed = true
		f.mu.Unlock()
	}
}

type fakeGraph struct {
	current uint64
	metas   map[uint64]datatypes.VersionMeta
	err     error
}

func (f *fakeGraph) CurrentVersion() uint64 { return f.current }
func (f *fakeGraph) Metadata(ctx context.Context, v uint64) (datatypes.VersionMeta, error) {
	if f.err != nil {
		return datatypes.VersionMeta{}, f.err
	}
	m, ok := f.metas[v]
	if !ok {
		return datatypes.VersionMeta{}, fmt.Errorf("%w: %d", graphstore.ErrVersionNotFound, v)
	}
	return m, nil
}
func (f *fakeGraph) Versions(ctx context.Context) ([]datatypes.VersionMeta, error) {
	var out []datatypes.VersionMeta
	for _, m := range f.metas {
		out = append(out, m)
	}
	return out, f.err
}

type fakeModes map[datatypes.DataSourceMode]int64

func (f fakeModes) ModeDistribution() map[datatypes.DataSourceMode]int64 { return f }

type fakeRiskCache struct{}

func (fakeRiskCache) CacheStats() (int64, int64) { return 3, 1 }

type harness struct {
	searcher *fakeSearcher
	pipe     *fakePipeline
	graph    *fakeGraph
	router   *gin.Engine
}

func newHarness() *harness {
	h := &harness{
		searcher: &fakeSearcher{resp: &search.Response{}},
		pipe:     &fakePipeline{runID: "run-1", events: make(chan pipeline.Event, 4)},
		graph: &fakeGraph{current: 2, metas: map[uint64]datatypes.VersionMeta{
			1: {Version: 1, NodeCount: 3, EdgeCount: 4},
			2: {Version: 2, NodeCount: 5, EdgeCount: 8, Mode: datatypes.ModeReal, Quality: 96},
		}},
	}
	srv := NewServer(Deps{
		Searcher:  h.searcher,
		Pipeline:  h.pipe,
		Graph:     h.graph,
		Modes:     fakeModes{datatypes.ModeReal: 4, datatypes.ModeMock: 1},
		RiskCache: fakeRiskCache{},
		Metrics:   http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
	}, WithLogger(logging.Nop()), WithRetryAfter(7*time.Second))
	h.router = srv.Router()
	return h
}

func (h *harness) do(method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	h.router.ServeHTTP(w, req)
	return w
}

func decodeSearch(t *testing.T, w *httptest.ResponseRecorder) SearchResponse {
	t.Helper()
	var out SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// =============================================================================
// Search
// =============================================================================

func TestSearch_Success(t *testing.T) {
	h := newHarness()
	h.searcher.resp = &search.Response{
		Routes: []datatypes.RouteResult{{
			TotalDurationMin: 180,
			TotalPrice:       4000,
			Passengers:       2,
			Label:            search.LabelPrimary,
		}},
		GraphVersion: 2,
		DataMode:     datatypes.ModeReal,
		DataQuality:  96,
	}

	w := h.do(http.MethodGet, "/v1/routes/search?from=X&to=Y&date=2026-03-01&passengers=2")
	require.Equal(t, http.StatusOK, w.Code)

	out := decodeSearch(t, w)
	assert.True(t, out.Success)
	require.Len(t, out.Routes, 1)
	assert.Equal(t, 180, out.Routes[0].TotalDurationMin)
	assert.NotNil(t, out.Alternatives)
	assert.Equal(t, datatypes.ModeReal, out.DataMode)
	assert.Equal(t, uint64(2), out.GraphVersion)

	assert.Equal(t, search.Query{From: "X", To: "Y", Date: "2026-03-01", Passengers: 2}, h.searcher.query)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestSearch_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		resp       *search.Response
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "routes not found is an empty result",
			resp:       &search.Response{Code: faults.KindRoutesNotFound, DataMode: datatypes.ModeMock},
			wantStatus: http.StatusOK,
			wantCode:   "ROUTES_NOT_FOUND",
		},
		{
			name:       "unknown city",
			err:        faults.StopsNotFound("Atlantis"),
			wantStatus: http.StatusNotFound,
			wantCode:   "STOPS_NOT_FOUND",
		},
		{
			name:       "graph out of sync",
			err:        faults.GraphOutOfSync("no graph"),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "GRAPH_OUT_OF_SYNC",
		},
		{
			name:       "critical provider failure",
			err:        faults.MockFailed(errors.New("generator exploded")),
			wantStatus: http.StatusBadGateway,
			wantCode:   "MOCK_PROVIDER",
		},
		{
			name:       "invalid query from engine",
			err:        fmt.Errorf("%w: same city", search.ErrInvalidQuery),
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidQuery,
		},
		{
			name:       "untagged error",
			err:        errors.New("index corrupted at 0xdeadbeef"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   CodeInternal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.searcher.resp = tt.resp
			h.searcher.err = tt.err

			w := h.do(http.MethodGet, "/v1/routes/search?from=X&to=Y")
			assert.Equal(t, tt.wantStatus, w.Code)

			out := decodeSearch(t, w)
			assert.False(t, out.Success)
			assert.Equal(t, tt.wantCode, out.Code)
			assert.NotNil(t, out.Routes)
			assert.Empty(t, out.Routes)
			assert.NotEmpty(t, out.Error)
			assert.NotContains(t, out.Error, "0xdeadbeef")
			assert.NotContains(t, out.Error, "exploded")
		})
	}

	t.Run("retry after header", func(t *testing.T) {
		h := newHarness()
		h.searcher.err = faults.GraphOutOfSync("no graph")
		w := h.do(http.MethodGet, "/v1/routes/search?from=X&to=Y")
		assert.Equal(t, "7", w.Header().Get("Retry-After"))
	})
}

func TestSearch_BadParameters(t *testing.T) {
	for _, target := range []string{
		"/v1/routes/search?to=Y",
		"/v1/routes/search?from=X",
		"/v1/routes/search?from=X&to=Y&date=03/01/2026",
		"/v1/routes/search?from=X&to=Y&passengers=0",
		"/v1/routes/search?from=X&to=Y&passengers=ten",
	} {
		t.Run(target, func(t *testing.T) {
			w := newHarness().do(http.MethodGet, target)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, CodeInvalidQuery, decodeSearch(t, w).Code)
		})
	}
}

func TestSearch_DefaultsDateToToday(t *testing.T) {
	h := newHarness()
	h.do(http.MethodGet, "/v1/routes/search?from=X&to=Y")
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), h.searcher.query.Date)
	assert.Equal(t, 1, h.searcher.query.Passengers)
}

// =============================================================================
// Pipeline
// =============================================================================

func TestPipelineRuns(t *testing.T) {
	tests := []struct {
		name       string
		startErr   error
		wantStatus int
		wantCode   string
	}{
		{"accepted", nil, http.StatusAccepted, ""},
		{"already running", pipeline.ErrAlreadyRunning, http.StatusConflict, CodeAlreadyRunning},
		{"cannot run", fmt.Errorf("%w: fetch_stops", pipeline.ErrCannotRun), http.StatusPreconditionFailed, CodeCannotRun},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.pipe.startErr = tt.startErr
			w := h.do(http.MethodPost, "/v1/pipeline/runs")
			assert.Equal(t, tt.wantStatus, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			if tt.wantCode == "" {
				assert.Equal(t, "run-1", body["runId"])
			} else {
				assert.Equal(t, tt.wantCode, body["code"])
			}
		})
	}
}

func TestPipelineCancelAndStatus(t *testing.T) {
	h := newHarness()
	assert.Equal(t, http.StatusConflict, h.do(http.MethodDelete, "/v1/pipeline/runs/current").Code)

	h.pipe.cancelOK = true
	assert.Equal(t, http.StatusAccepted, h.do(http.MethodDelete, "/v1/pipeline/runs/current").Code)

	h.pipe.status = pipeline.Metadata{State: pipeline.StateSuccess, RunCount: 4}
	w := h.do(http.MethodGet, "/v1/pipeline/status")
	require.Equal(t, http.StatusOK, w.Code)
	var meta pipeline.Metadata
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &meta))
	assert.Equal(t, int64(4), meta.RunCount)
	assert.Equal(t, pipeline.StateSuccess, meta.State)
}

func TestPipelineEvents_WebSocket(t *testing.T) {
	h := newHarness()
	ts := httptest.NewServer(h.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/pipeline/events"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))

	var hello map[string]any
	require.NoError(t, ws.ReadJSON(&hello))
	assert.Equal(t, "hello", hello["type"])

	h.pipe.events <- pipeline.Event{Type: pipeline.EventRunStarted, RunID: "run-9", At: time.Now()}

	var ev pipeline.Event
	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, pipeline.EventRunStarted, ev.Type)
	assert.Equal(t, "run-9", ev.RunID)

	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool {
		h.pipe.mu.Lock()
		defer h.pipe.mu.Unlock()
		return h.pipe.unsubscribed
	}, 2*time.Second, 10*time.Millisecond)
}

// =============================================================================
// Graph, Health, Diagnostics
// =============================================================================

func TestGraphEndpoints(t *testing.T) {
	h := newHarness()

	w := h.do(http.MethodGet, "/v1/graph/current")
	require.Equal(t, http.StatusOK, w.Code)
	var cur map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cur))
	assert.Equal(t, float64(2), cur["version"])
	assert.Equal(t, true, cur["current"])
	assert.Equal(t, float64(8), cur["edgeCount"])

	w = h.do(http.MethodGet, "/v1/graph/versions/1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"current":false`)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/graph/versions/42").Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/v1/graph/versions/abc").Code)

	w = h.do(http.MethodGet, "/v1/graph/versions")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"current":2`)

	h.graph.current = 0
	w = h.do(http.MethodGet, "/v1/graph/current")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "7", w.Header().Get("Retry-After"))
}

func TestHealthAndDiagnostics(t *testing.T) {
	h := newHarness()

	w := h.do(http.MethodGet, "/v1/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = h.do(http.MethodGet, "/v1/diagnostics")
	require.Equal(t, http.StatusOK, w.Code)
	var diag map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &diag))

	modes := diag["modeDistribution"].(map[string]any)
	assert.Equal(t, float64(4), modes["REAL"])
	assert.Equal(t, float64(0), modes["RECOVERY"])
	assert.Equal(t, float64(1), modes["MOCK"])
	assert.Contains(t, diag, "pipeline")
	assert.Contains(t, diag, "graph")
	assert.Equal(t, float64(3), diag["riskCache"].(map[string]any)["hits"])
}

func TestMetricsAndRequestID(t *testing.T) {
	h := newHarness()
	w := h.do(http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "# metrics", w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}
