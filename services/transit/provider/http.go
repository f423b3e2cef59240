// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
	"github.com/AleutianAI/TransitGraph/services/transit/faults"
)

// maxBodyBytes caps how much of an upstream response is read.
const maxBodyBytes = 32 << 20

// HTTPDoer is the subset of *http.Client used by HTTPClient.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	// BaseURL of the upstream API, e.g. https://transit.example.com/api/v1.
	BaseURL string

	// Timeout bounds each Fetch, including rate-limit wait.
	Timeout time.Duration

	// RefreshInterval is how often upstream data is expected to change.
	RefreshInterval time.Duration

	// RatePerSecond and Burst configure the client-side rate limiter.
	// RatePerSecond <= 0 disables limiting.
	RatePerSecond float64
	Burst         int

	Breaker BreakerConfig
}

// DefaultHTTPConfig returns a 10s timeout, 6h refresh, 5 req/s.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:         10 * time.Second,
		RefreshInterval: 6 * time.Hour,
		RatePerSecond:   5,
		Burst:           5,
		Breaker:         DefaultBreakerConfig(),
	}
}

// HTTPClient fetches JSON payloads from the upstream HTTP API.
//
// # Description
//
// GET {BaseURL}/{kind}?region=..&cities=a,b with a bearer token. The token
// lives in a memguard Enclave and is only decrypted for the duration of
// header construction. Each call is rate limited, bounded by Timeout and
// routed through a circuit breaker.
//
// # Thread Safety
//
// Safe for concurrent use.
type HTTPClient struct {
	config  HTTPConfig
	doer    HTTPDoer
	key     *memguard.Enclave
	limiter *rate.Limiter
	breaker *Breaker
	logger  *slog.Logger
	now     func() time.Time
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithDoer replaces the HTTP transport. Used in tests.
func WithDoer(d HTTPDoer) HTTPOption {
	return func(c *HTTPClient) { c.doer = d }
}

// WithAPIKey seals the API key in a memguard enclave. The input slice is wiped.
func WithAPIKey(key []byte) HTTPOption {
	return func(c *HTTPClient) {
		if len(key) > 0 {
			c.key = memguard.NewEnclave(key)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(c *HTTPClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides time.Now for freshness scoring.
func WithClock(now func() time.Time) HTTPOption {
	return func(c *HTTPClient) { c.now = now }
}

// NewHTTPClient creates an HTTPClient.
func NewHTTPClient(config HTTPConfig, opts ...HTTPOption) (*HTTPClient, error) {
	if config.BaseURL == "" {
		return nil, errors.New("provider base URL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid provider base URL: %w", err)
	}
	def := DefaultHTTPConfig()
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = def.RefreshInterval
	}

	limit := rate.Inf
	if config.RatePerSecond > 0 {
		limit = rate.Limit(config.RatePerSecond)
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &HTTPClient{
		config:  config,
		doer:    &http.Client{},
		limiter: rate.NewLimiter(limit, burst),
		breaker: NewBreaker(config.Breaker),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BreakerState exposes the circuit breaker state for diagnostics.
func (c *HTTPClient) BreakerState() BreakerState {
	return c.breaker.State()
}

// Fetch performs one bounded upstream call and scores the result.
//
// # Outputs
//
//   - *Payload: Decoded data with FetchedAt set.
//   - datatypes.QualityScore: 0-100.
//   - error: RECOVERABLE UPSTREAM fault on timeout, transport error,
//     open breaker, non-2xx status or undecodable body.
func (c *HTTPClient) Fetch(ctx context.Context, req Request) (*Payload, datatypes.QualityScore, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, c.upstreamErr(ctx, req, err)
	}

	var payload *Payload
	err := c.breaker.Execute(func() error {
		p, err := c.do(ctx, req)
		payload = p
		return err
	})
	if err != nil {
		return nil, 0, c.upstreamErr(ctx, req, err)
	}

	payload.FetchedAt = c.now()
	score := Score(payload, payload.FetchedAt, c.config.RefreshInterval)
	c.logger.Debug("upstream fetch complete",
		slog.String("request", req.Key()),
		slog.Int("stops", len(payload.Stops)),
		slog.Int("edges", len(payload.Edges)),
		slog.Float64("quality", float64(score)))
	return payload, score, nil
}

func (c *HTTPClient) do(ctx context.Context, req Request) (*Payload, error) {
	u, err := url.Parse(strings.TrimRight(c.config.BaseURL, "/") + "/" + string(req.Kind))
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if req.Region != "" {
		q.Set("region", req.Region)
	}
	if len(req.Cities) > 0 {
		q.Set("cities", strings.Join(req.Cities, ","))
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if err := c.authorize(httpReq); err != nil {
		return nil, err
	}

	resp, err := c.doer.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	var p Payload
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode upstream response: %w", err)
	}
	return &p, nil
}

func (c *HTTPClient) authorize(req *http.Request) error {
	if c.key == nil {
		return nil
	}
	buf, err := c.key.Open()
	if err != nil {
		return fmt.Errorf("open API key enclave: %w", err)
	}
	defer buf.Destroy()
	req.Header.Set("Authorization", "Bearer "+buf.String())
	return nil
}

func (c *HTTPClient) upstreamErr(ctx context.Context, req Request, err error) error {
	reason := "transport"
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		reason = "timeout"
	case errors.Is(err, ErrBreakerOpen):
		reason = "breaker_open"
	}
	c.logger.Warn("upstream fetch failed",
		slog.String("request", req.Key()),
		slog.String("reason", reason),
		slog.String("error", err.Error()))
	return faults.Upstream(err, "request", string(req.Kind), "reason", reason)
}

var _ Client = (*HTTPClient)(nil)
