// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/TransitGraph/services/transit/risk"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestLoad_YAMLOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transitgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
source:
  real_threshold: 85
  recovery_threshold: 40
pipeline:
  interval: 30m
search:
  max_transfers: 1
risk:
  model:
    weights:
      transfers: 0.5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 85.0, cfg.Source.RealThreshold)
	assert.Equal(t, 40.0, cfg.Source.RecoveryThreshold)
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.Interval)
	assert.Equal(t, 1, cfg.Search.MaxTransfers)
	assert.Equal(t, 0.5, cfg.Risk.Model.Weights.Transfers)
	assert.Equal(t, 0.20, cfg.Risk.Model.Weights.DelayAvg, "unset keys keep defaults")
	assert.Equal(t, 3, cfg.Storage.Retain)
	assert.Equal(t, 10*time.Second, cfg.Storage.SyncInterval)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"real not above recovery", func(c *Config) { c.Source.RealThreshold = 50; c.Source.RecoveryThreshold = 50 }},
		{"threshold out of range", func(c *Config) { c.Source.RealThreshold = 120 }},
		{"bad provider url", func(c *Config) { c.Provider.BaseURL = "not a url" }},
		{"retain zero", func(c *Config) { c.Storage.Retain = 0 }},
		{"no storage path", func(c *Config) { c.Storage.Path = "" }},
		{"too many alternatives", func(c *Config) { c.Search.MaxAlternatives = 3 }},
		{"influx without bucket", func(c *Config) { c.Risk.InfluxURL = "http://localhost:8086"; c.Risk.Org = "o" }},
		{"zero weights", func(c *Config) { c.Risk.Model.Weights = risk.Weights{} }},
		{"watch without fixture", func(c *Config) { c.Pipeline.WatchFixture = true }},
		{"one mock city", func(c *Config) { c.Source.MockCities = []string{"Nome"} }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, Validate(cfg), ErrInvalidConfig)
		})
	}

	t.Run("in memory needs no path", func(t *testing.T) {
		cfg := Default()
		cfg.Storage.Path = ""
		cfg.Storage.InMemory = true
		assert.NoError(t, Validate(cfg))
	})
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"TRANSITGRAPH_ADDR":              ":7000",
		"TRANSITGRAPH_IN_MEMORY":         "true",
		"TRANSITGRAPH_REAL_THRESHOLD":    "95",
		"TRANSITGRAPH_PIPELINE_INTERVAL": "1h",
		"TRANSITGRAPH_MAX_TRANSFERS":     "2",
		"TRANSITGRAPH_API_KEY":           "secret",
		"TRANSITGRAPH_LOG_LEVEL":         " ",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, ApplyEnv(&cfg, lookup))
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, 95.0, cfg.Source.RealThreshold)
	assert.Equal(t, time.Hour, cfg.Pipeline.Interval)
	assert.Equal(t, 2, cfg.Search.MaxTransfers)
	assert.Equal(t, "secret", cfg.Provider.APIKey)
	assert.Equal(t, "info", cfg.Logging.Level, "blank values are ignored")

	t.Run("malformed values are reported together", func(t *testing.T) {
		env := map[string]string{
			"TRANSITGRAPH_IN_MEMORY":      "maybe",
			"TRANSITGRAPH_REAL_THRESHOLD": "high",
		}
		cfg := Default()
		err := ApplyEnv(&cfg, func(k string) (string, bool) { v, ok := env[k]; return v, ok })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "TRANSITGRAPH_IN_MEMORY")
		assert.Contains(t, err.Error(), "TRANSITGRAPH_REAL_THRESHOLD")
	})
}
