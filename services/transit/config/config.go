// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the transitgraph configuration from YAML, applies
// TRANSITGRAPH_* environment overrides and validates the result.
package config

import (
	"time"

	"github.com/AleutianAI/TransitGraph/pkg/telemetry"
	"github.com/AleutianAI/TransitGraph/services/transit/risk"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Storage   StorageConfig    `yaml:"storage"`
	Provider  ProviderConfig   `yaml:"provider"`
	Source    SourceConfig     `yaml:"source"`
	Pipeline  PipelineConfig   `yaml:"pipeline"`
	Search    SearchConfig     `yaml:"search"`
	Risk      RiskConfig       `yaml:"risk"`
	Archive   ArchiveConfig    `yaml:"archive"`
	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// StorageConfig configures the badger database backing graph versions and
// the payload cache.
type StorageConfig struct {
	Path     string `yaml:"path" validate:"required_without=InMemory"`
	InMemory bool   `yaml:"in_memory"`

	// Retain is how many graph versions Prune keeps besides the current one.
	Retain int `yaml:"retain" validate:"gte=1"`

	// PointerTTL expires the current-version pointer. Zero never expires.
	PointerTTL time.Duration `yaml:"pointer_ttl" validate:"gte=0"`

	// SyncInterval is how often serve reconciles the in-memory graph with
	// the persisted pointer. Zero disables the loop.
	SyncInterval time.Duration `yaml:"sync_interval" validate:"gte=0"`

	// CacheTTL bounds how long a last-good payload is kept for recovery.
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"gte=0"`
}

// ProviderConfig selects and configures the upstream data provider.
//
// BaseURL selects the HTTP provider. FixturePath selects the file provider
// and takes precedence. With neither set every load ends in MOCK mode.
type ProviderConfig struct {
	BaseURL         string        `yaml:"base_url" validate:"omitempty,url"`
	FixturePath     string        `yaml:"fixture_path"`
	Region          string        `yaml:"region"`
	Timeout         time.Duration `yaml:"timeout" validate:"gt=0"`
	RefreshInterval time.Duration `yaml:"refresh_interval" validate:"gt=0"`
	RatePerSecond   float64       `yaml:"rate_per_second" validate:"gte=0"`
	Burst           int           `yaml:"burst" validate:"gte=0"`

	// APIKey is never read from YAML. Set TRANSITGRAPH_API_KEY.
	APIKey string `yaml:"-"`
}

// SourceConfig configures the adaptive data source selector.
type SourceConfig struct {
	RealThreshold     float64  `yaml:"real_threshold" validate:"gte=0,lte=100,gtfield=RecoveryThreshold"`
	RecoveryThreshold float64  `yaml:"recovery_threshold" validate:"gte=0,lte=100"`
	MockCities        []string `yaml:"mock_cities" validate:"min=2,dive,required"`
}

// PipelineConfig configures scheduled and file-triggered rebuilds.
type PipelineConfig struct {
	// Interval between scheduled runs. Zero disables the scheduler.
	Interval time.Duration `yaml:"interval" validate:"gte=0"`

	// WatchFixture rebuilds when Provider.FixturePath changes.
	WatchFixture bool `yaml:"watch_fixture"`

	EdgeBatchSize int `yaml:"edge_batch_size" validate:"gte=1"`
}

// SearchConfig bounds route searches.
type SearchConfig struct {
	MaxTransfers    int `yaml:"max_transfers" validate:"gte=0,lte=10"`
	MaxAlternatives int `yaml:"max_alternatives" validate:"gte=0,lte=2"`
}

// RiskConfig configures risk assessment. InfluxURL empty uses static
// default statistics.
type RiskConfig struct {
	Enabled   bool          `yaml:"enabled"`
	CacheSize int64         `yaml:"cache_size" validate:"gte=1"`
	InfluxURL string        `yaml:"influx_url" validate:"omitempty,url"`
	Org       string        `yaml:"org" validate:"required_with=InfluxURL"`
	Bucket    string        `yaml:"bucket" validate:"required_with=InfluxURL"`
	Window    time.Duration `yaml:"window" validate:"gte=0"`
	Model     risk.Config   `yaml:"model"`

	// InfluxToken is never read from YAML. Set TRANSITGRAPH_INFLUX_TOKEN.
	InfluxToken string `yaml:"-"`
}

// ArchiveConfig configures upload of pruned versions to Google Cloud
// Storage. Bucket empty disables archiving.
type ArchiveConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// Default returns a configuration that runs locally with no upstream:
// badger under ./data, synthetic data, risk from static defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Path:     "./data",
			Retain:       3,
			SyncInterval: 10 * time.Second,
			CacheTTL:     7 * 24 * time.Hour,
		},
		Provider: ProviderConfig{
			Region:          "default",
			Timeout:         10 * time.Second,
			RefreshInterval: 6 * time.Hour,
			RatePerSecond:   5,
			Burst:           5,
		},
		Source: SourceConfig{
			RealThreshold:     90,
			RecoveryThreshold: 50,
			MockCities:        []string{"Anchorage", "Fairbanks", "Juneau", "Ketchikan", "Kodiak", "Sitka"},
		},
		Pipeline: PipelineConfig{
			Interval:      6 * time.Hour,
			EdgeBatchSize: 25,
		},
		Search: SearchConfig{
			MaxTransfers:    3,
			MaxAlternatives: 2,
		},
		Risk: RiskConfig{
			Enabled:   true,
			CacheSize: 10_000,
			Window:    30 * 24 * time.Hour,
			Model:     risk.DefaultConfig(),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}
