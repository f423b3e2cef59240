// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/TransitGraph/services/transit/config"
	"github.com/AleutianAI/TransitGraph/services/transit/faults"
	"github.com/AleutianAI/TransitGraph/services/transit/graphstore"
	"github.com/AleutianAI/TransitGraph/services/transit/metrics"
	"github.com/AleutianAI/TransitGraph/services/transit/pipeline"
	"github.com/AleutianAI/TransitGraph/services/transit/provider"
	"github.com/AleutianAI/TransitGraph/services/transit/risk"
	"github.com/AleutianAI/TransitGraph/services/transit/search"
	"github.com/AleutianAI/TransitGraph/services/transit/source"
	kv "github.com/AleutianAI/TransitGraph/services/transit/storage/badger"
)

// app holds every wired component of one process.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	db           *kv.DB
	versions     *graphstore.VersionStore
	selector     *source.Selector
	orchestrator *pipeline.Orchestrator
	assessor     *risk.Assessor
	engine       *search.Engine
	metrics      *metrics.Collectors

	closers []func() error
}

// appOptions tweak wiring per command.
type appOptions struct {
	// registry receives the Prometheus collectors. Nil uses a private
	// registry so one-shot commands never touch the global one.
	registry prometheus.Registerer

	// skipRestore leaves the version cell empty.
	skipRestore bool
}

// newApp wires storage, provider, selector, pipeline, risk and search
// from cfg. The caller must Close the result.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, opts appOptions) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	reg := opts.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	a.metrics = metrics.New(reg)

	// Storage
	dbCfg := kv.DefaultConfig()
	dbCfg.Path = cfg.Storage.Path
	dbCfg.InMemory = cfg.Storage.InMemory
	dbCfg.Logger = logger.With(slog.String("component", "badger"))
	a.db, err = kv.Open(dbCfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.db.Close)

	vsOpts := []graphstore.VersionStoreOption{
		graphstore.WithRetain(cfg.Storage.Retain),
		graphstore.WithLogger(logger),
	}
	if cfg.Archive.Bucket != "" {
		archiver, aerr := graphstore.NewGCSArchiver(ctx, cfg.Archive.Bucket, cfg.Archive.Prefix, cfg.Archive.CredentialsFile)
		if aerr != nil {
			return nil, fmt.Errorf("graph archive: %w", aerr)
		}
		a.closers = append(a.closers, archiver.Close)
		vsOpts = append(vsOpts, graphstore.WithArchiver(archiver))
	}
	store := graphstore.NewBadgerStore(a.db, graphstore.WithPointerTTL(cfg.Storage.PointerTTL))
	a.versions = graphstore.NewVersionStore(store, vsOpts...)
	if !opts.skipRestore {
		if err = a.versions.Restore(ctx); err != nil {
			return nil, fmt.Errorf("restore graph version: %w", err)
		}
	}

	// Data source
	client, err := newProvider(cfg.Provider, logger)
	if err != nil {
		return nil, err
	}
	a.selector, err = source.NewSelector(
		client,
		source.NewBadgerCache(a.db, cfg.Storage.CacheTTL),
		&source.SyntheticProvider{Cities: cfg.Source.MockCities},
		source.Config{
			Thresholds: faults.Thresholds{
				Real:     cfg.Source.RealThreshold,
				Recovery: cfg.Source.RecoveryThreshold,
			},
			RefreshInterval: cfg.Provider.RefreshInterval,
		},
		source.WithRecorder(a.metrics),
		source.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	// Pipeline
	builder := graphstore.NewBuilder(a.versions, logger)
	stages := pipeline.DefaultStages(a.selector, cfg.Provider.Region, cfg.Pipeline.EdgeBatchSize, a.versions, builder)
	a.orchestrator, err = pipeline.NewOrchestrator(stages,
		pipeline.WithLogger(logger),
		pipeline.WithRecorder(a.metrics),
	)
	if err != nil {
		return nil, err
	}

	// Search
	searchOpts := []search.Option{
		search.WithConfig(search.Config{
			MaxTransfers:    cfg.Search.MaxTransfers,
			MaxAlternatives: cfg.Search.MaxAlternatives,
		}),
		search.WithRecorder(a.metrics),
		search.WithLogger(logger),
	}
	if cfg.Risk.Enabled {
		var stats risk.StatsSource = risk.NationalAverages()
		if cfg.Risk.InfluxURL != "" {
			influx := risk.NewInfluxStats(cfg.Risk.InfluxURL, cfg.Risk.InfluxToken, cfg.Risk.Org, cfg.Risk.Bucket, cfg.Risk.Window)
			a.closers = append(a.closers, func() error { influx.Close(); return nil })
			stats = influx
		}
		a.assessor, err = risk.NewAssessor(stats, cfg.Risk.Model, cfg.Risk.CacheSize)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { a.assessor.Close(); return nil })
		searchOpts = append(searchOpts, search.WithRisk(a.assessor))
	}
	a.engine = search.NewEngine(a.versions, searchOpts...)

	return a, nil
}

// newProvider picks the upstream client: fixture file first, then HTTP,
// then Unconfigured.
func newProvider(cfg config.ProviderConfig, logger *slog.Logger) (provider.Client, error) {
	switch {
	case cfg.FixturePath != "":
		logger.Info("using fixture provider", slog.String("path", cfg.FixturePath))
		return provider.NewFileClient(cfg.FixturePath, cfg.RefreshInterval), nil
	case cfg.BaseURL != "":
		httpCfg := provider.DefaultHTTPConfig()
		httpCfg.BaseURL = cfg.BaseURL
		httpCfg.Timeout = cfg.Timeout
		httpCfg.RefreshInterval = cfg.RefreshInterval
		httpCfg.RatePerSecond = cfg.RatePerSecond
		httpCfg.Burst = cfg.Burst

		opts := []provider.HTTPOption{provider.WithLogger(logger)}
		if cfg.APIKey != "" {
			opts = append(opts, provider.WithAPIKey([]byte(cfg.APIKey)))
		}
		logger.Info("using HTTP provider", slog.String("base_url", cfg.BaseURL))
		return provider.NewHTTPClient(httpCfg, opts...)
	default:
		logger.Warn("no upstream provider configured, graphs will be built from synthetic data")
		return provider.Unconfigured{}, nil
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
