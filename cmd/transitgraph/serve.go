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
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/TransitGraph/pkg/telemetry"
	"github.com/AleutianAI/TransitGraph/services/transit/api"
	"github.com/AleutianAI/TransitGraph/services/transit/pipeline"
)

func newServeCmd(c *cli) *cobra.Command {
	var (
		addr         string
		buildOnStart bool
		debug        bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with scheduled graph rebuilds",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				c.cfg.Server.Addr = addr
			}
			if debug {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}
			if err := c.serve(cmd.Context(), buildOnStart); err != nil {
				return c.fail(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&buildOnStart, "build-on-start", true, "start a rebuild when no graph version exists")
	cmd.Flags().BoolVar(&debug, "debug", false, "gin debug mode")
	return cmd
}

func (c *cli) serve(parent context.Context, buildOnStart bool) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, c.cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			c.logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	a, err := newApp(ctx, c.cfg, c.logger, appOptions{registry: prometheus.DefaultRegisterer})
	if err != nil {
		return err
	}
	defer a.Close()

	if c.cfg.Storage.SyncInterval > 0 {
		watchCtx, cancelWatch := context.WithCancel(ctx)
		watchDone := make(chan struct{})
		go func() {
			defer close(watchDone)
			_ = a.versions.Watch(watchCtx, c.cfg.Storage.SyncInterval)
		}()
		defer func() {
			cancelWatch()
			<-watchDone
		}()
	}

	if c.cfg.Pipeline.Interval > 0 {
		sched := pipeline.NewScheduler(a.orchestrator, c.cfg.Pipeline.Interval, c.logger)
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	if c.cfg.Pipeline.WatchFixture {
		trigger, err := pipeline.NewFileTrigger(c.cfg.Provider.FixturePath, a.orchestrator, 0, c.logger)
		if err != nil {
			return err
		}
		if err := trigger.Start(ctx); err != nil {
			return err
		}
		defer trigger.Stop()
	}

	if buildOnStart && a.versions.CurrentVersion() == 0 {
		runID, err := a.orchestrator.Start(ctx)
		if err != nil && !errors.Is(err, pipeline.ErrAlreadyRunning) {
			return err
		}
		c.logger.Info("initial graph build started", slog.String("run_id", runID))
	}

	metricsHandler := telemetry.MetricsHandler()
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	srv := api.NewServer(api.Deps{
		Searcher:  a.engine,
		Pipeline:  a.orchestrator,
		Graph:     a.versions,
		Modes:     a.selector,
		RiskCache: riskCache(a),
		Metrics:   metricsHandler,
	},
		api.WithLogger(c.logger),
		api.WithServiceName(c.cfg.Telemetry.ServiceName),
	)

	err = srv.ListenAndServe(ctx, c.cfg.Server.Addr, c.cfg.Server.ShutdownTimeout)
	a.orchestrator.Cancel()
	return err
}

// riskCache avoids a typed-nil interface when risk is disabled.
func riskCache(a *app) api.CacheReporter {
	if a.assessor == nil {
		return nil
	}
	return a.assessor
}
