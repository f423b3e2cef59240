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
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TRANSITGRAPH_"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and TRANSITGRAPH_* environment variables, in that
// order, then validates it.
//
// Outputs:
//
//	Config - The validated configuration.
//	error - Read or parse failure, or ErrInvalidConfig.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct tags and cross-field rules.
func Validate(cfg Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Risk.Model.Weights.Total() <= 0 {
		return fmt.Errorf("%w: risk weights must not all be zero", ErrInvalidConfig)
	}
	if cfg.Pipeline.WatchFixture && cfg.Provider.FixturePath == "" {
		return fmt.Errorf("%w: pipeline.watch_fixture needs provider.fixture_path", ErrInvalidConfig)
	}
	return nil
}

// ApplyEnv overlays TRANSITGRAPH_* variables onto cfg. lookup is
// os.LookupEnv outside tests.
//
// Recognised variables (without the prefix): ADDR, DATA_DIR, IN_MEMORY,
// PROVIDER_URL, API_KEY, FIXTURE, REGION, REAL_THRESHOLD,
// RECOVERY_THRESHOLD, PIPELINE_INTERVAL, MAX_TRANSFERS, INFLUX_URL,
// INFLUX_TOKEN, INFLUX_ORG, INFLUX_BUCKET, ARCHIVE_BUCKET, LOG_LEVEL,
// LOG_DIR, LOG_JSON.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("ADDR", &cfg.Server.Addr)
	e.str("DATA_DIR", &cfg.Storage.Path)
	e.boolean("IN_MEMORY", &cfg.Storage.InMemory)
	e.str("PROVIDER_URL", &cfg.Provider.BaseURL)
	e.str("API_KEY", &cfg.Provider.APIKey)
	e.str("FIXTURE", &cfg.Provider.FixturePath)
	e.str("REGION", &cfg.Provider.Region)
	e.float("REAL_THRESHOLD", &cfg.Source.RealThreshold)
	e.float("RECOVERY_THRESHOLD", &cfg.Source.RecoveryThreshold)
	e.duration("PIPELINE_INTERVAL", &cfg.Pipeline.Interval)
	e.integer("MAX_TRANSFERS", &cfg.Search.MaxTransfers)
	e.str("INFLUX_URL", &cfg.Risk.InfluxURL)
	e.str("INFLUX_TOKEN", &cfg.Risk.InfluxToken)
	e.str("INFLUX_ORG", &cfg.Risk.Org)
	e.str("INFLUX_BUCKET", &cfg.Risk.Bucket)
	e.str("ARCHIVE_BUCKET", &cfg.Archive.Bucket)
	e.str("LOG_LEVEL", &cfg.Logging.Level)
	e.str("LOG_DIR", &cfg.Logging.Dir)
	e.boolean("LOG_JSON", &cfg.Logging.JSON)

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(name, v string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s=%q: %w", EnvPrefix, name, v, err))
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) boolean(name string, dst *bool) {
	if v, ok := e.get(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) float(name string, dst *float64) {
	if v, ok := e.get(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) integer(name string, dst *int) {
	if v, ok := e.get(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) duration(name string, dst *time.Duration) {
	if v, ok := e.get(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = d
	}
}
