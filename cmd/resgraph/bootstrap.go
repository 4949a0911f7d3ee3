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

	"github.com/AleutianAI/resgraph/pkg/logging"
	"github.com/AleutianAI/resgraph/services/resources/config"
	"github.com/AleutianAI/resgraph/services/resources/manager"
	"github.com/AleutianAI/resgraph/services/resources/permission"
	"github.com/AleutianAI/resgraph/services/resources/schema"
	badgerstore "github.com/AleutianAI/resgraph/services/resources/storage/badger"
	"github.com/AleutianAI/resgraph/services/resources/timeseries"
)

// loadConfig reads --config and applies --log-level.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

// newLogger builds the process logger from the log section.
func newLogger(cfg config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Log.Dir,
		Service: cfg.Telemetry.ServiceName,
		JSON:    cfg.Log.JSON,
	}), nil
}

// loadSchema returns the built-in types plus the configured type file.
func loadSchema(ctx context.Context, cfg config.Config) (*schema.Registry, error) {
	reg, err := schema.Default()
	if err != nil {
		return nil, err
	}
	if cfg.Schema.Path != "" {
		if _, err := schema.LoadFile(ctx, reg, cfg.Schema.Path); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func loadPermissions(cfg config.Config) (permission.Checker, error) {
	if cfg.Permissions.PolicyPath == "" {
		return permission.AllowAll, nil
	}
	return permission.LoadPolicy(cfg.Permissions.PolicyPath)
}

func newRecorder(cfg config.RecordingConfig) (timeseries.Recorder, error) {
	switch cfg.Backend {
	case "memory":
		return timeseries.NewMemoryRecorder(0), nil
	case "influx":
		return timeseries.NewInfluxRecorder(timeseries.InfluxConfig{
			URL:         cfg.InfluxURL,
			Token:       cfg.InfluxToken,
			Org:         cfg.Org,
			Bucket:      cfg.Bucket,
			Measurement: cfg.Measurement,
		})
	case "none", "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown recording backend %q", cfg.Backend)
}

// engineStack is a loaded engine and the stores behind it.
type engineStack struct {
	engine   *manager.Engine
	registry *schema.Registry
	backend  *badgerstore.Backend
	storage  badgerstore.Config
}

// openEngine opens storage, builds the engine and restores the persisted
// graph.
//
// Inputs:
//
//	ctx - Context for schema loading and the initial load.
//	cfg - Effective configuration.
//	logger - Logger for the engine and badger.
//
// Outputs:
//
//	*engineStack - The loaded engine. Close it with st.engine.Close().
//	error - Non-nil if any store cannot be opened or loaded.
func openEngine(ctx context.Context, cfg config.Config, logger *slog.Logger) (*engineStack, error) {
	reg, err := loadSchema(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	perms, err := loadPermissions(cfg)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	rec, err := newRecorder(cfg.Recording)
	if err != nil {
		return nil, fmt.Errorf("create recorder: %w", err)
	}

	bcfg := badgerstore.DefaultConfig()
	bcfg.Path = cfg.Storage.Path
	bcfg.InMemory = cfg.Storage.InMemory
	bcfg.SyncWrites = cfg.Storage.SyncWrites
	bcfg.GCInterval = cfg.Storage.GCInterval
	bcfg.Logger = logger
	backend, err := badgerstore.OpenBackend(bcfg)
	if err != nil {
		if rec != nil {
			_ = rec.Close()
		}
		return nil, err
	}

	opts := []manager.Option{
		manager.WithSchema(reg),
		manager.WithPermissions(perms),
		manager.WithBackend(backend),
		manager.WithLogger(logger),
	}
	if rec != nil {
		opts = append(opts, manager.WithRecorder(rec))
	}
	e, err := manager.NewEngine(opts...)
	if err != nil {
		return nil, errors.Join(err, backend.Close())
	}
	if _, err := e.Load(ctx); err != nil {
		return nil, errors.Join(err, e.Close())
	}
	return &engineStack{engine: e, registry: reg, backend: backend, storage: bcfg}, nil
}
