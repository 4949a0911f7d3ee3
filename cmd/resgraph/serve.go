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
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/resgraph/services/resources/admin"
	"github.com/AleutianAI/resgraph/services/resources/config"
	"github.com/AleutianAI/resgraph/services/resources/schema"
	badgerstore "github.com/AleutianAI/resgraph/services/resources/storage/badger"
	"github.com/AleutianAI/resgraph/services/resources/telemetry"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()
	logger := log.Slog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	st, err := openEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.engine.Close(); err != nil {
			logger.Error("engine close failed", slog.Any("error", err))
		}
	}()

	return serve(ctx, cfg, st, logger)
}

// serve runs the background workers until ctx is cancelled or one of them
// fails.
func serve(ctx context.Context, cfg config.Config, st *engineStack, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Schema.Watch && cfg.Schema.Path != "" {
		w, err := schema.NewWatcher(st.registry, cfg.Schema.Path, logger)
		if err != nil {
			return fmt.Errorf("watch schema: %w", err)
		}
		w.OnReload(func(added []string) {
			logger.Info("new resource types available", slog.Any("types", added))
		})
		g.Go(func() error { return w.Run(gctx) })
	}

	if st.storage.GCInterval > 0 && !st.storage.InMemory {
		gc, err := badgerstore.NewGCRunner(st.backend.DB(), st.storage.GCInterval, st.storage.GCDiscardRatio, logger)
		if err != nil {
			return fmt.Errorf("badger gc: %w", err)
		}
		g.Go(func() error { return gc.Run(gctx) })
	}

	if cfg.Admin.Listen != "" {
		srv, err := admin.NewServer(st.engine, admin.Config{
			Listen:      cfg.Admin.Listen,
			ServiceName: cfg.Telemetry.ServiceName + "-admin",
		}, logger)
		if err != nil {
			return err
		}
		defer srv.Close()
		g.Go(func() error { return srv.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	logger.Info("resgraph serving",
		slog.Uint64("revision", st.engine.Revision()),
		slog.String("admin", cfg.Admin.Listen))
	err := g.Wait()
	logger.Info("resgraph stopping")
	return err
}
