// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package admin serves a read-only HTTP view of the resource graph.
//
// The server is an ordinary consumer of the engine named "admin", so the
// permission policy applies to it like to any application. Structural
// events can be followed over a WebSocket.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/resgraph/services/resources/manager"
	"github.com/AleutianAI/resgraph/services/resources/telemetry"
)

// ConsumerName is the consumer identity of the admin server.
const ConsumerName = "admin"

// Config configures the admin server.
type Config struct {
	// Listen is the host:port to serve on.
	Listen string

	// ServiceName names the otelgin spans. Defaults to "resgraph-admin".
	ServiceName string

	// ShutdownTimeout bounds graceful shutdown. Defaults to 5s.
	ShutdownTimeout time.Duration

	// WatchBuffer is the per-connection event buffer. Events beyond it
	// are dropped for that connection. Defaults to 256.
	WatchBuffer int
}

// Server is the admin HTTP server.
//
// # Description
//
// Routes:
//
//	GET /health
//	GET /metrics
//	GET /v1/types
//	GET /v1/resources?type=
//	GET /v1/resources/*path
//	GET /v1/watch/*path  (WebSocket)
//
// # Thread Safety
//
// Safe for concurrent requests. Run is called once.
type Server struct {
	engine *manager.Engine
	rm     *manager.ResourceManager
	cfg    Config
	router *gin.Engine
	logger *slog.Logger
}

// NewServer registers the admin consumer on e and builds the routes.
//
// Inputs:
//
//	e - The engine to serve. Must not be nil.
//	cfg - Server configuration.
//	logger - Logger; nil uses slog.Default().
//
// Outputs:
//
//	*Server - The server. Close it when done.
//	error - Non-nil if the admin consumer cannot be registered.
func NewServer(e *manager.Engine, cfg Config, logger *slog.Logger) (*Server, error) {
	if e == nil {
		return nil, errors.New("admin: nil engine")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "resgraph-admin"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.WatchBuffer <= 0 {
		cfg.WatchBuffer = 256
	}
	rm, err := e.Consumer(ConsumerName)
	if err != nil {
		return nil, fmt.Errorf("register admin consumer: %w", err)
	}
	s := &Server{
		engine: e,
		rm:     rm,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "admin")),
	}
	s.initRouter()
	return s, nil
}

func (s *Server) initRouter() {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(s.cfg.ServiceName))

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(metricsHandler()))

	v1 := r.Group("/v1")
	v1.GET("/types", s.handleTypes)
	v1.GET("/resources", s.handleTopLevel)
	v1.GET("/resources/*path", s.handleResource)
	v1.GET("/watch/*path", s.handleWatch)
	s.router = r
}

func metricsHandler() http.Handler {
	if h := telemetry.MetricsHandler(); h != nil {
		return h
	}
	return promhttp.Handler()
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin server listening", slog.String("addr", s.cfg.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin shutdown: %w", err)
	}
	return nil
}

// Close releases the admin consumer.
func (s *Server) Close() {
	s.rm.Close()
}
