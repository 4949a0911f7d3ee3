// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package manager is the consumer-facing API of the resource graph.
//
// An Engine owns the graph store, the listener router, the schema registry
// and the collaborators (persistence journal, time-series recorder,
// permission checker). Each application talks to the engine through its
// own ResourceManager, which carries the consumer identity used for
// permissions and access arbitration and owns the queue its callbacks run
// on.
//
// Resources are addressed through Resource handles. A handle is bound to a
// path, not to a node: it re-resolves lazily whenever the global revision
// moved, so a handle keeps working across deletes, re-creates and
// reference changes, and is virtual while nothing exists at its path.
//
// # Locking
//
// Structural operations run under the store's write lock and flush their
// effects into the task queues before releasing it. Reads and value
// writes take the read lock; value writes are serialized per location by
// the value cell mutex. Lock order is structural lock, then value cell or
// arbiter monitor, then router mutex.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/resgraph/services/resources/graph"
	"github.com/AleutianAI/resgraph/services/resources/listener"
	"github.com/AleutianAI/resgraph/services/resources/permission"
	"github.com/AleutianAI/resgraph/services/resources/schema"
	"github.com/AleutianAI/resgraph/services/resources/storage"
	"github.com/AleutianAI/resgraph/services/resources/timeseries"
)

// Engine is the shared state behind every ResourceManager.
//
// Thread Safety: Engine is safe for concurrent use.
type Engine struct {
	store    *graph.Store
	router   *listener.Router
	schema   *schema.Registry
	perms    permission.Checker
	backend  storage.Backend
	journal  *storage.Journal
	recorder *timeseries.Queued
	logger   *slog.Logger
	demand   *demandRegistry

	mu        sync.Mutex
	consumers map[string]*ResourceManager
	closed    atomic.Bool
}

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	schema   *schema.Registry
	perms    permission.Checker
	backend  storage.Backend
	recorder timeseries.Recorder
	logger   *slog.Logger
	clock    func() time.Time
}

// WithSchema sets the type registry. Defaults to schema.Default().
func WithSchema(r *schema.Registry) Option {
	return func(c *engineConfig) { c.schema = r }
}

// WithPermissions sets the permission checker. Defaults to
// permission.AllowAll.
func WithPermissions(p permission.Checker) Option {
	return func(c *engineConfig) { c.perms = p }
}

// WithBackend persists the graph to b through a write-behind journal.
// Without a backend the graph lives in memory only.
func WithBackend(b storage.Backend) Option {
	return func(c *engineConfig) { c.backend = b }
}

// WithRecorder sets the time-series recorder used by resources with
// recording enabled.
func WithRecorder(r timeseries.Recorder) Option {
	return func(c *engineConfig) { c.recorder = r }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *engineConfig) { c.logger = l }
}

// WithClock overrides the time source for modification timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *engineConfig) { c.clock = now }
}

// NewEngine creates an engine with an empty graph.
//
// Description:
//
//	Call Load afterwards to restore a persisted graph from the backend.
//
// Outputs:
//
//	*Engine - The engine. Call Close when done.
//	error - Non-nil if the default schema cannot be built.
func NewEngine(opts ...Option) (*Engine, error) {
	cfg := engineConfig{perms: permission.AllowAll}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.schema == nil {
		reg, err := schema.Default()
		if err != nil {
			return nil, fmt.Errorf("build default schema: %w", err)
		}
		cfg.schema = reg
	}

	var storeOpts []graph.Option
	if cfg.clock != nil {
		storeOpts = append(storeOpts, graph.WithClock(cfg.clock))
	}
	store := graph.NewStore(storeOpts...)
	logger := cfg.logger.With(slog.String("component", "resources"))

	e := &Engine{
		store: store,
		router: listener.NewRouter(store,
			listener.WithSkip(schema.IsReserved),
			listener.WithLogger(logger)),
		schema:    cfg.schema,
		perms:     cfg.perms,
		backend:   cfg.backend,
		logger:    logger,
		consumers: make(map[string]*ResourceManager),
	}
	e.demand = newDemandRegistry(e)
	if cfg.backend != nil {
		e.journal = storage.NewJournal(cfg.backend, logger)
	}
	if cfg.recorder != nil {
		e.recorder = timeseries.NewQueued(cfg.recorder, logger)
	}
	return e, nil
}

// Registry returns the type registry.
func (e *Engine) Registry() *schema.Registry { return e.schema }

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// Revision returns the current structural revision.
func (e *Engine) Revision() uint64 { return e.store.Revision() }

// Consumer returns a new ResourceManager for the named application.
//
// Outputs:
//
//	*ResourceManager - The consumer's manager. Close it when done.
//	error - ErrInvalidName for an empty name, ErrAlreadyExists if the name
//	is taken, ErrClosed after Close.
func (e *Engine) Consumer(name string) (*ResourceManager, error) {
	if name == "" {
		return nil, opError("consumer", "", ErrInvalidName)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return nil, opError("consumer", name, ErrClosed)
	}
	if _, ok := e.consumers[name]; ok {
		return nil, opError("consumer", name, ErrAlreadyExists)
	}
	rm := newResourceManager(e, name)
	e.consumers[name] = rm
	return rm, nil
}

func (e *Engine) forget(rm *ResourceManager) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.consumers[rm.name] == rm {
		delete(e.consumers, rm.name)
	}
}

// Load restores the graph persisted in the backend.
//
// Description:
//
//	Must be called before any consumer creates resources. Records that
//	can no longer be attached (missing owner or reference target) are
//	dropped and deleted from the backend. Recording associations are
//	restored from the reserved recording children.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//
// Outputs:
//
//	int - Number of nodes loaded.
//	error - Non-nil if the backend cannot be read.
func (e *Engine) Load(ctx context.Context) (int, error) {
	if ctx == nil {
		return 0, errors.New("ctx must not be nil")
	}
	if e.backend == nil {
		return 0, nil
	}
	ctx, span := startLoadSpan(ctx)
	defer span.End()

	recs, err := storage.LoadAll(ctx, e.backend)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return 0, fmt.Errorf("load resources: %w", err)
	}

	snaps := make([]graph.Snapshot, 0, len(recs))
	byID := make(map[uint64]storage.Record, len(recs))
	for _, rec := range recs {
		byID[rec.ID] = rec
		snap, err := e.snapshotFromRecord(rec)
		if err != nil {
			e.logger.Warn("discarding unreadable value",
				slog.Uint64("id", rec.ID),
				slog.String("type", rec.Type),
				slog.Any("error", err))
		}
		snaps = append(snaps, snap)
	}

	e.store.LockWrite()
	defer e.store.UnlockWrite()

	dropped := e.store.Restore(snaps)
	if len(dropped) > 0 {
		ops := make([]storage.Op, 0, len(dropped))
		for _, id := range dropped {
			ops = append(ops, storage.Delete(uint64(id)))
		}
		e.appendJournal(ops)
		e.logger.Warn("dropped unattached resources", slog.Int("count", len(dropped)))
	}

	for _, rec := range recs {
		if rec.Name != schema.RecordingElement {
			continue
		}
		if _, ok := e.store.Node(graph.NodeID(rec.ID)); !ok {
			continue
		}
		series, _, _ := e.store.Value(graph.NodeID(rec.ID))
		if s, ok := series.(string); ok && s != "" {
			e.router.Metadata(graph.NodeID(rec.Parent)).SetRecording(s)
		}
	}
	e.router.RederiveAll()

	loaded := e.store.Len()
	span.SetAttributes(
		attribute.Int("resgraph.loaded", loaded),
		attribute.Int("resgraph.dropped", len(dropped)),
	)
	e.logger.Info("resources loaded",
		slog.Int("nodes", loaded),
		slog.Int("dropped", len(dropped)))
	return loaded, nil
}

// Flush waits until every journal batch and recorded sample issued before
// the call has been handed to its backend.
func (e *Engine) Flush(ctx context.Context) error {
	if e.journal != nil {
		if err := e.journal.Sync(ctx); err != nil {
			return err
		}
	}
	if e.recorder != nil {
		if err := e.recorder.Sync(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every consumer, drains the journal and recorder, and closes
// the backend.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.mu.Lock()
	consumers := make([]*ResourceManager, 0, len(e.consumers))
	for _, rm := range e.consumers {
		consumers = append(consumers, rm)
	}
	e.mu.Unlock()
	for _, rm := range consumers {
		rm.Close()
	}

	var errs []error
	if e.journal != nil {
		e.journal.Close()
		if n := e.journal.Failed(); n > 0 {
			errs = append(errs, fmt.Errorf("%d journal batches failed", n))
		}
	}
	if e.recorder != nil {
		if err := e.recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close recorder: %w", err))
		}
	}
	if e.backend != nil {
		if err := e.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backend: %w", err))
		}
	}
	return errors.Join(errs...)
}

// allowed consults the permission checker.
func (e *Engine) allowed(consumer, path string, op permission.Operation) bool {
	return e.perms.Allowed(consumer, path, op)
}

// mutate runs fn under the structural write lock with an undo log. On
// error the store is rolled back and fn's effects are discarded; on
// success they are flushed before the lock is released.
func (e *Engine) mutate(op, path string, fn func(fx *effects) error) error {
	start := time.Now()
	e.store.LockWrite()
	defer e.store.UnlockWrite()

	e.store.BeginUndo()
	fx := e.buffered()
	if err := fn(fx); err != nil {
		e.store.Rollback()
		e.router.RederiveAll()
		recordOp(op, start, err)
		return opError(op, path, err)
	}
	e.store.CommitUndo()
	fx.flush()
	recordOp(op, start, nil)
	return nil
}
