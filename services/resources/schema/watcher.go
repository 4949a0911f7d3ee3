// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a type file into a registry whenever it changes on disk.
//
// # Description
//
// The parent directory is watched rather than the file, so editors that
// replace files by rename are handled. Reloads only ever add types; a file
// that fails validation is logged and ignored, leaving the registry as it
// was.
//
// # Thread Safety
//
// Run must be called at most once.
type Watcher struct {
	registry *Registry
	path     string
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	onReload func(added []string)
}

// NewWatcher creates a watcher for path.
//
// # Inputs
//
//   - r: Registry to extend on change.
//   - path: Type file to watch.
//   - logger: Logger for reload results. Nil uses slog.Default().
//
// # Outputs
//
//   - *Watcher: Watcher ready to Run.
//   - error: Non-nil if the directory cannot be watched.
func NewWatcher(r *Registry, path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		registry: r,
		path:     abs,
		logger:   logger,
		watcher:  fw,
	}, nil
}

// OnReload sets a callback invoked after each successful reload.
func (w *Watcher) OnReload(fn func(added []string)) {
	w.onReload = fn
}

// Run processes file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Schema watcher error",
				slog.Any("error", err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	added, err := LoadFile(ctx, w.registry, w.path)
	if err != nil {
		w.logger.Warn("Schema reload rejected",
			slog.String("path", w.path),
			slog.Any("error", err))
		return
	}
	w.logger.Info("Schema reloaded",
		slog.String("path", w.path),
		slog.Int("types_added", len(added)))
	if w.onReload != nil {
		w.onReload(added)
	}
}
