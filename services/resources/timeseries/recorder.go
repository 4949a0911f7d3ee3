// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package timeseries records value history for resources that have
// recording enabled.
package timeseries

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/resgraph/pkg/taskqueue"
)

// ErrClosed is returned by recorders after Close.
var ErrClosed = errors.New("recorder closed")

// Sample is one recorded value.
type Sample struct {
	// Series is the series name persisted with the resource.
	Series string

	// Location is the resource location at the time of the write.
	Location string

	// Type is the resource type name.
	Type string

	// Value is a bool, int64, float64 or string.
	Value any

	At time.Time
}

// Recorder stores samples.
type Recorder interface {
	Record(ctx context.Context, s Sample) error
	Close() error
}

// MemoryRecorder keeps the most recent samples of each series.
//
// Thread Safety: MemoryRecorder is safe for concurrent use.
type MemoryRecorder struct {
	mu       sync.RWMutex
	capacity int
	series   map[string][]Sample
	closed   bool
}

// NewMemoryRecorder keeps up to capacity samples per series. A
// non-positive capacity defaults to 1024.
func NewMemoryRecorder(capacity int) *MemoryRecorder {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryRecorder{capacity: capacity, series: make(map[string][]Sample)}
}

func (m *MemoryRecorder) Record(_ context.Context, s Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	buf := append(m.series[s.Series], s)
	if len(buf) > m.capacity {
		buf = append(buf[:0:0], buf[len(buf)-m.capacity:]...)
	}
	m.series[s.Series] = buf
	return nil
}

// Samples returns a copy of the samples held for series, oldest first.
func (m *MemoryRecorder) Samples(series string) []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Sample(nil), m.series[series]...)
}

func (m *MemoryRecorder) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Queued forwards samples to a Recorder on its own task queue so that
// writers never wait on the recorder.
type Queued struct {
	rec    Recorder
	queue  *taskqueue.Queue
	logger *slog.Logger
}

// NewQueued wraps rec.
func NewQueued(rec Recorder, logger *slog.Logger) *Queued {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queued{
		rec:    rec,
		queue:  taskqueue.New("recorder", taskqueue.WithLogger(logger)),
		logger: logger,
	}
}

// Submit schedules s. It returns false after Close.
func (q *Queued) Submit(s Sample) bool {
	return q.queue.Submit(func() {
		if err := q.rec.Record(context.Background(), s); err != nil {
			q.logger.Warn("recording sample failed",
				slog.String("series", s.Series),
				slog.Any("error", err))
		}
	})
}

// Sync waits for every sample submitted before the call.
func (q *Queued) Sync(ctx context.Context) error {
	return q.queue.Sync(ctx)
}

// Close drains the queue and closes the recorder.
func (q *Queued) Close() error {
	q.queue.Close()
	return q.rec.Close()
}
