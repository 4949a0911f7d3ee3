// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/AleutianAI/resgraph/pkg/taskqueue"
)

// Journal applies ops to a Backend in submission order on a dedicated
// task queue.
//
// # Description
//
// Append never blocks and never performs I/O, so it can be called while
// the structural lock is held. Each Append call becomes one batch. Failed
// batches are logged and counted; the in-memory graph stays authoritative.
//
// # Thread Safety
//
// Journal is safe for concurrent use.
type Journal struct {
	backend Backend
	queue   *taskqueue.Queue
	logger  *slog.Logger
	failed  atomic.Uint64
}

// NewJournal creates a journal writing to backend.
func NewJournal(backend Backend, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		backend: backend,
		queue:   taskqueue.New("journal", taskqueue.WithLogger(logger)),
		logger:  logger,
	}
}

// Append schedules ops as one batch. It returns false when the journal
// is closed.
func (j *Journal) Append(ops ...Op) bool {
	if len(ops) == 0 {
		return true
	}
	batch := append([]Op(nil), ops...)
	return j.queue.Submit(func() {
		if err := Apply(context.Background(), j.backend, batch); err != nil {
			j.failed.Add(1)
			j.logger.Error("journal batch failed",
				slog.Int("ops", len(batch)),
				slog.Any("error", err))
		}
	})
}

// Failed returns the number of batches that could not be applied.
func (j *Journal) Failed() uint64 { return j.failed.Load() }

// Backend returns the underlying backend.
func (j *Journal) Backend() Backend { return j.backend }

// Sync waits until every batch appended before the call has been applied.
func (j *Journal) Sync(ctx context.Context) error {
	return j.queue.Sync(ctx)
}

// Close drains pending batches and stops the queue. The backend is not
// closed.
func (j *Journal) Close() {
	j.queue.Close()
}
