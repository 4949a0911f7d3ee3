// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package taskqueue provides an unbounded, ordered task executor.
//
// A Queue runs submitted tasks one at a time on its own goroutine, in
// submission order. Submit never blocks, so it is safe to call while
// holding locks that the tasks themselves must never hold.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrClosed is returned when work is submitted to a closed queue.
var ErrClosed = errors.New("task queue closed")

// Task is a unit of work executed by a Queue.
type Task func()

// Queue is a FIFO executor backed by a single goroutine.
//
// Thread Safety: Queue is safe for concurrent use.
type Queue struct {
	name   string
	logger *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []Task
	closed bool

	done chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger used to report task panics.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// New creates a queue and starts its worker goroutine.
//
// Description:
//
//	The name labels the queue's metrics and log lines. Close must be called
//	to release the worker.
//
// Inputs:
//
//	name - Label for metrics and logs. Should be low-cardinality.
//	opts - Optional configuration.
//
// Outputs:
//
//	*Queue - The running queue.
func New(name string, opts ...Option) *Queue {
	q := &Queue{
		name:   name,
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.cond = sync.NewCond(&q.mu)
	q.logger = q.logger.With(slog.String("queue", name))

	go q.run()
	return q
}

// Name returns the queue's label.
func (q *Queue) Name() string {
	return q.name
}

// Submit appends a task to the queue.
//
// Outputs:
//
//	bool - False if the queue is closed and the task was dropped.
func (q *Queue) Submit(task Task) bool {
	if task == nil {
		return true
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, task)
	depth := len(q.tasks)
	q.cond.Signal()
	q.mu.Unlock()

	queueDepth.WithLabelValues(q.name).Set(float64(depth))
	return true
}

// Len returns the number of tasks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Sync blocks until every task submitted before the call has run.
//
// Description:
//
//	A marker task is appended and awaited. Tasks submitted concurrently
//	with Sync may or may not have run when it returns.
//
// Outputs:
//
//	error - ErrClosed if the queue is closed, or the context's error.
func (q *Queue) Sync(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("sync %s: nil context", q.name)
	}
	marker := make(chan struct{})
	if !q.Submit(func() { close(marker) }) {
		return ErrClosed
	}
	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks, runs what is already queued, and waits for
// the worker to exit. Calling Close more than once is safe.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.cond.Broadcast()
	}
	q.mu.Unlock()
	<-q.done
	queueDepth.DeleteLabelValues(q.name)
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		depth := len(q.tasks)
		q.mu.Unlock()

		queueDepth.WithLabelValues(q.name).Set(float64(depth))
		q.execute(task)
	}
}

// execute runs one task. A panic is logged and counted; it never stops the
// worker.
func (q *Queue) execute(task Task) {
	defer func() {
		if r := recover(); r != nil {
			tasksPanicked.WithLabelValues(q.name).Inc()
			q.logger.Error("task panicked",
				slog.Any("panic", r),
			)
		}
	}()
	task()
	tasksRun.WithLabelValues(q.name).Inc()
}
