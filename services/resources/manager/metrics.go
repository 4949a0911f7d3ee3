// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manager

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for resource operations.
var (
	tracer = otel.Tracer("resgraph.manager")
	meter  = otel.Meter("resgraph.manager")
)

var (
	opLatency         metric.Float64Histogram
	opTotal           metric.Int64Counter
	eventsQueued      metric.Int64Counter
	accessTransitions metric.Int64Counter
	txTotal           metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		opLatency, err = meter.Float64Histogram(
			"resgraph_operation_duration_seconds",
			metric.WithDescription("Duration of structural resource operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		opTotal, err = meter.Int64Counter(
			"resgraph_operations_total",
			metric.WithDescription("Structural resource operations by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		eventsQueued, err = meter.Int64Counter(
			"resgraph_events_queued_total",
			metric.WithDescription("Listener events queued by kind"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		accessTransitions, err = meter.Int64Counter(
			"resgraph_access_transitions_total",
			metric.WithDescription("Access mode fulfilled-flag flips"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		txTotal, err = meter.Int64Counter(
			"resgraph_transactions_total",
			metric.WithDescription("Committed and rolled back transactions"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordOp records the duration and outcome of a structural operation.
func recordOp(op string, start time.Time, err error) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("success", err == nil),
	)
	ctx := context.Background()
	opLatency.Record(ctx, time.Since(start).Seconds(), attrs)
	opTotal.Add(ctx, 1, attrs)
}

func recordEvents(kind string, n int) {
	if n == 0 || initMetrics() != nil {
		return
	}
	eventsQueued.Add(context.Background(), int64(n),
		metric.WithAttributes(attribute.String("kind", kind)))
}

func recordTransitions(n int) {
	if n == 0 || initMetrics() != nil {
		return
	}
	accessTransitions.Add(context.Background(), int64(n))
}

func recordTransaction(ctx context.Context, committed bool) {
	if initMetrics() != nil {
		return
	}
	txTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("committed", committed)))
}

// startTxSpan creates a span for a transaction commit.
func startTxSpan(ctx context.Context, id, consumer string, ops int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Transaction.Commit",
		trace.WithAttributes(
			attribute.String("resgraph.transaction", id),
			attribute.String("resgraph.consumer", consumer),
			attribute.Int("resgraph.ops", ops),
		),
	)
}

// startLoadSpan creates a span for loading the graph from a backend.
func startLoadSpan(ctx context.Context) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Engine.Load")
}
