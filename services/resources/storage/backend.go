// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage defines the durable node store behind the resource
// graph and a write-behind journal that feeds it.
//
// The graph itself lives in memory. Every structural or value mutation is
// turned into Ops that the Journal applies to a Backend on its own
// goroutine, so no persistence I/O ever runs under the structural lock.
// At startup the whole graph is read back through Roots and Children.
package storage

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when a node record does not exist.
var ErrNotFound = errors.New("node record not found")

// Record is the persisted form of one node. A reference edge is a record
// with Ref set.
type Record struct {
	ID        uint64          `json:"id"`
	Parent    uint64          `json:"parent,omitempty"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Ref       uint64          `json:"ref,omitempty"`
	Decorator bool            `json:"decorator,omitempty"`
	Active    bool            `json:"active,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	Modified  int64           `json:"modified,omitempty"`
}

// Backend is the durable node store.
//
// Implementations need not be safe for concurrent use: the Journal calls
// them from a single goroutine. Read methods are only used at startup and
// by offline tooling.
type Backend interface {
	// PutNode creates the record or overwrites it.
	PutNode(ctx context.Context, rec Record) error

	// DeleteNode removes the record. Missing records are ignored.
	DeleteNode(ctx context.Context, id uint64) error

	// SetValue replaces a record's value and modification time.
	SetValue(ctx context.Context, id uint64, value json.RawMessage, modified int64) error

	// SetActive replaces a record's active flag.
	SetActive(ctx context.Context, id uint64, active bool) error

	// Node returns one record or ErrNotFound.
	Node(ctx context.Context, id uint64) (Record, error)

	// Children returns the records owned by parent, ordered by id.
	Children(ctx context.Context, parent uint64) ([]Record, error)

	// Roots returns the top-level records, ordered by id.
	Roots(ctx context.Context) ([]Record, error)

	// Close releases the backend.
	Close() error
}

// Batcher is implemented by backends that can apply several ops in one
// atomic write.
type Batcher interface {
	ApplyBatch(ctx context.Context, ops []Op) error
}

// LoadAll reads every record reachable from the roots.
func LoadAll(ctx context.Context, b Backend) ([]Record, error) {
	roots, err := b.Roots(ctx)
	if err != nil {
		return nil, err
	}
	out := append([]Record(nil), roots...)
	for i := 0; i < len(out); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if out[i].Ref != 0 {
			continue
		}
		children, err := b.Children(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out = append(out, children...)
	}
	return out, nil
}
