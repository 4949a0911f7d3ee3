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
	"encoding/json"
	"slices"
	"sort"
	"sync"
)

// MemoryBackend keeps records in a map. It is used when persistence is
// disabled and in tests.
//
// Thread Safety: MemoryBackend is safe for concurrent use.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[uint64]Record
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[uint64]Record)}
}

func (m *MemoryBackend) PutNode(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Value = slices.Clone(rec.Value)
	m.records[rec.ID] = rec
	return nil
}

func (m *MemoryBackend) DeleteNode(_ context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *MemoryBackend) SetValue(_ context.Context, id uint64, value json.RawMessage, modified int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Value = slices.Clone(value)
	rec.Modified = modified
	m.records[id] = rec
	return nil
}

func (m *MemoryBackend) SetActive(_ context.Context, id uint64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Active = active
	m.records[id] = rec
	return nil
}

func (m *MemoryBackend) Node(_ context.Context, id uint64) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryBackend) Children(_ context.Context, parent uint64) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, rec := range m.records {
		if rec.Parent == parent {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryBackend) Roots(ctx context.Context) ([]Record, error) {
	return m.Children(ctx, 0)
}

// Len returns the number of records.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryBackend) Close() error { return nil }
