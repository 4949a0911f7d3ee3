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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/resgraph/services/resources/listener"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func newConsumer(t *testing.T, e *Engine, name string) *ResourceManager {
	t.Helper()
	rm, err := e.Consumer(name)
	require.NoError(t, err)
	return rm
}

func drain(t *testing.T, rms ...*ResourceManager) {
	t.Helper()
	for _, rm := range rms {
		require.NoError(t, rm.Sync(context.Background()))
	}
}

type structureSink struct {
	mu     sync.Mutex
	events []StructureEvent
}

func (s *structureSink) ResourceStructureChanged(ev StructureEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *structureSink) all() []StructureEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StructureEvent(nil), s.events...)
}

func (s *structureSink) ofType(typ listener.EventType) []StructureEvent {
	var out []StructureEvent
	for _, ev := range s.all() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// changed returns the Changed paths of events of typ.
func (s *structureSink) changed(typ listener.EventType) []string {
	var out []string
	for _, ev := range s.ofType(typ) {
		if ev.Changed != nil {
			out = append(out, ev.Changed.Path())
		}
	}
	return out
}

type valueSink struct {
	mu     sync.Mutex
	events []ValueEvent
}

func (s *valueSink) ResourceChanged(ev ValueEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *valueSink) values() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Value)
	}
	return out
}

type accessSink struct {
	mu     sync.Mutex
	events []AccessModeEvent
}

func (s *accessSink) AccessModeChanged(ev AccessModeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *accessSink) all() []AccessModeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AccessModeEvent(nil), s.events...)
}

func paths(rs []*Resource) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Path())
	}
	return out
}
