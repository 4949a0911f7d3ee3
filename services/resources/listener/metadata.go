// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package listener

import (
	"sync"

	"github.com/AleutianAI/resgraph/services/resources/access"
	"github.com/AleutianAI/resgraph/services/resources/graph"
)

// Metadata is the state shared by a location and every reference that
// resolves to it.
type Metadata struct {
	location graph.NodeID
	arbiter  *access.Arbiter

	// Guarded by Router.mu.
	listeners [kindCount]map[*Registration]string

	mu        sync.Mutex
	recording string
}

func newMetadata(loc graph.NodeID) *Metadata {
	m := &Metadata{
		location: loc,
		arbiter:  access.NewArbiter(),
	}
	for k := range m.listeners {
		m.listeners[k] = make(map[*Registration]string)
	}
	return m
}

// Location returns the canonical node the metadata belongs to.
func (m *Metadata) Location() graph.NodeID { return m.location }

// Arbiter returns the location's access arbiter.
func (m *Metadata) Arbiter() *access.Arbiter { return m.arbiter }

// Recording returns the attached time-series name, or "".
func (m *Metadata) Recording() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recording
}

// SetRecording attaches or, with "", detaches a time-series name.
func (m *Metadata) SetRecording(series string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recording = series
}
