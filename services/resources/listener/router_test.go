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
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/resgraph/pkg/taskqueue"
	"github.com/AleutianAI/resgraph/services/resources/graph"
)

type sink struct {
	mu     sync.Mutex
	events []Event
}

func (s *sink) handle(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *sink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func newTestRouter(t *testing.T) (*graph.Store, *Router, *taskqueue.Queue) {
	t.Helper()
	s := graph.NewStore()
	r := NewRouter(s, WithSkip(func(n string) bool { return strings.HasPrefix(n, "@") }))
	q := taskqueue.New("test")
	t.Cleanup(q.Close)
	return s, r, q
}

func register(r *Router, q *taskqueue.Queue, sk *sink, path string, kind Kind, recursive bool) *Registration {
	reg := NewRegistration(Spec{
		Consumer:  "app",
		Path:      graph.SplitPath(path),
		Kind:      kind,
		Recursive: recursive,
		Queue:     q,
		Handler:   sk.handle,
	})
	r.Register(reg)
	return reg
}

func structural(typ EventType) Builder {
	return func(_ *Registration, path string) (Event, bool) {
		return Event{Type: typ, Path: path}, true
	}
}

// TestRouter_VirtualRegistrationAttachesOnCreate verifies a listener on a
// missing path attaches once the node appears and the parent is touched.
func TestRouter_VirtualRegistrationAttachesOnCreate(t *testing.T) {
	s, r, q := newTestRouter(t)
	sk := &sink{}

	a, err := s.AddRoot("A", "Switch")
	require.NoError(t, err)
	reg := register(r, q, sk, "A/setting", KindStructure, false)
	assert.Empty(t, r.Attachments(reg.ID()))

	setting, err := s.AddChild(a, "setting", "FloatResource", false)
	require.NoError(t, err)
	r.Touch(a)
	assert.Equal(t, []graph.NodeID{setting}, r.Attachments(reg.ID()))

	SubmitAll(r.Collect(setting, KindStructure, "", structural(ResourceCreated)))
	require.NoError(t, q.Sync(context.Background()))
	require.Len(t, sk.all(), 1)
	assert.Equal(t, "A/setting", sk.all()[0].Path)
	assert.Equal(t, ResourceCreated, sk.all()[0].Type)
}

// TestRouter_RecursiveFollowsReferences verifies a recursive registration
// covers a subtree reachable only through a later reference.
func TestRouter_RecursiveFollowsReferences(t *testing.T) {
	s, r, q := newTestRouter(t)
	sk := &sink{}

	n, _ := s.AddRoot("N", "Resource")
	t2, _ := s.AddRoot("T", "Resource")
	reg := register(r, q, sk, "N", KindStructure, true)
	assert.Equal(t, []graph.NodeID{n}, r.Attachments(reg.ID()))

	_, err := s.AddReference(n, "ref", t2, true)
	require.NoError(t, err)
	r.Touch(n)
	assert.ElementsMatch(t, []graph.NodeID{n, t2}, r.Attachments(reg.ID()))

	c, err := s.AddChild(t2, "c", "Resource", false)
	require.NoError(t, err)
	r.Touch(t2)
	assert.ElementsMatch(t, []graph.NodeID{n, t2, c}, r.Attachments(reg.ID()))

	SubmitAll(r.Collect(t2, KindStructure, "", structural(SubresourceAdded)))
	require.NoError(t, q.Sync(context.Background()))
	require.Len(t, sk.all(), 1)
	assert.Equal(t, "N/ref", sk.all()[0].Path)
}

// TestRouter_MigratesOnRebind verifies a listener below a reference slot
// follows the slot to its new target.
func TestRouter_MigratesOnRebind(t *testing.T) {
	s, r, q := newTestRouter(t)
	sk := &sink{}

	p, _ := s.AddRoot("P", "Resource")
	t1, _ := s.AddRoot("T1", "Resource")
	t2, _ := s.AddRoot("T2", "Resource")
	v1, _ := s.AddChild(t1, "v", "FloatResource", false)
	v2, _ := s.AddChild(t2, "v", "FloatResource", false)
	ref, err := s.AddReference(p, "n", t1, false)
	require.NoError(t, err)

	reg := register(r, q, sk, "P/n/v", KindValue, false)
	assert.Equal(t, []graph.NodeID{v1}, r.Attachments(reg.ID()))

	require.NoError(t, s.Remove(ref))
	_, err = s.AddReference(p, "n", t2, false)
	require.NoError(t, err)
	r.Touch(p, ref)

	assert.Equal(t, []graph.NodeID{v2}, r.Attachments(reg.ID()))
	assert.Empty(t, r.Collect(v1, KindValue, "", structural(0)))
	assert.Len(t, r.Collect(v2, KindValue, "", structural(0)), 1)
}

// TestRouter_UnregisterSkipsQueued verifies best-effort cancellation.
func TestRouter_UnregisterSkipsQueued(t *testing.T) {
	s, r, q := newTestRouter(t)
	sk := &sink{}

	a, _ := s.AddRoot("A", "Resource")
	reg := register(r, q, sk, "A", KindStructure, false)

	block := make(chan struct{})
	q.Submit(func() { <-block })
	SubmitAll(r.Collect(a, KindStructure, "", structural(ResourceActivated)))
	_, ok := r.Unregister(reg.ID())
	require.True(t, ok)
	close(block)

	require.NoError(t, q.Sync(context.Background()))
	assert.Empty(t, sk.all())
	assert.Empty(t, r.Collect(a, KindStructure, "", structural(ResourceActivated)))
}

// TestRouter_CollectUnder verifies path-prefix matching over attached
// registrations.
func TestRouter_CollectUnder(t *testing.T) {
	s, r, q := newTestRouter(t)
	sk := &sink{}
	p, _ := s.AddRoot("P", "Resource")
	n, _ := s.AddChild(p, "n", "Resource", true)
	_, _ = s.AddChild(n, "x", "Resource", true)
	_, _ = s.AddChild(p, "nn", "Resource", true)

	register(r, q, sk, "P/n", KindStructure, false)
	register(r, q, sk, "P/n/x", KindStructure, false)
	register(r, q, sk, "P/n/missing", KindStructure, false)
	register(r, q, sk, "P/nn", KindStructure, false)
	register(r, q, sk, "P/n", KindValue, false)

	ds := r.CollectUnder([]string{"P/n"}, KindStructure, structural(ResourceDeleted))
	var paths []string
	for _, d := range ds {
		paths = append(paths, d.Event.Path)
	}
	assert.ElementsMatch(t, []string{"P/n", "P/n/x"}, paths)
}

// TestRouter_MetadataSharedByAliases verifies one metadata per location.
func TestRouter_MetadataSharedByAliases(t *testing.T) {
	s, r, _ := newTestRouter(t)
	a, _ := s.AddRoot("A", "Resource")
	b, _ := s.AddRoot("B", "Resource")
	ref, _ := s.AddReference(b, "a", a, true)

	loc, err := s.Canonical(ref)
	require.NoError(t, err)
	assert.Same(t, r.Metadata(a), r.Metadata(loc))

	dropped := r.DropMetadata(a)
	assert.Len(t, dropped, 1)
	_, ok := r.LookupMetadata(a)
	assert.False(t, ok)
}

// TestRouter_MissingRootWaitsForTopLevel verifies that a listener below a
// missing top-level node attaches once the chain is created.
func TestRouter_MissingRootWaitsForTopLevel(t *testing.T) {
	s, r, q := newTestRouter(t)
	sk := &sink{}
	reg := register(r, q, sk, "Z/x", KindStructure, false)

	z, err := s.AddRoot("Z", "Room")
	require.NoError(t, err)
	r.Touch(graph.None)
	assert.Empty(t, r.Attachments(reg.ID()))

	x, err := s.AddChild(z, "x", "Sensor", false)
	require.NoError(t, err)
	r.Touch(z)
	assert.Equal(t, []graph.NodeID{x}, r.Attachments(reg.ID()))
}
