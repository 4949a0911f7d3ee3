// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture builds:
//
//	A
//	└── x
//	    └── y
//	B
//	└── link -> A/x
func fixture(t *testing.T) (s *Store, a, x, y, b, link NodeID) {
	t.Helper()
	s = NewStore()
	var err error
	a, err = s.AddRoot("A", "Switch")
	require.NoError(t, err)
	x, err = s.AddChild(a, "x", "Sensor", false)
	require.NoError(t, err)
	y, err = s.AddChild(x, "y", "FloatResource", false)
	require.NoError(t, err)
	b, err = s.AddRoot("B", "Switch")
	require.NoError(t, err)
	link, err = s.AddReference(b, "link", x, true)
	require.NoError(t, err)
	return s, a, x, y, b, link
}

// TestStore_AddDuplicate verifies names are unique per parent and root.
func TestStore_AddDuplicate(t *testing.T) {
	s, a, _, _, _, _ := fixture(t)

	_, err := s.AddRoot("A", "Switch")
	assert.ErrorIs(t, err, ErrDuplicateChild)

	_, err = s.AddChild(a, "x", "Sensor", false)
	assert.ErrorIs(t, err, ErrDuplicateChild)
}

// TestStore_Resolve verifies resolution through a reference edge.
func TestStore_Resolve(t *testing.T) {
	s, _, x, y, b, link := fixture(t)

	res := s.Resolve([]string{"B", "link", "y"})
	require.True(t, res.Found)
	assert.Equal(t, y, res.Node)
	assert.Equal(t, y, res.Location)
	assert.Equal(t, []NodeID{b, link, x, y}, res.Route)

	res = s.Resolve([]string{"B", "link"})
	require.True(t, res.Found)
	assert.Equal(t, link, res.Node)
	assert.Equal(t, x, res.Location)

	res = s.Resolve([]string{"B", "link", "missing"})
	assert.False(t, res.Found)
	assert.Equal(t, 2, res.Depth)
	assert.Equal(t, x, res.Route[len(res.Route)-1])

	res = s.Resolve([]string{"Nope"})
	assert.False(t, res.Found)
	assert.Zero(t, res.Depth)
}

// TestStore_PrimaryPathAndAliases verifies primary and alias paths.
func TestStore_PrimaryPathAndAliases(t *testing.T) {
	s, _, x, y, _, link := fixture(t)

	assert.Equal(t, "A/x/y", s.PrimaryPath(y))
	assert.Equal(t, "B/link", s.PrimaryPath(link))
	assert.Equal(t, []string{"A/x", "B/link"}, s.Aliases(x))
	assert.Equal(t, []string{"A/x/y", "B/link/y"}, s.Aliases(y))
}

// TestStore_CanonicalLoop verifies a single-chain loop is a fault.
func TestStore_CanonicalLoop(t *testing.T) {
	s, _, x, _, b, link := fixture(t)

	other, err := s.AddReference(b, "other", link, true)
	require.NoError(t, err)

	loc, err := s.Canonical(other)
	require.NoError(t, err)
	assert.Equal(t, x, loc)

	// Corrupt the chain on purpose: link -> other -> link.
	s.nodes[link].Ref = other
	_, err = s.Canonical(other)
	assert.ErrorIs(t, err, ErrReferenceLoop)
}

// TestStore_WalkTerminatesOnCycle verifies a reference to an ancestor does
// not loop forever and each edge is reported once.
func TestStore_WalkTerminatesOnCycle(t *testing.T) {
	s, a, x, _, _, _ := fixture(t)

	back, err := s.AddReference(x, "back", a, true)
	require.NoError(t, err)

	var paths []string
	s.Walk(a, nil, func(st Step) bool {
		paths = append(paths, JoinPath(st.Path))
		if st.Node == back {
			assert.Equal(t, a, st.Location)
		}
		return true
	})

	want := []string{"x", "x/y", "x/back"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("walk mismatch (-want +got):\n%s", diff)
	}
}

// TestStore_WalkSkip verifies skipped names are not entered.
func TestStore_WalkSkip(t *testing.T) {
	s, a, x, _, _, _ := fixture(t)
	_, err := s.AddChild(x, "@recording", "StringResource", false)
	require.NoError(t, err)

	var paths []string
	s.Walk(a, func(name string) bool { return name[0] == '@' }, func(st Step) bool {
		paths = append(paths, JoinPath(st.Path))
		return true
	})
	assert.Equal(t, []string{"x", "x/y"}, paths)
}

// TestStore_SubtreeAndRemove verifies post-order collection and removal.
func TestStore_SubtreeAndRemove(t *testing.T) {
	s, a, x, y, _, _ := fixture(t)
	ref, err := s.AddReference(x, "r", a, true)
	require.NoError(t, err)

	nodes, refs := s.Subtree(x)
	assert.Equal(t, []NodeID{y, x}, nodes)
	assert.Equal(t, []NodeID{ref}, refs)
	assert.True(t, s.Contains(a, y))
	assert.False(t, s.Contains(y, a))

	assert.ErrorIs(t, s.Remove(x), ErrHasChildren)
	require.NoError(t, s.Remove(ref))
	require.NoError(t, s.Remove(y))
	assert.Empty(t, s.Referrers(a))

	_, ok := s.Child(a, "x")
	assert.True(t, ok)
	_, ok = s.Child(x, "y")
	assert.False(t, ok)
}

// TestStore_IncomingReferences verifies transitive referrers.
func TestStore_IncomingReferences(t *testing.T) {
	s, _, x, _, b, link := fixture(t)
	chained, err := s.AddReference(b, "chained", link, true)
	require.NoError(t, err)

	assert.Equal(t, []NodeID{link}, s.Referrers(x))
	assert.Equal(t, []NodeID{link, chained}, s.IncomingReferences(x))
}

// TestStore_Rollback verifies the undo log restores structure and values.
func TestStore_Rollback(t *testing.T) {
	s, a, x, y, _, link := fixture(t)
	require.NoError(t, s.UpdateValue(y, func(any) (any, bool, error) { return 1.5, true, nil }, nil))
	before := s.Len()
	rev := s.Revision()

	s.BeginUndo()
	require.NoError(t, s.UpdateValue(y, func(any) (any, bool, error) { return 9.0, true, nil }, nil))
	require.NoError(t, s.Remove(link))
	_, err := s.AddChild(a, "fresh", "Sensor", false)
	require.NoError(t, err)
	s.SetActive(x, true)
	touched := s.Rollback()

	assert.NotEmpty(t, touched)
	assert.False(t, s.UndoActive())
	assert.Greater(t, s.Revision(), rev)
	assert.Equal(t, before, s.Len())

	v, _, ok := s.Value(y)
	require.True(t, ok)
	assert.Equal(t, 1.5, v)

	res := s.Resolve([]string{"B", "link", "y"})
	assert.True(t, res.Found)
	_, ok = s.Child(a, "fresh")
	assert.False(t, ok)
	n, _ := s.Node(x)
	assert.False(t, n.Active)
	assert.Equal(t, []NodeID{link}, s.Referrers(x))
}

// TestStore_UpdateValueLinearizable verifies concurrent increments never
// collide.
func TestStore_UpdateValueLinearizable(t *testing.T) {
	s, _, _, y, _, _ := fixture(t)
	require.NoError(t, s.UpdateValue(y, func(any) (any, bool, error) { return int64(0), true, nil }, nil))

	const n = 150
	results := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.LockRead()
			defer s.UnlockRead()
			err := s.UpdateValue(y, func(cur any) (any, bool, error) {
				results[i] = cur.(int64)
				return cur.(int64) + 1, true, nil
			}, nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, r := range results {
		assert.False(t, seen[r], "duplicate %d", r)
		seen[r] = true
		assert.GreaterOrEqual(t, r, int64(0))
		assert.Less(t, r, int64(n))
	}
}

// TestStore_Restore verifies persisted snapshots round into the arena and
// orphans are dropped.
func TestStore_Restore(t *testing.T) {
	src, _, x, y, _, link := fixture(t)
	var snaps []Snapshot
	for _, id := range []NodeID{1, 2, 3, 4, 5} {
		sn, ok := src.Snapshot(id)
		require.True(t, ok)
		snaps = append(snaps, sn)
	}
	snaps = append(snaps, Snapshot{ID: 99, Name: "orphan", Type: "Sensor", Parent: 77})

	dst := NewStore()
	dropped := dst.Restore(snaps)
	assert.Equal(t, []NodeID{99}, dropped)

	res := dst.Resolve([]string{"B", "link", "y"})
	require.True(t, res.Found)
	assert.Equal(t, y, res.Location)
	assert.Equal(t, []NodeID{link}, dst.Referrers(x))

	id, err := dst.AddChild(x, "next", "Sensor", false)
	require.NoError(t, err)
	assert.Greater(t, id, NodeID(99))
}
