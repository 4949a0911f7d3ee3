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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/resgraph/services/resources/storage"
)

// TestList_DeclaredEntries verifies a list element declared by its owner
// keeps entries of the declared type in insertion order.
func TestList_DeclaredEntries(t *testing.T) {
	e := newTestEngine(t)
	rm := newConsumer(t, e, "app")

	b, err := rm.CreateResource("B", "Building")
	require.NoError(t, err)

	virtual, err := b.SubResource("rooms").AsList()
	require.NoError(t, err)
	assert.Equal(t, "Room", virtual.ElementType())
	assert.Empty(t, virtual.AllElements())

	rooms, err := b.AddOptionalElement("rooms")
	require.NoError(t, err)
	assert.Equal(t, "ResourceList", rooms.Type())
	l, err := rooms.AsList()
	require.NoError(t, err)
	assert.Equal(t, "Room", l.ElementType())

	r0, err := l.Add()
	require.NoError(t, err)
	assert.Equal(t, "B/rooms/rooms_0", r0.Path())
	assert.Equal(t, "Room", r0.Type())
	assert.True(t, r0.Exists())
	_, err = l.Add()
	require.NoError(t, err)

	hall, err := rm.CreateResource("Hall", "Room")
	require.NoError(t, err)
	ref, err := l.AddReference(hall)
	require.NoError(t, err)
	assert.Equal(t, "B/rooms/rooms_2", ref.Path())
	assert.True(t, ref.IsReference(false))
	assert.Equal(t, "Hall", ref.Location())

	sw, err := rm.CreateResource("Sw", "Switch")
	require.NoError(t, err)
	_, err = l.AddReference(sw)
	assert.ErrorIs(t, err, ErrInvalidType)

	assert.Equal(t, []string{"B/rooms/rooms_0", "B/rooms/rooms_1", "B/rooms/rooms_2"}, paths(l.AllElements()))
	assert.Equal(t, 3, l.Size())
	assert.True(t, l.Contains(hall))
	assert.True(t, l.Contains(r0))
	assert.False(t, l.Contains(sw))
	assert.ElementsMatch(t, paths(l.AllElements()), paths(rooms.SubResources(false)))
}

// TestList_RemoveEntries verifies Remove and DeleteElement drop entries and
// that new names skip taken ones.
func TestList_RemoveEntries(t *testing.T) {
	e := newTestEngine(t)
	rm := newConsumer(t, e, "app")

	b, err := rm.CreateResource("B", "Building")
	require.NoError(t, err)
	rooms, err := b.AddOptionalElement("rooms")
	require.NoError(t, err)
	l, err := rooms.AsList()
	require.NoError(t, err)

	_, err = l.Add()
	require.NoError(t, err)
	_, err = l.Add()
	require.NoError(t, err)
	hall, err := rm.CreateResource("Hall", "Room")
	require.NoError(t, err)
	_, err = l.AddReference(hall)
	require.NoError(t, err)

	require.NoError(t, l.Remove(hall))
	assert.True(t, hall.Exists())
	assert.Equal(t, []string{"B/rooms/rooms_0", "B/rooms/rooms_1"}, paths(l.AllElements()))

	require.NoError(t, l.DeleteElement("rooms_0"))
	assert.False(t, b.SubResource("rooms").SubResource("rooms_0").Exists())
	assert.Equal(t, []string{"B/rooms/rooms_1"}, paths(l.AllElements()))
	require.NoError(t, l.DeleteElement("rooms_9"))
	assert.ErrorIs(t, l.DeleteElement("@elements"), ErrInvalidName)

	next, err := l.Add()
	require.NoError(t, err)
	assert.Equal(t, "B/rooms/rooms_2", next.Path())
	assert.Equal(t, 2, l.Size())
}

// TestList_PrunedWhenTargetDeleted verifies deleting a referenced resource
// removes its entry from the order.
func TestList_PrunedWhenTargetDeleted(t *testing.T) {
	e := newTestEngine(t)
	rm := newConsumer(t, e, "app")

	lr, err := rm.CreateResource("L", "ResourceList")
	require.NoError(t, err)
	l, err := lr.AsList()
	require.NoError(t, err)
	r1, err := rm.CreateResource("R1", "Room")
	require.NoError(t, err)
	r2, err := rm.CreateResource("R2", "Room")
	require.NoError(t, err)
	_, err = l.AddReference(r1)
	require.NoError(t, err)
	_, err = l.AddReference(r2)
	require.NoError(t, err)

	require.NoError(t, r1.Delete())
	assert.Equal(t, []string{"L/L_1"}, paths(l.AllElements()))
	assert.Equal(t, 1, l.Size())
	assert.False(t, l.Contains(r1))
	assert.True(t, l.Contains(r2))
}

// TestList_ElementType verifies how a list without a declared entry type
// acquires one.
func TestList_ElementType(t *testing.T) {
	e := newTestEngine(t)
	rm := newConsumer(t, e, "app")

	lr, err := rm.CreateResource("L", "ResourceList")
	require.NoError(t, err)
	l, err := lr.AsList()
	require.NoError(t, err)
	assert.Empty(t, l.ElementType())
	_, err = l.Add()
	assert.ErrorIs(t, err, ErrInvalidType)

	room, err := rm.CreateResource("R", "Room")
	require.NoError(t, err)
	_, err = l.AddReference(room)
	require.NoError(t, err)
	assert.Equal(t, "Room", l.ElementType())
	require.NoError(t, l.SetElementType("Room"))
	assert.ErrorIs(t, l.SetElementType("Switch"), ErrInvalidType)
	assert.ErrorIs(t, l.SetElementType("NoSuchType"), ErrInvalidType)

	sr, err := rm.CreateResource("S", "ResourceList")
	require.NoError(t, err)
	s, err := sr.AsList()
	require.NoError(t, err)
	require.NoError(t, s.SetElementType("Switch"))
	sw, err := s.Add()
	require.NoError(t, err)
	assert.Equal(t, "S/S_0", sw.Path())
	assert.Equal(t, "Switch", sw.Type())

	_, err = sr.AddDecorator("extra", "Switch")
	require.NoError(t, err)
	_, err = sr.AddDecorator("note", "StringResource")
	require.NoError(t, err)
	assert.Equal(t, []string{"S/S_0", "S/extra"}, paths(s.AllElements()))

	_, err = room.AsList()
	assert.ErrorIs(t, err, ErrInvalidType)
}

// TestList_Persisted verifies entry order and entry type survive a reload.
func TestList_Persisted(t *testing.T) {
	backend := storage.NewMemoryBackend()
	ctx := context.Background()

	e1 := newTestEngine(t, WithBackend(backend))
	rm1 := newConsumer(t, e1, "app")
	lr, err := rm1.CreateResource("L", "ResourceList")
	require.NoError(t, err)
	l, err := lr.AsList()
	require.NoError(t, err)
	require.NoError(t, l.SetElementType("Switch"))
	for range 3 {
		_, err = l.Add()
		require.NoError(t, err)
	}
	require.NoError(t, l.DeleteElement("L_0"))
	require.NoError(t, e1.Flush(ctx))
	require.NoError(t, e1.Close())

	e2 := newTestEngine(t, WithBackend(backend))
	_, err = e2.Load(ctx)
	require.NoError(t, err)
	rm2 := newConsumer(t, e2, "app")

	lr2, err := rm2.GetResource("L")
	require.NoError(t, err)
	l2, err := lr2.AsList()
	require.NoError(t, err)
	assert.Equal(t, "Switch", l2.ElementType())
	assert.Equal(t, []string{"L/L_1", "L/L_2"}, paths(l2.AllElements()))
	assert.Empty(t, rm2.TopLevelResources("StringArrayResource"))
}
