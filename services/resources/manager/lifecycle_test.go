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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/resgraph/services/resources/listener"
)

// TestCreateResource_Errors verifies name, type and collision checks.
func TestCreateResource_Errors(t *testing.T) {
	e := newTestEngine(t)
	rm := newConsumer(t, e, "app")

	_, err := rm.CreateResource("1abc", "Switch")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = rm.CreateResource("@hidden", "Switch")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = rm.CreateResource("A", "NoSuchType")
	assert.ErrorIs(t, err, ErrInvalidType)

	a, err := rm.CreateResource("A", "Switch")
	require.NoError(t, err)
	again, err := rm.CreateResource("A", "PhysicalElement")
	require.NoError(t, err)
	assert.True(t, again.EqualsPath(a))

	_, err = rm.CreateResource("A", "Room")
	assert.ErrorIs(t, err, ErrAlreadyExists)
	var re *ResourceError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "createResource", re.Op)
	assert.Equal(t, "A", re.Path)

	_, err = rm.GetResource("Missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = rm.GetResource("A/@recording")
	assert.ErrorIs(t, err, ErrInvalidName)
}

// TestCreate_MaterializesVirtualChain verifies creating a deep virtual
// handle creates its ancestors with schema types.
func TestCreate_MaterializesVirtualChain(t *testing.T) {
	e := newTestEngine(t)
	rm := newConsumer(t, e, "app")

	g, err := rm.CreateResource("G", "Generator")
	require.NoError(t, err)
	h := g.SubResource("onOffSwitch").SubResource("stateControl")
	require.NotNil(t, h)
	assert.False(t, h.Exists())
	assert.Equal(t, "BooleanResource", h.Type())
	assert.Equal(t, "G/onOffSwitch/stateControl", h.Location())

	sink := &structureSink{}
	_, err = h.AddStructureListener(sink, false)
	require.NoError(t, err)

	_, err = h.Create()
	require.NoError(t, err)
	assert.True(t, h.Exists())
	assert.False(t, h.IsActive())
	assert.Equal(t, "Switch", g.SubResource("onOffSwitch").Type())
	assert.False(t, h.IsDecorator())

	drain(t, rm)
	created := sink.ofType(listener.ResourceCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "G/onOffSwitch/stateControl", created[0].Source.Path())

	// Deleted roots are re-created from the handle's type hint.
	require.NoError(t, g.Delete())
	assert.False(t, g.Exists())
	_, err = g.Create()
	require.NoError(t, err)
	assert.Equal(t, "Generator", g.Type())
	assert.Nil(t, g.SubResource("nonsense"))
}

// TestAddDecorator_Compatibility verifies decorator type checks.
func TestAddDecorator_Compatibility(t *testing.T) {
	e := newTestEngine(t)
	rm := newConsumer(t, e, "app")

	a, err := rm.CreateResource("A", "Switch")
	require.NoError(t, err)

	d, err := a.AddDecorator("extra", "FloatResource")
	require.NoError(t, err)
	assert.True(t, d.IsDecorator())
	assert.Equal(t, "FloatResource", d.Type())

	same, err := a.AddDecorator("extra", "SingleValueResource")
	require.NoError(t, err)
	assert.True(t, same.EqualsLocation(d))

	_, err = a.AddDecorator("extra", "BooleanResource")
	assert.ErrorIs(t, err, ErrAlreadyExists)
	_, err = a.AddDecorator("setting", "BooleanResource")
	assert.ErrorIs(t, err, ErrInvalidType)
	_, err = a.AddOptionalElement("undeclared")
	assert.ErrorIs(t, err, ErrInvalidType)

	virtual := a.SubResource("setting")
	_, err = virtual.AddDecorator("note", "StringResource")
	assert.ErrorIs(t, err, ErrVirtualResource)

	sub, err := a.SubResourceOfType("setting", "PowerResource")
	require.NoError(t, err)
	assert.Equal(t, "PowerResource", sub.Type())
	_, err = a.SubResourceOfType("setting", "BooleanResource")
	assert.ErrorIs(t, err, ErrInvalidType)
}

// TestSetAsReference_Rejections verifies the reference preconditions.
func TestSetAsReference_Rejections(t *testing.T) {
	e := newTestEngine(t)
	rm := newConsumer(t, e, "app")

	a, err := rm.CreateResource("A", "Switch")
	require.NoError(t, err)
	setting, err := a.AddOptionalElement("setting")
	require.NoError(t, err)
	b, err := rm.CreateResource("B", "Switch")
	require.NoError(t, err)

	assert.ErrorIs(t, b.SetAsReference(a), ErrInvalidType)
	assert.ErrorIs(t, setting.SetAsReference(setting), ErrSelfReference)
	assert.ErrorIs(t, a.SubResource("stateControl").SetAsReference(b.SubResource("stateControl")), ErrVirtualResource)
	assert.ErrorIs(t, rm.Handle("B/setting/x").SetAsReference(setting), ErrVirtualResource)

	ctl, err := b.AddOptionalElement("stateControl")
	require.NoError(t, err)
	assert.ErrorIs(t, a.SubResource("setting").SetAsReference(ctl), ErrInvalidType)

	// A reference whose chain runs through the slot is rejected.
	bs, err := b.SetOptionalElement("setting", setting)
	require.NoError(t, err)
	assert.ErrorIs(t, setting.SetAsReference(bs), ErrSelfReference)

	// Re-binding to the same target changes nothing.
	rev := e.Revision()
	require.NoError(t, bs.SetAsReference(setting))
	assert.Equal(t, rev, e.Revision())
}

// TestSetAsReference_ReplacesPlainChild verifies replacing a plain child
// deletes its subtree and relinks references to its path.
func TestSetAsReference_ReplacesPlainChild(t *testing.T) {
	e := newTestEngine(t)
	rm := newConsumer(t, e, "app")

	a, err := rm.CreateResource("A", "Switch")
	require.NoError(t, err)
	as, err := a.AddOptionalElement("setting")
	require.NoError(t, err)
	require.NoError(t, as.SetValue(1))
	b, err := rm.CreateResource("B", "Switch")
	require.NoError(t, err)
	bs, err := b.AddOptionalElement("setting")
	require.NoError(t, err)
	require.NoError(t, bs.SetValue(4))
	c, err := rm.CreateResource("C", "Switch")
	require.NoError(t, err)
	cs, err := c.SetOptionalElement("setting", as)
	require.NoError(t, err)
	assert.Equal(t, "A/setting", cs.Location())

	sink := &structureSink{}
	_, err = a.AddStructureListener(sink, false)
	require.NoError(t, err)

	require.NoError(t, as.SetAsReference(bs))
	assert.True(t, as.IsReference(false))
	assert.Equal(t, "B/setting", as.Location())
	assert.True(t, cs.Exists())
	assert.Equal(t, "B/setting", cs.Location())
	assert.True(t, cs.IsReference(true))

	v, err := cs.FloatValue()
	require.NoError(t, err)
	assert.Equal(t, 4.0, v)

	drain(t, rm)
	assert.Equal(t, []string{"A/setting"}, sink.changed(listener.SubresourceRemoved))
	assert.Equal(t, []string{"A/setting"}, sink.changed(listener.SubresourceAdded))
}

// TestAddOptionalElement_ReplacesReference verifies a plain element takes
// over a slot held by a reference.
func TestAddOptionalElement_ReplacesReference(t *testing.T) {
	e := newTestEngine(t)
	rm := newConsumer(t, e, "app")

	a, err := rm.CreateResource("A", "Switch")
	require.NoError(t, err)
	b, err := rm.CreateResource("B", "Switch")
	require.NoError(t, err)
	bs, err := b.AddOptionalElement("setting")
	require.NoError(t, err)
	require.NoError(t, bs.SetValue(9))

	as, err := a.SetOptionalElement("setting", bs)
	require.NoError(t, err)
	require.True(t, as.IsReference(false))

	plain, err := a.AddOptionalElement("setting")
	require.NoError(t, err)
	assert.False(t, plain.IsReference(false))
	assert.Equal(t, "A/setting", plain.Location())
	assert.False(t, plain.IsActive())
	v, err := plain.FloatValue()
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	v, err = bs.FloatValue()
	require.NoError(t, err)
	assert.Equal(t, 9.0, v)
}

// TestDelete_ReferenceEdgeKeepsTarget verifies deleting through a
// reference removes only the edge.
func TestDelete_ReferenceEdgeKeepsTarget(t *testing.T) {
	e := newTestEngine(t)
	rm := newConsumer(t, e, "app")

	a, err := rm.CreateResource("A", "Switch")
	require.NoError(t, err)
	as, err := a.AddOptionalElement("setting")
	require.NoError(t, err)
	b, err := rm.CreateResource("B", "Switch")
	require.NoError(t, err)
	bs, err := b.SetOptionalElement("setting", as)
	require.NoError(t, err)

	targetSink := &structureSink{}
	_, err = as.AddStructureListener(targetSink, false)
	require.NoError(t, err)

	require.NoError(t, bs.Delete())
	assert.False(t, bs.Exists())
	assert.True(t, as.Exists())
	assert.Empty(t, as.ReferencingResources())

	drain(t, rm)
	assert.Equal(t, []string{"B"}, targetSink.changed(listener.ReferenceRemoved))

	// Deleting a virtual resource is a no-op.
	require.NoError(t, bs.Delete())
}

// TestSetOptionalElement_RebindEvents verifies the events of moving a
// reference slot from one target to another, per listener.
func TestSetOptionalElement_RebindEvents(t *testing.T) {
	e := newTestEngine(t)
	rm := newConsumer(t, e, "app")

	p, err := rm.CreateResource("P", "Room")
	require.NoError(t, err)
	t1, err := rm.CreateResource("T1", "TemperatureSensor")
	require.NoError(t, err)
	t2, err := rm.CreateResource("T2", "TemperatureSensor")
	require.NoError(t, err)
	slot, err := p.SetOptionalElement("temperatureSensor", t1)
	require.NoError(t, err)
	drain(t, rm)

	slotSink, t1Sink, t2Sink := &structureSink{}, &structureSink{}, &structureSink{}
	_, err = slot.AddStructureListener(slotSink, false)
	require.NoError(t, err)
	_, err = t1.AddStructureListener(t1Sink, false)
	require.NoError(t, err)
	_, err = t2.AddStructureListener(t2Sink, false)
	require.NoError(t, err)

	_, err = p.SetOptionalElement("temperatureSensor", t2)
	require.NoError(t, err)
	assert.Equal(t, "T2", slot.Location())
	drain(t, rm)

	types := func(evs []StructureEvent) []listener.EventType {
		out := make([]listener.EventType, 0, len(evs))
		for _, ev := range evs {
			out = append(out, ev.Type)
		}
		return out
	}

	// The slot sees its old binding go and the new one arrive, and no
	// reference event for the placeholder in between.
	got := slotSink.all()
	assert.Equal(t, []listener.EventType{listener.ResourceDeleted, listener.ResourceCreated}, types(got))
	for _, ev := range got {
		assert.Equal(t, "P/temperatureSensor", ev.Source.Path())
	}

	assert.Equal(t, []listener.EventType{listener.ReferenceRemoved}, types(t1Sink.all()))
	assert.Equal(t, []string{"P"}, t1Sink.changed(listener.ReferenceRemoved))

	assert.Equal(t, []listener.EventType{listener.ReferenceAdded}, types(t2Sink.all()))
	assert.Equal(t, []string{"P"}, t2Sink.changed(listener.ReferenceAdded))
}

// TestNavigation_Listings verifies listings over a cyclic reference graph.
func TestNavigation_Listings(t *testing.T) {
	e := newTestEngine(t)
	rm := newConsumer(t, e, "app")

	a, err := rm.CreateResource("A", "Room")
	require.NoError(t, err)
	_, err = a.AddOptionalElement("type")
	require.NoError(t, err)
	l, err := rm.CreateResource("L", "Location")
	require.NoError(t, err)
	_, err = l.SetOptionalElement("room", a)
	require.NoError(t, err)
	home, err := a.AddDecoratorResource("home", l)
	require.NoError(t, err)

	if diff := cmp.Diff([]string{"L/room", "L/room/type"}, paths(l.SubResources(true))); diff != "" {
		t.Errorf("SubResources(true) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A/type", "A/home"}, paths(a.SubResources(false))); diff != "" {
		t.Errorf("SubResources(false) mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, l.DirectSubResources(true))
	assert.Equal(t, []string{"A/type"}, paths(a.DirectSubResources(false)))
	assert.Equal(t, []string{"L/room/type"}, paths(l.SubResourcesOfType("IntegerResource", true)))
	assert.Equal(t, []string{"A"}, paths(rm.TopLevelResources("Room")))
	assert.Equal(t, []string{"A", "L"}, paths(rm.TopLevelResources("")))
	assert.Equal(t, []string{"L"}, paths(a.ReferencingResources()))

	assert.True(t, home.IsDecorator())
	assert.True(t, home.IsReference(false))
	typ := rm.Handle("L/room/type")
	assert.True(t, typ.IsReference(true))
	assert.False(t, typ.IsReference(false))
	assert.Equal(t, "A/type", typ.Location())
	assert.Equal(t, "A/type", typ.LocationResource().Path())
	assert.Equal(t, "L/room", typ.Parent().Path())
	assert.Nil(t, a.Parent())
	assert.False(t, typ.LastModified().IsZero())
	assert.True(t, rm.Handle("A/home/room/home").EqualsLocation(l))
}
