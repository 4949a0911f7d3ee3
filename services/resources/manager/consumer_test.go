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
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/resgraph/pkg/taskqueue"
	"github.com/AleutianAI/resgraph/services/resources/access"
	"github.com/AleutianAI/resgraph/services/resources/permission"
	"github.com/AleutianAI/resgraph/services/resources/storage"
)

// TestEngine_Consumers verifies consumer name checks.
func TestEngine_Consumers(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Consumer("")
	assert.ErrorIs(t, err, ErrInvalidName)
	rm := newConsumer(t, e, "app")
	_, err = e.Consumer("app")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	rm.Close()
	rm.Close()
	_, err = rm.CreateResource("A", "Switch")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, rm.Sync(context.Background()), taskqueue.ErrClosed)

	again := newConsumer(t, e, "app")
	assert.Equal(t, "app", again.Name())

	require.NoError(t, e.Close())
	_, err = e.Consumer("late")
	assert.ErrorIs(t, err, ErrClosed)
}

// TestClose_DropsListenersAndAccess verifies closing a consumer silences
// its listeners and releases its access requests.
func TestClose_DropsListenersAndAccess(t *testing.T) {
	e := newTestEngine(t)
	rm1 := newConsumer(t, e, "one")
	rm2 := newConsumer(t, e, "two")

	a, err := rm1.CreateResource("A", "Switch")
	require.NoError(t, err)
	s, err := a.AddOptionalElement("setting")
	require.NoError(t, err)
	require.NoError(t, a.Activate(true))

	values := &valueSink{}
	_, err = s.AddValueListener(values, false)
	require.NoError(t, err)
	ok, err := s.RequestAccessMode(access.Exclusive, access.PriorityHighest)
	require.NoError(t, err)
	assert.True(t, ok)

	s2, err := rm2.GetResource("A/setting")
	require.NoError(t, err)
	assert.Equal(t, access.ReadOnly, s2.AccessMode())

	rm1.Close()
	assert.Equal(t, access.Shared, s2.AccessMode())
	require.NoError(t, s2.SetValue(3.0))
	drain(t, rm2)
	assert.Empty(t, values.values())
}

// TestRemoveListener verifies listeners are removed only by their owner.
func TestRemoveListener(t *testing.T) {
	e := newTestEngine(t)
	rm1 := newConsumer(t, e, "one")
	rm2 := newConsumer(t, e, "two")

	a, err := rm1.CreateResource("A", "Switch")
	require.NoError(t, err)
	s, err := a.AddOptionalElement("setting")
	require.NoError(t, err)
	require.NoError(t, s.Activate(false))

	values := &valueSink{}
	id, err := s.AddValueListener(values, false)
	require.NoError(t, err)
	require.NoError(t, s.SetValue(1.0))
	drain(t, rm1)

	assert.ErrorIs(t, rm2.RemoveListener(id), ErrNotFound)
	require.NoError(t, rm1.RemoveListener(id))
	assert.ErrorIs(t, rm1.RemoveListener(id), ErrNotFound)

	require.NoError(t, s.SetValue(2.0))
	drain(t, rm1)
	assert.Equal(t, []any{1.0}, values.values())
}

type demandLog struct {
	mu  sync.Mutex
	log []string
}

func (d *demandLog) funcs() DemandFuncs {
	return DemandFuncs{
		Available: func(r *Resource) { d.add("+" + r.Path()) },
		Unavailable: func(r *Resource) {
			d.add("-" + r.Path())
		},
	}
}

func (d *demandLog) add(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = append(d.log, s)
}

func (d *demandLog) entries() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.log...)
}

// TestResourceDemand_Sequence verifies availability follows activation and
// deletion of resources of the demanded type.
func TestResourceDemand_Sequence(t *testing.T) {
	e := newTestEngine(t)
	rm := newConsumer(t, e, "app")

	_, err := rm.AddResourceDemand("NoSuchType", DemandFuncs{})
	assert.ErrorIs(t, err, ErrInvalidType)

	a, err := rm.CreateResource("A", "Switch")
	require.NoError(t, err)
	require.NoError(t, a.Activate(false))

	log := &demandLog{}
	id, err := rm.AddResourceDemand("Switch", log.funcs())
	require.NoError(t, err)

	b, err := rm.CreateResource("B", "Switch")
	require.NoError(t, err)
	room, err := rm.CreateResource("R", "Room")
	require.NoError(t, err)
	require.NoError(t, room.Activate(false))
	require.NoError(t, b.Activate(false))
	require.NoError(t, a.Deactivate(false))
	require.NoError(t, b.Delete())

	drain(t, rm)
	assert.Equal(t, []string{"+A", "+B", "-A", "-B"}, log.entries())

	require.NoError(t, rm.RemoveResourceDemand(id))
	assert.ErrorIs(t, rm.RemoveResourceDemand(id), ErrNotFound)
	require.NoError(t, a.Activate(false))
	drain(t, rm)
	assert.Len(t, log.entries(), 4)
}

// TestPermissions_Enforced verifies denied operations fail and denied
// resources are hidden from listings.
func TestPermissions_Enforced(t *testing.T) {
	checker := permission.CheckerFunc(func(consumer, path string, op permission.Operation) bool {
		if consumer != "viewer" {
			return true
		}
		switch op {
		case permission.Read:
			return !strings.HasPrefix(path, "B")
		case permission.Listen:
			return true
		}
		return false
	})
	e := newTestEngine(t, WithPermissions(checker))
	admin := newConsumer(t, e, "admin")
	viewer := newConsumer(t, e, "viewer")

	a, err := admin.CreateResource("A", "Switch")
	require.NoError(t, err)
	_, err = a.AddOptionalElement("setting")
	require.NoError(t, err)
	_, err = admin.CreateResource("B", "Switch")
	require.NoError(t, err)

	assert.Equal(t, []string{"A"}, paths(viewer.TopLevelResources("")))
	_, err = viewer.GetResource("B")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	vs, err := viewer.GetResource("A/setting")
	require.NoError(t, err)
	assert.ErrorIs(t, vs.SetValue(1.0), ErrPermissionDenied)
	_, err = vs.RequestAccessMode(access.Exclusive, access.PriorityHighest)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	ok, err := vs.RequestAccessMode(access.ReadOnly, access.PriorityLowest)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = viewer.CreateResource("V", "Switch")
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorIs(t, vs.Delete(), ErrPermissionDenied)
	assert.ErrorIs(t, vs.Activate(false), ErrPermissionDenied)
	assert.False(t, vs.IsActive())

	_, err = vs.AddValueListener(&valueSink{}, false)
	require.NoError(t, err)
}

// TestLoad_RestoresGraph verifies a second engine on the same backend sees
// structure, values, activity, references and recordings.
func TestLoad_RestoresGraph(t *testing.T) {
	backend := storage.NewMemoryBackend()
	ctx := context.Background()

	e1 := newTestEngine(t, WithBackend(backend))
	rm1 := newConsumer(t, e1, "app")
	a, err := rm1.CreateResource("A", "Switch")
	require.NoError(t, err)
	s, err := a.AddOptionalElement("setting")
	require.NoError(t, err)
	require.NoError(t, s.SetValue(2.5))
	require.NoError(t, a.Activate(true))
	_, err = s.EnableRecording()
	require.NoError(t, err)
	c, err := rm1.CreateResource("C", "Switch")
	require.NoError(t, err)
	_, err = c.SetOptionalElement("setting", s)
	require.NoError(t, err)
	require.NoError(t, e1.Flush(ctx))
	require.NoError(t, e1.Close())

	e2 := newTestEngine(t, WithBackend(backend))
	n, err := e2.Load(ctx)
	require.NoError(t, err)
	assert.Positive(t, n)

	rm2 := newConsumer(t, e2, "app")
	s2, err := rm2.GetResource("A/setting")
	require.NoError(t, err)
	v, err := s2.FloatValue()
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)
	assert.True(t, s2.IsActive())
	assert.True(t, s2.IsRecording())

	cs, err := rm2.GetResource("C/setting")
	require.NoError(t, err)
	assert.True(t, cs.IsReference(false))
	assert.Equal(t, "A/setting", cs.Location())
	assert.Equal(t, []string{"A", "C"}, paths(rm2.TopLevelResources("Switch")))
}
