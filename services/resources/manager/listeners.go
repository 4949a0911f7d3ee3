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
	"time"

	"github.com/AleutianAI/resgraph/services/resources/access"
	"github.com/AleutianAI/resgraph/services/resources/graph"
	"github.com/AleutianAI/resgraph/services/resources/listener"
	"github.com/AleutianAI/resgraph/services/resources/permission"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// StructureEvent reports a change of the graph's shape or activity.
type StructureEvent struct {
	// Type is the kind of change.
	Type listener.EventType

	// Source is the resource the event is about, as seen from the
	// listener's registration.
	Source *Resource

	// SourceType is Source's type when the event was emitted.
	SourceType string

	// Changed is the added or removed subresource for SUBRESOURCE_*
	// events and the referencing resource for REFERENCE_* events.
	Changed *Resource
}

// ValueEvent reports a value write.
type ValueEvent struct {
	Source   *Resource
	Value    any
	Previous any

	// Changed is false for a write that stored an equal value. Such
	// events reach only listeners registered for every update.
	Changed bool
	At      time.Time
}

// AccessModeEvent reports a flip of the consumer's fulfilled flag.
type AccessModeEvent struct {
	Source    *Resource
	Requested access.Mode
	Granted   access.Mode
	Fulfilled bool
}

// =============================================================================
// LISTENER INTERFACES
// =============================================================================

// StructureListener receives structural events.
type StructureListener interface {
	ResourceStructureChanged(StructureEvent)
}

// StructureListenerFunc adapts a function to StructureListener.
type StructureListenerFunc func(StructureEvent)

// ResourceStructureChanged calls f.
func (f StructureListenerFunc) ResourceStructureChanged(ev StructureEvent) { f(ev) }

// ValueListener receives value events.
type ValueListener interface {
	ResourceChanged(ValueEvent)
}

// ValueListenerFunc adapts a function to ValueListener.
type ValueListenerFunc func(ValueEvent)

// ResourceChanged calls f.
func (f ValueListenerFunc) ResourceChanged(ev ValueEvent) { f(ev) }

// AccessModeListener receives access transitions of its own consumer.
type AccessModeListener interface {
	AccessModeChanged(AccessModeEvent)
}

// AccessModeListenerFunc adapts a function to AccessModeListener.
type AccessModeListenerFunc func(AccessModeEvent)

// AccessModeChanged calls f.
func (f AccessModeListenerFunc) AccessModeChanged(ev AccessModeEvent) { f(ev) }

// =============================================================================
// REGISTRATION
// =============================================================================

// AddStructureListener registers l on the resource's path.
//
// Description:
//
//	The registration follows the path, not the node: it attaches when the
//	path resolves and moves along when the path is rebound. With
//	recursive set it also covers everything reachable below the path,
//	including through references added later. Callbacks run on the
//	consumer's queue.
//
// Outputs:
//
//	string - Registration id for RemoveListener.
//	error - ErrPermissionDenied, ErrClosed.
func (r *Resource) AddStructureListener(l StructureListener, recursive bool) (string, error) {
	rm := r.rm
	return r.register(listener.KindStructure, recursive, false, func(ev listener.Event) {
		se := StructureEvent{
			Type:       ev.Type,
			Source:     rm.handle(graph.SplitPath(ev.Path), nil),
			SourceType: ev.SourceType,
		}
		if ev.Changed != "" {
			se.Changed = rm.handle(graph.SplitPath(ev.Changed), nil)
		}
		l.ResourceStructureChanged(se)
	})
}

// AddValueListener registers l for value writes on the resource's path.
// With everyUpdate set, writes that store an equal value are reported
// too. Only writes to active resources are reported.
func (r *Resource) AddValueListener(l ValueListener, everyUpdate bool) (string, error) {
	rm := r.rm
	return r.register(listener.KindValue, false, everyUpdate, func(ev listener.Event) {
		l.ResourceChanged(ValueEvent{
			Source:   rm.handle(graph.SplitPath(ev.Path), nil),
			Value:    ev.Value,
			Previous: ev.Previous,
			Changed:  ev.ValueChanged,
			At:       ev.At,
		})
	})
}

// AddAccessModeListener registers l for the consumer's access transitions
// on the resource's location.
func (r *Resource) AddAccessModeListener(l AccessModeListener) (string, error) {
	rm := r.rm
	return r.register(listener.KindAccess, false, false, func(ev listener.Event) {
		t := ev.Transition
		l.AccessModeChanged(AccessModeEvent{
			Source:    rm.handle(graph.SplitPath(ev.Path), nil),
			Requested: t.Requested,
			Granted:   t.Granted,
			Fulfilled: t.Fulfilled,
		})
	})
}

func (r *Resource) register(kind listener.Kind, recursive, everyUpdate bool, handler listener.Handler) (string, error) {
	rm := r.rm
	if err := rm.check(); err != nil {
		return "", err
	}
	e := rm.e
	if !e.allowed(rm.name, r.pathStr, permission.Listen) {
		return "", opError("addListener", r.pathStr, ErrPermissionDenied)
	}
	reg := listener.NewRegistration(listener.Spec{
		Consumer:    rm.name,
		Path:        r.path,
		Kind:        kind,
		Recursive:   recursive,
		EveryUpdate: everyUpdate,
		Queue:       rm.queue,
		Handler:     handler,
	})
	e.store.LockRead()
	e.router.Register(reg)
	e.store.UnlockRead()
	return reg.ID(), nil
}
