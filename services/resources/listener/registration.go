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
	"slices"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/AleutianAI/resgraph/pkg/taskqueue"
	"github.com/AleutianAI/resgraph/services/resources/graph"
)

// Handler consumes events on the consumer's queue.
type Handler func(Event)

// Spec describes a registration.
type Spec struct {
	Consumer    string
	Path        []string
	Kind        Kind
	Recursive   bool
	EveryUpdate bool
	Queue       *taskqueue.Queue
	Handler     Handler
}

// Registration is a listener bound to a path.
type Registration struct {
	id          string
	consumer    string
	path        []string
	pathStr     string
	kind        Kind
	recursive   bool
	everyUpdate bool
	queue       *taskqueue.Queue
	handler     Handler
	active      atomic.Bool

	// Guarded by Router.mu.
	attached map[graph.NodeID]string
	watching map[graph.NodeID]struct{}
}

// NewRegistration creates an active registration with a fresh id.
func NewRegistration(spec Spec) *Registration {
	r := &Registration{
		id:          uuid.NewString(),
		consumer:    spec.Consumer,
		path:        slices.Clone(spec.Path),
		pathStr:     graph.JoinPath(spec.Path),
		kind:        spec.Kind,
		recursive:   spec.Recursive,
		everyUpdate: spec.EveryUpdate,
		queue:       spec.Queue,
		handler:     spec.Handler,
		attached:    make(map[graph.NodeID]string),
		watching:    make(map[graph.NodeID]struct{}),
	}
	r.active.Store(true)
	return r
}

// ID returns the subscription id.
func (r *Registration) ID() string { return r.id }

// Consumer returns the owning consumer.
func (r *Registration) Consumer() string { return r.consumer }

// Path returns the registered path.
func (r *Registration) Path() string { return r.pathStr }

// Kind returns the registration kind.
func (r *Registration) Kind() Kind { return r.kind }

// Recursive reports whether the registration covers the subtree.
func (r *Registration) Recursive() bool { return r.recursive }

// EveryUpdate reports whether value events fire on unchanged writes.
func (r *Registration) EveryUpdate() bool { return r.everyUpdate }

// Active reports whether the registration still receives events.
func (r *Registration) Active() bool { return r.active.Load() }

// Under reports whether the registered path is p or lies below it.
func (r *Registration) Under(p string) bool {
	return r.pathStr == p || strings.HasPrefix(r.pathStr, p+graph.Separator)
}

// Delivery is an event bound for one registration.
type Delivery struct {
	Registration *Registration
	Event        Event
}

// Submit queues the delivery on the registration's consumer queue. A
// registration removed before the task runs is skipped.
func (d Delivery) Submit() bool {
	reg, ev := d.Registration, d.Event
	if reg.queue == nil {
		return false
	}
	return reg.queue.Submit(func() {
		if reg.active.Load() {
			reg.handler(ev)
		}
	})
}

// SubmitAll queues deliveries in order.
func SubmitAll(ds []Delivery) {
	for _, d := range ds {
		d.Submit()
	}
}
