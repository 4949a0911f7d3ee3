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
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/AleutianAI/resgraph/services/resources/graph"
	"github.com/AleutianAI/resgraph/services/resources/permission"
	"github.com/AleutianAI/resgraph/services/resources/schema"
)

// DemandListener learns about active resources of a type.
type DemandListener interface {
	// ResourceAvailable is called for every active resource of the type
	// when the demand is added, and whenever one is activated.
	ResourceAvailable(r *Resource)

	// ResourceUnavailable is called when an active resource of the type
	// is deactivated or deleted.
	ResourceUnavailable(r *Resource)
}

// DemandFuncs adapts two functions to DemandListener. Nil functions are
// skipped.
type DemandFuncs struct {
	Available   func(*Resource)
	Unavailable func(*Resource)
}

// ResourceAvailable calls Available.
func (d DemandFuncs) ResourceAvailable(r *Resource) {
	if d.Available != nil {
		d.Available(r)
	}
}

// ResourceUnavailable calls Unavailable.
func (d DemandFuncs) ResourceUnavailable(r *Resource) {
	if d.Unavailable != nil {
		d.Unavailable(r)
	}
}

type demandSub struct {
	id     string
	rm     *ResourceManager
	typ    string
	l      DemandListener
	active atomic.Bool
}

func (s *demandSub) deliver(n demandNotice) {
	rm := s.rm
	if !rm.e.allowed(rm.name, n.path, permission.Read) {
		return
	}
	rm.queue.Submit(func() {
		if !s.active.Load() {
			return
		}
		h := rm.handle(graph.SplitPath(n.path), nil)
		if n.available {
			s.l.ResourceAvailable(h)
		} else {
			s.l.ResourceUnavailable(h)
		}
	})
}

// demandRegistry fans availability changes out to type subscriptions.
//
// Thread Safety: safe for concurrent use. notify is called with the
// structural lock held and only enqueues.
type demandRegistry struct {
	e    *Engine
	mu   sync.Mutex
	subs map[string]*demandSub
}

func newDemandRegistry(e *Engine) *demandRegistry {
	return &demandRegistry{e: e, subs: make(map[string]*demandSub)}
}

func (d *demandRegistry) snapshot() []*demandSub {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*demandSub, 0, len(d.subs))
	for _, s := range d.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (d *demandRegistry) notify(notices []demandNotice) {
	if len(notices) == 0 {
		return
	}
	subs := d.snapshot()
	if len(subs) == 0 {
		return
	}
	for _, n := range notices {
		for _, s := range subs {
			if d.e.schema.IsAssignable(s.typ, n.typ) {
				s.deliver(n)
			}
		}
	}
}

func (d *demandRegistry) add(s *demandSub) {
	d.mu.Lock()
	d.subs[s.id] = s
	d.mu.Unlock()
}

func (d *demandRegistry) remove(id, consumer string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.subs[id]
	if !ok || s.rm.name != consumer {
		return false
	}
	s.active.Store(false)
	delete(d.subs, id)
	return true
}

func (d *demandRegistry) removeConsumer(consumer string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, s := range d.subs {
		if s.rm.name == consumer {
			s.active.Store(false)
			delete(d.subs, id)
		}
	}
}

// AddResourceDemand subscribes l to active resources whose type is
// assignable to typ.
//
// Description:
//
//	Every currently active matching location is reported available once,
//	then activations, deactivations and deletions follow. Callbacks run
//	on the consumer's queue.
//
// Outputs:
//
//	string - Subscription id for RemoveResourceDemand.
//	error - ErrInvalidType for an unknown type, ErrClosed.
func (rm *ResourceManager) AddResourceDemand(typ string, l DemandListener) (string, error) {
	if err := rm.check(); err != nil {
		return "", err
	}
	e := rm.e
	if !e.schema.Has(typ) {
		return "", opError("addResourceDemand", typ, ErrInvalidType)
	}
	sub := &demandSub{id: uuid.NewString(), rm: rm, typ: typ, l: l}
	sub.active.Store(true)

	st := e.store
	st.LockRead()
	defer st.UnlockRead()
	e.demand.add(sub)

	seen := make(map[graph.NodeID]struct{})
	visit := func(loc graph.NodeID) {
		if _, dup := seen[loc]; dup {
			return
		}
		seen[loc] = struct{}{}
		n, ok := st.Node(loc)
		if !ok || !n.Active || !e.schema.IsAssignable(typ, n.Type) {
			return
		}
		sub.deliver(demandNotice{path: st.PrimaryPath(loc), typ: n.Type, available: true})
	}
	for _, root := range st.Roots() {
		visit(root)
		st.Walk(root, schema.IsReserved, func(s graph.Step) bool {
			visit(s.Location)
			return true
		})
	}
	return sub.id, nil
}

// RemoveResourceDemand cancels a subscription made by this consumer.
func (rm *ResourceManager) RemoveResourceDemand(id string) error {
	if !rm.e.demand.remove(id, rm.name) {
		return opError("removeResourceDemand", id, ErrNotFound)
	}
	return nil
}
