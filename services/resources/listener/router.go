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
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/AleutianAI/resgraph/services/resources/graph"
)

// Builder turns an attached registration into an event. path is the
// source as the registration sees it. Returning false skips the
// registration.
type Builder func(reg *Registration, path string) (Event, bool)

// Router owns location metadata and listener attachments.
//
// # Description
//
// Every registration remembers the nodes its path resolution walked
// through and, for recursive registrations, every node of its subtree.
// Touch re-derives exactly the registrations that saw a touched node.
//
// # Thread Safety
//
// Router has its own mutex. Callers must additionally hold the store's
// structural lock: read mode for Register, Collect and Metadata; write
// mode for Touch, RederiveAll and DropMetadata.
type Router struct {
	store  *graph.Store
	skip   func(string) bool
	logger *slog.Logger

	mu    sync.Mutex
	regs  map[string]*Registration
	meta  map[graph.NodeID]*Metadata
	watch map[graph.NodeID]map[*Registration]struct{}
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithSkip hides child names from recursive registrations.
func WithSkip(skip func(name string) bool) RouterOption {
	return func(r *Router) {
		r.skip = skip
	}
}

// WithLogger sets the router's logger.
func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRouter creates a router over store.
func NewRouter(store *graph.Store, opts ...RouterOption) *Router {
	r := &Router{
		store:  store,
		logger: slog.Default(),
		regs:   make(map[string]*Registration),
		meta:   make(map[graph.NodeID]*Metadata),
		watch:  make(map[graph.NodeID]map[*Registration]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Metadata returns the metadata of loc, creating it on first use.
func (r *Router) Metadata(loc graph.NodeID) *Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metadataLocked(loc)
}

// LookupMetadata returns existing metadata without creating it.
func (r *Router) LookupMetadata(loc graph.NodeID) (*Metadata, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meta[loc]
	return m, ok
}

// EachMetadata calls fn for every metadata entry.
func (r *Router) EachMetadata(fn func(*Metadata)) {
	r.mu.Lock()
	all := make([]*Metadata, 0, len(r.meta))
	for _, m := range r.meta {
		all = append(all, m)
	}
	r.mu.Unlock()
	for _, m := range all {
		fn(m)
	}
}

// DropMetadata forgets the metadata of removed locations and returns what
// was dropped. Registrations attached there must already have been
// re-derived through Touch.
func (r *Router) DropMetadata(locs ...graph.NodeID) []*Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Metadata
	for _, loc := range locs {
		if m, ok := r.meta[loc]; ok {
			out = append(out, m)
			delete(r.meta, loc)
		}
	}
	return out
}

// Register adds a registration and attaches it to what its path reaches.
func (r *Router) Register(reg *Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.regs[reg.id] = reg
	r.deriveLocked(reg)
}

// Unregister removes a registration. Deliveries already queued for it are
// skipped when they run.
func (r *Router) Unregister(id string) (*Registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.regs[id]
	if !ok {
		return nil, false
	}
	reg.active.Store(false)
	r.detachLocked(reg)
	delete(r.regs, id)
	return reg, true
}

// UnregisterConsumer removes every registration of a consumer.
func (r *Router) UnregisterConsumer(consumer string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, reg := range r.regs {
		if reg.consumer != consumer {
			continue
		}
		reg.active.Store(false)
		r.detachLocked(reg)
		delete(r.regs, id)
		n++
	}
	return n
}

// Registration returns a registration by id.
func (r *Router) Registration(id string) (*Registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regs[id]
	return reg, ok
}

// Attachments returns the locations a registration is attached to.
func (r *Router) Attachments(id string) []graph.NodeID {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.regs[id]
	if !ok {
		return nil
	}
	out := make([]graph.NodeID, 0, len(reg.attached))
	for loc := range reg.attached {
		out = append(out, loc)
	}
	slices.Sort(out)
	return out
}

// Touch re-derives every registration that resolved through one of ids.
// Listeners leave locations no longer reachable at their path and join
// the ones that are, inside the caller's write critical section.
// graph.None stands for the set of top-level nodes.
func (r *Router) Touch(ids ...graph.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	affected := make(map[*Registration]struct{})
	for _, id := range ids {
		for reg := range r.watch[id] {
			affected[reg] = struct{}{}
		}
	}
	for reg := range affected {
		r.detachLocked(reg)
		r.deriveLocked(reg)
	}
}

// RederiveAll re-derives every registration.
func (r *Router) RederiveAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, reg := range r.regs {
		r.detachLocked(reg)
	}
	for loc := range r.meta {
		if _, ok := r.store.Node(loc); !ok {
			delete(r.meta, loc)
		}
	}
	for _, reg := range r.regs {
		r.deriveLocked(reg)
	}
}

// Collect builds deliveries for the registrations of kind attached at loc.
// A non-empty consumer restricts the result to that consumer.
func (r *Router) Collect(loc graph.NodeID, kind Kind, consumer string, build Builder) []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.meta[loc]
	if !ok {
		return nil
	}
	regs := sortedRegs(m.listeners[kind])
	out := make([]Delivery, 0, len(regs))
	for _, reg := range regs {
		if consumer != "" && reg.consumer != consumer {
			continue
		}
		ev, ok := build(reg, m.listeners[kind][reg])
		if !ok {
			continue
		}
		ev.Kind = kind
		out = append(out, Delivery{Registration: reg, Event: ev})
	}
	return out
}

// CollectUnder builds deliveries for attached registrations of kind whose
// registered path is one of paths or lies below one of them. The builder
// receives the registered path.
func (r *Router) CollectUnder(paths []string, kind Kind, build Builder) []Delivery {
	if len(paths) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*Registration
	for _, reg := range r.regs {
		if reg.kind != kind || len(reg.attached) == 0 {
			continue
		}
		for _, p := range paths {
			if reg.Under(p) {
				matched = append(matched, reg)
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].id < matched[j].id })

	out := make([]Delivery, 0, len(matched))
	for _, reg := range matched {
		ev, ok := build(reg, reg.pathStr)
		if !ok {
			continue
		}
		ev.Kind = kind
		out = append(out, Delivery{Registration: reg, Event: ev})
	}
	return out
}

// Resolved reports whether a registration is currently attached, and
// where its own path leads.
func (r *Router) Resolved(reg *Registration) (graph.NodeID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(reg.attached) == 0 {
		return graph.None, false
	}
	res := r.store.Resolve(reg.path)
	return res.Location, res.Found
}

func (r *Router) metadataLocked(loc graph.NodeID) *Metadata {
	m, ok := r.meta[loc]
	if !ok {
		m = newMetadata(loc)
		r.meta[loc] = m
	}
	return m
}

func (r *Router) deriveLocked(reg *Registration) {
	res := r.store.Resolve(reg.path)
	if res.Err != nil {
		r.logger.Error("listener path crosses a broken reference chain",
			slog.String("path", reg.pathStr),
			slog.Any("error", res.Err))
	}
	if len(res.Route) == 0 {
		// Missing root: wait for any top-level creation.
		r.watchLocked(reg, graph.None)
	}
	for _, id := range res.Route {
		r.watchLocked(reg, id)
	}
	if !res.Found {
		return
	}
	r.attachLocked(reg, res.Location, reg.pathStr)
	if !reg.recursive {
		return
	}
	base := reg.pathStr
	r.store.Walk(res.Location, r.skip, func(st graph.Step) bool {
		r.watchLocked(reg, st.Node)
		r.attachLocked(reg, st.Location, base+graph.Separator+graph.JoinPath(st.Path))
		return true
	})
}

func (r *Router) attachLocked(reg *Registration, loc graph.NodeID, path string) {
	r.watchLocked(reg, loc)
	if _, ok := reg.attached[loc]; ok {
		return
	}
	r.metadataLocked(loc).listeners[reg.kind][reg] = path
	reg.attached[loc] = path
}

func (r *Router) watchLocked(reg *Registration, id graph.NodeID) {
	set, ok := r.watch[id]
	if !ok {
		set = make(map[*Registration]struct{})
		r.watch[id] = set
	}
	set[reg] = struct{}{}
	reg.watching[id] = struct{}{}
}

func (r *Router) detachLocked(reg *Registration) {
	for loc := range reg.attached {
		if m, ok := r.meta[loc]; ok {
			delete(m.listeners[reg.kind], reg)
		}
	}
	clear(reg.attached)
	for id := range reg.watching {
		if set, ok := r.watch[id]; ok {
			delete(set, reg)
			if len(set) == 0 {
				delete(r.watch, id)
			}
		}
	}
	clear(reg.watching)
}

func sortedRegs(set map[*Registration]string) []*Registration {
	out := make([]*Registration, 0, len(set))
	for reg := range set {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
