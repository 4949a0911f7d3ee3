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
	"slices"
	"sync"
	"time"

	"github.com/AleutianAI/resgraph/services/resources/graph"
	"github.com/AleutianAI/resgraph/services/resources/permission"
	"github.com/AleutianAI/resgraph/services/resources/schema"
)

// Resource is a handle on a path in the resource graph.
//
// # Description
//
// A handle names a path, not a node. It resolves lazily against the
// current graph and caches the result together with the revision it was
// computed at. When nothing exists at the path the handle is virtual: it
// can still be navigated and created, and registrations made through it
// attach once the path resolves.
//
// Handles created by SubResourceOfType carry a type hint per segment,
// used when the path is created.
//
// # Thread Safety
//
// Safe for concurrent use.
type Resource struct {
	rm      *ResourceManager
	path    []string
	pathStr string
	hints   []string

	mu      sync.Mutex
	bound   bool
	rev     uint64
	res     graph.Resolution
	last    any
	hasLast bool
}

func (rm *ResourceManager) handle(path []string, hints []string) *Resource {
	h := make([]string, len(path))
	copy(h, hints)
	return &Resource{
		rm:      rm,
		path:    slices.Clone(path),
		pathStr: graph.JoinPath(path),
		hints:   h,
	}
}

func (r *Resource) child(name, hint string) *Resource {
	return r.rm.handle(append(slices.Clone(r.path), name), append(slices.Clone(r.hints), hint))
}

// resolve returns the handle's resolution, recomputing it when the
// revision moved. The caller holds the structural lock.
func (r *Resource) resolve() graph.Resolution {
	st := r.rm.e.store
	rev := st.Revision()
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.bound || r.rev != rev {
		r.res = st.Resolve(r.path)
		r.rev = rev
		r.bound = true
	}
	return r.res
}

func (r *Resource) remember(v any) {
	r.mu.Lock()
	r.last, r.hasLast = v, true
	r.mu.Unlock()
}

func (r *Resource) lastValue() (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.hasLast
}

func (r *Resource) readLocked(fn func()) {
	st := r.rm.e.store
	st.LockRead()
	defer st.UnlockRead()
	fn()
}

// Name returns the last path segment.
func (r *Resource) Name() string {
	return r.path[len(r.path)-1]
}

// Path returns the path the handle was obtained through.
func (r *Resource) Path() string {
	return r.pathStr
}

// Segments returns a copy of the path segments.
func (r *Resource) Segments() []string {
	return slices.Clone(r.path)
}

// Manager returns the consumer the handle belongs to.
func (r *Resource) Manager() *ResourceManager {
	return r.rm
}

// Exists reports whether the path currently resolves.
func (r *Resource) Exists() bool {
	var ok bool
	r.readLocked(func() { ok = r.resolve().Found })
	return ok
}

// IsActive reports whether the resource exists and is active.
func (r *Resource) IsActive() bool {
	var active bool
	r.readLocked(func() {
		res := r.resolve()
		if !res.Found {
			return
		}
		if n, ok := r.rm.e.store.Node(res.Location); ok {
			active = n.Active
		}
	})
	return active
}

// IsTopLevel reports whether the path has a single segment.
func (r *Resource) IsTopLevel() bool {
	return len(r.path) == 1
}

// IsDecorator reports whether the slot at the path is a decorator, i.e.
// not declared by its parent's type.
func (r *Resource) IsDecorator() bool {
	var dec bool
	r.readLocked(func() {
		res := r.resolve()
		if !res.Found {
			return
		}
		if n, ok := r.rm.e.store.Node(res.Node); ok {
			dec = n.Decorator
		}
	})
	return dec
}

// IsReference reports whether the slot at the path is a reference edge.
// With recursive set, any reference edge crossed on the way counts.
func (r *Resource) IsReference(recursive bool) bool {
	var ref bool
	r.readLocked(func() {
		st := r.rm.e.store
		res := r.resolve()
		if !res.Found {
			return
		}
		if !recursive {
			n, ok := st.Node(res.Node)
			ref = ok && n.IsReference()
			return
		}
		for _, id := range res.Route {
			if n, ok := st.Node(id); ok && n.IsReference() {
				ref = true
				return
			}
		}
	})
	return ref
}

// Type returns the resource type. For a virtual handle it is the type the
// path would be created with, or "" if unknown.
func (r *Resource) Type() string {
	var typ string
	r.readLocked(func() { typ = r.typeLocked() })
	return typ
}

func (r *Resource) typeLocked() string {
	e := r.rm.e
	res := r.resolve()
	if res.Found {
		if n, ok := e.store.Node(res.Location); ok {
			return n.Type
		}
	}
	return r.virtualType(res)
}

// virtualType derives the type of a missing path from the deepest
// resolved prefix and the schema. The caller holds the structural lock.
func (r *Resource) virtualType(res graph.Resolution) string {
	e := r.rm.e
	var cur string
	start := 0
	if res.Err == nil && len(res.Route) > 0 && res.Depth > 0 {
		if n, ok := e.store.Node(res.Route[len(res.Route)-1]); ok {
			cur = n.Type
			start = res.Depth
		}
	}
	for i := start; i < len(r.path); i++ {
		switch {
		case r.hints[i] != "":
			cur = r.hints[i]
		case i == 0:
			return ""
		default:
			declared, ok := e.schema.ElementType(cur, r.path[i])
			if !ok {
				return ""
			}
			cur = declared
		}
	}
	return cur
}

// Location returns the primary path of the resource's location. A
// virtual handle reports the location of its deepest existing ancestor
// followed by the missing segments.
func (r *Resource) Location() string {
	var loc string
	r.readLocked(func() { loc = r.locationLocked() })
	return loc
}

func (r *Resource) locationLocked() string {
	st := r.rm.e.store
	res := r.resolve()
	if res.Found {
		return st.PrimaryPath(res.Location)
	}
	if res.Err != nil || res.Depth == 0 || len(res.Route) == 0 {
		return r.pathStr
	}
	base := st.PrimaryPath(res.Route[len(res.Route)-1])
	return base + graph.Separator + graph.JoinPath(r.path[res.Depth:])
}

// EqualsPath reports whether both handles name the same path.
func (r *Resource) EqualsPath(o *Resource) bool {
	return o != nil && r.pathStr == o.pathStr
}

// EqualsLocation reports whether both handles denote the same location.
func (r *Resource) EqualsLocation(o *Resource) bool {
	if o == nil {
		return false
	}
	if r.pathStr == o.pathStr {
		return true
	}
	return r.Location() == o.Location()
}

// LastModified returns when the resource's structure or value last
// changed, or the zero time for a virtual handle.
func (r *Resource) LastModified() time.Time {
	var t time.Time
	r.readLocked(func() {
		res := r.resolve()
		if res.Found {
			t = r.rm.e.store.LastModified(res.Location)
		}
	})
	return t
}

// Parent returns a handle on the parent path, or nil for a top-level
// resource.
func (r *Resource) Parent() *Resource {
	if len(r.path) == 1 {
		return nil
	}
	n := len(r.path) - 1
	return r.rm.handle(r.path[:n], r.hints[:n])
}

// LocationResource returns a handle on the primary path of the resource.
func (r *Resource) LocationResource() *Resource {
	return r.rm.handle(graph.SplitPath(r.Location()), nil)
}

// ReferencingResources returns the owners of the reference edges that
// point directly at this resource's location.
func (r *Resource) ReferencingResources() []*Resource {
	var out []*Resource
	r.readLocked(func() {
		e := r.rm.e
		st := e.store
		res := r.resolve()
		if !res.Found {
			return
		}
		seen := make(map[graph.NodeID]struct{})
		for _, ref := range st.Referrers(res.Location) {
			n, ok := st.Node(ref)
			if !ok {
				continue
			}
			if _, dup := seen[n.Parent]; dup {
				continue
			}
			seen[n.Parent] = struct{}{}
			p := st.PrimaryPath(n.Parent)
			if !e.allowed(r.rm.name, p, permission.Read) {
				continue
			}
			out = append(out, r.rm.handle(graph.SplitPath(p), nil))
		}
	})
	return out
}

// SubResource returns a handle on the named child.
//
// Description:
//
//	The child may be virtual when its name is declared by this
//	resource's type. Returns nil when the name is neither declared nor
//	present, or is not a valid name.
func (r *Resource) SubResource(name string) *Resource {
	if !schema.ValidName(name) || schema.IsReserved(name) {
		return nil
	}
	var out *Resource
	r.readLocked(func() {
		e := r.rm.e
		res := r.resolve()
		if res.Found {
			if _, ok := e.store.Child(res.Location, name); ok {
				out = r.child(name, "")
				return
			}
		}
		if _, ok := e.schema.ElementType(r.typeLocked(), name); ok {
			out = r.child(name, "")
		}
	})
	return out
}

// SubResourceOfType returns a handle on the named child carrying typ.
//
// Outputs:
//
//	*Resource - The handle, virtual if the child does not exist.
//	error - ErrInvalidName, or ErrInvalidType when typ is unknown,
//	        conflicts with the declared element type, or the existing
//	        child is of another type.
func (r *Resource) SubResourceOfType(name, typ string) (*Resource, error) {
	if !schema.ValidName(name) || schema.IsReserved(name) {
		return nil, opError("subResource", r.pathStr+graph.Separator+name, ErrInvalidName)
	}
	e := r.rm.e
	if !e.schema.Has(typ) {
		return nil, opError("subResource", r.pathStr+graph.Separator+name, ErrInvalidType)
	}
	var err error
	r.readLocked(func() {
		res := r.resolve()
		if res.Found {
			if id, ok := e.store.Child(res.Location, name); ok {
				loc, cerr := e.store.Canonical(id)
				if cerr != nil {
					err = cerr
					return
				}
				n, _ := e.store.Node(loc)
				if !e.schema.IsAssignable(typ, n.Type) {
					err = ErrInvalidType
				}
				return
			}
		}
		if declared, ok := e.schema.ElementType(r.typeLocked(), name); ok && !e.schema.IsAssignable(declared, typ) {
			err = ErrInvalidType
		}
	})
	if err != nil {
		return nil, opError("subResource", r.pathStr+graph.Separator+name, err)
	}
	return r.child(name, typ), nil
}

// SubResources lists existing children. With recursive set, everything
// reachable below the resource is listed once per location, references
// included.
func (r *Resource) SubResources(recursive bool) []*Resource {
	return r.list("", recursive, false)
}

// SubResourcesOfType is SubResources filtered to resources whose type is
// assignable to typ.
func (r *Resource) SubResourcesOfType(typ string, recursive bool) []*Resource {
	if typ == "" {
		return nil
	}
	return r.list(typ, recursive, false)
}

// DirectSubResources lists children that are not reference edges. With
// recursive set the owning tree is listed.
func (r *Resource) DirectSubResources(recursive bool) []*Resource {
	return r.list("", recursive, true)
}

func (r *Resource) list(typ string, recursive, direct bool) []*Resource {
	var out []*Resource
	r.readLocked(func() {
		e := r.rm.e
		st := e.store
		res := r.resolve()
		if !res.Found {
			return
		}
		add := func(rel []string, loc graph.NodeID) {
			p := append(slices.Clone(r.path), rel...)
			if !e.allowed(r.rm.name, graph.JoinPath(p), permission.Read) {
				return
			}
			if typ != "" {
				n, ok := st.Node(loc)
				if !ok || !e.schema.IsAssignable(typ, n.Type) {
					return
				}
			}
			out = append(out, r.rm.handle(p, nil))
		}

		switch {
		case direct:
			var walk func(loc graph.NodeID, rel []string)
			walk = func(loc graph.NodeID, rel []string) {
				n, ok := st.Node(loc)
				if !ok {
					return
				}
				for _, name := range n.ChildNames() {
					if schema.IsReserved(name) {
						continue
					}
					id, _ := n.Child(name)
					c, ok := st.Node(id)
					if !ok || c.IsReference() {
						continue
					}
					p := append(slices.Clip(rel), name)
					add(p, id)
					if recursive {
						walk(id, p)
					}
				}
			}
			walk(res.Location, nil)
		case !recursive:
			n, ok := st.Node(res.Location)
			if !ok {
				return
			}
			for _, name := range n.ChildNames() {
				if schema.IsReserved(name) {
					continue
				}
				id, _ := n.Child(name)
				loc, err := st.Canonical(id)
				if err != nil {
					continue
				}
				add([]string{name}, loc)
			}
		default:
			seen := map[graph.NodeID]struct{}{res.Location: {}}
			st.Walk(res.Location, schema.IsReserved, func(s graph.Step) bool {
				if _, dup := seen[s.Location]; dup {
					return true
				}
				seen[s.Location] = struct{}{}
				add(s.Path, s.Location)
				return true
			})
		}
	})
	return out
}
