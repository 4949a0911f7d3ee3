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
	"fmt"
	"slices"

	"github.com/AleutianAI/resgraph/services/resources/graph"
	"github.com/AleutianAI/resgraph/services/resources/listener"
	"github.com/AleutianAI/resgraph/services/resources/permission"
	"github.com/AleutianAI/resgraph/services/resources/schema"
	"github.com/AleutianAI/resgraph/services/resources/storage"
)

// =============================================================================
// CREATE
// =============================================================================

// Create persists the resource, creating missing ancestors first. New
// resources are inactive. Creating an existing resource does nothing.
//
// Outputs:
//
//	*Resource - The receiver.
//	error - ErrInvalidType when a segment's type cannot be determined or
//	        conflicts with the schema, ErrPermissionDenied.
func (r *Resource) Create() (*Resource, error) {
	err := r.rm.mutate("create", r.pathStr, func(fx *effects) error {
		_, err := r.createLocked(fx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Resource) createLocked(fx *effects) (graph.NodeID, error) {
	e := r.rm.e
	st := e.store
	res := r.resolve()
	if res.Found {
		return res.Location, nil
	}
	if res.Err != nil {
		return graph.None, res.Err
	}

	parent := graph.None
	if len(res.Route) > 0 {
		parent = res.Route[len(res.Route)-1]
	}
	for i := res.Depth; i < len(r.path); i++ {
		name := r.path[i]
		if !e.allowed(r.rm.name, graph.JoinPath(r.path[:i+1]), permission.Create) {
			return graph.None, ErrPermissionDenied
		}
		var parentType string
		if parent != graph.None {
			pn, ok := st.Node(parent)
			if !ok {
				return graph.None, ErrNotFound
			}
			parentType = pn.Type
		}
		typ, decorator, err := e.childType(parentType, name, r.hints[i], i == 0)
		if err != nil {
			return graph.None, err
		}

		var id graph.NodeID
		if i == 0 {
			id, err = st.AddRoot(name, typ)
		} else {
			id, err = st.AddChild(parent, name, typ, decorator)
		}
		if err != nil {
			return graph.None, err
		}
		fx.persistNode(id)
		e.changed(parent)
		e.emitCreated(fx, parent, id)
		if decorator {
			if err := e.trackListEntry(fx, parent, name); err != nil {
				return graph.None, err
			}
		}
		parent = id
	}
	return parent, nil
}

// childType decides the type a new child is created with.
func (e *Engine) childType(parentType, name, hint string, top bool) (typ string, decorator bool, err error) {
	if !schema.ValidName(name) || schema.IsReserved(name) {
		return "", false, ErrInvalidName
	}
	if hint != "" && !e.schema.Has(hint) {
		return "", false, fmt.Errorf("%w: unknown type %q", ErrInvalidType, hint)
	}
	if top {
		if hint == "" {
			return "", false, fmt.Errorf("%w: no type for top-level resource %q", ErrInvalidType, name)
		}
		return hint, false, nil
	}
	declared, ok := e.schema.ElementType(parentType, name)
	switch {
	case ok && hint == "":
		return declared, false, nil
	case ok:
		if !e.schema.IsAssignable(declared, hint) {
			return "", false, fmt.Errorf("%w: %s is not a %s", ErrInvalidType, hint, declared)
		}
		return hint, false, nil
	case hint == "":
		return "", false, fmt.Errorf("%w: %s declares no element %q", ErrInvalidType, parentType, name)
	}
	return hint, true, nil
}

// emitCreated queues the events of a new node under parent. The caller
// has already re-derived the registrations watching parent.
func (e *Engine) emitCreated(fx *effects, parent, id graph.NodeID) {
	st := e.store
	n, ok := st.Node(id)
	if !ok {
		return
	}
	if pn, ok := st.Node(parent); ok {
		fx.deliver(e.router.Collect(parent, listener.KindStructure, "",
			subresource(listener.SubresourceAdded, pn.Type, n.Name, n.Type))...)
	}
	fx.deliver(e.router.Collect(id, listener.KindStructure, "",
		structural(listener.ResourceCreated, n.Type))...)
}

// changed advances the revision and re-derives the registrations that
// resolved through ids. graph.None covers top-level changes.
func (e *Engine) changed(ids ...graph.NodeID) {
	e.store.BumpRevision()
	e.router.Touch(ids...)
}

// =============================================================================
// DELETE
// =============================================================================

// Delete removes the resource. A reference edge is removed on its own;
// a location is removed with everything it owns. Deleting a virtual
// resource does nothing.
func (r *Resource) Delete() error {
	return r.rm.mutate("delete", r.pathStr, r.deleteLocked)
}

func (r *Resource) deleteLocked(fx *effects) error {
	e := r.rm.e
	res := r.resolve()
	if !res.Found {
		return nil
	}
	if !e.allowed(r.rm.name, r.pathStr, permission.Delete) {
		return ErrPermissionDenied
	}
	n, ok := e.store.Node(res.Node)
	if !ok {
		return ErrNotFound
	}

	var links []danglingLink
	var err error
	if n.IsReference() {
		links, err = e.detach(fx, graph.None, []graph.NodeID{res.Node})
	} else {
		links, err = e.detach(fx, res.Node, nil)
	}
	if err != nil {
		return err
	}
	return e.relink(fx, links)
}

// danglingLink remembers a reference edge dropped because its target
// went away, so it can be restored if the target path resolves again.
type danglingLink struct {
	owner     graph.NodeID
	name      string
	decorator bool
	target    string
}

// detach removes the subtree owned by root, the given reference edges,
// and every reference edge left pointing into what was removed.
//
// # Description
//
// Events are collected before anything changes, so registrations are
// still attached where they were. The removed locations drop their
// metadata when the effects are flushed.
//
// # Outputs
//
// The edges dropped only because their target disappeared, for relink.
func (e *Engine) detach(fx *effects, root graph.NodeID, edges []graph.NodeID) ([]danglingLink, error) {
	st := e.store
	var plain, refs []graph.NodeID
	if root != graph.None {
		plain, refs = st.Subtree(root)
	}
	refs = append(refs, edges...)

	removed := make(map[graph.NodeID]struct{}, len(plain)+len(refs))
	for _, id := range plain {
		removed[id] = struct{}{}
	}
	for _, id := range refs {
		removed[id] = struct{}{}
	}
	var dangling []graph.NodeID
	for _, id := range slices.Concat(plain, refs) {
		for _, in := range st.IncomingReferences(id) {
			if _, ok := removed[in]; ok {
				continue
			}
			removed[in] = struct{}{}
			dangling = append(dangling, in)
		}
	}

	links := make([]danglingLink, 0, len(dangling))
	for _, id := range dangling {
		n, _ := st.Node(id)
		links = append(links, danglingLink{
			owner:     n.Parent,
			name:      n.Name,
			decorator: n.Decorator,
			target:    st.PrimaryPath(n.Ref),
		})
	}

	var ds []listener.Delivery
	for _, id := range plain {
		n, _ := st.Node(id)
		ds = append(ds, e.router.Collect(id, listener.KindStructure, "",
			structural(listener.ResourceDeleted, n.Type))...)
		if n.Active {
			fx.notice(demandNotice{path: st.PrimaryPath(id), typ: n.Type, available: false})
		}
	}
	allEdges := slices.Concat(refs, dangling)
	for _, id := range allEdges {
		ds = append(ds, e.collectThrough(id, listener.ResourceDeleted)...)
	}

	rootParent := graph.None
	if root != graph.None {
		rn, _ := st.Node(root)
		rootParent = rn.Parent
		if pn, ok := st.Node(rn.Parent); ok {
			ds = append(ds, e.router.Collect(rn.Parent, listener.KindStructure, "",
				subresource(listener.SubresourceRemoved, pn.Type, rn.Name, rn.Type))...)
		}
	}
	for _, id := range slices.Concat(edges, dangling) {
		n, _ := st.Node(id)
		if pn, ok := st.Node(n.Parent); ok {
			ds = append(ds, e.router.Collect(n.Parent, listener.KindStructure, "",
				subresource(listener.SubresourceRemoved, pn.Type, n.Name, n.Type))...)
		}
	}
	for _, id := range allEdges {
		target, err := st.Canonical(id)
		if err != nil {
			continue
		}
		if _, gone := removed[target]; gone {
			continue
		}
		n, _ := st.Node(id)
		tn, _ := st.Node(target)
		pn, ok := st.Node(n.Parent)
		if !ok {
			continue
		}
		ds = append(ds, e.router.Collect(target, listener.KindStructure, "",
			referenceChange(listener.ReferenceRemoved, tn.Type, st.PrimaryPath(n.Parent), pn.Type, st.Aliases(id)))...)
	}
	fx.deliver(dedupe{}.filter(ds)...)

	touched := make([]graph.NodeID, 0, 2*len(removed)+1)
	for _, id := range slices.Concat(dangling, refs, plain) {
		n, _ := st.Node(id)
		touched = append(touched, id, n.Parent)
		fx.touchList(n.Parent)
		if err := st.Remove(id); err != nil {
			return nil, err
		}
		fx.journal(storage.Delete(uint64(id)))
	}
	if root != graph.None && rootParent == graph.None {
		touched = append(touched, graph.None)
	}
	e.changed(touched...)
	fx.dropMetadata(plain...)
	return links, nil
}

// relink restores dropped edges whose target path resolves again. Edges
// pointing at other restored edges are retried until nothing changes.
// Lists that still miss entries afterwards are pruned.
func (e *Engine) relink(fx *effects, links []danglingLink) error {
	st := e.store
	for progress := true; progress && len(links) > 0; {
		progress = false
		rest := links[:0]
		for _, l := range links {
			if _, ok := st.Node(l.owner); !ok {
				continue
			}
			if _, taken := st.Child(l.owner, l.name); taken {
				continue
			}
			res := st.Resolve(graph.SplitPath(l.target))
			if !res.Found {
				rest = append(rest, l)
				continue
			}
			if _, err := e.link(fx, l.owner, l.name, res.Node, l.decorator); err != nil {
				return err
			}
			progress = true
		}
		links = rest
	}
	return e.pruneLists(fx)
}

// =============================================================================
// REFERENCES
// =============================================================================

// link adds a reference edge and queues its events.
func (e *Engine) link(fx *effects, owner graph.NodeID, name string, target graph.NodeID, decorator bool) (graph.NodeID, error) {
	st := e.store
	id, err := st.AddReference(owner, name, target, decorator)
	if err != nil {
		return graph.None, err
	}
	fx.persistNode(id)
	e.changed(owner, id)

	loc, err := st.Canonical(id)
	if err != nil {
		return id, err
	}
	ln, _ := st.Node(loc)
	on, _ := st.Node(owner)
	slots := st.Aliases(id)

	var ds []listener.Delivery
	ds = append(ds, e.router.Collect(loc, listener.KindStructure, "",
		referenceChange(listener.ReferenceAdded, ln.Type, st.PrimaryPath(owner), on.Type, slots))...)
	ds = append(ds, e.router.Collect(owner, listener.KindStructure, "",
		subresource(listener.SubresourceAdded, on.Type, name, ln.Type))...)
	ds = append(ds, e.router.CollectUnder(slots, listener.KindStructure, e.createdAt())...)
	for _, child := range ln.ChildNames() {
		if schema.IsReserved(child) {
			continue
		}
		cid, _ := ln.Child(child)
		cloc, err := st.Canonical(cid)
		if err != nil {
			continue
		}
		cn, _ := st.Node(cloc)
		ds = append(ds, e.router.CollectUnder(slots, listener.KindStructure,
			func(_ *listener.Registration, path string) (listener.Event, bool) {
				if !slices.Contains(slots, path) {
					return listener.Event{}, false
				}
				return listener.Event{
					Type:        listener.SubresourceAdded,
					Path:        path,
					SourceType:  ln.Type,
					Changed:     path + graph.Separator + child,
					ChangedType: cn.Type,
				}, true
			})...)
	}
	fx.deliver(ds...)
	return id, nil
}

// createdAt reports RESOURCE_CREATED to registrations whose own path now
// resolves.
func (e *Engine) createdAt() listener.Builder {
	return func(_ *listener.Registration, path string) (listener.Event, bool) {
		res := e.store.Resolve(graph.SplitPath(path))
		if !res.Found {
			return listener.Event{}, false
		}
		n, ok := e.store.Node(res.Location)
		if !ok {
			return listener.Event{}, false
		}
		return listener.Event{Type: listener.ResourceCreated, Path: path, SourceType: n.Type}, true
	}
}

// installReference binds owner/name to other's node.
//
// # Description
//
// The slot may be declared by the owner's type or be a decorator; with
// requireDeclared set only declared slots are accepted. The current
// occupant is removed first: only the edge for a reference, the whole
// subtree for a plain child. Edges that pointed into the removed subtree
// are relinked once the new edge is in place.
func (e *Engine) installReference(fx *effects, consumer string, owner *Resource, name string, other *Resource, requireDeclared bool) error {
	st := e.store
	if !schema.ValidName(name) || schema.IsReserved(name) {
		return ErrInvalidName
	}
	ores := owner.resolve()
	if !ores.Found {
		return fmt.Errorf("%w: owner %s", ErrVirtualResource, owner.pathStr)
	}
	tres := other.resolve()
	if !tres.Found {
		return fmt.Errorf("%w: target %s", ErrVirtualResource, other.pathStr)
	}
	if !e.allowed(consumer, owner.pathStr+graph.Separator+name, permission.Create) {
		return ErrPermissionDenied
	}

	ownerLoc := ores.Location
	on, _ := st.Node(ownerLoc)
	tn, _ := st.Node(tres.Location)
	declared, isDeclared := e.schema.ElementType(on.Type, name)
	if requireDeclared && !isDeclared {
		return fmt.Errorf("%w: %s declares no element %q", ErrInvalidType, on.Type, name)
	}
	if isDeclared && !e.schema.IsAssignable(declared, tn.Type) {
		return fmt.Errorf("%w: %s is not a %s", ErrInvalidType, tn.Type, declared)
	}
	if want, ok := e.schema.ListElementType(on.Type, name); ok {
		if got := e.listElementType(tres.Location); got != "" && got != want {
			return fmt.Errorf("%w: list of %s is not a list of %s", ErrInvalidType, got, want)
		}
	}

	existing, has := st.Child(ownerLoc, name)
	var links []danglingLink
	if has {
		en, _ := st.Node(existing)
		if !isDeclared {
			exLoc, err := st.Canonical(existing)
			if err != nil {
				return err
			}
			xn, _ := st.Node(exLoc)
			if !e.schema.IsAssignable(xn.Type, tn.Type) {
				return fmt.Errorf("%w: decorator %s is a %s", ErrAlreadyExists, name, xn.Type)
			}
		}
		if en.IsReference() && en.Ref == tres.Node {
			return nil
		}
		if !en.IsReference() && st.Contains(existing, tres.Location) {
			return ErrSelfReference
		}
		if e.chainContains(tres.Node, existing) {
			return ErrSelfReference
		}

		var err error
		if en.IsReference() {
			links, err = e.detach(fx, graph.None, []graph.NodeID{existing})
		} else {
			links, err = e.detach(fx, existing, nil)
		}
		if err != nil {
			return err
		}
	}

	if _, err := e.link(fx, ownerLoc, name, tres.Node, !isDeclared); err != nil {
		return err
	}
	if !isDeclared {
		if err := e.trackListEntry(fx, ownerLoc, name); err != nil {
			return err
		}
	}
	return e.relink(fx, links)
}

// chainContains reports whether x lies on the reference chain starting
// at id, id included.
func (e *Engine) chainContains(id, x graph.NodeID) bool {
	seen := make(map[graph.NodeID]struct{})
	for cur := id; cur != graph.None; {
		if cur == x {
			return true
		}
		if _, loop := seen[cur]; loop {
			return false
		}
		seen[cur] = struct{}{}
		n, ok := e.store.Node(cur)
		if !ok {
			return false
		}
		cur = n.Ref
	}
	return false
}

// SetAsReference turns the resource into a reference to other. The
// resource's slot is emptied first.
//
// Outputs:
//
//	error - ErrInvalidType for a top-level resource or an incompatible
//	        target, ErrVirtualResource if the parent or other is virtual,
//	        ErrSelfReference, ErrPermissionDenied.
func (r *Resource) SetAsReference(other *Resource) error {
	return r.rm.mutate("setAsReference", r.pathStr, func(fx *effects) error {
		return r.setAsReferenceLocked(fx, other)
	})
}

func (r *Resource) setAsReferenceLocked(fx *effects, other *Resource) error {
	if other == nil {
		return ErrVirtualResource
	}
	if r.IsTopLevel() {
		return fmt.Errorf("%w: top-level resources cannot be references", ErrInvalidType)
	}
	return r.rm.e.installReference(fx, r.rm.name, r.Parent(), r.Name(), other, false)
}

// SetOptionalElement binds the declared element name to other.
func (r *Resource) SetOptionalElement(name string, other *Resource) (*Resource, error) {
	err := r.rm.mutate("setOptionalElement", r.pathStr, func(fx *effects) error {
		if other == nil {
			return ErrVirtualResource
		}
		return r.rm.e.installReference(fx, r.rm.name, r, name, other, true)
	})
	if err != nil {
		return nil, err
	}
	return r.child(name, ""), nil
}

// AddDecoratorResource binds the decorator name to other.
func (r *Resource) AddDecoratorResource(name string, other *Resource) (*Resource, error) {
	err := r.rm.mutate("addDecorator", r.pathStr, func(fx *effects) error {
		if other == nil {
			return ErrVirtualResource
		}
		return r.rm.e.installReference(fx, r.rm.name, r, name, other, false)
	})
	if err != nil {
		return nil, err
	}
	return r.child(name, ""), nil
}

// =============================================================================
// OPTIONAL ELEMENTS AND DECORATORS
// =============================================================================

// AddOptionalElement creates the declared element name as a plain child.
//
// Description:
//
//	An existing plain child is returned unchanged. A reference in the
//	slot is replaced by a new, inactive child.
//
// Outputs:
//
//	*Resource - Handle on the element.
//	error - ErrInvalidType if name is not declared, ErrVirtualResource if
//	        the resource is virtual, ErrPermissionDenied.
func (r *Resource) AddOptionalElement(name string) (*Resource, error) {
	err := r.rm.mutate("addOptionalElement", r.pathStr, func(fx *effects) error {
		return r.addChildLocked(fx, name, "", true)
	})
	if err != nil {
		return nil, err
	}
	return r.child(name, ""), nil
}

// AddDecorator creates the decorator name of type typ.
//
// Outputs:
//
//	*Resource - Handle on the decorator. An existing child of a
//	            compatible type is returned unchanged.
//	error - ErrAlreadyExists for an incompatible existing child,
//	        ErrInvalidType for an unknown type or one the schema does not
//	        allow for name, ErrVirtualResource, ErrPermissionDenied.
func (r *Resource) AddDecorator(name, typ string) (*Resource, error) {
	err := r.rm.mutate("addDecorator", r.pathStr, func(fx *effects) error {
		return r.addChildLocked(fx, name, typ, false)
	})
	if err != nil {
		return nil, err
	}
	return r.child(name, typ), nil
}

func (r *Resource) addChildLocked(fx *effects, name, typ string, optional bool) error {
	e := r.rm.e
	st := e.store
	if !schema.ValidName(name) || schema.IsReserved(name) {
		return ErrInvalidName
	}
	res := r.resolve()
	if !res.Found {
		return ErrVirtualResource
	}
	if !e.allowed(r.rm.name, r.pathStr+graph.Separator+name, permission.Create) {
		return ErrPermissionDenied
	}
	on, _ := st.Node(res.Location)
	declared, isDeclared := e.schema.ElementType(on.Type, name)

	if optional {
		if !isDeclared {
			return fmt.Errorf("%w: %s declares no element %q", ErrInvalidType, on.Type, name)
		}
		typ = declared
	} else {
		if !e.schema.Has(typ) {
			return fmt.Errorf("%w: unknown type %q", ErrInvalidType, typ)
		}
		if isDeclared && !e.schema.IsAssignable(declared, typ) {
			return fmt.Errorf("%w: %s is not a %s", ErrInvalidType, typ, declared)
		}
	}

	var links []danglingLink
	if existing, ok := st.Child(res.Location, name); ok {
		en, _ := st.Node(existing)
		if optional {
			if !en.IsReference() {
				return nil
			}
			var err error
			if links, err = e.detach(fx, graph.None, []graph.NodeID{existing}); err != nil {
				return err
			}
		} else {
			loc, err := st.Canonical(existing)
			if err != nil {
				return err
			}
			xn, _ := st.Node(loc)
			if !e.schema.IsAssignable(typ, xn.Type) {
				return fmt.Errorf("%w: %s is a %s", ErrAlreadyExists, name, xn.Type)
			}
			return nil
		}
	}

	id, err := st.AddChild(res.Location, name, typ, !isDeclared)
	if err != nil {
		return err
	}
	fx.persistNode(id)
	e.changed(res.Location)
	e.emitCreated(fx, res.Location, id)
	if !isDeclared {
		if err := e.trackListEntry(fx, res.Location, name); err != nil {
			return err
		}
	}
	return e.relink(fx, links)
}

// =============================================================================
// ACTIVATION
// =============================================================================

// Activate marks the resource active. With recursive set the flag
// cascades over owned children that are not references.
func (r *Resource) Activate(recursive bool) error {
	return r.rm.mutate("activate", r.pathStr, func(fx *effects) error {
		return r.setActiveLocked(fx, true, recursive)
	})
}

// Deactivate marks the resource inactive. With recursive set the flag
// cascades over owned children that are not references.
func (r *Resource) Deactivate(recursive bool) error {
	return r.rm.mutate("deactivate", r.pathStr, func(fx *effects) error {
		return r.setActiveLocked(fx, false, recursive)
	})
}

func (r *Resource) setActiveLocked(fx *effects, active, recursive bool) error {
	e := r.rm.e
	st := e.store
	res := r.resolve()
	if !res.Found {
		return ErrVirtualResource
	}
	if !e.allowed(r.rm.name, r.pathStr, permission.Activity) {
		return ErrPermissionDenied
	}
	evt := listener.ResourceDeactivated
	if active {
		evt = listener.ResourceActivated
	}

	visited := make(map[graph.NodeID]struct{})
	var apply func(loc graph.NodeID, path string)
	apply = func(loc graph.NodeID, path string) {
		if _, ok := visited[loc]; ok {
			return
		}
		visited[loc] = struct{}{}
		n, ok := st.Node(loc)
		if !ok {
			return
		}
		if st.SetActive(loc, active) {
			fx.journal(storage.SetActive(uint64(loc), active))
			fx.deliver(e.router.Collect(loc, listener.KindStructure, "", structural(evt, n.Type))...)
			fx.notice(demandNotice{path: st.PrimaryPath(loc), typ: n.Type, available: active})
		}
		if !recursive {
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
			cp := path + graph.Separator + name
			if !e.allowed(r.rm.name, cp, permission.Activity) {
				continue
			}
			apply(id, cp)
		}
	}
	apply(res.Location, r.pathStr)
	return nil
}
