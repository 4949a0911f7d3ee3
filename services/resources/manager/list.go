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
	"github.com/AleutianAI/resgraph/services/resources/permission"
	"github.com/AleutianAI/resgraph/services/resources/schema"
)

const (
	listEntriesType = "StringArrayResource"
	listTypeType    = "StringResource"
)

// ResourceList is a view of a ResourceList resource: an ordered collection
// of decorators that all share one entry type.
//
// # Description
//
// Entries are decorators of the list, either plain children created by
// Add or references installed by AddReference. Their order is kept in a
// reserved child, so it survives a restart. Decorators added by other
// means join the list when their type fits the entry type. Entries that
// disappear, because they were deleted or their reference target was,
// are dropped from the order in the same mutation.
//
// The entry type is declared by the owning type for list elements, set
// with SetElementType, or taken from the first reference added.
//
// # Thread Safety
//
// Safe for concurrent use.
type ResourceList struct {
	*Resource
}

// AsList returns a list view of r.
//
// Outputs:
//
//	*ResourceList - The view.
//	error - ErrInvalidType if r is not a ResourceList.
func (r *Resource) AsList() (*ResourceList, error) {
	typ := r.Type()
	if !r.rm.e.schema.IsAssignable(schema.ListType, typ) {
		return nil, opError("asList", r.pathStr, fmt.Errorf("%w: %s is not a %s", ErrInvalidType, typ, schema.ListType))
	}
	return &ResourceList{Resource: r}, nil
}

// ElementType returns the entry type, or "" if none is known yet.
func (l *ResourceList) ElementType() string {
	var typ string
	l.readLocked(func() {
		e := l.rm.e
		res := l.resolve()
		if res.Found {
			typ = e.listElementType(res.Location)
			return
		}
		if len(l.path) < 2 {
			return
		}
		pres := e.store.Resolve(l.path[:len(l.path)-1])
		if !pres.Found {
			return
		}
		if pn, ok := e.store.Node(pres.Location); ok {
			typ, _ = e.schema.ListElementType(pn.Type, l.Name())
		}
	})
	return typ
}

// SetElementType fixes the entry type of a list that has none. Setting the
// current type again does nothing.
//
// Outputs:
//
//	error - ErrInvalidType for an unknown type or a list whose entry type
//	        is already different, ErrVirtualResource, ErrPermissionDenied.
func (l *ResourceList) SetElementType(typ string) error {
	return l.rm.mutate("setElementType", l.pathStr, func(fx *effects) error {
		e := l.rm.e
		if !e.schema.Has(typ) {
			return fmt.Errorf("%w: unknown type %q", ErrInvalidType, typ)
		}
		res := l.resolve()
		if !res.Found {
			return ErrVirtualResource
		}
		if !e.allowed(l.rm.name, l.pathStr, permission.Write) {
			return ErrPermissionDenied
		}
		switch cur := e.listElementType(res.Location); cur {
		case typ:
			return nil
		case "":
			return e.setReserved(fx, res.Location, schema.ListTypeElement, listTypeType, typ)
		default:
			return fmt.Errorf("%w: entry type is already %s", ErrInvalidType, cur)
		}
	})
}

// Add creates a new entry of the entry type, named after the list with a
// numeric suffix.
//
// Outputs:
//
//	*Resource - Handle on the new, inactive entry.
//	error - ErrInvalidType if the entry type is not known,
//	        ErrVirtualResource, ErrPermissionDenied.
func (l *ResourceList) Add() (*Resource, error) {
	var name, typ string
	err := l.rm.mutate("add", l.pathStr, func(fx *effects) error {
		e := l.rm.e
		res := l.resolve()
		if !res.Found {
			return ErrVirtualResource
		}
		if typ = e.listElementType(res.Location); typ == "" {
			return fmt.Errorf("%w: list has no entry type", ErrInvalidType)
		}
		name = e.newListName(res.Location, l.Name())
		return l.addChildLocked(fx, name, typ, false)
	})
	if err != nil {
		return nil, err
	}
	return l.child(name, typ), nil
}

// AddReference appends a new entry referencing target. A list without an
// entry type takes target's type.
//
// Outputs:
//
//	*Resource - Handle on the new entry.
//	error - ErrInvalidType if target does not fit the entry type,
//	        ErrVirtualResource, ErrPermissionDenied.
func (l *ResourceList) AddReference(target *Resource) (*Resource, error) {
	var name string
	err := l.rm.mutate("add", l.pathStr, func(fx *effects) error {
		e := l.rm.e
		if target == nil {
			return ErrVirtualResource
		}
		res := l.resolve()
		if !res.Found {
			return ErrVirtualResource
		}
		tres := target.resolve()
		if !tres.Found {
			return fmt.Errorf("%w: target %s", ErrVirtualResource, target.pathStr)
		}
		tn, _ := e.store.Node(tres.Location)
		switch want := e.listElementType(res.Location); {
		case want == "":
			if err := e.setReserved(fx, res.Location, schema.ListTypeElement, listTypeType, tn.Type); err != nil {
				return err
			}
		case !e.schema.IsAssignable(want, tn.Type):
			return fmt.Errorf("%w: %s is not a %s", ErrInvalidType, tn.Type, want)
		}
		name = e.newListName(res.Location, l.Name())
		return e.installReference(fx, l.rm.name, l.Resource, name, target, false)
	})
	if err != nil {
		return nil, err
	}
	return l.child(name, ""), nil
}

// AllElements returns handles on the entries in list order.
func (l *ResourceList) AllElements() []*Resource {
	var out []*Resource
	l.readLocked(func() {
		e := l.rm.e
		res := l.resolve()
		if !res.Found {
			return
		}
		for _, name := range e.listNames(res.Location) {
			if _, ok := e.store.Child(res.Location, name); ok {
				out = append(out, l.child(name, ""))
			}
		}
	})
	return out
}

// Size returns the number of entries.
func (l *ResourceList) Size() int {
	return len(l.AllElements())
}

// Contains reports whether an entry shares other's location.
func (l *ResourceList) Contains(other *Resource) bool {
	for _, el := range l.AllElements() {
		if el.EqualsLocation(other) {
			return true
		}
	}
	return false
}

// Remove deletes every entry that shares element's location. A reference
// entry loses only its edge.
func (l *ResourceList) Remove(element *Resource) error {
	if element == nil {
		return nil
	}
	return l.rm.mutate("remove", l.pathStr, func(fx *effects) error {
		e := l.rm.e
		res := l.resolve()
		if !res.Found {
			return ErrVirtualResource
		}
		eres := element.resolve()
		if !eres.Found {
			return nil
		}
		for _, name := range e.listNames(res.Location) {
			id, ok := e.store.Child(res.Location, name)
			if !ok {
				continue
			}
			cloc, err := e.store.Canonical(id)
			if err != nil || cloc != eres.Location {
				continue
			}
			if err := l.child(name, "").deleteLocked(fx); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteElement deletes the entry name. Deleting a missing entry does
// nothing.
func (l *ResourceList) DeleteElement(name string) error {
	if !schema.ValidName(name) || schema.IsReserved(name) {
		return opError("deleteElement", l.pathStr, ErrInvalidName)
	}
	return l.rm.mutate("deleteElement", l.pathStr, l.child(name, "").deleteLocked)
}

// =============================================================================
// LIST BOOKKEEPING
// =============================================================================

// isList reports whether the node at loc is a ResourceList.
func (e *Engine) isList(loc graph.NodeID) bool {
	n, ok := e.store.Node(loc)
	return ok && e.schema.IsAssignable(schema.ListType, n.Type)
}

// listElementType returns the entry type of the list at loc. An explicit
// type wins over the one declared by the owner.
func (e *Engine) listElementType(loc graph.NodeID) string {
	st := e.store
	if id, ok := st.Child(loc, schema.ListTypeElement); ok {
		if v, _, _ := st.Value(id); v != nil {
			if typ, ok := v.(string); ok && typ != "" {
				return typ
			}
		}
	}
	n, ok := st.Node(loc)
	if !ok || n.Parent == graph.None {
		return ""
	}
	pn, ok := st.Node(n.Parent)
	if !ok {
		return ""
	}
	typ, _ := e.schema.ListElementType(pn.Type, n.Name)
	return typ
}

// listNames returns the recorded entry order of the list at loc.
func (e *Engine) listNames(loc graph.NodeID) []string {
	id, ok := e.store.Child(loc, schema.ListEntriesElement)
	if !ok {
		return nil
	}
	v, _, _ := e.store.Value(id)
	names, _ := v.([]string)
	return names
}

func (e *Engine) newListName(loc graph.NodeID, list string) string {
	for n := len(e.listNames(loc)); ; n++ {
		name := fmt.Sprintf("%s_%d", list, n)
		if _, taken := e.store.Child(loc, name); !taken {
			return name
		}
	}
}

// trackListEntry appends name to the order of the list at loc when the
// child fits the entry type. The caller holds the structural write lock.
func (e *Engine) trackListEntry(fx *effects, loc graph.NodeID, name string) error {
	if !e.isList(loc) {
		return nil
	}
	want := e.listElementType(loc)
	if want == "" {
		return nil
	}
	id, ok := e.store.Child(loc, name)
	if !ok {
		return nil
	}
	cloc, err := e.store.Canonical(id)
	if err != nil {
		return err
	}
	cn, _ := e.store.Node(cloc)
	if !e.schema.IsAssignable(want, cn.Type) {
		return nil
	}
	names := e.listNames(loc)
	if slices.Contains(names, name) {
		return nil
	}
	return e.setReserved(fx, loc, schema.ListEntriesElement, listEntriesType, append(slices.Clone(names), name))
}

// pruneLists drops vanished entries from the lists that lost children in
// this mutation.
func (e *Engine) pruneLists(fx *effects) error {
	for _, loc := range fx.takeLists() {
		if !e.isList(loc) {
			continue
		}
		names := e.listNames(loc)
		kept := slices.DeleteFunc(slices.Clone(names), func(name string) bool {
			_, ok := e.store.Child(loc, name)
			return !ok
		})
		if len(kept) == len(names) {
			continue
		}
		if err := e.setReserved(fx, loc, schema.ListEntriesElement, listEntriesType, kept); err != nil {
			return err
		}
	}
	return nil
}

// setReserved stores v in the reserved child name of loc, creating it
// first. The caller holds the structural write lock.
func (e *Engine) setReserved(fx *effects, loc graph.NodeID, name, typ string, v any) error {
	st := e.store
	id, ok := st.Child(loc, name)
	if !ok {
		var err error
		if id, err = st.AddChild(loc, name, typ, true); err != nil {
			return err
		}
		st.BumpRevision()
	}
	if err := st.UpdateValue(id, func(any) (any, bool, error) { return v, true, nil }, nil); err != nil {
		return err
	}
	fx.persistNode(id)
	return nil
}
