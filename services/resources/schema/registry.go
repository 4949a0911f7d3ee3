// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
)

// Registry maps resource types to their supertypes, value kinds and
// declared optional elements.
//
// # Description
//
// The registry replaces reflective accessor lookup: every name-based
// navigation asks ElementType for the declared type of a (parent type,
// element name) pair. Types may only be added, never removed or changed,
// so answers for existing types are stable for the lifetime of a process.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]TypeDef
}

// NewRegistry creates a registry holding only BaseType.
func NewRegistry() *Registry {
	return &Registry{
		types: map[string]TypeDef{
			BaseType: {Name: BaseType, Description: "Root of the type hierarchy."},
		},
	}
}

// Register adds type definitions.
//
// # Description
//
// The batch is validated as a whole, so definitions may reference each
// other in any order. Re-registering an identical definition is a no-op;
// a differing one fails with ErrConflictingType. Nothing is added unless
// the whole batch is valid.
//
// # Inputs
//
//   - defs: Definitions to add.
//
// # Outputs
//
//   - []string: Names of newly added types, sorted.
//   - error: Non-nil if any definition is invalid.
func (r *Registry) Register(defs ...TypeDef) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make(map[string]TypeDef, len(defs))
	for _, d := range defs {
		d = d.clone()
		if d.Name != BaseType && d.Extends == "" {
			d.Extends = BaseType
		}
		if !ValidName(d.Name) {
			return nil, fmt.Errorf("type %q: %w", d.Name, ErrInvalidName)
		}
		if !d.Value.Valid() {
			return nil, fmt.Errorf("type %s: value kind %q: %w", d.Name, d.Value, ErrUnknownType)
		}
		if existing, ok := r.types[d.Name]; ok {
			if d.Name == BaseType || existing.equal(d) {
				continue
			}
			return nil, fmt.Errorf("type %s: %w", d.Name, ErrConflictingType)
		}
		if prior, ok := pending[d.Name]; ok && !prior.equal(d) {
			return nil, fmt.Errorf("type %s declared twice: %w", d.Name, ErrConflictingType)
		}
		pending[d.Name] = d
	}

	known := func(name string) (TypeDef, bool) {
		if d, ok := pending[name]; ok {
			return d, true
		}
		d, ok := r.types[name]
		return d, ok
	}

	for _, d := range pending {
		if _, ok := known(d.Extends); !ok {
			return nil, fmt.Errorf("type %s extends %s: %w", d.Name, d.Extends, ErrUnknownType)
		}
		for el, typ := range d.Elements {
			if !ValidName(el) {
				return nil, fmt.Errorf("type %s element %q: %w", d.Name, el, ErrInvalidName)
			}
			if _, ok := known(typ); !ok {
				return nil, fmt.Errorf("type %s element %s: %s: %w", d.Name, el, typ, ErrUnknownType)
			}
		}
		if len(d.Lists) > 0 {
			if _, ok := known(ListType); !ok {
				return nil, fmt.Errorf("type %s lists: %s: %w", d.Name, ListType, ErrUnknownType)
			}
		}
		for el, typ := range d.Lists {
			if !ValidName(el) {
				return nil, fmt.Errorf("type %s list %q: %w", d.Name, el, ErrInvalidName)
			}
			if _, dup := d.Elements[el]; dup {
				return nil, fmt.Errorf("type %s declares %s as element and list: %w", d.Name, el, ErrConflictingType)
			}
			if _, ok := known(typ); !ok {
				return nil, fmt.Errorf("type %s list %s: %s: %w", d.Name, el, typ, ErrUnknownType)
			}
		}

		// Walk the supertype chain: detect cycles and conflicting kinds.
		seen := map[string]bool{d.Name: true}
		kind := d.Value
		for cur := d.Extends; cur != ""; {
			if seen[cur] {
				return nil, fmt.Errorf("type %s: %w", d.Name, ErrInheritanceCycle)
			}
			seen[cur] = true
			sup, _ := known(cur)
			if sup.Value != KindNone {
				if kind != KindNone && kind != sup.Value {
					return nil, fmt.Errorf("type %s value %s narrows %s of %s: %w",
						d.Name, kind, sup.Value, sup.Name, ErrConflictingType)
				}
				kind = sup.Value
			}
			cur = sup.Extends
		}
	}

	added := make([]string, 0, len(pending))
	for name, d := range pending {
		r.types[name] = d
		added = append(added, name)
	}
	sort.Strings(added)
	return added, nil
}

// Lookup returns the definition of a type.
func (r *Registry) Lookup(name string) (TypeDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.types[name]
	if !ok {
		return TypeDef{}, false
	}
	return d.clone(), true
}

// Has reports whether a type is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[name]
	return ok
}

// IsAssignable reports whether a resource of type candidate may be used
// where target is expected, i.e. candidate is target or one of its
// subtypes.
func (r *Registry) IsAssignable(target, candidate string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for cur, hops := candidate, 0; cur != "" && hops <= len(r.types); hops++ {
		if cur == target {
			return true
		}
		d, ok := r.types[cur]
		if !ok {
			return false
		}
		cur = d.Extends
	}
	return false
}

// ElementType returns the declared type of an optional element, searching
// the supertype chain. Declared lists report ListType.
func (r *Registry) ElementType(typ, element string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for cur, hops := typ, 0; cur != "" && hops <= len(r.types); hops++ {
		d, ok := r.types[cur]
		if !ok {
			return "", false
		}
		if t, ok := d.Elements[element]; ok {
			return t, true
		}
		if _, ok := d.Lists[element]; ok {
			return ListType, true
		}
		cur = d.Extends
	}
	return "", false
}

// ListElementType returns the entry type of a declared list element.
func (r *Registry) ListElementType(typ, element string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for cur, hops := typ, 0; cur != "" && hops <= len(r.types); hops++ {
		d, ok := r.types[cur]
		if !ok {
			return "", false
		}
		if _, ok := d.Elements[element]; ok {
			return "", false
		}
		if t, ok := d.Lists[element]; ok {
			return t, true
		}
		cur = d.Extends
	}
	return "", false
}

// Elements returns all optional elements of a type including inherited
// ones. Subtypes override inherited declarations of the same name.
func (r *Registry) Elements(typ string) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var chain []TypeDef
	for cur, hops := typ, 0; cur != "" && hops <= len(r.types); hops++ {
		d, ok := r.types[cur]
		if !ok {
			break
		}
		chain = append(chain, d)
		cur = d.Extends
	}
	out := make(map[string]string)
	for _, d := range slices.Backward(chain) {
		maps.Copy(out, d.Elements)
		for name := range d.Lists {
			out[name] = ListType
		}
	}
	return out
}

// ValueKind returns the value kind of a type, searching the supertype
// chain.
func (r *Registry) ValueKind(typ string) ValueKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for cur, hops := typ, 0; cur != "" && hops <= len(r.types); hops++ {
		d, ok := r.types[cur]
		if !ok {
			return KindNone
		}
		if d.Value != KindNone {
			return d.Value
		}
		cur = d.Extends
	}
	return KindNone
}

// Types returns every registered definition sorted by name.
func (r *Registry) Types() []TypeDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TypeDef, 0, len(r.types))
	for _, d := range r.types {
		out = append(out, d.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
