// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Store is the node arena plus its indexes.
type Store struct {
	mu sync.RWMutex

	nodes     map[NodeID]*Node
	cells     map[NodeID]*cell
	roots     map[string]NodeID
	referrers map[NodeID]map[NodeID]struct{}
	nextID    NodeID

	revision atomic.Uint64
	undo     *undoLog
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		nodes:     make(map[NodeID]*Node),
		cells:     make(map[NodeID]*cell),
		roots:     make(map[string]NodeID),
		referrers: make(map[NodeID]map[NodeID]struct{}),
		nextID:    1,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LockRead acquires the structural lock for reading.
func (s *Store) LockRead() { s.mu.RLock() }

// UnlockRead releases a read hold.
func (s *Store) UnlockRead() { s.mu.RUnlock() }

// LockWrite acquires the structural lock exclusively.
func (s *Store) LockWrite() { s.mu.Lock() }

// UnlockWrite releases the exclusive hold.
func (s *Store) UnlockWrite() { s.mu.Unlock() }

// Revision returns the structural revision. It needs no lock.
func (s *Store) Revision() uint64 {
	return s.revision.Load()
}

// BumpRevision advances the revision and returns the new value.
func (s *Store) BumpRevision() uint64 {
	return s.revision.Add(1)
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// Len returns the number of nodes, references included.
func (s *Store) Len() int {
	return len(s.nodes)
}

// Node returns a node by id.
func (s *Store) Node(id NodeID) (*Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// Root returns a top-level node by name.
func (s *Store) Root(name string) (NodeID, bool) {
	id, ok := s.roots[name]
	return id, ok
}

// Roots returns all top-level nodes ordered by name.
func (s *Store) Roots() []NodeID {
	names := make([]string, 0, len(s.roots))
	for name := range s.roots {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]NodeID, 0, len(names))
	for _, name := range names {
		out = append(out, s.roots[name])
	}
	return out
}

// Children returns the children of id's location in insertion order.
func (s *Store) Children(id NodeID) []NodeID {
	loc, err := s.Canonical(id)
	if err != nil {
		return nil
	}
	n := s.nodes[loc]
	out := make([]NodeID, 0, len(n.order))
	for _, name := range n.order {
		out = append(out, n.children[name])
	}
	return out
}

// Child returns the named child of id's location.
func (s *Store) Child(id NodeID, name string) (NodeID, bool) {
	loc, err := s.Canonical(id)
	if err != nil {
		return None, false
	}
	return s.nodes[loc].Child(name)
}

// AddRoot creates an inactive top-level node.
func (s *Store) AddRoot(name, typ string) (NodeID, error) {
	if _, ok := s.roots[name]; ok {
		return None, fmt.Errorf("root %s: %w", name, ErrDuplicateChild)
	}
	id := s.allocate()
	s.touch(id)
	s.touchCell(id)
	s.nodes[id] = &Node{
		ID:       id,
		Name:     name,
		Type:     typ,
		Modified: s.now(),
	}
	s.cells[id] = &cell{}
	s.roots[name] = id
	return id, nil
}

// AddChild creates an inactive child under parent's location.
//
// Outputs:
//
//	NodeID - Id of the new node.
//	error - ErrNodeNotFound or ErrDuplicateChild.
func (s *Store) AddChild(parent NodeID, name, typ string, decorator bool) (NodeID, error) {
	owner, err := s.ownerFor(parent, name)
	if err != nil {
		return None, err
	}
	id := s.allocate()
	s.touch(id)
	s.touchCell(id)
	s.touch(owner.ID)
	s.nodes[id] = &Node{
		ID:        id,
		Name:      name,
		Type:      typ,
		Parent:    owner.ID,
		Decorator: decorator,
		Modified:  s.now(),
	}
	s.cells[id] = &cell{}
	owner.addChild(name, id)
	owner.Modified = s.now()
	return id, nil
}

// AddReference creates a reference node under parent's location pointing
// at target. target may itself be a reference.
func (s *Store) AddReference(parent NodeID, name string, target NodeID, decorator bool) (NodeID, error) {
	tn, ok := s.nodes[target]
	if !ok {
		return None, fmt.Errorf("reference target %d: %w", target, ErrNodeNotFound)
	}
	owner, err := s.ownerFor(parent, name)
	if err != nil {
		return None, err
	}
	id := s.allocate()
	s.touch(id)
	s.touch(owner.ID)
	s.nodes[id] = &Node{
		ID:        id,
		Name:      name,
		Type:      tn.Type,
		Parent:    owner.ID,
		Ref:       target,
		Decorator: decorator,
		Modified:  s.now(),
	}
	owner.addChild(name, id)
	owner.Modified = s.now()
	s.addReferrer(target, id)
	return id, nil
}

// Remove deletes a single node. The node must not own children.
func (s *Store) Remove(id NodeID) error {
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("remove %d: %w", id, ErrNodeNotFound)
	}
	if len(n.children) > 0 {
		return fmt.Errorf("remove %d: %w", id, ErrHasChildren)
	}
	s.touch(id)
	s.touchCell(id)
	if n.Parent == None {
		delete(s.roots, n.Name)
	} else if owner, ok := s.nodes[n.Parent]; ok {
		s.touch(owner.ID)
		owner.removeChild(n.Name)
		owner.Modified = s.now()
	}
	if n.Ref != None {
		s.removeReferrer(n.Ref, id)
	}
	delete(s.nodes, id)
	delete(s.cells, id)
	return nil
}

// SetActive sets a node's active flag.
//
// Outputs:
//
//	bool - True if the flag changed.
func (s *Store) SetActive(id NodeID, active bool) bool {
	n, ok := s.nodes[id]
	if !ok || n.Active == active {
		return false
	}
	s.touch(id)
	n.Active = active
	return true
}

// Value returns the value stored at a node's location.
func (s *Store) Value(id NodeID) (any, time.Time, bool) {
	loc, err := s.Canonical(id)
	if err != nil {
		return nil, time.Time{}, false
	}
	c, ok := s.cells[loc]
	if !ok {
		return nil, time.Time{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.modified, true
}

// ValueUpdate decides the next value from the current one.
//
// Returning store=false leaves the value untouched.
type ValueUpdate func(current any) (next any, store bool, err error)

// ValueCommitted runs after a value was stored, still under the cell
// mutex, so work it enqueues keeps the order of the writes.
type ValueCommitted func(previous, next any, at time.Time)

// UpdateValue performs a read-modify-write on the value at id's location.
//
// Description:
//
//	The cell mutex is held across update and committed, which makes every
//	update on one location linearizable. Only the structural read lock is
//	required.
func (s *Store) UpdateValue(id NodeID, update ValueUpdate, committed ValueCommitted) error {
	loc, err := s.Canonical(id)
	if err != nil {
		return err
	}
	c, ok := s.cells[loc]
	if !ok {
		return fmt.Errorf("value of %d: %w", loc, ErrNodeNotFound)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next, store, err := update(c.value)
	if err != nil || !store {
		return err
	}
	s.touchCellLocked(loc, c)
	prev := c.value
	c.value = next
	c.modified = s.now()
	if committed != nil {
		committed(prev, next, c.modified)
	}
	return nil
}

// LastModified returns the later of the structural and value timestamps of
// id's location.
func (s *Store) LastModified(id NodeID) time.Time {
	loc, err := s.Canonical(id)
	if err != nil {
		return time.Time{}
	}
	t := s.nodes[loc].Modified
	if _, vt, ok := s.Value(loc); ok && vt.After(t) {
		t = vt
	}
	return t
}

func (s *Store) ownerFor(parent NodeID, name string) (*Node, error) {
	loc, err := s.Canonical(parent)
	if err != nil {
		return nil, err
	}
	owner := s.nodes[loc]
	if _, taken := owner.children[name]; taken {
		return nil, fmt.Errorf("%s under %d: %w", name, loc, ErrDuplicateChild)
	}
	return owner, nil
}

func (s *Store) allocate() NodeID {
	id := s.nextID
	s.nextID++
	return id
}

func (s *Store) addReferrer(target, ref NodeID) {
	set, ok := s.referrers[target]
	if !ok {
		set = make(map[NodeID]struct{})
		s.referrers[target] = set
	}
	set[ref] = struct{}{}
}

func (s *Store) removeReferrer(target, ref NodeID) {
	if set, ok := s.referrers[target]; ok {
		delete(set, ref)
		if len(set) == 0 {
			delete(s.referrers, target)
		}
	}
}
