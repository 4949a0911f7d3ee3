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
	"maps"
	"slices"
	"sync"
	"time"
)

// NodeID identifies a node for the lifetime of the store. IDs are never
// reused.
type NodeID uint64

// None is the zero NodeID. It is the parent of top-level nodes.
const None NodeID = 0

// Node is one entry of the arena.
//
// Nodes returned by Store are owned by the store. Callers read them while
// holding the structural lock and never mutate them.
type Node struct {
	ID        NodeID
	Name      string
	Type      string
	Parent    NodeID
	Ref       NodeID
	Decorator bool
	Active    bool
	Modified  time.Time

	children map[string]NodeID
	order    []string
}

// IsReference reports whether the node aliases another node.
func (n *Node) IsReference() bool {
	return n.Ref != None
}

// IsTopLevel reports whether the node is a root.
func (n *Node) IsTopLevel() bool {
	return n.Parent == None
}

// Child returns the id of a named child.
func (n *Node) Child(name string) (NodeID, bool) {
	id, ok := n.children[name]
	return id, ok
}

// ChildNames returns child names in insertion order.
func (n *Node) ChildNames() []string {
	return slices.Clone(n.order)
}

func (n *Node) clone() *Node {
	c := *n
	c.children = maps.Clone(n.children)
	c.order = slices.Clone(n.order)
	return &c
}

func (n *Node) addChild(name string, id NodeID) {
	if n.children == nil {
		n.children = make(map[string]NodeID)
	}
	n.children[name] = id
	n.order = append(n.order, name)
}

func (n *Node) removeChild(name string) {
	delete(n.children, name)
	if i := slices.Index(n.order, name); i >= 0 {
		n.order = slices.Delete(n.order, i, i+1)
	}
}

// cell holds the value of a non-reference node behind its own mutex.
type cell struct {
	mu       sync.Mutex
	value    any
	modified time.Time
}
