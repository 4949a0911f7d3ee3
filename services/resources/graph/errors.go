// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the arena that stores the resource graph.
//
// Nodes live in a flat table keyed by stable NodeID. Parent/child edges are
// owning edges and form a forest of top-level roots. Reference edges are
// nodes whose Ref field names another node; they alias that node's subtree
// under a second path and may form cycles.
//
// # Location vs Path
//
// A path is the sequence of names walked from a root. The location of a
// node is found by following Ref until a non-reference node is reached.
// Every traversal carries a visited set, so reference cycles terminate.
//
// # Thread Safety
//
// Store exposes its structural lock through LockRead/LockWrite. Every other
// method assumes the caller already holds the lock in the right mode and
// never locks again. Values are the exception: UpdateValue and Value take
// the node's own cell mutex and only need the read lock.
//
// # Lifecycle
//
// Nodes are created inactive. Removing a node does not touch nodes that
// reference it; the caller drops or relinks those first.
package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrNodeNotFound is returned when an id is not in the arena.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateChild is returned when a name is already taken under a
	// parent or among the roots.
	ErrDuplicateChild = errors.New("duplicate child name")

	// ErrHasChildren is returned when removing a node that still owns
	// children.
	ErrHasChildren = errors.New("node has children")

	// ErrReferenceLoop is returned when a single reference chain never
	// reaches a non-reference node. This is a consistency fault, not one of
	// the multi-edge cycles the graph supports.
	ErrReferenceLoop = errors.New("reference chain loops without a canonical node")
)
