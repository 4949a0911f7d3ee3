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
	"slices"
	"sort"
	"strings"
)

// Separator joins path segments.
const Separator = "/"

// maxAliases bounds alias expansion on densely cross-referenced graphs.
const maxAliases = 4096

// SplitPath splits a slash separated path, ignoring empty segments.
func SplitPath(path string) []string {
	parts := strings.Split(path, Separator)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinPath joins segments into a path.
func JoinPath(segments []string) string {
	return strings.Join(segments, Separator)
}

// Canonical follows reference targets from id until a non-reference node is
// reached.
//
// Outputs:
//
//	NodeID - The location of id.
//	error - ErrNodeNotFound for a dangling id, ErrReferenceLoop if the
//	        chain revisits a node.
func (s *Store) Canonical(id NodeID) (NodeID, error) {
	return s.canonical(id, nil)
}

func (s *Store) canonical(id NodeID, route *[]NodeID) (NodeID, error) {
	var visited map[NodeID]struct{}
	for cur := id; ; {
		n, ok := s.nodes[cur]
		if !ok {
			return None, fmt.Errorf("canonical %d: %w", cur, ErrNodeNotFound)
		}
		if route != nil && cur != id {
			*route = append(*route, cur)
		}
		if n.Ref == None {
			return cur, nil
		}
		if visited == nil {
			visited = make(map[NodeID]struct{}, 4)
		}
		if _, seen := visited[cur]; seen {
			return None, fmt.Errorf("canonical %d: %w", id, ErrReferenceLoop)
		}
		visited[cur] = struct{}{}
		cur = n.Ref
	}
}

// Resolution is the outcome of walking a path.
type Resolution struct {
	// Node is the node named by the last segment. It may be a reference.
	Node NodeID

	// Location is the canonical node behind Node.
	Location NodeID

	// Route lists every node visited, reference hops included. For a
	// partial walk it ends at the deepest location reached.
	Route []NodeID

	// Depth is the number of segments that resolved.
	Depth int

	// Found is true when every segment resolved.
	Found bool

	// Err is set when a reference chain on the way is broken.
	Err error
}

// Resolve walks path from its root.
func (s *Store) Resolve(path []string) Resolution {
	var res Resolution
	if len(path) == 0 {
		return res
	}
	id, ok := s.roots[path[0]]
	if !ok {
		return res
	}
	res.Route = append(res.Route, id)
	loc, err := s.canonical(id, &res.Route)
	if err != nil {
		res.Err = err
		return res
	}
	last := id
	for i := 1; i < len(path); i++ {
		res.Depth = i
		child, ok := s.nodes[loc].children[path[i]]
		if !ok {
			return res
		}
		res.Route = append(res.Route, child)
		next, err := s.canonical(child, &res.Route)
		if err != nil {
			res.Err = err
			return res
		}
		last, loc = child, next
	}
	res.Node = last
	res.Location = loc
	res.Depth = len(path)
	res.Found = true
	return res
}

// PrimarySegments returns the names on the owning-parent chain from the
// root down to id.
func (s *Store) PrimarySegments(id NodeID) []string {
	var segs []string
	seen := make(map[NodeID]struct{})
	for cur := id; cur != None; {
		n, ok := s.nodes[cur]
		if !ok {
			return nil
		}
		if _, loop := seen[cur]; loop {
			return nil
		}
		seen[cur] = struct{}{}
		segs = append(segs, n.Name)
		cur = n.Parent
	}
	slices.Reverse(segs)
	return segs
}

// PrimaryPath returns the owning-parent path of id.
func (s *Store) PrimaryPath(id NodeID) string {
	return JoinPath(s.PrimarySegments(id))
}

// Referrers returns the reference nodes whose direct target is id.
func (s *Store) Referrers(id NodeID) []NodeID {
	set := s.referrers[id]
	out := make([]NodeID, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// IncomingReferences returns every reference node whose chain ends at loc,
// directly or through other references.
func (s *Store) IncomingReferences(loc NodeID) []NodeID {
	var out []NodeID
	seen := map[NodeID]struct{}{loc: {}}
	queue := []NodeID{loc}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for r := range s.referrers[cur] {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
			queue = append(queue, r)
		}
	}
	slices.Sort(out)
	return out
}

// Aliases returns every path that resolves to id, sorted. Paths looping
// through a reference cycle are cut at the first repetition.
func (s *Store) Aliases(id NodeID) []string {
	out := s.aliases(id, make(map[NodeID]bool))
	sort.Strings(out)
	return slices.Compact(out)
}

func (s *Store) aliases(id NodeID, visiting map[NodeID]bool) []string {
	if visiting[id] {
		return nil
	}
	n, ok := s.nodes[id]
	if !ok {
		return nil
	}
	visiting[id] = true
	defer delete(visiting, id)

	var out []string
	if n.Parent == None {
		out = append(out, n.Name)
	} else {
		for _, p := range s.aliases(n.Parent, visiting) {
			out = append(out, p+Separator+n.Name)
			if len(out) >= maxAliases {
				return out
			}
		}
	}
	for r := range s.referrers[id] {
		out = append(out, s.aliases(r, visiting)...)
		if len(out) >= maxAliases {
			return out[:maxAliases]
		}
	}
	return out
}

// Step is one edge visited by Walk.
type Step struct {
	// Node is the child node. It may be a reference.
	Node NodeID

	// Location is the canonical node behind Node.
	Location NodeID

	// Path is relative to the walk's start.
	Path []string
}

// Walk visits everything reachable below start, following references.
//
// Description:
//
//	Each child node is entered at most once, so a reference back to an
//	ancestor is reported but not descended into again. Children whose
//	name matches skip are ignored. Returning false from fn stops the walk.
func (s *Store) Walk(start NodeID, skip func(name string) bool, fn func(Step) bool) {
	loc, err := s.Canonical(start)
	if err != nil {
		return
	}
	visited := map[NodeID]struct{}{start: {}, loc: {}}
	s.walk(loc, nil, visited, skip, fn)
}

func (s *Store) walk(loc NodeID, rel []string, visited map[NodeID]struct{}, skip func(string) bool, fn func(Step) bool) bool {
	n := s.nodes[loc]
	for _, name := range n.order {
		if skip != nil && skip(name) {
			continue
		}
		child := n.children[name]
		if _, seen := visited[child]; seen {
			continue
		}
		visited[child] = struct{}{}
		cl, err := s.Canonical(child)
		if err != nil {
			continue
		}
		p := append(slices.Clip(rel), name)
		if !fn(Step{Node: child, Location: cl, Path: p}) {
			return false
		}
		if !s.walk(cl, p, visited, skip, fn) {
			return false
		}
	}
	return true
}

// Subtree collects the nodes owned by id through parent edges.
//
// Outputs:
//
//	nodes - Non-reference descendants in post-order, id last.
//	refs - Reference nodes owned by any of them.
func (s *Store) Subtree(id NodeID) (nodes, refs []NodeID) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, nil
	}
	if n.Ref != None {
		return nil, []NodeID{id}
	}
	var collect func(id NodeID)
	collect = func(id NodeID) {
		n := s.nodes[id]
		for _, name := range n.order {
			child := n.children[name]
			if s.nodes[child].Ref != None {
				refs = append(refs, child)
				continue
			}
			collect(child)
		}
		nodes = append(nodes, id)
	}
	collect(id)
	return nodes, refs
}

// Contains reports whether id is owned, through parent edges, by ancestor.
// A node contains itself.
func (s *Store) Contains(ancestor, id NodeID) bool {
	for cur, hops := id, 0; cur != None && hops <= len(s.nodes); hops++ {
		if cur == ancestor {
			return true
		}
		n, ok := s.nodes[cur]
		if !ok {
			return false
		}
		cur = n.Parent
	}
	return false
}
