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
	"slices"
	"time"
)

// Snapshot is the persisted form of a node.
type Snapshot struct {
	ID        NodeID
	Name      string
	Type      string
	Parent    NodeID
	Ref       NodeID
	Decorator bool
	Active    bool
	Value     any
	Modified  time.Time
}

// Snapshot returns the persisted form of a node.
func (s *Store) Snapshot(id NodeID) (Snapshot, bool) {
	n, ok := s.nodes[id]
	if !ok {
		return Snapshot{}, false
	}
	snap := Snapshot{
		ID:        n.ID,
		Name:      n.Name,
		Type:      n.Type,
		Parent:    n.Parent,
		Ref:       n.Ref,
		Decorator: n.Decorator,
		Active:    n.Active,
		Modified:  n.Modified,
	}
	if c, ok := s.cells[id]; ok {
		c.mu.Lock()
		snap.Value = c.value
		c.mu.Unlock()
	}
	return snap, true
}

// Restore loads persisted nodes into an empty store.
//
// Description:
//
//	Children are attached in id order, which is creation order. Nodes whose
//	parent is missing, or references whose target is missing, are dropped
//	together with everything below them.
//
// Outputs:
//
//	[]NodeID - Ids that were dropped as orphans.
func (s *Store) Restore(snaps []Snapshot) []NodeID {
	sorted := slices.Clone(snaps)
	slices.SortFunc(sorted, func(a, b Snapshot) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	byID := make(map[NodeID]Snapshot, len(sorted))
	for _, sn := range sorted {
		byID[sn.ID] = sn
	}

	// A node is kept if its owner chain reaches a root and, for references,
	// the target is kept too.
	state := make(map[NodeID]int8) // 0 unknown, 1 visiting, 2 kept, 3 dropped
	var keep func(id NodeID) bool
	keep = func(id NodeID) bool {
		switch state[id] {
		case 1, 3:
			return false
		case 2:
			return true
		}
		sn, ok := byID[id]
		if !ok {
			return false
		}
		state[id] = 1
		ok = sn.Parent == None || keep(sn.Parent)
		if ok && sn.Parent != None && byID[sn.Parent].Ref != None {
			ok = false
		}
		if ok && sn.Ref != None {
			ok = keep(sn.Ref)
		}
		if ok {
			state[id] = 2
		} else {
			state[id] = 3
		}
		return ok
	}

	var dropped []NodeID
	for _, sn := range sorted {
		if sn.ID >= s.nextID {
			s.nextID = sn.ID + 1
		}
		if !keep(sn.ID) {
			dropped = append(dropped, sn.ID)
			continue
		}
		n := &Node{
			ID:        sn.ID,
			Name:      sn.Name,
			Type:      sn.Type,
			Parent:    sn.Parent,
			Ref:       sn.Ref,
			Decorator: sn.Decorator,
			Active:    sn.Active,
			Modified:  sn.Modified,
		}
		s.nodes[sn.ID] = n
		if sn.Ref == None {
			s.cells[sn.ID] = &cell{value: sn.Value, modified: sn.Modified}
		}
	}
	for _, sn := range sorted {
		n, ok := s.nodes[sn.ID]
		if !ok || n.Parent == None {
			continue
		}
		s.nodes[n.Parent].addChild(n.Name, n.ID)
	}
	s.reindex()
	s.BumpRevision()
	return dropped
}
