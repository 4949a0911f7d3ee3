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

import "time"

// undoLog keeps the first before-image of every node and value cell
// touched since BeginUndo. A nil image means the entry did not exist.
type undoLog struct {
	nodes  map[NodeID]*Node
	cells  map[NodeID]*cellImage
	nextID NodeID
}

type cellImage struct {
	value    any
	modified time.Time
}

// BeginUndo starts recording before-images. Caller holds the write lock
// until CommitUndo or Rollback.
func (s *Store) BeginUndo() {
	s.undo = &undoLog{
		nodes:  make(map[NodeID]*Node),
		cells:  make(map[NodeID]*cellImage),
		nextID: s.nextID,
	}
}

// UndoActive reports whether before-images are being recorded.
func (s *Store) UndoActive() bool {
	return s.undo != nil
}

// CommitUndo discards the recorded before-images.
func (s *Store) CommitUndo() {
	s.undo = nil
}

// Rollback restores every node and value touched since BeginUndo and
// rebuilds the root and referrer indexes. The revision is advanced so
// handles re-resolve.
//
// Outputs:
//
//	[]NodeID - Ids that were touched, for listener re-derivation.
func (s *Store) Rollback() []NodeID {
	u := s.undo
	if u == nil {
		return nil
	}
	s.undo = nil

	touched := make([]NodeID, 0, len(u.nodes))
	for id, img := range u.nodes {
		touched = append(touched, id)
		if img == nil {
			delete(s.nodes, id)
			continue
		}
		s.nodes[id] = img
	}
	for id, img := range u.cells {
		if img == nil {
			delete(s.cells, id)
			continue
		}
		s.cells[id] = &cell{value: img.value, modified: img.modified}
	}
	s.nextID = u.nextID
	s.reindex()
	s.BumpRevision()
	return touched
}

func (s *Store) touch(id NodeID) {
	if s.undo == nil {
		return
	}
	if _, ok := s.undo.nodes[id]; ok {
		return
	}
	if n, ok := s.nodes[id]; ok {
		s.undo.nodes[id] = n.clone()
	} else {
		s.undo.nodes[id] = nil
	}
}

func (s *Store) touchCell(id NodeID) {
	if s.undo == nil {
		return
	}
	if _, ok := s.undo.cells[id]; ok {
		return
	}
	c, ok := s.cells[id]
	if !ok {
		s.undo.cells[id] = nil
		return
	}
	c.mu.Lock()
	s.undo.cells[id] = &cellImage{value: c.value, modified: c.modified}
	c.mu.Unlock()
}

// touchCellLocked is touchCell for a cell whose mutex the caller holds.
func (s *Store) touchCellLocked(id NodeID, c *cell) {
	if s.undo == nil {
		return
	}
	if _, ok := s.undo.cells[id]; ok {
		return
	}
	s.undo.cells[id] = &cellImage{value: c.value, modified: c.modified}
}

func (s *Store) reindex() {
	s.roots = make(map[string]NodeID)
	s.referrers = make(map[NodeID]map[NodeID]struct{})
	for id, n := range s.nodes {
		if n.Parent == None {
			s.roots[n.Name] = id
		}
		if n.Ref != None {
			s.addReferrer(n.Ref, id)
		}
	}
}
