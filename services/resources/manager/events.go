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
	"strings"
	"time"

	"github.com/AleutianAI/resgraph/services/resources/graph"
	"github.com/AleutianAI/resgraph/services/resources/listener"
	"github.com/AleutianAI/resgraph/services/resources/schema"
)

// Event builders. Builders run under the router mutex and must not take
// other locks.

func structural(typ listener.EventType, srcType string) listener.Builder {
	return func(_ *listener.Registration, path string) (listener.Event, bool) {
		return listener.Event{Type: typ, Path: path, SourceType: srcType}, true
	}
}

func subresource(typ listener.EventType, srcType, name, childType string) listener.Builder {
	return func(_ *listener.Registration, path string) (listener.Event, bool) {
		return listener.Event{
			Type:        typ,
			Path:        path,
			SourceType:  srcType,
			Changed:     path + graph.Separator + name,
			ChangedType: childType,
		}, true
	}
}

// referenceChange builds REFERENCE_* events for the target of an edge.
// Registrations reaching the target through one of the edge's own paths
// are skipped.
func referenceChange(typ listener.EventType, srcType, referrer, referrerType string, exclude []string) listener.Builder {
	return func(reg *listener.Registration, path string) (listener.Event, bool) {
		if underAny(path, exclude) {
			return listener.Event{}, false
		}
		return listener.Event{
			Type:        typ,
			Path:        path,
			SourceType:  srcType,
			Changed:     referrer,
			ChangedType: referrerType,
		}, true
	}
}

// throughEdge builds RESOURCE_* events for registrations that see a
// location only through one of the given alias paths.
func throughEdge(typ listener.EventType, srcType string, slots []string) listener.Builder {
	return func(_ *listener.Registration, path string) (listener.Event, bool) {
		if !underAny(path, slots) {
			return listener.Event{}, false
		}
		return listener.Event{Type: typ, Path: path, SourceType: srcType}, true
	}
}

func valueChange(srcType string, prev, next any, changed bool, at time.Time) listener.Builder {
	return func(reg *listener.Registration, path string) (listener.Event, bool) {
		if !changed && !reg.EveryUpdate() {
			return listener.Event{}, false
		}
		return listener.Event{
			Path:         path,
			SourceType:   srcType,
			Value:        copyValue(next),
			Previous:     copyValue(prev),
			ValueChanged: changed,
			At:           at,
		}, true
	}
}

func underAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+graph.Separator) {
			return true
		}
	}
	return false
}

// dedupe drops repeated deliveries of the same event type to the same
// registration and path.
type dedupe map[string]struct{}

func (d dedupe) filter(ds []listener.Delivery) []listener.Delivery {
	out := ds[:0]
	for _, del := range ds {
		key := del.Registration.ID() + "\x00" + del.Event.Type.String() + "\x00" + del.Event.Path + "\x00" + del.Event.Changed
		if _, dup := d[key]; dup {
			continue
		}
		d[key] = struct{}{}
		out = append(out, del)
	}
	return out
}

// collectThrough gathers deliveries for every registration that reaches
// the target of edge, or anything below it, through one of edge's alias
// paths. The caller holds the structural write lock.
func (e *Engine) collectThrough(edge graph.NodeID, typ listener.EventType) []listener.Delivery {
	st := e.store
	slots := st.Aliases(edge)
	target, err := st.Canonical(edge)
	if err != nil {
		return nil
	}
	n, ok := st.Node(target)
	if !ok {
		return nil
	}
	out := e.router.Collect(target, listener.KindStructure, "", throughEdge(typ, n.Type, slots))
	st.Walk(target, schema.IsReserved, func(s graph.Step) bool {
		if c, ok := st.Node(s.Location); ok {
			out = append(out, e.router.Collect(s.Location, listener.KindStructure, "", throughEdge(typ, c.Type, slots))...)
		}
		return true
	})
	return out
}
