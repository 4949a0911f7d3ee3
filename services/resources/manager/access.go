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
	"time"

	"github.com/AleutianAI/resgraph/services/resources/access"
	"github.com/AleutianAI/resgraph/services/resources/graph"
	"github.com/AleutianAI/resgraph/services/resources/listener"
	"github.com/AleutianAI/resgraph/services/resources/permission"
)

// RequestAccessMode records the consumer's claim on the resource's
// location and recomputes the grants.
//
// Description:
//
//	Access state lives with the location, so every alias path shares it.
//	Transitions of any consumer's fulfilled flag are delivered to that
//	consumer's access-mode listeners. READ_ONLY releases a claim.
//
// Inputs:
//
//	mode - Requested mode.
//	prio - Request priority. PriorityHighest outranks everything.
//
// Outputs:
//
//	bool - Whether the request is fulfilled right now.
//	error - ErrVirtualResource, or ErrPermissionDenied when a writing mode
//	        is requested without write permission.
func (r *Resource) RequestAccessMode(mode access.Mode, prio access.Priority) (bool, error) {
	if err := r.rm.check(); err != nil {
		return false, err
	}
	e := r.rm.e
	start := time.Now()
	e.store.LockRead()
	defer e.store.UnlockRead()

	ok, err := r.requestAccessLocked(mode, prio)
	recordOp("requestAccessMode", start, err)
	return ok, opError("requestAccessMode", r.pathStr, err)
}

func (r *Resource) requestAccessLocked(mode access.Mode, prio access.Priority) (bool, error) {
	e := r.rm.e
	res := r.resolve()
	if !res.Found {
		return false, ErrVirtualResource
	}
	if mode != access.ReadOnly && !e.allowed(r.rm.name, r.pathStr, permission.Write) {
		return false, ErrPermissionDenied
	}
	md := e.router.Metadata(res.Location)
	return md.Arbiter().Request(r.rm.name, mode, prio, e.accessNotifier(res.Location)), nil
}

// AccessMode returns the mode granted to the consumer. A virtual resource
// is READ_ONLY.
func (r *Resource) AccessMode() access.Mode {
	mode := access.ReadOnly
	r.readLocked(func() {
		res := r.resolve()
		if !res.Found {
			return
		}
		md, ok := r.rm.e.router.LookupMetadata(res.Location)
		if !ok {
			mode = access.Shared
			return
		}
		mode = md.Arbiter().Mode(r.rm.name)
	})
	return mode
}

// AccessPriority returns the priority of the consumer's claim, or
// PriorityLowest without one.
func (r *Resource) AccessPriority() access.Priority {
	prio := access.PriorityLowest
	r.readLocked(func() {
		res := r.resolve()
		if !res.Found {
			return
		}
		if md, ok := r.rm.e.router.LookupMetadata(res.Location); ok {
			prio = md.Arbiter().Priority(r.rm.name)
		}
	})
	return prio
}

// accessNotifier routes arbiter transitions of loc to the access-mode
// registrations of the affected consumer. It runs under the arbiter
// monitor and only enqueues.
func (e *Engine) accessNotifier(loc graph.NodeID) access.Notify {
	return func(ts []access.Transition) {
		recordTransitions(len(ts))
		for _, t := range ts {
			e.submitDeliveries(e.router.Collect(loc, listener.KindAccess, t.Consumer,
				func(_ *listener.Registration, path string) (listener.Event, bool) {
					return listener.Event{Path: path, Transition: t}, true
				}))
		}
	}
}
