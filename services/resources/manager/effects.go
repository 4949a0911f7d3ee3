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
	"slices"

	"github.com/AleutianAI/resgraph/services/resources/graph"
	"github.com/AleutianAI/resgraph/services/resources/listener"
	"github.com/AleutianAI/resgraph/services/resources/storage"
	"github.com/AleutianAI/resgraph/services/resources/timeseries"
)

// demandNotice is an availability change of one location.
type demandNotice struct {
	path      string
	typ       string
	available bool
}

// effects collects the side effects of an operation.
//
// # Description
//
// Structural operations and transactions buffer everything and flush once
// the operation succeeded, still holding the structural write lock, so
// queues see effects in mutation order. A rolled back operation simply
// drops its buffer. Value writes outside transactions run immediate
// effects, flushed under the value cell mutex.
//
// # Thread Safety
//
// Not safe for concurrent use. One effects value belongs to one operation.
type effects struct {
	e         *Engine
	immediate bool

	deliveries []listener.Delivery
	ops        []storage.Op
	demand     []demandNotice
	samples    []timeseries.Sample
	dropped    []graph.NodeID
	observed   []observation
	lists      []graph.NodeID
}

// observation is a value a handle saw written.
type observation struct {
	r *Resource
	v any
}

func (e *Engine) buffered() *effects {
	return &effects{e: e}
}

func (e *Engine) immediate() *effects {
	return &effects{e: e, immediate: true}
}

func (fx *effects) deliver(ds ...listener.Delivery) {
	if len(ds) == 0 {
		return
	}
	if fx.immediate {
		fx.e.submitDeliveries(ds)
		return
	}
	fx.deliveries = append(fx.deliveries, ds...)
}

func (fx *effects) journal(ops ...storage.Op) {
	if len(ops) == 0 {
		return
	}
	if fx.immediate {
		fx.e.appendJournal(ops)
		return
	}
	fx.ops = append(fx.ops, ops...)
}

func (fx *effects) notice(n demandNotice) {
	if fx.immediate {
		fx.e.demand.notify([]demandNotice{n})
		return
	}
	fx.demand = append(fx.demand, n)
}

func (fx *effects) sample(s timeseries.Sample) {
	if fx.immediate {
		fx.e.submitSamples([]timeseries.Sample{s})
		return
	}
	fx.samples = append(fx.samples, s)
}

// observe records v as the last value seen through r once the effects
// are flushed.
func (fx *effects) observe(r *Resource, v any) {
	if fx.immediate {
		r.remember(v)
		return
	}
	fx.observed = append(fx.observed, observation{r: r, v: v})
}

// touchList notes a possible list that lost a child. pruneLists consumes
// the notes before the mutation ends.
func (fx *effects) touchList(ids ...graph.NodeID) {
	fx.lists = append(fx.lists, ids...)
}

func (fx *effects) takeLists() []graph.NodeID {
	ids := fx.lists
	fx.lists = nil
	slices.Sort(ids)
	return slices.Compact(ids)
}

// dropMetadata schedules removal of the metadata of deleted locations.
// Deferring it lets a rollback keep access state intact.
func (fx *effects) dropMetadata(locs ...graph.NodeID) {
	fx.dropped = append(fx.dropped, locs...)
}

// flush hands every buffered effect to its queue. The caller holds the
// structural write lock.
func (fx *effects) flush() {
	e := fx.e
	if len(fx.dropped) > 0 {
		e.router.DropMetadata(fx.dropped...)
	}
	e.appendJournal(fx.ops)
	e.submitDeliveries(fx.deliveries)
	e.demand.notify(fx.demand)
	e.submitSamples(fx.samples)
	for _, o := range fx.observed {
		o.r.remember(o.v)
	}
	*fx = effects{e: e, immediate: fx.immediate}
}

func (e *Engine) submitDeliveries(ds []listener.Delivery) {
	if len(ds) == 0 {
		return
	}
	var counts [3]int
	for _, d := range ds {
		if d.Submit() {
			if k := d.Event.Kind; int(k) < len(counts) {
				counts[k]++
			}
		}
	}
	recordEvents("structure", counts[listener.KindStructure])
	recordEvents("value", counts[listener.KindValue])
	recordEvents("access", counts[listener.KindAccess])
}

func (e *Engine) appendJournal(ops []storage.Op) {
	if len(ops) == 0 || e.journal == nil {
		return
	}
	if !e.journal.Append(ops...) {
		e.logger.Warn("journal closed, dropping ops")
	}
}

func (e *Engine) submitSamples(samples []timeseries.Sample) {
	if e.recorder == nil {
		return
	}
	for _, s := range samples {
		e.recorder.Submit(s)
	}
}
