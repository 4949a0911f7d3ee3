// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package access

import (
	"container/heap"
	"sort"
	"sync"
)

// Request is one consumer's claim on a location.
type Request struct {
	Consumer string
	Mode     Mode
	Priority Priority
	Seq      uint64
	Granted  Mode

	queued bool
	index  int
}

// Fulfilled reports whether the consumer got what it asked for.
func (r *Request) Fulfilled() bool {
	return r.Granted == r.Mode
}

// Transition reports a flip of a consumer's fulfilled flag.
type Transition struct {
	Consumer  string
	Requested Mode
	Granted   Mode
	Fulfilled bool
}

// Notify receives transitions. It runs under the arbiter's monitor and
// must only hand work off, never block.
type Notify func([]Transition)

// Arbiter holds the request queue of one location.
//
// Thread Safety: Arbiter is safe for concurrent use. Its mutex is the
// per-location monitor and is independent of the structural lock.
type Arbiter struct {
	mu       sync.Mutex
	seq      uint64
	queue    requestQueue
	requests map[string]*Request
}

// NewArbiter creates an arbiter with no requests.
func NewArbiter() *Arbiter {
	return &Arbiter{requests: make(map[string]*Request)}
}

// Request records a consumer's claim and recomputes grants.
//
// Description:
//
//	The consumer's previous request is replaced. A READ_ONLY request is
//	not queued: it withdraws any queued claim and leaves a record granted
//	READ_ONLY, which is always fulfilled.
//
// Inputs:
//
//	consumer - Requesting consumer.
//	mode - Requested mode.
//	prio - Request priority.
//	notify - Receives fulfilled-flag flips, including the requester's own.
//
// Outputs:
//
//	bool - Whether the request is fulfilled after recomputation.
func (a *Arbiter) Request(consumer string, mode Mode, prio Priority, notify Notify) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	before := a.fulfilledLocked()
	if _, had := before[consumer]; !had {
		before[consumer] = true
	}

	if old, ok := a.requests[consumer]; ok && old.queued {
		heap.Remove(&a.queue, old.index)
	}
	a.seq++
	req := &Request{
		Consumer: consumer,
		Mode:     mode,
		Priority: prio,
		Seq:      a.seq,
		Granted:  ReadOnly,
	}
	a.requests[consumer] = req
	if mode != ReadOnly {
		req.queued = true
		heap.Push(&a.queue, req)
	}

	a.recomputeLocked()
	a.notifyLocked(before, notify)
	return req.Fulfilled()
}

// Withdraw drops a consumer's record without notifying it. Other
// consumers are notified of resulting flips.
func (a *Arbiter) Withdraw(consumer string, notify Notify) {
	a.mu.Lock()
	defer a.mu.Unlock()

	old, ok := a.requests[consumer]
	if !ok {
		return
	}
	before := a.fulfilledLocked()
	delete(before, consumer)
	if old.queued {
		heap.Remove(&a.queue, old.index)
	}
	delete(a.requests, consumer)

	a.recomputeLocked()
	a.notifyLocked(before, notify)
}

// Mode returns the mode currently granted to consumer.
//
// A consumer without a record gets what any non-head consumer gets:
// READ_ONLY under an exclusive holder, SHARED otherwise.
func (a *Arbiter) Mode(consumer string) Mode {
	a.mu.Lock()
	defer a.mu.Unlock()

	if r, ok := a.requests[consumer]; ok {
		return r.Granted
	}
	if len(a.queue) > 0 && a.queue[0].Mode == Exclusive {
		return ReadOnly
	}
	return Shared
}

// Priority returns consumer's queued priority, or PriorityLowest. READ_ONLY
// records are not queued.
func (a *Arbiter) Priority(consumer string) Priority {
	a.mu.Lock()
	defer a.mu.Unlock()

	if r, ok := a.requests[consumer]; ok && r.queued {
		return r.Priority
	}
	return PriorityLowest
}

// Holder returns the head of the queue.
func (a *Arbiter) Holder() (Request, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.queue) == 0 {
		return Request{}, false
	}
	return *a.queue[0], true
}

// Requests returns a copy of every record ordered by rank; non-queued
// records follow the queue.
func (a *Arbiter) Requests() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Request, 0, len(a.requests))
	for _, r := range a.requests {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].queued != out[j].queued {
			return out[i].queued
		}
		return ranksBefore(&out[i], &out[j])
	})
	return out
}

func (a *Arbiter) recomputeLocked() {
	var head *Request
	if len(a.queue) > 0 {
		head = a.queue[0]
	}
	others := Shared
	if head != nil && head.Mode == Exclusive {
		others = ReadOnly
	}
	for _, r := range a.requests {
		switch {
		case !r.queued:
			r.Granted = ReadOnly
		case r == head:
			r.Granted = r.Mode
		default:
			r.Granted = others
		}
	}
}

func (a *Arbiter) fulfilledLocked() map[string]bool {
	out := make(map[string]bool, len(a.requests))
	for c, r := range a.requests {
		out[c] = r.Fulfilled()
	}
	return out
}

func (a *Arbiter) notifyLocked(before map[string]bool, notify Notify) {
	if notify == nil {
		return
	}
	var flips []Transition
	for c, was := range before {
		r, ok := a.requests[c]
		if !ok || r.Fulfilled() == was {
			continue
		}
		flips = append(flips, Transition{
			Consumer:  c,
			Requested: r.Mode,
			Granted:   r.Granted,
			Fulfilled: r.Fulfilled(),
		})
	}
	if len(flips) == 0 {
		return
	}
	sort.Slice(flips, func(i, j int) bool { return flips[i].Consumer < flips[j].Consumer })
	notify(flips)
}

// ranksBefore orders by priority, then EXCLUSIVE before SHARED, then
// sequence.
func ranksBefore(x, y *Request) bool {
	if x.Priority != y.Priority {
		return x.Priority < y.Priority
	}
	if x.Mode != y.Mode {
		return x.Mode == Exclusive
	}
	return x.Seq < y.Seq
}

// requestQueue implements heap.Interface over queued requests.
type requestQueue []*Request

func (q requestQueue) Len() int           { return len(q) }
func (q requestQueue) Less(i, j int) bool { return ranksBefore(q[i], q[j]) }

func (q requestQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *requestQueue) Push(x any) {
	r := x.(*Request)
	r.index = len(*q)
	*q = append(*q, r)
}

func (q *requestQueue) Pop() any {
	old := *q
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.index = -1
	*q = old[:n-1]
	return r
}
