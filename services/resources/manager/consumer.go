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
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/AleutianAI/resgraph/pkg/taskqueue"
	"github.com/AleutianAI/resgraph/services/resources/graph"
	"github.com/AleutianAI/resgraph/services/resources/listener"
	"github.com/AleutianAI/resgraph/services/resources/permission"
	"github.com/AleutianAI/resgraph/services/resources/schema"
)

// ResourceManager is one application's view of the resource graph.
//
// # Description
//
// The manager's name is the consumer identity used for permission checks
// and access arbitration. Listener and demand callbacks registered
// through it run, in order, on its own task queue.
//
// # Thread Safety
//
// Safe for concurrent use. Callbacks never run concurrently with each
// other.
type ResourceManager struct {
	e      *Engine
	name   string
	queue  *taskqueue.Queue
	closed atomic.Bool
}

func newResourceManager(e *Engine, name string) *ResourceManager {
	return &ResourceManager{
		e:     e,
		name:  name,
		queue: taskqueue.New("consumer/"+name, taskqueue.WithLogger(e.logger.With(slog.String("consumer", name)))),
	}
}

// Name returns the consumer name.
func (rm *ResourceManager) Name() string { return rm.name }

// Engine returns the engine the manager belongs to.
func (rm *ResourceManager) Engine() *Engine { return rm.e }

func (rm *ResourceManager) check() error {
	if rm.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (rm *ResourceManager) mutate(op, path string, fn func(fx *effects) error) error {
	if err := rm.check(); err != nil {
		return opError(op, path, err)
	}
	return rm.e.mutate(op, path, fn)
}

// CreateResource creates the top-level resource name of type typ.
//
// Description:
//
//	An existing resource of the type or a subtype is returned unchanged.
//	The new resource is inactive.
//
// Outputs:
//
//	*Resource - Handle on the resource.
//	error - ErrInvalidName, ErrInvalidType for an unknown type,
//	        ErrAlreadyExists for an existing resource of another type,
//	        ErrPermissionDenied.
func (rm *ResourceManager) CreateResource(name, typ string) (*Resource, error) {
	if !schema.ValidName(name) || schema.IsReserved(name) {
		return nil, opError("createResource", name, ErrInvalidName)
	}
	if !rm.e.schema.Has(typ) {
		return nil, opError("createResource", name, fmt.Errorf("%w: unknown type %q", ErrInvalidType, typ))
	}
	r := rm.handle([]string{name}, []string{typ})
	err := rm.mutate("createResource", name, func(fx *effects) error {
		res := r.resolve()
		if res.Found {
			n, _ := rm.e.store.Node(res.Location)
			if !rm.e.schema.IsAssignable(typ, n.Type) {
				return fmt.Errorf("%w: %s is a %s", ErrAlreadyExists, name, n.Type)
			}
			return nil
		}
		_, err := r.createLocked(fx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// GetResource returns a handle on an existing resource.
//
// Outputs:
//
//	*Resource - Handle on path.
//	error - ErrInvalidName for a malformed path, ErrPermissionDenied,
//	        ErrNotFound if nothing exists at path.
func (rm *ResourceManager) GetResource(path string) (*Resource, error) {
	if err := rm.check(); err != nil {
		return nil, opError("getResource", path, err)
	}
	segs := graph.SplitPath(path)
	if len(segs) == 0 {
		return nil, opError("getResource", path, ErrInvalidName)
	}
	for _, s := range segs {
		if !schema.ValidName(s) || schema.IsReserved(s) {
			return nil, opError("getResource", path, ErrInvalidName)
		}
	}
	if !rm.e.allowed(rm.name, graph.JoinPath(segs), permission.Read) {
		return nil, opError("getResource", path, ErrPermissionDenied)
	}
	r := rm.handle(segs, nil)
	if !r.Exists() {
		return nil, opError("getResource", path, ErrNotFound)
	}
	return r, nil
}

// Handle returns a handle on path without checking that it exists. The
// handle is virtual until the path resolves. Returns nil for a malformed
// path.
func (rm *ResourceManager) Handle(path string) *Resource {
	segs := graph.SplitPath(path)
	if len(segs) == 0 {
		return nil
	}
	for _, s := range segs {
		if !schema.ValidName(s) || schema.IsReserved(s) {
			return nil
		}
	}
	return rm.handle(segs, nil)
}

// TopLevelResources lists the top-level resources whose type is
// assignable to typ. An empty typ lists all of them.
func (rm *ResourceManager) TopLevelResources(typ string) []*Resource {
	e := rm.e
	st := e.store
	st.LockRead()
	defer st.UnlockRead()

	var out []*Resource
	for _, id := range st.Roots() {
		n, ok := st.Node(id)
		if !ok || schema.IsReserved(n.Name) {
			continue
		}
		if typ != "" && !e.schema.IsAssignable(typ, n.Type) {
			continue
		}
		if !e.allowed(rm.name, n.Name, permission.Read) {
			continue
		}
		out = append(out, rm.handle([]string{n.Name}, nil))
	}
	return out
}

// RemoveListener removes a listener registered by this consumer. An event
// already queued may still be delivered.
func (rm *ResourceManager) RemoveListener(id string) error {
	reg, ok := rm.e.router.Registration(id)
	if !ok || reg.Consumer() != rm.name {
		return opError("removeListener", id, ErrNotFound)
	}
	rm.e.store.LockRead()
	rm.e.router.Unregister(id)
	rm.e.store.UnlockRead()
	return nil
}

// Sync waits until every callback queued for this consumer before the
// call has run.
func (rm *ResourceManager) Sync(ctx context.Context) error {
	return rm.queue.Sync(ctx)
}

// Close removes the consumer's listeners, demands and access requests and
// stops its queue. Close is idempotent.
func (rm *ResourceManager) Close() {
	if rm.closed.Swap(true) {
		return
	}
	e := rm.e
	e.store.LockRead()
	e.router.UnregisterConsumer(rm.name)
	e.router.EachMetadata(func(md *listener.Metadata) {
		md.Arbiter().Withdraw(rm.name, e.accessNotifier(md.Location()))
	})
	e.store.UnlockRead()
	e.demand.removeConsumer(rm.name)
	rm.queue.Close()
	e.forget(rm)
}
