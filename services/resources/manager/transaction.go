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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/resgraph/services/resources/access"
	"github.com/AleutianAI/resgraph/services/resources/schema"
)

// Transaction batches operations that commit all or nothing.
//
// # Description
//
// Operations are recorded by the builder methods and run by Commit under
// a single structural write lock. If any of them fails, structure and
// values return to their state before Commit and no event, journal entry
// or sample of the transaction is emitted. Access requests are the
// exception: grants made by earlier operations stay in effect and their
// notifications are delivered immediately.
//
// # Thread Safety
//
// A Transaction is built and committed by one goroutine.
type Transaction struct {
	id  string
	rm  *ResourceManager
	ops []txOp
}

type txOp struct {
	name string
	path string
	run  func(fx *effects) error
}

// NewTransaction starts an empty transaction.
func (rm *ResourceManager) NewTransaction() *Transaction {
	return &Transaction{id: uuid.NewString(), rm: rm}
}

// ID identifies the transaction in traces and logs.
func (t *Transaction) ID() string { return t.id }

func (t *Transaction) add(name string, r *Resource, run func(fx *effects) error) *Transaction {
	path := ""
	if r != nil {
		path = r.pathStr
	}
	t.ops = append(t.ops, txOp{name: name, path: path, run: run})
	return t
}

// Len returns the number of recorded operations.
func (t *Transaction) Len() int { return len(t.ops) }

// Create records r.Create.
func (t *Transaction) Create(r *Resource) *Transaction {
	return t.add("create", r, func(fx *effects) error {
		_, err := r.createLocked(fx)
		return err
	})
}

// Delete records r.Delete.
func (t *Transaction) Delete(r *Resource) *Transaction {
	return t.add("delete", r, r.deleteLocked)
}

// Activate records r.Activate.
func (t *Transaction) Activate(r *Resource, recursive bool) *Transaction {
	return t.add("activate", r, func(fx *effects) error {
		return r.setActiveLocked(fx, true, recursive)
	})
}

// Deactivate records r.Deactivate.
func (t *Transaction) Deactivate(r *Resource, recursive bool) *Transaction {
	return t.add("deactivate", r, func(fx *effects) error {
		return r.setActiveLocked(fx, false, recursive)
	})
}

// SetValue records r.SetValue.
func (t *Transaction) SetValue(r *Resource, v any) *Transaction {
	return t.add("setValue", r, func(fx *effects) error {
		return r.updateLocked(fx, func(kind schema.ValueKind, _ any) (any, bool, error) {
			next, err := coerce(kind, v)
			return next, err == nil, err
		})
	})
}

// SetAsReference records r.SetAsReference(other).
func (t *Transaction) SetAsReference(r, other *Resource) *Transaction {
	return t.add("setAsReference", r, func(fx *effects) error {
		return r.setAsReferenceLocked(fx, other)
	})
}

// AddDecorator records owner.AddDecorator(name, typ).
func (t *Transaction) AddDecorator(owner *Resource, name, typ string) *Transaction {
	return t.add("addDecorator", owner, func(fx *effects) error {
		return owner.addChildLocked(fx, name, typ, false)
	})
}

// RequestAccessMode records r.RequestAccessMode. The outcome of the
// request is reported through access-mode listeners.
func (t *Transaction) RequestAccessMode(r *Resource, mode access.Mode, prio access.Priority) *Transaction {
	return t.add("requestAccessMode", r, func(*effects) error {
		_, err := r.requestAccessLocked(mode, prio)
		return err
	})
}

// Commit runs the recorded operations.
//
// Description:
//
//	The context is checked between operations; cancellation rolls the
//	transaction back like a failed operation.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing. Must not be nil.
//
// Outputs:
//
//	error - Nil on success. Otherwise a *ResourceError wrapping
//	        ErrTransactionFailed and the cause.
func (t *Transaction) Commit(ctx context.Context) error {
	rm := t.rm
	if ctx == nil {
		return errors.New("ctx must not be nil")
	}
	if err := rm.check(); err != nil {
		return opError("commit", "", err)
	}
	e := rm.e
	ctx, span := startTxSpan(ctx, t.id, rm.name, len(t.ops))
	defer span.End()
	start := time.Now()

	st := e.store
	st.LockWrite()
	defer st.UnlockWrite()

	st.BeginUndo()
	fx := e.buffered()
	for i, op := range t.ops {
		err := ctx.Err()
		if err == nil {
			err = op.run(fx)
		}
		if err == nil {
			continue
		}
		st.Rollback()
		e.router.RederiveAll()
		recordTransaction(ctx, false)
		recordOp("commit", start, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "rolled back")
		e.logger.Debug("transaction rolled back",
			slog.String("transaction", t.id),
			slog.String("consumer", rm.name),
			slog.Int("op", i),
			slog.String("name", op.name),
			slog.Any("error", err))
		return &ResourceError{
			Op:   "commit",
			Path: op.path,
			Err:  fmt.Errorf("%w: op %d (%s): %w", ErrTransactionFailed, i, op.name, err),
		}
	}
	st.CommitUndo()
	fx.flush()
	recordTransaction(ctx, true)
	recordOp("commit", start, nil)
	return nil
}
