// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// OpKind is the kind of a persistence op.
type OpKind int

const (
	OpPut OpKind = iota + 1
	OpDelete
	OpSetValue
	OpSetActive
)

// String returns the op name.
func (k OpKind) String() string {
	switch k {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	case OpSetValue:
		return "set_value"
	case OpSetActive:
		return "set_active"
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}

// Op is one mutation to persist.
type Op struct {
	Kind     OpKind
	Record   Record
	ID       uint64
	Active   bool
	Value    json.RawMessage
	Modified int64
}

// Put creates an OpPut.
func Put(rec Record) Op { return Op{Kind: OpPut, Record: rec, ID: rec.ID} }

// Delete creates an OpDelete.
func Delete(id uint64) Op { return Op{Kind: OpDelete, ID: id} }

// SetValue creates an OpSetValue.
func SetValue(id uint64, value json.RawMessage, modified int64) Op {
	return Op{Kind: OpSetValue, ID: id, Value: value, Modified: modified}
}

// SetActive creates an OpSetActive.
func SetActive(id uint64, active bool) Op {
	return Op{Kind: OpSetActive, ID: id, Active: active}
}

// Apply runs ops against b, as one batch when b supports it.
func Apply(ctx context.Context, b Backend, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	if batcher, ok := b.(Batcher); ok {
		return batcher.ApplyBatch(ctx, ops)
	}
	for _, op := range ops {
		if err := ApplyOne(ctx, b, op); err != nil {
			return err
		}
	}
	return nil
}

// ApplyOne runs a single op against b.
func ApplyOne(ctx context.Context, b Backend, op Op) error {
	var err error
	switch op.Kind {
	case OpPut:
		err = b.PutNode(ctx, op.Record)
	case OpDelete:
		err = b.DeleteNode(ctx, op.ID)
	case OpSetValue:
		err = b.SetValue(ctx, op.ID, op.Value, op.Modified)
	case OpSetActive:
		err = b.SetActive(ctx, op.ID, op.Active)
	default:
		err = fmt.Errorf("unknown op kind %d", op.Kind)
	}
	if err != nil {
		return fmt.Errorf("%s %d: %w", op.Kind, op.ID, err)
	}
	return nil
}
