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
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/AleutianAI/resgraph/services/resources/graph"
	"github.com/AleutianAI/resgraph/services/resources/schema"
	"github.com/AleutianAI/resgraph/services/resources/storage"
)

// coerce converts v to the Go representation of kind: bool, int64,
// float64 or string, or a slice of one of them for array kinds. Time
// values are int64 milliseconds. Array results never share memory with v.
func coerce(kind schema.ValueKind, v any) (any, error) {
	if kind.IsArray() {
		return coerceArray(kind, v)
	}
	if n, ok := v.(json.Number); ok {
		switch kind {
		case schema.KindInteger, schema.KindTime:
			return n.Int64()
		case schema.KindFloat:
			return n.Float64()
		}
	}
	switch kind {
	case schema.KindBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case schema.KindInteger, schema.KindTime:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint32:
			return int64(n), nil
		case float64:
			if n == math.Trunc(n) && !math.IsInf(n, 0) {
				return int64(n), nil
			}
		case time.Time:
			if kind == schema.KindTime {
				return n.UnixMilli(), nil
			}
		}
	case schema.KindFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case schema.KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %T is not a %s value", ErrInvalidType, v, kind)
}

func coerceArray(kind schema.ValueKind, v any) (any, error) {
	var items []any
	switch x := v.(type) {
	case nil:
	case []any:
		items = x
	case []bool:
		items = anySlice(x)
	case []int:
		items = anySlice(x)
	case []int32:
		items = anySlice(x)
	case []int64:
		items = anySlice(x)
	case []float32:
		items = anySlice(x)
	case []float64:
		items = anySlice(x)
	case []string:
		items = anySlice(x)
	case []time.Time:
		items = anySlice(x)
	default:
		return nil, fmt.Errorf("%w: %T is not a %s value", ErrInvalidType, v, kind)
	}
	el := kind.Element()
	switch el {
	case schema.KindBoolean:
		return collect[bool](el, items)
	case schema.KindInteger, schema.KindTime:
		return collect[int64](el, items)
	case schema.KindFloat:
		return collect[float64](el, items)
	default:
		return collect[string](el, items)
	}
}

func anySlice[T any](xs []T) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

func collect[T any](el schema.ValueKind, items []any) (any, error) {
	out := make([]T, len(items))
	for i, it := range items {
		c, err := coerce(el, it)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = c.(T)
	}
	return out, nil
}

// zeroValue returns the value of a value resource that was never written.
// Arrays start empty.
func zeroValue(kind schema.ValueKind) any {
	switch kind {
	case schema.KindBoolean:
		return false
	case schema.KindInteger, schema.KindTime:
		return int64(0)
	case schema.KindFloat:
		return float64(0)
	case schema.KindString:
		return ""
	case schema.KindBooleanArray:
		return []bool{}
	case schema.KindIntegerArray, schema.KindTimeArray:
		return []int64{}
	case schema.KindFloatArray:
		return []float64{}
	case schema.KindStringArray:
		return []string{}
	}
	return nil
}

// valuesEqual compares two stored values. Arrays compare element-wise.
func valuesEqual(a, b any) bool {
	switch x := a.(type) {
	case []bool:
		y, ok := b.([]bool)
		return ok && slices.Equal(x, y)
	case []int64:
		y, ok := b.([]int64)
		return ok && slices.Equal(x, y)
	case []float64:
		y, ok := b.([]float64)
		return ok && slices.Equal(x, y)
	case []string:
		y, ok := b.([]string)
		return ok && slices.Equal(x, y)
	}
	return a == b
}

// copyValue returns v with arrays cloned, so stored slices are never
// handed out.
func copyValue(v any) any {
	switch x := v.(type) {
	case []bool:
		return slices.Clone(x)
	case []int64:
		return slices.Clone(x)
	case []float64:
		return slices.Clone(x)
	case []string:
		return slices.Clone(x)
	}
	return v
}

func encodeValue(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func decodeValue(kind schema.ValueKind, raw json.RawMessage) (any, error) {
	if len(raw) == 0 || kind == schema.KindNone {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return coerce(kind, v)
}

func (e *Engine) snapshotFromRecord(rec storage.Record) (graph.Snapshot, error) {
	snap := graph.Snapshot{
		ID:        graph.NodeID(rec.ID),
		Name:      rec.Name,
		Type:      rec.Type,
		Parent:    graph.NodeID(rec.Parent),
		Ref:       graph.NodeID(rec.Ref),
		Decorator: rec.Decorator,
		Active:    rec.Active,
	}
	if rec.Modified != 0 {
		snap.Modified = time.UnixMilli(rec.Modified)
	}
	if rec.Ref != 0 {
		return snap, nil
	}
	v, err := decodeValue(e.schema.ValueKind(rec.Type), rec.Value)
	if err != nil {
		return snap, err
	}
	snap.Value = v
	return snap, nil
}

// record builds the persisted form of a node. The caller holds the
// structural lock.
func (e *Engine) record(id graph.NodeID) (storage.Record, bool) {
	snap, ok := e.store.Snapshot(id)
	if !ok {
		return storage.Record{}, false
	}
	rec := storage.Record{
		ID:        uint64(snap.ID),
		Parent:    uint64(snap.Parent),
		Name:      snap.Name,
		Type:      snap.Type,
		Ref:       uint64(snap.Ref),
		Decorator: snap.Decorator,
		Active:    snap.Active,
		Value:     encodeValue(snap.Value),
	}
	if !snap.Modified.IsZero() {
		rec.Modified = snap.Modified.UnixMilli()
	}
	return rec, true
}

func (fx *effects) persistNode(id graph.NodeID) {
	if rec, ok := fx.e.record(id); ok {
		fx.journal(storage.Put(rec))
	}
}
