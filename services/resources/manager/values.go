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
	"fmt"
	"time"

	"github.com/AleutianAI/resgraph/services/resources/access"
	"github.com/AleutianAI/resgraph/services/resources/listener"
	"github.com/AleutianAI/resgraph/services/resources/permission"
	"github.com/AleutianAI/resgraph/services/resources/schema"
	"github.com/AleutianAI/resgraph/services/resources/storage"
	"github.com/AleutianAI/resgraph/services/resources/timeseries"
)

// valueUpdate computes the next value from the current one, which is the
// kind's zero value if nothing was written yet.
type valueUpdate func(kind schema.ValueKind, current any) (next any, store bool, err error)

// Value returns the current value.
//
// Description:
//
//	A value resource that was never written reads as its kind's zero
//	value. A virtual handle returns the last value it observed, which
//	keeps the value of a deleted resource readable until the path is
//	recreated.
//
// Outputs:
//
//	any - bool, int64, float64 or string, or a slice of one of them for
//	      array resources. Time values are int64 milliseconds since the
//	      epoch. Arrays are copies.
//	error - ErrInvalidType for a resource without a value kind,
//	        ErrVirtualResource if nothing was ever observed,
//	        ErrPermissionDenied.
func (r *Resource) Value() (any, error) {
	if err := r.rm.check(); err != nil {
		return nil, err
	}
	e := r.rm.e
	if !e.allowed(r.rm.name, r.pathStr, permission.Read) {
		return nil, opError("value", r.pathStr, ErrPermissionDenied)
	}
	e.store.LockRead()
	defer e.store.UnlockRead()

	res := r.resolve()
	if !res.Found {
		if v, ok := r.lastValue(); ok {
			return copyValue(v), nil
		}
		return nil, opError("value", r.pathStr, ErrVirtualResource)
	}
	n, _ := e.store.Node(res.Location)
	kind := e.schema.ValueKind(n.Type)
	if kind == schema.KindNone {
		return nil, opError("value", r.pathStr, fmt.Errorf("%w: %s carries no value", ErrInvalidType, n.Type))
	}
	v, _, _ := e.store.Value(res.Location)
	if v == nil {
		v = zeroValue(kind)
	}
	r.remember(v)
	return copyValue(v), nil
}

// BooleanValue returns the value of a boolean resource.
func (r *Resource) BooleanValue() (bool, error) {
	return typedValue[bool](r)
}

// IntegerValue returns the value of an integer or time resource.
func (r *Resource) IntegerValue() (int64, error) {
	return typedValue[int64](r)
}

// FloatValue returns the value of a float resource.
func (r *Resource) FloatValue() (float64, error) {
	return typedValue[float64](r)
}

// StringValue returns the value of a string resource.
func (r *Resource) StringValue() (string, error) {
	return typedValue[string](r)
}

// TimeValue returns the value of a time resource.
func (r *Resource) TimeValue() (time.Time, error) {
	ms, err := typedValue[int64](r)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// BooleanArrayValue returns the entries of a boolean array resource.
func (r *Resource) BooleanArrayValue() ([]bool, error) {
	return typedValue[[]bool](r)
}

// IntegerArrayValue returns the entries of an integer or time array
// resource.
func (r *Resource) IntegerArrayValue() ([]int64, error) {
	return typedValue[[]int64](r)
}

// FloatArrayValue returns the entries of a float array resource.
func (r *Resource) FloatArrayValue() ([]float64, error) {
	return typedValue[[]float64](r)
}

// StringArrayValue returns the entries of a string array resource.
func (r *Resource) StringArrayValue() ([]string, error) {
	return typedValue[[]string](r)
}

// TimeArrayValue returns the entries of a time array resource.
func (r *Resource) TimeArrayValue() ([]time.Time, error) {
	ms, err := typedValue[[]int64](r)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(ms))
	for i, m := range ms {
		out[i] = time.UnixMilli(m)
	}
	return out, nil
}

// Size returns the number of entries of an array resource.
func (r *Resource) Size() (int, error) {
	v, err := r.Value()
	if err != nil {
		return 0, err
	}
	n, ok := arrayLen(v)
	if !ok {
		return 0, opError("size", r.pathStr, fmt.Errorf("%w: value is %T, not an array", ErrInvalidType, v))
	}
	return n, nil
}

// ElementValue returns entry i of an array resource.
func (r *Resource) ElementValue(i int) (any, error) {
	v, err := r.Value()
	if err != nil {
		return nil, err
	}
	n, ok := arrayLen(v)
	if !ok {
		return nil, opError("elementValue", r.pathStr, fmt.Errorf("%w: value is %T, not an array", ErrInvalidType, v))
	}
	if i < 0 || i >= n {
		return nil, opError("elementValue", r.pathStr, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, n))
	}
	switch x := v.(type) {
	case []bool:
		return x[i], nil
	case []int64:
		return x[i], nil
	case []float64:
		return x[i], nil
	}
	return v.([]string)[i], nil
}

// SetElementValue replaces entry i of an array resource. Listeners see
// the whole array change.
func (r *Resource) SetElementValue(i int, v any) error {
	return r.write("setElementValue", func(kind schema.ValueKind, cur any) (any, bool, error) {
		if !kind.IsArray() {
			return nil, false, fmt.Errorf("%w: %s resource", ErrInvalidType, kind)
		}
		el, err := coerce(kind.Element(), v)
		if err != nil {
			return nil, false, err
		}
		n, _ := arrayLen(cur)
		if i < 0 || i >= n {
			return nil, false, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, n)
		}
		next := copyValue(cur)
		switch x := next.(type) {
		case []bool:
			x[i] = el.(bool)
		case []int64:
			x[i] = el.(int64)
		case []float64:
			x[i] = el.(float64)
		case []string:
			x[i] = el.(string)
		}
		return next, true, nil
	})
}

func arrayLen(v any) (int, bool) {
	switch x := v.(type) {
	case []bool:
		return len(x), true
	case []int64:
		return len(x), true
	case []float64:
		return len(x), true
	case []string:
		return len(x), true
	}
	return 0, false
}

func typedValue[T any](r *Resource) (T, error) {
	var zero T
	v, err := r.Value()
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, opError("value", r.pathStr, fmt.Errorf("%w: value is %T, not %T", ErrInvalidType, v, zero))
	}
	return t, nil
}

// SetValue writes v. Integers and floats are converted within their kind,
// time.Time is accepted by time resources. Array resources take a slice
// of any convertible element type and store a copy.
func (r *Resource) SetValue(v any) error {
	return r.write("setValue", func(kind schema.ValueKind, _ any) (any, bool, error) {
		next, err := coerce(kind, v)
		return next, err == nil, err
	})
}

// GetAndSet writes v and returns the previous value.
func (r *Resource) GetAndSet(v any) (any, error) {
	var prev any
	err := r.write("getAndSet", func(kind schema.ValueKind, cur any) (any, bool, error) {
		next, err := coerce(kind, v)
		if err != nil {
			return nil, false, err
		}
		prev = copyValue(cur)
		return next, true, nil
	})
	return prev, err
}

// GetAndAdd adds delta to an integer resource and returns the previous
// value. Concurrent calls on one location are linearizable.
func (r *Resource) GetAndAdd(delta int64) (int64, error) {
	var prev int64
	err := r.write("getAndAdd", func(kind schema.ValueKind, cur any) (any, bool, error) {
		n, ok := cur.(int64)
		if !ok || kind != schema.KindInteger {
			return nil, false, fmt.Errorf("%w: %s resource", ErrInvalidType, kind)
		}
		prev = n
		return n + delta, true, nil
	})
	return prev, err
}

// GetAndAddFloat adds delta to a float resource and returns the previous
// value.
func (r *Resource) GetAndAddFloat(delta float64) (float64, error) {
	var prev float64
	err := r.write("getAndAdd", func(kind schema.ValueKind, cur any) (any, bool, error) {
		f, ok := cur.(float64)
		if !ok {
			return nil, false, fmt.Errorf("%w: %s resource", ErrInvalidType, kind)
		}
		prev = f
		return f + delta, true, nil
	})
	return prev, err
}

// CompareAndSet writes update if the current value equals expect.
//
// Outputs:
//
//	bool - True if the value was written.
//	error - As for SetValue.
func (r *Resource) CompareAndSet(expect, update any) (bool, error) {
	var swapped bool
	err := r.write("compareAndSet", func(kind schema.ValueKind, cur any) (any, bool, error) {
		want, err := coerce(kind, expect)
		if err != nil {
			return nil, false, err
		}
		next, err := coerce(kind, update)
		if err != nil {
			return nil, false, err
		}
		if !valuesEqual(cur, want) {
			return nil, false, nil
		}
		swapped = true
		return next, true, nil
	})
	return swapped, err
}

// write runs fn under the read lock with immediate effects.
func (r *Resource) write(op string, fn valueUpdate) error {
	if err := r.rm.check(); err != nil {
		return err
	}
	e := r.rm.e
	start := time.Now()
	e.store.LockRead()
	defer e.store.UnlockRead()

	err := r.updateLocked(e.immediate(), fn)
	recordOp(op, start, err)
	return opError(op, r.pathStr, err)
}

// updateLocked performs a value write. The caller holds the structural
// lock in either mode.
func (r *Resource) updateLocked(fx *effects, fn valueUpdate) error {
	e := r.rm.e
	st := e.store
	if !e.allowed(r.rm.name, r.pathStr, permission.Write) {
		return ErrPermissionDenied
	}
	res := r.resolve()
	if res.Found {
		if md, ok := e.router.LookupMetadata(res.Location); ok && md.Arbiter().Mode(r.rm.name) == access.ReadOnly {
			return ErrAccessModeViolation
		}
	}
	if !res.Found {
		return ErrVirtualResource
	}
	loc := res.Location
	n, _ := st.Node(loc)
	kind := e.schema.ValueKind(n.Type)
	if kind == schema.KindNone {
		return fmt.Errorf("%w: %s carries no value", ErrInvalidType, n.Type)
	}
	active := n.Active
	typ := n.Type

	return st.UpdateValue(loc, func(cur any) (any, bool, error) {
		if cur == nil {
			cur = zeroValue(kind)
		}
		return fn(kind, cur)
	}, func(prev, next any, at time.Time) {
		if prev == nil {
			prev = zeroValue(kind)
		}
		fx.observe(r, next)
		fx.journal(storage.SetValue(uint64(loc), encodeValue(next), at.UnixMilli()))
		if active {
			fx.deliver(e.router.Collect(loc, listener.KindValue, "",
				valueChange(typ, prev, next, !valuesEqual(prev, next), at))...)
		}
		if md, ok := e.router.LookupMetadata(loc); ok {
			if series := md.Recording(); series != "" {
				fx.sample(timeseries.Sample{
					Series:   series,
					Location: st.PrimaryPath(loc),
					Type:     typ,
					Value:    next,
					At:       at,
				})
			}
		}
	})
}
