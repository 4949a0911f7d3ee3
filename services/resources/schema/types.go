// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import "maps"

// BaseType is the root of the type hierarchy. Every type extends it.
const BaseType = "Resource"

// ListType is the type of ordered, homogeneous resource collections.
const ListType = "ResourceList"

// ValueKind is the kind of scalar or array a resource type carries.
type ValueKind string

const (
	// KindNone marks structural types without a value.
	KindNone ValueKind = ""

	// KindBoolean carries a bool.
	KindBoolean ValueKind = "boolean"

	// KindInteger carries an int64.
	KindInteger ValueKind = "integer"

	// KindFloat carries a float64.
	KindFloat ValueKind = "float"

	// KindString carries a string.
	KindString ValueKind = "string"

	// KindTime carries milliseconds since the epoch as int64.
	KindTime ValueKind = "time"

	// Array kinds carry a slice of the matching scalar: []bool, []int64,
	// []float64, []string and []int64 milliseconds.
	KindBooleanArray ValueKind = "boolean_array"
	KindIntegerArray ValueKind = "integer_array"
	KindFloatArray   ValueKind = "float_array"
	KindStringArray  ValueKind = "string_array"
	KindTimeArray    ValueKind = "time_array"
)

var arrayElements = map[ValueKind]ValueKind{
	KindBooleanArray: KindBoolean,
	KindIntegerArray: KindInteger,
	KindFloatArray:   KindFloat,
	KindStringArray:  KindString,
	KindTimeArray:    KindTime,
}

// Valid reports whether k is a known value kind.
func (k ValueKind) Valid() bool {
	switch k {
	case KindNone, KindBoolean, KindInteger, KindFloat, KindString, KindTime:
		return true
	}
	return k.IsArray()
}

// IsArray reports whether k is one of the array kinds.
func (k ValueKind) IsArray() bool {
	_, ok := arrayElements[k]
	return ok
}

// Element returns the scalar kind of an array kind's entries, or k itself
// for scalar kinds.
func (k ValueKind) Element() ValueKind {
	if el, ok := arrayElements[k]; ok {
		return el
	}
	return k
}

// TypeDef declares one resource type.
type TypeDef struct {
	// Name is the unique type name.
	Name string `yaml:"name" json:"name"`

	// Extends names the supertype. Empty means BaseType.
	Extends string `yaml:"extends,omitempty" json:"extends,omitempty"`

	// Value is the scalar kind carried by resources of this type. Inherited
	// when empty.
	Value ValueKind `yaml:"value,omitempty" json:"value,omitempty"`

	// Elements maps optional element names to their declared types.
	Elements map[string]string `yaml:"elements,omitempty" json:"elements,omitempty"`

	// Lists maps optional elements of type ResourceList to the type of
	// their entries.
	Lists map[string]string `yaml:"lists,omitempty" json:"lists,omitempty"`

	// Description is free text shown by tooling.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

func (d TypeDef) clone() TypeDef {
	d.Elements = maps.Clone(d.Elements)
	d.Lists = maps.Clone(d.Lists)
	return d
}

func (d TypeDef) equal(o TypeDef) bool {
	return d.Name == o.Name &&
		d.Extends == o.Extends &&
		d.Value == o.Value &&
		maps.Equal(d.Elements, o.Elements) &&
		maps.Equal(d.Lists, o.Lists)
}

// File is the on-disk layout of a type file.
type File struct {
	Types []TypeDef `yaml:"types"`
}
