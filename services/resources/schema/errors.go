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

import "errors"

var (
	// ErrUnknownType is returned when a type name is not registered.
	ErrUnknownType = errors.New("unknown resource type")

	// ErrInvalidName is returned when a type or element name violates the
	// identifier rule.
	ErrInvalidName = errors.New("invalid name")

	// ErrConflictingType is returned when a type is registered twice with
	// different definitions.
	ErrConflictingType = errors.New("conflicting type definition")

	// ErrInheritanceCycle is returned when a type extends itself, directly
	// or through other types.
	ErrInheritanceCycle = errors.New("type inheritance cycle")
)
