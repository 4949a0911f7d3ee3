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
	"errors"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrNotFound indicates that no resource exists at a path.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates a collision with an existing resource of an
	// incompatible type.
	ErrAlreadyExists = errors.New("resource already exists with an incompatible type")

	// ErrInvalidType indicates a schema mismatch for an optional element,
	// decorator, reference target or value.
	ErrInvalidType = errors.New("invalid resource type")

	// ErrInvalidName indicates a name that is not a valid identifier or is
	// reserved.
	ErrInvalidName = errors.New("invalid resource name")

	// ErrSelfReference indicates an attempt to bind a resource as a
	// reference to itself.
	ErrSelfReference = errors.New("resource cannot reference itself")

	// ErrVirtualResource indicates an operation that needs a persisted
	// resource was applied to a virtual one.
	ErrVirtualResource = errors.New("resource is virtual")

	// ErrPermissionDenied indicates the permission checker refused the
	// operation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrAccessModeViolation indicates a write without a granted write mode.
	ErrAccessModeViolation = errors.New("write access not granted")

	// ErrClosed indicates the consumer or engine was closed.
	ErrClosed = errors.New("resource manager closed")

	// ErrTransactionFailed indicates a transaction was rolled back.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrIndexOutOfRange indicates an array element index beyond the
	// array's length.
	ErrIndexOutOfRange = errors.New("array index out of range")
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ResourceError reports the operation and path that failed.
type ResourceError struct {
	// Op is the operation name, such as "create" or "setAsReference".
	Op string

	// Path is the path of the handle the operation was applied to.
	Path string

	// Err is the underlying error, usually one of the sentinels above.
	Err error
}

// Error implements the error interface.
func (e *ResourceError) Error() string {
	if e.Path == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ResourceError) Unwrap() error {
	return e.Err
}

func opError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var re *ResourceError
	if errors.As(err, &re) {
		return err
	}
	return &ResourceError{Op: op, Path: path, Err: err}
}
