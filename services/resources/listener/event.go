// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package listener routes graph events to registered listeners.
//
// Registrations are made against a path. The router resolves the path to
// the location currently reachable there and attaches the registration to
// that location's Metadata; recursive registrations are attached to every
// location reachable below as well. When the structure changes, the
// registrations whose resolution passed through a changed node are
// re-derived, which moves them to whatever is reachable at their path now.
//
// Events are never delivered on the mutating goroutine. Deliveries are
// queued on the owning consumer's task queue and run there in order.
package listener

import (
	"fmt"
	"time"

	"github.com/AleutianAI/resgraph/services/resources/access"
)

// Kind selects which events a registration receives.
type Kind int

const (
	// KindStructure receives topology and activity events.
	KindStructure Kind = iota

	// KindValue receives value writes.
	KindValue

	// KindAccess receives access-mode transitions of its own consumer.
	KindAccess

	kindCount
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindStructure:
		return "structure"
	case KindValue:
		return "value"
	case KindAccess:
		return "access"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// EventType is the type of a structural event.
type EventType int

const (
	ResourceCreated EventType = iota + 1
	ResourceDeleted
	ResourceActivated
	ResourceDeactivated
	SubresourceAdded
	SubresourceRemoved
	ReferenceAdded
	ReferenceRemoved
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case ResourceCreated:
		return "RESOURCE_CREATED"
	case ResourceDeleted:
		return "RESOURCE_DELETED"
	case ResourceActivated:
		return "RESOURCE_ACTIVATED"
	case ResourceDeactivated:
		return "RESOURCE_DEACTIVATED"
	case SubresourceAdded:
		return "SUBRESOURCE_ADDED"
	case SubresourceRemoved:
		return "SUBRESOURCE_REMOVED"
	case ReferenceAdded:
		return "REFERENCE_ADDED"
	case ReferenceRemoved:
		return "REFERENCE_REMOVED"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Event is delivered to one registration.
type Event struct {
	Kind Kind

	// Path is the source resource as seen from the registration: its own
	// path, or a path below it for recursive registrations.
	Path string

	// SourceType is the type of the source at emission time.
	SourceType string

	// Type is set for structural events.
	Type EventType

	// Changed is the affected subresource for SUBRESOURCE_* events and the
	// referencing parent for REFERENCE_* events.
	Changed string

	// ChangedType is the type of Changed at emission time.
	ChangedType string

	// Value, Previous, ValueChanged and At are set for value events.
	Value        any
	Previous     any
	ValueChanged bool
	At           time.Time

	// Transition is set for access events.
	Transition access.Transition
}
