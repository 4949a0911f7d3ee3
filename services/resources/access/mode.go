// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package access arbitrates competing write claims on a location.
//
// Consumers request READ_ONLY, SHARED or EXCLUSIVE access at a priority.
// The highest ranked request is granted what it asked for; everybody else
// is granted SHARED, or READ_ONLY when the winner is EXCLUSIVE.
package access

import (
	"fmt"
	"strings"
)

// Mode is a write-claim level.
type Mode int

const (
	// ReadOnly forbids writes.
	ReadOnly Mode = iota

	// Shared allows writes alongside other shared writers.
	Shared

	// Exclusive allows writes and makes every other consumer read-only.
	Exclusive
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "READ_ONLY"
	case Shared:
		return "SHARED"
	case Exclusive:
		return "EXCLUSIVE"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(s) {
	case "READ_ONLY", "READONLY":
		return ReadOnly, nil
	case "SHARED":
		return Shared, nil
	case "EXCLUSIVE":
		return Exclusive, nil
	}
	return ReadOnly, fmt.Errorf("unknown access mode %q", s)
}

// Priority ranks requests. Smaller values win.
type Priority int

const (
	PriorityHighest Priority = iota
	PriorityDeviceSpecific
	PriorityDeviceGroupMax
	PriorityDeviceGroupMin
	PriorityGenericMax
	PriorityGenericMin
	PriorityLowest
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityHighest:
		return "HIGHEST"
	case PriorityDeviceSpecific:
		return "DEVICE_SPECIFIC"
	case PriorityDeviceGroupMax:
		return "DEVICE_GROUP_MAX"
	case PriorityDeviceGroupMin:
		return "DEVICE_GROUP_MIN"
	case PriorityGenericMax:
		return "GENERIC_MAX"
	case PriorityGenericMin:
		return "GENERIC_MIN"
	case PriorityLowest:
		return "LOWEST"
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// Outranks reports whether p wins against q.
func (p Priority) Outranks(q Priority) bool {
	return p < q
}
