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

import (
	"strings"
	"unicode"
)

// ReservedPrefix marks child names used for internal bookkeeping. Such
// names are never valid for consumers.
const ReservedPrefix = "@"

// RecordingElement is the reserved child that persists a time-series
// association.
const RecordingElement = ReservedPrefix + "recording"

// ListEntriesElement is the reserved child of a ResourceList holding the
// names of its entries in order.
const ListEntriesElement = ReservedPrefix + "elements"

// ListTypeElement is the reserved child of a ResourceList holding an
// explicitly set entry type.
const ListTypeElement = ReservedPrefix + "elementType"

// ValidName reports whether name may be used for a resource or element.
//
// The first rune must be a letter, '_' or '$'; the rest may also contain
// digits.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || r == '$' || unicode.IsLetter(r):
		case i > 0 && unicode.IsDigit(r):
		default:
			return false
		}
	}
	return true
}

// IsReserved reports whether name is an internal bookkeeping name.
func IsReserved(name string) bool {
	return strings.HasPrefix(name, ReservedPrefix)
}
