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

	"github.com/AleutianAI/resgraph/services/resources/permission"
	"github.com/AleutianAI/resgraph/services/resources/schema"
	"github.com/AleutianAI/resgraph/services/resources/storage"
)

const recordingType = "StringResource"

// EnableRecording attaches the resource's location to the time-series
// recorder. Every later value write produces a sample in the returned
// series, named after the location.
//
// The association is persisted as a reserved child holding the series
// name, so it survives a restart. Enabling twice returns the existing
// series.
func (r *Resource) EnableRecording() (string, error) {
	var series string
	err := r.rm.mutate("enableRecording", r.pathStr, func(fx *effects) error {
		e := r.rm.e
		st := e.store
		if !e.allowed(r.rm.name, r.pathStr, permission.Write) {
			return ErrPermissionDenied
		}
		res := r.resolve()
		if !res.Found {
			return ErrVirtualResource
		}
		loc := res.Location
		n, _ := st.Node(loc)
		kind := e.schema.ValueKind(n.Type)
		if kind == schema.KindNone {
			return fmt.Errorf("%w: %s carries no value", ErrInvalidType, n.Type)
		}
		if kind.IsArray() {
			return fmt.Errorf("%w: %s arrays are not recorded", ErrInvalidType, n.Type)
		}
		md := e.router.Metadata(loc)
		if series = md.Recording(); series != "" {
			return nil
		}
		series = st.PrimaryPath(loc)
		if err := e.setReserved(fx, loc, schema.RecordingElement, recordingType, series); err != nil {
			return err
		}
		md.SetRecording(series)
		return nil
	})
	if err != nil {
		return "", err
	}
	return series, nil
}

// DisableRecording detaches the resource from the recorder. Samples
// already submitted are still written.
func (r *Resource) DisableRecording() error {
	return r.rm.mutate("disableRecording", r.pathStr, func(fx *effects) error {
		e := r.rm.e
		st := e.store
		if !e.allowed(r.rm.name, r.pathStr, permission.Write) {
			return ErrPermissionDenied
		}
		res := r.resolve()
		if !res.Found {
			return ErrVirtualResource
		}
		if id, ok := st.Child(res.Location, schema.RecordingElement); ok {
			if err := st.Remove(id); err != nil {
				return err
			}
			st.BumpRevision()
			fx.journal(storage.Delete(uint64(id)))
		}
		if md, ok := e.router.LookupMetadata(res.Location); ok {
			md.SetRecording("")
		}
		return nil
	})
}

// IsRecording reports whether value writes are recorded.
func (r *Resource) IsRecording() bool {
	var on bool
	r.readLocked(func() {
		res := r.resolve()
		if !res.Found {
			return
		}
		if md, ok := r.rm.e.router.LookupMetadata(res.Location); ok {
			on = md.Recording() != ""
		}
	})
	return on
}
