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
	"log/slog"
	"testing"

	"pgregory.net/rapid"
)

// TestEquality_RandomAliasing builds random aliasing among "setting" elements and
// checks location equality against a union model, plus reflexivity,
// symmetry, transitivity and path-implies-location.
func TestEquality_RandomAliasing(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e, err := NewEngine(WithLogger(slog.New(slog.DiscardHandler)))
		if err != nil {
			t.Fatalf("engine: %v", err)
		}
		defer e.Close()
		rm, err := e.Consumer("app")
		if err != nil {
			t.Fatalf("consumer: %v", err)
		}

		n := rapid.IntRange(1, 6).Draw(t, "tops")
		root := make([]int, n)
		handles := make([]*Resource, 0, 2*n)
		for i := 0; i < n; i++ {
			top, err := rm.CreateResource(fmt.Sprintf("T%d", i), "Switch")
			if err != nil {
				t.Fatalf("create T%d: %v", i, err)
			}
			if i == 0 || rapid.Bool().Draw(t, fmt.Sprintf("real%d", i)) {
				if _, err := top.AddOptionalElement("setting"); err != nil {
					t.Fatalf("add T%d/setting: %v", i, err)
				}
				root[i] = i
			} else {
				j := rapid.IntRange(0, i-1).Draw(t, fmt.Sprintf("target%d", i))
				target := handles[len(handles)-2*(i-j)]
				if _, err := top.SetOptionalElement("setting", target); err != nil {
					t.Fatalf("link T%d/setting -> T%d/setting: %v", i, j, err)
				}
				root[i] = root[j]
			}
			// Two handles per path: the one from navigation and a fresh one.
			fresh, err := rm.GetResource(fmt.Sprintf("T%d/setting", i))
			if err != nil {
				t.Fatalf("get T%d/setting: %v", i, err)
			}
			handles = append(handles, top.SubResource("setting"), fresh)
		}

		index := func(k int) int { return k / 2 }
		for a, ha := range handles {
			if !ha.EqualsLocation(ha) {
				t.Fatalf("%s not location-equal to itself", ha.Path())
			}
			for b, hb := range handles {
				want := root[index(a)] == root[index(b)]
				got := ha.EqualsLocation(hb)
				if got != want {
					t.Fatalf("EqualsLocation(%s, %s) = %v, want %v", ha.Path(), hb.Path(), got, want)
				}
				if got != hb.EqualsLocation(ha) {
					t.Fatalf("EqualsLocation not symmetric for %s, %s", ha.Path(), hb.Path())
				}
				if ha.EqualsPath(hb) != (index(a) == index(b)) {
					t.Fatalf("EqualsPath(%s, %s) wrong", ha.Path(), hb.Path())
				}
				if ha.EqualsPath(hb) && !got {
					t.Fatalf("EqualsPath without EqualsLocation for %s, %s", ha.Path(), hb.Path())
				}
				for _, hc := range handles {
					if got && hb.EqualsLocation(hc) && !ha.EqualsLocation(hc) {
						t.Fatalf("EqualsLocation not transitive over %s, %s, %s", ha.Path(), hb.Path(), hc.Path())
					}
				}
			}
		}
	})
}
