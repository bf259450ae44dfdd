// Copyright 2024 The Staticlower Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package static

import (
	"reflect"
	"testing"
)

func TestGreedyColoringValid(t *testing.T) {
	names := []string{"a", "b", "c", "d", "e"}
	edges := [][2]string{{"a", "b"}, {"b", "c"}, {"a", "c"}, {"d", "e"}}

	build := func() map[string]string {
		g := newConflictGraph(names)
		for _, e := range edges {
			g.insertConflict(e[0], e[1])
		}
		return g.colorGreedy()
	}
	coloring := build()
	for _, e := range edges {
		if coloring[e[0]] == coloring[e[1]] {
			t.Errorf("conflicting %q and %q share color %q", e[0], e[1], coloring[e[0]])
		}
	}
	// Colors are named after their first member, and d reuses a's color
	// since they never conflict.
	if coloring["a"] != "a" {
		t.Errorf("color of a = %q, want a", coloring["a"])
	}
	if coloring["d"] != "a" {
		t.Errorf("color of d = %q, want a", coloring["d"])
	}
	if !reflect.DeepEqual(coloring, build()) {
		t.Error("coloring is not deterministic")
	}
}

func TestGreedyColoringNoConflicts(t *testing.T) {
	g := newConflictGraph([]string{"x", "y", "z"})
	coloring := g.colorGreedy()
	for name, color := range coloring {
		if color != "x" {
			t.Errorf("color of %q = %q, want x", name, color)
		}
	}
}

func TestConflictGraphPanicsOnUnknown(t *testing.T) {
	g := newConflictGraph([]string{"x"})
	defer func() {
		if recover() == nil {
			t.Error("no panic for unregistered fragment")
		}
	}()
	g.insertConflict("x", "y")
}
