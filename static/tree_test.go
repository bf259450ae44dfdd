// Copyright 2024 The Staticlower Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package static

import (
	"testing"

	"staticlower/ir"
)

func TestBuildTreeSchedule(t *testing.T) {
	comp := ir.NewComponent("main")
	b := ir.NewBuilder(comp)
	p := addStatic(comp, "parent", 6)
	c := addStatic(comp, "child", 2)
	addGoWrite(b, p, c, ir.Interval(2, 6))

	node, err := buildTree("parent", comp.StaticGroups, 1)
	if err != nil {
		t.Fatal(err)
	}
	single, ok := node.(*singleNode)
	if !ok {
		t.Fatalf("root is %T, want *singleNode", node)
	}
	if single.nStates != 3 {
		t.Fatalf("nStates = %d, want 3", single.nStates)
	}
	want := []schedEntry{
		{begCycle: 0, endCycle: 2, kind: stateNormal, begState: 0, endState: 2, child: -1},
		{begCycle: 2, endCycle: 6, kind: stateOffload, begState: 2, endState: 3, child: 0},
	}
	if len(single.sched) != len(want) {
		t.Fatalf("schedule has %d entries, want %d", len(single.sched), len(want))
	}
	for i, w := range want {
		if single.sched[i] != w {
			t.Errorf("entry %d = %+v, want %+v", i, single.sched[i], w)
		}
	}
	// The child repeats to fill its four-cycle window.
	if got := single.children[0].node.numRepeats(); got != 2 {
		t.Errorf("child repeats = %d, want 2", got)
	}
}

func TestBuildTreeTailGap(t *testing.T) {
	comp := ir.NewComponent("main")
	b := ir.NewBuilder(comp)
	p := addStatic(comp, "parent", 5)
	c := addStatic(comp, "child", 2)
	addGoWrite(b, p, c, ir.Interval(0, 2))

	node, err := buildTree("parent", comp.StaticGroups, 1)
	if err != nil {
		t.Fatal(err)
	}
	single := node.(*singleNode)
	if single.nStates != 4 {
		t.Fatalf("nStates = %d, want 4", single.nStates)
	}
	if single.sched[0].kind != stateOffload || single.sched[1].kind != stateNormal {
		t.Fatalf("schedule = %+v, want offload then normal", single.sched)
	}
	if single.sched[1].begState != 1 || single.sched[1].endState != 4 {
		t.Errorf("tail entry states = [%d, %d), want [1, 4)", single.sched[1].begState, single.sched[1].endState)
	}
}

func TestBuildTreeErrors(t *testing.T) {
	build := func(setup func(*ir.Component, *ir.Builder)) error {
		comp := ir.NewComponent("main")
		b := ir.NewBuilder(comp)
		setup(comp, b)
		_, err := buildTree("parent", comp.StaticGroups, 1)
		return err
	}

	err := build(func(comp *ir.Component, b *ir.Builder) {
		p := addStatic(comp, "parent", 6)
		x := addStatic(comp, "x", 3)
		y := addStatic(comp, "y", 2)
		addGoWrite(b, p, x, ir.Interval(0, 3))
		addGoWrite(b, p, y, ir.Interval(2, 4))
	})
	if kind, ok := KindOf(err); !ok || kind != OverlappingSchedule {
		t.Errorf("overlapping windows: err = %v, want overlapping schedule", err)
	}

	err = build(func(comp *ir.Component, b *ir.Builder) {
		p := addStatic(comp, "parent", 6)
		x := addStatic(comp, "x", 2)
		addGoWrite(b, p, x, ir.Interval(0, 3))
	})
	if kind, ok := KindOf(err); !ok || kind != InconsistentRepeat {
		t.Errorf("uneven window: err = %v, want inconsistent repeat", err)
	}

	err = build(func(comp *ir.Component, b *ir.Builder) {
		p := addStatic(comp, "parent", 6)
		x := addStatic(comp, "x", 2)
		addGoWrite(b, p, x, ir.Interval(0, 8))
	})
	if kind, ok := KindOf(err); !ok || kind != OverlappingSchedule {
		t.Errorf("window past latency: err = %v, want overlapping schedule", err)
	}

	err = build(func(comp *ir.Component, b *ir.Builder) {
		p := addStatic(comp, "parent", 4)
		p.Par = true
		x := addStatic(comp, "x", 2)
		addGoWrite(b, p, x, ir.Interval(1, 3))
	})
	if kind, ok := KindOf(err); !ok || kind != MalformedControl {
		t.Errorf("offset par thread: err = %v, want malformed control", err)
	}

	err = build(func(comp *ir.Component, b *ir.Builder) {
		p := addStatic(comp, "parent", 4)
		ghost := &ir.StaticGroup{Name: "ghost", Latency: 2}
		addGoWrite(b, p, ghost, ir.Interval(0, 2))
	})
	if kind, ok := KindOf(err); !ok || kind != DanglingTrigger {
		t.Errorf("unknown child: err = %v, want dangling trigger", err)
	}
}

func TestIntervalFromGuard(t *testing.T) {
	iv := ir.Interval(2, 4)
	full := ir.Interval(0, 8)
	port := ir.PortGuard((&ir.Cell{Name: "w", Prim: "std_wire", Params: []uint64{1}}).Port("out"))

	if beg, end, ok := intervalFromGuard(iv, 8); !ok || beg != 2 || end != 4 {
		t.Errorf("plain interval = (%d, %d, %v), want (2, 4, true)", beg, end, ok)
	}
	if beg, end, ok := intervalFromGuard(port, 8); !ok || beg != 0 || end != 8 {
		t.Errorf("port leaf = (%d, %d, %v), want (0, 8, true)", beg, end, ok)
	}
	if beg, end, ok := intervalFromGuard(ir.And(port, iv), 8); !ok || beg != 2 || end != 4 {
		t.Errorf("port & interval = (%d, %d, %v), want (2, 4, true)", beg, end, ok)
	}
	if beg, end, ok := intervalFromGuard(ir.And(full, iv), 8); !ok || beg != 2 || end != 4 {
		t.Errorf("full & interval = (%d, %d, %v), want (2, 4, true)", beg, end, ok)
	}
	if _, _, ok := intervalFromGuard(ir.And(ir.Interval(0, 3), iv), 8); ok {
		t.Error("two narrow intervals unexpectedly produced a window")
	}
	if _, _, ok := intervalFromGuard(ir.Or(iv, ir.Interval(5, 6)), 8); ok {
		t.Error("disjunction unexpectedly produced a window")
	}
}

func TestTreeConflicts(t *testing.T) {
	comp := ir.NewComponent("main")
	b := ir.NewBuilder(comp)
	p := addStatic(comp, "parent", 8)
	x := addStatic(comp, "x", 2)
	y := addStatic(comp, "y", 2)
	addGoWrite(b, p, x, ir.Interval(0, 2))
	addGoWrite(b, p, y, ir.Interval(4, 6))

	node, err := buildTree("parent", comp.StaticGroups, 1)
	if err != nil {
		t.Fatal(err)
	}
	g := newConflictGraph([]string{"parent", "x", "y"})
	node.addConflicts(g)
	if !g.conflicts("parent", "x") || !g.conflicts("parent", "y") {
		t.Error("parent does not conflict with its delegated children")
	}
	// Disjoint sibling windows may share a counter.
	if g.conflicts("x", "y") {
		t.Error("disjoint siblings x and y conflict")
	}
}
