// Copyright 2024 The Staticlower Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package static

import (
	"testing"

	"staticlower/ir"
)

func TestCountQueries(t *testing.T) {
	w := &ir.Cell{Name: "w", Prim: "std_wire", Params: []uint64{1}}
	cases := []struct {
		g    *ir.Guard
		want int
	}{
		{ir.True(), 0},
		{ir.PortGuard(w.Port("out")), 0},
		{ir.Interval(0, 2), 1},
		// Identical interval leaves still count separately.
		{ir.Or(ir.Interval(0, 2), ir.Interval(0, 2)), 2},
		{ir.And(ir.Not(ir.Interval(1, 3)), ir.PortGuard(w.Port("out"))), 1},
		{ir.Or(ir.And(ir.Interval(0, 1), ir.Interval(1, 2)), ir.Interval(2, 3)), 3},
	}
	for _, c := range cases {
		if got := countQueries(c.g); got != c.want {
			t.Errorf("countQueries(%v) = %d, want %d", c.g, got, c.want)
		}
	}
}

// A schedule with more states than a one-hot pattern can carry stays
// binary even when the cutoff would allow one-hot.
func TestFlatWideStaysBinary(t *testing.T) {
	comp := ir.NewComponent("main")
	b := ir.NewBuilder(comp)
	a := addStatic(comp, "a", 70)
	sched := newFlatSchedule([]*ir.StaticGroup{a})
	sched.instantiate(b, Options{OneHotCutoff: 100})
	if sched.fsm.enc != Binary {
		t.Fatalf("encoding = %v, want binary", sched.fsm.enc)
	}
	if sched.fsm.width != 7 {
		t.Fatalf("width = %d, want 7", sched.fsm.width)
	}
}

func TestFlatDuplication(t *testing.T) {
	build := func() (*ir.Builder, *flatSchedule) {
		comp := ir.NewComponent("main")
		b := ir.NewBuilder(comp)
		a := addStatic(comp, "a", 8)
		for i := uint64(0); i < 5; i++ {
			addProbe(b, a, i, i+1)
		}
		return b, newFlatSchedule([]*ir.StaticGroup{a})
	}

	b, sched := build()
	if sched.states != 8 || sched.queries != 5 {
		t.Fatalf("schedule = (%d states, %d queries), want (8, 5)", sched.states, sched.queries)
	}
	sched.instantiate(b, Options{})
	if len(sched.fsm.regs) != 1 {
		t.Errorf("no budget: %d registers, want 1", len(sched.fsm.regs))
	}

	b, sched = build()
	sched.instantiate(b, Options{QueryBudget: 2})
	if len(sched.fsm.regs) != 3 {
		t.Errorf("budget 2 over 5 queries: %d registers, want 3", len(sched.fsm.regs))
	}
}
