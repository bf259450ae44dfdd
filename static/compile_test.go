// Copyright 2024 The Staticlower Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package static

import (
	"testing"

	"staticlower/ir"
)

func addStatic(comp *ir.Component, name string, lat uint64) *ir.StaticGroup {
	g := &ir.StaticGroup{Name: name, Latency: lat}
	comp.StaticGroups = append(comp.StaticGroups, g)
	return g
}

// addGoWrite makes from trigger to during the guarded window.
func addGoWrite(b *ir.Builder, from, to *ir.StaticGroup, g *ir.Guard) {
	one := b.AddConstant(1, 1)
	from.Assignments = append(from.Assignments, &ir.Assignment{
		Dst:   to.Hole("go"),
		Src:   one.Port("out"),
		Guard: g,
	})
}

// addProbe wires a one-bit witness that is high exactly while the
// fragment is running cycles beg..end-1.
func addProbe(b *ir.Builder, sg *ir.StaticGroup, beg, end uint64) *ir.Port {
	w := b.AddPrimitive("probe_"+sg.Name, "std_wire", 1)
	one := b.AddConstant(1, 1)
	sg.Assignments = append(sg.Assignments, &ir.Assignment{
		Dst:   w.Port("in"),
		Src:   one.Port("out"),
		Guard: ir.Interval(beg, end),
	})
	return w.Port("out")
}

func checkTrace(t *testing.T, name string, got, want []uint64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: trace %v, want %v", name, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s: trace %v, want %v", name, got, want)
		}
	}
}

// Two fragments run in sequence share a counter, and each wrapper's
// go-to-done distance is exactly the fragment's latency.
func TestCompileSeqTiming(t *testing.T) {
	comp := ir.NewComponent("main")
	b := ir.NewBuilder(comp)
	a := addStatic(comp, "a", 3)
	c := addStatic(comp, "b", 2)
	probeA := addProbe(b, a, 1, 3)
	probeB := addProbe(b, c, 0, 1)
	comp.Control = &ir.Seq{Stmts: []ir.Control{
		&ir.StaticEnable{Group: a},
		&ir.StaticEnable{Group: c},
	}}

	if err := Compile(comp, Options{}); err != nil {
		t.Fatal(err)
	}
	if comp.StaticGroups != nil {
		t.Error("static groups survived lowering")
	}
	var fsms int
	for _, cell := range comp.Cells {
		if cell.Prim == "std_reg" && cell.Params[0] > 1 {
			fsms++
		}
	}
	if fsms != 1 {
		t.Errorf("allocated %d counters, want 1 shared", fsms)
	}

	s := newSim(t, comp)
	lat, traces := s.run("wrapper_a", 10, probeA)
	if lat != 3 {
		t.Fatalf("a took %d cycles, want 3", lat)
	}
	checkTrace(t, "a", traces[0], []uint64{0, 1, 1, 0})

	lat, traces = s.run("wrapper_b", 10, probeB)
	if lat != 2 {
		t.Fatalf("b took %d cycles, want 2", lat)
	}
	checkTrace(t, "b", traces[0], []uint64{1, 0, 0})

	// Back to back re-enable of the same wrapper.
	lat, traces = s.run("wrapper_a", 10, probeA)
	if lat != 3 {
		t.Fatalf("second run of a took %d cycles, want 3", lat)
	}
	checkTrace(t, "a again", traces[0], []uint64{0, 1, 1, 0})
}

// Parallel branches must not share a counter.
func TestCompileParAllocation(t *testing.T) {
	comp := ir.NewComponent("main")
	b := ir.NewBuilder(comp)
	a := addStatic(comp, "a", 4)
	c := addStatic(comp, "b", 4)
	addProbe(b, a, 0, 4)
	addProbe(b, c, 0, 4)
	comp.Control = &ir.Par{Stmts: []ir.Control{
		&ir.StaticEnable{Group: a},
		&ir.StaticEnable{Group: c},
	}}

	if err := Compile(comp, Options{}); err != nil {
		t.Fatal(err)
	}
	var fsms int
	for _, cell := range comp.Cells {
		if cell.Prim == "std_reg" && cell.Params[0] > 1 {
			fsms++
		}
	}
	if fsms != 2 {
		t.Errorf("allocated %d counters, want 2", fsms)
	}
}

// A one-hot counter behind the wrapper produces the same timing as a
// binary one.
func TestCompileOneHot(t *testing.T) {
	comp := ir.NewComponent("main")
	b := ir.NewBuilder(comp)
	a := addStatic(comp, "a", 4)
	probe := addProbe(b, a, 2, 4)
	comp.Control = &ir.StaticEnable{Group: a}

	if err := Compile(comp, Options{OneHotCutoff: 16}); err != nil {
		t.Fatal(err)
	}
	s := newSim(t, comp)
	lat, traces := s.run("wrapper_a", 10, probe)
	if lat != 4 {
		t.Fatalf("a took %d cycles, want 4", lat)
	}
	checkTrace(t, "a", traces[0], []uint64{0, 0, 1, 1, 0})
}

// A condition-stable while around a static body re-runs the body back
// to back and settles the exit in the first cycle after the last
// iteration.
func TestCompileWhile(t *testing.T) {
	comp := ir.NewComponent("main")
	b := ir.NewBuilder(comp)
	a := addStatic(comp, "a", 2)
	probe := addProbe(b, a, 0, 2)
	cond := b.AddPrimitive("cond", "std_wire", 1)
	comp.Control = &ir.While{
		Port: cond.Port("out"),
		Body: &ir.StaticEnable{Group: a},
	}

	if err := Compile(comp, Options{}); err != nil {
		t.Fatal(err)
	}
	w := comp.FindGroup("while_wrapper_a")
	if w == nil {
		t.Fatal("no while wrapper group")
	}

	s := newSim(t, comp)
	s.set(cond.Port("in"), 1)
	s.set(w.Hole("go"), 1)
	for cycle := 0; cycle < 4; cycle++ {
		s.relax()
		if s.read(w.Hole("done")) != 0 {
			t.Fatalf("done rose at cycle %d with the condition high", cycle)
		}
		if s.read(probe) == 0 {
			t.Fatalf("body idle at cycle %d", cycle)
		}
		s.clock()
		if cycle == 3 {
			s.set(cond.Port("in"), 0)
		}
	}
	// Two full iterations have run; with the condition low the wrapper
	// finishes as soon as the counter is back at its first state.
	s.relax()
	if s.read(w.Hole("done")) == 0 {
		t.Fatal("done low after the condition dropped")
	}
}

// A static component's counter stays pinned until go rises, activity
// follows the schedule relative to the start, and the promoted done
// pulses one counter wrap later.
func TestCompileStaticComponent(t *testing.T) {
	comp := ir.NewComponent("main")
	comp.Static = true
	comp.Latency = 4
	comp.Promoted = true
	b := ir.NewBuilder(comp)
	r := addStatic(comp, "root", 4)
	probe := addProbe(b, r, 0, 2)
	comp.Control = &ir.StaticEnable{Group: r}

	if err := Compile(comp, Options{}); err != nil {
		t.Fatal(err)
	}
	if _, ok := comp.Control.(*ir.Empty); !ok {
		t.Fatalf("control = %T, want empty", comp.Control)
	}

	s := newSim(t, comp)
	// Idle cycles before go: nothing runs.
	for i := 0; i < 2; i++ {
		s.relax()
		if s.read(probe) != 0 {
			t.Fatalf("probe high on idle cycle %d", i)
		}
		s.clock()
	}
	lat, traces := s.runComponent(10, probe)
	if lat != 4 {
		t.Fatalf("component took %d cycles, want 4", lat)
	}
	checkTrace(t, "root", traces[0], []uint64{1, 1, 0, 0, 0})
}

func TestCompileStaticComponentOneCycle(t *testing.T) {
	comp := ir.NewComponent("main")
	comp.Static = true
	comp.Latency = 1
	comp.Promoted = true
	b := ir.NewBuilder(comp)
	r := addStatic(comp, "root", 1)
	probe := addProbe(b, r, 0, 1)
	comp.Control = &ir.StaticEnable{Group: r}

	if err := Compile(comp, Options{}); err != nil {
		t.Fatal(err)
	}
	s := newSim(t, comp)
	lat, traces := s.runComponent(5, probe)
	if lat != 1 {
		t.Fatalf("component took %d cycles, want 1", lat)
	}
	checkTrace(t, "root", traces[0], []uint64{1, 0})
}

// A static component under the pausable schedule with a window
// delegated at cycle zero: nothing runs before go rises even though
// the parent idles in its offload state, and the promoted done still
// comes after the full latency.
func TestCompileStaticComponentOffload(t *testing.T) {
	comp := ir.NewComponent("main")
	comp.Static = true
	comp.Latency = 6
	comp.Promoted = true
	b := ir.NewBuilder(comp)
	r := addStatic(comp, "root", 6)
	c := addStatic(comp, "child", 2)
	probeR := addProbe(b, r, 4, 5)
	probeC := addProbe(b, c, 0, 1)
	addGoWrite(b, r, c, ir.Interval(0, 4))
	comp.Control = &ir.StaticEnable{Group: r}

	if err := Compile(comp, Options{OffloadPause: true}); err != nil {
		t.Fatal(err)
	}
	s := newSim(t, comp)
	// Idle cycles before go: the delegated window must not start.
	for i := 0; i < 3; i++ {
		s.relax()
		if s.read(probeC) != 0 {
			t.Fatalf("child probe high on idle cycle %d", i)
		}
		s.clock()
	}
	lat, traces := s.runComponent(12, probeR, probeC)
	if lat != 6 {
		t.Fatalf("component took %d cycles, want 6", lat)
	}
	checkTrace(t, "root", traces[0], []uint64{0, 0, 0, 0, 1, 0, 0})
	// The child's cycle zero recurs at the start of each repeat.
	checkTrace(t, "child", traces[1], []uint64{1, 0, 1, 0, 0, 0, 0})
}

// A delegated child pauses its parent: the parent holds in one offload
// state while the child counts its own window twice.
func TestCompileOffload(t *testing.T) {
	comp := ir.NewComponent("main")
	b := ir.NewBuilder(comp)
	p := addStatic(comp, "parent", 6)
	c := addStatic(comp, "child", 2)
	probeP := addProbe(b, p, 0, 2)
	probeC := addProbe(b, c, 0, 1)
	addGoWrite(b, p, c, ir.Interval(2, 6))
	comp.Control = &ir.StaticEnable{Group: p}

	if err := Compile(comp, Options{OffloadPause: true}); err != nil {
		t.Fatal(err)
	}
	s := newSim(t, comp)
	lat, traces := s.run("wrapper_parent", 12, probeP, probeC)
	if lat != 6 {
		t.Fatalf("parent took %d cycles, want 6", lat)
	}
	checkTrace(t, "parent", traces[0], []uint64{1, 1, 0, 0, 0, 0, 0})
	// The child's cycle zero recurs at the start of each repeat.
	checkTrace(t, "child", traces[1], []uint64{0, 0, 1, 0, 1, 0, 0})
}

// Threads of a parallel container run concurrently; a shorter thread
// stops after its window while the longest defines the container's
// latency.
func TestCompileParContainer(t *testing.T) {
	comp := ir.NewComponent("main")
	b := ir.NewBuilder(comp)
	par := addStatic(comp, "pair", 4)
	par.Par = true
	t1 := addStatic(comp, "t1", 2)
	t2 := addStatic(comp, "t2", 4)
	probe1 := addProbe(b, t1, 0, 2)
	probe2 := addProbe(b, t2, 0, 4)
	addGoWrite(b, par, t1, ir.Interval(0, 2))
	addGoWrite(b, par, t2, ir.Interval(0, 4))
	comp.Control = &ir.StaticEnable{Group: par}

	if err := Compile(comp, Options{OffloadPause: true}); err != nil {
		t.Fatal(err)
	}
	s := newSim(t, comp)
	lat, traces := s.run("wrapper_pair", 10, probe1, probe2)
	if lat != 4 {
		t.Fatalf("container took %d cycles, want 4", lat)
	}
	checkTrace(t, "t1", traces[0], []uint64{1, 1, 0, 0, 0})
	checkTrace(t, "t2", traces[1], []uint64{1, 1, 1, 1, 0})
}

// Control shapes around static enables are preserved; the enables
// themselves become wrapper enables.
func TestCompileControlRewrite(t *testing.T) {
	comp := ir.NewComponent("main")
	b := ir.NewBuilder(comp)
	a := addStatic(comp, "a", 2)
	addProbe(b, a, 0, 2)
	comp.Control = &ir.Repeat{N: 3, Body: &ir.StaticEnable{Group: a}}

	if err := Compile(comp, Options{}); err != nil {
		t.Fatal(err)
	}
	rep, ok := comp.Control.(*ir.Repeat)
	if !ok || rep.N != 3 {
		t.Fatalf("control = %+v, want repeat of 3", comp.Control)
	}
	en, ok := rep.Body.(*ir.Enable)
	if !ok || en.Group.Name != "wrapper_a" {
		t.Fatalf("repeat body = %+v, want enable of wrapper_a", rep.Body)
	}
}

// The simulated activation of every interval guard matches direct
// interval evaluation cycle by cycle, for both encodings.
func TestCompileRoundTrip(t *testing.T) {
	intervals := [][2]uint64{{0, 1}, {2, 5}, {5, 7}, {0, 7}, {3, 4}}
	for _, opts := range []Options{{}, {OneHotCutoff: 16}} {
		comp := ir.NewComponent("main")
		b := ir.NewBuilder(comp)
		a := addStatic(comp, "a", 7)
		probes := make([]*ir.Port, len(intervals))
		for i, iv := range intervals {
			probes[i] = addProbe(b, a, iv[0], iv[1])
		}
		comp.Control = &ir.StaticEnable{Group: a}

		if err := Compile(comp, opts); err != nil {
			t.Fatal(err)
		}
		s := newSim(t, comp)
		lat, traces := s.run("wrapper_a", 20, probes...)
		if lat != 7 {
			t.Fatalf("cutoff %d: took %d cycles, want 7", opts.OneHotCutoff, lat)
		}
		for i, iv := range intervals {
			for cycle := uint64(0); cycle <= 7; cycle++ {
				want := uint64(0)
				if cycle < 7 && iv[0] <= cycle && cycle < iv[1] {
					want = 1
				}
				if got := traces[i][cycle]; got != want {
					t.Errorf("cutoff %d: interval [%d, %d) cycle %d = %d, want %d",
						opts.OneHotCutoff, iv[0], iv[1], cycle, got, want)
				}
			}
		}
	}
}

func TestCompileErrors(t *testing.T) {
	dangling := func() error {
		comp := ir.NewComponent("main")
		b := ir.NewBuilder(comp)
		a := addStatic(comp, "a", 4)
		ghost := &ir.StaticGroup{Name: "ghost", Latency: 2}
		addGoWrite(b, a, ghost, ir.Interval(0, 2))
		comp.Control = &ir.StaticEnable{Group: a}
		return Compile(comp, Options{})
	}
	if kind, ok := KindOf(dangling()); !ok || kind != DanglingTrigger {
		t.Errorf("dangling trigger: kind = %v, %v", kind, ok)
	}

	overlap := func() error {
		comp := ir.NewComponent("main")
		b := ir.NewBuilder(comp)
		p := addStatic(comp, "p", 6)
		x := addStatic(comp, "x", 3)
		y := addStatic(comp, "y", 2)
		addGoWrite(b, p, x, ir.Interval(0, 3))
		addGoWrite(b, p, y, ir.Interval(2, 4))
		comp.Control = &ir.StaticEnable{Group: p}
		return Compile(comp, Options{OffloadPause: true})
	}
	if kind, ok := KindOf(overlap()); !ok || kind != OverlappingSchedule {
		t.Errorf("overlapping windows: kind = %v, %v", kind, ok)
	}

	badWhile := func() error {
		comp := ir.NewComponent("main")
		b := ir.NewBuilder(comp)
		a := addStatic(comp, "a", 2)
		addProbe(b, a, 0, 2)
		cond := b.AddPrimitive("cond", "std_wire", 1)
		comp.Control = &ir.While{
			Port: cond.Port("out"),
			Body: &ir.Seq{Stmts: []ir.Control{&ir.StaticEnable{Group: a}}},
		}
		return Compile(comp, Options{})
	}
	if kind, ok := KindOf(badWhile()); !ok || kind != MalformedControl {
		t.Errorf("compound while body: kind = %v, %v", kind, ok)
	}
}
