// Copyright 2024 The Staticlower Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package static

import (
	"sort"

	"staticlower/ir"
)

// The schedule tree models how a fragment's cycles are realized when
// the pausable (offload) schedule is selected: a Single node counts
// its Normal ranges with its own fsm and delegates each Offload state
// to a child fragment's counter; a Par node runs its threads
// concurrently and owns no counter at all.

type stateKind uint8

const (
	stateNormal stateKind = iota
	stateOffload
)

// A schedEntry maps one absolute cycle range of a fragment to a range
// of counted states (Normal) or to a single delegated state (Offload).
type schedEntry struct {
	begCycle, endCycle uint64
	kind               stateKind
	begState, endState uint64 // Offload: begState only, endState = begState+1
	child              int    // child index for Offload entries, -1 otherwise
}

// A childEdge attaches a child node at an absolute cycle window of
// its parent.
type childEdge struct {
	node     schedNode
	beg, end uint64
}

// schedNode is a node of the schedule tree.
type schedNode interface {
	name() string
	latency() uint64
	numStates() uint64
	numRepeats() uint64
	group() *ir.StaticGroup

	// allNames appends the names of every fragment in the subtree.
	allNames(out *[]string)
	// forEachNode visits every node in the subtree, this one included.
	forEachNode(f func(schedNode))
	// addConflicts adds this subtree's fsm-sharing conflicts: a node is
	// active while any of its descendants runs, and par threads are
	// active together.
	addConflicts(g *conflictGraph)

	instantiate(r *realizer)
	// count emits the node's counting logic. start, when non-nil, pins
	// the root counter until the guard holds.
	count(b *ir.Builder, start *ir.Guard)
	// realize recursively lowers descendants into early-reset groups
	// and rewrites the node's own assignments against live counters.
	realize(p *pass, b *ir.Builder) error

	// completionGuard holds during the node's very last cycle.
	completionGuard(b *ir.Builder) *ir.Guard
	// firstStateGuard holds while the node sits at its initial
	// position: every counter in the subtree at its idle value, as
	// before a run starts and after it wraps.
	firstStateGuard(b *ir.Builder) *ir.Guard
	// fsmID identifies the counter driving the node's done protocol.
	fsmID() string
	rootAssigns() []*ir.Assignment
}

// buildTree builds the schedule tree rooted at the named fragment.
// repeats is the number of consecutive invocations the enclosing
// structure performs.
func buildTree(name string, sgroups []*ir.StaticGroup, repeats uint64) (schedNode, error) {
	var sg *ir.StaticGroup
	for _, g := range sgroups {
		if g.Name == name {
			sg = g
			break
		}
	}
	if sg == nil {
		return nil, errf(DanglingTrigger, name, "fragment not in the known fragment set")
	}

	var children []childEdge
	for _, a := range sg.Assignments {
		switch {
		case a.Dst.SGroup != nil && a.Dst.Name == "go":
			if a.Src.Cell == nil || !a.Src.Cell.IsConstant(1, 1) {
				return nil, errf(MalformedControl, sg.Name, "go-write to %q does not drive constant one", a.Dst.SGroup.Name)
			}
			beg, end, ok := intervalFromGuard(a.Guard, sg.Latency)
			if !ok {
				return nil, errf(MalformedControl, sg.Name, "cannot extract a single interval from go-write guard %v", a.Guard)
			}
			child := a.Dst.SGroup
			if end > sg.Latency {
				return nil, errf(OverlappingSchedule, sg.Name, "window [%d, %d) exceeds latency %d", beg, end, sg.Latency)
			}
			if (end-beg)%child.Latency != 0 {
				return nil, errf(InconsistentRepeat, sg.Name, "window [%d, %d) is not a multiple of %q's latency %d", beg, end, child.Name, child.Latency)
			}
			node, err := buildTree(child.Name, sgroups, (end-beg)/child.Latency)
			if err != nil {
				return nil, err
			}
			children = append(children, childEdge{node: node, beg: beg, end: end})
		case a.Dst.Group != nil && a.Dst.Name == "go":
			return nil, errf(MalformedControl, sg.Name, "go-write targets non-static group %q", a.Dst.Group.Name)
		default:
			if sg.Par {
				return nil, errf(MalformedControl, sg.Name, "parallel container drives %v; only go-writes are allowed", a.Dst)
			}
		}
	}

	if sg.Par {
		for _, c := range children {
			if c.beg != 0 {
				return nil, errf(MalformedControl, sg.Name, "parallel thread %q starts at cycle %d, not 0", c.node.name(), c.beg)
			}
		}
		return &parNode{root: sg, nRepeats: repeats, threads: children}, nil
	}

	sort.SliceStable(children, func(i, j int) bool {
		if children[i].beg != children[j].beg {
			return children[i].beg < children[j].beg
		}
		return children[i].end < children[j].end
	})
	for i := 0; i+1 < len(children); i++ {
		if children[i].end > children[i+1].beg {
			return nil, errf(OverlappingSchedule, sg.Name,
				"windows [%d, %d) and [%d, %d) overlap",
				children[i].beg, children[i].end, children[i+1].beg, children[i+1].end)
		}
	}

	// Alternate Normal ranges (gaps) with one Offload state per child
	// window.
	n := &singleNode{root: sg, nRepeats: repeats, children: children}
	cycle, state := uint64(0), uint64(0)
	for i, c := range children {
		if cycle != c.beg {
			n.sched = append(n.sched, schedEntry{
				begCycle: cycle, endCycle: c.beg,
				kind:     stateNormal,
				begState: state, endState: state + (c.beg - cycle),
				child:    -1,
			})
			state += c.beg - cycle
		}
		n.sched = append(n.sched, schedEntry{
			begCycle: c.beg, endCycle: c.end,
			kind:     stateOffload,
			begState: state, endState: state + 1,
			child:    i,
		})
		state++
		cycle = c.end
	}
	if cycle != sg.Latency {
		n.sched = append(n.sched, schedEntry{
			begCycle: cycle, endCycle: sg.Latency,
			kind:     stateNormal,
			begState: state, endState: state + (sg.Latency - cycle),
			child:    -1,
		})
		state += sg.Latency - cycle
	}
	n.nStates = state
	return n, nil
}

// intervalFromGuard extracts the single timing interval governing a
// guard. Leaves other than intervals span the fragment's whole
// latency; a conjunction must have one full-width side; disjunctions
// have no single interval.
func intervalFromGuard(g *ir.Guard, lat uint64) (uint64, uint64, bool) {
	switch g.Op {
	case ir.GuardInterval:
		return g.Beg, g.End, true
	case ir.GuardNot, ir.GuardCmp, ir.GuardPort, ir.GuardTrue:
		return 0, lat, true
	case ir.GuardAnd:
		lb, le, lok := intervalFromGuard(g.L, lat)
		rb, re, rok := intervalFromGuard(g.R, lat)
		if !lok || !rok {
			return 0, 0, false
		}
		if le-lb == lat {
			return rb, re, true
		}
		if re-rb == lat {
			return lb, le, true
		}
		return 0, 0, false
	}
	return 0, 0, false
}

// A singleNode realizes one fragment with a locally counted schedule.
type singleNode struct {
	root     *ir.StaticGroup
	nStates  uint64
	nRepeats uint64
	sched    []schedEntry
	children []childEdge

	fsm  *fsm // nil when the color needs only one state
	iter *fsm // repeat counter, nil when the color never repeats

	start *ir.Guard // root start condition, nil except for a component interface

	assigns []*ir.Assignment // realized root assignments
}

func (n *singleNode) name() string           { return n.root.Name }
func (n *singleNode) latency() uint64        { return n.root.Latency }
func (n *singleNode) numStates() uint64      { return n.nStates }
func (n *singleNode) numRepeats() uint64     { return n.nRepeats }
func (n *singleNode) group() *ir.StaticGroup { return n.root }

func (n *singleNode) allNames(out *[]string) {
	*out = append(*out, n.root.Name)
	for _, c := range n.children {
		c.node.allNames(out)
	}
}

func (n *singleNode) forEachNode(f func(schedNode)) {
	f(n)
	for _, c := range n.children {
		c.node.forEachNode(f)
	}
}

func (n *singleNode) addConflicts(g *conflictGraph) {
	// This node is active for its whole latency, so it overlaps every
	// descendant. Sibling windows are disjoint and add no edges.
	var descendants []string
	for _, c := range n.children {
		c.node.allNames(&descendants)
		c.node.addConflicts(g)
	}
	for _, d := range descendants {
		g.insertConflict(n.root.Name, d)
	}
}

func (n *singleNode) instantiate(r *realizer) {
	n.fsm, n.iter = r.fsmsFor(n.root.Name)
	for _, c := range n.children {
		c.node.instantiate(r)
	}
}

// stateEq returns a guard for "this node's counter is in state s".
func (n *singleNode) stateEq(b *ir.Builder, s uint64) *ir.Guard {
	if n.fsm == nil {
		return ir.True()
	}
	return n.fsm.queryBetween(b, s, s+1)
}

// firstStateGuard distinguishes the initial position from merely
// sitting in state zero: a delegated first window keeps the counter in
// state zero for the whole window, so the child's position (and the
// repeat count) must be folded in.
func (n *singleNode) firstStateGuard(b *ir.Builder) *ir.Guard {
	g := n.stateEq(b, 0)
	if e := n.entryOf(0); e != nil && e.kind == stateOffload {
		g = ir.And(g, n.children[e.child].node.firstStateGuard(b))
	}
	if n.iter != nil {
		g = ir.And(g, n.iter.queryBetween(b, 0, 1))
	}
	return g
}

// completionGuard holds during the node's very last cycle: the
// counter at its final state, the final state's child (if any) done,
// and the repeat counter at its last repeat.
func (n *singleNode) completionGuard(b *ir.Builder) *ir.Guard {
	final := n.nStates - 1
	g := n.stateEq(b, final)
	if e := n.entryOf(final); e != nil && e.kind == stateOffload {
		g = ir.And(g, n.children[e.child].node.completionGuard(b))
	}
	if n.iter != nil {
		g = ir.And(g, n.iter.queryBetween(b, n.nRepeats-1, n.nRepeats))
	}
	return g
}

func (n *singleNode) fsmID() string {
	if n.fsm != nil {
		return n.fsm.id()
	}
	if n.iter != nil {
		return n.iter.id()
	}
	return "comb_" + n.root.Name
}

func (n *singleNode) rootAssigns() []*ir.Assignment { return n.assigns }

// entryOf returns the schedule entry containing state s, or nil.
func (n *singleNode) entryOf(s uint64) *schedEntry {
	for i := range n.sched {
		e := &n.sched[i]
		if e.begState <= s && s < e.endState {
			return e
		}
	}
	return nil
}

// passDoneGuard holds during the last cycle of one full pass through
// the node's states, regardless of repeats.
func (n *singleNode) passDoneGuard(b *ir.Builder) *ir.Guard {
	final := n.nStates - 1
	g := n.stateEq(b, final)
	if e := n.entryOf(final); e != nil && e.kind == stateOffload {
		g = ir.And(g, n.children[e.child].node.completionGuard(b))
	}
	return g
}

// count emits the transition table for this node's counter: advance
// through Normal states every cycle, hold in an Offload state until
// the child completes, reset early at the final state. The repeat
// counter, when present, advances once per full pass.
func (n *singleNode) count(b *ir.Builder, start *ir.Guard) {
	n.start = start
	for _, c := range n.children {
		c.node.count(b, nil)
	}
	if n.fsm != nil {
		n.countStates(b, start)
	}
	if n.iter != nil {
		n.countRepeats(b)
	}
}

func (n *singleNode) countStates(b *ir.Builder, start *ir.Guard) {
	f := n.fsm
	reg := f.regs[0]
	final := n.nStates - 1

	one1 := b.AddConstant(1, 1)
	adder := b.AddPrimitive("adder", "std_add", f.width)
	oneW := b.AddConstant(1, f.width)
	first := b.AddConstant(0, f.width)

	n.emit(adder.Port("left"), reg.Port("out"), ir.True())
	n.emit(adder.Port("right"), oneW.Port("out"), ir.True())
	n.emit(reg.Port("write_en"), one1.Port("out"), ir.True())

	advance := func(g *ir.Guard, s uint64) *ir.Guard {
		// State 0 may only be left once the start condition holds.
		if s == 0 && start != nil {
			return ir.And(start, g)
		}
		return g
	}

	for i := range n.sched {
		e := &n.sched[i]
		switch e.kind {
		case stateNormal:
			// Advance unconditionally through the range, excluding the
			// final state (handled by the reset below) and splitting out
			// state 0 when a start condition pins it.
			beg, end := e.begState, e.endState
			if end == n.nStates {
				end = final
			}
			if beg == 0 && start != nil && beg < end {
				n.emit(reg.Port("in"), adder.Port("out"), advance(n.stateEq(b, 0), 0))
				beg = 1
			}
			if beg < end {
				n.emit(reg.Port("in"), adder.Port("out"), f.queryBetween(b, beg, end))
			}
		case stateOffload:
			s := e.begState
			done := n.children[e.child].node.completionGuard(b)
			hold := ir.And(n.stateEq(b, s), ir.Not(done))
			n.emit(reg.Port("in"), reg.Port("out"), hold)
			if s != final {
				n.emit(reg.Port("in"), adder.Port("out"), advance(ir.And(n.stateEq(b, s), done), s))
			}
		}
	}

	// Early reset: at the final state (with its child done, if
	// delegated) wrap back to the first state.
	resetG := n.stateEq(b, final)
	if e := n.entryOf(final); e != nil && e.kind == stateOffload {
		resetG = ir.And(resetG, n.children[e.child].node.completionGuard(b))
	}
	n.emit(reg.Port("in"), first.Port("out"), resetG)
}

func (n *singleNode) countRepeats(b *ir.Builder) {
	f := n.iter
	reg := f.regs[0]
	last := n.nRepeats - 1

	one1 := b.AddConstant(1, 1)
	adder := b.AddPrimitive("iter_adder", "std_add", f.width)
	oneW := b.AddConstant(1, f.width)
	zeroW := b.AddConstant(0, f.width)

	passDone := n.passDoneGuard(b)
	atLast := f.queryBetween(b, last, last+1)

	n.emit(adder.Port("left"), reg.Port("out"), ir.True())
	n.emit(adder.Port("right"), oneW.Port("out"), ir.True())
	n.emit(reg.Port("write_en"), one1.Port("out"), ir.True())
	n.emit(reg.Port("in"), adder.Port("out"), ir.And(passDone, ir.Not(atLast)))
	n.emit(reg.Port("in"), zeroW.Port("out"), ir.And(passDone, atLast))
	n.emit(reg.Port("in"), reg.Port("out"), ir.Not(passDone))
}

func (n *singleNode) emit(dst, src *ir.Port, g *ir.Guard) {
	n.assigns = append(n.assigns, &ir.Assignment{Dst: dst, Src: src, Guard: g})
}

func (n *singleNode) realize(p *pass, b *ir.Builder) error {
	for _, c := range n.children {
		if err := c.node.realize(p, b); err != nil {
			return err
		}
		if err := p.finishChild(b, c.node); err != nil {
			return err
		}
	}

	assigns := n.root.Assignments
	n.root.Assignments = nil
	for _, a := range assigns {
		if a.Dst.SGroup != nil && a.Dst.Name == "go" {
			// Keep the child triggered exactly while the parent sits in
			// its Offload state; the pass-level rewrite retargets the go
			// to the child's early-reset group.
			i := n.childIndexFor(a.Dst.SGroup.Name)
			s := n.offloadStateOf(i)
			g := n.stateEq(b, s)
			if s == 0 && n.start != nil {
				// A window delegated at cycle zero must not fire while
				// the component idles in state zero: the trigger needs
				// the start condition until the child has left its
				// initial position.
				init := n.children[i].node.firstStateGuard(b)
				g = ir.And(g, ir.Or(ir.And(n.start, init), ir.Not(init)))
			}
			a.Guard = g
			n.assigns = append(n.assigns, a)
			continue
		}
		g, err := n.translateGuard(b, a.Guard)
		if err != nil {
			return err
		}
		a.Guard = g
		n.assigns = append(n.assigns, a)
	}
	return nil
}

func (n *singleNode) childIndexFor(name string) int {
	for i, c := range n.children {
		if c.node.name() == name {
			return i
		}
	}
	panic("static: go-write to a fragment that is not a child: " + name)
}

func (n *singleNode) offloadStateOf(child int) uint64 {
	for i := range n.sched {
		if n.sched[i].kind == stateOffload && n.sched[i].child == child {
			return n.sched[i].begState
		}
	}
	panic("static: child has no offload state")
}

// translateGuard rewrites interval leaves into queries over this
// node's state space.
func (n *singleNode) translateGuard(b *ir.Builder, g *ir.Guard) (*ir.Guard, error) {
	switch g.Op {
	case ir.GuardInterval:
		return n.translateInterval(b, g.Beg, g.End)
	case ir.GuardNot:
		l, err := n.translateGuard(b, g.L)
		if err != nil {
			return nil, err
		}
		return ir.Not(l), nil
	case ir.GuardAnd, ir.GuardOr:
		l, err := n.translateGuard(b, g.L)
		if err != nil {
			return nil, err
		}
		r, err := n.translateGuard(b, g.R)
		if err != nil {
			return nil, err
		}
		if g.Op == ir.GuardAnd {
			return ir.And(l, r), nil
		}
		return ir.Or(l, r), nil
	}
	return g, nil
}

// translateInterval maps an absolute cycle interval onto the node's
// schedule: a union of state-range queries for Normal entries, single
// offload-state queries for fully covered windows, and a
// child-qualified query for a partially covered window of a
// once-repeated child.
func (n *singleNode) translateInterval(b *ir.Builder, beg, end uint64) (*ir.Guard, error) {
	var out *ir.Guard
	add := func(g *ir.Guard) {
		if out == nil {
			out = g
		} else {
			out = ir.Or(out, g)
		}
	}
	for i := range n.sched {
		e := &n.sched[i]
		lo, hi := beg, end
		if lo < e.begCycle {
			lo = e.begCycle
		}
		if hi > e.endCycle {
			hi = e.endCycle
		}
		if lo >= hi {
			continue
		}
		switch e.kind {
		case stateNormal:
			s0 := e.begState + (lo - e.begCycle)
			s1 := e.begState + (hi - e.begCycle)
			if n.fsm == nil {
				add(ir.True())
			} else {
				add(n.fsm.queryBetween(b, s0, s1))
			}
		case stateOffload:
			if lo == e.begCycle && hi == e.endCycle {
				add(n.stateEq(b, e.begState))
				continue
			}
			child := n.children[e.child]
			single, ok := child.node.(*singleNode)
			if !ok || child.node.numRepeats() != 1 {
				return nil, errf(OverlappingSchedule, n.root.Name,
					"interval [%d, %d) partially covers delegated window [%d, %d)",
					beg, end, e.begCycle, e.endCycle)
			}
			sub, err := single.translateInterval(b, lo-e.begCycle, hi-e.begCycle)
			if err != nil {
				return nil, err
			}
			add(ir.And(n.stateEq(b, e.begState), sub))
		}
	}
	if out == nil {
		return nil, errf(MalformedControl, n.root.Name, "interval [%d, %d) outside latency %d", beg, end, n.root.Latency)
	}
	return out, nil
}

// A parNode realizes a parallel container: threads run concurrently,
// each on its own counter; the node owns none. Its external done
// protocol is borrowed from its longest thread, which defines the
// container's latency.
type parNode struct {
	root     *ir.StaticGroup
	nRepeats uint64
	threads  []childEdge

	iter *fsm // repeat counter, nil when the color never repeats

	start *ir.Guard // root start condition, nil except for a component interface

	assigns []*ir.Assignment
}

func (n *parNode) name() string           { return n.root.Name }
func (n *parNode) latency() uint64        { return n.root.Latency }
func (n *parNode) numStates() uint64      { return 1 }
func (n *parNode) numRepeats() uint64     { return n.nRepeats }
func (n *parNode) group() *ir.StaticGroup { return n.root }

func (n *parNode) allNames(out *[]string) {
	*out = append(*out, n.root.Name)
	for _, t := range n.threads {
		t.node.allNames(out)
	}
}

func (n *parNode) forEachNode(f func(schedNode)) {
	f(n)
	for _, t := range n.threads {
		t.node.forEachNode(f)
	}
}

func (n *parNode) addConflicts(g *conflictGraph) {
	var mine []string
	for _, t := range n.threads {
		t.node.allNames(&mine)
		t.node.addConflicts(g)
	}
	for _, d := range mine {
		g.insertConflict(n.root.Name, d)
	}
	// Threads overlap in time pairwise.
	for i := 0; i < len(n.threads); i++ {
		for j := i + 1; j < len(n.threads); j++ {
			var a, c []string
			n.threads[i].node.allNames(&a)
			n.threads[j].node.allNames(&c)
			for _, x := range a {
				for _, y := range c {
					g.insertConflict(x, y)
				}
			}
		}
	}
}

func (n *parNode) instantiate(r *realizer) {
	_, n.iter = r.fsmsFor(n.root.Name)
	for _, t := range n.threads {
		t.node.instantiate(r)
	}
}

// longest returns the index of the thread whose window defines the
// container's latency (ties broken by thread order).
func (n *parNode) longest() int {
	best := 0
	for i, t := range n.threads {
		if t.end > n.threads[best].end {
			best = i
		}
	}
	return best
}

// passDoneGuard holds during the last cycle of one pass through the
// container: the longest thread defines the pass boundary.
func (n *parNode) passDoneGuard(b *ir.Builder) *ir.Guard {
	return n.threads[n.longest()].node.completionGuard(b)
}

func (n *parNode) completionGuard(b *ir.Builder) *ir.Guard {
	g := n.passDoneGuard(b)
	if n.iter != nil {
		g = ir.And(g, n.iter.queryBetween(b, n.nRepeats-1, n.nRepeats))
	}
	return g
}

func (n *parNode) firstStateGuard(b *ir.Builder) *ir.Guard {
	g := n.threads[n.longest()].node.firstStateGuard(b)
	if n.iter != nil {
		g = ir.And(g, n.iter.queryBetween(b, 0, 1))
	}
	return g
}

func (n *parNode) fsmID() string {
	if n.iter != nil {
		return n.iter.id()
	}
	return n.threads[n.longest()].node.fsmID()
}

func (n *parNode) rootAssigns() []*ir.Assignment { return n.assigns }

func (n *parNode) count(b *ir.Builder, start *ir.Guard) {
	n.start = start
	for _, t := range n.threads {
		t.node.count(b, nil)
	}
	if n.iter == nil {
		return
	}
	// Count full passes of the container, one per completion of the
	// longest thread.
	f := n.iter
	reg := f.regs[0]
	last := n.nRepeats - 1

	one1 := b.AddConstant(1, 1)
	adder := b.AddPrimitive("iter_adder", "std_add", f.width)
	oneW := b.AddConstant(1, f.width)
	zeroW := b.AddConstant(0, f.width)

	passDone := n.passDoneGuard(b)
	atLast := f.queryBetween(b, last, last+1)

	n.assigns = append(n.assigns,
		&ir.Assignment{Dst: adder.Port("left"), Src: reg.Port("out"), Guard: ir.True()},
		&ir.Assignment{Dst: adder.Port("right"), Src: oneW.Port("out"), Guard: ir.True()},
		&ir.Assignment{Dst: reg.Port("write_en"), Src: one1.Port("out"), Guard: ir.True()},
		&ir.Assignment{Dst: reg.Port("in"), Src: adder.Port("out"), Guard: ir.And(passDone, ir.Not(atLast))},
		&ir.Assignment{Dst: reg.Port("in"), Src: zeroW.Port("out"), Guard: ir.And(passDone, atLast)},
		&ir.Assignment{Dst: reg.Port("in"), Src: reg.Port("out"), Guard: ir.Not(passDone)},
	)
}

func (n *parNode) realize(p *pass, b *ir.Builder) error {
	for _, t := range n.threads {
		if err := t.node.realize(p, b); err != nil {
			return err
		}
		if err := p.finishChild(b, t.node); err != nil {
			return err
		}
	}

	longest := n.longest()
	one1 := b.AddConstant(1, 1)
	zero1 := b.AddConstant(0, 1)
	parDone := n.threads[longest].node.completionGuard(b)

	// As a component interface the threads all launch at cycle zero, so
	// each trigger needs the start condition until its thread has left
	// its initial position.
	gate := func(i int) *ir.Guard {
		if n.start == nil {
			return ir.True()
		}
		init := n.threads[i].node.firstStateGuard(b)
		return ir.Or(ir.And(n.start, init), ir.Not(init))
	}

	assigns := n.root.Assignments
	n.root.Assignments = nil
	for _, a := range assigns {
		i := n.childIndexFor(a.Dst.SGroup.Name)
		if i == longest {
			a.Guard = gate(i)
			n.assigns = append(n.assigns, a)
			continue
		}
		// A shorter thread stops after its last repeat: a finished bit
		// gates its go until the container itself completes.
		fin := b.AddPrimitive("finished", "std_reg", 1)
		finSet := ir.And(n.threads[i].node.completionGuard(b), ir.Not(ir.PortGuard(fin.Port("out"))))
		a.Guard = ir.And(gate(i), ir.Not(ir.PortGuard(fin.Port("out"))))
		n.assigns = append(n.assigns,
			a,
			&ir.Assignment{Dst: fin.Port("write_en"), Src: one1.Port("out"), Guard: finSet},
			&ir.Assignment{Dst: fin.Port("in"), Src: one1.Port("out"), Guard: finSet},
			&ir.Assignment{Dst: fin.Port("write_en"), Src: one1.Port("out"), Guard: parDone},
			&ir.Assignment{Dst: fin.Port("in"), Src: zero1.Port("out"), Guard: parDone},
		)
	}
	return nil
}

func (n *parNode) childIndexFor(name string) int {
	for i, t := range n.threads {
		if t.node.name() == name {
			return i
		}
	}
	panic("static: go-write to a fragment that is not a thread: " + name)
}
