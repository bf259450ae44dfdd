// Copyright 2024 The Staticlower Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package static lowers compile-time-scheduled groups into counter
// driven hardware. Timing-interval guards become live comparisons
// against allocated fsm registers, fragments sharing a counter are
// chosen by conflict-graph coloring, and each lowered fragment is
// wrapped so the surrounding dynamic control can run it with the
// ordinary go/done protocol.
package static

import (
	"log"

	"github.com/pkg/errors"

	"staticlower/ir"
)

// Options configures the lowering pass. The zero value selects binary
// counters, no register duplication, unrestricted latency sharing, and
// the flat (non-pausable) schedule.
type Options struct {
	// OneHotCutoff selects one-hot counters for flat schedules with at
	// most this many states. Zero keeps every counter binary.
	OneHotCutoff uint64
	// QueryBudget bounds the interval queries served by one physical
	// register; a flat schedule predicted to exceed it gets a duplicate
	// register family. Zero disables duplication.
	QueryBudget uint64
	// LatencyDiffCutoff forbids two fragments from sharing a counter
	// when their latencies differ by more than this. Zero disables the
	// restriction.
	LatencyDiffCutoff uint64
	// OffloadPause selects the pausable tree schedule: parents hold in
	// a single state while a delegated child counts its own window.
	// Tree counters are always binary; hold and offload conditions are
	// state-range tests.
	OffloadPause bool

	// Logger, when non-nil, receives a per-component summary.
	Logger *log.Logger
}

// fsmInfo records the done-protocol guards of a lowered fragment: the
// identity of the counter driving it, a guard for its first state, and
// a guard for its very last cycle.
type fsmInfo struct {
	id          string
	first, last *ir.Guard
}

type pass struct {
	opts Options

	resetEarly    map[string]*ir.Group // fragment name -> early-reset group
	wrappers      map[string]*ir.Group
	whileWrappers map[string]*ir.Group
	signalRegs    map[string]*ir.Cell // fsm identity -> shared one-bit signal register
	fsmInfo       map[string]*fsmInfo
	rewrites      map[*ir.Port]*ir.Port
}

// Compile lowers every static group of comp in place. On error the
// component is left partially rewritten and must be discarded.
func Compile(comp *ir.Component, opts Options) error {
	if len(comp.StaticGroups) == 0 {
		return nil
	}
	b := ir.NewBuilder(comp)
	p := &pass{
		opts:          opts,
		resetEarly:    make(map[string]*ir.Group),
		wrappers:      make(map[string]*ir.Group),
		whileWrappers: make(map[string]*ir.Group),
		signalRegs:    make(map[string]*ir.Cell),
		fsmInfo:       make(map[string]*fsmInfo),
		rewrites:      make(map[*ir.Port]*ir.Port),
	}

	var err error
	if opts.OffloadPause {
		err = p.compileTrees(b, comp)
	} else {
		err = p.compileFlat(b, comp)
	}
	if err != nil {
		return errors.Wrapf(err, "lowering component %q", comp.Name)
	}

	if comp.Static {
		comp.Control = &ir.Empty{}
	} else {
		comp.Control, err = p.rewriteControl(b, comp.Control)
		if err != nil {
			return errors.Wrapf(err, "lowering component %q", comp.Name)
		}
	}
	comp.RewritePorts(p.rewrites)
	comp.StaticGroups = nil
	return nil
}

// interfaceRoot returns the static group the whole component executes,
// when the component is one static island.
func interfaceRoot(comp *ir.Component) (*ir.StaticGroup, error) {
	en, ok := comp.Control.(*ir.StaticEnable)
	if !ok {
		return nil, errf(MalformedControl, "", "static component control is not a single enable")
	}
	return en.Group, nil
}

// compileFlat realizes every color class against one shared counter
// that counts each member's full latency.
func (p *pass) compileFlat(b *ir.Builder, comp *ir.Component) error {
	sgroups := comp.StaticGroups
	uses, err := buildTriggerMap(sgroups)
	if err != nil {
		return err
	}

	names := make([]string, len(sgroups))
	for i, sg := range sgroups {
		names[i] = sg.Name
	}
	graph := newConflictGraph(names)
	addParConflicts(comp.Control, uses, graph)
	addTriggerConflicts(uses, graph)
	if p.opts.LatencyDiffCutoff > 0 {
		addLatencyDiffConflicts(sgroups, p.opts.LatencyDiffCutoff, graph)
	}

	var root *ir.StaticGroup
	if comp.Static {
		root, err = interfaceRoot(comp)
		if err != nil {
			return err
		}
		// The interface root's counter is pinned on the component go
		// signal, so it never shares.
		for _, name := range names {
			graph.insertConflict(root.Name, name)
		}
	}

	coloring := graph.colorGreedy()
	classes, order, err := colorClasses(sgroups, coloring)
	if err != nil {
		return err
	}
	p.logf("component %q: %d static fragments, %d counters, flat schedule",
		comp.Name, len(sgroups), len(order))

	for _, rep := range order {
		groups := classes[rep]
		if root != nil && len(groups) == 1 && groups[0] == root {
			if err := p.compileFlatInterface(b, comp, root); err != nil {
				return err
			}
			continue
		}
		sched := newFlatSchedule(groups)
		sched.instantiate(b, p.opts)
		realized := sched.realize(b, nil)
		for _, g := range groups {
			info := &fsmInfo{
				id:    sched.fsm.id(),
				first: sched.fsm.queryBetween(b, 0, 1),
				last:  sched.fsm.queryBetween(b, g.Latency-1, g.Latency),
			}
			p.addEarlyReset(b, g, realized[g.Name], info)
		}
	}
	return nil
}

// compileFlatInterface realizes the root fragment of a static
// component: its assignments become continuous, its counter is pinned
// until the component go signal rises, and cycle-zero guards take the
// go signal directly.
func (p *pass) compileFlatInterface(b *ir.Builder, comp *ir.Component, root *ir.StaticGroup) error {
	goG := ir.PortGuard(comp.Signature.Port("go"))
	assigns := root.Assignments
	root.Assignments = nil

	if comp.Latency <= 1 {
		// A single-cycle component needs no counter at all.
		for _, a := range assigns {
			a.Guard = ir.And(goG, dropIntervals(a.Guard))
			b.AddContinuous(a)
		}
		if comp.Promoted {
			p.addPromotedDone(b, comp, goG, nil)
		}
		return nil
	}

	for _, a := range assigns {
		a.Guard = interfaceGuard(a.Guard, goG)
	}
	root.Assignments = assigns
	sched := newFlatSchedule([]*ir.StaticGroup{root})
	sched.instantiate(b, p.opts)
	realized := sched.realize(b, goG)
	b.AddContinuous(realized[root.Name]...)

	if comp.Promoted {
		info := &fsmInfo{
			id:    sched.fsm.id(),
			first: sched.fsm.queryBetween(b, 0, 1),
			last:  sched.fsm.queryBetween(b, comp.Latency-1, comp.Latency),
		}
		p.addPromotedDone(b, comp, goG, info)
	}
	return nil
}

// compileTrees realizes every enabled fragment as a schedule tree.
func (p *pass) compileTrees(b *ir.Builder, comp *ir.Component) error {
	sgroups := comp.StaticGroups
	uses, err := buildTriggerMap(sgroups)
	if err != nil {
		return err
	}

	var rootNames []string
	if comp.Static {
		root, err := interfaceRoot(comp)
		if err != nil {
			return err
		}
		rootNames = []string{root.Name}
	} else {
		rootNames = collectEnables(comp.Control)
	}

	trees := make([]schedNode, 0, len(rootNames))
	for _, name := range rootNames {
		t, err := buildTree(name, sgroups, 1)
		if err != nil {
			return err
		}
		trees = append(trees, t)
	}

	names := make([]string, len(sgroups))
	for i, sg := range sgroups {
		names[i] = sg.Name
	}
	graph := newConflictGraph(names)
	addParConflicts(comp.Control, uses, graph)
	for _, t := range trees {
		t.addConflicts(graph)
	}
	if p.opts.LatencyDiffCutoff > 0 {
		addLatencyDiffConflicts(sgroups, p.opts.LatencyDiffCutoff, graph)
	}
	if comp.Static {
		for _, name := range names {
			graph.insertConflict(rootNames[0], name)
		}
	}

	coloring := graph.colorGreedy()
	if _, _, err := colorClasses(sgroups, coloring); err != nil {
		return err
	}

	// Size each color for the largest state and repeat counts of any
	// node wearing it.
	sizes := make(map[string]colorSize)
	for _, t := range trees {
		t.forEachNode(func(n schedNode) {
			color := coloring[n.name()]
			sz := sizes[color]
			if n.numStates() > sz.states {
				sz.states = n.numStates()
			}
			if n.numRepeats() > sz.repeats {
				sz.repeats = n.numRepeats()
			}
			sizes[color] = sz
		})
	}
	r := &realizer{b: b, coloring: coloring, sizes: sizes, pool: make(map[string]*fsmPair)}
	p.logf("component %q: %d static fragments, %d trees, pausable schedule",
		comp.Name, len(sgroups), len(trees))

	for _, t := range trees {
		t.instantiate(r)
		if comp.Static {
			return p.compileTreeInterface(b, comp, t)
		}
		t.count(b, nil)
		if err := t.realize(p, b); err != nil {
			return err
		}
		if err := p.finishChild(b, t); err != nil {
			return err
		}
	}
	return nil
}

// compileTreeInterface realizes a static component's root tree against
// the component go/done ports.
func (p *pass) compileTreeInterface(b *ir.Builder, comp *ir.Component, t schedNode) error {
	goG := ir.PortGuard(comp.Signature.Port("go"))
	root := t.group()

	if comp.Latency <= 1 {
		assigns := root.Assignments
		root.Assignments = nil
		for _, a := range assigns {
			a.Guard = ir.And(goG, dropIntervals(a.Guard))
			b.AddContinuous(a)
		}
		if comp.Promoted {
			p.addPromotedDone(b, comp, goG, nil)
		}
		return nil
	}

	for _, a := range root.Assignments {
		a.Guard = interfaceGuard(a.Guard, goG)
	}
	t.count(b, goG)
	if err := t.realize(p, b); err != nil {
		return err
	}
	b.AddContinuous(t.rootAssigns()...)

	if comp.Promoted {
		info := &fsmInfo{
			id:    t.fsmID(),
			first: t.firstStateGuard(b),
			last:  t.completionGuard(b),
		}
		p.addPromotedDone(b, comp, goG, info)
	}
	return nil
}

// addEarlyReset wraps a fragment's realized assignments in its
// early-reset group and records the rewrite from the fragment's go
// hole.
func (p *pass) addEarlyReset(b *ir.Builder, sg *ir.StaticGroup, assigns []*ir.Assignment, info *fsmInfo) {
	early := b.AddGroup("early_reset_" + sg.Name)
	early.Assignments = assigns
	p.resetEarly[sg.Name] = early
	p.rewrites[sg.Hole("go")] = early.Hole("go")
	p.fsmInfo[sg.Name] = info
}

// finishChild turns a realized tree node into its early-reset group.
func (p *pass) finishChild(b *ir.Builder, node schedNode) error {
	name := node.name()
	if p.resetEarly[name] != nil {
		return errf(MalformedControl, name, "fragment triggered from more than one place")
	}
	info := &fsmInfo{
		id:    node.fsmID(),
		first: node.firstStateGuard(b),
		last:  node.completionGuard(b),
	}
	p.addEarlyReset(b, node.group(), node.rootAssigns(), info)
	return nil
}

// addPromotedDone gives a promoted static component a done signal: a
// one-bit register samples go while the counter sits at its first
// state, so done rises exactly when an execution has wrapped back
// around. info is nil for single-cycle components, where the register
// is a plain one-cycle delay of go.
func (p *pass) addPromotedDone(b *ir.Builder, comp *ir.Component, goG *ir.Guard, info *fsmInfo) {
	sig := b.AddPrimitive("signal_reg", "std_reg", 1)
	one1 := b.AddConstant(1, 1)
	zero1 := b.AddConstant(0, 1)
	sigG := ir.PortGuard(sig.Port("out"))

	weG := ir.True()
	doneG := sigG
	if info != nil {
		weG = info.first
		doneG = ir.And(info.first, sigG)
	}
	b.AddContinuous(
		&ir.Assignment{Dst: sig.Port("write_en"), Src: one1.Port("out"), Guard: weG},
		&ir.Assignment{Dst: sig.Port("in"), Src: one1.Port("out"), Guard: goG},
		&ir.Assignment{Dst: sig.Port("in"), Src: zero1.Port("out"), Guard: ir.Not(goG)},
		&ir.Assignment{Dst: comp.Signature.Port("done"), Src: one1.Port("out"), Guard: doneG},
	)
}

// rewriteControl replaces every static enable with an enable of its
// wrapper group, specializing a condition-stable while whose body is
// one static enable.
func (p *pass) rewriteControl(b *ir.Builder, c ir.Control) (ir.Control, error) {
	switch c := c.(type) {
	case *ir.StaticEnable:
		w, err := p.wrapperFor(b, c.Group)
		if err != nil {
			return nil, err
		}
		return &ir.Enable{Group: w}, nil
	case *ir.Seq:
		for i, s := range c.Stmts {
			ns, err := p.rewriteControl(b, s)
			if err != nil {
				return nil, err
			}
			c.Stmts[i] = ns
		}
		return c, nil
	case *ir.Par:
		for i, s := range c.Stmts {
			ns, err := p.rewriteControl(b, s)
			if err != nil {
				return nil, err
			}
			c.Stmts[i] = ns
		}
		return c, nil
	case *ir.If:
		var err error
		if c.Then, err = p.rewriteControl(b, c.Then); err != nil {
			return nil, err
		}
		if c.Else, err = p.rewriteControl(b, c.Else); err != nil {
			return nil, err
		}
		return c, nil
	case *ir.While:
		if c.CondGroup == nil {
			en, ok := c.Body.(*ir.StaticEnable)
			if !ok {
				return nil, errf(MalformedControl, "", "condition-stable while body is not a single static enable")
			}
			w, err := p.whileWrapperFor(b, en.Group, c.Port)
			if err != nil {
				return nil, err
			}
			return &ir.Enable{Group: w}, nil
		}
		var err error
		if c.Body, err = p.rewriteControl(b, c.Body); err != nil {
			return nil, err
		}
		return c, nil
	case *ir.Repeat:
		var err error
		if c.Body, err = p.rewriteControl(b, c.Body); err != nil {
			return nil, err
		}
		return c, nil
	}
	return c, nil
}

// wrapperFor returns the dynamic wrapper group for a lowered fragment,
// building it on first use. The wrapper keeps the early-reset group
// running, latches a signal register during the fragment's last cycle,
// and raises done one cycle later, when the counter has wrapped back
// to its first state.
func (p *pass) wrapperFor(b *ir.Builder, sg *ir.StaticGroup) (*ir.Group, error) {
	if w := p.wrappers[sg.Name]; w != nil {
		return w, nil
	}
	early := p.resetEarly[sg.Name]
	info := p.fsmInfo[sg.Name]
	if early == nil || info == nil {
		return nil, errf(MalformedControl, sg.Name, "enabled fragment was never realized")
	}
	sig := p.signalRegFor(b, info)
	one1 := b.AddConstant(1, 1)
	sigG := ir.PortGuard(sig.Port("out"))

	w := b.AddGroup("wrapper_" + sg.Name)
	setG := ir.And(info.last, ir.Not(sigG))
	w.Assignments = []*ir.Assignment{
		{Dst: early.Hole("go"), Src: one1.Port("out"), Guard: ir.True()},
		{Dst: sig.Port("in"), Src: one1.Port("out"), Guard: setG},
		{Dst: sig.Port("write_en"), Src: one1.Port("out"), Guard: setG},
		{Dst: w.Hole("done"), Src: one1.Port("out"), Guard: ir.And(info.first, sigG)},
	}
	p.wrappers[sg.Name] = w
	return w, nil
}

// whileWrapperFor returns the wrapper for a condition-stable while
// around one fragment: the body reruns back to back on its early
// reset, and done rises as soon as the condition is low with the
// counter at its first state. No signal register is involved.
func (p *pass) whileWrapperFor(b *ir.Builder, sg *ir.StaticGroup, cond *ir.Port) (*ir.Group, error) {
	if w := p.whileWrappers[sg.Name]; w != nil {
		return w, nil
	}
	early := p.resetEarly[sg.Name]
	info := p.fsmInfo[sg.Name]
	if early == nil || info == nil {
		return nil, errf(MalformedControl, sg.Name, "enabled fragment was never realized")
	}
	one1 := b.AddConstant(1, 1)

	w := b.AddGroup("while_wrapper_" + sg.Name)
	w.Assignments = []*ir.Assignment{
		{Dst: early.Hole("go"), Src: one1.Port("out"), Guard: ir.True()},
		{Dst: w.Hole("done"), Src: one1.Port("out"), Guard: ir.And(ir.Not(ir.PortGuard(cond)), info.first)},
	}
	p.whileWrappers[sg.Name] = w
	return w, nil
}

// signalRegFor returns the shared one-bit signal register for a
// counter, adding its continuous clear on first use: once the pulse
// has been delivered the register resets itself.
func (p *pass) signalRegFor(b *ir.Builder, info *fsmInfo) *ir.Cell {
	if sig := p.signalRegs[info.id]; sig != nil {
		return sig
	}
	sig := b.AddPrimitive("signal_reg", "std_reg", 1)
	one1 := b.AddConstant(1, 1)
	zero1 := b.AddConstant(0, 1)
	clearG := ir.And(info.first, ir.PortGuard(sig.Port("out")))
	b.AddContinuous(
		&ir.Assignment{Dst: sig.Port("in"), Src: zero1.Port("out"), Guard: clearG},
		&ir.Assignment{Dst: sig.Port("write_en"), Src: one1.Port("out"), Guard: clearG},
	)
	p.signalRegs[info.id] = sig
	return sig
}

// colorClasses groups fragments by their color, preserving the
// fragments' declaration order and the colors' first-appearance order.
func colorClasses(sgroups []*ir.StaticGroup, coloring map[string]string) (map[string][]*ir.StaticGroup, []string, error) {
	classes := make(map[string][]*ir.StaticGroup)
	var order []string
	for _, sg := range sgroups {
		color, ok := coloring[sg.Name]
		if !ok {
			return nil, nil, errf(EmptyColorClass, sg.Name, "fragment received no color")
		}
		if _, seen := classes[color]; !seen {
			order = append(order, color)
		}
		classes[color] = append(classes[color], sg)
	}
	for _, color := range order {
		if len(classes[color]) == 0 {
			return nil, nil, errf(EmptyColorClass, "", "color %q has no members", color)
		}
	}
	return classes, order, nil
}

// collectEnables returns the names of the statically enabled groups
// under c, in first-appearance order.
func collectEnables(c ir.Control) []string {
	var names []string
	seen := make(map[string]bool)
	var walk func(ir.Control)
	walk = func(c ir.Control) {
		switch c := c.(type) {
		case *ir.StaticEnable:
			if !seen[c.Group.Name] {
				seen[c.Group.Name] = true
				names = append(names, c.Group.Name)
			}
		case *ir.Seq:
			for _, s := range c.Stmts {
				walk(s)
			}
		case *ir.Par:
			for _, s := range c.Stmts {
				walk(s)
			}
		case *ir.If:
			walk(c.Then)
			walk(c.Else)
		case *ir.While:
			walk(c.Body)
		case *ir.Repeat:
			walk(c.Body)
		}
	}
	walk(c)
	return names
}

// interfaceGuard rewrites interval leaves that begin at cycle zero so
// the component go signal stands in for "cycle zero": with the counter
// pinned at its first state until go rises, the first state alone does
// not distinguish idling from running.
func interfaceGuard(g *ir.Guard, goG *ir.Guard) *ir.Guard {
	switch g.Op {
	case ir.GuardInterval:
		if g.Beg != 0 {
			return g
		}
		head := ir.And(goG, ir.Interval(0, 1))
		if g.End == 1 {
			return head
		}
		return ir.Or(head, ir.Interval(1, g.End))
	case ir.GuardNot:
		return ir.Not(interfaceGuard(g.L, goG))
	case ir.GuardAnd:
		return ir.And(interfaceGuard(g.L, goG), interfaceGuard(g.R, goG))
	case ir.GuardOr:
		return ir.Or(interfaceGuard(g.L, goG), interfaceGuard(g.R, goG))
	}
	return g
}

// dropIntervals replaces every interval leaf with true; valid only for
// single-cycle fragments, where any interval spans the whole run.
func dropIntervals(g *ir.Guard) *ir.Guard {
	switch g.Op {
	case ir.GuardInterval:
		return ir.True()
	case ir.GuardNot:
		return ir.Not(dropIntervals(g.L))
	case ir.GuardAnd:
		return ir.And(dropIntervals(g.L), dropIntervals(g.R))
	case ir.GuardOr:
		return ir.Or(dropIntervals(g.L), dropIntervals(g.R))
	}
	return g
}

// realizer hands out the per-color counters of a tree schedule.
// Counters are built lazily on first request and shared by every node
// wearing the color; each is sized for the color's largest member.
type realizer struct {
	b        *ir.Builder
	coloring map[string]string
	sizes    map[string]colorSize
	pool     map[string]*fsmPair
}

type colorSize struct {
	states, repeats uint64
}

type fsmPair struct {
	fsm, iter *fsm
}

func (r *realizer) fsmsFor(name string) (*fsm, *fsm) {
	color := r.coloring[name]
	pair := r.pool[color]
	if pair == nil {
		pair = &fsmPair{}
		sz := r.sizes[color]
		if sz.states > 1 {
			pair.fsm = newFSM(r.b, sz.states, Binary, 1)
		}
		if sz.repeats > 1 {
			pair.iter = newFSM(r.b, sz.repeats, Binary, 1)
		}
		r.pool[color] = pair
	}
	return pair.fsm, pair.iter
}

func (p *pass) logf(format string, args ...interface{}) {
	if p.opts.Logger != nil {
		p.opts.Logger.Printf(format, args...)
	}
}
