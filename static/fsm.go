// Copyright 2024 The Staticlower Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package static

import (
	"fmt"
	"math/bits"

	"staticlower/ir"
)

// Encoding selects how a counter represents its state.
type Encoding uint8

const (
	// Binary: a log-sized register incremented by an adder.
	Binary Encoding = iota
	// OneHot: one bit per state, advanced by a left shift. The all-zero
	// pattern is reserved as an idle sentinel; the running pattern for
	// state s is 1<<s.
	OneHot
)

func (e Encoding) String() string {
	if e == OneHot {
		return "one-hot"
	}
	return "binary"
}

// bitWidth returns the register width needed for a counter with the
// given number of states: 0..=states must be representable, except
// that an exact power of two needs only log2(states) bits.
func bitWidth(states uint64) uint64 {
	switch {
	case states == 0:
		return 0
	case states == 1:
		return 1
	case states&(states-1) == 0:
		return uint64(bits.TrailingZeros64(states))
	}
	// ceil(log2(states+1)) for non-powers of two.
	return uint64(bits.Len64(states))
}

// An fsm is one logical counter: a single register, or a fixed family
// of duplicate registers that all count the same states. Families
// exist to bound query fan-out into any one physical register; each
// query is routed to the least-queried member.
type fsm struct {
	states uint64
	enc    Encoding
	width  uint64

	regs []*ir.Cell // the counter register(s)
	load []int      // queries served per register

	hot map[hotKey]*ir.Cell // one-hot query wires, shared per (reg, beg, end)
}

type hotKey struct {
	reg      int
	beg, end uint64
}

// newFSM allocates the counter register(s) for an fsm with the given
// number of states. copies > 1 requests a duplicate family.
func newFSM(b *ir.Builder, states uint64, enc Encoding, copies int) *fsm {
	if states == 0 {
		panic("static: fsm constructed with zero states")
	}
	if enc == OneHot && states > 64 {
		// State patterns are carried as 64-bit constants; 1<<s
		// overflows beyond that.
		panic(fmt.Sprintf("static: one-hot fsm with %d states does not fit a constant pattern", states))
	}
	if copies < 1 {
		copies = 1
	}
	width := bitWidth(states)
	if enc == OneHot {
		width = states
	}
	f := &fsm{
		states: states,
		enc:    enc,
		width:  width,
		regs:   make([]*ir.Cell, copies),
		load:   make([]int, copies),
		hot:    make(map[hotKey]*ir.Cell),
	}
	for i := range f.regs {
		f.regs[i] = b.AddPrimitive("fsm", "std_reg", width)
	}
	return f
}

// id returns a name unique to this fsm within the component, used to
// share signal registers between fragments driven by the same fsm.
func (f *fsm) id() string { return f.regs[0].Name }

// pick returns the least-queried register of the family and charges
// the query to it.
func (f *fsm) pick() int {
	best := 0
	for i, n := range f.load {
		if n < f.load[best] {
			best = i
		}
	}
	f.load[best]++
	return best
}

// out returns the output port of register r.
func (f *fsm) out(r int) *ir.Port { return f.regs[r].Port("out") }

// eqState returns a guard for "register r is in state s", on top of
// the encoding. For one-hot state 0 the guard also accepts the idle
// pattern, since a counter that has not started yet is at its first
// state by definition.
func (f *fsm) eqState(b *ir.Builder, r int, s uint64) *ir.Guard {
	if f.enc == Binary {
		c := b.AddConstant(s, f.width)
		return ir.Compare(ir.CmpEq, f.out(r), c.Port("out"))
	}
	bit := f.hotWire(b, r, s, s+1)
	g := ir.PortGuard(bit.Port("out"))
	if s == 0 {
		zero := b.AddConstant(0, f.width)
		g = ir.Or(g, ir.Compare(ir.CmpEq, f.out(r), zero.Port("out")))
	}
	return g
}

// hotWire returns the memoized bit-slice cell reading bits beg..end-1
// of register r, adding its input wiring as a continuous assignment
// the first time.
func (f *fsm) hotWire(b *ir.Builder, r int, beg, end uint64) *ir.Cell {
	key := hotKey{r, beg, end}
	if c := f.hot[key]; c != nil {
		return c
	}
	c := b.AddPrimitive("slice", "std_bit_slice", f.width, beg, end-1, end-beg)
	b.AddContinuous(&ir.Assignment{
		Dst:   c.Port("in"),
		Src:   f.out(r),
		Guard: ir.True(),
	})
	f.hot[key] = c
	return c
}

// queryBetween returns a guard equivalent to "beg <= counter < end".
// For a duplicate family, the least-queried register answers.
func (f *fsm) queryBetween(b *ir.Builder, beg, end uint64) *ir.Guard {
	if beg >= end || end > f.states {
		panic(fmt.Sprintf("static: query [%d, %d) outside fsm with %d states", beg, end, f.states))
	}
	r := f.pick()
	if beg+1 == end {
		return f.eqState(b, r, beg)
	}
	switch f.enc {
	case Binary:
		endC := b.AddConstant(end, f.width)
		lt := ir.Compare(ir.CmpLt, f.out(r), endC.Port("out"))
		if beg == 0 {
			return lt
		}
		begC := b.AddConstant(beg, f.width)
		ge := ir.Compare(ir.CmpGe, f.out(r), begC.Port("out"))
		return ir.And(ge, lt)
	default: // OneHot
		slice := f.hotWire(b, r, beg, end)
		zero := b.AddConstant(0, end-beg)
		g := ir.Compare(ir.CmpNeq, slice.Port("out"), zero.Port("out"))
		if beg == 0 {
			zeroAll := b.AddConstant(0, f.width)
			g = ir.Or(g, ir.Compare(ir.CmpEq, f.out(r), zeroAll.Port("out")))
		}
		return g
	}
}

// countToN emits the logic that makes every register of the fsm count
// from its first state up to state n and reset early back to the
// first state. With a nil start guard the counter counts whenever the
// assignments are active (they live inside a triggered group). With a
// start guard the counter stays pinned at its first state until the
// guard holds, then counts unconditionally; the guard staying
// asserted does not disturb an in-progress count.
func (f *fsm) countToN(b *ir.Builder, n uint64, start *ir.Guard) []*ir.Assignment {
	if n >= f.states {
		panic(fmt.Sprintf("static: count to %d outside fsm with %d states", n, f.states))
	}
	var assigns []*ir.Assignment
	for r := range f.regs {
		if f.enc == Binary {
			assigns = append(assigns, f.countBinary(b, r, n, start)...)
		} else {
			assigns = append(assigns, f.countOneHot(b, r, n, start)...)
		}
	}
	return assigns
}

func (f *fsm) countBinary(b *ir.Builder, r int, n uint64, start *ir.Guard) []*ir.Assignment {
	reg := f.regs[r]
	one1 := b.AddConstant(1, 1)
	adder := b.AddPrimitive("adder", "std_add", f.width)
	oneW := b.AddConstant(1, f.width)
	first := b.AddConstant(0, f.width)
	final := b.AddConstant(n, f.width)

	atFinal := ir.Compare(ir.CmpEq, reg.Port("out"), final.Port("out"))
	assigns := []*ir.Assignment{
		{Dst: adder.Port("left"), Src: reg.Port("out"), Guard: ir.True()},
		{Dst: adder.Port("right"), Src: oneW.Port("out"), Guard: ir.True()},
		{Dst: reg.Port("write_en"), Src: one1.Port("out"), Guard: ir.True()},
	}
	if start == nil {
		notFinal := ir.Compare(ir.CmpNeq, reg.Port("out"), final.Port("out"))
		assigns = append(assigns,
			&ir.Assignment{Dst: reg.Port("in"), Src: adder.Port("out"), Guard: notFinal},
			&ir.Assignment{Dst: reg.Port("in"), Src: first.Port("out"), Guard: atFinal},
		)
		return assigns
	}
	// With a start condition the counter leaves its first state only
	// when the condition holds; in between it increments
	// unconditionally, and at state n it resets early. An idle counter
	// is left undriven and so holds zero.
	atFirst := ir.Compare(ir.CmpEq, reg.Port("out"), first.Port("out"))
	notFirst := ir.Compare(ir.CmpNeq, reg.Port("out"), first.Port("out"))
	notFinal := ir.Compare(ir.CmpNeq, reg.Port("out"), final.Port("out"))
	assigns = append(assigns,
		&ir.Assignment{Dst: reg.Port("in"), Src: oneW.Port("out"), Guard: ir.And(start, atFirst)},
		&ir.Assignment{Dst: reg.Port("in"), Src: adder.Port("out"), Guard: ir.And(notFirst, notFinal)},
		&ir.Assignment{Dst: reg.Port("in"), Src: first.Port("out"), Guard: atFinal},
	)
	return assigns
}

func (f *fsm) countOneHot(b *ir.Builder, r int, n uint64, start *ir.Guard) []*ir.Assignment {
	reg := f.regs[r]
	one1 := b.AddConstant(1, 1)
	firstPat := b.AddConstant(1, f.width)

	if n == 0 {
		// Single-state counter: pinned at the first state.
		return []*ir.Assignment{
			{Dst: reg.Port("write_en"), Src: one1.Port("out"), Guard: ir.True()},
			{Dst: reg.Port("in"), Src: firstPat.Port("out"), Guard: ir.True()},
		}
	}

	shifter := b.AddPrimitive("shifter", "std_lsh", f.width)
	shiftOne := b.AddConstant(1, f.width)
	idlePat := b.AddConstant(0, f.width)
	secondPat := b.AddConstant(2, f.width)
	finalPat := b.AddConstant(uint64(1)<<n, f.width)

	atIdle := ir.Compare(ir.CmpEq, reg.Port("out"), idlePat.Port("out"))
	atFirst := ir.Compare(ir.CmpEq, reg.Port("out"), firstPat.Port("out"))
	atFinal := ir.Compare(ir.CmpEq, reg.Port("out"), finalPat.Port("out"))
	notIdle := ir.Compare(ir.CmpNeq, reg.Port("out"), idlePat.Port("out"))
	notFirst := ir.Compare(ir.CmpNeq, reg.Port("out"), firstPat.Port("out"))
	notFinal := ir.Compare(ir.CmpNeq, reg.Port("out"), finalPat.Port("out"))

	assigns := []*ir.Assignment{
		{Dst: shifter.Port("left"), Src: reg.Port("out"), Guard: ir.True()},
		{Dst: shifter.Port("right"), Src: shiftOne.Port("out"), Guard: ir.True()},
		{Dst: reg.Port("write_en"), Src: one1.Port("out"), Guard: ir.True()},
	}
	if start == nil {
		// An idle register reads as the first state; advancing from
		// either pattern lands on state 1. The early reset targets the
		// running first-state pattern.
		assigns = append(assigns,
			&ir.Assignment{Dst: reg.Port("in"), Src: secondPat.Port("out"), Guard: ir.Or(atIdle, atFirst)},
			&ir.Assignment{Dst: reg.Port("in"), Src: shifter.Port("out"), Guard: ir.And(ir.And(notIdle, notFirst), notFinal)},
			&ir.Assignment{Dst: reg.Port("in"), Src: firstPat.Port("out"), Guard: atFinal},
		)
		return assigns
	}
	assigns = append(assigns,
		&ir.Assignment{Dst: reg.Port("in"), Src: secondPat.Port("out"), Guard: ir.And(start, ir.Or(atIdle, atFirst))},
		&ir.Assignment{Dst: reg.Port("in"), Src: shifter.Port("out"), Guard: ir.And(ir.And(notIdle, notFirst), notFinal)},
		&ir.Assignment{Dst: reg.Port("in"), Src: firstPat.Port("out"), Guard: atFinal},
	)
	return assigns
}
