// Copyright 2024 The Staticlower Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

import "fmt"

// A Builder adds cells, groups, and continuous assignments to a
// component, generating fresh names as needed. Constants are interned
// per (value, width).
type Builder struct {
	Comp *Component

	consts map[[2]uint64]*Cell
	seq    map[string]int
}

// NewBuilder returns a builder for comp.
func NewBuilder(comp *Component) *Builder {
	return &Builder{
		Comp:   comp,
		consts: make(map[[2]uint64]*Cell),
		seq:    make(map[string]int),
	}
}

// freshName returns prefix if unused, otherwise prefix with the next
// numeric suffix.
func (b *Builder) freshName(prefix string) string {
	name := prefix
	for b.taken(name) {
		b.seq[prefix]++
		name = fmt.Sprintf("%s%d", prefix, b.seq[prefix])
	}
	return name
}

func (b *Builder) taken(name string) bool {
	return b.Comp.FindCell(name) != nil ||
		b.Comp.FindGroup(name) != nil ||
		b.Comp.FindStaticGroup(name) != nil
}

// AddPrimitive instantiates a primitive cell with a fresh name derived
// from prefix.
func (b *Builder) AddPrimitive(prefix, prim string, params ...uint64) *Cell {
	c := &Cell{Name: b.freshName(prefix), Prim: prim, Params: params}
	b.Comp.Cells = append(b.Comp.Cells, c)
	return c
}

// AddConstant returns the interned constant cell for (val, width).
func (b *Builder) AddConstant(val, width uint64) *Cell {
	key := [2]uint64{val, width}
	if c := b.consts[key]; c != nil {
		return c
	}
	c := &Cell{
		Name:   b.freshName(fmt.Sprintf("const_%d_%d", width, val)),
		Prim:   "std_const",
		Params: []uint64{width, val},
	}
	b.Comp.Cells = append(b.Comp.Cells, c)
	b.consts[key] = c
	return c
}

// AddGroup creates an empty dynamic group with a fresh name derived
// from name.
func (b *Builder) AddGroup(name string) *Group {
	g := &Group{Name: b.freshName(name)}
	b.Comp.Groups = append(b.Comp.Groups, g)
	return g
}

// AddContinuous appends assignments to the component's continuous
// assignments.
func (b *Builder) AddContinuous(assigns ...*Assignment) {
	b.Comp.Continuous = append(b.Comp.Continuous, assigns...)
}
