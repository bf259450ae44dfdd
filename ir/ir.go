// Copyright 2024 The Staticlower Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ir holds the in-memory hardware representation that the
// static lowering pass consumes and produces: primitive cells with
// ports, guarded assignments, dynamic and static groups, and the
// reduced control tree. The pass only mutates it through the
// operations defined here.
package ir

import "fmt"

// A Cell is one instance of a hardware primitive (register, adder,
// shifter, bit slice, wire, or constant). Ports are interned per
// (cell, name) so that pointer identity can be used to track a port
// across rewrites.
type Cell struct {
	Name   string
	Prim   string   // primitive name, e.g. "std_reg"
	Params []uint64 // primitive parameters (widths, slice bounds, constant value)

	ports map[string]*Port
}

// Port returns the cell's port with the given name, creating it on
// first use.
func (c *Cell) Port(name string) *Port {
	if c.ports == nil {
		c.ports = make(map[string]*Port)
	}
	p := c.ports[name]
	if p == nil {
		p = &Port{Cell: c, Name: name}
		c.ports[name] = p
	}
	return p
}

// Width reports the primary width parameter of the cell.
func (c *Cell) Width() uint64 {
	if len(c.Params) == 0 {
		return 0
	}
	return c.Params[0]
}

// IsConstant reports whether the cell is a constant with the given
// value and width.
func (c *Cell) IsConstant(val, width uint64) bool {
	return c.Prim == "std_const" && len(c.Params) == 2 && c.Params[1] == val && c.Params[0] == width
}

// A Port is a connection point. Exactly one of Cell, Group, SGroup is
// non-nil. Group-owned ports are "holes" (go, done).
type Port struct {
	Cell   *Cell
	Group  *Group
	SGroup *StaticGroup
	Name   string
}

// IsHole reports whether the port belongs to a group rather than a cell.
func (p *Port) IsHole() bool { return p.Cell == nil }

// ParentName returns the name of the port's owning cell or group.
func (p *Port) ParentName() string {
	switch {
	case p.Cell != nil:
		return p.Cell.Name
	case p.Group != nil:
		return p.Group.Name
	default:
		return p.SGroup.Name
	}
}

func (p *Port) String() string {
	if p.IsHole() {
		return p.ParentName() + "[" + p.Name + "]"
	}
	return p.ParentName() + "." + p.Name
}

// An Assignment drives dst from src whenever the guard holds.
type Assignment struct {
	Dst   *Port
	Src   *Port
	Guard *Guard
}

func (a *Assignment) String() string {
	if a.Guard == nil || a.Guard.Op == GuardTrue {
		return fmt.Sprintf("%v = %v", a.Dst, a.Src)
	}
	return fmt.Sprintf("%v = %v ? %v", a.Dst, a.Guard, a.Src)
}

// A Group is a dynamic group: a named set of assignments with go and
// done holes.
type Group struct {
	Name        string
	Assignments []*Assignment

	holes map[string]*Port
}

// Hole returns the group's hole port with the given name, creating it
// on first use.
func (g *Group) Hole(name string) *Port {
	if g.holes == nil {
		g.holes = make(map[string]*Port)
	}
	p := g.holes[name]
	if p == nil {
		p = &Port{Group: g, Name: name}
		g.holes[name] = p
	}
	return p
}

// A StaticGroup is a group whose execution length in cycles is known
// at compile time. Its assignment guards may contain timing-interval
// leaves. Static groups have a go hole but no done hole.
type StaticGroup struct {
	Name        string
	Latency     uint64
	Par         bool // true if the group is a parallel container
	Assignments []*Assignment

	holes map[string]*Port
}

// Hole returns the static group's hole port with the given name,
// creating it on first use.
func (g *StaticGroup) Hole(name string) *Port {
	if g.holes == nil {
		g.holes = make(map[string]*Port)
	}
	p := g.holes[name]
	if p == nil {
		p = &Port{SGroup: g, Name: name}
		g.holes[name] = p
	}
	return p
}

// A Component owns cells, groups, continuous assignments, and a
// control tree. The signature cell carries the component's external
// go/done ports.
type Component struct {
	Name         string
	Cells        []*Cell
	Groups       []*Group
	StaticGroups []*StaticGroup
	Continuous   []*Assignment
	Control      Control
	Signature    *Cell

	Static   bool   // the component's whole control is one static island
	Latency  uint64 // valid when Static
	Promoted bool   // promoted from a dynamic component; needs a done signal
}

// NewComponent returns a component with an empty control tree and a
// fresh signature cell.
func NewComponent(name string) *Component {
	return &Component{
		Name:      name,
		Control:   &Empty{},
		Signature: &Cell{Name: name, Prim: "signature"},
	}
}

// FindCell returns the cell with the given name, or nil.
func (c *Component) FindCell(name string) *Cell {
	for _, cell := range c.Cells {
		if cell.Name == name {
			return cell
		}
	}
	return nil
}

// FindGroup returns the dynamic group with the given name, or nil.
func (c *Component) FindGroup(name string) *Group {
	for _, g := range c.Groups {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// FindStaticGroup returns the static group with the given name, or nil.
func (c *Component) FindStaticGroup(name string) *StaticGroup {
	for _, g := range c.StaticGroups {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// ForEachAssignment applies f to every assignment in the component:
// group assignments, static group assignments, and continuous
// assignments.
func (c *Component) ForEachAssignment(f func(*Assignment)) {
	for _, g := range c.Groups {
		for _, a := range g.Assignments {
			f(a)
		}
	}
	for _, g := range c.StaticGroups {
		for _, a := range g.Assignments {
			f(a)
		}
	}
	for _, a := range c.Continuous {
		f(a)
	}
}

// RewritePorts replaces ports across every assignment in the
// component according to the given map. Guards are rewritten in
// place.
func (c *Component) RewritePorts(m map[*Port]*Port) {
	if len(m) == 0 {
		return
	}
	c.ForEachAssignment(func(a *Assignment) {
		if np := m[a.Dst]; np != nil {
			a.Dst = np
		}
		if np := m[a.Src]; np != nil {
			a.Src = np
		}
		a.Guard.rewritePorts(m)
	})
}
