// Copyright 2024 The Staticlower Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

import "fmt"

// GuardOp is the operator at the root of a guard expression.
type GuardOp uint8

const (
	GuardTrue GuardOp = iota
	GuardPort
	GuardNot
	GuardAnd
	GuardOr
	GuardCmp
	GuardInterval
)

// CmpOp is a comparison operator between two ports.
type CmpOp uint8

const (
	CmpEq CmpOp = iota
	CmpNeq
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

func (op CmpOp) String() string {
	return [...]string{"==", "!=", "<", "<=", ">", ">="}[op]
}

// A Guard is a boolean expression over ports, comparisons, and
// timing-interval leaves. Interval leaves [Beg, End) hold exactly
// during local cycles Beg..End-1 of the enclosing static group and
// are eliminated by the static lowering pass.
type Guard struct {
	Op       GuardOp
	L, R     *Guard // And, Or; L only for Not
	P        *Port  // Port
	Cmp      CmpOp  // Cmp
	X, Y     *Port  // Cmp operands
	Beg, End uint64 // Interval
}

// True returns the always-true guard.
func True() *Guard { return &Guard{Op: GuardTrue} }

// PortGuard returns a guard that holds while p is high.
func PortGuard(p *Port) *Guard { return &Guard{Op: GuardPort, P: p} }

// Not returns the negation of g.
func Not(g *Guard) *Guard { return &Guard{Op: GuardNot, L: g} }

// And returns the conjunction of a and b, folding the trivial cases.
func And(a, b *Guard) *Guard {
	if a.Op == GuardTrue {
		return b
	}
	if b.Op == GuardTrue {
		return a
	}
	return &Guard{Op: GuardAnd, L: a, R: b}
}

// Or returns the disjunction of a and b.
func Or(a, b *Guard) *Guard {
	if a.Op == GuardTrue || b.Op == GuardTrue {
		return True()
	}
	return &Guard{Op: GuardOr, L: a, R: b}
}

// Compare returns the comparison guard x op y.
func Compare(op CmpOp, x, y *Port) *Guard {
	return &Guard{Op: GuardCmp, Cmp: op, X: x, Y: y}
}

// Interval returns the timing-interval guard [beg, end).
func Interval(beg, end uint64) *Guard {
	if beg >= end {
		panic(fmt.Sprintf("ir: empty timing interval [%d, %d)", beg, end))
	}
	return &Guard{Op: GuardInterval, Beg: beg, End: end}
}

// HasInterval reports whether g contains a timing-interval leaf.
func (g *Guard) HasInterval() bool {
	switch g.Op {
	case GuardInterval:
		return true
	case GuardNot:
		return g.L.HasInterval()
	case GuardAnd, GuardOr:
		return g.L.HasInterval() || g.R.HasInterval()
	}
	return false
}

func (g *Guard) rewritePorts(m map[*Port]*Port) {
	switch g.Op {
	case GuardPort:
		if np := m[g.P]; np != nil {
			g.P = np
		}
	case GuardNot:
		g.L.rewritePorts(m)
	case GuardAnd, GuardOr:
		g.L.rewritePorts(m)
		g.R.rewritePorts(m)
	case GuardCmp:
		if np := m[g.X]; np != nil {
			g.X = np
		}
		if np := m[g.Y]; np != nil {
			g.Y = np
		}
	}
}

func (g *Guard) String() string {
	switch g.Op {
	case GuardTrue:
		return "1"
	case GuardPort:
		return g.P.String()
	case GuardNot:
		return "!" + g.L.String()
	case GuardAnd:
		return "(" + g.L.String() + " & " + g.R.String() + ")"
	case GuardOr:
		return "(" + g.L.String() + " | " + g.R.String() + ")"
	case GuardCmp:
		return fmt.Sprintf("%v %v %v", g.X, g.Cmp, g.Y)
	case GuardInterval:
		return fmt.Sprintf("%%[%d:%d]", g.Beg, g.End)
	}
	return "?"
}
