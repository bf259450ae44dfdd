// Copyright 2024 The Staticlower Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package static

import "staticlower/ir"

// A flatSchedule realizes the fragments of one color against one
// shared fsm, without offloading: the fsm counts each fragment's full
// latency, and every timing-interval guard becomes a live counter
// comparison. The counting assignments live inside each fragment's
// own (future early-reset) group, so triggering the group scopes the
// count.
type flatSchedule struct {
	groups  []*ir.StaticGroup
	states  uint64 // latency of the longest member
	queries int    // conservative interval-leaf count across members
	fsm     *fsm
}

func newFlatSchedule(groups []*ir.StaticGroup) *flatSchedule {
	s := &flatSchedule{groups: groups}
	for _, g := range groups {
		if g.Latency > s.states {
			s.states = g.Latency
		}
		for _, a := range g.Assignments {
			s.queries += countQueries(a.Guard)
		}
	}
	return s
}

// countQueries counts the timing-interval leaves of a guard. An Or of
// two interval leaves counts as two queries even when the intervals
// overlap or are identical; the over-counting is intentionally
// conservative.
func countQueries(g *ir.Guard) int {
	switch g.Op {
	case ir.GuardInterval:
		return 1
	case ir.GuardNot:
		return countQueries(g.L)
	case ir.GuardAnd, ir.GuardOr:
		return countQueries(g.L) + countQueries(g.R)
	}
	return 0
}

// instantiate builds the schedule's fsm, choosing the encoding from
// the one-hot cutoff and duplicating the register when the predicted
// query load exceeds the budget. Schedules with more states than a
// one-hot pattern can carry stay binary regardless of the cutoff.
func (s *flatSchedule) instantiate(b *ir.Builder, opts Options) {
	enc := OneHot
	if s.states > opts.OneHotCutoff || s.states > 64 {
		enc = Binary
	}
	copies := 1
	if opts.QueryBudget > 0 && uint64(s.queries) > opts.QueryBudget {
		copies = int((uint64(s.queries) + opts.QueryBudget - 1) / opts.QueryBudget)
	}
	s.fsm = newFSM(b, s.states, enc, copies)
}

// realize drains every member fragment's assignments, rewrites their
// timing-interval guards into queries against the shared fsm, and
// appends the fragment's counting logic. The result maps fragment
// name to its realized assignment list. start, when non-nil, pins
// each fragment's counter until the guard holds (used for the static
// component interface).
func (s *flatSchedule) realize(b *ir.Builder, start *ir.Guard) map[string][]*ir.Assignment {
	out := make(map[string][]*ir.Assignment, len(s.groups))
	for _, g := range s.groups {
		assigns := g.Assignments
		g.Assignments = nil
		for _, a := range assigns {
			a.Guard = makeGuardDyn(a.Guard, s.fsm, b)
		}
		assigns = append(assigns, s.fsm.countToN(b, g.Latency-1, start)...)
		out[g.Name] = assigns
	}
	return out
}

// makeGuardDyn replaces every timing-interval leaf of a guard with
// the equivalent counter query; all other leaves pass through.
func makeGuardDyn(g *ir.Guard, f *fsm, b *ir.Builder) *ir.Guard {
	switch g.Op {
	case ir.GuardInterval:
		return f.queryBetween(b, g.Beg, g.End)
	case ir.GuardNot:
		return ir.Not(makeGuardDyn(g.L, f, b))
	case ir.GuardAnd:
		return ir.And(makeGuardDyn(g.L, f, b), makeGuardDyn(g.R, f, b))
	case ir.GuardOr:
		return ir.Or(makeGuardDyn(g.L, f, b), makeGuardDyn(g.R, f, b))
	}
	return g
}
