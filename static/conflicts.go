// Copyright 2024 The Staticlower Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package static

import "staticlower/ir"

// goWrites returns the names of the static groups whose go hole sg
// writes, in assignment order and deduplicated.
func goWrites(sg *ir.StaticGroup) []string {
	var names []string
	seen := make(map[string]bool)
	for _, a := range sg.Assignments {
		if a.Dst.SGroup == nil || a.Dst.Name != "go" {
			continue
		}
		name := a.Dst.SGroup.Name
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// buildTriggerMap maps each fragment to the set of fragments whose go
// signal it writes, directly or through intermediaries. Built by
// fixpoint expansion from the direct go-writes. A go-write to a name
// outside the known fragment set is a dangling trigger.
func buildTriggerMap(sgroups []*ir.StaticGroup) (map[string]map[string]bool, error) {
	known := make(map[string]bool, len(sgroups))
	for _, sg := range sgroups {
		known[sg.Name] = true
	}
	uses := make(map[string]map[string]bool, len(sgroups))
	for _, sg := range sgroups {
		set := make(map[string]bool)
		for _, name := range goWrites(sg) {
			if !known[name] {
				return nil, errf(DanglingTrigger, sg.Name, "go-write targets unknown fragment %q", name)
			}
			set[name] = true
		}
		uses[sg.Name] = set
	}
	for changed := true; changed; {
		changed = false
		for _, set := range uses {
			for child := range set {
				for grandchild := range uses[child] {
					if !set[grandchild] {
						set[grandchild] = true
						changed = true
					}
				}
			}
		}
	}
	return uses, nil
}

// usedFragments adds to out every fragment enabled under c, including
// the fragments those trigger through their go-writes.
func usedFragments(c ir.Control, uses map[string]map[string]bool, out map[string]bool) {
	switch c := c.(type) {
	case *ir.StaticEnable:
		out[c.Group.Name] = true
		for name := range uses[c.Group.Name] {
			out[name] = true
		}
	case *ir.Seq:
		for _, s := range c.Stmts {
			usedFragments(s, uses, out)
		}
	case *ir.Par:
		for _, s := range c.Stmts {
			usedFragments(s, uses, out)
		}
	case *ir.If:
		usedFragments(c.Then, uses, out)
		usedFragments(c.Else, uses, out)
	case *ir.While:
		usedFragments(c.Body, uses, out)
	case *ir.Repeat:
		usedFragments(c.Body, uses, out)
	}
}

// addParConflicts adds a conflict between every pair of fragments
// drawn from different branches of the same parallel composition,
// recursing into nested pars.
func addParConflicts(c ir.Control, uses map[string]map[string]bool, g *conflictGraph) {
	switch c := c.(type) {
	case *ir.Seq:
		for _, s := range c.Stmts {
			addParConflicts(s, uses, g)
		}
	case *ir.If:
		addParConflicts(c.Then, uses, g)
		addParConflicts(c.Else, uses, g)
	case *ir.While:
		addParConflicts(c.Body, uses, g)
	case *ir.Repeat:
		addParConflicts(c.Body, uses, g)
	case *ir.Par:
		branches := make([]map[string]bool, len(c.Stmts))
		for i, s := range c.Stmts {
			branches[i] = make(map[string]bool)
			usedFragments(s, uses, branches[i])
		}
		for i := 0; i < len(branches); i++ {
			for j := i + 1; j < len(branches); j++ {
				for a := range branches[i] {
					for b := range branches[j] {
						g.insertConflict(a, b)
					}
				}
			}
		}
		// Nested pars need their own cross-branch edges.
		for _, s := range c.Stmts {
			addParConflicts(s, uses, g)
		}
	}
}

// addTriggerConflicts makes a fragment conflict with everything it
// triggers, and conservatively makes two fragments triggered by the
// same third fragment conflict with each other: they may be active in
// the same triggering window.
func addTriggerConflicts(uses map[string]map[string]bool, g *conflictGraph) {
	for parent, set := range uses {
		var members []string
		for child := range set {
			g.insertConflict(parent, child)
			members = append(members, child)
		}
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				g.insertConflict(members[i], members[j])
			}
		}
	}
}

// addLatencyDiffConflicts forbids sharing between fragments whose
// latencies differ by more than the threshold, purely to bound wasted
// counter width.
func addLatencyDiffConflicts(sgroups []*ir.StaticGroup, threshold uint64, g *conflictGraph) {
	for i := 0; i < len(sgroups); i++ {
		for j := i + 1; j < len(sgroups); j++ {
			a, b := sgroups[i].Latency, sgroups[j].Latency
			diff := a - b
			if b > a {
				diff = b - a
			}
			if diff > threshold {
				g.insertConflict(sgroups[i].Name, sgroups[j].Name)
			}
		}
	}
}
