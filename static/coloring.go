// Copyright 2024 The Staticlower Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package static

import "fmt"

// A conflictGraph is an undirected "must not share an fsm" relation
// over fragment names. Fragments are registered up front in a fixed
// order; conflict edges are stored as a separate adjacency structure
// so the fragment ownership tree stays acyclic.
type conflictGraph struct {
	order []string
	index map[string]int
	adj   [][]bool
}

func newConflictGraph(names []string) *conflictGraph {
	g := &conflictGraph{index: make(map[string]int, len(names))}
	for _, name := range names {
		if _, ok := g.index[name]; ok {
			continue
		}
		g.index[name] = len(g.order)
		g.order = append(g.order, name)
	}
	n := len(g.order)
	g.adj = make([][]bool, n)
	for i := range g.adj {
		g.adj[i] = make([]bool, n)
	}
	return g
}

func (g *conflictGraph) node(name string) int {
	i, ok := g.index[name]
	if !ok {
		panic(fmt.Sprintf("static: conflict for unregistered fragment %q", name))
	}
	return i
}

// insertConflict records that a and b may be simultaneously active.
func (g *conflictGraph) insertConflict(a, b string) {
	i, j := g.node(a), g.node(b)
	if i == j {
		return
	}
	g.adj[i][j] = true
	g.adj[j][i] = true
}

// conflicts reports whether a and b conflict.
func (g *conflictGraph) conflicts(a, b string) bool {
	return g.adj[g.node(a)][g.node(b)]
}

// colorGreedy colors the graph greedily in registration order,
// assigning each fragment the smallest color unused by its
// already-colored neighbors. Colors are named after the first
// fragment assigned to them. The coloring is deterministic and valid,
// not minimal.
func (g *conflictGraph) colorGreedy() map[string]string {
	n := len(g.order)
	color := make([]int, n)
	for i := range color {
		color[i] = -1
	}
	var reps []string
	taken := make([]bool, n)
	for i := 0; i < n; i++ {
		for c := range taken {
			taken[c] = false
		}
		for j := 0; j < i; j++ {
			if g.adj[i][j] {
				taken[color[j]] = true
			}
		}
		c := 0
		for taken[c] {
			c++
		}
		if c == len(reps) {
			reps = append(reps, g.order[i])
		}
		color[i] = c
	}
	out := make(map[string]string, n)
	for i, name := range g.order {
		out[name] = reps[color[i]]
	}
	return out
}
