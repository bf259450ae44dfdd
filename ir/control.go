// Copyright 2024 The Staticlower Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

// Control is a node of the reduced control tree. By the time the
// static lowering pass runs, the tree contains only the primitive
// vocabulary below; in particular all static control has been reduced
// to StaticEnable nodes.
type Control interface {
	aControl()
}

// Empty is the no-op control node.
type Empty struct{}

// Enable executes one dynamic group to completion.
type Enable struct {
	Group *Group
}

// StaticEnable executes one static group for its full latency.
type StaticEnable struct {
	Group *StaticGroup
}

// Seq executes its statements in order.
type Seq struct {
	Stmts []Control
}

// Par executes its statements concurrently.
type Par struct {
	Stmts []Control
}

// If branches on a port.
type If struct {
	Port       *Port
	Then, Else Control
}

// While repeats its body while the port is high. CondGroup, when
// non-nil, is a combinational group computing the condition; a nil
// CondGroup marks a condition that is stable without recomputation,
// which is what the while specialization requires.
type While struct {
	Port      *Port
	CondGroup *Group
	Body      Control
}

// Repeat executes its body a fixed number of times.
type Repeat struct {
	N    uint64
	Body Control
}

func (*Empty) aControl()        {}
func (*Enable) aControl()       {}
func (*StaticEnable) aControl() {}
func (*Seq) aControl()          {}
func (*Par) aControl()          {}
func (*If) aControl()           {}
func (*While) aControl()        {}
func (*Repeat) aControl()       {}
