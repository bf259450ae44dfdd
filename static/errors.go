// Copyright 2024 The Staticlower Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package static

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrKind classifies structural precondition violations discovered
// while lowering a component. All of them mean the upstream shaping
// stage handed this pass a malformed input; none are recoverable, and
// each aborts compilation of the enclosing component.
type ErrKind uint8

const (
	// MalformedControl: a static control node or static group does not
	// have the reduced shape this pass expects.
	MalformedControl ErrKind = iota
	// OverlappingSchedule: a fragment's delegated child windows are not
	// disjoint and sorted.
	OverlappingSchedule
	// DanglingTrigger: a go-write targets a name absent from the known
	// fragment set.
	DanglingTrigger
	// InconsistentRepeat: an offloaded window's length is not an integer
	// multiple of the child's latency.
	InconsistentRepeat
	// EmptyColorClass: the allocator produced a color with no members.
	EmptyColorClass
)

func (k ErrKind) String() string {
	switch k {
	case MalformedControl:
		return "malformed control"
	case OverlappingSchedule:
		return "overlapping schedule"
	case DanglingTrigger:
		return "dangling trigger"
	case InconsistentRepeat:
		return "inconsistent repeat"
	case EmptyColorClass:
		return "empty color class"
	}
	return "unknown"
}

// An Error is a structural precondition violation tied to a fragment.
type Error struct {
	Kind     ErrKind
	Fragment string // offending fragment name, "" if not attributable
	msg      string
}

func (e *Error) Error() string {
	if e.Fragment == "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.msg)
	}
	return fmt.Sprintf("%v in fragment %q: %s", e.Kind, e.Fragment, e.msg)
}

// errf builds an Error for the given fragment.
func errf(kind ErrKind, fragment, format string, args ...interface{}) error {
	return &Error{Kind: kind, Fragment: fragment, msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the error kind of err if it is (or wraps) an Error.
func KindOf(err error) (ErrKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
