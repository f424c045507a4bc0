package core

import (
	"errors"
	"sync/atomic"
	"time"
)

// Family groups hostcalls that synchronously call back into script code.
type Family string

const (
	FamilyEvent   Family = "event"
	FamilyJQuery  Family = "jquery"
	FamilyPromise Family = "promise"
	FamilyEval    Family = "eval"
)

// DefaultReentrancyCeiling bounds nested callbacks per family.
const DefaultReentrancyCeiling = 100

// ErrReentrancyLimit is returned when a family's callback depth passes the
// ceiling.
var ErrReentrancyLimit = errors.New("reentrancy limit exceeded")

// ExecState is the per-task execution bookkeeping: recursion depth,
// callback reentrancy, the abort flag and the wall-clock deadline. One
// instance belongs to one task and is never shared.
type ExecState struct {
	ceiling int
	reentry map[Family]int

	depth    int
	abort    atomic.Bool
	start    time.Time
	deadline time.Time
}

// NewExecState creates execution state with a reentrancy ceiling.
func NewExecState(ceiling int) *ExecState {
	if ceiling <= 0 {
		ceiling = DefaultReentrancyCeiling
	}
	return &ExecState{ceiling: ceiling, reentry: make(map[Family]int)}
}

// Enter increments the family depth. The returned release func must be
// called exactly once when the callback returns.
func (s *ExecState) Enter(f Family) (func(), error) {
	if s.reentry[f] >= s.ceiling {
		return func() {}, ErrReentrancyLimit
	}
	s.reentry[f]++
	released := false
	return func() {
		if !released {
			released = true
			s.reentry[f]--
		}
	}, nil
}

// Reentry returns the current depth of a family.
func (s *ExecState) Reentry(f Family) int { return s.reentry[f] }

// Depth is the current re-entrant execution depth of the governor.
func (s *ExecState) Depth() int { return s.depth }

// PushDepth and PopDepth bracket a nested execution.
func (s *ExecState) PushDepth() { s.depth++ }
func (s *ExecState) PopDepth() {
	if s.depth > 0 {
		s.depth--
	}
}

// Begin starts the wall clock for a top-level execution.
func (s *ExecState) Begin(timeout time.Duration) {
	s.start = time.Now()
	s.deadline = s.start.Add(timeout)
	s.abort.Store(false)
}

// Abort requests that the running script stop.
func (s *ExecState) Abort() { s.abort.Store(true) }

// Aborted reports whether an abort was requested.
func (s *ExecState) Aborted() bool { return s.abort.Load() }

// Expired reports whether the deadline has passed.
func (s *ExecState) Expired() bool {
	return !s.deadline.IsZero() && time.Now().After(s.deadline)
}

// Remaining is the time left before the deadline.
func (s *ExecState) Remaining() time.Duration {
	if s.deadline.IsZero() {
		return 0
	}
	return time.Until(s.deadline)
}

// Elapsed is the time since Begin.
func (s *ExecState) Elapsed() time.Duration {
	if s.start.IsZero() {
		return 0
	}
	return time.Since(s.start)
}

// ShouldInterrupt combines the abort flag and the deadline.
func (s *ExecState) ShouldInterrupt() bool { return s.Aborted() || s.Expired() }
