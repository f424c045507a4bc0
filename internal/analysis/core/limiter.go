package core

import "sync"

// DefaultCallLimit is the shared per-name call ceiling.
const DefaultCallLimit = 1000

// CallLimiter counts calls per hostcall name against a shared ceiling.
type CallLimiter struct {
	limit int

	mu       sync.Mutex
	counts   map[string]int
	exceeded map[string]bool
}

// NewCallLimiter creates a limiter. A non-positive limit uses the default.
func NewCallLimiter(limit int) *CallLimiter {
	if limit <= 0 {
		limit = DefaultCallLimit
	}
	return &CallLimiter{
		limit:    limit,
		counts:   make(map[string]int),
		exceeded: make(map[string]bool),
	}
}

// Allow counts a call to name. It returns allowed=false once the ceiling
// is passed, and first=true only on the first refused call.
func (l *CallLimiter) Allow(name string) (allowed, first bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[name]++
	if l.counts[name] <= l.limit {
		return true, false
	}
	if l.exceeded[name] {
		return false, false
	}
	l.exceeded[name] = true
	return false, true
}

// Count returns how many times name has been called.
func (l *CallLimiter) Count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[name]
}

// Limit returns the configured ceiling.
func (l *CallLimiter) Limit() int { return l.limit }

// Exceeded lists the names that passed the ceiling.
func (l *CallLimiter) Exceeded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for name := range l.exceeded {
		out = append(out, name)
	}
	return out
}
