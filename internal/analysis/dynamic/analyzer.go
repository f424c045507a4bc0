// internal/analysis/dynamic/analyzer.go
package dynamic

import (
	"sync"

	"go.uber.org/zap"
)

// MaxEvents is the event log capacity. When it is reached the oldest
// tenth of the log is evicted in one batch.
const MaxEvents = 10000

// Analyzer is the bounded, ordered log of hostcall events for one task.
type Analyzer struct {
	logger *zap.Logger
	limit  int

	mu                sync.Mutex
	events            []Event
	evicted           int
	functionCallCount int
}

// NewAnalyzer creates an analyzer with the standard capacity.
func NewAnalyzer(logger *zap.Logger) *Analyzer {
	return NewAnalyzerWithLimit(logger, MaxEvents)
}

// NewAnalyzerWithLimit creates an analyzer with a custom capacity.
func NewAnalyzerWithLimit(logger *zap.Logger, limit int) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = MaxEvents
	}
	return &Analyzer{
		logger: logger.Named("dynamic"),
		limit:  limit,
		events: make([]Event, 0, 64),
	}
}

// RecordEvent appends an event, evicting the oldest batch first if the log
// is full.
func (a *Analyzer) RecordEvent(e Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.events) >= a.limit {
		batch := a.limit / 10
		if batch < 1 {
			batch = 1
		}
		// Copy survivors into a fresh slice so the evicted prefix is released.
		survivors := make([]Event, len(a.events)-batch, a.limit)
		copy(survivors, a.events[batch:])
		a.events = survivors
		if a.evicted == 0 {
			a.logger.Debug("Event log full; evicting oldest events.", zap.Int("batch", batch))
		}
		a.evicted += batch
	}
	a.events = append(a.events, e)
}

// Events returns a copy of the log in arrival order.
func (a *Analyzer) Events() []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Event(nil), a.events...)
}

// Len returns the current log size.
func (a *Analyzer) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

// Evicted returns how many events have been dropped so far.
func (a *Analyzer) Evicted() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.evicted
}

// GetEventsBySeverity returns events with severity >= min, in order.
func (a *Analyzer) GetEventsBySeverity(min int) []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Event
	for _, e := range a.events {
		if e.Severity >= min {
			out = append(out, e)
		}
	}
	return out
}

// EventsNamed returns events recorded under a hostcall name.
func (a *Analyzer) EventsNamed(name string) []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Event
	for _, e := range a.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// IncrementFunctionCallCount bumps the global call counter and returns the
// value before the increment.
func (a *Analyzer) IncrementFunctionCallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	prior := a.functionCallCount
	a.functionCallCount++
	return prior
}

// FunctionCallCount returns the global call counter.
func (a *Analyzer) FunctionCallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.functionCallCount
}

// SetFunctionCallCount overrides the counter. Used to seed state in tests
// and when resuming a task.
func (a *Analyzer) SetFunctionCallCount(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.functionCallCount = n
}
