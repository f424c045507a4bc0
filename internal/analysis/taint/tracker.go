// internal/analysis/taint/tracker.go
package taint

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

// MaxTaintedValues is the hard cap on tracked values. Once reached, new
// taints are refused and existing ones are preserved.
const MaxTaintedValues = 50000

// nextValueID is process-local and monotonic across trackers.
var nextValueID atomic.Uint64

// Value is a tracked piece of attacker-influenced data along with its
// provenance.
type Value struct {
	ValueID               uint64        `json:"value_id"`
	Value                 jsvalue.Value `json:"value"`
	SourceFunction        string        `json:"source_function"`
	TaintLevel            int           `json:"taint_level"`
	Reason                string        `json:"reason"`
	Parents               []uint64      `json:"parents"`
	PropagatedToVariables []string      `json:"propagated_to_variables"`
}

// HasParent reports whether id is a direct parent of v.
func (v *Value) HasParent(id uint64) bool {
	for _, p := range v.Parents {
		if p == id {
			return true
		}
	}
	return false
}

// Statistics summarises the tracker state.
type Statistics struct {
	TaintedValues    int         `json:"tainted_values"`
	TaintedVariables int         `json:"tainted_variables"`
	PropagationEdges int         `json:"propagation_edges"`
	LevelHistogram   map[int]int `json:"level_histogram"`
	Refused          int         `json:"refused"`
}

// Tracker is the registry of tainted values for one analysis task.
type Tracker struct {
	logger *zap.Logger
	limit  int

	mu        sync.RWMutex
	values    map[uint64]*Value
	order     []uint64
	variables map[string]uint64
	// edges is the append-only parent -> children propagation graph.
	edges     map[uint64][]uint64
	edgeCount int
	refused   int
}

// NewTracker creates a tracker with the standard cap.
func NewTracker(logger *zap.Logger) *Tracker {
	return NewTrackerWithLimit(logger, MaxTaintedValues)
}

// NewTrackerWithLimit creates a tracker with a custom cap.
func NewTrackerWithLimit(logger *zap.Logger, limit int) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = MaxTaintedValues
	}
	return &Tracker{
		logger:    logger.Named("taint"),
		limit:     limit,
		values:    make(map[uint64]*Value),
		variables: make(map[string]uint64),
		edges:     make(map[uint64][]uint64),
	}
}

// CreateTaintedValue registers a new taint. It returns nil once the cap
// has been reached.
func (t *Tracker) CreateTaintedValue(value jsvalue.Value, source string, level int, reason string) *Value {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.createLocked(value, source, level, reason, nil)
}

func (t *Tracker) createLocked(value jsvalue.Value, source string, level int, reason string, parents []uint64) *Value {
	if len(t.values) >= t.limit {
		if t.refused == 0 {
			t.logger.Warn("Taint cap reached; refusing new taints.", zap.Int("limit", t.limit))
		}
		t.refused++
		return nil
	}
	tv := &Value{
		ValueID:               nextValueID.Add(1),
		Value:                 value,
		SourceFunction:        source,
		TaintLevel:            level,
		Reason:                reason,
		Parents:               parents,
		PropagatedToVariables: []string{},
	}
	if tv.Parents == nil {
		tv.Parents = []uint64{}
	}
	t.values[tv.ValueID] = tv
	t.order = append(t.order, tv.ValueID)
	for _, p := range parents {
		t.edges[p] = append(t.edges[p], tv.ValueID)
		t.edgeCount++
	}
	return tv
}

// TaintVariable binds a variable name to a taint. Rebinding overwrites.
func (t *Tracker) TaintVariable(name string, tv *Value) {
	if tv == nil || name == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	stored, ok := t.values[tv.ValueID]
	if !ok {
		return
	}
	t.variables[name] = tv.ValueID
	for _, existing := range stored.PropagatedToVariables {
		if existing == name {
			return
		}
	}
	stored.PropagatedToVariables = append(stored.PropagatedToVariables, name)
	sort.Strings(stored.PropagatedToVariables)
}

// VariableTaint returns the taint bound to a variable, if any.
func (t *Tracker) VariableTaint(name string) *Value {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.variables[name]
	if !ok {
		return nil
	}
	return t.values[id]
}

// PropagateTaint derives a child taint with the parent's level.
func (t *Tracker) PropagateTaint(parent *Value, value jsvalue.Value, operation string) *Value {
	if parent == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	reason := fmt.Sprintf("Propagated from %d", parent.ValueID)
	return t.createLocked(value, operation, parent.TaintLevel, reason, []uint64{parent.ValueID})
}

// MergeTaints combines several parents into one child whose level is one
// above the highest parent level.
func (t *Tracker) MergeTaints(parents []*Value, value jsvalue.Value, operation string) *Value {
	if len(parents) == 0 {
		return nil
	}
	maxLevel := 0
	ids := make([]uint64, 0, len(parents))
	seen := make(map[uint64]bool, len(parents))
	for i, p := range parents {
		if p == nil {
			return nil
		}
		if i == 0 || p.TaintLevel > maxLevel {
			maxLevel = p.TaintLevel
		}
		if !seen[p.ValueID] {
			seen[p.ValueID] = true
			ids = append(ids, p.ValueID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	t.mu.Lock()
	defer t.mu.Unlock()
	reason := fmt.Sprintf("Merged from %d sources", len(ids))
	return t.createLocked(value, operation, maxLevel+1, reason, ids)
}

// FindTaintByValue returns the most recently created taint whose value
// renders to the same string, or nil.
func (t *Tracker) FindTaintByValue(value jsvalue.Value) *Value {
	if !Taintable(value) {
		return nil
	}
	needle := value.String()
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(t.order) - 1; i >= 0; i-- {
		tv := t.values[t.order[i]]
		if tv.Value.String() == needle {
			return tv
		}
	}
	return nil
}

// Get returns a taint by id.
func (t *Tracker) Get(id uint64) *Value {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.values[id]
}

// TracePropagationPath walks the propagation graph depth-first from id and
// returns every reachable value id, starting with id itself. Diamonds and
// cycles are visited once.
func (t *Tracker) TracePropagationPath(id uint64) []uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.values[id]; !ok {
		return nil
	}

	visited := make(map[uint64]bool)
	var path []uint64
	stack := []uint64{id}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[current] {
			continue
		}
		visited[current] = true
		path = append(path, current)

		children := t.edges[current]
		for i := len(children) - 1; i >= 0; i-- {
			if !visited[children[i]] {
				stack = append(stack, children[i])
			}
		}
	}
	return path
}

// Len returns the number of tracked values.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.values)
}

// Values returns tracked values in creation order.
func (t *Tracker) Values() []Value {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Value, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.values[id])
	}
	return out
}

// GetStatistics reports counts and a taint-level histogram.
func (t *Tracker) GetStatistics() Statistics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	hist := make(map[int]int)
	for _, v := range t.values {
		hist[v.TaintLevel]++
	}
	return Statistics{
		TaintedValues:    len(t.values),
		TaintedVariables: len(t.variables),
		PropagationEdges: t.edgeCount,
		LevelHistogram:   hist,
		Refused:          t.refused,
	}
}

// Taintable reports whether a value can carry taint. Nullish values and
// empty strings would match far too much to be useful.
func Taintable(v jsvalue.Value) bool {
	switch v.Kind() {
	case jsvalue.KindUndefined, jsvalue.KindNull:
		return false
	case jsvalue.KindString:
		return v.AsString() != ""
	default:
		return true
	}
}
