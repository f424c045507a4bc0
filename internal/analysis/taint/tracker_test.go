package taint

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

func TestCreateTaintedValue_Cap(t *testing.T) {
	t.Run("should refuse creation once the standard cap is reached", func(t *testing.T) {
		tr := NewTracker(zap.NewNop())
		for i := 0; i < MaxTaintedValues; i++ {
			require.NotNil(t, tr.CreateTaintedValue(jsvalue.Int(i), "atob", 1, "seed"))
		}
		assert.Nil(t, tr.CreateTaintedValue(jsvalue.String("one more"), "atob", 1, "overflow"))
		assert.Equal(t, MaxTaintedValues, tr.Len(), "existing data must be preserved, not evicted")
	})

	t.Run("should log the refusal once", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		tr := NewTrackerWithLimit(zap.New(core), 2)
		tr.CreateTaintedValue(jsvalue.String("a"), "atob", 1, "")
		tr.CreateTaintedValue(jsvalue.String("b"), "atob", 1, "")
		assert.Nil(t, tr.CreateTaintedValue(jsvalue.String("c"), "atob", 1, ""))
		assert.Nil(t, tr.CreateTaintedValue(jsvalue.String("d"), "atob", 1, ""))
		assert.Equal(t, 1, logs.Len())
		assert.Equal(t, 2, tr.GetStatistics().Refused)
	})
}

func TestPropagateTaint(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	parent := tr.CreateTaintedValue(jsvalue.String("c2Vj"), "document.cookie.read", 4, "cookie")
	require.NotNil(t, parent)

	child := tr.PropagateTaint(parent, jsvalue.String("sec"), "atob")
	require.NotNil(t, child)
	assert.Equal(t, 4, child.TaintLevel)
	assert.Equal(t, fmt.Sprintf("Propagated from %d", parent.ValueID), child.Reason)
	assert.True(t, child.HasParent(parent.ValueID))
	assert.Greater(t, child.ValueID, parent.ValueID)

	assert.Nil(t, tr.PropagateTaint(nil, jsvalue.String("x"), "atob"))
}

func TestMergeTaints_SeverityLaw(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	levels := [][]int{{1}, {2, 5, 3}, {7, 7}, {0, 0, 0, 1}}
	for _, set := range levels {
		t.Run(fmt.Sprint(set), func(t *testing.T) {
			var parents []*Value
			max := 0
			for i, l := range set {
				parents = append(parents, tr.CreateTaintedValue(jsvalue.String(fmt.Sprintf("p%d-%d", l, i)), "src", l, ""))
				if l > max {
					max = l
				}
			}
			merged := tr.MergeTaints(parents, jsvalue.String("merged"), "concat")
			require.NotNil(t, merged)
			assert.Equal(t, max+1, merged.TaintLevel)
			for _, p := range parents {
				assert.True(t, merged.HasParent(p.ValueID))
			}
		})
	}

	t.Run("should fail on empty or nil parents", func(t *testing.T) {
		assert.Nil(t, tr.MergeTaints(nil, jsvalue.String("x"), "op"))
		p := tr.CreateTaintedValue(jsvalue.String("ok"), "src", 1, "")
		assert.Nil(t, tr.MergeTaints([]*Value{p, nil}, jsvalue.String("x"), "op"))
	})
}

func TestFindTaintByValue(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	first := tr.CreateTaintedValue(jsvalue.String("payload"), "atob", 2, "")
	second := tr.CreateTaintedValue(jsvalue.String("payload"), "unescape", 3, "")
	tr.CreateTaintedValue(jsvalue.Int(7), "fromCharCode", 1, "")

	found := tr.FindTaintByValue(jsvalue.String("payload"))
	require.NotNil(t, found)
	assert.Equal(t, second.ValueID, found.ValueID, "most recent match wins")
	assert.NotEqual(t, first.ValueID, found.ValueID)

	assert.NotNil(t, tr.FindTaintByValue(jsvalue.String("7")), "matching is on the string representation")
	assert.Nil(t, tr.FindTaintByValue(jsvalue.String("")))
	assert.Nil(t, tr.FindTaintByValue(jsvalue.Undefined()))
}

func TestTracePropagationPath_Diamond(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	root := tr.CreateTaintedValue(jsvalue.String("root"), "atob", 1, "")
	left := tr.PropagateTaint(root, jsvalue.String("left"), "unescape")
	right := tr.PropagateTaint(root, jsvalue.String("right"), "decodeURIComponent")
	joined := tr.MergeTaints([]*Value{left, right}, jsvalue.String("joined"), "concat")
	tail := tr.PropagateTaint(joined, jsvalue.String("tail"), "eval")

	path := tr.TracePropagationPath(root.ValueID)
	assert.Equal(t, []uint64{root.ValueID, left.ValueID, joined.ValueID, tail.ValueID, right.ValueID}, path)
	assert.Len(t, path, 5, "the merge diamond must be visited once")
	assert.Nil(t, tr.TracePropagationPath(999999999))
}

func TestTaintVariableAndStatistics(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	a := tr.CreateTaintedValue(jsvalue.String("a"), "atob", 2, "")
	b := tr.PropagateTaint(a, jsvalue.String("b"), "unescape")

	tr.TaintVariable("stage", a)
	tr.TaintVariable("stage", b)
	tr.TaintVariable("ignored", nil)

	bound := tr.VariableTaint("stage")
	require.NotNil(t, bound)
	assert.Equal(t, b.ValueID, bound.ValueID, "rebinding overwrites")

	stats := tr.GetStatistics()
	assert.Equal(t, 2, stats.TaintedValues)
	assert.Equal(t, 1, stats.TaintedVariables)
	assert.Equal(t, 1, stats.PropagationEdges)
	assert.Equal(t, map[int]int{2: 2}, stats.LevelHistogram)

	values := tr.Values()
	require.Len(t, values, 2)
	assert.Equal(t, []string{"stage"}, values[0].PropagatedToVariables)
}
