package dynamic

import (
	"fmt"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

func TestRecordEvent_Eviction(t *testing.T) {
	t.Run("should never exceed the standard cap and keep arrival order", func(t *testing.T) {
		a := NewAnalyzer(zap.NewNop())
		total := MaxEvents + 2500
		for i := 0; i < total; i++ {
			a.RecordEvent(NewEvent(EventFunctionCall, fmt.Sprintf("call-%d", i), nil, jsvalue.Int(i), 1))
			require.LessOrEqual(t, a.Len(), MaxEvents)
		}

		events := a.Events()
		for i := 1; i < len(events); i++ {
			require.Less(t, events[i-1].Result.AsNumber(), events[i].Result.AsNumber())
		}
		assert.Equal(t, fmt.Sprintf("call-%d", total-1), events[len(events)-1].Name)
	})

	t.Run("should evict a tenth in one batch", func(t *testing.T) {
		a := NewAnalyzerWithLimit(zap.NewNop(), 20)
		for i := 0; i < 20; i++ {
			a.RecordEvent(NewEvent(EventFunctionCall, "f", nil, jsvalue.Int(i), 0))
		}
		a.RecordEvent(NewEvent(EventFunctionCall, "f", nil, jsvalue.Int(20), 0))

		assert.Equal(t, 19, a.Len())
		assert.Equal(t, 2, a.Evicted())
		assert.Equal(t, float64(2), a.Events()[0].Result.AsNumber())
	})
}

func TestGetEventsBySeverity(t *testing.T) {
	a := NewAnalyzer(zap.NewNop())
	for _, sev := range []int{0, 4, 10, 7, 12} {
		a.RecordEvent(NewEvent(EventFunctionCall, "f", nil, jsvalue.Int(sev), sev))
	}
	got := a.GetEventsBySeverity(7)
	require.Len(t, got, 3)
	assert.Equal(t, []int{10, 7, 10}, []int{got[0].Severity, got[1].Severity, got[2].Severity}, "severity is clamped to 10")
}

func TestFunctionCallCount(t *testing.T) {
	a := NewAnalyzer(zap.NewNop())
	assert.Equal(t, 0, a.IncrementFunctionCallCount())
	assert.Equal(t, 1, a.IncrementFunctionCallCount())
	a.SetFunctionCallCount(1000)
	assert.Equal(t, 1000, a.IncrementFunctionCallCount())
	assert.Equal(t, 1001, a.FunctionCallCount())
}

func TestEvent_JSONFieldNames(t *testing.T) {
	e := NewEvent(EventDataExfiltration, "fetch", []jsvalue.Value{jsvalue.String("http://x")}, jsvalue.Undefined(), 9).
		WithMetadata(jsvalue.MapOf("sensitive", true)).
		Flagged()
	e.Timestamp = 1

	raw, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"DATA_EXFILTRATION","name":"fetch","args":["http://x"],"result":null,
		"metadata":{"sensitive":true},"severity":9,"status":1,"line":0,"timestamp":1}`, string(raw))
}
