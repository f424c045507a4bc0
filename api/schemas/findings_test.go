package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDetection(t *testing.T) {
	d := NewDetection("eval_call_detected", 10, "eval called").WithFeature("count", 1)
	assert.Equal(t, "JSScanner.EVAL_CALL_DETECTED", d.Name)
	assert.Equal(t, SeverityCritical, d.Label())

	d2 := d.WithFeature("other", true)
	assert.Len(t, d.Features, 1, "WithFeature must not mutate the receiver")
	assert.Len(t, d2.Features, 2)
}

func TestVerdictFor(t *testing.T) {
	tests := []struct {
		severity int
		want     Verdict
	}{
		{0, VerdictClean},
		{2, VerdictClean},
		{3, VerdictLow},
		{4, VerdictLow},
		{5, VerdictSuspicious},
		{7, VerdictSuspicious},
		{8, VerdictMalicious},
		{10, VerdictMalicious},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, VerdictFor(tt.severity), "severity %d", tt.severity)
	}
}

func TestSortDetections(t *testing.T) {
	ds := []Detection{
		NewDetection("b", 3, ""),
		NewDetection("a", 3, ""),
		NewDetection("z", 9, ""),
	}
	SortDetections(ds)
	assert.Equal(t, []string{"z", "a", "b"}, []string{ds[0].Code, ds[1].Code, ds[2].Code})
}
