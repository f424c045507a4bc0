package chain

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/jsbox/internal/analysis/taint"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

// Manager owns the taint tracker and the chain detector for one task and
// is the single entry point hostcall bindings record through.
type Manager struct {
	Tracker  *taint.Tracker
	Detector *Detector
}

// NewManager wires a fresh tracker and detector.
func NewManager(logger *zap.Logger) *Manager {
	tr := taint.NewTracker(logger)
	return &Manager{
		Tracker:  tr,
		Detector: NewDetector(tr, logger),
	}
}

// Record forwards a hostcall to the detector.
func (m *Manager) Record(functionName string, args []jsvalue.Value, result jsvalue.Value, context string) *AttackChain {
	return m.Detector.DetectFunctionCall(functionName, args, result, context)
}

// Report bundles the chain summaries with tracker statistics.
type Report struct {
	Chains     []Summary        `json:"chains"`
	Statistics taint.Statistics `json:"taint_statistics"`
}

// GenerateReport produces the chain analysis report.
func (m *Manager) GenerateReport() Report {
	return Report{
		Chains:     m.Detector.GenerateReport(),
		Statistics: m.Tracker.GetStatistics(),
	}
}
