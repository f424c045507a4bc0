// internal/analysis/chain/detector.go
package chain

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/jsbox/internal/analysis/taint"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

const (
	// maxChains and maxStepsPerChain bound memory on pathological scripts.
	maxChains        = 2000
	maxStepsPerChain = 256
)

// Step is one hostcall inside an attack chain.
type Step struct {
	FunctionName string        `json:"function_name"`
	InputID      uint64        `json:"input_id,omitempty"`
	OutputID     uint64        `json:"output_id,omitempty"`
	Input        jsvalue.Value `json:"input"`
	Output       jsvalue.Value `json:"output"`
	TaintLevel   int           `json:"taint_level"`
	Context      string        `json:"context,omitempty"`
}

// AttackChain is an ordered sequence of causally linked steps.
type AttackChain struct {
	ID               string `json:"chain_id"`
	Steps            []Step `json:"steps"`
	FinalSeverity    int    `json:"final_severity"`
	ChainType        Type   `json:"chain_type"`
	IsCompleted      bool   `json:"is_completed"`
	CompletionReason string `json:"completion_reason,omitempty"`
}

// Summary is the per-chain entry of the chain analysis report.
type Summary struct {
	ChainID   string   `json:"chain_id"`
	ChainType Type     `json:"chain_type"`
	Severity  int      `json:"severity"`
	StepCount int      `json:"step_count"`
	Completed bool     `json:"completed"`
	Causal    bool     `json:"causal"`
	Functions []string `json:"functions"`
}

// Detector links hostcall records into attack chains using the taint
// tracker for lineage.
type Detector struct {
	tracker *taint.Tracker
	logger  *zap.Logger

	mu     sync.Mutex
	chains []*AttackChain
	byID   map[string]*AttackChain
	// owner maps a taint value id to the chain whose step produced it.
	owner map[uint64]string
}

// NewDetector creates a detector bound to a tracker.
func NewDetector(tracker *taint.Tracker, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		tracker: tracker,
		logger:  logger.Named("chain"),
		byID:    make(map[string]*AttackChain),
		owner:   make(map[uint64]string),
	}
}

// DetectFunctionCall records one hostcall. It returns the chain the call
// was appended to, or nil when the call carried no taint.
func (d *Detector) DetectFunctionCall(functionName string, args []jsvalue.Value, result jsvalue.Value, context string) *AttackChain {
	role := Classify(functionName)
	if role == RoleNone {
		return nil
	}

	inputs := d.taintedInputs(args)

	// Sink results (timer ids, undefined) are not attacker data.
	derive := role != RoleSink && taint.Taintable(result)

	var output *taint.Value
	var input *taint.Value
	switch {
	case len(inputs) == 1:
		input = inputs[0]
		if derive {
			output = d.tracker.PropagateTaint(input, result, functionName)
		}
	case len(inputs) > 1:
		input = highest(inputs)
		if derive {
			output = d.tracker.MergeTaints(inputs, result, functionName)
		}
	case role == RoleSource:
		if !taint.Taintable(result) {
			return nil
		}
		output = d.tracker.FindTaintByValue(result)
		if output == nil {
			output = d.tracker.CreateTaintedValue(result, functionName, SourceLevel(functionName),
				fmt.Sprintf("Source: %s", functionName))
		}
		if output == nil {
			return nil
		}
	default:
		return nil
	}

	step := Step{
		FunctionName: functionName,
		Context:      context,
		Output:       result,
	}
	if input != nil {
		step.InputID = input.ValueID
		step.Input = input.Value
		step.TaintLevel = input.TaintLevel
	}
	if output != nil {
		step.OutputID = output.ValueID
		if output.TaintLevel > step.TaintLevel {
			step.TaintLevel = output.TaintLevel
		}
	}

	return d.appendStep(step, inputs, role)
}

func (d *Detector) taintedInputs(args []jsvalue.Value) []*taint.Value {
	var out []*taint.Value
	seen := make(map[uint64]bool)
	for _, arg := range args {
		tv := d.tracker.FindTaintByValue(arg)
		if tv == nil || seen[tv.ValueID] {
			continue
		}
		seen[tv.ValueID] = true
		out = append(out, tv)
	}
	return out
}

func highest(values []*taint.Value) *taint.Value {
	best := values[0]
	for _, v := range values[1:] {
		if v.TaintLevel > best.TaintLevel {
			best = v
		}
	}
	return best
}

func (d *Detector) appendStep(step Step, inputs []*taint.Value, role Role) *AttackChain {
	d.mu.Lock()
	defer d.mu.Unlock()

	chain := d.lineageLocked(inputs)
	if chain == nil {
		if len(d.chains) >= maxChains {
			return nil
		}
		chain = &AttackChain{ID: uuid.NewString(), ChainType: TypeUnknown}
		d.chains = append(d.chains, chain)
		d.byID[chain.ID] = chain
	}
	if len(chain.Steps) >= maxStepsPerChain {
		return chain
	}

	chain.Steps = append(chain.Steps, step)
	if step.OutputID != 0 {
		d.owner[step.OutputID] = chain.ID
	}
	if step.TaintLevel > chain.FinalSeverity {
		chain.FinalSeverity = step.TaintLevel
	}
	chain.ChainType = classifySteps(chain.Steps)
	if role == RoleSink && !chain.IsCompleted {
		chain.IsCompleted = true
		chain.CompletionReason = fmt.Sprintf("Reached sink: %s", step.FunctionName)
		d.logger.Debug("Attack chain completed.",
			zap.String("chain_id", chain.ID),
			zap.String("sink", step.FunctionName),
			zap.Int("steps", len(chain.Steps)))
	}
	return chain
}

// lineageLocked finds the chain that produced one of the inputs, looking
// through direct parents when an input was itself derived elsewhere.
func (d *Detector) lineageLocked(inputs []*taint.Value) *AttackChain {
	for _, in := range inputs {
		if id, ok := d.owner[in.ValueID]; ok {
			return d.byID[id]
		}
	}
	for _, in := range inputs {
		for _, p := range in.Parents {
			if id, ok := d.owner[p]; ok {
				return d.byID[id]
			}
		}
	}
	return nil
}

// IsCausal reports whether every step's input descends directly from the
// previous step's output. This is advisory evidence only.
func (d *Detector) IsCausal(c *AttackChain) bool {
	if c == nil || len(c.Steps) == 0 {
		return false
	}
	for i := 1; i < len(c.Steps); i++ {
		prev, cur := c.Steps[i-1], c.Steps[i]
		if prev.OutputID == 0 || cur.InputID == 0 {
			return false
		}
		if cur.InputID == prev.OutputID {
			continue
		}
		in := d.tracker.Get(cur.InputID)
		if in == nil || !in.HasParent(prev.OutputID) {
			return false
		}
	}
	return true
}

// Chains returns copies of all chains in creation order.
func (d *Detector) Chains() []AttackChain {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]AttackChain, len(d.chains))
	for i, c := range d.chains {
		out[i] = *c
		out[i].Steps = append([]Step(nil), c.Steps...)
	}
	return out
}

// GenerateReport summarises every chain, most severe first.
func (d *Detector) GenerateReport() []Summary {
	chains := d.Chains()
	out := make([]Summary, 0, len(chains))
	for i := range chains {
		c := &chains[i]
		fns := make([]string, len(c.Steps))
		for j, s := range c.Steps {
			fns[j] = s.FunctionName
		}
		out = append(out, Summary{
			ChainID:   c.ID,
			ChainType: c.ChainType,
			Severity:  c.FinalSeverity,
			StepCount: len(c.Steps),
			Completed: c.IsCompleted,
			Causal:    d.IsCausal(c),
			Functions: fns,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Severity > out[j].Severity })
	return out
}

// PrintStatus renders a one-line-per-chain status block for debug logs.
func (d *Detector) PrintStatus() string {
	var sb strings.Builder
	summaries := d.GenerateReport()
	fmt.Fprintf(&sb, "attack chains: %d\n", len(summaries))
	for _, s := range summaries {
		fmt.Fprintf(&sb, "  [%s] %s severity=%d steps=%d completed=%t: %s\n",
			s.ChainID[:8], s.ChainType, s.Severity, s.StepCount, s.Completed, strings.Join(s.Functions, " -> "))
	}
	return sb.String()
}
