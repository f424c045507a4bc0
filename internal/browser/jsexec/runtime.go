// internal/browser/jsexec/runtime.go
package jsexec

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/analysis/core"
	"github.com/xkilldash9x/jsbox/internal/analysis/static"
	"github.com/xkilldash9x/jsbox/internal/analysis/strtrack"
	"github.com/xkilldash9x/jsbox/internal/browser/jsbind"
	"github.com/xkilldash9x/jsbox/internal/config"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

// Outcome is the three-level result of handing a block to the engine.
type Outcome int

const (
	// Completed means the block ran to the end.
	Completed Outcome = iota
	// ScriptException is a thrown exception, a timeout or a stack overflow.
	// Static fallback ran and the engine stays usable: the context is not
	// marked runtime_corrupted, and later blocks still run dynamically.
	ScriptException
	// GovernorSkip is a policy decision not to run the block.
	GovernorSkip
	// EngineFatal is a Go panic recovered at the governor boundary. The
	// runtime is marked corrupted.
	EngineFatal
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case ScriptException:
		return "script_exception"
	case GovernorSkip:
		return "governor_skip"
	case EngineFatal:
		return "engine_fatal"
	default:
		return "unknown"
	}
}

// Execution finding codes.
const (
	CodeScriptError     = "script_error"
	CodeScriptTimeout   = "script_timeout"
	CodeStackOverflow   = "stack_overflow"
	CodeInternalError   = "internal_error"
	CodeJobError        = "job_error"
	CodeMemoryCeiling   = "memory_ceiling_static_only"
	CodeCorruptedStatic = "runtime_corrupted_static_only"
)

// ErrRuntimeCorrupted is returned for every block once the task's engine
// has failed fatally.
var ErrRuntimeCorrupted = errors.New("jsexec: runtime corrupted")

var errDeadline = errors.New("execution deadline exceeded")

// DefaultTimeout is the fallback execution timeout when the config has none.
const DefaultTimeout = 30 * time.Second

// interruptInterval is how often an expired block is re-interrupted.
const interruptInterval = 10 * time.Millisecond

// maxReferenceRetries bounds how often one block is re-run after a
// ReferenceError was turned into a fallback global.
const maxReferenceRetries = 4

// FatalError carries a Go panic recovered from inside the engine.
type FatalError struct {
	Value interface{}
	Stack []byte
}

func (e *FatalError) Error() string { return fmt.Sprintf("engine panic: %v", e.Value) }

// Result describes one Execute call.
type Result struct {
	Outcome  Outcome
	Decision Decision
	Reason   string
	Err      error
	Duration time.Duration
}

// Option configures a Governor.
type Option func(*Governor)

// WithMemoryProbe replaces the heap usage probe.
func WithMemoryProbe(probe func() uint64) Option {
	return func(g *Governor) { g.memUsage = probe }
}

// Governor owns one task's engine and decides, block by block, whether code
// runs in it or only goes through static analysis.
type Governor struct {
	vm      *goja.Runtime
	sandbox *jsbind.Sandbox
	ac      *core.AnalyzerContext
	cfg     config.SandboxConfig
	th      Thresholds
	logger  *zap.Logger
	scanner *VarScanner

	execMutex sync.Mutex
	memUsage  func() uint64
	ctx       context.Context
}

// NewGovernor builds a fresh engine with the sandbox installed. This is
// called once per task.
func NewGovernor(ac *core.AnalyzerContext, cfg config.SandboxConfig, logger *zap.Logger, opts ...Option) (*Governor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("jsexec")

	vm := goja.New()
	sandbox, err := jsbind.New(vm, ac, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to install sandbox: %w", err)
	}

	g := &Governor{
		vm:       vm,
		sandbox:  sandbox,
		ac:       ac,
		cfg:      cfg,
		th:       ThresholdsFrom(cfg),
		logger:   log,
		scanner:  NewVarScanner(vm),
		memUsage: heapInUse,
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(g)
	}

	// Scripts found at runtime (document.write, innerHTML, script elements)
	// run one level deeper than whatever produced them.
	sandbox.SetScriptHandler(func(code, origin string) error {
		res := g.Execute(g.ctx, code, ac.Exec.Depth())
		if res.Outcome == EngineFatal {
			return res.Err
		}
		return nil
	})
	return g, nil
}

// Sandbox returns the bound browser emulation.
func (g *Governor) Sandbox() *jsbind.Sandbox { return g.sandbox }

// LoadDocument replaces the mock DOM with the given markup.
func (g *Governor) LoadDocument(markup string) error {
	g.execMutex.Lock()
	defer g.execMutex.Unlock()
	return g.sandbox.DOM().Load(markup)
}

// Run executes a top-level block. Calls are serialized.
func (g *Governor) Run(ctx context.Context, code string) Result {
	g.execMutex.Lock()
	defer g.execMutex.Unlock()
	return g.Execute(ctx, code, 0)
}

// Execute triages and runs code at the given re-entrant depth. Depth 0 is a
// top-level block: it arms the deadline and drains the job queue. Callers
// other than Run must already own the engine.
func (g *Governor) Execute(ctx context.Context, code string, depth int) (res Result) {
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	log := g.logger.With(zap.Int("depth", depth), zap.Int("size", len(code)))

	if g.vm == nil || g.ac.RuntimeCorrupted() {
		g.ac.AddFinding(schemas.NewDetection(CodeCorruptedStatic, 2,
			"Engine unavailable after a fatal error; static analysis only").
			WithSnippet(jsvalue.Truncate(code, 150)))
		g.staticFallback(code)
		return Result{Outcome: GovernorSkip, Reason: "runtime corrupted", Err: ErrRuntimeCorrupted}
	}

	dec := Triage(code, depth, g.th)
	res.Decision = dec
	switch dec.Path {
	case PathAbort:
		log.Warn("Execution aborted by triage.", zap.String("reason", dec.Reason))
		g.ac.AddFinding(dec.Detection(code))
		res.Outcome, res.Reason = GovernorSkip, dec.Reason
		return res
	case PathStatic:
		log.Debug("Script routed to static analysis.", zap.String("code", dec.Code))
		g.ac.AddFinding(dec.Detection(code))
		g.staticFallback(code)
		res.Outcome, res.Reason = GovernorSkip, dec.Reason
		return res
	}

	if err := ctx.Err(); err != nil {
		g.staticFallback(code)
		res.Outcome, res.Reason, res.Err = GovernorSkip, "cancelled", err
		return res
	}

	ceiling := uint64(g.cfg.MemoryCeilingMB) << 20
	before := g.memUsage()
	if ceiling > 0 && before > ceiling {
		log.Warn("Memory ceiling reached before execution.", zap.Uint64("heap_bytes", before))
		g.ac.AddFinding(schemas.NewDetection(CodeMemoryCeiling, 3,
			fmt.Sprintf("Heap usage %d MB above the %d MB ceiling; static analysis only", before>>20, g.cfg.MemoryCeilingMB)).
			WithSnippet(jsvalue.Truncate(code, 150)))
		g.staticFallback(code)
		res.Outcome, res.Reason = GovernorSkip, "memory ceiling"
		return res
	}

	if depth == 0 {
		disarm := g.arm(ctx)
		defer disarm()
	} else if g.ac.Exec.ShouldInterrupt() {
		// The top-level block's budget is spent; nothing nested may start.
		log.Debug("Nested block routed to static analysis after the deadline.")
		g.staticFallback(code)
		res.Outcome, res.Reason = GovernorSkip, "deadline"
		if g.ac.Exec.Aborted() {
			res.Reason = "cancelled"
		}
		return res
	}
	g.ac.Exec.PushDepth()
	defer g.ac.Exec.PopDepth()

	if installed := g.sandbox.PrepareFallbacks(code); len(installed) > 0 {
		log.Debug("Installed fallback globals.", zap.Strings("names", installed))
	}
	snapshot := g.scanner.Snapshot()

	err := g.run(code, log)
	res = g.classify(code, err, res)
	if res.Outcome == EngineFatal {
		return res
	}

	if after := g.memUsage(); after > before && (after-before)>>20 > uint64(g.cfg.MemoryGrowthWarnMB) && g.cfg.MemoryGrowthWarnMB > 0 {
		log.Warn("Large heap growth during execution.", zap.Uint64("growth_mb", (after-before)>>20))
	}

	if depth == 0 {
		if fatal := g.drain(code); fatal != nil {
			res.Outcome, res.Reason, res.Err = EngineFatal, fatal.Error(), fmt.Errorf("%w: %v", ErrRuntimeCorrupted, fatal)
			return res
		}
	}

	resubmitted := g.rescan(ctx, snapshot, depth)

	// Re-submitted stages may have queued timers or callbacks of their own.
	if depth == 0 && resubmitted > 0 && g.sandbox.Jobs().Len() > 0 {
		if fatal := g.drain(code); fatal != nil {
			res.Outcome, res.Reason, res.Err = EngineFatal, fatal.Error(), fmt.Errorf("%w: %v", ErrRuntimeCorrupted, fatal)
			return res
		}
	}
	return res
}

// run executes code in the engine. A ReferenceError on an unknown global
// installs a fallback for it and runs the block again, so one missing
// library does not hide the rest of the script.
func (g *Governor) run(code string, log *zap.Logger) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = guard(func() error {
			_, err := g.vm.RunString(code)
			return err
		})
		if err == nil || attempt >= maxReferenceRetries || g.ac.Exec.ShouldInterrupt() {
			return err
		}
		name, ok := g.sandbox.RecoverReferenceError(err)
		if !ok {
			return err
		}
		log.Debug("Re-running block with a fallback global.", zap.String("name", name))
	}
}

// arm starts the wall clock for a top-level block and wires the deadline
// and ctx cancellation to the engine's interrupt.
func (g *Governor) arm(ctx context.Context) func() {
	g.vm.ClearInterrupt()
	g.ctx = ctx
	timeout := g.cfg.ExecutionTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	g.ac.Exec.Begin(timeout)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.watchdog(timeout, done)
	}()
	stop := context.AfterFunc(ctx, func() {
		g.ac.Exec.Abort()
		g.vm.Interrupt(context.Cause(ctx))
	})
	return func() {
		close(done)
		wg.Wait()
		stop()
		g.vm.ClearInterrupt()
		g.ctx = context.Background()
	}
}

// watchdog interrupts the engine once timeout elapses and keeps doing so
// until done is closed. goja clears the flag when it delivers an interrupt,
// so a single call would not stop code started after the first one.
func (g *Governor) watchdog(timeout time.Duration, done <-chan struct{}) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return
	case <-timer.C:
	}

	ticker := time.NewTicker(interruptInterval)
	defer ticker.Stop()
	for {
		g.vm.Interrupt(errDeadline)
		select {
		case <-done:
			return
		case <-ticker.C:
		}
	}
}

// classify turns the engine's error into an outcome and findings.
func (g *Governor) classify(code string, err error, res Result) Result {
	if err == nil {
		res.Outcome = Completed
		return res
	}
	snippet := jsvalue.Truncate(code, 150)

	var fatal *FatalError
	if errors.As(err, &fatal) {
		g.logger.Error("Engine panicked; runtime marked corrupted.",
			zap.Any("panic", fatal.Value), zap.ByteString("stack", fatal.Stack))
		g.ac.AddFinding(schemas.NewDetection(CodeInternalError, 5,
			"Internal engine failure: "+fmt.Sprint(fatal.Value)).WithSnippet(snippet))
		g.ac.MarkCorrupted(fatal.Error())
		g.staticFallback(code)
		res.Outcome, res.Reason = EngineFatal, fatal.Error()
		res.Err = fmt.Errorf("%w: %v", ErrRuntimeCorrupted, fatal)
		return res
	}

	res.Outcome, res.Err = ScriptException, err
	var interrupted *goja.InterruptedError
	var overflow *goja.StackOverflowError
	switch {
	case errors.As(err, &interrupted):
		if g.ac.Exec.Aborted() {
			res.Reason = "cancelled"
			g.logger.Info("Script execution cancelled.")
		} else {
			res.Reason = "timeout"
			g.logger.Warn("Script execution timed out.", zap.Duration("elapsed", g.ac.Exec.Elapsed()))
			g.ac.AddFinding(schemas.NewDetection(CodeScriptTimeout, 6,
				fmt.Sprintf("Script exceeded the %s execution limit", g.cfg.ExecutionTimeout)).WithSnippet(snippet))
		}
	case errors.As(err, &overflow):
		res.Reason = "stack overflow"
		g.logger.Warn("Script exhausted the call stack.")
		g.ac.AddFinding(schemas.NewDetection(CodeStackOverflow, 5,
			"Script exceeded the maximum call stack size").WithSnippet(snippet))
	default:
		res.Reason = err.Error()
		g.logger.Debug("Script threw an exception.", zap.Error(err))
		g.ac.AddFinding(schemas.NewDetection(CodeScriptError, 2,
			"Script error: "+jsvalue.Truncate(err.Error(), 200)).WithSnippet(snippet))
	}
	g.staticFallback(code)
	return res
}

// drain runs deferred jobs for a top-level block. Job exceptions become
// findings; only an engine panic is returned.
func (g *Governor) drain(code string) *FatalError {
	stop := func() bool { return g.ac.Exec.ShouldInterrupt() || g.ac.RuntimeCorrupted() }
	var stats jsbind.DrainStats
	err := guard(func() error {
		var derr error
		stats, derr = g.sandbox.Jobs().Drain(g.cfg.MaxPendingJobs, stop)
		return derr
	})

	var fatal *FatalError
	if errors.As(err, &fatal) {
		g.logger.Error("Engine panicked while draining jobs.", zap.Any("panic", fatal.Value))
		g.ac.AddFinding(schemas.NewDetection(CodeInternalError, 5,
			"Internal engine failure in a deferred job: "+fmt.Sprint(fatal.Value)))
		g.ac.MarkCorrupted(fatal.Error())
		return fatal
	}
	if err != nil && !g.ac.Exec.Aborted() {
		g.ac.AddFinding(schemas.NewDetection(CodeScriptTimeout, 6,
			"Deferred jobs exceeded the execution limit").WithSnippet(jsvalue.Truncate(code, 150)))
	}
	for _, je := range stats.Errors {
		if errors.Is(je.Err, ErrRuntimeCorrupted) {
			continue
		}
		g.ac.AddFinding(schemas.NewDetection(CodeJobError, 2,
			fmt.Sprintf("Deferred job %s failed: %s", je.Name, jsvalue.Truncate(je.Err.Error(), 200))))
	}
	if stats.Truncated {
		g.logger.Warn("Job queue drain truncated.", zap.Int("ran", stats.Ran), zap.Int("pending", g.sandbox.Jobs().Len()))
	}
	return nil
}

// rescan feeds new or changed string globals to the tracker and re-submits
// the ones that look like code. Returns the number of blocks re-submitted.
func (g *Governor) rescan(ctx context.Context, before map[string]string, depth int) int {
	if g.ac.RuntimeCorrupted() {
		return 0
	}
	resubmitted := 0
	for _, v := range g.scanner.Scan(before) {
		g.ac.TrackString(v.Value, "global:"+v.Name)
		if v.Class == strtrack.ClassNone {
			continue
		}
		g.ac.AddFinding(v.Detection())
		if v.Class != strtrack.ClassPotentialJS {
			continue
		}
		if max := g.cfg.RescanMaxLength; max > 0 && len(v.Value) >= max {
			continue
		}
		g.logger.Debug("Re-submitting global as a script block.", zap.String("name", v.Name))
		g.Execute(ctx, v.Value, depth+1)
		resubmitted++
		if g.ac.RuntimeCorrupted() {
			return resubmitted
		}
	}
	return resubmitted
}

// staticFallback runs the engine-free pattern pass.
func (g *Governor) staticFallback(code string) {
	r := static.Analyze(code)
	g.ac.AddFindings(r.Detections)
	g.ac.URLs.AddAll(r.URLs, "static")
}

// guard converts a panic escaping fn into a FatalError.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &FatalError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// heapInUse reports the process heap. Concurrent tasks share it, so the
// ceiling is a coarse process-wide guard.
func heapInUse() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}
