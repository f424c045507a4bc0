// internal/browser/jsbind/sandbox.go
package jsbind

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/analysis/core"
	"github.com/xkilldash9x/jsbox/internal/analysis/dynamic"
	"github.com/xkilldash9x/jsbox/internal/config"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

// hostMarker is a hidden property carried by every object the sandbox
// builds. The value bridge renders such objects by name instead of walking
// them, so exporting hostcall arguments never fires another hook.
const hostMarker = "__jsbox_host__"

// ScriptHandler runs a script discovered at runtime, for example an inline
// <script> emitted through document.write.
type ScriptHandler func(code, origin string) error

// Module is one family of emulated browser APIs.
type Module struct {
	Name    string
	Install func(*Sandbox) error
}

// Modules returns the ordered install list. Later modules may rely on
// globals defined by earlier ones (window aliases the global object, so it
// goes last among the DOM families; fallbacks go last overall).
func Modules() []Module {
	return []Module{
		{Name: "natives", Install: installNatives},
		{Name: "globals", Install: installGlobals},
		{Name: "console", Install: installConsole},
		{Name: "urlapi", Install: installURLAPI},
		{Name: "document", Install: installDocument},
		{Name: "storage", Install: installStorage},
		{Name: "indexeddb", Install: installIndexedDB},
		{Name: "network", Install: installNetwork},
		{Name: "worker", Install: installWorker},
		{Name: "blob", Install: installBlob},
		{Name: "crypto", Install: installCrypto},
		{Name: "navigator", Install: installNavigator},
		{Name: "activex", Install: installActiveX},
		{Name: "wasm", Install: installWasm},
		{Name: "jquery", Install: installJQuery},
		{Name: "window", Install: installWindow},
		{Name: "fallback", Install: installFallbacks},
	}
}

// Sandbox binds the emulated browser surface to one goja runtime and one
// task's analyzer context. It is not safe for concurrent use; a task owns
// its sandbox exclusively.
type Sandbox struct {
	vm      *goja.Runtime
	ac      *core.AnalyzerContext
	cfg     config.SandboxConfig
	browser config.BrowserConfig
	logger  *zap.Logger

	jobs    *JobQueue
	dom     *DOM
	rng     *rand.Rand
	console *rate.Limiter

	evalFn    goja.Callable
	onScript  ScriptHandler
	fallbacks map[string]bool

	cookies *cookieJar
	local   *storageArea
	session *storageArea
	blobs   map[string]string
	idb     map[string]map[string]goja.Value

	winListeners map[string][]goja.Value
}

// New installs every module into vm and returns the bound sandbox.
func New(vm *goja.Runtime, ac *core.AnalyzerContext, cfg config.SandboxConfig, logger *zap.Logger) (*Sandbox, error) {
	if vm == nil || ac == nil {
		return nil, errors.New("jsbind: runtime and analyzer context are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Limit(cfg.ConsoleRateLimit)
	if cfg.ConsoleRateLimit <= 0 {
		limit = rate.Inf
	}
	s := &Sandbox{
		vm:           vm,
		ac:           ac,
		cfg:          cfg,
		browser:      ac.Browser,
		logger:       logger.Named("jsbind"),
		rng:          rand.New(rand.NewSource(cfg.RandomSeed)),
		console:      rate.NewLimiter(limit, cfg.ConsoleBurst),
		fallbacks:    make(map[string]bool),
		cookies:      newCookieJar(),
		local:        newStorageArea("localStorage"),
		session:      newStorageArea("sessionStorage"),
		blobs:        make(map[string]string),
		idb:          make(map[string]map[string]goja.Value),
		winListeners: make(map[string][]goja.Value),
	}
	s.jobs = NewJobQueue(s.logger)
	s.dom = NewDOM(s)

	vm.SetRandSource(s.rng.Float64)
	if cfg.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(cfg.MaxCallStackSize)
	}

	for _, m := range Modules() {
		if err := m.Install(s); err != nil {
			return nil, &InstallError{Module: m.Name, Err: err}
		}
	}
	s.logger.Debug("Sandbox installed.", zap.Int("modules", len(Modules())))
	return s, nil
}

// VM returns the bound runtime.
func (s *Sandbox) VM() *goja.Runtime { return s.vm }

// Jobs returns the deferred job queue.
func (s *Sandbox) Jobs() *JobQueue { return s.jobs }

// DOM returns the mock document tree.
func (s *Sandbox) DOM() *DOM { return s.dom }

// Context returns the analyzer context the hooks report into.
func (s *Sandbox) Context() *core.AnalyzerContext { return s.ac }

// SetScriptHandler registers the runner for scripts discovered at runtime.
func (s *Sandbox) SetScriptHandler(h ScriptHandler) { s.onScript = h }

// --- Hook plumbing ---

// record appends an event to the dynamic analyzer.
func (s *Sandbox) record(typ dynamic.EventType, name string, args []jsvalue.Value, result jsvalue.Value, severity int, meta *jsvalue.Map) dynamic.Event {
	ev := dynamic.NewEvent(typ, name, args, result, severity).WithMetadata(meta)
	s.ac.RecordEvent(ev)
	return ev
}

// recordFlagged is record with the flagged status set.
func (s *Sandbox) recordFlagged(typ dynamic.EventType, name string, args []jsvalue.Value, result jsvalue.Value, severity int, meta *jsvalue.Map) dynamic.Event {
	ev := dynamic.NewEvent(typ, name, args, result, severity).WithMetadata(meta).Flagged()
	s.ac.RecordEvent(ev)
	return ev
}

// chain forwards a hostcall to the attack-chain detector.
func (s *Sandbox) chain(fn string, args []jsvalue.Value, result jsvalue.Value) {
	s.ac.RecordCall(fn, args, result)
}

func (s *Sandbox) finding(d schemas.Detection) { s.ac.AddFinding(d) }

// allow applies the per-name call ceiling.
func (s *Sandbox) allow(name string) bool { return s.ac.AllowCall(name) }

// tick bumps the global call counter and returns its prior value.
func (s *Sandbox) tick() int { return s.ac.Dynamic.IncrementFunctionCallCount() }

// track feeds a string into the pattern library and harvests its URLs.
func (s *Sandbox) track(str, origin string) {
	if str == "" {
		return
	}
	s.ac.TrackString(str, origin)
}

func (s *Sandbox) collectURL(raw, source string) {
	s.ac.URLs.Add(raw, source)
}

// --- JS error helpers ---

func (s *Sandbox) throwTypeError(format string, args ...interface{}) {
	panic(s.vm.NewTypeError(fmt.Sprintf(format, args...)))
}

func (s *Sandbox) throwRangeError(msg string) {
	ctor, ok := goja.AssertConstructor(s.vm.Get("RangeError"))
	if !ok {
		panic(s.vm.NewGoError(errors.New(msg)))
	}
	obj, err := ctor(nil, s.vm.ToValue(msg))
	if err != nil {
		panic(s.vm.NewGoError(errors.New(msg)))
	}
	panic(obj)
}

// rethrow propagates an error returned by a goja callable back into the
// running script with its original semantics.
func (s *Sandbox) rethrow(err error) {
	var ex *goja.Exception
	if errors.As(err, &ex) || isUncatchable(err) {
		panic(err)
	}
	panic(s.vm.NewGoError(err))
}

// isUncatchable reports errors scripts must not swallow: interrupts and
// stack overflows.
func isUncatchable(err error) bool {
	var interrupted *goja.InterruptedError
	var overflow *goja.StackOverflowError
	return errors.As(err, &interrupted) || errors.As(err, &overflow)
}

// --- Callbacks ---

// callback invokes a script function under the family's reentrancy guard
// and returns its error instead of throwing. Used outside a hostcall, from
// the job queue.
func (s *Sandbox) callback(f core.Family, fn goja.Value, this goja.Value, args ...goja.Value) (goja.Value, error) {
	cb, ok := goja.AssertFunction(fn)
	if !ok {
		return goja.Undefined(), nil
	}
	release, err := s.ac.Exec.Enter(f)
	if err != nil {
		return goja.Undefined(), fmt.Errorf("%s callback: %w", f, err)
	}
	defer release()
	if this == nil {
		this = goja.Undefined()
	}
	return cb(this, args...)
}

// invoke runs a script callback from inside a hostcall. Past the family
// ceiling it throws a RangeError; exceptions thrown by the callback are
// discarded so one broken handler cannot abort the whole analysis.
func (s *Sandbox) invoke(f core.Family, fn goja.Value, this goja.Value, args ...goja.Value) goja.Value {
	res, err := s.callback(f, fn, this, args...)
	if err == nil {
		return res
	}
	if errors.Is(err, core.ErrReentrancyLimit) {
		s.throwRangeError(fmt.Sprintf("Maximum %s callback depth exceeded", f))
	}
	if isUncatchable(err) {
		panic(err)
	}
	s.logger.Debug("Callback threw; exception discarded.", zap.String("family", string(f)), zap.Error(err))
	return goja.Undefined()
}

// --- Object helpers ---

// hostObject creates an empty object tagged as sandbox-owned.
func (s *Sandbox) hostObject(name string) *goja.Object {
	obj := s.vm.NewObject()
	s.markHost(obj, name)
	return obj
}

func (s *Sandbox) markHost(obj *goja.Object, name string) {
	_ = obj.DefineDataProperty(hostMarker, s.vm.ToValue(name), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
}

// accessor defines a configurable, enumerable getter/setter pair. A nil
// setter makes the property read-only; writes are then silently ignored.
func (s *Sandbox) accessor(obj *goja.Object, name string, get func() goja.Value, set func(goja.Value)) {
	getter := s.vm.ToValue(func(goja.FunctionCall) goja.Value { return get() })
	setter := goja.Undefined()
	if set != nil {
		setter = s.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			set(call.Argument(0))
			return goja.Undefined()
		})
	}
	if err := obj.DefineAccessorProperty(name, getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE); err != nil {
		s.logger.Error("Failed to define accessor", zap.String("property", name), zap.Error(err))
	}
}

// noop returns a callable stub that returns ret.
func (s *Sandbox) noop(ret func() goja.Value) func(goja.FunctionCall) goja.Value {
	return func(goja.FunctionCall) goja.Value {
		if ret == nil {
			return goja.Undefined()
		}
		return ret()
	}
}

// setGlobal installs a global, logging failures instead of aborting the
// install of the remaining names.
func (s *Sandbox) setGlobal(name string, v interface{}) error {
	if err := s.vm.Set(name, v); err != nil {
		return fmt.Errorf("set global %s: %w", name, err)
	}
	return nil
}

// argString returns argument i as a string, or "" when it is missing.
func argString(call goja.FunctionCall, i int) string {
	v := call.Argument(i)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

// optString reads a string property of an options object.
func (s *Sandbox) optString(v goja.Value, key string) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return ""
	}
	p := obj.Get(key)
	if p == nil || goja.IsUndefined(p) || goja.IsNull(p) {
		return ""
	}
	return p.String()
}
