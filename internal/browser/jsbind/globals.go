package jsbind

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/analysis/core"
	"github.com/xkilldash9x/jsbox/internal/analysis/dynamic"
	"github.com/xkilldash9x/jsbox/internal/analysis/strtrack"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

const snippetLength = 200

func installGlobals(s *Sandbox) error {
	if err := s.installEval(); err != nil {
		return err
	}
	if err := s.installFunctionConstructor(); err != nil {
		return err
	}

	funcs := map[string]func(goja.FunctionCall) goja.Value{
		"setTimeout":            s.timer("setTimeout", false),
		"setInterval":           s.timer("setInterval", true),
		"setImmediate":          s.timer("setImmediate", false),
		"clearTimeout":          s.clearTimer,
		"clearInterval":         s.clearTimer,
		"clearImmediate":        s.clearTimer,
		"requestAnimationFrame": s.deferCallback("requestAnimationFrame"),
		"requestIdleCallback":   s.deferCallback("requestIdleCallback"),
		"queueMicrotask":        s.deferCallback("queueMicrotask"),
		"cancelAnimationFrame":  s.clearTimer,
		"cancelIdleCallback":    s.clearTimer,
		"atob":                  s.atob,
		"btoa":                  s.btoa,
		"alert":                 s.dialog("alert", goja.Undefined),
		"confirm":               s.dialog("confirm", func() goja.Value { return s.vm.ToValue(true) }),
		"prompt":                s.dialog("prompt", func() goja.Value { return s.vm.ToValue("") }),
		"print":                 s.dialog("print", goja.Undefined),
	}
	for name, fn := range funcs {
		if err := s.setGlobal(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// --- eval / Function ---

// installEval intercepts direct and indirect eval. The original is kept
// and called indirectly, so evaluated code runs in global scope.
func (s *Sandbox) installEval() error {
	orig, ok := goja.AssertFunction(s.vm.Get("eval"))
	if !ok {
		return errors.New("eval is not a function")
	}
	s.evalFn = orig
	return s.setGlobal("eval", func(call goja.FunctionCall) goja.Value {
		code := call.Argument(0)
		if !s.allow("eval") {
			return goja.Undefined()
		}
		prior := s.tick()
		args := s.values(call.Arguments)
		src := ""
		if str, isString := code.Export().(string); isString {
			src = str
		}

		s.record(dynamic.EventFunctionCall, "eval", args, jsvalue.Undefined(), 10,
			jsvalue.MapOf("length", len(src), "prior_calls", prior))
		s.finding(schemas.NewDetection("eval_call_detected", 10, "eval() executed dynamic code").
			WithSnippet(jsvalue.Truncate(src, snippetLength)).
			WithFeature("length", len(src)))
		s.chain("eval", args, jsvalue.Undefined())
		s.track(src, "eval")

		release, err := s.ac.Exec.Enter(core.FamilyEval)
		if err != nil {
			s.throwRangeError("Maximum eval depth exceeded")
		}
		defer release()
		res, err := s.evalFn(goja.Undefined(), code)
		if err != nil {
			s.rethrow(err)
		}
		return res
	})
}

// installFunctionConstructor wraps Function so that both `new Function(...)`
// and the `(function(){}).constructor(...)` idiom are observed.
func (s *Sandbox) installFunctionConstructor() error {
	origVal := s.vm.Get("Function")
	orig, ok := goja.AssertConstructor(origVal)
	if !ok {
		return errors.New("Function is not a constructor")
	}
	proto := origVal.(*goja.Object).Get("prototype").(*goja.Object)

	hook := func(args []goja.Value) *goja.Object {
		if !s.allow("Function") {
			obj, _ := orig(nil)
			return obj
		}
		s.tick()
		vals := s.values(args)
		body := ""
		if len(args) > 0 {
			body = args[len(args)-1].String()
		}
		s.record(dynamic.EventFunctionCall, "Function", vals, jsvalue.Undefined(), 8,
			jsvalue.MapOf("length", len(body), "params", len(args)-1))
		s.finding(schemas.NewDetection("function_constructor", 8, "Function constructor compiled dynamic code").
			WithSnippet(jsvalue.Truncate(body, snippetLength)))
		s.chain("Function", vals, jsvalue.Undefined())
		s.track(body, "Function")

		obj, err := orig(nil, args...)
		if err != nil {
			s.rethrow(err)
		}
		return obj
	}

	ctor := s.vm.ToValue(func(call goja.ConstructorCall) *goja.Object { return hook(call.Arguments) }).(*goja.Object)
	if err := ctor.DefineDataProperty("prototype", proto, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
		return fmt.Errorf("Function.prototype: %w", err)
	}
	if err := proto.DefineDataProperty("constructor", ctor, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
		return fmt.Errorf("Function.prototype.constructor: %w", err)
	}
	return s.setGlobal("Function", ctor)
}

// --- Timers ---

// timer schedules fn (or a code string) on the job queue. Delays are
// ignored; string timers are treated as eval.
func (s *Sandbox) timer(name string, repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 || !s.allow(name) {
			return s.vm.ToValue(0)
		}
		handler := call.Argument(0)
		extra := []goja.Value{}
		if len(call.Arguments) > 2 {
			extra = call.Arguments[2:]
		}

		var job func() error
		if _, ok := goja.AssertFunction(handler); ok {
			s.record(dynamic.EventFunctionCall, name, nil, jsvalue.Undefined(), 1,
				jsvalue.MapOf("delay", call.Argument(1).ToInteger(), "string_handler", false))
			job = func() error {
				_, err := s.callback(core.FamilyEvent, handler, goja.Undefined(), extra...)
				return err
			}
		} else {
			code := argString(call, 0)
			args := s.values(call.Arguments[:1])
			s.tick()
			s.record(dynamic.EventFunctionCall, name, args, jsvalue.Undefined(), 7,
				jsvalue.MapOf("delay", call.Argument(1).ToInteger(), "string_handler", true))
			s.finding(schemas.NewDetection("string_timer_execution", 7, name+" called with a code string").
				WithSnippet(jsvalue.Truncate(code, snippetLength)))
			s.chain(name, args, jsvalue.Undefined())
			s.track(code, name)
			job = func() error {
				_, err := s.evalFn(goja.Undefined(), s.vm.ToValue(code))
				return err
			}
		}

		var id int
		if repeat {
			id = s.jobs.EnqueueRepeating(name, job)
		} else {
			id = s.jobs.Enqueue(name, job)
		}
		return s.vm.ToValue(id)
	}
}

func (s *Sandbox) clearTimer(call goja.FunctionCall) goja.Value {
	s.jobs.Cancel(int(call.Argument(0).ToInteger()))
	return goja.Undefined()
}

// deferCallback queues a callback with no delay semantics at all.
func (s *Sandbox) deferCallback(name string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn := call.Argument(0)
		if _, ok := goja.AssertFunction(fn); !ok {
			s.throwTypeError("Failed to execute '%s': parameter 1 is not of type 'Function'.", name)
		}
		id := s.jobs.Enqueue(name, func() error {
			_, err := s.callback(core.FamilyEvent, fn, goja.Undefined(), s.vm.ToValue(16))
			return err
		})
		return s.vm.ToValue(id)
	}
}

// --- Base64 ---

func (s *Sandbox) atob(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) == 0 {
		s.throwTypeError("Failed to execute 'atob' on 'Window': 1 argument required, but only 0 present.")
	}
	in := call.Argument(0).String()
	decoded, err := decodeBase64(in)
	if err != nil {
		s.throwTypeError("Failed to execute 'atob' on 'Window': The string to be decoded is not correctly encoded.")
	}
	out := latin1(decoded)
	result := s.vm.ToValue(out)
	if !s.allow("atob") {
		return result
	}
	s.tick()

	sev := 3
	meta := jsvalue.MapOf("input_length", len(in), "output_length", len(out))
	if strtrack.LooksLikeJS(out) {
		sev += 2
		meta.Set("decoded_js", jsvalue.Bool(true))
	}
	if strtrack.HasMaliciousTool(out) {
		sev += 3
		meta.Set("malicious_tool", jsvalue.Bool(true))
	}
	args := s.values(call.Arguments)
	s.record(dynamic.EventFunctionCall, "atob", args, jsvalue.String(jsvalue.Truncate(out, snippetLength)), sev, meta)
	s.chain("atob", args, jsvalue.String(out))
	s.track(out, "atob")
	s.ac.URLs.AddAll(strtrack.ExtractURLs(out), "atob")
	return result
}

func (s *Sandbox) btoa(call goja.FunctionCall) goja.Value {
	in := argString(call, 0)
	raw := make([]byte, 0, len(in))
	for _, r := range in {
		if r > 0xFF {
			s.throwTypeError("Failed to execute 'btoa' on 'Window': The string to be encoded contains characters outside of the Latin1 range.")
		}
		raw = append(raw, byte(r))
	}
	out := base64.StdEncoding.EncodeToString(raw)
	if s.allow("btoa") {
		s.tick()
		args := s.values(call.Arguments)
		s.record(dynamic.EventFunctionCall, "btoa", args, jsvalue.String(jsvalue.Truncate(out, snippetLength)), 2,
			jsvalue.MapOf("input_length", len(in)))
		s.chain("btoa", args, jsvalue.String(out))
	}
	return s.vm.ToValue(out)
}

// decodeBase64 follows the forgiving-base64 rules: ASCII whitespace is
// ignored and missing padding is accepted.
func decodeBase64(in string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\f', '\r':
			return -1
		}
		return r
	}, in)
	cleaned = strings.TrimRight(cleaned, "=")
	if len(cleaned)%4 == 1 {
		return nil, errors.New("invalid base64 length")
	}
	return base64.RawStdEncoding.DecodeString(cleaned)
}

// latin1 maps each byte to the code point of the same value, which is how
// atob exposes binary data as a string.
func latin1(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

// --- Dialogs ---

func (s *Sandbox) dialog(name string, ret func() goja.Value) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if s.allow(name) {
			msg := argString(call, 0)
			s.record(dynamic.EventFunctionCall, name, s.values(call.Arguments), jsvalue.Undefined(), 1, nil)
			s.track(msg, name)
		}
		return ret()
	}
}
