package jsbind

import (
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/xkilldash9x/jsbox/internal/analysis/dynamic"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

// installConsole implements the console object. Every call is recorded as
// an event; the mirrored debug log line is rate limited per task.
func installConsole(s *Sandbox) error {
	console := s.hostObject("Console")
	logFunc := func(typ dynamic.EventType, method string) func(goja.FunctionCall) goja.Value {
		name := "console." + method
		return func(call goja.FunctionCall) goja.Value {
			if !s.allow(name) {
				return goja.Undefined()
			}
			msg := s.formatConsole(call.Arguments)
			s.record(typ, name, s.values(call.Arguments), jsvalue.Undefined(), 0, nil)
			s.track(msg, name)
			if s.console.Allow() {
				s.logger.Debug("[JS Console]", zap.String("method", method), zap.String("message", jsvalue.Truncate(msg, 500)))
			}
			return goja.Undefined()
		}
	}

	for _, m := range []string{"log", "info", "debug", "trace", "dir", "table", "group", "groupCollapsed"} {
		console.Set(m, logFunc(dynamic.EventConsoleLog, m))
	}
	console.Set("warn", logFunc(dynamic.EventConsoleWarn, "warn"))
	console.Set("error", logFunc(dynamic.EventConsoleError, "error"))
	console.Set("assert", logFunc(dynamic.EventConsoleError, "assert"))
	for _, m := range []string{"groupEnd", "time", "timeEnd", "timeLog", "count", "countReset", "clear", "profile", "profileEnd"} {
		console.Set(m, s.noop(nil))
	}
	return s.setGlobal("console", console)
}

// formatConsole joins arguments the way browsers print them, rendering
// plain objects as JSON.
func (s *Sandbox) formatConsole(args []goja.Value) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		if obj, ok := arg.(*goja.Object); ok && obj.ClassName() == "Object" {
			parts[i] = s.value(arg).String()
			continue
		}
		if arg == nil {
			parts[i] = "undefined"
			continue
		}
		parts[i] = arg.String()
	}
	return strings.Join(parts, " ")
}
