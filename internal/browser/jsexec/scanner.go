// internal/browser/jsexec/scanner.go
package jsexec

import (
	"sort"

	"github.com/dop251/goja"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/analysis/strtrack"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

// MinVariableLength is the shortest string global the scanner looks at.
const MinVariableLength = 20

// CodeSuspiciousVariable marks a classified string global.
const CodeSuspiciousVariable = "suspicious_global_variable"

// Variable is a string-valued global left behind by a script.
type Variable struct {
	Name  string
	Value string
	Class strtrack.Class
}

// Detection renders the variable as a finding.
func (v Variable) Detection() schemas.Detection {
	sev := 4
	switch v.Class {
	case strtrack.ClassPotentialJS:
		sev = 5
	case strtrack.ClassSuspicious:
		sev = 6
	}
	return schemas.NewDetection(CodeSuspiciousVariable, sev,
		"Global variable "+v.Name+" holds "+v.Class.String()+" content").
		WithSnippet(jsvalue.Truncate(v.Value, 150)).
		WithFeature("variable", v.Name).
		WithFeature("class", v.Class.String()).
		WithFeature("length", len(v.Value))
}

// VarScanner enumerates script-defined globals. Everything present when the
// scanner is built (the sandbox surface and the engine built-ins) is
// skipped.
type VarScanner struct {
	vm       *goja.Runtime
	baseline map[string]bool
}

// NewVarScanner records the current global names as the built-in baseline.
func NewVarScanner(vm *goja.Runtime) *VarScanner {
	baseline := make(map[string]bool)
	for _, k := range vm.GlobalObject().Keys() {
		baseline[k] = true
	}
	return &VarScanner{vm: vm, baseline: baseline}
}

// Snapshot returns the current script-defined string globals.
func (s *VarScanner) Snapshot() map[string]string {
	out := make(map[string]string)
	global := s.vm.GlobalObject()
	for _, k := range global.Keys() {
		if s.baseline[k] {
			continue
		}
		if str, ok := s.stringValue(global, k); ok {
			out[k] = str
		}
	}
	return out
}

// Scan returns globals of at least MinVariableLength characters that are
// new or changed since before, in name order.
func (s *VarScanner) Scan(before map[string]string) []Variable {
	var vars []Variable
	for name, value := range s.Snapshot() {
		if len(value) < MinVariableLength {
			continue
		}
		if prev, ok := before[name]; ok && prev == value {
			continue
		}
		vars = append(vars, Variable{Name: name, Value: value, Class: strtrack.Classify(value)})
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].Name < vars[j].Name })
	return vars
}

// stringValue reads a global without letting a throwing getter escape.
func (s *VarScanner) stringValue(global *goja.Object, name string) (str string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			str, ok = "", false
		}
	}()
	v := global.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", false
	}
	if _, isObj := v.(*goja.Object); isObj {
		return "", false
	}
	str, ok = v.Export().(string)
	return str, ok
}
