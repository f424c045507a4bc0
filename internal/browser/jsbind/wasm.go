package jsbind

import (
	"bytes"
	"regexp"

	"github.com/dop251/goja"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/analysis/dynamic"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

const wasmMaxScan = 1 << 20

var (
	wasmMagic        = []byte{0x00, 0x61, 0x73, 0x6d}
	wasmMinerPattern = regexp.MustCompile(`(?i)cryptonight|coinhive|monero|randomx|stratum\+tcp|hashrate|_cn_hash`)
)

// WebAssembly modules are never compiled. Loading one is recorded and the
// binary is scanned for miner strings; instances expose fallback exports.

func installWasm(s *Sandbox) error {
	w := s.hostObject("WebAssembly")
	w.Set("instantiate", s.wasmLoad("WebAssembly.instantiate"))
	w.Set("instantiateStreaming", s.wasmLoad("WebAssembly.instantiateStreaming"))
	w.Set("compile", func(call goja.FunctionCall) goja.Value {
		s.wasmInspect("WebAssembly.compile", call.Argument(0))
		return s.resolved(s.wasmModule())
	})
	w.Set("compileStreaming", func(call goja.FunctionCall) goja.Value {
		s.wasmInspect("WebAssembly.compileStreaming", call.Argument(0))
		return s.resolved(s.wasmModule())
	})
	w.Set("validate", func(call goja.FunctionCall) goja.Value {
		b, ok := bytesOf(call.Argument(0))
		return s.vm.ToValue(ok && bytes.HasPrefix(b, wasmMagic))
	})
	w.Set("Module", func(call goja.ConstructorCall) *goja.Object {
		s.wasmInspect("WebAssembly.Module", call.Argument(0))
		return s.wasmModule()
	})
	w.Set("Instance", func(goja.ConstructorCall) *goja.Object { return s.wasmInstance() })
	w.Set("Memory", func(call goja.ConstructorCall) *goja.Object {
		mem := s.hostObject("WebAssembly.Memory")
		pages := s.optString(call.Argument(0), "initial")
		mem.Set("buffer", s.vm.NewArrayBuffer(nil))
		mem.Set("grow", s.noop(func() goja.Value { return s.vm.ToValue(pages) }))
		return mem
	})
	w.Set("Table", func(goja.ConstructorCall) *goja.Object { return s.hostObject("WebAssembly.Table") })
	return s.setGlobal("WebAssembly", w)
}

func (s *Sandbox) wasmLoad(api string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		s.wasmInspect(api, call.Argument(0))
		res := s.vm.NewObject()
		res.Set("module", s.wasmModule())
		res.Set("instance", s.wasmInstance())
		return s.resolved(res)
	}
}

// wasmInspect records a module load and scores the binary when its bytes
// are available.
func (s *Sandbox) wasmInspect(api string, src goja.Value) {
	if !s.allow(api) {
		return
	}
	b, ok := bytesOf(src)
	sev := 5
	meta := jsvalue.MapOf("size", len(b), "binary_available", ok)
	if ok {
		meta.Set("valid_magic", jsvalue.Bool(bytes.HasPrefix(b, wasmMagic)))
		scan := b
		if len(scan) > wasmMaxScan {
			scan = scan[:wasmMaxScan]
		}
		if m := wasmMinerPattern.Find(scan); m != nil {
			sev = 9
			meta.Set("miner_marker", jsvalue.String(string(m)))
			s.finding(schemas.NewDetection("wasm_cryptominer", 9, "WebAssembly module carries cryptominer markers").
				WithSnippet(string(m)).WithFeature("size", len(b)))
		}
	}
	args := []jsvalue.Value{jsvalue.Int(len(b))}
	s.record(dynamic.EventWasmLoad, api, args, jsvalue.Undefined(), sev, meta)
	s.chain("WebAssembly.instantiate", args, jsvalue.Undefined())
}

func (s *Sandbox) wasmModule() *goja.Object {
	return s.hostObject("WebAssembly.Module")
}

func (s *Sandbox) wasmInstance() *goja.Object {
	inst := s.hostObject("WebAssembly.Instance")
	inst.Set("exports", s.fallback("exports", 1))
	return inst
}
