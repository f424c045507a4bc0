package jsbind

import (
	"encoding/base64"
	"strings"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/analysis/core"
	"github.com/xkilldash9x/jsbox/internal/analysis/dynamic"
	"github.com/xkilldash9x/jsbox/internal/analysis/strtrack"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

// blobKey holds the content of a Blob or File object.
const blobKey = "__go_blob_content__"

func installBlob(s *Sandbox) error {
	ctors := map[string]func(goja.ConstructorCall) *goja.Object{
		"Blob":        s.newBlob,
		"File":        s.newFile,
		"FormData":    s.newFormData,
		"TextEncoder": s.newTextEncoder,
		"TextDecoder": s.newTextDecoder,
		"FileReader":  s.newFileReader,
	}
	for name, ctor := range ctors {
		if err := s.setGlobal(name, ctor); err != nil {
			return err
		}
	}

	urlObj, ok := s.vm.Get("URL").(*goja.Object)
	if !ok {
		return nil
	}
	urlObj.Set("createObjectURL", func(call goja.FunctionCall) goja.Value {
		content, typ := s.blobContent(call.Argument(0))
		id, err := uuid.NewRandomFromReader(s.rng)
		if err != nil {
			id = uuid.Nil
		}
		u := "blob:" + pageOrigin(s.browser.PageURL) + "/" + id.String()
		s.blobs[u] = content
		if s.allow("URL.createObjectURL") {
			s.record(dynamic.EventBlobCreate, "URL.createObjectURL", []jsvalue.Value{jsvalue.String(u)}, jsvalue.String(u), 2,
				jsvalue.MapOf("type", typ, "size", len(content)))
		}
		return s.vm.ToValue(u)
	})
	urlObj.Set("revokeObjectURL", func(call goja.FunctionCall) goja.Value {
		delete(s.blobs, argString(call, 0))
		return goja.Undefined()
	})
	return nil
}

// --- Blob / File ---

func (s *Sandbox) newBlob(call goja.ConstructorCall) *goja.Object {
	content := s.blobParts(call.Argument(0))
	typ := strings.ToLower(s.optString(call.Argument(1), "type"))
	s.blobCreated("Blob", content, typ)
	return s.newBlobObject(content, typ)
}

func (s *Sandbox) newFile(call goja.ConstructorCall) *goja.Object {
	content := s.blobParts(call.Argument(0))
	typ := strings.ToLower(s.optString(call.Argument(2), "type"))
	name := argString(goja.FunctionCall{Arguments: call.Arguments}, 1)
	s.blobCreated("Blob", content, typ)
	f := s.newBlobObject(content, typ)
	s.markHost(f, "File")
	f.Set("name", name)
	f.Set("lastModified", 0)
	return f
}

// blobCreated scores the content of a new blob. Script and HTML payloads
// assembled in memory are a common smuggling step.
func (s *Sandbox) blobCreated(api, content, typ string) {
	if !s.allow(api) {
		return
	}
	sev := 2
	meta := jsvalue.MapOf("type", typ, "size", len(content))
	if strings.Contains(typ, "javascript") || strings.Contains(typ, "html") || strtrack.LooksLikeJS(content) {
		sev = 5
		meta.Set("script_content", jsvalue.Bool(true))
	}
	if strings.Contains(typ, "octet-stream") || strings.Contains(typ, "msdownload") || strings.HasPrefix(content, "MZ") {
		sev = 6
		meta.Set("binary_payload", jsvalue.Bool(true))
	}
	if strtrack.HasMaliciousTool(content) {
		sev = 7
		meta.Set("malicious_tool", jsvalue.Bool(true))
	}
	args := []jsvalue.Value{jsvalue.String(jsvalue.Truncate(content, snippetLength)), jsvalue.String(typ)}
	s.record(dynamic.EventBlobCreate, api, args, jsvalue.Undefined(), sev, meta)
	s.chain("Blob", []jsvalue.Value{jsvalue.String(content)}, jsvalue.Undefined())
	s.track(content, api)
	s.harvestHTML(content, api)
	if sev >= 6 {
		s.finding(schemas.NewDetection("blob_payload_smuggling", sev, "Blob assembled a script or binary payload").
			WithSnippet(jsvalue.Truncate(content, snippetLength)).
			WithFeature("type", typ))
	}
}

// blobParts concatenates the parts array given to Blob or File.
func (s *Sandbox) blobParts(v goja.Value) string {
	obj, ok := v.(*goja.Object)
	if !ok {
		return ""
	}
	var sb strings.Builder
	for _, k := range obj.Keys() {
		part := obj.Get(k)
		if content, _ := s.blobContent(part); content != "" {
			sb.WriteString(content)
			continue
		}
		if b, ok := bytesOf(part); ok {
			sb.WriteString(latin1(b))
			continue
		}
		sb.WriteString(part.String())
	}
	return sb.String()
}

func (s *Sandbox) newBlobObject(content, typ string) *goja.Object {
	blob := s.hostObject("Blob")
	_ = blob.DefineDataProperty(blobKey, s.vm.ToValue(content), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
	blob.Set("size", len(content))
	blob.Set("type", typ)
	blob.Set("text", func(goja.FunctionCall) goja.Value { return s.resolved(s.vm.ToValue(content)) })
	blob.Set("arrayBuffer", func(goja.FunctionCall) goja.Value {
		return s.resolved(s.vm.ToValue(s.vm.NewArrayBuffer([]byte(content))))
	})
	blob.Set("slice", func(call goja.FunctionCall) goja.Value {
		start, end := 0, len(content)
		if len(call.Arguments) > 0 {
			start = clamp(int(call.Argument(0).ToInteger()), 0, len(content))
		}
		if len(call.Arguments) > 1 {
			end = clamp(int(call.Argument(1).ToInteger()), start, len(content))
		}
		return s.newBlobObject(content[start:end], typ)
	})
	return blob
}

// blobContent returns the content and type of a Blob or File object.
func (s *Sandbox) blobContent(v goja.Value) (string, string) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return "", ""
	}
	c := obj.Get(blobKey)
	if c == nil {
		return "", ""
	}
	return c.String(), s.optString(obj, "type")
}

// --- FormData ---

func (s *Sandbox) newFormData(goja.ConstructorCall) *goja.Object {
	fd := s.hostObject("FormData")
	var keys []string
	values := make(map[string][]goja.Value)
	add := func(k string, v goja.Value, replace bool) {
		if _, ok := values[k]; !ok {
			keys = append(keys, k)
		}
		if replace {
			values[k] = nil
		}
		values[k] = append(values[k], v)
		s.track(v.String(), "FormData")
	}
	fd.Set("append", func(call goja.FunctionCall) goja.Value {
		add(argString(call, 0), call.Argument(1), false)
		return goja.Undefined()
	})
	fd.Set("set", func(call goja.FunctionCall) goja.Value {
		add(argString(call, 0), call.Argument(1), true)
		return goja.Undefined()
	})
	fd.Set("get", func(call goja.FunctionCall) goja.Value {
		if vs := values[argString(call, 0)]; len(vs) > 0 {
			return vs[0]
		}
		return goja.Null()
	})
	fd.Set("getAll", func(call goja.FunctionCall) goja.Value {
		vs := values[argString(call, 0)]
		items := make([]interface{}, len(vs))
		for i, v := range vs {
			items[i] = v
		}
		return s.vm.NewArray(items...)
	})
	fd.Set("has", func(call goja.FunctionCall) goja.Value {
		_, ok := values[argString(call, 0)]
		return s.vm.ToValue(ok)
	})
	fd.Set("delete", func(call goja.FunctionCall) goja.Value {
		delete(values, argString(call, 0))
		return goja.Undefined()
	})
	// toString renders the fields as a query string, which is how the
	// network hooks see a FormData body.
	fd.Set("toString", func(goja.FunctionCall) goja.Value {
		var parts []string
		for _, k := range keys {
			for _, v := range values[k] {
				parts = append(parts, k+"="+v.String())
			}
		}
		return s.vm.ToValue(strings.Join(parts, "&"))
	})
	return fd
}

// --- TextEncoder / TextDecoder ---

func (s *Sandbox) newTextEncoder(goja.ConstructorCall) *goja.Object {
	enc := s.hostObject("TextEncoder")
	enc.Set("encoding", "utf-8")
	enc.Set("encode", func(call goja.FunctionCall) goja.Value {
		in := argString(call, 0)
		arr, err := s.vm.New(s.vm.Get("Uint8Array"), s.vm.ToValue(s.vm.NewArrayBuffer([]byte(in))))
		if err != nil {
			s.rethrow(err)
		}
		if s.allow("TextEncoder.encode") {
			s.chain("TextEncoder.encode", []jsvalue.Value{jsvalue.String(in)}, jsvalue.String(in))
		}
		return arr
	})
	return enc
}

func (s *Sandbox) newTextDecoder(call goja.ConstructorCall) *goja.Object {
	dec := s.hostObject("TextDecoder")
	label := argString(goja.FunctionCall{Arguments: call.Arguments}, 0)
	if label == "" {
		label = "utf-8"
	}
	dec.Set("encoding", strings.ToLower(label))
	dec.Set("decode", func(c goja.FunctionCall) goja.Value {
		b, ok := bytesOf(c.Argument(0))
		if !ok {
			return s.vm.ToValue("")
		}
		out := string(b)
		if label != "utf-8" && label != "utf8" {
			out = latin1(b)
		}
		if s.allow("TextDecoder.decode") {
			sev := 1
			if strtrack.LooksLikeJS(out) {
				sev = 4
			}
			s.record(dynamic.EventFunctionCall, "TextDecoder.decode", nil, jsvalue.String(jsvalue.Truncate(out, snippetLength)), sev,
				jsvalue.MapOf("length", len(out)))
			s.chain("TextDecoder.decode", nil, jsvalue.String(out))
			s.track(out, "TextDecoder.decode")
		}
		return s.vm.ToValue(out)
	})
	return dec
}

// bytesOf extracts the bytes of an ArrayBuffer or typed array view.
func bytesOf(v goja.Value) ([]byte, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, false
	}
	if ab, ok := v.Export().(goja.ArrayBuffer); ok {
		return ab.Bytes(), true
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	buf := obj.Get("buffer")
	if buf == nil {
		return nil, false
	}
	ab, ok := buf.Export().(goja.ArrayBuffer)
	if !ok {
		return nil, false
	}
	raw := ab.Bytes()
	off := int(obj.Get("byteOffset").ToInteger())
	n := int(obj.Get("byteLength").ToInteger())
	if off < 0 || n < 0 || off+n > len(raw) {
		return nil, false
	}
	return raw[off : off+n], true
}

// --- FileReader ---

func (s *Sandbox) newFileReader(goja.ConstructorCall) *goja.Object {
	r := s.hostObject("FileReader")
	r.Set("result", goja.Null())
	r.Set("readyState", 0)
	r.Set("error", goja.Null())

	read := func(method string, render func(content, typ string) goja.Value) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			content, typ := s.blobContent(call.Argument(0))
			s.jobs.Enqueue("FileReader."+method, func() error {
				r.Set("result", render(content, typ))
				r.Set("readyState", 2)
				if s.allow("FileReader.result") {
					s.chain("FileReader.result", []jsvalue.Value{jsvalue.String(method)}, jsvalue.String(content))
					s.track(content, "FileReader.result")
				}
				for _, ev := range []string{"load", "loadend"} {
					if h := r.Get("on" + ev); h != nil {
						if _, err := s.callback(core.FamilyEvent, h, r, s.newEvent(ev, r)); err != nil {
							return err
						}
					}
				}
				return nil
			})
			return goja.Undefined()
		}
	}
	r.Set("readAsText", read("readAsText", func(content, _ string) goja.Value { return s.vm.ToValue(content) }))
	r.Set("readAsBinaryString", read("readAsBinaryString", func(content, _ string) goja.Value { return s.vm.ToValue(content) }))
	r.Set("readAsDataURL", read("readAsDataURL", func(content, typ string) goja.Value {
		if typ == "" {
			typ = "application/octet-stream"
		}
		return s.vm.ToValue("data:" + typ + ";base64," + base64.StdEncoding.EncodeToString([]byte(content)))
	}))
	r.Set("readAsArrayBuffer", read("readAsArrayBuffer", func(content, _ string) goja.Value {
		return s.vm.ToValue(s.vm.NewArrayBuffer([]byte(content)))
	}))
	r.Set("abort", s.noop(nil))
	r.Set("addEventListener", s.noop(nil))
	return r
}

func pageOrigin(raw string) string {
	host := pageHost(raw)
	if host == "" {
		return "null"
	}
	scheme := "https"
	if strings.HasPrefix(strings.ToLower(raw), "http:") {
		scheme = "http"
	}
	return scheme + "://" + host
}
