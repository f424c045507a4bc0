package jsbind

import (
	"regexp"
	"strings"

	"github.com/beevik/etree"
	"github.com/dop251/goja"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/analysis/core"
	"github.com/xkilldash9x/jsbox/internal/analysis/dynamic"
	"github.com/xkilldash9x/jsbox/internal/analysis/strtrack"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

// --- Risk scoring for shell execution ---

const maxActiveXRisk = 15

type riskRule struct {
	name    string
	points  int
	pattern *regexp.Regexp
}

var activexRiskRules = []riskRule{
	{"powershell", 2, regexp.MustCompile(`(?i)\b(?:powershell|pwsh)(?:\.exe)?\b`)},
	{"obfuscation_flags", 3, regexp.MustCompile(`(?i)(?:^|\s)[-/](?:e|ec|enc|encodedcommand|w(?:indowstyle)?\s+hidden|nop(?:rofile)?|exec(?:utionpolicy)?\s+bypass|ep\s+bypass)\b`)},
	{"base64_payload", 3, regexp.MustCompile(`(?i)FromBase64String|[A-Za-z0-9+/]{40,}={0,2}`)},
	{"remote_download", 4, regexp.MustCompile(`(?i)Download(?:String|File|Data)|Invoke-WebRequest|\biwr\b|\bwget\b|\bcurl\b|Net\.WebClient|bitsadmin|Start-BitsTransfer|certutil\S*\s.*-urlcache`)},
	{"invoke_expression", 4, regexp.MustCompile(`(?i)Invoke-Expression|\biex\b`)},
	{"reflection", 5, regexp.MustCompile(`(?i)Reflection\.Assembly|Assembly\]::Load`)},
	{"url", 1, regexp.MustCompile(`(?i)\b(?:https?|ftp)://`)},
	{"paste_service", 2, regexp.MustCompile(`(?i)pastebin\.com|paste\.ee|hastebin|ghostbin|rentry\.co|transfer\.sh`)},
}

// activexRisk adds up the rules a command line hits, clamped to 15.
func activexRisk(cmd string) (int, []string) {
	score := 0
	var hits []string
	for _, r := range activexRiskRules {
		if r.pattern.MatchString(cmd) {
			score += r.points
			hits = append(hits, r.name)
		}
	}
	return clamp(score, 0, maxActiveXRisk), hits
}

// activexSeverity maps a risk score to an event severity and level name.
func activexSeverity(score int) (int, string) {
	switch {
	case score >= 12:
		return 10, "EXTREME"
	case score >= 8:
		return 9, "CRITICAL"
	case score >= 5:
		return 7, "HIGH"
	default:
		return 5, "MEDIUM"
	}
}

// shellExec records a command executed through an ActiveX shell object.
func (s *Sandbox) shellExec(api, progID, cmd string, args []jsvalue.Value) {
	if !s.allow(api) {
		return
	}
	score, hits := activexRisk(cmd)
	sev, level := activexSeverity(score)
	meta := jsvalue.MapOf(
		"prog_id", progID,
		"command", jsvalue.Truncate(cmd, 1000),
		"risk_score", score,
		"risk_level", level,
		"patterns", jsvalue.Strings(hits...),
	)
	if score >= 5 {
		s.recordFlagged(dynamic.EventActiveXExecution, api, args, jsvalue.Undefined(), sev, meta)
	} else {
		s.record(dynamic.EventActiveXExecution, api, args, jsvalue.Undefined(), sev, meta)
	}
	s.chain(api, args, jsvalue.Undefined())
	s.track(cmd, api)
	s.ac.URLs.AddAll(strtrack.ExtractURLs(cmd), api)

	if score >= 5 {
		s.finding(schemas.NewDetection("malicious_activex_execution", sev,
			progID+" executed a "+strings.ToLower(level)+" risk command").
			WithSnippet(jsvalue.Truncate(cmd, snippetLength)).
			WithFeature("risk_score", score).
			WithFeature("risk_level", level).
			WithFeature("prog_id", progID))
	}
}

// --- ActiveXObject / WScript ---

func installActiveX(s *Sandbox) error {
	if err := s.setGlobal("ActiveXObject", func(call goja.ConstructorCall) *goja.Object {
		return s.activex("ActiveXObject", argString(goja.FunctionCall{Arguments: call.Arguments}, 0))
	}); err != nil {
		return err
	}
	if err := s.setGlobal("GetObject", func(call goja.FunctionCall) goja.Value {
		moniker := argString(call, 0)
		if strings.HasPrefix(strings.ToLower(moniker), "winmgmts") {
			return s.wmi(moniker)
		}
		return s.activex("GetObject", moniker)
	}); err != nil {
		return err
	}

	ws := s.hostObject("WScript")
	ws.Set("CreateObject", func(call goja.FunctionCall) goja.Value {
		return s.activex("WScript.CreateObject", argString(call, 0))
	})
	ws.Set("GetObject", s.vm.Get("GetObject"))
	ws.Set("Echo", func(call goja.FunctionCall) goja.Value {
		if s.allow("WScript.Echo") {
			s.record(dynamic.EventConsoleLog, "WScript.Echo", s.values(call.Arguments), jsvalue.Undefined(), 0, nil)
		}
		return goja.Undefined()
	})
	ws.Set("Sleep", func(call goja.FunctionCall) goja.Value {
		if s.allow("WScript.Sleep") {
			s.record(dynamic.EventEnvironmentDetection, "WScript.Sleep", s.values(call.Arguments), jsvalue.Undefined(), 2,
				jsvalue.MapOf("milliseconds", call.Argument(0).ToInteger()))
		}
		return goja.Undefined()
	})
	ws.Set("Quit", s.noop(nil))
	ws.Set("ScriptFullName", `C:\Users\user\AppData\Local\Temp\script.js`)
	ws.Set("ScriptName", "script.js")
	ws.Set("FullName", `C:\Windows\System32\wscript.exe`)
	ws.Set("Path", `C:\Windows\System32`)
	ws.Set("Version", "5.812")
	ws.Set("Arguments", s.fallback("WScript.Arguments", 1))
	if err := s.setGlobal("WScript", ws); err != nil {
		return err
	}
	return s.setGlobal("WSH", ws)
}

// activex builds the object for a ProgID. Unknown ProgIDs get a fallback so
// the script keeps running.
func (s *Sandbox) activex(api, progID string) *goja.Object {
	id := strings.ToLower(strings.TrimSpace(progID))
	if s.allow(api) {
		s.record(dynamic.EventActiveXCreate, api, []jsvalue.Value{jsvalue.String(progID)}, jsvalue.Undefined(), 6,
			jsvalue.MapOf("prog_id", progID))
		s.track(progID, api)
	}
	switch {
	case id == "wscript.shell":
		return s.wscriptShell(progID)
	case id == "shell.application":
		return s.shellApplication(progID)
	case id == "scripting.filesystemobject":
		return s.fileSystemObject()
	case id == "adodb.stream":
		return s.adodbStream()
	case id == "wscript.network":
		return s.wscriptNetwork()
	case strings.Contains(id, "xmlhttp") || strings.HasPrefix(id, "winhttp."):
		return s.activexHTTP(progID)
	case id == "microsoft.xmldom" || strings.HasPrefix(id, "msxml2.domdocument"):
		return s.xmlDocument(progID)
	}
	obj, _ := s.fallback(progID, 1).(*goja.Object)
	return obj
}

func (s *Sandbox) wscriptShell(progID string) *goja.Object {
	sh := s.hostObject("WScript.Shell")
	sh.Set("Run", func(call goja.FunctionCall) goja.Value {
		s.shellExec("ActiveXObject.Run", progID, argString(call, 0), s.values(call.Arguments))
		return s.vm.ToValue(0)
	})
	sh.Set("Exec", func(call goja.FunctionCall) goja.Value {
		s.shellExec("ActiveXObject.Exec", progID, argString(call, 0), s.values(call.Arguments))
		exec := s.hostObject("WshScriptExec")
		exec.Set("Status", 1)
		exec.Set("ExitCode", 0)
		exec.Set("ProcessID", 4242)
		for _, stream := range []string{"StdOut", "StdErr"} {
			ts := s.hostObject("TextStream")
			ts.Set("AtEndOfStream", true)
			ts.Set("ReadAll", s.noop(func() goja.Value { return s.vm.ToValue("") }))
			ts.Set("ReadLine", s.noop(func() goja.Value { return s.vm.ToValue("") }))
			exec.Set(stream, ts)
		}
		exec.Set("StdIn", s.fallback("StdIn", 1))
		exec.Set("Terminate", s.noop(nil))
		return exec
	})
	sh.Set("ExpandEnvironmentStrings", func(call goja.FunctionCall) goja.Value {
		return s.vm.ToValue(expandEnv(argString(call, 0)))
	})
	sh.Set("SpecialFolders", func(call goja.FunctionCall) goja.Value {
		return s.vm.ToValue(`C:\Users\user\AppData\Roaming\` + argString(call, 0))
	})
	sh.Set("Environment", s.noop(func() goja.Value { return s.fallback("WshEnvironment", 1) }))
	for _, m := range []struct {
		name string
		sev  int
	}{{"RegRead", 4}, {"RegWrite", 7}, {"RegDelete", 6}} {
		m := m
		api := "ActiveXObject." + m.name
		sh.Set(m.name, func(call goja.FunctionCall) goja.Value {
			key := argString(call, 0)
			if s.allow(api) {
				sev := m.sev
				meta := jsvalue.MapOf("key", key)
				if strings.Contains(strings.ToLower(key), `\currentversion\run`) {
					sev = 9
					meta.Set("persistence", jsvalue.Bool(true))
					s.finding(schemas.NewDetection("registry_persistence", 9, "Script wrote a Run key for persistence").
						WithSnippet(key).WithFeature("key", key))
				}
				s.record(dynamic.EventActiveXExecution, api, s.values(call.Arguments), jsvalue.Undefined(), sev, meta)
				s.track(argString(call, 1), api)
			}
			return s.vm.ToValue("")
		})
	}
	sh.Set("CreateShortcut", func(call goja.FunctionCall) goja.Value {
		path := argString(call, 0)
		lnk := s.hostObject("WshShortcut")
		lnk.Set("Save", func(goja.FunctionCall) goja.Value {
			target := s.optString(lnk, "TargetPath") + " " + s.optString(lnk, "Arguments")
			s.shellExec("ActiveXObject.CreateShortcut", progID, strings.TrimSpace(target),
				[]jsvalue.Value{jsvalue.String(path), jsvalue.String(target)})
			return goja.Undefined()
		})
		return lnk
	})
	sh.Set("Popup", s.noop(func() goja.Value { return s.vm.ToValue(1) }))
	sh.Set("SendKeys", s.noop(nil))
	sh.Set("AppActivate", s.noop(func() goja.Value { return s.vm.ToValue(true) }))
	return sh
}

func (s *Sandbox) shellApplication(progID string) *goja.Object {
	app := s.hostObject("Shell.Application")
	app.Set("ShellExecute", func(call goja.FunctionCall) goja.Value {
		cmd := strings.TrimSpace(argString(call, 0) + " " + argString(call, 1))
		s.shellExec("ActiveXObject.Run", progID, cmd, s.values(call.Arguments))
		return goja.Undefined()
	})
	app.Set("Namespace", s.noop(func() goja.Value { return s.fallback("Folder", 1) }))
	app.Set("Open", s.noop(nil))
	return app
}

// expandEnv resolves the environment variables droppers commonly use.
func expandEnv(in string) string {
	r := strings.NewReplacer(
		"%TEMP%", `C:\Users\user\AppData\Local\Temp`,
		"%TMP%", `C:\Users\user\AppData\Local\Temp`,
		"%APPDATA%", `C:\Users\user\AppData\Roaming`,
		"%LOCALAPPDATA%", `C:\Users\user\AppData\Local`,
		"%USERPROFILE%", `C:\Users\user`,
		"%PUBLIC%", `C:\Users\Public`,
		"%WINDIR%", `C:\Windows`,
		"%SYSTEMROOT%", `C:\Windows`,
		"%PROGRAMDATA%", `C:\ProgramData`,
		"%COMPUTERNAME%", "DESKTOP-01",
		"%USERNAME%", "user",
	)
	return r.Replace(in)
}

// --- File system ---

func (s *Sandbox) fileSystemObject() *goja.Object {
	fso := s.hostObject("Scripting.FileSystemObject")
	textStream := func(path string) *goja.Object {
		ts := s.hostObject("TextStream")
		var sb strings.Builder
		write := func(suffix string) func(goja.FunctionCall) goja.Value {
			return func(call goja.FunctionCall) goja.Value {
				sb.WriteString(argString(call, 0) + suffix)
				return goja.Undefined()
			}
		}
		ts.Set("Write", write(""))
		ts.Set("WriteLine", write("\r\n"))
		ts.Set("WriteBlankLines", s.noop(nil))
		ts.Set("ReadAll", s.noop(func() goja.Value { return s.vm.ToValue("") }))
		ts.Set("ReadLine", s.noop(func() goja.Value { return s.vm.ToValue("") }))
		ts.Set("AtEndOfStream", true)
		ts.Set("Close", func(goja.FunctionCall) goja.Value {
			s.fileDrop("ActiveXObject.CreateTextFile", path, sb.String())
			return goja.Undefined()
		})
		return ts
	}
	fso.Set("CreateTextFile", func(call goja.FunctionCall) goja.Value { return textStream(argString(call, 0)) })
	fso.Set("OpenTextFile", func(call goja.FunctionCall) goja.Value { return textStream(argString(call, 0)) })
	fso.Set("FileExists", s.noop(func() goja.Value { return s.vm.ToValue(false) }))
	fso.Set("FolderExists", s.noop(func() goja.Value { return s.vm.ToValue(true) }))
	fso.Set("GetTempName", s.noop(func() goja.Value { return s.vm.ToValue("rad1A2B3.tmp") }))
	fso.Set("BuildPath", func(call goja.FunctionCall) goja.Value {
		return s.vm.ToValue(strings.TrimRight(argString(call, 0), `\`) + `\` + argString(call, 1))
	})
	fso.Set("GetSpecialFolder", func(call goja.FunctionCall) goja.Value {
		paths := []string{`C:\Windows`, `C:\Windows\System32`, `C:\Users\user\AppData\Local\Temp`}
		i := clamp(int(call.Argument(0).ToInteger()), 0, len(paths)-1)
		folder := s.hostObject("Folder")
		folder.Set("Path", paths[i])
		folder.Set("toString", func(goja.FunctionCall) goja.Value { return s.vm.ToValue(paths[i]) })
		return folder
	})
	for _, m := range []string{"DeleteFile", "DeleteFolder", "CopyFile", "MoveFile", "CreateFolder"} {
		api := "ActiveXObject." + m
		fso.Set(m, func(call goja.FunctionCall) goja.Value {
			if s.allow(api) {
				s.record(dynamic.EventActiveXExecution, api, s.values(call.Arguments), jsvalue.Undefined(), 5,
					jsvalue.MapOf("path", argString(call, 0)))
			}
			return goja.Undefined()
		})
	}
	fso.Set("GetFile", s.noop(func() goja.Value { return s.fallback("File", 1) }))
	fso.Set("GetFolder", s.noop(func() goja.Value { return s.fallback("Folder", 1) }))
	return fso
}

// fileDrop records content written to disk through an ActiveX object.
func (s *Sandbox) fileDrop(api, path, content string) {
	if !s.allow(api) {
		return
	}
	sev := 5
	ext := core.Extension(path)
	meta := jsvalue.MapOf("path", path, "size", len(content), "extension", ext)
	if core.IsSuspiciousExtension(ext) {
		sev = 8
		meta.Set("suspicious_extension", jsvalue.Bool(true))
	}
	if strings.HasPrefix(content, "MZ") {
		sev = 9
		meta.Set("pe_header", jsvalue.Bool(true))
	}
	args := []jsvalue.Value{jsvalue.String(path), jsvalue.String(jsvalue.Truncate(content, snippetLength))}
	s.record(dynamic.EventActiveXExecution, api, args, jsvalue.Undefined(), sev, meta)
	s.track(content, api)
	if sev >= 8 {
		s.finding(schemas.NewDetection("activex_file_drop", sev, "Script wrote an executable payload to "+path).
			WithSnippet(path).
			WithFeature("path", path))
	}
}

func (s *Sandbox) adodbStream() *goja.Object {
	st := s.hostObject("ADODB.Stream")
	var buf []byte
	st.Set("Type", 1)
	st.Set("Charset", "")
	st.Set("Position", 0)
	s.accessor(st, "Size", func() goja.Value { return s.vm.ToValue(len(buf)) }, nil)
	st.Set("Open", s.noop(nil))
	st.Set("Close", s.noop(nil))
	st.Set("Flush", s.noop(nil))
	st.Set("SetEOS", func(goja.FunctionCall) goja.Value {
		buf = buf[:0]
		return goja.Undefined()
	})
	st.Set("Write", func(call goja.FunctionCall) goja.Value {
		if b, ok := bytesOf(call.Argument(0)); ok {
			buf = append(buf, b...)
		} else {
			buf = append(buf, argString(call, 0)...)
		}
		return goja.Undefined()
	})
	st.Set("WriteText", func(call goja.FunctionCall) goja.Value {
		buf = append(buf, argString(call, 0)...)
		return goja.Undefined()
	})
	st.Set("ReadText", func(goja.FunctionCall) goja.Value { return s.vm.ToValue(string(buf)) })
	st.Set("Read", func(goja.FunctionCall) goja.Value { return s.vm.ToValue(s.vm.NewArrayBuffer(buf)) })
	st.Set("SaveToFile", func(call goja.FunctionCall) goja.Value {
		s.fileDrop("ActiveXObject.SaveToFile", argString(call, 0), string(buf))
		return goja.Undefined()
	})
	st.Set("LoadFromFile", s.noop(nil))
	return st
}

func (s *Sandbox) wscriptNetwork() *goja.Object {
	n := s.hostObject("WScript.Network")
	for prop, val := range map[string]string{"UserName": "user", "ComputerName": "DESKTOP-01", "UserDomain": "WORKGROUP"} {
		prop, val := prop, val
		s.accessor(n, prop, func() goja.Value {
			if s.allow("WScript.Network." + prop) {
				s.record(dynamic.EventEnvironmentDetection, "WScript.Network."+prop, nil, jsvalue.String(val), 3, nil)
			}
			return s.vm.ToValue(val)
		}, nil)
	}
	n.Set("MapNetworkDrive", s.noop(nil))
	return n
}

// wmi answers winmgmts monikers. Queries are environment probes, usually
// for virtual machine or antivirus detection.
func (s *Sandbox) wmi(moniker string) *goja.Object {
	svc := s.hostObject("SWbemServices")
	svc.Set("ExecQuery", func(call goja.FunctionCall) goja.Value {
		query := argString(call, 0)
		if s.allow("GetObject.ExecQuery") {
			sev := 4
			lower := strings.ToLower(query)
			if strings.Contains(lower, "antivirusproduct") || strings.Contains(lower, "win32_computersystem") ||
				strings.Contains(lower, "win32_bios") {
				sev = 6
			}
			s.record(dynamic.EventEnvironmentDetection, "GetObject.ExecQuery", s.values(call.Arguments), jsvalue.Undefined(), sev,
				jsvalue.MapOf("moniker", moniker, "query", query))
		}
		res := s.vm.NewArray()
		res.Set("Count", 0)
		return res
	})
	svc.Set("Get", s.noop(func() goja.Value { return s.fallback("SWbemObject", 1) }))
	return svc
}

// --- HTTP ---

func (s *Sandbox) activexHTTP(progID string) *goja.Object {
	x := s.hostObject(progID)
	var method, target string
	x.Set("readyState", 0)
	x.Set("status", 0)
	x.Set("responseText", "")
	x.Set("responseBody", s.vm.ToValue(s.vm.NewArrayBuffer(nil)))
	x.Set("open", func(call goja.FunctionCall) goja.Value {
		method = strings.ToUpper(argString(call, 0))
		target = argString(call, 1)
		x.Set("readyState", 1)
		s.collectURL(target, progID)
		return goja.Undefined()
	})
	x.Set("setRequestHeader", s.noop(nil))
	x.Set("setOption", s.noop(nil))
	x.Set("setTimeouts", s.noop(nil))
	x.Set("send", func(call goja.FunctionCall) goja.Value {
		body := argString(call, 0)
		if s.allow("ActiveXObject.send") {
			n := s.request(dynamic.EventNetworkRequest, "ActiveXObject.send", method, target, body,
				[]jsvalue.Value{jsvalue.String(target), jsvalue.String(body)})
			if ext := core.Extension(target); core.IsSuspiciousExtension(ext) {
				s.finding(schemas.NewDetection("activex_payload_download", clamp(n.Severity+6, 7, 10),
					progID+" downloaded an executable file").
					WithSnippet(target).WithFeature("url", target))
			}
		}
		x.Set("readyState", 4)
		x.Set("status", 200)
		return goja.Undefined()
	})
	x.Set("getResponseHeader", s.noop(goja.Null))
	x.Set("getAllResponseHeaders", s.noop(func() goja.Value { return s.vm.ToValue("") }))
	x.Set("waitForResponse", s.noop(func() goja.Value { return s.vm.ToValue(true) }))
	return x
}

// --- MSXML ---

// xmlDocument mocks Microsoft.XMLDOM over an etree document. Its main use
// in droppers is decoding base64 through a bin.base64 typed node.
func (s *Sandbox) xmlDocument(progID string) *goja.Object {
	doc := etree.NewDocument()
	obj := s.hostObject(progID)
	obj.Set("async", false)
	obj.Set("loadXML", func(call goja.FunctionCall) goja.Value {
		src := argString(call, 0)
		s.track(src, progID+".loadXML")
		fresh := etree.NewDocument()
		if err := fresh.ReadFromString(src); err != nil {
			return s.vm.ToValue(false)
		}
		doc = fresh
		return s.vm.ToValue(true)
	})
	obj.Set("load", s.noop(func() goja.Value { return s.vm.ToValue(false) }))
	obj.Set("createElement", func(call goja.FunctionCall) goja.Value {
		return s.xmlElement(etree.NewElement(argString(call, 0)))
	})
	obj.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		if el := s.unwrapXML(call.Argument(0)); el != nil {
			doc.SetRoot(el)
		}
		return call.Argument(0)
	})
	s.accessor(obj, "documentElement", func() goja.Value {
		if root := doc.Root(); root != nil {
			return s.xmlElement(root)
		}
		return goja.Null()
	}, nil)
	obj.Set("selectSingleNode", func(call goja.FunctionCall) goja.Value {
		if el := findXML(&doc.Element, argString(call, 0)); el != nil {
			return s.xmlElement(el)
		}
		return goja.Null()
	})
	obj.Set("getElementsByTagName", func(call goja.FunctionCall) goja.Value {
		return s.xmlList(findAllXML(&doc.Element, "//"+argString(call, 0)))
	})
	s.accessor(obj, "xml", func() goja.Value {
		out, err := doc.WriteToString()
		if err != nil {
			return s.vm.ToValue("")
		}
		return s.vm.ToValue(out)
	}, nil)
	return obj
}

const xmlElementKey = "__go_xml_element__"

func (s *Sandbox) xmlElement(el *etree.Element) *goja.Object {
	obj := s.hostObject("IXMLDOMElement")
	_ = obj.DefineDataProperty(xmlElementKey, s.vm.ToValue(el), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
	obj.Set("nodeName", el.Tag)
	obj.Set("tagName", el.Tag)
	s.accessor(obj, "text", func() goja.Value { return s.vm.ToValue(el.Text()) }, func(v goja.Value) { el.SetText(v.String()) })
	s.accessor(obj, "dataType", func() goja.Value {
		if dt := el.SelectAttrValue("dt:dt", ""); dt != "" {
			return s.vm.ToValue(dt)
		}
		return goja.Null()
	}, func(v goja.Value) { el.CreateAttr("dt:dt", v.String()) })
	s.accessor(obj, "nodeTypedValue", func() goja.Value { return s.typedValue(el) }, func(v goja.Value) { el.SetText(v.String()) })
	s.accessor(obj, "xml", func() goja.Value {
		d := etree.NewDocument()
		d.SetRoot(el.Copy())
		out, _ := d.WriteToString()
		return s.vm.ToValue(out)
	}, nil)
	s.accessor(obj, "childNodes", func() goja.Value { return s.xmlList(el.ChildElements()) }, nil)
	obj.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		if a := el.SelectAttr(argString(call, 0)); a != nil {
			return s.vm.ToValue(a.Value)
		}
		return goja.Null()
	})
	obj.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		el.CreateAttr(argString(call, 0), argString(call, 1))
		return goja.Undefined()
	})
	obj.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		if child := s.unwrapXML(call.Argument(0)); child != nil {
			el.AddChild(child)
		}
		return call.Argument(0)
	})
	obj.Set("selectSingleNode", func(call goja.FunctionCall) goja.Value {
		if found := findXML(el, argString(call, 0)); found != nil {
			return s.xmlElement(found)
		}
		return goja.Null()
	})
	return obj
}

// typedValue decodes a node's text according to its dataType.
func (s *Sandbox) typedValue(el *etree.Element) goja.Value {
	dt := strings.ToLower(el.SelectAttrValue("dt:dt", ""))
	text := el.Text()
	var decoded []byte
	switch dt {
	case "bin.base64":
		b, err := decodeBase64(text)
		if err != nil {
			return s.vm.ToValue(s.vm.NewArrayBuffer(nil))
		}
		decoded = b
	case "bin.hex":
		for i := 0; i+1 < len(text); i += 2 {
			var v byte
			for _, c := range text[i : i+2] {
				v <<= 4
				switch {
				case c >= '0' && c <= '9':
					v |= byte(c - '0')
				case c >= 'a' && c <= 'f':
					v |= byte(c-'a') + 10
				case c >= 'A' && c <= 'F':
					v |= byte(c-'A') + 10
				}
			}
			decoded = append(decoded, v)
		}
	default:
		return s.vm.ToValue(text)
	}
	out := latin1(decoded)
	if s.allow("MSXML.nodeTypedValue") {
		sev := 4
		meta := jsvalue.MapOf("data_type", dt, "length", len(decoded))
		if strings.HasPrefix(out, "MZ") {
			sev = 7
			meta.Set("pe_header", jsvalue.Bool(true))
		}
		s.record(dynamic.EventFunctionCall, "MSXML.nodeTypedValue", []jsvalue.Value{jsvalue.String(jsvalue.Truncate(text, snippetLength))},
			jsvalue.String(jsvalue.Truncate(out, snippetLength)), sev, meta)
		s.chain("atob", []jsvalue.Value{jsvalue.String(text)}, jsvalue.String(out))
		s.track(out, "MSXML.nodeTypedValue")
	}
	return s.vm.ToValue(s.vm.NewArrayBuffer(decoded))
}

func (s *Sandbox) unwrapXML(v goja.Value) *etree.Element {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	w := obj.Get(xmlElementKey)
	if w == nil {
		return nil
	}
	el, _ := w.Export().(*etree.Element)
	return el
}

func (s *Sandbox) xmlList(els []*etree.Element) goja.Value {
	items := make([]interface{}, len(els))
	for i, el := range els {
		items[i] = s.xmlElement(el)
	}
	arr := s.vm.NewArray(items...)
	arr.Set("item", func(call goja.FunctionCall) goja.Value { return arr.Get(itoa(int(call.Argument(0).ToInteger()))) })
	return arr
}

// findXML evaluates an XPath-like selector with etree's path syntax. Invalid
// paths match nothing.
func findXML(el *etree.Element, path string) *etree.Element {
	p, err := etree.CompilePath(path)
	if err != nil {
		return nil
	}
	return el.FindElementPath(p)
}

func findAllXML(el *etree.Element, path string) []*etree.Element {
	p, err := etree.CompilePath(path)
	if err != nil {
		return nil
	}
	return el.FindElementsPath(p)
}
