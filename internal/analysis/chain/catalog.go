package chain

// Role classifies a hostcall for chain building.
type Role int

const (
	RoleNone Role = iota
	RoleSource
	RoleTransform
	RoleSink
)

// Type is the classification of an attack chain.
type Type string

const (
	TypeDangerousExecution     Type = "DangerousExecution"
	TypeObfuscationAndDecoding Type = "ObfuscationAndDecoding"
	TypeUnknown                Type = "Unknown"
)

// sourceLevels lists the functions that introduce taint and the level they
// introduce it at.
var sourceLevels = map[string]int{
	"atob":                         3,
	"String.fromCharCode":          2,
	"document.cookie.read":         4,
	"localStorage.getItem":         3,
	"sessionStorage.getItem":       3,
	"indexedDB.get":                3,
	"location.hash":                2,
	"location.search":              2,
	"window.name":                  2,
	"document.referrer":            1,
	"navigator.clipboard.readText": 4,
	"TextDecoder.decode":           2,
	"FileReader.result":            2,
	"XMLHttpRequest.responseText":  3,
	"fetch.response":               3,
}

var transforms = map[string]bool{
	"btoa":                  true,
	"unescape":              true,
	"escape":                true,
	"decodeURIComponent":    true,
	"encodeURIComponent":    true,
	"decodeURI":             true,
	"encodeURI":             true,
	"Array.join":            true,
	"String.concat":         true,
	"String.replace":        true,
	"JSON.parse":            true,
	"JSON.stringify":        true,
	"TextEncoder.encode":    true,
	"crypto.subtle.decrypt": true,
}

var sinks = map[string]bool{
	"eval":                          true,
	"Function":                      true,
	"setTimeout":                    true,
	"setInterval":                   true,
	"document.write":                true,
	"document.writeln":              true,
	"element.innerHTML":             true,
	"element.outerHTML":             true,
	"element.insertAdjacentHTML":    true,
	"element.setAttribute":          true,
	"fetch":                         true,
	"XMLHttpRequest.send":           true,
	"XMLHttpRequest.open":           true,
	"WebSocket.send":                true,
	"navigator.sendBeacon":          true,
	"location.assign":               true,
	"location.href":                 true,
	"window.open":                   true,
	"Worker":                        true,
	"Blob":                          true,
	"ActiveXObject.Run":             true,
	"ActiveXObject.Exec":            true,
	"WebAssembly.instantiate":       true,
	"navigator.clipboard.writeText": true,
}

// dangerousFunctions and decodingFunctions drive chain classification.
var dangerousFunctions = map[string]bool{
	"eval":        true,
	"Function":    true,
	"setTimeout":  true,
	"setInterval": true,
}

var decodingFunctions = map[string]bool{
	"atob":               true,
	"btoa":               true,
	"unescape":           true,
	"decodeURIComponent": true,
}

// Classify returns the role a hostcall plays in a chain.
func Classify(functionName string) Role {
	if _, ok := sourceLevels[functionName]; ok {
		return RoleSource
	}
	if transforms[functionName] {
		return RoleTransform
	}
	if sinks[functionName] {
		return RoleSink
	}
	return RoleNone
}

// SourceLevel returns the taint level a source function introduces.
func SourceLevel(functionName string) int {
	if lvl, ok := sourceLevels[functionName]; ok {
		return lvl
	}
	return 1
}

// IsDangerous reports whether a function is a code execution sink.
func IsDangerous(functionName string) bool { return dangerousFunctions[functionName] }

func classifySteps(steps []Step) Type {
	decoding := false
	for _, s := range steps {
		if dangerousFunctions[s.FunctionName] {
			return TypeDangerousExecution
		}
		if decodingFunctions[s.FunctionName] {
			decoding = true
		}
	}
	if decoding {
		return TypeObfuscationAndDecoding
	}
	return TypeUnknown
}
