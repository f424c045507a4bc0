// internal/results/providers/cwe_providers.go
package providers

import (
	"fmt"
	"strings"
)

// CWEEntry holds details about a specific CWE.
type CWEEntry struct {
	ID          string
	Name        string
	Description string
}

// CWEProvider defines the interface for retrieving CWE information.
type CWEProvider interface {
	GetCWE(id string) (*CWEEntry, error)
	// ForCode maps a detection category code to a CWE ID.
	ForCode(code string) (string, bool)
}

// InMemoryCWEProvider provides a basic in-memory implementation of CWEProvider.
type InMemoryCWEProvider struct {
	data  map[string]CWEEntry
	codes map[string]string
}

// NewInMemoryCWEProvider creates a new InMemoryCWEProvider with preloaded
// data covering the weaknesses sandboxed scripts exhibit.
func NewInMemoryCWEProvider() *InMemoryCWEProvider {
	data := map[string]CWEEntry{
		"CWE-78":  {ID: "CWE-78", Name: "Improper Neutralization of Special Elements used in an OS Command ('OS Command Injection')", Description: "The product constructs all or part of an OS command using externally-influenced input."},
		"CWE-79":  {ID: "CWE-79", Name: "Improper Neutralization of Input During Web Page Generation ('Cross-site Scripting')", Description: "The product does not neutralize or incorrectly neutralizes user-controllable input before it is placed in output that is used as a web page."},
		"CWE-95":  {ID: "CWE-95", Name: "Improper Neutralization of Directives in Dynamically Evaluated Code ('Eval Injection')", Description: "The product receives input from an upstream component, but it does not neutralize code syntax before using the input in a dynamic evaluation call."},
		"CWE-200": {ID: "CWE-200", Name: "Exposure of Sensitive Information to an Unauthorized Actor", Description: "The product exposes sensitive information to an actor that is not explicitly authorized to have access to that information."},
		"CWE-400": {ID: "CWE-400", Name: "Uncontrolled Resource Consumption", Description: "The product does not properly control the allocation and maintenance of a limited resource."},
		"CWE-494": {ID: "CWE-494", Name: "Download of Code Without Integrity Check", Description: "The product downloads source code or an executable from a remote location and executes the code without sufficiently verifying its origin and integrity."},
		"CWE-506": {ID: "CWE-506", Name: "Embedded Malicious Code", Description: "The product contains code that appears to be malicious in nature."},
		"CWE-601": {ID: "CWE-601", Name: "URL Redirection to Untrusted Site ('Open Redirect')", Description: "The web application redirects the user to an untrusted site."},
		"CWE-829": {ID: "CWE-829", Name: "Inclusion of Functionality from Untrusted Control Sphere", Description: "The product imports, requires, or includes executable functionality from a source that is outside of the intended control sphere."},
		"CWE-922": {ID: "CWE-922", Name: "Insecure Storage of Sensitive Information", Description: "The product stores sensitive information without properly limiting read or write access by unauthorized actors."},
		"CWE-1021": {ID: "CWE-1021", Name: "Improper Restriction of Rendered UI Layers or Frames", Description: "The product renders a UI in a frame or layer that can be made transparent or opaque, allowing an attacker to overlay a deceptive UI."},
	}
	codes := map[string]string{
		"eval_call_detected":           "CWE-95",
		"function_constructor":         "CWE-95",
		"string_timer_execution":       "CWE-95",
		"dynamic_script_injection":     "CWE-829",
		"script_injection":             "CWE-829",
		"static_script_injection":      "CWE-829",
		"obfuscated_html_injection":    "CWE-79",
		"dangerous_html_in_string":     "CWE-79",
		"hidden_iframe_injection":      "CWE-1021",
		"malicious_redirect":           "CWE-601",
		"sensitive_data_exfiltration":  "CWE-200",
		"sensitive_data_storage":       "CWE-922",
		"jwt_in_client_storage":        "CWE-922",
		"malicious_command":            "CWE-78",
		"static_malicious_command":     "CWE-78",
		"malicious_activex_execution":  "CWE-78",
		"activex_payload_download":     "CWE-494",
		"activex_file_drop":            "CWE-494",
		"forced_download":              "CWE-494",
		"static_remote_malicious_file": "CWE-494",
		"registry_persistence":         "CWE-506",
		"clipboard_hijack":             "CWE-506",
		"static_clipboard_hijack":      "CWE-506",
		"blob_payload_smuggling":       "CWE-506",
		"wasm_cryptominer":             "CWE-506",
		"dos_limit_exceeded":           "CWE-400",
	}
	return &InMemoryCWEProvider{data: data, codes: codes}
}

// GetCWE retrieves CWE details by ID.
func (p *InMemoryCWEProvider) GetCWE(id string) (*CWEEntry, error) {
	entry, exists := p.data[id]
	if !exists {
		// Return a generic entry instead of an error if not found, to avoid failing the enrichment process.
		return &CWEEntry{ID: id, Name: fmt.Sprintf("%s (Details Not Found)", id), Description: "Details for this CWE ID are not available in the local database."}, nil
	}
	return &entry, nil
}

// ForCode maps a detection code to its CWE. Codes are compared case
// insensitively.
func (p *InMemoryCWEProvider) ForCode(code string) (string, bool) {
	id, ok := p.codes[strings.ToLower(code)]
	return id, ok
}
