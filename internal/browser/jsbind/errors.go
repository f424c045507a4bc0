// internal/browser/jsbind/errors.go
package jsbind

import "fmt"

// Typed errors for the hostcall layer so the governor can classify install
// and selector failures with errors.As instead of string matching.

// InstallError reports a module that failed to install into the runtime.
type InstallError struct {
	Module string
	Err    error
}

// Error implements the error interface.
func (e *InstallError) Error() string {
	return fmt.Sprintf("install module %s: %v", e.Module, e.Err)
}

// Unwrap provides the underlying error for use with errors.Is/As.
func (e *InstallError) Unwrap() error {
	return e.Err
}

// SelectorError is returned when a CSS selector cannot be translated or
// evaluated against the mock DOM.
type SelectorError struct {
	Selector string
	Err      error
}

// Error implements the error interface.
func (e *SelectorError) Error() string {
	return fmt.Sprintf("invalid selector '%s': %v", e.Selector, e.Err)
}

// Unwrap provides the underlying error for use with errors.Is/As.
func (e *SelectorError) Unwrap() error {
	return e.Err
}

// NewSelectorError creates a new SelectorError.
func NewSelectorError(selector string, err error) *SelectorError {
	return &SelectorError{Selector: selector, Err: err}
}
