// Package rendering turns reviewed content into a LaTeX document without a model:
// markdown sections, CSV tables and figures rendered through an embedded template.
package rendering

import "fmt"

// TemplateError represents an error parsing or executing a LaTeX template
type TemplateError struct {
	Message string
	Cause   error
}

func (e *TemplateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("template error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("template error: %s", e.Message)
}

func (e *TemplateError) Unwrap() error {
	return e.Cause
}

// RenderError represents a failure turning content into document parts
type RenderError struct {
	Path    string
	Message string
	Cause   error
}

func (e *RenderError) Error() string {
	msg := "render error: " + e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("render error: %s: %s", e.Path, e.Message)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *RenderError) Unwrap() error {
	return e.Cause
}
