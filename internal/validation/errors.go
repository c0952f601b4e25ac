// Package validation checks LaTeX sources and compiled PDFs and reports what it
// finds as quality issues.
package validation

import "fmt"

// Error represents a general validation error
type Error struct {
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("validation error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// CompilationError represents a LaTeX compilation failure. Log holds the compiler output.
type CompilationError struct {
	Message string
	Log     string
	Cause   error
}

func (e *CompilationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("LaTeX compilation error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("LaTeX compilation error: %s", e.Message)
}

func (e *CompilationError) Unwrap() error {
	return e.Cause
}

// FixRejectedError means a proposed LaTeX correction was discarded
type FixRejectedError struct {
	Reason string
}

func (e *FixRejectedError) Error() string {
	return "fix rejected: " + e.Reason
}
