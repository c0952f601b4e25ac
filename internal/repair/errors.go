// Package repair drives the bounded self-correction loop of a single stage.
package repair

import "fmt"

// Error represents a fatal controller error, usually an artifact store integrity problem
type Error struct {
	Stage   string
	Attempt int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("repair error: %s attempt %d: %s: %v", e.Stage, e.Attempt, e.Message, e.Cause)
	}
	return fmt.Sprintf("repair error: %s attempt %d: %s", e.Stage, e.Attempt, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}
