package stage

import (
	"errors"
	"fmt"
)

// WorkerFailure means a worker could not produce a valid ContentUnit, including timeouts.
// It is retried under the stage's iteration budget.
type WorkerFailure struct {
	Stage   string
	Worker  string
	Message string
	Timeout bool
	Cause   error
}

func (e *WorkerFailure) Error() string {
	msg := fmt.Sprintf("worker failure in %s (%s): %s", e.Stage, e.Worker, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *WorkerFailure) Unwrap() error {
	return e.Cause
}

// AnalysisFailure means the quality-scoring step itself broke. It is never retried.
type AnalysisFailure struct {
	Stage   string
	Message string
	Cause   error
}

func (e *AnalysisFailure) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("analysis failure in %s: %s: %v", e.Stage, e.Message, e.Cause)
	}
	return fmt.Sprintf("analysis failure in %s: %s", e.Stage, e.Message)
}

func (e *AnalysisFailure) Unwrap() error {
	return e.Cause
}

// AsWorkerFailure normalizes any worker error that is not an AnalysisFailure into a *WorkerFailure
func AsWorkerFailure(stageName, worker string, err error) *WorkerFailure {
	var wf *WorkerFailure
	if errors.As(err, &wf) {
		if wf.Stage == "" {
			wf.Stage = stageName
		}
		if wf.Worker == "" {
			wf.Worker = worker
		}
		return wf
	}
	return &WorkerFailure{Stage: stageName, Worker: worker, Message: "worker returned an error", Cause: err}
}
