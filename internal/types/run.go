//nolint:revive // types is a standard Go package name pattern
package types

import (
	"fmt"
	"time"
)

// RunStatus is the lifecycle status of a pipeline run
type RunStatus string

const (
	StatusRunning   RunStatus = "RUNNING"
	StatusSuccess   RunStatus = "SUCCESS"
	StatusEscalated RunStatus = "ESCALATED"
	StatusFailed    RunStatus = "FAILED"
)

// IsTerminal reports whether the status is final
func (s RunStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusEscalated || s == StatusFailed
}

// Reason codes attached to a finalized run
const (
	ReasonCompleted       = "completed"
	ReasonBelowTarget     = "below_target"
	ReasonEscalated       = "escalated"
	ReasonGateFailed      = "gate_failed"
	ReasonAnalysisFailure = "analysis_failure"
	ReasonWorkerFailure   = "worker_failure"
	ReasonCancelled       = "cancelled"
	ReasonIntegrityError  = "integrity_error"
)

// Orchestrator states outside the per-stage states
const (
	StateInit = "INIT"
)

// StageState returns the state name for the stage at zero-based index i
func StageState(i int) string {
	return fmt.Sprintf("STAGE%d", i+1)
}

// TrajectoryEntry is one QualityScore snapshot in the quality trajectory log
type TrajectoryEntry struct {
	RunID      string       `json:"run_id"`
	Stage      string       `json:"stage"`
	Attempt    int          `json:"attempt"`
	VersionID  string       `json:"version_id,omitempty"`
	Score      QualityScore `json:"score"`
	Decision   Decision     `json:"decision"`
	Mark       Mark         `json:"mark,omitempty"`
	Failure    string       `json:"failure,omitempty"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// Cause points at the stage and iteration that decided a run's outcome
type Cause struct {
	Stage     string `json:"stage"`
	Attempt   int    `json:"attempt"`
	VersionID string `json:"version_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// PipelineRun is the mutable top-level record of one run
type PipelineRun struct {
	ID                    string            `json:"id"`
	Source                string            `json:"source"`
	State                 string            `json:"state"`
	CurrentStage          string            `json:"current_stage"`
	Stages                []string          `json:"stages"`
	IterationCountByStage map[string]int    `json:"iteration_count_by_stage"`
	AttemptsByStage       map[string]int    `json:"attempts_by_stage"`
	VersionHistory        []string          `json:"version_history"`
	Status                RunStatus         `json:"status"`
	Reason                string            `json:"reason,omitempty"`
	Degraded              bool              `json:"degraded"`
	EscalatedStages       []string          `json:"escalated_stages,omitempty"`
	FinalScore            *float64          `json:"final_score,omitempty"`
	CausedBy              *Cause            `json:"caused_by,omitempty"`
	QualityTrajectory     []TrajectoryEntry `json:"quality_trajectory"`
	NextSequence          int               `json:"next_sequence"`
	StartedAt             time.Time         `json:"started_at"`
	CompletedAt           *time.Time        `json:"completed_at,omitempty"`
}

// NewPipelineRun creates a RUNNING run in the INIT state
func NewPipelineRun(id, source string, stages []string, now time.Time) *PipelineRun {
	return &PipelineRun{
		ID:                    id,
		Source:                source,
		State:                 StateInit,
		Stages:                append([]string(nil), stages...),
		IterationCountByStage: make(map[string]int),
		AttemptsByStage:       make(map[string]int),
		Status:                StatusRunning,
		StartedAt:             now,
	}
}

// LatestVersion returns the most recently committed version tag
func (r *PipelineRun) LatestVersion() string {
	if len(r.VersionHistory) == 0 {
		return ""
	}
	return r.VersionHistory[len(r.VersionHistory)-1]
}

// Finalize moves the run to a terminal status. A run leaves RUNNING exactly once.
func (r *PipelineRun) Finalize(status RunStatus, reason string, now time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("cannot finalize run %s with non-terminal status %s", r.ID, status)
	}
	if r.Status != StatusRunning {
		return fmt.Errorf("run %s already finalized as %s", r.ID, r.Status)
	}
	r.Status = status
	r.Reason = reason
	r.State = string(status)
	r.CompletedAt = &now
	return nil
}
