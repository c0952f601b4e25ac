package pipeline

import (
	"fmt"
	"time"

	"github.com/jonathan/docpipeline/internal/repair"
	"github.com/jonathan/docpipeline/internal/types"
)

// Progress categories
const (
	CategoryIngestion = "ingestion"
	CategoryStage     = "stage"
	CategoryVersion   = "version"
	CategoryGate      = "gate"
	CategoryComplete  = "complete"
)

// ProgressEvent represents a progress update during pipeline execution
type ProgressEvent struct {
	Step     string `json:"step"`
	Category string `json:"category"`
	Message  string `json:"message"`
	RunID    string `json:"run_id,omitempty"`
	Content  any    `json:"content,omitempty"`
}

// ProgressCallback is called when pipeline progress occurs
type ProgressCallback func(event ProgressEvent)

// Observer receives commits, attempts and the final run record
type Observer interface {
	repair.Observer
	RunFinished(run *types.PipelineRun)
}

// progressObserver fans controller notifications out to the configured observer and the run's callback
type progressObserver struct {
	next     Observer
	progress ProgressCallback
}

func (p progressObserver) VersionCommitted(run *types.PipelineRun, unit *types.ContentUnit, record types.ChangeRecord) {
	if p.next != nil {
		p.next.VersionCommitted(run, unit, record)
	}
	p.emit(run.ID, unit.StageName, CategoryVersion,
		fmt.Sprintf("Committed %s (%s)", unit.VersionID, record.Summary), unit)
}

func (p progressObserver) AttemptFinished(run *types.PipelineRun, entry types.TrajectoryEntry, elapsed time.Duration) {
	if p.next != nil {
		p.next.AttemptFinished(run, entry, elapsed)
	}
	p.emit(run.ID, entry.Stage, CategoryGate,
		fmt.Sprintf("Attempt %d scored %.1f: %s", entry.Attempt, entry.Score.Score, entry.Decision), entry)
}

func (p progressObserver) RunFinished(run *types.PipelineRun) {
	if p.next != nil {
		p.next.RunFinished(run)
	}
}

func (p progressObserver) emit(runID, step, category, message string, content any) {
	if p.progress == nil {
		return
	}
	p.progress(ProgressEvent{
		Step:     step,
		Category: category,
		Message:  message,
		RunID:    runID,
		Content:  content,
	})
}
