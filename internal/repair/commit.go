package repair

import (
	"context"
	"fmt"
	"time"

	"github.com/jonathan/docpipeline/internal/changes"
	"github.com/jonathan/docpipeline/internal/store"
	"github.com/jonathan/docpipeline/internal/types"
)

// Observer is notified of commits and finished attempts. Implementations must be safe
// for use by concurrent runs.
type Observer interface {
	VersionCommitted(run *types.PipelineRun, unit *types.ContentUnit, record types.ChangeRecord)
	AttemptFinished(run *types.PipelineRun, entry types.TrajectoryEntry, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) VersionCommitted(*types.PipelineRun, *types.ContentUnit, types.ChangeRecord) {}
func (nopObserver) AttemptFinished(*types.PipelineRun, types.TrajectoryEntry, time.Duration)    {}

// Committer writes new versions of a run: blobs, the unit, the change record and the run's history
type Committer struct {
	store    store.Store
	tracker  *changes.Tracker
	now      func() time.Time
	observer Observer
}

// NewCommitter creates a committer over s. observer may be nil.
func NewCommitter(s store.Store, now func() time.Time, observer Observer) *Committer {
	if now == nil {
		now = time.Now
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Committer{store: s, tracker: changes.NewTracker(s), now: now, observer: observer}
}

// Commit stores files as the run's next version. parent is nil only for the first version.
// correction is the correction iteration the version belongs to (0 for a first attempt).
func (c *Committer) Commit(ctx context.Context, run *types.PipelineRun, parent *types.ContentUnit, stageName, producedBy string, files map[string][]byte, correction int) (*types.ContentUnit, error) {
	refs, err := store.PutFiles(ctx, c.store, files)
	if err != nil {
		return nil, err
	}

	unit := &types.ContentUnit{
		RunID:      run.ID,
		VersionID:  types.VersionTag(run.NextSequence, stageName, correction),
		Sequence:   run.NextSequence,
		StageName:  stageName,
		Payloads:   refs,
		CreatedAt:  c.now().UTC(),
		ProducedBy: producedBy,
	}
	if parent != nil {
		unit.Parent = parent.VersionID
	}
	if _, err := c.store.Commit(ctx, unit); err != nil {
		return nil, fmt.Errorf("failed to commit %s: %w", unit.VersionID, err)
	}
	run.NextSequence++
	run.VersionHistory = append(run.VersionHistory, unit.VersionID)

	record, err := c.tracker.Record(ctx, parent, unit)
	if err != nil {
		return nil, err
	}
	c.observer.VersionCommitted(run, unit, record)
	return unit, nil
}

// RecordAttempt appends a trajectory entry to the run and the durable log, then saves the run record
func (c *Committer) RecordAttempt(ctx context.Context, run *types.PipelineRun, entry types.TrajectoryEntry, elapsed time.Duration) error {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = c.now().UTC()
	}
	entry.RunID = run.ID
	run.QualityTrajectory = append(run.QualityTrajectory, entry)
	if err := c.store.AppendTrajectory(ctx, entry); err != nil {
		return fmt.Errorf("failed to append trajectory: %w", err)
	}
	c.observer.AttemptFinished(run, entry, elapsed)
	if err := c.store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("failed to save run record: %w", err)
	}
	return nil
}
