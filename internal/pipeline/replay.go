package pipeline

import (
	"context"
	"fmt"

	"github.com/google/go-cmp/cmp"

	"github.com/jonathan/docpipeline/internal/changes"
	"github.com/jonathan/docpipeline/internal/store"
	"github.com/jonathan/docpipeline/internal/types"
)

// Rebuild reconstructs a run record from the manifest and the trajectory log alone.
//
// The escalation policy and the run-level targets are not part of the durable logs,
// so the outcome is derived from the stage runs the trajectory shows:
//   - a trailing FAIL finalizes the run FAILED, as worker_failure when the last
//     attempt was a worker failure and gate_failed otherwise
//   - an ESCALATE followed by another stage proves the run continued past
//     escalations; the run is flagged degraded
//   - a trailing ESCALATE finalizes the run ESCALATED unless the run is known to
//     continue past escalations, in which case it is left RUNNING (or FAILED with
//     worker_failure when the stage committed nothing to continue from)
//   - anything else is left RUNNING
func Rebuild(ctx context.Context, s store.Store, runID string) (*types.PipelineRun, error) {
	manifest, err := s.Manifest(ctx, runID)
	if err != nil {
		return nil, err
	}
	trajectory, err := s.Trajectory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(manifest) == 0 {
		return nil, &store.NotFoundError{RunID: runID, Key: runID, Kind: "manifest"}
	}

	run := types.NewPipelineRun(runID, "", nil, manifest[0].CreatedAt)
	for _, unit := range manifest {
		run.VersionHistory = append(run.VersionHistory, unit.VersionID)
		run.NextSequence = unit.Sequence + 1
	}

	seen := make(map[string]bool)
	for _, e := range trajectory {
		if !seen[e.Stage] {
			seen[e.Stage] = true
			run.Stages = append(run.Stages, e.Stage)
		}
		if e.Attempt > run.AttemptsByStage[e.Stage] {
			run.AttemptsByStage[e.Stage] = e.Attempt
			run.IterationCountByStage[e.Stage] = e.Attempt - 1
		}
		run.CurrentStage = e.Stage
	}
	run.QualityTrajectory = trajectory

	spans := stageSpans(trajectory)
	if len(spans) == 0 {
		return run, nil
	}
	for _, sp := range spans[:len(spans)-1] {
		if sp.last().Decision == types.DecisionEscalate {
			flagEscalated(run, sp.last())
		}
	}

	tail := spans[len(spans)-1]
	last := tail.last()
	switch last.Decision {
	case types.DecisionFail:
		reason := types.ReasonGateFailed
		if last.Failure != "" {
			reason = types.ReasonWorkerFailure
		}
		run.CausedBy = entryCause(last)
		_ = run.Finalize(types.StatusFailed, reason, last.RecordedAt)
	case types.DecisionEscalate:
		switch {
		case !run.Degraded:
			run.CausedBy = entryCause(last)
			_ = run.Finalize(types.StatusEscalated, types.ReasonEscalated, last.RecordedAt)
		case !tail.committed():
			run.CausedBy = entryCause(last)
			_ = run.Finalize(types.StatusFailed, types.ReasonWorkerFailure, last.RecordedAt)
		default:
			flagEscalated(run, last)
		}
	}
	return run, nil
}

// stageSpan is one controller run of a stage: consecutive entries of the same stage
// with increasing attempts
type stageSpan []types.TrajectoryEntry

func (sp stageSpan) last() types.TrajectoryEntry { return sp[len(sp)-1] }

// committed reports whether any attempt of the span produced a version
func (sp stageSpan) committed() bool {
	for _, e := range sp {
		if e.VersionID != "" {
			return true
		}
	}
	return false
}

func stageSpans(trajectory []types.TrajectoryEntry) []stageSpan {
	var spans []stageSpan
	for _, e := range trajectory {
		if n := len(spans); n > 0 {
			prev := spans[n-1].last()
			if prev.Stage == e.Stage && e.Attempt > prev.Attempt {
				spans[n-1] = append(spans[n-1], e)
				continue
			}
		}
		spans = append(spans, stageSpan{e})
	}
	return spans
}

func flagEscalated(run *types.PipelineRun, e types.TrajectoryEntry) {
	run.Degraded = true
	run.EscalatedStages = append(run.EscalatedStages, e.Stage)
	if run.CausedBy == nil {
		run.CausedBy = entryCause(e)
	}
}

func entryCause(e types.TrajectoryEntry) *types.Cause {
	return &types.Cause{Stage: e.Stage, Attempt: e.Attempt, VersionID: e.VersionID}
}

// VerifyLineage replays the change log and checks that every committed version's
// file set is reproduced exactly from the first version plus the intermediate records.
func VerifyLineage(ctx context.Context, s store.Store, runID string) error {
	manifest, err := s.Manifest(ctx, runID)
	if err != nil {
		return err
	}
	records, err := s.Changes(ctx, runID)
	if err != nil {
		return err
	}

	for i := range manifest {
		unit := &manifest[i]
		chain, err := changes.Chain(records, unit.VersionID)
		if err != nil {
			return fmt.Errorf("version %s: %w", unit.VersionID, err)
		}
		files, err := changes.Reconstruct(chain)
		if err != nil {
			return fmt.Errorf("version %s: %w", unit.VersionID, err)
		}
		if diff := cmp.Diff(unit.FileSet(), files); diff != "" {
			return fmt.Errorf("version %s does not match its change history (-manifest +replayed):\n%s", unit.VersionID, diff)
		}
	}
	return nil
}
