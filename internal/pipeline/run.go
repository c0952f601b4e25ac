// Package pipeline provides the orchestration of the four-stage document pipeline.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/docpipeline/internal/repair"
	"github.com/jonathan/docpipeline/internal/stage"
	"github.com/jonathan/docpipeline/internal/store"
	"github.com/jonathan/docpipeline/internal/types"
)

// Policy holds the run-level parameters of the orchestrator
type Policy struct {
	OverallTarget     float64
	HumanHandoffScore float64
	// ContinueOnEscalate advances past an escalated stage, flagging the run as degraded
	ContinueOnEscalate bool
	WorkerTimeout      time.Duration
}

// Orchestrator sequences the stages of a run. One Orchestrator may drive many
// concurrent runs; each run's record is owned by the goroutine running it.
type Orchestrator struct {
	registry *stage.Registry
	store    store.Store
	policy   Policy
	now      func() time.Time
	logger   *slog.Logger
	out      io.Writer
	observer Observer
	newID    func() string
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock overrides the orchestrator clock
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.now = clock
		}
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithOutput sets where human-readable step lines are printed
func WithOutput(w io.Writer) Option {
	return func(o *Orchestrator) {
		if w != nil {
			o.out = w
		}
	}
}

// WithObserver registers an observer, such as the metrics collector
func WithObserver(observer Observer) Option {
	return func(o *Orchestrator) { o.observer = observer }
}

// WithIDGenerator overrides run ID generation
func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) {
		if gen != nil {
			o.newID = gen
		}
	}
}

// New creates an orchestrator over the registered stages
func New(registry *stage.Registry, s store.Store, policy Policy, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		store:    s,
		policy:   policy,
		now:      time.Now,
		logger:   slog.Default(),
		out:      io.Discard,
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Registry returns the stages the orchestrator runs
func (o *Orchestrator) Registry() *stage.Registry { return o.registry }

// Store returns the backing store
func (o *Orchestrator) Store() store.Store { return o.store }

// RunOptions holds the input of one pipeline run
type RunOptions struct {
	// RunID is optional; a UUID is generated when empty
	RunID string
	// Source describes where Files came from
	Source string
	// Files is the ingested original content, committed as v0_original
	Files      map[string][]byte
	OnProgress ProgressCallback
}

// RunPipeline runs every stage in order and always finalizes the run. The returned
// error is non-nil only when the run record could not be created; every other
// outcome is reported through the report's status and reason.
func (o *Orchestrator) RunPipeline(ctx context.Context, opts RunOptions) (*Report, error) {
	if len(opts.Files) == 0 {
		return nil, fmt.Errorf("content source %q has no files", opts.Source)
	}
	runID := opts.RunID
	if runID == "" {
		runID = o.newID()
	}
	stages := o.registry.Stages()
	total := len(stages) + 1

	run := types.NewPipelineRun(runID, opts.Source, o.registry.Names(), o.now().UTC())
	persistCtx := context.WithoutCancel(ctx)
	if err := o.store.SaveRun(persistCtx, run); err != nil {
		return nil, fmt.Errorf("failed to create run record: %w", err)
	}

	obs := progressObserver{next: o.observer, progress: opts.OnProgress}
	committer := repair.NewCommitter(o.store, o.now, obs)
	controller := o.controller(committer, run.ID)
	logger := o.logger.With("run_id", run.ID)

	_, _ = fmt.Fprintf(o.out, "Step 1/%d: Committing original content (%d files)...\n", total, len(opts.Files))
	obs.emit(run.ID, types.OriginalStage, CategoryIngestion, "Committing original content", nil)
	current, err := committer.Commit(persistCtx, run, nil, types.OriginalStage, "ingestion", opts.Files, 0)
	if err != nil {
		logger.Error("failed to commit original content", "error", err)
		run.CausedBy = &types.Cause{Stage: types.OriginalStage, Message: err.Error()}
		return o.finish(persistCtx, run, obs, types.StatusFailed, types.ReasonIntegrityError)
	}

	for i, st := range stages {
		if err := ctx.Err(); err != nil {
			logger.Warn("run cancelled", "next_stage", st.Name)
			run.CausedBy = &types.Cause{Stage: st.Name, Message: "cancelled before stage start"}
			return o.finish(persistCtx, run, obs, types.StatusFailed, types.ReasonCancelled)
		}

		run.State = types.StageState(i)
		run.CurrentStage = st.Name
		if err := o.store.SaveRun(persistCtx, run); err != nil {
			logger.Warn("failed to save run record", "error", err)
		}
		_, _ = fmt.Fprintf(o.out, "Step %d/%d: Running %s (max %d iterations)...\n", i+2, total, st.Name, st.MaxIterations)
		obs.emit(run.ID, st.Name, CategoryStage, fmt.Sprintf("Running %s", st.Name), nil)

		res, err := controller.Run(persistCtx, run, st, current)
		if err != nil {
			status, reason := types.StatusFailed, types.ReasonIntegrityError
			var analysis *stage.AnalysisFailure
			if errors.As(err, &analysis) {
				reason = types.ReasonAnalysisFailure
			}
			logger.Error("stage aborted", "stage", st.Name, "reason", reason, "error", err)
			run.CausedBy = &types.Cause{Stage: st.Name, Attempt: res.Attempts, Message: err.Error()}
			return o.finish(persistCtx, run, obs, status, reason)
		}

		switch res.Decision.Decision {
		case types.DecisionPass:
			current = res.Unit
			_, _ = fmt.Fprintf(o.out, "  %s passed (%s, score %.1f, %d correction(s))\n",
				st.Name, res.Decision.Mark, res.Decision.Score.Score, res.Corrections)

		case types.DecisionEscalate:
			cause := stageCause(st.Name, res)
			if !o.policy.ContinueOnEscalate {
				run.CausedBy = cause
				_, _ = fmt.Fprintf(o.out, "  %s escalated for human review (score %.1f)\n", st.Name, res.Decision.Score.Score)
				return o.finish(persistCtx, run, obs, types.StatusEscalated, types.ReasonEscalated)
			}
			if res.Unit == nil {
				run.CausedBy = cause
				return o.finish(persistCtx, run, obs, types.StatusFailed, types.ReasonWorkerFailure)
			}
			run.Degraded = true
			run.EscalatedStages = append(run.EscalatedStages, st.Name)
			if run.CausedBy == nil {
				run.CausedBy = cause
			}
			current = res.Unit
			_, _ = fmt.Fprintf(o.out, "  %s escalated, continuing in degraded mode (score %.1f)\n", st.Name, res.Decision.Score.Score)

		default:
			reason := types.ReasonGateFailed
			if res.Failure != nil {
				reason = types.ReasonWorkerFailure
			}
			run.CausedBy = stageCause(st.Name, res)
			_, _ = fmt.Fprintf(o.out, "  %s failed (score %.1f after %d attempt(s))\n", st.Name, res.Decision.Score.Score, res.Attempts)
			return o.finish(persistCtx, run, obs, types.StatusFailed, reason)
		}
	}

	final := lastScore(run)
	run.FinalScore = &final
	switch {
	case run.Degraded:
		return o.finish(persistCtx, run, obs, types.StatusEscalated, types.ReasonEscalated)
	case final >= o.policy.OverallTarget:
		return o.finish(persistCtx, run, obs, types.StatusSuccess, types.ReasonCompleted)
	case final >= o.policy.HumanHandoffScore:
		run.CausedBy = &types.Cause{Stage: run.CurrentStage, Message: fmt.Sprintf("final score %.1f below target %.1f", final, o.policy.OverallTarget)}
		return o.finish(persistCtx, run, obs, types.StatusEscalated, types.ReasonBelowTarget)
	default:
		run.CausedBy = &types.Cause{Stage: run.CurrentStage, Message: fmt.Sprintf("final score %.1f below hand-off score %.1f", final, o.policy.HumanHandoffScore)}
		return o.finish(persistCtx, run, obs, types.StatusFailed, types.ReasonBelowTarget)
	}
}

// StageOutcome is the result of running a single stage manually
type StageOutcome struct {
	RunID       string             `json:"run_id"`
	Stage       string             `json:"stage"`
	Input       string             `json:"input_version"`
	Output      string             `json:"output_version,omitempty"`
	Decision    types.GateDecision `json:"decision"`
	Attempts    int                `json:"attempts"`
	Corrections int                `json:"corrections"`
}

// RunStage runs one stage's correction loop against an explicit input version of an
// existing run. The run's status is left unchanged; new versions continue its sequence.
func (o *Orchestrator) RunStage(ctx context.Context, runID, stageName, inputVersion string, progress ProgressCallback) (*StageOutcome, error) {
	st, ok := o.registry.Lookup(stageName)
	if !ok {
		return nil, fmt.Errorf("unknown stage: %s", stageName)
	}
	input, err := o.store.Get(ctx, runID, inputVersion)
	if err != nil {
		return nil, err
	}

	run, err := o.store.LoadRun(ctx, runID)
	var nf *store.NotFoundError
	if errors.As(err, &nf) {
		run, err = Rebuild(ctx, o.store, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	ensureMaps(run)

	obs := progressObserver{next: o.observer, progress: progress}
	committer := repair.NewCommitter(o.store, o.now, obs)
	run.CurrentStage = st.Name

	_, _ = fmt.Fprintf(o.out, "Running %s on %s...\n", st.Name, inputVersion)
	res, err := o.controller(committer, run.ID).Run(ctx, run, st, input)
	if saveErr := o.store.SaveRun(context.WithoutCancel(ctx), run); saveErr != nil && err == nil {
		err = saveErr
	}
	if err != nil {
		return nil, fmt.Errorf("stage %s failed: %w", st.Name, err)
	}

	outcome := &StageOutcome{
		RunID:       run.ID,
		Stage:       st.Name,
		Input:       inputVersion,
		Decision:    res.Decision,
		Attempts:    res.Attempts,
		Corrections: res.Corrections,
	}
	if res.Unit != nil {
		outcome.Output = res.Unit.VersionID
	}
	return outcome, nil
}

func (o *Orchestrator) controller(committer *repair.Committer, runID string) *repair.Controller {
	return repair.NewController(o.registry, o.store, committer,
		repair.WithTimeout(o.policy.WorkerTimeout),
		repair.WithClock(o.now),
		repair.WithLogger(o.logger.With("run_id", runID)),
	)
}

// finish finalizes the run, persists it and projects the report
func (o *Orchestrator) finish(ctx context.Context, run *types.PipelineRun, obs progressObserver, status types.RunStatus, reason string) (*Report, error) {
	if err := run.Finalize(status, reason, o.now().UTC()); err != nil {
		o.logger.Error("failed to finalize run", "run_id", run.ID, "error", err)
	}
	if err := o.store.SaveRun(ctx, run); err != nil {
		o.logger.Error("failed to save final run record", "run_id", run.ID, "error", err)
	}
	obs.RunFinished(run)

	records, err := o.store.Changes(ctx, run.ID)
	if err != nil {
		o.logger.Warn("failed to load change records for report", "run_id", run.ID, "error", err)
	}
	report := BuildReport(run, records)

	_, _ = fmt.Fprintf(o.out, "Run %s finished: %s (%s)\n", run.ID, run.Status, run.Reason)
	obs.emit(run.ID, string(run.Status), CategoryComplete, fmt.Sprintf("Run finished: %s (%s)", run.Status, run.Reason), report)
	o.logger.Info("run finished", "run_id", run.ID, "status", run.Status, "reason", run.Reason, "versions", len(run.VersionHistory))
	return report, nil
}

func stageCause(stageName string, res *repair.Result) *types.Cause {
	cause := &types.Cause{Stage: stageName, Attempt: res.Attempts}
	if res.Unit != nil {
		cause.VersionID = res.Unit.VersionID
	}
	if res.Failure != nil {
		cause.Message = res.Failure.Error()
	} else {
		cause.Message = fmt.Sprintf("score %.1f against threshold %.1f", res.Decision.Score.Score, res.Decision.Threshold)
	}
	return cause
}

// lastScore returns the score of the last trajectory entry
func lastScore(run *types.PipelineRun) float64 {
	if len(run.QualityTrajectory) == 0 {
		return 0
	}
	return run.QualityTrajectory[len(run.QualityTrajectory)-1].Score.Score
}

func ensureMaps(run *types.PipelineRun) {
	if run.IterationCountByStage == nil {
		run.IterationCountByStage = make(map[string]int)
	}
	if run.AttemptsByStage == nil {
		run.AttemptsByStage = make(map[string]int)
	}
}
