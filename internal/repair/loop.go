package repair

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jonathan/docpipeline/internal/gate"
	"github.com/jonathan/docpipeline/internal/stage"
	"github.com/jonathan/docpipeline/internal/store"
	"github.com/jonathan/docpipeline/internal/types"
)

// Result is the outcome of one stage's correction loop
type Result struct {
	// Unit is the latest version committed while running the stage; nil if every attempt failed
	Unit        *types.ContentUnit
	Decision    types.GateDecision
	Attempts    int
	Corrections int
	// Failure is the worker failure of the final attempt, if it failed
	Failure *stage.WorkerFailure
}

// Controller runs the bounded retry loop of a stage
type Controller struct {
	registry  *stage.Registry
	store     store.Store
	committer *Committer
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Controller
type Option func(*Controller)

// WithTimeout bounds every worker invocation. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the clock used for timing attempts
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewController creates a controller over the registry's stages
func NewController(registry *stage.Registry, s store.Store, committer *Committer, opts ...Option) *Controller {
	c := &Controller{
		registry:  registry,
		store:     s,
		committer: committer,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Run drives st from input until its gate yields PASS, ESCALATE or FAIL.
//
// The first attempt calls the stage's worker without correction context. Every RETRY
// calls the correction stage's worker with the previous score's issues; when that is
// another stage (a redirect), the stage's own worker then re-scores the corrected version.
// A returned error is fatal for the run: an *stage.AnalysisFailure or a store/integrity error.
func (c *Controller) Run(ctx context.Context, run *types.PipelineRun, st *stage.Stage, input *types.ContentUnit) (*Result, error) {
	// the loop is only interrupted by per-call timeouts
	ctx = context.WithoutCancel(ctx)
	logger := c.logger.With("run_id", run.ID, "stage", st.Name)

	res := &Result{}
	current := input
	var correction *stage.CorrectionContext

	for {
		res.Attempts++
		attempt := res.Attempts
		res.Corrections = attempt - 1
		started := c.now()

		scored, redirected, failure, err := c.attempt(ctx, run, st, current, correction, attempt)
		if err != nil {
			return res, err
		}

		var score types.QualityScore
		entry := types.TrajectoryEntry{Stage: st.Name, Attempt: attempt}
		if failure != nil {
			score = failureScore(failure, correction)
			entry.Failure = failure.Error()
			res.Failure = failure
			logger.Warn("worker failure", "attempt", attempt, "timeout", failure.Timeout, "error", failure.Error())
			// the retry target committed before the re-scoring call failed
			if redirected != nil {
				current = redirected
				res.Unit = redirected
			}
		} else {
			score = scored.signal
			current = scored.unit
			res.Unit = scored.unit
			res.Failure = nil
			entry.VersionID = scored.unit.VersionID
		}

		decision := gate.Evaluate(score, st.Thresholds, attempt, st.MaxIterations)
		res.Decision = decision
		entry.Score = score
		entry.Decision = decision.Decision
		entry.Mark = decision.Mark

		run.AttemptsByStage[st.Name] = attempt
		run.IterationCountByStage[st.Name] = res.Corrections
		if err := c.committer.RecordAttempt(ctx, run, entry, c.now().Sub(started)); err != nil {
			return res, &Error{Stage: st.Name, Attempt: attempt, Message: "failed to record attempt", Cause: err}
		}

		logger.Info("gate decision",
			"attempt", attempt,
			"score", score.Score,
			"decision", decision.Decision,
			"mark", decision.Mark,
			"issues", len(score.Issues),
		)

		if decision.Decision != types.DecisionRetry {
			return res, nil
		}
		correction = &stage.CorrectionContext{Stage: st.Name, Attempt: attempt, Score: score}
	}
}

type scoredVersion struct {
	unit   *types.ContentUnit
	signal types.QualityScore
}

// attempt performs one attempt. On a redirect, the unit committed by the retry target
// is returned as the second value so a failed re-scoring still advances the loop's
// input. A worker failure is returned as the third value; the error is reserved for
// fatal conditions.
func (c *Controller) attempt(ctx context.Context, run *types.PipelineRun, st *stage.Stage, current *types.ContentUnit, correction *stage.CorrectionContext, attempt int) (*scoredVersion, *types.ContentUnit, *stage.WorkerFailure, error) {
	corrections := attempt - 1

	var redirected *types.ContentUnit
	if correction != nil && st.Redirects() {
		target, ok := c.registry.Lookup(st.RetryTarget)
		if !ok {
			return nil, nil, nil, &Error{Stage: st.Name, Attempt: attempt, Message: "unknown retry target " + st.RetryTarget}
		}
		fixed, failure, err := c.step(ctx, run, target.Name, target.Worker, current, correction, corrections)
		if err != nil || failure != nil {
			return nil, nil, failure, err
		}
		redirected = fixed.unit
		current = fixed.unit
		correction = nil
	}

	scored, failure, err := c.step(ctx, run, st.Name, st.Worker, current, correction, corrections)
	return scored, redirected, failure, err
}

// step invokes one worker on current and commits its output under stageName
func (c *Controller) step(ctx context.Context, run *types.PipelineRun, stageName string, worker stage.Worker, current *types.ContentUnit, correction *stage.CorrectionContext, corrections int) (*scoredVersion, *stage.WorkerFailure, error) {
	files, err := store.ReadFiles(ctx, c.store, current)
	if err != nil {
		return nil, nil, &Error{Stage: stageName, Attempt: corrections + 1, Message: "failed to load input " + current.VersionID, Cause: err}
	}

	out, err := c.invoke(ctx, stageName, worker, stage.Input{Unit: current, Files: files}, correction)
	if err != nil {
		var analysis *stage.AnalysisFailure
		if errors.As(err, &analysis) {
			if analysis.Stage == "" {
				analysis.Stage = stageName
			}
			return nil, nil, analysis
		}
		return nil, stage.AsWorkerFailure(stageName, worker.Name(), err), nil
	}
	if out == nil || len(out.Files) == 0 {
		return nil, &stage.WorkerFailure{Stage: stageName, Worker: worker.Name(), Message: "worker returned no files"}, nil
	}
	s := out.Signal.Score
	if math.IsNaN(s) || s < 0 || s > 100 {
		return nil, nil, &stage.AnalysisFailure{Stage: stageName, Message: fmt.Sprintf("score %v outside [0, 100]", s)}
	}

	unit, err := c.committer.Commit(ctx, run, current, stageName, worker.Name(), out.Files, corrections)
	if err != nil {
		return nil, nil, &Error{Stage: stageName, Attempt: corrections + 1, Message: "failed to commit output", Cause: err}
	}
	return &scoredVersion{unit: unit, signal: out.Signal}, nil, nil
}

// invoke calls the worker under the configured timeout. A worker that ignores its
// context is abandoned when the deadline passes.
func (c *Controller) invoke(ctx context.Context, stageName string, worker stage.Worker, in stage.Input, correction *stage.CorrectionContext) (*stage.Output, error) {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	type result struct {
		out *stage.Output
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := worker.Process(callCtx, in, correction)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && callCtx.Err() != nil {
			return nil, timeoutFailure(stageName, worker.Name(), c.timeout, r.err)
		}
		return r.out, r.err
	case <-callCtx.Done():
		return nil, timeoutFailure(stageName, worker.Name(), c.timeout, callCtx.Err())
	}
}

func timeoutFailure(stageName, worker string, timeout time.Duration, cause error) *stage.WorkerFailure {
	return &stage.WorkerFailure{
		Stage:   stageName,
		Worker:  worker,
		Message: fmt.Sprintf("timed out after %s", timeout),
		Timeout: true,
		Cause:   cause,
	}
}

// failureScore turns a worker failure into a zero score, keeping the issues still to be fixed
func failureScore(failure *stage.WorkerFailure, previous *stage.CorrectionContext) types.QualityScore {
	issues := []types.Issue{{
		Category: types.CategoryWorkerFailure,
		Severity: types.SeverityCritical,
		Message:  failure.Error(),
		Location: failure.Stage,
	}}
	issues = append(issues, previous.Issues()...)
	return types.QualityScore{Score: 0, Issues: issues}
}
