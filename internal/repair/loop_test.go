package repair

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonathan/docpipeline/internal/stage"
	"github.com/jonathan/docpipeline/internal/store"
	"github.com/jonathan/docpipeline/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultThresholds = types.Thresholds{Minimum: 80, Good: 85, Excellent: 90, EscalationFloor: 75}

// scripted returns the scores in order and records the correction contexts it received
type scripted struct {
	name   string
	mu     sync.Mutex
	scores []types.QualityScore
	calls  int
	seen   []*stage.CorrectionContext
	delay  time.Duration
	errs   map[int]error
}

func (w *scripted) Name() string { return w.name }

func (w *scripted) Process(_ context.Context, in stage.Input, correction *stage.CorrectionContext) (*stage.Output, error) {
	w.mu.Lock()
	w.calls++
	call := w.calls
	w.seen = append(w.seen, correction)
	delay := w.delay
	w.mu.Unlock()

	if delay > 0 && call == 1 {
		time.Sleep(delay)
	}
	if err := w.errs[call]; err != nil {
		return nil, err
	}
	score := types.QualityScore{Score: 85}
	if len(w.scores) > 0 {
		score = w.scores[(call-1)%len(w.scores)]
	}
	files := make(map[string][]byte, len(in.Files)+1)
	for p, data := range in.Files {
		files[p] = data
	}
	files[w.name+".out"] = []byte(fmt.Sprintf("%s call %d", w.name, call))
	return &stage.Output{Files: files, Signal: score}, nil
}

func scores(values ...float64) []types.QualityScore {
	out := make([]types.QualityScore, len(values))
	for i, v := range values {
		out[i] = types.QualityScore{Score: v}
	}
	return out
}

type fixture struct {
	store      *store.MemoryStore
	committer  *Committer
	run        *types.PipelineRun
	controller *Controller
	input      *types.ContentUnit
}

func newFixture(t *testing.T, timeout time.Duration, stages ...stage.Stage) *fixture {
	t.Helper()
	registry, err := stage.NewRegistry(stages...)
	require.NoError(t, err)

	ms := store.NewMemoryStore()
	committer := NewCommitter(ms, nil, nil)
	run := types.NewPipelineRun("run-test", "inline", registry.Names(), time.Now())
	input, err := committer.Commit(context.Background(), run, nil, types.OriginalStage, "ingestion",
		map[string][]byte{"sections/introduction.md": []byte("# Introduction\n")}, 0)
	require.NoError(t, err)

	return &fixture{
		store:      ms,
		committer:  committer,
		run:        run,
		controller: NewController(registry, ms, committer, WithTimeout(timeout)),
		input:      input,
	}
}

func TestController_ExcellentFirstAttempt(t *testing.T) {
	w := &scripted{name: "review", scores: scores(92)}
	f := newFixture(t, 0, stage.Stage{Name: "content_review", Worker: w, Thresholds: defaultThresholds, MaxIterations: 3})
	st, _ := f.controller.registry.Lookup("content_review")

	res, err := f.controller.Run(context.Background(), f.run, st, f.input)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionPass, res.Decision.Decision)
	assert.Equal(t, types.MarkExcellent, res.Decision.Mark)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 0, res.Corrections)
	assert.Equal(t, 0, f.run.IterationCountByStage["content_review"])
	assert.Equal(t, []string{"v0_original", "v1_content_review"}, f.run.VersionHistory)
	assert.Nil(t, w.seen[0], "first attempt has no correction context")
}

func TestController_FailsAfterBudgetBelowFloor(t *testing.T) {
	w := &scripted{name: "review", scores: scores(70, 72, 71)}
	f := newFixture(t, 0, stage.Stage{Name: "content_review", Worker: w, Thresholds: defaultThresholds, MaxIterations: 3})
	st, _ := f.controller.registry.Lookup("content_review")

	res, err := f.controller.Run(context.Background(), f.run, st, f.input)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionFail, res.Decision.Decision)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, w.calls)
	assert.Equal(t, 3, f.run.AttemptsByStage["content_review"])
	assert.LessOrEqual(t, f.run.IterationCountByStage["content_review"], 3)

	require.Len(t, f.run.QualityTrajectory, 3)
	for _, e := range f.run.QualityTrajectory {
		assert.Less(t, e.Score.Score, defaultThresholds.EscalationFloor)
	}
	assert.Equal(t, []string{
		"v0_original",
		"v1_content_review",
		"v2_content_review_iteration_1",
		"v3_content_review_iteration_2",
	}, f.run.VersionHistory)

	// the second and third attempts receive the previous issues
	require.NotNil(t, w.seen[1])
	assert.Equal(t, 1, w.seen[1].Attempt)
	assert.Equal(t, 70.0, w.seen[1].Score.Score)
	assert.Equal(t, 72.0, w.seen[2].Score.Score)
}

func TestController_EscalatesAboveFloor(t *testing.T) {
	w := &scripted{name: "review", scores: scores(70, 78)}
	f := newFixture(t, 0, stage.Stage{Name: "content_review", Worker: w, Thresholds: defaultThresholds, MaxIterations: 2})
	st, _ := f.controller.registry.Lookup("content_review")

	res, err := f.controller.Run(context.Background(), f.run, st, f.input)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionEscalate, res.Decision.Decision)
	require.NotNil(t, res.Unit)
	assert.Equal(t, "v2_content_review_iteration_1", res.Unit.VersionID)
}

func TestController_RedirectsRetryToTargetStage(t *testing.T) {
	unrendered := types.Issue{
		Category: types.CategoryUnrenderedMarkup,
		Severity: types.SeverityHigh,
		Message:  "unrendered LaTeX command on page 3",
		Location: "page 3",
	}
	gen := &scripted{name: "latex", scores: scores(88)}
	visual := &scripted{name: "visual", scores: []types.QualityScore{
		{Score: 60, Issues: []types.Issue{unrendered}},
		{Score: 91},
	}}
	f := newFixture(t, 0,
		stage.Stage{Name: "latex_generation", Worker: gen, Thresholds: defaultThresholds, MaxIterations: 3},
		stage.Stage{Name: "visual_qa", Worker: visual, Thresholds: defaultThresholds, MaxIterations: 3, RetryTarget: "latex_generation"},
	)
	st, _ := f.controller.registry.Lookup("visual_qa")

	res, err := f.controller.Run(context.Background(), f.run, st, f.input)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionPass, res.Decision.Decision)
	assert.Equal(t, 1, res.Corrections)
	assert.Equal(t, 1, f.run.IterationCountByStage["visual_qa"])

	// the generation worker handled the correction, the visual worker only re-scored
	require.Equal(t, 1, gen.calls)
	require.NotNil(t, gen.seen[0])
	assert.Equal(t, "visual_qa", gen.seen[0].Stage)
	assert.Equal(t, unrendered, gen.seen[0].Issues()[0])
	require.Equal(t, 2, visual.calls)
	assert.Nil(t, visual.seen[1])

	assert.Equal(t, []string{
		"v0_original",
		"v1_visual_qa",
		"v2_latex_generation_iteration_1",
		"v3_visual_qa_iteration_1",
	}, f.run.VersionHistory)

	corrected, err := f.store.Get(context.Background(), f.run.ID, "v2_latex_generation_iteration_1")
	require.NoError(t, err)
	assert.Equal(t, "latex", corrected.ProducedBy)
	assert.Equal(t, "v1_visual_qa", corrected.Parent)
}

func TestController_TimeoutIsWorkerFailure(t *testing.T) {
	w := &scripted{name: "slow", scores: scores(95), delay: 300 * time.Millisecond}
	f := newFixture(t, 50*time.Millisecond, stage.Stage{Name: "optimization", Worker: w, Thresholds: defaultThresholds, MaxIterations: 3})
	st, _ := f.controller.registry.Lookup("optimization")

	res, err := f.controller.Run(context.Background(), f.run, st, f.input)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionPass, res.Decision.Decision)
	assert.Equal(t, 2, res.Attempts)

	first := f.run.QualityTrajectory[0]
	assert.Equal(t, types.DecisionRetry, first.Decision)
	assert.Contains(t, first.Failure, "timed out")
	assert.True(t, first.Score.HasCategory(types.CategoryWorkerFailure))

	// the retry carries the failure as correction context
	require.NotNil(t, w.seen[1])
	assert.Equal(t, types.CategoryWorkerFailure, w.seen[1].Issues()[0].Category)
}

func TestController_WorkerFailureExhaustsBudget(t *testing.T) {
	boom := errors.New("compiler crashed")
	w := &scripted{name: "compile", errs: map[int]error{1: boom, 2: boom}}
	f := newFixture(t, 0, stage.Stage{Name: "optimization", Worker: w, Thresholds: defaultThresholds, MaxIterations: 2})
	st, _ := f.controller.registry.Lookup("optimization")

	res, err := f.controller.Run(context.Background(), f.run, st, f.input)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionFail, res.Decision.Decision)
	require.NotNil(t, res.Failure)
	assert.ErrorIs(t, res.Failure, boom)
	assert.Nil(t, res.Unit)
	assert.Equal(t, []string{"v0_original"}, f.run.VersionHistory, "failed attempts commit nothing")
}

func TestController_AnalysisFailureIsFatal(t *testing.T) {
	w := &scripted{name: "visual", errs: map[int]error{1: &stage.AnalysisFailure{Message: "vision model returned garbage"}}}
	f := newFixture(t, 0, stage.Stage{Name: "visual_qa", Worker: w, Thresholds: defaultThresholds, MaxIterations: 3})
	st, _ := f.controller.registry.Lookup("visual_qa")

	_, err := f.controller.Run(context.Background(), f.run, st, f.input)
	var analysis *stage.AnalysisFailure
	require.True(t, errors.As(err, &analysis))
	assert.Equal(t, "visual_qa", analysis.Stage)
	assert.Equal(t, 1, w.calls, "analysis failures are not retried")
}

func TestController_InvalidScoreIsAnalysisFailure(t *testing.T) {
	w := &scripted{name: "review", scores: scores(140)}
	f := newFixture(t, 0, stage.Stage{Name: "content_review", Worker: w, Thresholds: defaultThresholds, MaxIterations: 3})
	st, _ := f.controller.registry.Lookup("content_review")

	_, err := f.controller.Run(context.Background(), f.run, st, f.input)
	var analysis *stage.AnalysisFailure
	assert.True(t, errors.As(err, &analysis))
}

func TestController_IgnoresCancellationWithinStage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &scripted{name: "review", scores: scores(70, 95)}
	f := newFixture(t, 0, stage.Stage{Name: "content_review", Worker: w, Thresholds: defaultThresholds, MaxIterations: 3})
	st, _ := f.controller.registry.Lookup("content_review")
	cancel()

	res, err := f.controller.Run(ctx, f.run, st, f.input)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionPass, res.Decision.Decision)
	assert.Equal(t, 2, res.Attempts)
}

func TestController_AlwaysTerminates(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 200; trial++ {
		maxIter := 1 + rng.Intn(5)
		seq := make([]float64, 10)
		for i := range seq {
			seq[i] = float64(rng.Intn(101))
		}
		w := &scripted{name: "review", scores: scores(seq...)}
		f := newFixture(t, 0, stage.Stage{Name: "content_review", Worker: w, Thresholds: defaultThresholds, MaxIterations: maxIter})
		st, _ := f.controller.registry.Lookup("content_review")

		res, err := f.controller.Run(context.Background(), f.run, st, f.input)
		require.NoError(t, err)
		assert.NotEqual(t, types.DecisionRetry, res.Decision.Decision)
		assert.LessOrEqual(t, res.Attempts, maxIter)
		assert.LessOrEqual(t, f.run.IterationCountByStage["content_review"], maxIter)
		assert.Len(t, f.run.QualityTrajectory, res.Attempts)
	}
}

func TestController_PersistsTrajectoryAndChanges(t *testing.T) {
	w := &scripted{name: "review", scores: scores(70, 88)}
	f := newFixture(t, 0, stage.Stage{Name: "content_review", Worker: w, Thresholds: defaultThresholds, MaxIterations: 3})
	st, _ := f.controller.registry.Lookup("content_review")

	_, err := f.controller.Run(context.Background(), f.run, st, f.input)
	require.NoError(t, err)

	ctx := context.Background()
	traj, err := f.store.Trajectory(ctx, f.run.ID)
	require.NoError(t, err)
	require.Len(t, traj, 2)
	assert.Equal(t, types.DecisionRetry, traj[0].Decision)
	assert.Equal(t, types.DecisionPass, traj[1].Decision)

	records, err := f.store.Changes(ctx, f.run.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "v0_original", records[1].FromVersion)
	assert.True(t, strings.HasPrefix(records[2].ToVersion, "v2_"))

	saved, err := f.store.LoadRun(ctx, f.run.ID)
	require.NoError(t, err)
	assert.Len(t, saved.QualityTrajectory, 2)
}
