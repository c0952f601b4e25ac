package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonathan/docpipeline/internal/stage"
	"github.com/jonathan/docpipeline/internal/store"
	"github.com/jonathan/docpipeline/internal/types"
	"github.com/stretchr/testify/require"
)

var testThresholds = types.Thresholds{Minimum: 80, Good: 85, Excellent: 90, EscalationFloor: 75}

// fakeWorker returns scripted signals and writes one file per call
type fakeWorker struct {
	name    string
	mu      sync.Mutex
	signals []types.QualityScore
	calls   int
	seen    []*stage.CorrectionContext
	err     error
	hook    func(call int)
	// failAt makes that call return a worker error
	failAt int
	inputs []string
}

func (w *fakeWorker) Name() string { return w.name }

func (w *fakeWorker) Process(_ context.Context, in stage.Input, correction *stage.CorrectionContext) (*stage.Output, error) {
	w.mu.Lock()
	w.calls++
	call := w.calls
	w.seen = append(w.seen, correction)
	if in.Unit != nil {
		w.inputs = append(w.inputs, in.Unit.VersionID)
	}
	w.mu.Unlock()

	if w.hook != nil {
		w.hook(call)
	}
	if w.err != nil {
		return nil, w.err
	}
	if w.failAt == call {
		return nil, fmt.Errorf("%s call %d failed", w.name, call)
	}
	signal := types.QualityScore{Score: 88}
	if len(w.signals) > 0 {
		idx := call - 1
		if idx >= len(w.signals) {
			idx = len(w.signals) - 1
		}
		signal = w.signals[idx]
	}
	files := make(map[string][]byte, len(in.Files)+1)
	for p, data := range in.Files {
		files[p] = data
	}
	files[w.name+".txt"] = []byte(fmt.Sprintf("%s output %d", w.name, call))
	return &stage.Output{Files: files, Signal: signal}, nil
}

func score(v float64, issues ...types.Issue) types.QualityScore {
	return types.QualityScore{Score: v, Issues: issues}
}

type workers struct {
	review, gen, optimize, visual *fakeWorker
}

func newWorkers() *workers {
	return &workers{
		review:   &fakeWorker{name: "review"},
		gen:      &fakeWorker{name: "latex"},
		optimize: &fakeWorker{name: "optimize"},
		visual:   &fakeWorker{name: "visual"},
	}
}

func (w *workers) registry(t *testing.T, maxIter int) *stage.Registry {
	t.Helper()
	r, err := stage.NewRegistry(
		stage.Stage{Name: stage.ContentReview, Worker: w.review, Thresholds: testThresholds, MaxIterations: maxIter},
		stage.Stage{Name: stage.LaTeXGeneration, Worker: w.gen, Thresholds: testThresholds, MaxIterations: maxIter},
		stage.Stage{Name: stage.Optimization, Worker: w.optimize, Thresholds: testThresholds, MaxIterations: maxIter},
		stage.Stage{Name: stage.VisualQA, Worker: w.visual, Thresholds: testThresholds, MaxIterations: maxIter, RetryTarget: stage.LaTeXGeneration},
	)
	require.NoError(t, err)
	return r
}

var testPolicy = Policy{OverallTarget: 85, HumanHandoffScore: 75, WorkerTimeout: 5 * time.Second}

func newOrchestrator(t *testing.T, w *workers, s store.Store, policy Policy) *Orchestrator {
	t.Helper()
	return New(w.registry(t, 3), s, policy, WithIDGenerator(func() string { return "run-fixed" }))
}

func originalFiles() map[string][]byte {
	return map[string][]byte{
		"sections/introduction.md": []byte("# Introduction\nHello."),
		"tables/results.csv":       []byte("metric,value\nacc,0.9\n"),
	}
}
