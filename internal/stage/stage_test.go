package stage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jonathan/docpipeline/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var th = types.Thresholds{Minimum: 80, Good: 85, Excellent: 90, EscalationFloor: 70}

func noop(name string) Worker {
	return Func{ID: name, Fn: func(context.Context, Input, *CorrectionContext) (*Output, error) {
		return &Output{}, nil
	}}
}

func TestNewRegistry_Valid(t *testing.T) {
	r, err := NewRegistry(
		Stage{Name: ContentReview, Worker: noop("review"), Thresholds: th, MaxIterations: 3},
		Stage{Name: LaTeXGeneration, Worker: noop("gen"), Thresholds: th, MaxIterations: 3},
		Stage{Name: VisualQA, Worker: noop("visual"), Thresholds: th, MaxIterations: 2, RetryTarget: LaTeXGeneration},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{ContentReview, LaTeXGeneration, VisualQA}, r.Names())
	assert.Equal(t, 2, r.Index(VisualQA))
	assert.Equal(t, -1, r.Index("missing"))

	visual, ok := r.Lookup(VisualQA)
	require.True(t, ok)
	assert.True(t, visual.Redirects())
	assert.Equal(t, LaTeXGeneration, visual.CorrectionStage())

	review, _ := r.Lookup(ContentReview)
	assert.False(t, review.Redirects())
	assert.Equal(t, ContentReview, review.CorrectionStage())
}

func TestNewRegistry_Errors(t *testing.T) {
	tests := []struct {
		name   string
		stages []Stage
	}{
		{"missing worker", []Stage{{Name: "a", Thresholds: th, MaxIterations: 1}}},
		{"duplicate", []Stage{{Name: "a", Worker: noop("a"), Thresholds: th, MaxIterations: 1}, {Name: "a", Worker: noop("a"), Thresholds: th, MaxIterations: 1}}},
		{"zero budget", []Stage{{Name: "a", Worker: noop("a"), Thresholds: th}}},
		{"bad thresholds", []Stage{{Name: "a", Worker: noop("a"), Thresholds: types.Thresholds{Minimum: 90, Good: 80, Excellent: 95}, MaxIterations: 1}}},
		{"unknown target", []Stage{{Name: "a", Worker: noop("a"), Thresholds: th, MaxIterations: 1, RetryTarget: "zzz"}}},
		{"forward target", []Stage{{Name: "a", Worker: noop("a"), Thresholds: th, MaxIterations: 1, RetryTarget: "b"}, {Name: "b", Worker: noop("b"), Thresholds: th, MaxIterations: 1}}},
		{"reserved name", []Stage{{Name: types.OriginalStage, Worker: noop("a"), Thresholds: th, MaxIterations: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.stages...)
			assert.Error(t, err)
		})
	}
}

func TestNewRegistry_UnknownTargetIsDependencyError(t *testing.T) {
	_, err := NewRegistry(Stage{Name: "a", Worker: noop("a"), Thresholds: th, MaxIterations: 1, RetryTarget: "zzz"})
	var depErr *DependencyError
	require.True(t, errors.As(err, &depErr))
	assert.Equal(t, []string{"zzz"}, depErr.Missing)
}

func TestCorrectionContext_IssuesSorted(t *testing.T) {
	c := &CorrectionContext{Score: types.QualityScore{Issues: []types.Issue{
		{Message: "minor", Severity: types.SeverityLow},
		{Message: "unrendered", Severity: types.SeverityHigh},
	}}}
	issues := c.Issues()
	assert.Equal(t, "unrendered", issues[0].Message)
	assert.Equal(t, "minor", c.Score.Issues[0].Message, "original order untouched")

	var nilCtx *CorrectionContext
	assert.Nil(t, nilCtx.Issues())
}

func TestAsWorkerFailure(t *testing.T) {
	plain := fmt.Errorf("boom")
	wf := AsWorkerFailure("s", "w", plain)
	assert.Equal(t, "s", wf.Stage)
	assert.ErrorIs(t, wf, plain)

	original := &WorkerFailure{Message: "timed out", Timeout: true}
	wf = AsWorkerFailure("s", "w", fmt.Errorf("wrapped: %w", original))
	assert.Same(t, original, wf)
	assert.Equal(t, "w", wf.Worker)
	assert.True(t, wf.Timeout)
}
