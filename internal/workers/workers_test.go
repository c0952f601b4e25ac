package workers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/docpipeline/internal/config"
	"github.com/jonathan/docpipeline/internal/stage"
	"github.com/jonathan/docpipeline/internal/types"
)

func TestPenaltyScore(t *testing.T) {
	assert.Equal(t, 100.0, penaltyScore(nil))
	assert.Equal(t, 49.0, penaltyScore([]types.Issue{
		{Severity: types.SeverityCritical},
		{Severity: types.SeverityHigh},
		{Severity: types.SeverityMedium},
		{Severity: types.SeverityLow},
	}))
	many := make([]types.Issue, 5)
	for i := range many {
		many[i].Severity = types.SeverityCritical
	}
	assert.Equal(t, 0.0, penaltyScore(many))
}

func TestFormatIssues(t *testing.T) {
	assert.Equal(t, "(none)", formatIssues(nil))
	got := formatIssues([]types.Issue{
		{Category: types.CategoryUnrenderedMarkup, Severity: types.SeverityHigh, Message: "raw \\textbf", Location: "page 3", Suggestion: "fix it"},
		{Category: types.CategoryContent, Severity: types.SeverityLow, Message: "wordy"},
	})
	assert.Equal(t, "1. [high] unrendered_markup at page 3: raw \\textbf (suggestion: fix it)\n2. [low] content: wordy", got)
}

func TestIssuePath(t *testing.T) {
	assert.Equal(t, "sections/a.md", issuePath("sections/a.md:12"))
	assert.Equal(t, "sections/a.md", issuePath("sections/a.md"))
	assert.Equal(t, "page 3", issuePath("page 3"))
}

func TestNewRegistry(t *testing.T) {
	cfg := config.Default()
	cfg.OnEscalate = config.OnEscalateHalt

	registry, err := NewRegistry(&cfg, Deps{})
	require.NoError(t, err)
	assert.Equal(t, stage.DefaultOrder, registry.Names())

	visualQA, ok := registry.Lookup(stage.VisualQA)
	require.True(t, ok)
	assert.True(t, visualQA.Redirects())
	assert.Equal(t, "visual_reviewer", visualQA.Worker.Name())
	assert.Equal(t, 85.0, visualQA.Thresholds.Minimum)

	cfg.Stages = append(cfg.Stages, config.StageConfig{Name: "proofreading", Minimum: 1, Good: 2, Excellent: 3, MaxIterations: 1})
	_, err = NewRegistry(&cfg, Deps{})
	assert.ErrorContains(t, err, `no worker for stage "proofreading"`)
}
