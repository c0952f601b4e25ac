package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/jonathan/docpipeline/internal/types"
)

func TestMetrics_Observer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	run := &types.PipelineRun{ID: "r1"}

	m.VersionCommitted(run, &types.ContentUnit{StageName: types.OriginalStage}, types.ChangeRecord{})
	run.VersionHistory = []string{"v0_original"}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.active))

	m.VersionCommitted(run, &types.ContentUnit{StageName: "content_review"}, types.ChangeRecord{})
	m.AttemptFinished(run, types.TrajectoryEntry{Stage: "content_review", Decision: types.DecisionRetry, Score: types.QualityScore{Score: 70}}, time.Second)
	m.AttemptFinished(run, types.TrajectoryEntry{Stage: "content_review", Decision: types.DecisionPass, Score: types.QualityScore{Score: 88}}, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("content_review", "RETRY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("content_review", "PASS")))
	assert.Equal(t, 88.0, testutil.ToFloat64(m.scores.WithLabelValues("content_review")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.versions.WithLabelValues("content_review")))

	run.Status = types.StatusSuccess
	run.Reason = types.ReasonCompleted
	m.RunFinished(run)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("SUCCESS", "completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.active))
}

func TestMetrics_NilRegisterer(t *testing.T) {
	assert.NotPanics(t, func() { NewMetrics(nil) })
}
