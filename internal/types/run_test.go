//nolint:revive // types is a standard Go package name pattern
package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineRun_FinalizeOnce(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	run := NewPipelineRun("run-1", "content/", []string{"a", "b"}, now)

	assert.Equal(t, StatusRunning, run.Status)
	assert.Equal(t, StateInit, run.State)

	require.NoError(t, run.Finalize(StatusSuccess, ReasonCompleted, now.Add(time.Minute)))
	assert.Equal(t, StatusSuccess, run.Status)
	assert.Equal(t, ReasonCompleted, run.Reason)
	require.NotNil(t, run.CompletedAt)

	err := run.Finalize(StatusFailed, ReasonCancelled, now)
	require.Error(t, err)
	assert.Equal(t, StatusSuccess, run.Status, "terminal status must not change")
}

func TestPipelineRun_FinalizeRejectsRunning(t *testing.T) {
	run := NewPipelineRun("run-2", "", nil, time.Now())
	assert.Error(t, run.Finalize(StatusRunning, "", time.Now()))
	assert.Equal(t, StatusRunning, run.Status)
}

func TestPipelineRun_LatestVersion(t *testing.T) {
	run := NewPipelineRun("run-3", "", nil, time.Now())
	assert.Equal(t, "", run.LatestVersion())
	run.VersionHistory = append(run.VersionHistory, "v0_original", "v1_content_review")
	assert.Equal(t, "v1_content_review", run.LatestVersion())
}

func TestStageState(t *testing.T) {
	assert.Equal(t, "STAGE1", StageState(0))
	assert.Equal(t, "STAGE4", StageState(3))
}
