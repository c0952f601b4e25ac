package observability

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jonathan/docpipeline/internal/pipeline"
	"github.com/jonathan/docpipeline/internal/types"
	"github.com/stretchr/testify/assert"
)

func sampleReport() *pipeline.Report {
	score := 91.0
	return &pipeline.Report{
		RunID:      "run-1",
		Source:     "paper/",
		Status:     types.StatusSuccess,
		Reason:     types.ReasonCompleted,
		FinalScore: &score,
		Versions:   []string{"v0_original", "v1_content_review"},
		Stages: []pipeline.StageSummary{
			{Name: "content_review", Attempts: 1, Scores: []float64{92}, Decision: types.DecisionPass, Mark: types.MarkExcellent},
			{Name: "visual_qa", Attempts: 2, Corrections: 1, Scores: []float64{60, 91}, Decision: types.DecisionPass, Mark: types.MarkExcellent,
				TopIssues: []types.Issue{{Severity: types.SeverityHigh, Message: "unrendered LaTeX command", Location: "page 3"}}},
		},
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintReport(sampleReport())
	output := buf.String()

	assert.Contains(t, output, "PIPELINE REPORT")
	assert.Contains(t, output, "run-1")
	assert.Contains(t, output, "SUCCESS (completed)")
	assert.Contains(t, output, "91.0")
	assert.Contains(t, output, "content_review")
	assert.Contains(t, output, "60.0 → 91.0")
	assert.Contains(t, output, "ISSUES: visual_qa")
	assert.Contains(t, output, "(page 3)")
}

func TestPrintReport_Nil(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintReport(nil)
	assert.Empty(t, buf.String())
}

func TestPrintReport_Markdown(t *testing.T) {
	var buf bytes.Buffer
	NewMarkdownPrinter(&buf).PrintReport(sampleReport())
	assert.Contains(t, buf.String(), "| content_review |")
}

func TestPrintIssues_Truncates(t *testing.T) {
	var issues []types.Issue
	for i := 0; i < 8; i++ {
		issues = append(issues, types.Issue{Severity: types.SeverityLow, Message: "line too long"})
	}
	var buf bytes.Buffer
	NewPrinter(&buf).PrintIssues("optimization", issues)

	output := buf.String()
	assert.Equal(t, maxItemsToShow, strings.Count(output, "line too long"))
	assert.Contains(t, output, "... and 3 more")
}

func TestPrintBox_TruncatesLongLines(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).printBox("TITLE", strings.Repeat("x", 100))
	assert.Contains(t, buf.String(), "...")
	assert.NotContains(t, buf.String(), strings.Repeat("x", 60))
}

func TestPrintVersionsAndChanges(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.PrintVersions([]types.ContentUnit{
		{VersionID: "v0_original", StageName: "original", ProducedBy: "ingestion"},
		{VersionID: "v1_content_review", StageName: "content_review", Parent: "v0_original"},
	})
	p.PrintChanges(types.ChangeRecord{
		FromVersion: "v0_original",
		ToVersion:   "v1_content_review",
		Changes:     map[string]types.ChangeKind{"sections/a.md": types.ChangeModified},
		Summary:     "1 modified (sections/a.md)",
	})

	output := buf.String()
	assert.Contains(t, output, "v1_content_review")
	assert.Contains(t, output, "ingestion")
	assert.Contains(t, output, "sections/a.md")
	assert.Contains(t, output, "v0_original → v1_content_review")
}
