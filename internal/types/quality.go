//nolint:revive // types is a standard Go package name pattern
package types

import "sort"

// Severity ranks an issue
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank orders severities from most (0) to least severe
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	default:
		return 3
	}
}

// Issue categories surfaced by workers and analyzers
const (
	CategoryUnrenderedMarkup = "unrendered_markup"
	CategoryCompileError     = "compile_error"
	CategoryLayout           = "layout"
	CategoryPageOverflow     = "page_overflow"
	CategoryLineTooLong      = "line_too_long"
	CategoryStructure        = "structure"
	CategoryContent          = "content"
	CategoryForbiddenPhrase  = "forbidden_phrase"
	CategoryInjection        = "prompt_injection"
	CategoryWorkerFailure    = "worker_failure"
)

// Issue is a structured problem description with a severity and a location hint
type Issue struct {
	Category   string   `json:"category"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Location   string   `json:"location,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// QualityScore is the raw quality signal for one attempt
type QualityScore struct {
	Score      float64            `json:"score"`
	Dimensions map[string]float64 `json:"dimensions,omitempty"`
	Issues     []Issue            `json:"issues,omitempty"`
}

// HasCategory reports whether any issue has the given category
func (q *QualityScore) HasCategory(category string) bool {
	if q == nil {
		return false
	}
	for _, issue := range q.Issues {
		if issue.Category == category {
			return true
		}
	}
	return false
}

// SortIssues orders issues by severity, keeping the original order within a severity
func SortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Severity.Rank() < issues[j].Severity.Rank()
	})
}

// ClampScore bounds a score to [0, 100]
func ClampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
