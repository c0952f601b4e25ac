package visual

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jonathan/docpipeline/internal/types"
)

// markupPattern is a kind of source text that should never reach the page
type markupPattern struct {
	name    string
	pattern *regexp.Regexp
}

var markupPatterns = []markupPattern{
	{"LaTeX command", regexp.MustCompile(`\\[a-zA-Z]{2,}`)},
	{"markdown heading", regexp.MustCompile(`(?m)^\s*#{1,6} \S`)},
	{"markdown bold", regexp.MustCompile(`\*\*[^*\n]+\*\*`)},
	{"code fence", regexp.MustCompile("```")},
	{"markdown link", regexp.MustCompile(`\[[^\]\n]+\]\(https?://[^)\s]+\)`)},
}

var logPageRef = regexp.MustCompile(`\(page (\d+)\)$`)

// DetectUnrenderedMarkup scans the extracted text of each page for LaTeX or
// markdown source that was printed instead of typeset. It reports at most one
// issue per page, naming the first kind of markup found.
func DetectUnrenderedMarkup(pages []Page) []types.Issue {
	var issues []types.Issue
	for _, page := range pages {
		for _, mp := range markupPatterns {
			match := mp.pattern.FindString(page.Text)
			if match == "" {
				continue
			}
			issues = append(issues, types.Issue{
				Category:   types.CategoryUnrenderedMarkup,
				Severity:   types.SeverityHigh,
				Message:    fmt.Sprintf("unrendered %s %q visible on page %d", mp.name, strings.TrimSpace(match), page.Number),
				Location:   fmt.Sprintf("page %d", page.Number),
				Suggestion: "convert the markup to proper LaTeX in the generated source",
			})
			break
		}
	}
	return issues
}

// PageIssuesFromLog keeps the unrendered-markup issues of a parsed compile log and
// relocates them to the page pdflatex was on. Issues without a page reference keep
// their source location.
func PageIssuesFromLog(issues []types.Issue) []types.Issue {
	var out []types.Issue
	for _, issue := range issues {
		if issue.Category != types.CategoryUnrenderedMarkup {
			continue
		}
		if m := logPageRef.FindStringSubmatch(issue.Message); m != nil {
			issue.Location = "page " + m[1]
		}
		out = append(out, issue)
	}
	return out
}

// MergeIssues concatenates issue lists, dropping repeats of the same category at
// the same location, and sorts the result by severity
func MergeIssues(lists ...[]types.Issue) []types.Issue {
	var merged []types.Issue
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, issue := range list {
			key := issue.Category + "|" + issue.Location
			if issue.Location == "" {
				key += "|" + issue.Message
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, issue)
		}
	}
	types.SortIssues(merged)
	return merged
}
