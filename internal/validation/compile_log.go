package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jonathan/docpipeline/internal/types"
)

var (
	logLineRef   = regexp.MustCompile(`^l\.(\d+)\s?(.*)$`)
	overfullBox  = regexp.MustCompile(`^Overfull \\hbox \(([\d.]+)pt too wide\) (?:in paragraph |detected )?at lines? (\d+)(?:--(\d+))?`)
	undefinedRef = regexp.MustCompile(`^LaTeX Warning: (Reference|Citation) .(.+). on page (\d+) undefined`)
	pageMarker   = regexp.MustCompile(`\[(\d+)`)
)

// OverfullThreshold ignores boxes that overflow by less than this many points
const OverfullThreshold = 5.0

// ParseLog turns pdflatex output into issues. Errors ("! ...") carry the source line
// from the following "l.N" context line. An undefined control sequence is reported as
// unrendered markup because the command text ends up missing from the page.
func ParseLog(log string) []types.Issue {
	lines := strings.Split(strings.ReplaceAll(log, "\r\n", "\n"), "\n")
	var issues []types.Issue
	page := 1
	seen := make(map[string]bool)
	add := func(issue types.Issue) {
		key := issue.Category + "|" + issue.Message + "|" + issue.Location
		if !seen[key] {
			seen[key] = true
			issues = append(issues, issue)
		}
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		// pdflatex prints "[N" when it ships out page N
		if m := pageMarker.FindAllStringSubmatch(line, -1); m != nil && !strings.HasPrefix(line, "!") {
			for _, sub := range m {
				var n int
				if _, err := fmt.Sscanf(sub[1], "%d", &n); err == nil && n >= page {
					page = n + 1
				}
			}
		}

		switch {
		case strings.HasPrefix(line, "! "):
			msg := strings.TrimSpace(strings.TrimPrefix(line, "! "))
			location, snippet := "", ""
			for j := i + 1; j < len(lines) && j <= i+8; j++ {
				if m := logLineRef.FindStringSubmatch(strings.TrimSpace(lines[j])); m != nil {
					location = "line " + m[1]
					snippet = strings.TrimSpace(m[2])
					break
				}
			}
			issue := types.Issue{
				Category: types.CategoryCompileError,
				Severity: types.SeverityCritical,
				Message:  msg,
				Location: location,
			}
			if strings.HasPrefix(msg, "Undefined control sequence") {
				issue.Category = types.CategoryUnrenderedMarkup
				issue.Severity = types.SeverityHigh
				if snippet != "" {
					issue.Message = fmt.Sprintf("%s near %q (page %d)", msg, snippet, page)
				}
				issue.Suggestion = "define the command, load its package or escape the backslash"
			}
			add(issue)
		case strings.HasPrefix(line, "Overfull \\hbox"):
			m := overfullBox.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			var width float64
			_, _ = fmt.Sscanf(m[1], "%g", &width)
			if width < OverfullThreshold {
				continue
			}
			location := "line " + m[2]
			if m[3] != "" {
				location = fmt.Sprintf("lines %s-%s", m[2], m[3])
			}
			add(types.Issue{
				Category:   types.CategoryLayout,
				Severity:   types.SeverityMedium,
				Message:    fmt.Sprintf("overfull hbox, %.1fpt too wide", width),
				Location:   location,
				Suggestion: "break the line or shrink the table",
			})
		case strings.HasPrefix(line, "LaTeX Warning: "):
			if m := undefinedRef.FindStringSubmatch(line); m != nil {
				add(types.Issue{
					Category: types.CategoryStructure,
					Severity: types.SeverityLow,
					Message:  fmt.Sprintf("undefined %s %s", strings.ToLower(m[1]), m[2]),
					Location: "page " + m[3],
				})
			}
		}
	}
	return issues
}
