package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jonathan/docpipeline/internal/types"
)

// latexCommandPattern matches commands with one braced argument, like \textbf{content}
var latexCommandPattern = regexp.MustCompile(`\\([a-zA-Z]+|.)\{[^}]*\}`)

// ValidateLineLengths flags source lines whose visible content exceeds maxChars.
// Comment lines are skipped and command names do not count toward the length.
// Consecutive long lines are reported once as a range.
func ValidateLineLengths(tex string, maxChars int) []types.Issue {
	if maxChars <= 0 {
		return nil
	}
	var issues []types.Issue
	start, longest := 0, 0
	flush := func(end int) {
		if start == 0 {
			return
		}
		location := fmt.Sprintf("line %d", start)
		if end > start {
			location = fmt.Sprintf("lines %d-%d", start, end)
		}
		issues = append(issues, types.Issue{
			Category:   types.CategoryLineTooLong,
			Severity:   types.SeverityLow,
			Message:    fmt.Sprintf("source line has %d characters, maximum is %d", longest, maxChars),
			Location:   location,
			Suggestion: "wrap the paragraph across several source lines",
		})
		start, longest = 0, 0
	}

	lines := strings.Split(tex, "\n")
	for i, line := range lines {
		n := countContentChars(stripComment(line))
		if n <= maxChars {
			flush(i)
			continue
		}
		if start == 0 {
			start = i + 1
		}
		longest = max(longest, n)
	}
	flush(len(lines))
	return issues
}

// countContentChars approximates the visible characters of a LaTeX line by
// replacing \command{content} with content.
func countContentChars(line string) int {
	processed := latexCommandPattern.ReplaceAllStringFunc(line, func(match string) string {
		start := strings.Index(match, "{")
		end := strings.LastIndex(match, "}")
		if start >= 0 && end > start {
			return match[start+1 : end]
		}
		return ""
	})
	return len([]rune(strings.TrimSpace(processed)))
}
