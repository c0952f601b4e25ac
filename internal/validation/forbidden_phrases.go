package validation

import (
	"fmt"
	"strings"

	"github.com/jonathan/docpipeline/internal/types"
)

// CheckForbiddenPhrases reports each line of text containing a configured phrase,
// matched case-insensitively. Text of a .tex path is unescaped and stripped of
// comments first. path names the file in locations.
func CheckForbiddenPhrases(path, text string, phrases []string) []types.Issue {
	var wanted []string
	for _, p := range phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			wanted = append(wanted, p)
		}
	}
	if len(wanted) == 0 {
		return nil
	}

	normalize := strings.ToLower
	if strings.HasSuffix(path, ".tex") {
		normalize = normalizeForMatching
	}

	var issues []types.Issue
	for i, line := range strings.Split(text, "\n") {
		normalized := normalize(line)
		for _, phrase := range wanted {
			if strings.Contains(normalized, phrase) {
				issues = append(issues, types.Issue{
					Category:   types.CategoryForbiddenPhrase,
					Severity:   types.SeverityHigh,
					Message:    fmt.Sprintf("contains forbidden phrase %q", phrase),
					Location:   fmt.Sprintf("%s:%d", path, i+1),
					Suggestion: "rephrase without the forbidden wording",
				})
				// one issue per line
				break
			}
		}
	}
	return issues
}

var unescaper = strings.NewReplacer(
	`\$`, "$",
	`\&`, "&",
	`\#`, "#",
	`\_`, "_",
	`\{`, "{",
	`\}`, "}",
	`\textbackslash{}`, `\`,
)

// normalizeForMatching unescapes LaTeX specials, drops a trailing comment and lowercases
func normalizeForMatching(text string) string {
	text = stripComment(unescapeKeepingComments(text))
	return strings.ToLower(strings.ReplaceAll(text, `\%`, "%"))
}

// unescapeKeepingComments unescapes while keeping \% escaped so comment stripping still works
func unescapeKeepingComments(text string) string {
	const pct = "\x00pct\x00"
	text = strings.ReplaceAll(text, `\%`, pct)
	text = unescaper.Replace(text)
	return strings.ReplaceAll(text, pct, `\%`)
}
