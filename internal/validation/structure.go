package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jonathan/docpipeline/internal/types"
)

var (
	envPattern        = regexp.MustCompile(`\\(begin|end)\{([^}]+)\}`)
	markdownHeading   = regexp.MustCompile(`(?m)^#{1,6} \S`)
	markdownBold      = regexp.MustCompile(`\*\*[^*\n]+\*\*`)
	unescapedSpecial  = regexp.MustCompile(`(^|[^\\])[&#_]`)
	usepackagePattern = regexp.MustCompile(`\\usepackage`)
	inlineMath        = regexp.MustCompile(`\$[^$]+\$`)
	// commands whose arguments are paths, URLs or keys rather than prose
	verbatimArgs = []string{`\includegraphics`, `\href`, `\url`, `\label`, `\ref`, `\input`, `\include{`, `\bibliography`}
)

// MinFixRatio is the smallest accepted length of a corrected document relative to its input
const MinFixRatio = 0.5

// EnvironmentBalance checks that every \begin{x} has a matching \end{x} in order.
// It returns a description of the first mismatch, or "" when balanced.
func EnvironmentBalance(tex string) string {
	var stack []string
	for _, line := range strings.Split(tex, "\n") {
		line = stripComment(line)
		for _, m := range envPattern.FindAllStringSubmatch(line, -1) {
			if m[1] == "begin" {
				stack = append(stack, m[2])
				continue
			}
			if len(stack) == 0 {
				return fmt.Sprintf(`\end{%s} without \begin`, m[2])
			}
			top := stack[len(stack)-1]
			if top != m[2] {
				return fmt.Sprintf(`\end{%s} closes \begin{%s}`, m[2], top)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		return fmt.Sprintf(`\begin{%s} is never closed`, stack[len(stack)-1])
	}
	return ""
}

// HasDocumentEnvironment reports whether tex has a document class and a document body
func HasDocumentEnvironment(tex string) bool {
	return strings.Contains(tex, `\documentclass`) &&
		strings.Contains(tex, `\begin{document}`) &&
		strings.Contains(tex, `\end{document}`)
}

// CheckStructure inspects LaTeX source for structural problems: a missing document
// environment, unbalanced environments, markdown left unconverted, packages loaded
// after \begin{document} and unescaped special characters in body text.
func CheckStructure(tex string) []types.Issue {
	var issues []types.Issue
	if !HasDocumentEnvironment(tex) {
		issues = append(issues, types.Issue{
			Category: types.CategoryStructure,
			Severity: types.SeverityCritical,
			Message:  `missing \documentclass or document environment`,
		})
	}
	if msg := EnvironmentBalance(tex); msg != "" {
		issues = append(issues, types.Issue{
			Category: types.CategoryStructure,
			Severity: types.SeverityCritical,
			Message:  "unbalanced environments: " + msg,
		})
	}
	if strings.Contains(tex, "```") {
		issues = append(issues, types.Issue{
			Category:   types.CategoryUnrenderedMarkup,
			Severity:   types.SeverityHigh,
			Message:    "markdown code fence in LaTeX source",
			Location:   lineOf(tex, strings.Index(tex, "```")),
			Suggestion: "remove the fence",
		})
	}

	body := tex
	if i := strings.Index(tex, `\begin{document}`); i >= 0 {
		body = tex[i:]
		if loc := usepackagePattern.FindStringIndex(body); loc != nil {
			issues = append(issues, types.Issue{
				Category: types.CategoryStructure,
				Severity: types.SeverityHigh,
				Message:  `\usepackage after \begin{document}`,
				Location: lineOf(tex, i+loc[0]),
			})
		}
	}
	if loc := markdownHeading.FindStringIndex(body); loc != nil {
		issues = append(issues, markdownIssue("markdown heading in LaTeX body", tex, len(tex)-len(body)+loc[0]))
	}
	if loc := markdownBold.FindStringIndex(body); loc != nil {
		issues = append(issues, markdownIssue("markdown bold in LaTeX body", tex, len(tex)-len(body)+loc[0]))
	}

	offset := len(tex) - len(body)
	for _, line := range strings.Split(body, "\n") {
		if unescapedSpecial.MatchString(proseOf(line)) && !isTabularRow(line) {
			issues = append(issues, types.Issue{
				Category:   types.CategoryStructure,
				Severity:   types.SeverityMedium,
				Message:    "unescaped special character",
				Location:   lineOf(tex, offset),
				Suggestion: `escape & % $ # _ with a backslash`,
			})
			break
		}
		offset += len(line) + 1
	}
	return issues
}

func markdownIssue(msg, tex string, offset int) types.Issue {
	return types.Issue{
		Category:   types.CategoryUnrenderedMarkup,
		Severity:   types.SeverityHigh,
		Message:    msg,
		Location:   lineOf(tex, offset),
		Suggestion: "convert the markdown to LaTeX commands",
	}
}

// isTabularRow treats lines with alignment tabs and a row end as table rows, where & is markup
func isTabularRow(line string) bool {
	return strings.Contains(line, `\\`) || strings.Contains(line, `\begin{tabular}`)
}

// proseOf removes comments, inline math and escaped dollars from a line. Lines with
// path or URL arguments yield no prose.
func proseOf(line string) string {
	for _, cmd := range verbatimArgs {
		if strings.Contains(line, cmd) {
			return ""
		}
	}
	line = strings.ReplaceAll(stripComment(line), `\$`, "")
	return inlineMath.ReplaceAllString(line, "")
}

// stripComment drops an unescaped % comment
func stripComment(line string) string {
	for i := 0; i < len(line); i++ {
		if line[i] == '%' && (i == 0 || line[i-1] != '\\') {
			return line[:i]
		}
	}
	return line
}

func lineOf(text string, offset int) string {
	if offset < 0 {
		return ""
	}
	return fmt.Sprintf("line %d", strings.Count(text[:offset], "\n")+1)
}

// ValidateFix decides whether a corrected document may replace the original. A fix
// is rejected when it shrinks below MinFixRatio of the input, loses the document
// environment or leaves environments unbalanced.
func ValidateFix(original, fixed string) error {
	fixed = strings.TrimSpace(fixed)
	if fixed == "" {
		return &FixRejectedError{Reason: "empty result"}
	}
	if float64(len(fixed)) < MinFixRatio*float64(len(strings.TrimSpace(original))) {
		return &FixRejectedError{Reason: fmt.Sprintf("result is %d bytes, less than half of the %d byte input", len(fixed), len(strings.TrimSpace(original)))}
	}
	if !HasDocumentEnvironment(fixed) {
		return &FixRejectedError{Reason: "document environment missing"}
	}
	if msg := EnvironmentBalance(fixed); msg != "" {
		return &FixRejectedError{Reason: "unbalanced environments: " + msg}
	}
	return nil
}
