// Package ingestion builds the original content of a run (v0_original) from a
// directory, a single file or a URL.
package ingestion

import (
	"regexp"
	"strings"
)

var (
	multiSpace    = regexp.MustCompile(`\s+`)
	excessBlanks  = regexp.MustCompile(`\n\n\n+`)
	markdownTable = regexp.MustCompile(`^\s*\|`)
)

// CleanText normalizes line endings and whitespace while keeping markdown structure
// (headings, bullets, indentation and table rows).
func CleanText(content string) string {
	if content == "" {
		return ""
	}

	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = cleanLine(line)
	}

	result := strings.Join(lines, "\n")
	result = excessBlanks.ReplaceAllString(result, "\n\n")
	return strings.TrimSpace(result)
}

// cleanLine cleans a single line while preserving structure
func cleanLine(line string) string {
	line = strings.TrimRight(line, " \t")
	if strings.TrimSpace(line) == "" {
		return ""
	}

	trimmed := strings.TrimLeft(line, " \t")
	if strings.HasPrefix(trimmed, "#") {
		return trimmed
	}
	// Table rows keep their cell padding
	if markdownTable.MatchString(line) {
		return trimmed
	}

	indent := len(line) - len(trimmed)
	if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
		return strings.Repeat(" ", indent) + trimmed
	}
	return strings.Repeat(" ", indent) + multiSpace.ReplaceAllString(trimmed, " ")
}
