package rendering

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInline(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bold", "a **strong** claim", `a \textbf{strong} claim`},
		{"italic", "an *aside* here", `an \textit{aside} here`},
		{"code", "call `run_all()`", `call \texttt{run\_all()}`},
		{"link", "see [docs](https://x.org/a#b)", `see \href{https://x.org/a\#b}{docs}`},
		{"escaped outside markup", "50% of $cost", `50\% of \$cost`},
		{"lone star is text", "a * b", "a * b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Inline(tt.input))
		})
	}
}

func TestMarkdownToLaTeX_Structure(t *testing.T) {
	md := "Intro with _underscores_.\n\n## Setup\n- one\n- **two**\n\n1. first\n2. second\n### Detail\nEnd."

	want := "Intro with \\_underscores\\_.\n\n" +
		"\\subsection{Setup}\n" +
		"\\begin{itemize}\n  \\item one\n  \\item \\textbf{two}\n\\end{itemize}\n\n" +
		"\\begin{enumerate}\n  \\item first\n  \\item second\n\\end{enumerate}\n" +
		"\\subsubsection{Detail}\n" +
		"End."
	assert.Equal(t, want, MarkdownToLaTeX(md))
}

func TestMarkdownToLaTeX_ListSwitchClosesPrevious(t *testing.T) {
	got := MarkdownToLaTeX("- a\n1. b")
	assert.Equal(t, "\\begin{itemize}\n  \\item a\n\\end{itemize}\n\\begin{enumerate}\n  \\item b\n\\end{enumerate}", got)
}

func TestMarkdownToLaTeX_PipeTable(t *testing.T) {
	got := MarkdownToLaTeX("| Model | F1 |\n|---|:---:|\n| base | 0.9 |\n| big |")

	assert.Contains(t, got, `\begin{tabular}{ll}`)
	assert.Contains(t, got, "Model & F1 \\\\\n\\midrule\nbase & 0.9 \\\\\nbig &  \\\\")
	assert.NotContains(t, got, "|")
	assert.NotContains(t, got, "---")
}

func TestMarkdownToLaTeX_NoMarkdownLeaks(t *testing.T) {
	got := MarkdownToLaTeX("# Title\n**bold** and `code`\n* item")
	assert.NotContains(t, got, "**")
	assert.NotContains(t, got, "`")
	assert.NotContains(t, got, "# ")
}
