package rendering

import (
	"regexp"
	"strings"
)

var (
	inlinePattern  = regexp.MustCompile("\\*\\*([^*]+)\\*\\*|\\*([^*\\s][^*]*)\\*|`([^`]+)`|\\[([^\\]]+)\\]\\(([^)\\s]+)\\)")
	orderedItem    = regexp.MustCompile(`^\d+[.)]\s+`)
	tableSeparator = regexp.MustCompile(`^\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?$`)
)

// MarkdownToLaTeX converts the markdown subset found in report sections: headings,
// bullet and numbered lists, pipe tables, bold, italics, inline code and links. All
// other text is escaped.
func MarkdownToLaTeX(md string) string {
	c := &converter{}
	lines := strings.Split(strings.ReplaceAll(md, "\r\n", "\n"), "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], " \t")
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			c.closeList()
			c.blank()
		case strings.HasPrefix(trimmed, "#"):
			c.closeList()
			c.heading(trimmed)
		case strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") || strings.HasPrefix(trimmed, "+ "):
			c.item("itemize", trimmed[2:])
		case orderedItem.MatchString(trimmed):
			c.item("enumerate", orderedItem.ReplaceAllString(trimmed, ""))
		case strings.HasPrefix(trimmed, "|"):
			c.closeList()
			end := i
			for end < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[end]), "|") {
				end++
			}
			c.pipeTable(lines[i:end])
			i = end - 1
		default:
			c.closeList()
			c.text(Inline(trimmed))
		}
	}
	c.closeList()
	return strings.TrimSpace(c.out.String())
}

type converter struct {
	out  strings.Builder
	list string
}

func (c *converter) text(s string) {
	c.out.WriteString(s)
	c.out.WriteByte('\n')
}

func (c *converter) blank() {
	s := c.out.String()
	if s != "" && !strings.HasSuffix(s, "\n\n") {
		c.out.WriteByte('\n')
	}
}

func (c *converter) heading(line string) {
	level := len(line) - len(strings.TrimLeft(line, "#"))
	title := Inline(strings.TrimSpace(line[level:]))
	switch {
	case level <= 2:
		c.text(`\subsection{` + title + `}`)
	case level == 3:
		c.text(`\subsubsection{` + title + `}`)
	default:
		c.text(`\paragraph{` + title + `}`)
	}
}

func (c *converter) item(env, body string) {
	if c.list != env {
		c.closeList()
		c.text(`\begin{` + env + `}`)
		c.list = env
	}
	c.text(`  \item ` + Inline(strings.TrimSpace(body)))
}

func (c *converter) closeList() {
	if c.list != "" {
		c.text(`\end{` + c.list + `}`)
		c.list = ""
	}
}

func (c *converter) pipeTable(lines []string) {
	var rows [][]string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if tableSeparator.MatchString(line) {
			continue
		}
		line = strings.TrimSuffix(strings.TrimPrefix(line, "|"), "|")
		cells := strings.Split(line, "|")
		for i := range cells {
			cells[i] = Inline(strings.TrimSpace(cells[i]))
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 {
		return
	}
	width := len(rows[0])
	c.text(`\begin{table}[H]`)
	c.text(`\centering`)
	c.text(`\begin{tabular}{` + strings.Repeat("l", width) + `}`)
	c.text(`\toprule`)
	for i, row := range rows {
		fixed := make([]string, width)
		copy(fixed, row)
		c.text(strings.Join(fixed, " & ") + ` \\`)
		if i == 0 {
			c.text(`\midrule`)
		}
	}
	c.text(`\bottomrule`)
	c.text(`\end{tabular}`)
	c.text(`\end{table}`)
}

// Inline converts inline markdown (bold, italics, code, links) and escapes the rest
func Inline(s string) string {
	var b strings.Builder
	last := 0
	for _, m := range inlinePattern.FindAllStringSubmatchIndex(s, -1) {
		b.WriteString(EscapeLaTeX(s[last:m[0]]))
		switch {
		case m[2] >= 0:
			b.WriteString(`\textbf{` + EscapeLaTeX(s[m[2]:m[3]]) + `}`)
		case m[4] >= 0:
			b.WriteString(`\textit{` + EscapeLaTeX(s[m[4]:m[5]]) + `}`)
		case m[6] >= 0:
			b.WriteString(`\texttt{` + EscapeLaTeX(s[m[6]:m[7]]) + `}`)
		case m[8] >= 0:
			b.WriteString(`\href{` + EscapeURL(s[m[10]:m[11]]) + `}{` + EscapeLaTeX(s[m[8]:m[9]]) + `}`)
		}
		last = m[1]
	}
	b.WriteString(EscapeLaTeX(s[last:]))
	return b.String()
}
