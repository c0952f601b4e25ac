// Package observability provides logging, metrics and formatted output for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/jonathan/docpipeline/internal/pipeline"
	"github.com/jonathan/docpipeline/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for the report and versions commands
type Printer struct {
	out      io.Writer
	markdown bool
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// NewMarkdownPrinter creates a Printer that renders tables as Markdown
func NewMarkdownPrinter(out io.Writer) *Printer {
	return &Printer{out: out, markdown: true}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		if len([]rune(line)) > boxWidth-4 {
			line = string([]rune(line)[:boxWidth-7]) + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

func (p *Printer) newTable() table.Writer {
	w := table.NewWriter()
	if !p.markdown {
		w.SetStyle(table.StyleLight)
	}
	return w
}

//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) render(w table.Writer) {
	if p.markdown {
		fmt.Fprintln(p.out, w.RenderMarkdown())
		return
	}
	fmt.Fprintln(p.out, w.Render())
}

// PrintReport outputs the run header, the per-stage table and the top issues of the last stage
func (p *Printer) PrintReport(r *pipeline.Report) {
	if r == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run:     %s\n", r.RunID))
	sb.WriteString(fmt.Sprintf("Source:  %s\n", r.Source))
	sb.WriteString(fmt.Sprintf("Status:  %s", r.Status))
	if r.Reason != "" {
		sb.WriteString(fmt.Sprintf(" (%s)", r.Reason))
	}
	sb.WriteString("\n")
	if r.FinalScore != nil {
		sb.WriteString(fmt.Sprintf("Score:   %.1f\n", *r.FinalScore))
	}
	if r.Degraded {
		sb.WriteString("Mode:    degraded (escalated stage continued)\n")
	}
	sb.WriteString(fmt.Sprintf("Versions: %d", len(r.Versions)))
	if r.CausedBy != nil {
		sb.WriteString(fmt.Sprintf("\nCause:   %s attempt %d: %s", r.CausedBy.Stage, r.CausedBy.Attempt, r.CausedBy.Message))
	}
	p.printBox("PIPELINE REPORT", sb.String())

	w := p.newTable()
	w.AppendHeader(table.Row{"Stage", "Attempts", "Corrections", "Scores", "Decision", "Mark"})
	for _, s := range r.Stages {
		w.AppendRow(table.Row{s.Name, s.Attempts, s.Corrections, formatScores(s.Scores), decisionLabel(s), s.Mark})
	}
	w.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	p.render(w)

	if len(r.Stages) > 0 {
		last := r.Stages[len(r.Stages)-1]
		p.PrintIssues(last.Name, last.TopIssues)
	}
}

// PrintIssues outputs the given issues, most severe first
func (p *Printer) PrintIssues(stageName string, issues []types.Issue) {
	if len(issues) == 0 {
		return
	}
	var sb strings.Builder
	count := min(len(issues), maxItemsToShow)
	for i := 0; i < count; i++ {
		issue := issues[i]
		sb.WriteString(fmt.Sprintf("[%s] %s", issue.Severity, issue.Message))
		if issue.Location != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", issue.Location))
		}
		if i < count-1 {
			sb.WriteString("\n")
		}
	}
	if len(issues) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("\n... and %d more", len(issues)-maxItemsToShow))
	}
	p.printBox(fmt.Sprintf("ISSUES: %s", stageName), sb.String())
}

// PrintVersions outputs one row per committed version
func (p *Printer) PrintVersions(units []types.ContentUnit) {
	if len(units) == 0 {
		return
	}
	w := p.newTable()
	w.AppendHeader(table.Row{"Version", "Stage", "Parent", "Files", "Produced By", "Created"})
	for _, u := range units {
		parent := u.Parent
		if parent == "" {
			parent = "-"
		}
		w.AppendRow(table.Row{u.VersionID, u.StageName, parent, len(u.Payloads), u.ProducedBy, u.CreatedAt.Format("15:04:05")})
	}
	p.render(w)
}

// PrintChanges outputs the file-level changes between two versions
func (p *Printer) PrintChanges(record types.ChangeRecord) {
	from := record.FromVersion
	if from == "" {
		from = "(none)"
	}
	w := p.newTable()
	w.SetTitle(fmt.Sprintf("%s → %s", from, record.ToVersion))
	w.AppendHeader(table.Row{"Path", "Change"})
	for _, path := range sortedKeys(record.Changes) {
		w.AppendRow(table.Row{path, record.Changes[path]})
	}
	w.AppendFooter(table.Row{"", record.Summary})
	p.render(w)
}

func formatScores(scores []float64) string {
	parts := make([]string, len(scores))
	for i, s := range scores {
		parts[i] = fmt.Sprintf("%.1f", s)
	}
	return strings.Join(parts, " → ")
}

func decisionLabel(s pipeline.StageSummary) string {
	if s.Escalated {
		return string(s.Decision) + " (continued)"
	}
	return string(s.Decision)
}
