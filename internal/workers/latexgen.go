package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jonathan/docpipeline/internal/ingestion"
	"github.com/jonathan/docpipeline/internal/llm"
	"github.com/jonathan/docpipeline/internal/prompts"
	"github.com/jonathan/docpipeline/internal/rendering"
	"github.com/jonathan/docpipeline/internal/stage"
	"github.com/jonathan/docpipeline/internal/types"
	"github.com/jonathan/docpipeline/internal/validation"
)

// LaTeXGenerator turns reviewed content into a LaTeX document and applies
// corrections to an existing one
type LaTeXGenerator struct {
	settings Settings
	client   llm.Client
	logger   *slog.Logger
}

// NewLaTeXGenerator creates the LaTeX generation worker
func NewLaTeXGenerator(settings Settings, deps Deps) *LaTeXGenerator {
	deps = deps.withDefaults()
	return &LaTeXGenerator{settings: settings, client: deps.Client, logger: deps.Logger.With("worker", "latex_generator")}
}

// Name returns the worker identity
func (w *LaTeXGenerator) Name() string { return "latex_generator" }

// Process generates main.tex, or fixes the existing main.tex when a correction
// context is given. The output keeps the source files and drops any compiled PDF,
// which no longer matches the source.
func (w *LaTeXGenerator) Process(ctx context.Context, in stage.Input, correction *stage.CorrectionContext) (*stage.Output, error) {
	var extra []types.Issue
	var tex, notes string

	existing, hasTeX := in.Files[MainTeX]
	if correction != nil && hasTeX {
		fixed, err := w.fix(ctx, in.Files, string(existing), correction.Issues())
		var rejected *validation.FixRejectedError
		switch {
		case errors.As(err, &rejected):
			w.logger.Warn("correction rejected, keeping previous LaTeX", "reason", rejected.Reason)
			tex = string(existing)
			notes = rejected.Error()
			extra = append(extra, types.Issue{
				Category: types.CategoryStructure,
				Severity: types.SeverityMedium,
				Message:  rejected.Error(),
				Location: MainTeX,
			})
		case err != nil:
			return nil, err
		default:
			tex = fixed
			notes = fmt.Sprintf("applied fixes for %d issues", len(correction.Issues()))
		}
	} else {
		generated, fallback, err := w.generate(ctx, in.Files)
		if err != nil {
			return nil, err
		}
		tex = generated
		notes = "generated document"
		if fallback != nil {
			extra = append(extra, *fallback)
			notes = "generated document from template"
		}
	}

	files := copyFiles(in.Files, MainPDF)
	files[MainTeX] = []byte(tex)

	issues := append(validation.CheckStructure(tex), extra...)
	types.SortIssues(issues)
	return &stage.Output{
		Files:  files,
		Signal: types.QualityScore{Score: penaltyScore(issues), Issues: issues},
		Notes:  notes,
	}, nil
}

// generate renders the document with the model, or with the built-in template when
// no model is configured. Model output that is not a complete document is replaced
// by the template rendering; the returned issue records the substitution.
func (w *LaTeXGenerator) generate(ctx context.Context, files map[string][]byte) (string, *types.Issue, error) {
	if w.client == nil {
		tex, err := w.render(files)
		return tex, nil, err
	}

	prompt, err := prompts.Render("latex.json", "generate-document", map[string]string{
		"Title":    w.settings.Title,
		"Author":   w.settings.Author,
		"Sections": describeSections(files),
		"Tables":   describeTables(files),
		"Figures":  describeFigures(files),
	})
	if err != nil {
		return "", nil, &stage.WorkerFailure{Message: "failed to build generation prompt", Cause: err}
	}
	resp, err := w.client.GenerateContent(ctx, prompt, llm.TierAdvanced)
	if err != nil {
		return "", nil, &stage.WorkerFailure{Message: "LaTeX generation request failed", Cause: err}
	}

	tex := llm.ExtractLaTeX(resp)
	if validation.HasDocumentEnvironment(tex) && validation.EnvironmentBalance(tex) == "" {
		return tex + "\n", nil, nil
	}
	w.logger.Warn("model returned an incomplete document, using template")
	rendered, err := w.render(files)
	if err != nil {
		return "", nil, err
	}
	return rendered, &types.Issue{
		Category:   types.CategoryStructure,
		Severity:   types.SeverityLow,
		Message:    "model output was not a complete document; rendered from template",
		Location:   MainTeX,
		Suggestion: "review the generation prompt",
	}, nil
}

func (w *LaTeXGenerator) render(files map[string][]byte) (string, error) {
	tex, err := rendering.RenderFiles(files, w.settings.Title, w.settings.Author)
	if err != nil {
		return "", &stage.WorkerFailure{Message: "failed to render template", Cause: err}
	}
	return tex, nil
}

// fix applies corrections to existing. Without a model the document is re-rendered
// from its sources, which clears markup the template never produces.
func (w *LaTeXGenerator) fix(ctx context.Context, files map[string][]byte, existing string, issues []types.Issue) (string, error) {
	var fixed string
	if w.client == nil {
		if len(sectionPaths(files)) == 0 {
			return "", &validation.FixRejectedError{Reason: "no sources to re-render from"}
		}
		rendered, err := w.render(files)
		if err != nil {
			return "", err
		}
		fixed = rendered
	} else {
		prompt, err := prompts.Render("latex.json", "fix-document", map[string]string{
			"Issues": formatIssues(issues),
			"LaTeX":  existing,
		})
		if err != nil {
			return "", &stage.WorkerFailure{Message: "failed to build fix prompt", Cause: err}
		}
		resp, err := w.client.GenerateContent(ctx, prompt, llm.TierAdvanced)
		if err != nil {
			return "", &stage.WorkerFailure{Message: "LaTeX fix request failed", Cause: err}
		}
		fixed = llm.ExtractLaTeX(resp) + "\n"
	}
	if err := validation.ValidateFix(existing, fixed); err != nil {
		return "", err
	}
	return fixed, nil
}

func describeSections(files map[string][]byte) string {
	var b strings.Builder
	for _, p := range sectionPaths(files) {
		fmt.Fprintf(&b, "### %s\n%s\n\n", ingestion.SectionTitle(p, files[p]),
			validation.QuoteExternalContent("section", ingestion.SectionBody(files[p])))
	}
	return strings.TrimSpace(b.String())
}

func describeTables(files map[string][]byte) string {
	var b strings.Builder
	for _, p := range tablePaths(files) {
		table, err := rendering.ParseTable(p, files[p])
		if err != nil || len(table.Header) == 0 {
			continue
		}
		fmt.Fprintf(&b, "Table %q (caption: %s)\n%s\n", p, table.Caption, strings.Join(table.Header, ","))
		for _, row := range table.Rows {
			b.WriteString(strings.Join(row, ","))
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	if b.Len() == 0 {
		return "(none)"
	}
	return strings.TrimSpace(b.String())
}

func describeFigures(files map[string][]byte) string {
	var paths []string
	for p := range assets(files) {
		if types.KindForPath(p) == types.PayloadImage {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "- %s (caption: %s)\n", p, ingestion.FigureCaption(p))
	}
	if b.Len() == 0 {
		return "(none)"
	}
	return strings.TrimSpace(b.String())
}
