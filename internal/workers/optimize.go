package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jonathan/docpipeline/internal/llm"
	"github.com/jonathan/docpipeline/internal/prompts"
	"github.com/jonathan/docpipeline/internal/stage"
	"github.com/jonathan/docpipeline/internal/types"
	"github.com/jonathan/docpipeline/internal/validation"
)

// UncompiledScoreCap bounds the score of a document that produced no PDF
const UncompiledScoreCap = 40

// Optimizer compiles the document, checks it against the page and line limits and,
// under correction, repairs the LaTeX first
type Optimizer struct {
	settings Settings
	client   llm.Client
	check    CheckFunc
	logger   *slog.Logger
}

// NewOptimizer creates the optimization/compile worker
func NewOptimizer(settings Settings, deps Deps) *Optimizer {
	deps = deps.withDefaults()
	return &Optimizer{settings: settings, client: deps.Client, check: deps.Check, logger: deps.Logger.With("worker", "optimizer")}
}

// Name returns the worker identity
func (w *Optimizer) Name() string { return "optimizer" }

// Process outputs main.tex and, when compilation succeeded, main.pdf
func (w *Optimizer) Process(ctx context.Context, in stage.Input, correction *stage.CorrectionContext) (*stage.Output, error) {
	existing, ok := in.Files[MainTeX]
	if !ok {
		return nil, &stage.WorkerFailure{Message: "input has no " + MainTeX}
	}
	tex := string(existing)
	notes := "compiled"

	var extra []types.Issue
	if correction != nil && w.client != nil {
		repaired, err := w.repair(ctx, tex, correction.Issues())
		var rejected *validation.FixRejectedError
		switch {
		case errors.As(err, &rejected):
			w.logger.Warn("repair rejected, compiling previous LaTeX", "reason", rejected.Reason)
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
			tex = repaired
			notes = "repaired and compiled"
		}
	}

	report, err := w.check(ctx, []byte(tex), assets(in.Files), w.settings.validationOptions())
	if err != nil {
		return nil, &stage.WorkerFailure{Message: "could not compile document", Cause: err}
	}

	files := copyFiles(in.Files, MainPDF)
	files[MainTeX] = []byte(tex)
	if report.Compiled {
		files[MainPDF] = report.PDF
	}

	issues := append(report.Issues, extra...)
	types.SortIssues(issues)
	score := penaltyScore(issues)
	compiled := 100.0
	if !report.Compiled {
		score = min(score, UncompiledScoreCap)
		compiled = 0
	}
	w.logger.Debug("document checked", "compiled", report.Compiled, "pages", report.Pages, "issues", len(issues))

	return &stage.Output{
		Files: files,
		Signal: types.QualityScore{
			Score: score,
			Dimensions: map[string]float64{
				"compile": compiled,
				"source":  penaltyScore(sourceIssues(issues)),
			},
			Issues: issues,
		},
		Notes: fmt.Sprintf("%s, %d pages", notes, report.Pages),
	}, nil
}

func (w *Optimizer) repair(ctx context.Context, tex string, issues []types.Issue) (string, error) {
	prompt, err := prompts.Render("optimize.json", "repair-compile", map[string]string{
		"MaxPages": strconv.Itoa(w.settings.MaxPages),
		"Issues":   formatIssues(issues),
		"LaTeX":    tex,
	})
	if err != nil {
		return "", &stage.WorkerFailure{Message: "failed to build repair prompt", Cause: err}
	}
	resp, err := w.client.GenerateContent(ctx, prompt, llm.TierAdvanced)
	if err != nil {
		return "", &stage.WorkerFailure{Message: "LaTeX repair request failed", Cause: err}
	}
	repaired := llm.ExtractLaTeX(resp) + "\n"
	if err := validation.ValidateFix(tex, repaired); err != nil {
		return "", err
	}
	return repaired, nil
}

// sourceIssues keeps the issues found in the LaTeX source rather than the compile log
func sourceIssues(issues []types.Issue) []types.Issue {
	var out []types.Issue
	for _, issue := range issues {
		switch issue.Category {
		case types.CategoryLineTooLong, types.CategoryForbiddenPhrase, types.CategoryStructure:
			out = append(out, issue)
		}
	}
	return out
}
