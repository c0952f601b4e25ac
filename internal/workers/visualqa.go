package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonathan/docpipeline/internal/stage"
	"github.com/jonathan/docpipeline/internal/types"
	"github.com/jonathan/docpipeline/internal/validation"
	"github.com/jonathan/docpipeline/internal/visual"
)

// UnrenderedMarkupScoreCap bounds the score of a document with markup visible on
// a page, so that the gate sends it back for correction
const UnrenderedMarkupScoreCap = 60

// VisualReviewer compiles the current LaTeX, renders the pages and reviews them
type VisualReviewer struct {
	settings Settings
	compile  CompileFunc
	renderer PageRenderer
	analyzer visual.Analyzer
	logger   *slog.Logger
}

// NewVisualReviewer creates the visual QA worker. Without an analyzer the pages are
// checked by deterministic markup detection only.
func NewVisualReviewer(settings Settings, deps Deps) *VisualReviewer {
	deps = deps.withDefaults()
	return &VisualReviewer{
		settings: settings,
		compile:  deps.Compile,
		renderer: deps.Renderer,
		analyzer: deps.Analyzer,
		logger:   deps.Logger.With("worker", "visual_reviewer"),
	}
}

// Name returns the worker identity
func (w *VisualReviewer) Name() string { return "visual_reviewer" }

// Process always recompiles, since a redirected correction changes main.tex without
// producing a new PDF. The correction context is not used: fixes are made by the
// retry target.
func (w *VisualReviewer) Process(ctx context.Context, in stage.Input, _ *stage.CorrectionContext) (*stage.Output, error) {
	tex, ok := in.Files[MainTeX]
	if !ok {
		return nil, &stage.WorkerFailure{Message: "input has no " + MainTeX}
	}
	files := copyFiles(in.Files, MainPDF)

	result, err := w.compile(ctx, tex, assets(in.Files))
	if err != nil {
		var compErr *validation.CompilationError
		if !errors.As(err, &compErr) || compErr.Log == "" {
			return nil, &stage.WorkerFailure{Message: "could not compile document", Cause: err}
		}
		issues := append(validation.ParseLog(compErr.Log), types.Issue{
			Category: types.CategoryCompileError,
			Severity: types.SeverityCritical,
			Message:  "document does not compile, no pages to review",
			Location: MainTeX,
		})
		types.SortIssues(issues)
		return &stage.Output{Files: files, Signal: types.QualityScore{Score: 0, Issues: issues}, Notes: "compilation failed"}, nil
	}
	files[MainPDF] = result.PDF

	pages, err := w.renderer.Rasterize(ctx, result.PDF)
	if err != nil {
		return nil, &stage.WorkerFailure{Message: "could not render pages", Cause: err}
	}

	detected := visual.MergeIssues(
		visual.DetectUnrenderedMarkup(pages),
		visual.PageIssuesFromLog(validation.ParseLog(result.Log)),
	)
	if issue, over := validation.PageOverflow(len(pages), w.settings.MaxPages); over {
		detected = append(detected, issue)
	}

	score := types.QualityScore{Score: penaltyScore(detected)}
	if w.analyzer != nil {
		reviewed, err := w.analyzer.Analyze(ctx, pages)
		if err != nil {
			return nil, &stage.WorkerFailure{Message: "page review failed", Cause: err}
		}
		score.Score = min(reviewed.Score, score.Score)
		score.Dimensions = reviewed.Dimensions
		score.Issues = reviewed.Issues
	}
	score.Issues = visual.MergeIssues(score.Issues, detected)
	if score.HasCategory(types.CategoryUnrenderedMarkup) {
		score.Score = min(score.Score, UnrenderedMarkupScoreCap)
	}
	w.logger.Debug("pages reviewed", "pages", len(pages), "score", score.Score, "issues", len(score.Issues))

	return &stage.Output{
		Files:  files,
		Signal: score,
		Notes:  fmt.Sprintf("reviewed %d pages", len(pages)),
	}, nil
}
