package workers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonathan/docpipeline/internal/ingestion"
	"github.com/jonathan/docpipeline/internal/llm"
	"github.com/jonathan/docpipeline/internal/prompts"
	"github.com/jonathan/docpipeline/internal/schemas"
	"github.com/jonathan/docpipeline/internal/stage"
	"github.com/jonathan/docpipeline/internal/types"
	"github.com/jonathan/docpipeline/internal/validation"
)

// maxTablePreviewLines bounds how much of each CSV table the reviewer sees
const maxTablePreviewLines = 6

// ContentReviewer cleans the source material, checks it and scores it
type ContentReviewer struct {
	settings Settings
	client   llm.Client
	logger   *slog.Logger
}

// NewContentReviewer creates the content review worker
func NewContentReviewer(settings Settings, deps Deps) *ContentReviewer {
	deps = deps.withDefaults()
	return &ContentReviewer{settings: settings, client: deps.Client, logger: deps.Logger.With("worker", "content_reviewer")}
}

// Name returns the worker identity
func (w *ContentReviewer) Name() string { return "content_reviewer" }

// Process normalizes every section, revises the sections named by the correction
// context and scores the result
func (w *ContentReviewer) Process(ctx context.Context, in stage.Input, correction *stage.CorrectionContext) (*stage.Output, error) {
	files := copyFiles(in.Files)
	sections := sectionPaths(files)
	for _, p := range sections {
		files[p] = []byte(ingestion.CleanText(string(files[p])) + "\n")
	}

	revised := 0
	if correction != nil {
		n, err := w.revise(ctx, files, sections, correction.Issues())
		if err != nil {
			return nil, err
		}
		revised = n
	}

	issues := w.check(files, sections)
	score := types.QualityScore{Score: penaltyScore(issues), Issues: issues}

	if w.client != nil && len(sections) > 0 {
		reviewed, err := w.score(ctx, files, sections)
		if err != nil {
			return nil, err
		}
		score.Dimensions = reviewed.Dimensions
		score.Score = types.ClampScore(reviewed.Score - (100 - score.Score))
		score.Issues = append(score.Issues, reviewed.Issues...)
	}
	types.SortIssues(score.Issues)

	return &stage.Output{
		Files:  files,
		Signal: score,
		Notes:  fmt.Sprintf("%d sections reviewed, %d revised", len(sections), revised),
	}, nil
}

// check runs the deterministic content checks
func (w *ContentReviewer) check(files map[string][]byte, sections []string) []types.Issue {
	if len(sections) == 0 {
		return []types.Issue{{
			Category: types.CategoryContent,
			Severity: types.SeverityCritical,
			Message:  "content has no sections",
			Location: ingestion.SectionsDir,
		}}
	}
	var issues []types.Issue
	for _, p := range sections {
		text := string(files[p])
		if ingestion.SectionBody(files[p]) == "" {
			issues = append(issues, types.Issue{
				Category:   types.CategoryContent,
				Severity:   types.SeverityHigh,
				Message:    "section has no content",
				Location:   p,
				Suggestion: "write the section or remove the file",
			})
		}
		issues = append(issues, validation.InjectionIssues(p, text, w.logger)...)
		issues = append(issues, validation.CheckForbiddenPhrases(p, text, w.settings.ForbiddenPhrases)...)
	}
	return issues
}

// revise rewrites the sections the issues point at. Injection phrases are removed
// deterministically; everything else needs the model. Issues without a section
// location apply to every section.
func (w *ContentReviewer) revise(ctx context.Context, files map[string][]byte, sections []string, issues []types.Issue) (int, error) {
	bySection := make(map[string][]types.Issue)
	var general []types.Issue
	for _, issue := range issues {
		if issue.Category == types.CategoryWorkerFailure {
			continue
		}
		p := issuePath(issue.Location)
		if _, ok := files[p]; ok && strings.HasPrefix(p, ingestion.SectionsDir) {
			bySection[p] = append(bySection[p], issue)
		} else {
			general = append(general, issue)
		}
	}

	revised := 0
	for _, p := range sections {
		targeted := append(append([]types.Issue(nil), bySection[p]...), general...)
		if len(targeted) == 0 {
			continue
		}
		text := string(files[p])
		for _, issue := range targeted {
			if issue.Category == types.CategoryInjection {
				text = validation.StripInjectionAttempts(text)
				break
			}
		}
		if w.client != nil {
			rewritten, err := w.reviseSection(ctx, p, text, targeted)
			if err != nil {
				return revised, err
			}
			if rewritten != "" {
				text = rewritten
			}
		}
		if text != string(files[p]) {
			files[p] = []byte(ingestion.CleanText(text) + "\n")
			revised++
		}
	}
	w.logger.Debug("sections revised", "count", revised, "issues", len(issues))
	return revised, nil
}

func (w *ContentReviewer) reviseSection(ctx context.Context, path, text string, issues []types.Issue) (string, error) {
	prompt, err := prompts.Render("review.json", "revise-section", map[string]string{
		"Issues":  formatIssues(issues),
		"Path":    path,
		"Content": text,
	})
	if err != nil {
		return "", &stage.WorkerFailure{Message: "failed to build revision prompt", Cause: err}
	}
	resp, err := w.client.GenerateContent(ctx, prompt, llm.TierStandard)
	if err != nil {
		return "", &stage.WorkerFailure{Message: fmt.Sprintf("failed to revise %s", path), Cause: err}
	}
	return strings.TrimSpace(llm.CleanJSONBlock(resp)), nil
}

// score asks the model for a review of the whole material
func (w *ContentReviewer) score(ctx context.Context, files map[string][]byte, sections []string) (types.QualityScore, error) {
	var material strings.Builder
	for _, p := range sections {
		fmt.Fprintf(&material, "FILE %s\n%s\n", p, files[p])
	}
	for _, p := range tablePaths(files) {
		lines := strings.SplitN(string(files[p]), "\n", maxTablePreviewLines+1)
		if len(lines) > maxTablePreviewLines {
			lines = lines[:maxTablePreviewLines]
		}
		fmt.Fprintf(&material, "TABLE %s\n%s\n", p, strings.Join(lines, "\n"))
	}

	prompt, err := prompts.Render("review.json", "score-content", map[string]string{
		"Title":   w.settings.Title,
		"Content": validation.QuoteExternalContent("material", material.String()),
	})
	if err != nil {
		return types.QualityScore{}, &stage.WorkerFailure{Message: "failed to build review prompt", Cause: err}
	}
	resp, err := w.client.GenerateJSON(ctx, prompt, llm.TierStandard)
	if err != nil {
		return types.QualityScore{}, &stage.WorkerFailure{Message: "content review request failed", Cause: err}
	}
	reviewed, err := schemas.DecodeReview([]byte(llm.CleanJSONBlock(resp)), types.CategoryContent)
	if err != nil {
		return types.QualityScore{}, &stage.AnalysisFailure{Stage: stage.ContentReview, Message: "invalid content review", Cause: err}
	}
	return reviewed, nil
}
