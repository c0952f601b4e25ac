// Package workers implements the four stage workers of the document pipeline:
// content review, LaTeX generation, optimization and visual QA.
package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jonathan/docpipeline/internal/config"
	"github.com/jonathan/docpipeline/internal/ingestion"
	"github.com/jonathan/docpipeline/internal/llm"
	"github.com/jonathan/docpipeline/internal/stage"
	"github.com/jonathan/docpipeline/internal/types"
	"github.com/jonathan/docpipeline/internal/validation"
	"github.com/jonathan/docpipeline/internal/visual"
)

// File names of the generated document
const (
	MainTeX = validation.MainTeX
	MainPDF = "main.pdf"
)

// Settings are the document limits shared by the workers
type Settings struct {
	Title            string
	Author           string
	MaxPages         int
	MaxCharsPerLine  int
	ForbiddenPhrases []string
}

// SettingsFromConfig copies the document limits out of a pipeline configuration
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Title:            cfg.Title,
		Author:           cfg.Author,
		MaxPages:         cfg.MaxPages,
		MaxCharsPerLine:  cfg.MaxCharsPerLine,
		ForbiddenPhrases: cfg.ForbiddenPhrases,
	}
}

func (s Settings) validationOptions() validation.Options {
	return validation.Options{
		MaxPages:         s.MaxPages,
		MaxCharsPerLine:  s.MaxCharsPerLine,
		ForbiddenPhrases: s.ForbiddenPhrases,
	}
}

// CompileFunc compiles a LaTeX document with its assets
type CompileFunc func(ctx context.Context, tex []byte, assets map[string][]byte) (*validation.CompileResult, error)

// CheckFunc compiles a document and checks the source and the PDF
type CheckFunc func(ctx context.Context, tex []byte, assets map[string][]byte, opts validation.Options) (*validation.Report, error)

// PageRenderer turns a PDF into page images
type PageRenderer interface {
	Rasterize(ctx context.Context, pdf []byte) ([]visual.Page, error)
}

// Deps are the collaborators of the workers. A nil Client disables every model
// call: content is scored by the deterministic checks alone and LaTeX comes from
// the built-in template.
type Deps struct {
	Client   llm.Client
	Logger   *slog.Logger
	Compile  CompileFunc
	Check    CheckFunc
	Renderer PageRenderer
	Analyzer visual.Analyzer
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Compile == nil {
		d.Compile = validation.Compile
	}
	if d.Check == nil {
		d.Check = validation.CheckDocument
	}
	if d.Renderer == nil {
		d.Renderer = visual.NewRasterizer()
	}
	if d.Analyzer == nil && d.Client != nil {
		d.Analyzer = visual.NewVisionAnalyzer(d.Client, d.Logger.With("component", "vision"))
	}
	return d
}

// New returns the worker of a built-in stage
func New(stageName string, settings Settings, deps Deps) (stage.Worker, error) {
	switch stageName {
	case stage.ContentReview:
		return NewContentReviewer(settings, deps), nil
	case stage.LaTeXGeneration:
		return NewLaTeXGenerator(settings, deps), nil
	case stage.Optimization:
		return NewOptimizer(settings, deps), nil
	case stage.VisualQA:
		return NewVisualReviewer(settings, deps), nil
	default:
		return nil, fmt.Errorf("no worker for stage %q", stageName)
	}
}

// NewRegistry builds the configured stages in order with their workers
func NewRegistry(cfg *config.Config, deps Deps) (*stage.Registry, error) {
	settings := SettingsFromConfig(cfg)
	stages := make([]stage.Stage, 0, len(cfg.Stages))
	for _, sc := range cfg.Stages {
		worker, err := New(sc.Name, settings, deps)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage.Stage{
			Name:          sc.Name,
			Worker:        worker,
			Thresholds:    sc.Thresholds(),
			MaxIterations: sc.MaxIterations,
			RetryTarget:   sc.RetryTarget,
		})
	}
	return stage.NewRegistry(stages...)
}

// severityPenalty is deducted from 100 per issue in the deterministic score
var severityPenalty = map[types.Severity]float64{
	types.SeverityCritical: 30,
	types.SeverityHigh:     15,
	types.SeverityMedium:   5,
	types.SeverityLow:      1,
}

// penaltyScore scores a set of issues from 100 down
func penaltyScore(issues []types.Issue) float64 {
	score := 100.0
	for _, issue := range issues {
		score -= severityPenalty[issue.Severity]
	}
	return types.ClampScore(score)
}

// formatIssues renders issues as a numbered list for a prompt
func formatIssues(issues []types.Issue) string {
	if len(issues) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, issue := range issues {
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, issue.Severity, issue.Category)
		if issue.Location != "" {
			fmt.Fprintf(&b, " at %s", issue.Location)
		}
		fmt.Fprintf(&b, ": %s", issue.Message)
		if issue.Suggestion != "" {
			fmt.Fprintf(&b, " (suggestion: %s)", issue.Suggestion)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// copyFiles returns a shallow copy of files without the named paths
func copyFiles(files map[string][]byte, drop ...string) map[string][]byte {
	out := make(map[string][]byte, len(files))
	for p, data := range files {
		out[p] = data
	}
	for _, p := range drop {
		delete(out, p)
	}
	return out
}

// assets returns the figure files a document includes
func assets(files map[string][]byte) map[string][]byte {
	out := make(map[string][]byte)
	for p, data := range files {
		if strings.HasPrefix(p, ingestion.FiguresDir) {
			out[p] = data
		}
	}
	return out
}

// sectionPaths returns the section files in document order
func sectionPaths(files map[string][]byte) []string {
	var paths []string
	for p := range files {
		if strings.HasPrefix(p, ingestion.SectionsDir) {
			paths = append(paths, p)
		}
	}
	return ingestion.OrderSections(paths)
}

func tablePaths(files map[string][]byte) []string {
	var paths []string
	for p := range files {
		if strings.HasPrefix(p, ingestion.TablesDir) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// issuePath returns the file an issue location names, without a ":line" suffix
func issuePath(location string) string {
	if i := strings.LastIndex(location, ":"); i > 0 {
		return location[:i]
	}
	return location
}
