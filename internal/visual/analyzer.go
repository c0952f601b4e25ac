package visual

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonathan/docpipeline/internal/llm"
	"github.com/jonathan/docpipeline/internal/prompts"
	"github.com/jonathan/docpipeline/internal/schemas"
	"github.com/jonathan/docpipeline/internal/types"
)

// Analyzer scores rendered pages
type Analyzer interface {
	Analyze(ctx context.Context, pages []Page) (types.QualityScore, error)
}

// VisionAnalyzer asks a vision model to review page images
type VisionAnalyzer struct {
	client llm.Client
	logger *slog.Logger
}

// NewVisionAnalyzer creates an analyzer backed by client. A nil logger uses slog.Default.
func NewVisionAnalyzer(client llm.Client, logger *slog.Logger) *VisionAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &VisionAnalyzer{client: client, logger: logger}
}

// Analyze sends every page image, labelled with its page number, and decodes the
// model's review. Issues the model leaves uncategorized count as layout problems.
func (a *VisionAnalyzer) Analyze(ctx context.Context, pages []Page) (types.QualityScore, error) {
	if len(pages) == 0 {
		return types.QualityScore{}, fmt.Errorf("no pages to analyze")
	}
	prompt, err := prompts.Get("visual.json", "analyze-pages")
	if err != nil {
		return types.QualityScore{}, err
	}

	images := make([]llm.Image, 0, len(pages))
	for _, p := range pages {
		images = append(images, llm.Image{Format: "png", Data: p.PNG, Label: fmt.Sprintf("Page %d:", p.Number)})
	}
	a.logger.Debug("sending pages to vision model", "pages", len(pages), "model", a.client.GetModel(llm.TierVision))

	resp, err := a.client.GenerateWithImages(ctx, prompt, images, llm.TierVision)
	if err != nil {
		return types.QualityScore{}, fmt.Errorf("failed to analyze pages: %w", err)
	}
	score, err := schemas.DecodeReview([]byte(llm.CleanJSONBlock(resp)), types.CategoryLayout)
	if err != nil {
		return types.QualityScore{}, fmt.Errorf("failed to decode page review: %w", err)
	}
	return score, nil
}
