package workers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/docpipeline/internal/stage"
	"github.com/jonathan/docpipeline/internal/types"
	"github.com/jonathan/docpipeline/internal/validation"
	"github.com/jonathan/docpipeline/internal/visual"
)

type fakeRenderer struct {
	pages []visual.Page
	err   error
}

func (f fakeRenderer) Rasterize(context.Context, []byte) ([]visual.Page, error) {
	return f.pages, f.err
}

type fakeAnalyzer struct {
	score types.QualityScore
	err   error
}

func (f fakeAnalyzer) Analyze(context.Context, []visual.Page) (types.QualityScore, error) {
	return f.score, f.err
}

func compiles(log string) CompileFunc {
	return func(context.Context, []byte, map[string][]byte) (*validation.CompileResult, error) {
		return &validation.CompileResult{PDF: []byte("%PDF-new"), Log: log}, nil
	}
}

func TestVisualReviewer_CleanPages(t *testing.T) {
	w := NewVisualReviewer(Settings{MaxPages: 5}, Deps{
		Compile:  compiles("[1] [2]"),
		Renderer: fakeRenderer{pages: []visual.Page{{Number: 1, Text: "Introduction"}, {Number: 2, Text: "Results"}}},
		Analyzer: fakeAnalyzer{score: types.QualityScore{Score: 93, Dimensions: map[string]float64{"layout": 95}}},
	})

	files := texFiles()
	files[MainPDF] = []byte("%PDF-stale")
	out, err := w.Process(context.Background(), stage.Input{Files: files}, nil)
	require.NoError(t, err)
	assert.Equal(t, 93.0, out.Signal.Score)
	assert.Equal(t, 95.0, out.Signal.Dimensions["layout"])
	assert.Empty(t, out.Signal.Issues)
	assert.Equal(t, []byte("%PDF-new"), out.Files[MainPDF])
	assert.Equal(t, "reviewed 2 pages", out.Notes)
}

func TestVisualReviewer_UnrenderedMarkup(t *testing.T) {
	w := NewVisualReviewer(Settings{}, Deps{
		Compile: compiles("[1] [2]\n! Undefined control sequence.\nl.40 Hello \\foo\n[3]"),
		Renderer: fakeRenderer{pages: []visual.Page{
			{Number: 1, Text: "fine"},
			{Number: 2, Text: "fine"},
			{Number: 3, Text: "The \\textbf{key} result"},
		}},
		Analyzer: fakeAnalyzer{score: types.QualityScore{Score: 90}},
	})

	out, err := w.Process(context.Background(), stage.Input{Files: texFiles()}, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(UnrenderedMarkupScoreCap), out.Signal.Score)
	require.Len(t, out.Signal.Issues, 1)
	assert.Equal(t, types.CategoryUnrenderedMarkup, out.Signal.Issues[0].Category)
	assert.Equal(t, "page 3", out.Signal.Issues[0].Location)
}

func TestVisualReviewer_WithoutAnalyzer(t *testing.T) {
	pages := make([]visual.Page, 3)
	for i := range pages {
		pages[i] = visual.Page{Number: i + 1, Text: "ok"}
	}
	w := NewVisualReviewer(Settings{MaxPages: 2}, Deps{Compile: compiles(""), Renderer: fakeRenderer{pages: pages}})

	out, err := w.Process(context.Background(), stage.Input{Files: texFiles()}, nil)
	require.NoError(t, err)
	assert.True(t, out.Signal.HasCategory(types.CategoryPageOverflow))
	assert.Equal(t, 85.0, out.Signal.Score)
}

func TestVisualReviewer_CompileFailure(t *testing.T) {
	w := NewVisualReviewer(Settings{}, Deps{
		Compile: func(context.Context, []byte, map[string][]byte) (*validation.CompileResult, error) {
			return nil, &validation.CompilationError{Message: "PDF was not generated", Log: "! Emergency stop.\nl.3 \\begin{document}"}
		},
		Renderer: fakeRenderer{},
	})

	out, err := w.Process(context.Background(), stage.Input{Files: texFiles()}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, out.Signal.Score)
	assert.True(t, out.Signal.HasCategory(types.CategoryCompileError))
	assert.NotContains(t, out.Files, MainPDF)
}

func TestVisualReviewer_Failures(t *testing.T) {
	var failure *stage.WorkerFailure

	w := NewVisualReviewer(Settings{}, Deps{
		Compile: func(context.Context, []byte, map[string][]byte) (*validation.CompileResult, error) {
			return nil, &validation.CompilationError{Message: "pdflatex not found in PATH"}
		},
		Renderer: fakeRenderer{},
	})
	_, err := w.Process(context.Background(), stage.Input{Files: texFiles()}, nil)
	require.ErrorAs(t, err, &failure)

	w = NewVisualReviewer(Settings{}, Deps{Compile: compiles(""), Renderer: fakeRenderer{err: errors.New("pdftoppm crashed")}})
	_, err = w.Process(context.Background(), stage.Input{Files: texFiles()}, nil)
	require.ErrorAs(t, err, &failure)
	assert.ErrorContains(t, err, "pdftoppm crashed")

	w = NewVisualReviewer(Settings{}, Deps{
		Compile:  compiles(""),
		Renderer: fakeRenderer{pages: []visual.Page{{Number: 1}}},
		Analyzer: fakeAnalyzer{err: errors.New("vision model unavailable")},
	})
	_, err = w.Process(context.Background(), stage.Input{Files: texFiles()}, nil)
	require.ErrorAs(t, err, &failure)

	_, err = w.Process(context.Background(), stage.Input{Files: sourceFiles()}, nil)
	require.ErrorAs(t, err, &failure)
}
