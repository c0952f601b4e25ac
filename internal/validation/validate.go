package validation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonathan/docpipeline/internal/types"
)

// Options holds the document constraints
type Options struct {
	MaxPages         int
	MaxCharsPerLine  int
	ForbiddenPhrases []string
}

// Report is the result of compiling and checking a document
type Report struct {
	PDF      []byte
	Pages    int
	Log      string
	Compiled bool
	Issues   []types.Issue
}

// CheckDocument runs the source checks, compiles tex with its assets and checks the
// PDF. A failed compilation is an issue, not an error; the error return is reserved
// for the environment being unable to compile at all (no pdflatex, cancellation).
func CheckDocument(ctx context.Context, tex []byte, assets map[string][]byte, opts Options) (*Report, error) {
	source := string(tex)
	report := &Report{}
	report.Issues = append(report.Issues, CheckStructure(source)...)
	report.Issues = append(report.Issues, ValidateLineLengths(source, opts.MaxCharsPerLine)...)
	report.Issues = append(report.Issues, CheckForbiddenPhrases(MainTeX, source, opts.ForbiddenPhrases)...)

	result, err := Compile(ctx, tex, assets)
	if err != nil {
		var compErr *CompilationError
		if !errors.As(err, &compErr) || compErr.Log == "" {
			return nil, err
		}
		report.Log = compErr.Log
		report.Issues = append(report.Issues, ParseLog(compErr.Log)...)
		report.Issues = append(report.Issues, types.Issue{
			Category: types.CategoryCompileError,
			Severity: types.SeverityCritical,
			Message:  "pdflatex produced no PDF",
		})
		types.SortIssues(report.Issues)
		return report, nil
	}

	report.PDF = result.PDF
	report.Log = result.Log
	report.Compiled = true
	report.Issues = append(report.Issues, ParseLog(result.Log)...)

	pages, err := 0, ValidatePDF(result.PDF)
	if err == nil {
		pages, err = CountPDFPages(result.PDF)
	}
	if err != nil {
		report.Issues = append(report.Issues, types.Issue{
			Category: types.CategoryCompileError,
			Severity: types.SeverityHigh,
			Message:  fmt.Sprintf("could not read compiled PDF: %v", err),
		})
	} else {
		report.Pages = pages
		if issue, over := PageOverflow(pages, opts.MaxPages); over {
			report.Issues = append(report.Issues, issue)
		}
	}
	types.SortIssues(report.Issues)
	return report, nil
}
