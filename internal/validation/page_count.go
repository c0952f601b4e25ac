package validation

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/jonathan/docpipeline/internal/types"
)

func pdfConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

// CountPDFPages returns the number of pages of an in-memory PDF
func CountPDFPages(pdf []byte) (int, error) {
	if len(pdf) == 0 {
		return 0, &Error{Message: "empty PDF"}
	}
	n, err := api.PageCount(bytes.NewReader(pdf), pdfConfig())
	if err != nil {
		return 0, &Error{Message: "failed to count PDF pages", Cause: err}
	}
	return n, nil
}

// ValidatePDF checks that pdf parses as a well-formed document
func ValidatePDF(pdf []byte) error {
	if err := api.Validate(bytes.NewReader(pdf), pdfConfig()); err != nil {
		return &Error{Message: "invalid PDF", Cause: err}
	}
	return nil
}

// PageOverflow reports a document longer than maxPages. A non-positive maxPages disables the check.
func PageOverflow(pages, maxPages int) (types.Issue, bool) {
	if maxPages <= 0 || pages <= maxPages {
		return types.Issue{}, false
	}
	return types.Issue{
		Category:   types.CategoryPageOverflow,
		Severity:   types.SeverityHigh,
		Message:    fmt.Sprintf("document has %d pages, maximum is %d", pages, maxPages),
		Location:   fmt.Sprintf("page %d", maxPages+1),
		Suggestion: "tighten prose or reduce table and figure sizes",
	}, true
}
