package visual

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/docpipeline/internal/validation"
)

// DefaultDPI balances legibility of small print against image size
const DefaultDPI = 100

// Page is one rendered page. Text is the page's extracted text, empty when
// pdftotext is not installed.
type Page struct {
	Number int
	PNG    []byte
	Text   string
}

// PdftoppmAvailable reports whether pdftoppm is on PATH
func PdftoppmAvailable() bool {
	_, err := exec.LookPath("pdftoppm")
	return err == nil
}

// Rasterizer renders PDF pages with poppler's pdftoppm
type Rasterizer struct {
	DPI       int
	MaxWidth  int
	MaxHeight int
	// Concurrency bounds parallel pdftoppm processes
	Concurrency int
}

// NewRasterizer returns a Rasterizer with default settings
func NewRasterizer() *Rasterizer {
	return &Rasterizer{DPI: DefaultDPI, MaxWidth: DefaultMaxWidth, MaxHeight: DefaultMaxHeight, Concurrency: 4}
}

// Rasterize renders every page of pdf, in page order
func (r *Rasterizer) Rasterize(ctx context.Context, pdf []byte) ([]Page, error) {
	if !PdftoppmAvailable() {
		return nil, &RasterError{Message: "pdftoppm not found in PATH; install poppler-utils"}
	}
	count, err := validation.CountPDFPages(pdf)
	if err != nil {
		return nil, &RasterError{Message: "unreadable PDF", Cause: err}
	}

	workDir, err := os.MkdirTemp("", "rasterize-*")
	if err != nil {
		return nil, &RasterError{Message: "failed to create working directory", Cause: err}
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	pdfPath := filepath.Join(workDir, "document.pdf")
	if err := os.WriteFile(pdfPath, pdf, 0o644); err != nil {
		return nil, &RasterError{Message: "failed to write PDF", Cause: err}
	}

	pages := make([]Page, count)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.Concurrency, 1))
	for i := range pages {
		number := i + 1
		g.Go(func() error {
			img, err := r.renderPage(gctx, workDir, pdfPath, number)
			if err != nil {
				return err
			}
			pages[number-1] = Page{Number: number, PNG: img, Text: pageText(gctx, pdfPath, number)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

func (r *Rasterizer) renderPage(ctx context.Context, workDir, pdfPath string, number int) ([]byte, error) {
	dpi := r.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	n := fmt.Sprint(number)
	prefix := filepath.Join(workDir, "page-"+n)
	cmd := exec.CommandContext(ctx, "pdftoppm", "-png", "-r", fmt.Sprint(dpi), "-f", n, "-l", n, "-singlefile", pdfPath, prefix)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &RasterError{Page: number, Message: strings.TrimSpace(stderr.String()), Cause: err}
	}
	data, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, &RasterError{Page: number, Message: "pdftoppm wrote no image", Cause: err}
	}
	if r.MaxWidth <= 0 || r.MaxHeight <= 0 {
		return data, nil
	}
	scaled, err := Downscale(data, r.MaxWidth, r.MaxHeight)
	if err != nil {
		return nil, &RasterError{Page: number, Message: "downscale failed", Cause: err}
	}
	return scaled, nil
}

// pageText extracts one page's text with pdftotext. Extraction is best effort.
func pageText(ctx context.Context, pdfPath string, number int) string {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return ""
	}
	n := fmt.Sprint(number)
	out, err := exec.CommandContext(ctx, "pdftotext", "-f", n, "-l", n, "-layout", pdfPath, "-").Output()
	if err != nil {
		return ""
	}
	return string(out)
}
