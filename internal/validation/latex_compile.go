package validation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// CompilationTimeout bounds one pdflatex invocation
const CompilationTimeout = 60 * time.Second

// MainTeX is the name of the document inside the compile directory
const MainTeX = "main.tex"

// CompileResult is the outcome of compiling a document
type CompileResult struct {
	PDF []byte
	Log string
	// Partial is true when pdflatex exited non-zero but still wrote a PDF
	Partial bool
}

// PDFLaTeXAvailable reports whether pdflatex is on PATH
func PDFLaTeXAvailable() bool {
	_, err := exec.LookPath("pdflatex")
	return err == nil
}

// Compile writes tex and its assets (figures) into a scratch directory and runs
// pdflatex twice so references resolve. It returns a *CompilationError when no PDF
// was produced; a PDF produced with errors is returned with Partial set.
func Compile(ctx context.Context, tex []byte, assets map[string][]byte) (*CompileResult, error) {
	if !PDFLaTeXAvailable() {
		return nil, &CompilationError{Message: "pdflatex not found in PATH; install a TeX distribution such as TeX Live"}
	}

	workDir, err := os.MkdirTemp("", "latex-compile-*")
	if err != nil {
		return nil, &CompilationError{Message: "failed to create working directory", Cause: err}
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	for name, data := range assets {
		target := filepath.Join(workDir, filepath.FromSlash(name))
		if !strings.HasPrefix(target, workDir+string(filepath.Separator)) {
			return nil, &CompilationError{Message: fmt.Sprintf("asset path escapes working directory: %s", name)}
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, &CompilationError{Message: "failed to stage assets", Cause: err}
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return nil, &CompilationError{Message: "failed to stage assets", Cause: err}
		}
	}
	texPath := filepath.Join(workDir, MainTeX)
	if err := os.WriteFile(texPath, tex, 0o644); err != nil {
		return nil, &CompilationError{Message: "failed to write LaTeX file", Cause: err}
	}

	var runErr error
	var log string
	for pass := 0; pass < 2; pass++ {
		log, runErr = runPDFLaTeX(ctx, workDir)
		if ctx.Err() != nil {
			return nil, &CompilationError{Message: "compilation interrupted", Log: log, Cause: ctx.Err()}
		}
		if runErr != nil {
			break
		}
	}

	pdf, err := os.ReadFile(filepath.Join(workDir, strings.TrimSuffix(MainTeX, ".tex")+".pdf"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &CompilationError{Message: "PDF was not generated", Log: log, Cause: runErr}
		}
		return nil, &CompilationError{Message: "failed to read PDF", Log: log, Cause: err}
	}
	return &CompileResult{PDF: pdf, Log: log, Partial: runErr != nil}, nil
}

func runPDFLaTeX(ctx context.Context, workDir string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, CompilationTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "pdflatex", "-interaction=nonstopmode", "-no-file-line-error", "-output-directory", workDir, MainTeX)
	cmd.Dir = workDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}
