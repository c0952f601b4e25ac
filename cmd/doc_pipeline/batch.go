package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/docpipeline/internal/ingestion"
	"github.com/jonathan/docpipeline/internal/pipeline"
	"github.com/jonathan/docpipeline/internal/types"
)

var batchCmd = &cobra.Command{
	Use:   "batch SOURCE...",
	Short: "Run several content sources concurrently as independent runs",
	Long: `Runs every SOURCE as its own pipeline run. Runs share the artifact store and the
analyzer rate limit but nothing else. A source that fails to load does not stop the others.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

var batchConcurrency int

func init() {
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 2, "Maximum number of runs in flight")
	addPipelineFlags(batchCmd)
	rootCmd.AddCommand(batchCmd)
}

// batchResult is the outcome of one source
type batchResult struct {
	Source string
	Report *pipeline.Report
	Err    error
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// step lines of concurrent runs would interleave, so only the summary is printed
	a, err := newApp(ctx, cmd, io.Discard, nil)
	if err != nil {
		return err
	}
	defer a.close()

	results := make([]batchResult, len(args))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(batchConcurrency, 1))
	for i, source := range args {
		g.Go(func() error {
			res := batchResult{Source: source}
			src, err := ingestion.Load(gctx, source, a.ingestOptions())
			if err != nil {
				res.Err = fmt.Errorf("failed to load content source: %w", err)
			} else {
				logger.Info("run starting", "source", src.Location, "files", len(src.Files))
				res.Report, res.Err = a.orchestrator.RunPipeline(gctx, pipeline.RunOptions{
					Source: src.Location,
					Files:  src.Files,
				})
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			// failures are per source; returning nil keeps the other runs going
			return nil
		})
	}
	_ = g.Wait()

	return printBatch(os.Stdout, results)
}

// printBatch writes one line per source and returns errRunFailed when any run
// failed or could not start
func printBatch(w io.Writer, results []batchResult) error {
	failed := 0
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
			_, _ = fmt.Fprintf(w, "%-40s ERROR     %v\n", r.Source, r.Err)
		case r.Report != nil:
			score := "-"
			if r.Report.FinalScore != nil {
				score = fmt.Sprintf("%.1f", *r.Report.FinalScore)
			}
			if r.Report.Status == types.StatusFailed {
				failed++
			}
			_, _ = fmt.Fprintf(w, "%-40s %-9s %s score=%s reason=%s\n",
				r.Source, r.Report.Status, r.Report.RunID, score, r.Report.Reason)
		}
	}
	_, _ = fmt.Fprintf(w, "%d run(s), %d failed\n", len(results), failed)
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errRunFailed, failed, len(results))
	}
	return nil
}
