package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/docpipeline/internal/ingestion"
	"github.com/jonathan/docpipeline/internal/observability"
	"github.com/jonathan/docpipeline/internal/pipeline"
	"github.com/jonathan/docpipeline/internal/store"
	"github.com/jonathan/docpipeline/internal/types"
)

var runCommand = &cobra.Command{
	Use:   "run SOURCE",
	Short: "Run a content source through every stage",
	Long: `Ingests SOURCE (a directory, a markdown/text/HTML file or an http(s) URL), commits it
as v0_original and runs content_review -> latex_generation -> optimization -> visual_qa.

Configuration can be loaded with --config. Command-line flags override config file values.`,
	Args: cobra.ExactArgs(1),
	RunE: runPipelineCmd,
}

var runID string

func init() {
	runCommand.Flags().StringVar(&runID, "run-id", "", "Run ID (a UUID is generated when empty)")
	addPipelineFlags(runCommand)
	rootCmd.AddCommand(runCommand)
}

func runPipelineCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if runID != "" {
		if err := store.ValidateRunID(runID); err != nil {
			return fmt.Errorf("invalid --run-id: %w", err)
		}
	}

	a, err := newApp(ctx, cmd, os.Stdout, nil)
	if err != nil {
		return err
	}
	defer a.close()

	src, err := ingestion.Load(ctx, args[0], a.ingestOptions())
	if err != nil {
		return fmt.Errorf("failed to load content source: %w", err)
	}
	_, _ = fmt.Fprintf(os.Stdout, "Loaded %d files from %s\n", len(src.Files), src.Location)

	report, err := a.orchestrator.RunPipeline(ctx, pipeline.RunOptions{
		RunID:  runID,
		Source: src.Location,
		Files:  src.Files,
	})
	if err != nil {
		return err
	}

	observability.NewPrinter(os.Stdout).PrintReport(report)
	if report.Status == types.StatusFailed {
		return fmt.Errorf("%w: %s (%s)", errRunFailed, report.RunID, report.Reason)
	}
	return nil
}
