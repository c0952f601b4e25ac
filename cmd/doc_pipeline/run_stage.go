package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/docpipeline/internal/observability"
	"github.com/jonathan/docpipeline/internal/store"
)

var runStageCmd = &cobra.Command{
	Use:   "run-stage RUN_ID STAGE",
	Short: "Run one stage of an existing run against a chosen input version",
	Long: `Runs STAGE's correction loop on an input version of RUN_ID. New versions continue the
run's sequence and the run record is updated. The input defaults to the latest version.`,
	Args: cobra.ExactArgs(2),
	RunE: runStage,
}

var runStageInput string

func init() {
	runStageCmd.Flags().StringVar(&runStageInput, "input", "", "Input version ID (defaults to the latest version)")
	addPipelineFlags(runStageCmd)
	rootCmd.AddCommand(runStageCmd)
}

func runStage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	runID, stageName := args[0], args[1]

	a, err := newApp(ctx, cmd, os.Stdout, nil)
	if err != nil {
		return err
	}
	defer a.close()

	input := runStageInput
	if input == "" {
		input, err = latestVersion(ctx, a.store, runID)
		if err != nil {
			return err
		}
	}

	outcome, err := a.orchestrator.RunStage(ctx, runID, stageName, input, nil)
	if err != nil {
		return err
	}

	d := outcome.Decision
	_, _ = fmt.Fprintf(os.Stdout, "%s: %s (score %.1f, %s) after %d attempt(s), %d correction(s)\n",
		outcome.Stage, d.Decision, d.Score.Score, d.Mark, outcome.Attempts, outcome.Corrections)
	if outcome.Output != "" {
		_, _ = fmt.Fprintf(os.Stdout, "Output version: %s\n", outcome.Output)
	}
	observability.NewPrinter(os.Stdout).PrintIssues(outcome.Stage, d.Score.Issues)
	return nil
}

func latestVersion(ctx context.Context, s store.ArtifactStore, runID string) (string, error) {
	manifest, err := s.Manifest(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("failed to read manifest of run %s: %w", runID, err)
	}
	if len(manifest) == 0 {
		return "", &store.NotFoundError{RunID: runID, Key: runID, Kind: "manifest"}
	}
	return manifest[len(manifest)-1].VersionID, nil
}
