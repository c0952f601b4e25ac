package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jonathan/docpipeline/internal/observability"
	"github.com/jonathan/docpipeline/internal/pipeline"
	"github.com/jonathan/docpipeline/internal/schemas"
	schemafiles "github.com/jonathan/docpipeline/schemas"
)

var reportCmd = &cobra.Command{
	Use:   "report RUN_ID",
	Short: "Show the report of a stored run",
	Long: `Prints the per-stage scores, corrections and decisions of RUN_ID. When the run record
is missing, the run is rebuilt from its manifest and trajectory log.`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

var (
	reportOut      string
	reportMarkdown bool
)

func init() {
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", "", "Write the report as JSON to this path")
	reportCmd.Flags().BoolVar(&reportMarkdown, "markdown", false, "Render tables as Markdown")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openReadStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	report, err := pipeline.LoadReport(ctx, s, args[0])
	if err != nil {
		return err
	}

	printer := observability.NewPrinter(cmd.OutOrStdout())
	if reportMarkdown {
		printer = observability.NewMarkdownPrinter(cmd.OutOrStdout())
	}
	printer.PrintReport(report)

	if reportOut != "" {
		if err := writeReport(reportOut, report); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", reportOut)
	}
	return nil
}

// writeReport writes the report as indented JSON and checks it against the
// report schema. A schema mismatch is reported as a warning.
func writeReport(path string, report *pipeline.Report) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report to JSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if err := schemas.ValidateFile(schemafiles.Report, path); err != nil {
		var validationErr *schemas.ValidationError
		if errors.As(err, &validationErr) {
			_, _ = fmt.Fprintf(os.Stderr, "Warning: report does not validate against schema: %v\n", err)
		} else {
			_, _ = fmt.Fprintf(os.Stderr, "Warning: could not validate report against schema: %v\n", err)
		}
	}
	return nil
}
