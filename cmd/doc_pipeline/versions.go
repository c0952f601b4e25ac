package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jonathan/docpipeline/internal/changes"
	"github.com/jonathan/docpipeline/internal/observability"
	"github.com/jonathan/docpipeline/internal/store"
)

var versionsCmd = &cobra.Command{
	Use:   "versions RUN_ID",
	Short: "List the committed versions of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runVersions,
}

var diffCmd = &cobra.Command{
	Use:   "diff RUN_ID FROM TO",
	Short: "Show the file-level changes between two versions of a run",
	Args:  cobra.ExactArgs(3),
	RunE:  runDiff,
}

var versionsExport string

func init() {
	versionsCmd.Flags().StringVar(&versionsExport, "export", "", "Write every version's files under DIR/<version_id>/")
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(diffCmd)
}

func runVersions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	runID := args[0]
	s, err := openReadStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	manifest, err := s.Manifest(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to read manifest of run %s: %w", runID, err)
	}
	if len(manifest) == 0 {
		return &store.NotFoundError{RunID: runID, Key: runID, Kind: "manifest"}
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintVersions(manifest)

	if versionsExport == "" {
		return nil
	}
	for i := range manifest {
		unit := &manifest[i]
		dir := filepath.Join(versionsExport, unit.VersionID)
		if err := store.Export(ctx, s, unit, dir); err != nil {
			return err
		}
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Exported %d versions to %s\n", len(manifest), versionsExport)
	return nil
}

func runDiff(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	runID := args[0]
	s, err := openReadStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	from, err := s.Get(ctx, runID, args[1])
	if err != nil {
		return err
	}
	to, err := s.Get(ctx, runID, args[2])
	if err != nil {
		return err
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintChanges(changes.Diff(from, to))
	return nil
}
