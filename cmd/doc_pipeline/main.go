// Package main provides the doc_pipeline CLI: it runs documents through the staged
// pipeline, inspects stored runs and serves the HTTP API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonathan/docpipeline/internal/observability"
)

var (
	rootConfigPath string
	rootVerbose    bool
	rootLogLevel   string
	rootLogFormat  string
	rootStoreDir   string
	rootDBURL      string

	logger = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "doc_pipeline",
	Short: "Quality-gated document production pipeline",
	Long: `doc_pipeline turns a content source (markdown sections, CSV tables, figures) into a
compiled LaTeX document through four gated stages: content_review -> latex_generation ->
optimization -> visual_qa. Every stage output is a new version in the artifact store.`,
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		level, err := observability.ParseLevel(rootLogLevel)
		if err != nil {
			return err
		}
		if rootVerbose {
			level = slog.LevelDebug
		}
		logger = observability.NewLogger(level, rootLogFormat, os.Stderr)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&rootConfigPath, "config", "", "Path to a JSON or YAML config file")
	flags.BoolVarP(&rootVerbose, "verbose", "v", false, "Enable debug logging")
	flags.StringVar(&rootLogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flags.StringVar(&rootLogFormat, "log-format", "text", "Log format: text or json")
	flags.StringVar(&rootStoreDir, "store-dir", "", "Artifact store directory (overrides store_dir)")
	flags.StringVar(&rootDBURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Cancellation finalizes in-flight runs as FAILED (cancelled) at the next stage boundary
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
