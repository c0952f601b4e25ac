package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jonathan/docpipeline/internal/config"
	"github.com/jonathan/docpipeline/internal/db"
	"github.com/jonathan/docpipeline/internal/fetch"
	"github.com/jonathan/docpipeline/internal/ingestion"
	"github.com/jonathan/docpipeline/internal/llm"
	"github.com/jonathan/docpipeline/internal/observability"
	"github.com/jonathan/docpipeline/internal/pipeline"
	"github.com/jonathan/docpipeline/internal/ratelimit"
	"github.com/jonathan/docpipeline/internal/store"
	"github.com/jonathan/docpipeline/internal/workers"
)

// pipelineFlags are shared by every command that executes stages
var (
	flagOnEscalate string
	flagAPIKey     string
	flagMaxPages   int
	flagTitle      string
	flagAuthor     string
	flagUseBrowser bool
)

func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagOnEscalate, "on-escalate", "", "Escalation policy: halt or continue (overrides on_escalate)")
	cmd.Flags().StringVar(&flagAPIKey, "api-key", "", "Gemini API Key (optional, defaults to GEMINI_API_KEY env var)")
	cmd.Flags().IntVar(&flagMaxPages, "max-pages", 0, "Maximum page count of the compiled document")
	cmd.Flags().StringVar(&flagTitle, "title", "", "Document title")
	cmd.Flags().StringVar(&flagAuthor, "author", "", "Document author")
	cmd.Flags().BoolVar(&flagUseBrowser, "use-browser", false, "Render URL sources in a headless browser when needed (requires Chrome)")
}

// loadConfig reads --config, applies flags that were explicitly set, fills
// defaults and environment values, then validates.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := &config.Config{}
	if rootConfigPath != "" {
		loaded, err := config.LoadConfig(rootConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		logger.Debug("loaded config", "path", rootConfigPath)
	}

	flags := cmd.Flags()
	if flags.Changed("store-dir") {
		cfg.StoreDir = rootStoreDir
	}
	if flags.Changed("db-url") {
		cfg.DatabaseURL = rootDBURL
	}
	if flags.Changed("on-escalate") {
		cfg.OnEscalate = flagOnEscalate
	}
	if flags.Changed("api-key") {
		cfg.APIKey = flagAPIKey
	}
	if flags.Changed("max-pages") {
		cfg.MaxPages = flagMaxPages
	}
	if flags.Changed("title") {
		cfg.Title = flagTitle
	}
	if flags.Changed("author") {
		cfg.Author = flagAuthor
	}
	if flags.Changed("use-browser") {
		cfg.UseBrowser = flagUseBrowser
	}

	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	merged := cfg.MergeWithDefaults(config.Default())
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &merged, nil
}

// openStore connects to PostgreSQL when a database URL is configured and
// falls back to the file store otherwise.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.DatabaseURL != "" {
		database, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := database.EnsureSchema(ctx); err != nil {
			_ = database.Close()
			return nil, err
		}
		logger.Debug("using database store")
		return database, nil
	}
	fs, err := store.NewFileStore(cfg.StoreDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	logger.Debug("using file store", "dir", fs.Root())
	return fs, nil
}

// app holds everything a pipeline-executing command needs
type app struct {
	cfg          *config.Config
	store        store.Store
	client       llm.Client
	orchestrator *pipeline.Orchestrator
}

// newApp wires config, store, analyzer client, workers and orchestrator. reg
// receives the pipeline metrics when non-nil.
func newApp(ctx context.Context, cmd *cobra.Command, out io.Writer, reg prometheus.Registerer) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: s}

	if cfg.APIKey != "" {
		client, err := llm.NewClient(ctx, llm.DefaultConfig(), cfg.APIKey)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		bucket := ratelimit.NewPerMinute(cfg.AnalyzerRatePerMinute, 1)
		a.client = llm.NewRateLimited(client, bucket)
	} else {
		logger.Warn("no API key configured; workers use deterministic checks and the LaTeX template only")
	}

	registry, err := workers.NewRegistry(cfg, workers.Deps{
		Client: a.client,
		Logger: observability.Component(logger, "workers"),
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to build stages: %w", err)
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(observability.Component(logger, "pipeline")),
		pipeline.WithOutput(out),
	}
	if reg != nil {
		opts = append(opts, pipeline.WithObserver(observability.NewMetrics(reg)))
	}
	a.orchestrator = pipeline.New(registry, s, pipeline.Policy{
		OverallTarget:      cfg.OverallTarget,
		HumanHandoffScore:  cfg.HumanHandoffScore,
		ContinueOnEscalate: cfg.EscalationContinues(),
		WorkerTimeout:      cfg.WorkerTimeout(),
	}, opts...)
	return a, nil
}

// ingestOptions builds the ingestion options of the configured source loader
func (a *app) ingestOptions() ingestion.Options {
	return ingestion.Options{
		UseBrowser:     a.cfg.UseBrowser,
		BrowserTimeout: 60 * time.Second,
		Fetch:          fetch.DefaultOptions(),
		Logger:         observability.Component(logger, "ingestion"),
	}
}

func (a *app) close() {
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			logger.Warn("failed to close LLM client", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		logger.Warn("failed to close store", "error", err)
	}
}

// openReadStore opens the configured store for the read-only commands. Unlike
// newApp it does not require on_escalate, which only matters when stages run.
func openReadStore(ctx context.Context, cmd *cobra.Command) (store.Store, error) {
	cfg := &config.Config{}
	if rootConfigPath != "" {
		loaded, err := config.LoadConfig(rootConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("store-dir") {
		cfg.StoreDir = rootStoreDir
	}
	if cmd.Flags().Changed("db-url") {
		cfg.DatabaseURL = rootDBURL
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	merged := cfg.MergeWithDefaults(config.Default())
	return openStore(ctx, &merged)
}

// errRunFailed is returned by commands whose run ended FAILED so the process exits non-zero
var errRunFailed = errors.New("run failed")
