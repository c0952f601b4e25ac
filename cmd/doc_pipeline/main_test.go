package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/docpipeline/internal/config"
	"github.com/jonathan/docpipeline/internal/pipeline"
	"github.com/jonathan/docpipeline/internal/stage"
	"github.com/jonathan/docpipeline/internal/store"
	"github.com/jonathan/docpipeline/internal/types"
)

// TestMain loads .env if available
func TestMain(m *testing.M) {
	_ = godotenv.Load()
	os.Exit(m.Run())
}

// copyWorker copies its input, adds one file and scores 92
type copyWorker struct{ name string }

func (w copyWorker) Name() string { return w.name }

func (w copyWorker) Process(_ context.Context, in stage.Input, _ *stage.CorrectionContext) (*stage.Output, error) {
	files := make(map[string][]byte, len(in.Files)+1)
	for p, data := range in.Files {
		files[p] = data
	}
	files[w.name+".txt"] = []byte(w.name)
	return &stage.Output{Files: files, Signal: types.QualityScore{Score: 92}}, nil
}

// seedRun runs a two-stage pipeline with copy workers into a file store under dir
func seedRun(t *testing.T, dir string) string {
	t.Helper()
	th := types.Thresholds{Minimum: 80, Good: 85, Excellent: 90, EscalationFloor: 75}
	registry, err := stage.NewRegistry(
		stage.Stage{Name: stage.ContentReview, Worker: copyWorker{"review"}, Thresholds: th, MaxIterations: 2},
		stage.Stage{Name: stage.LaTeXGeneration, Worker: copyWorker{"latex"}, Thresholds: th, MaxIterations: 2},
	)
	require.NoError(t, err)
	fs, err := store.NewFileStore(dir)
	require.NoError(t, err)

	report, err := pipeline.New(registry, fs, pipeline.Policy{OverallTarget: 85, HumanHandoffScore: 70, WorkerTimeout: time.Second}).
		RunPipeline(context.Background(), pipeline.RunOptions{
			RunID:  "seeded",
			Source: "inline",
			Files:  map[string][]byte{"sections/introduction.md": []byte("# Introduction\n\nHello.\n")},
		})
	require.NoError(t, err)
	require.Equal(t, types.StatusSuccess, report.Status)
	return report.RunID
}

// execute runs the root command with args and returns its stdout
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Cleanup(func() {
		rootConfigPath = ""
		reportOut = ""
		reportMarkdown = false
		versionsExport = ""
		runID = ""
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	})
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func pipelineCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	addPipelineFlags(cmd)
	return cmd
}

func TestLoadConfig_OnEscalateMustBeChosen(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("DATABASE_URL", "")

	_, err := loadConfig(pipelineCmd())

	var cfgErr *config.ValidationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "OnEscalate")
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("DATABASE_URL", "")
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("on_escalate: halt\nmax_pages: 8\ntitle: From File\n"), 0644))
	rootConfigPath = path
	t.Cleanup(func() { rootConfigPath = "" })

	cmd := pipelineCmd()
	require.NoError(t, cmd.Flags().Set("on-escalate", "continue"))
	require.NoError(t, cmd.Flags().Set("max-pages", "3"))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, config.OnEscalateContinue, cfg.OnEscalate)
	assert.Equal(t, 3, cfg.MaxPages)
	assert.Equal(t, "From File", cfg.Title, "unset flags keep file values")
	assert.Len(t, cfg.Stages, 4, "defaults fill the stage list")
}

func TestLoadConfig_APIKeyFromEnvironment(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "from-env")
	t.Setenv("DATABASE_URL", "")
	cmd := pipelineCmd()
	require.NoError(t, cmd.Flags().Set("on-escalate", "halt"))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.APIKey)
}

func TestOpenStore_FileStoreByDefault(t *testing.T) {
	dir := t.TempDir()
	s, err := openStore(context.Background(), &config.Config{StoreDir: dir})
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	fs, ok := s.(*store.FileStore)
	require.True(t, ok)
	assert.Equal(t, dir, fs.Root())
}

func TestValidateConfigCommand(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "valid.json")
	require.NoError(t, os.WriteFile(valid, []byte(`{"on_escalate": "continue"}`), 0644))
	invalid := filepath.Join(dir, "invalid.json")
	require.NoError(t, os.WriteFile(invalid, []byte(`{"on_escalate": "maybe"}`), 0644))

	out, err := execute(t, "validate-config", valid)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")
	assert.Contains(t, out, "retry_target=latex_generation")

	_, err = execute(t, "validate-config", invalid)
	var cfgErr *config.ValidationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestReportCommand_WritesJSON(t *testing.T) {
	dir := t.TempDir()
	runID := seedRun(t, dir)
	outPath := filepath.Join(dir, "out", "report.json")

	out, err := execute(t, "report", runID, "--store-dir", dir, "--out", outPath)
	require.NoError(t, err)
	assert.Contains(t, out, "PIPELINE REPORT")
	assert.Contains(t, out, "Report written to")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var report pipeline.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, runID, report.RunID)
	assert.Equal(t, types.StatusSuccess, report.Status)
}

func TestReportCommand_UnknownRun(t *testing.T) {
	_, err := execute(t, "report", "missing", "--store-dir", t.TempDir())

	var notFound *store.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestVersionsCommand_Export(t *testing.T) {
	dir := t.TempDir()
	runID := seedRun(t, dir)
	exportDir := filepath.Join(t.TempDir(), "export")

	out, err := execute(t, "versions", runID, "--store-dir", dir, "--export", exportDir)
	require.NoError(t, err)
	assert.Contains(t, out, "v0_original")
	assert.Contains(t, out, "Exported 3 versions")

	data, err := os.ReadFile(filepath.Join(exportDir, "v2_latex_generation", "latex.txt"))
	require.NoError(t, err)
	assert.Equal(t, "latex", string(data))
	_, err = os.Stat(filepath.Join(exportDir, "v0_original", "review.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestDiffCommand(t *testing.T) {
	dir := t.TempDir()
	runID := seedRun(t, dir)

	out, err := execute(t, "diff", runID, "v0_original", "v2_latex_generation", "--store-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "review.txt")
	assert.Contains(t, out, "latex.txt")
}

func TestRunCommand_RejectsEscapingRunID(t *testing.T) {
	dir := t.TempDir()
	storeDir := filepath.Join(dir, "store")

	_, err := execute(t, "run", t.TempDir(), "--run-id", "../../escaped", "--store-dir", storeDir)

	var invalid *store.InvalidRunIDError
	require.ErrorAs(t, err, &invalid)
	_, statErr := os.Stat(filepath.Join(dir, "escaped"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestPrintBatch(t *testing.T) {
	score := 91.0
	results := []batchResult{
		{Source: "a/", Report: &pipeline.Report{RunID: "r1", Status: types.StatusSuccess, Reason: types.ReasonCompleted, FinalScore: &score}},
		{Source: "b/", Report: &pipeline.Report{RunID: "r2", Status: types.StatusFailed, Reason: types.ReasonGateFailed}},
		{Source: "c/", Err: assert.AnError},
	}

	var out bytes.Buffer
	err := printBatch(&out, results)

	assert.ErrorIs(t, err, errRunFailed)
	assert.Contains(t, out.String(), "score=91.0")
	assert.Contains(t, out.String(), "ERROR")
	assert.Contains(t, out.String(), "3 run(s), 2 failed")

	out.Reset()
	assert.NoError(t, printBatch(&out, results[:1]))
}
