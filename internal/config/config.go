// Package config provides configuration loading and validation for the pipeline.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jonathan/docpipeline/internal/types"
)

// Escalation policies
const (
	OnEscalateHalt     = "halt"
	OnEscalateContinue = "continue"
)

// StageConfig holds the gate parameters of one stage
type StageConfig struct {
	Name            string  `json:"name" yaml:"name" validate:"required"`
	Minimum         float64 `json:"minimum" yaml:"minimum" validate:"gte=0,lte=100,ltefield=Good"`
	Good            float64 `json:"good" yaml:"good" validate:"gte=0,lte=100,ltefield=Excellent"`
	Excellent       float64 `json:"excellent" yaml:"excellent" validate:"gte=0,lte=100"`
	EscalationFloor float64 `json:"escalation_floor" yaml:"escalation_floor" validate:"gte=0,lte=100,ltefield=Minimum"`
	MaxIterations   int     `json:"max_iterations" yaml:"max_iterations" validate:"gte=1"`
	// RetryTarget redirects corrections to an earlier stage's worker
	RetryTarget string `json:"retry_target,omitempty" yaml:"retry_target,omitempty"`
}

// Thresholds returns the stage's score bands
func (s StageConfig) Thresholds() types.Thresholds {
	return types.Thresholds{
		Minimum:         s.Minimum,
		Good:            s.Good,
		Excellent:       s.Excellent,
		EscalationFloor: s.EscalationFloor,
	}
}

// Config represents the pipeline configuration loaded from a JSON or YAML file.
type Config struct {
	OverallTarget        float64 `json:"overall_target" yaml:"overall_target" validate:"gte=0,lte=100"`
	HumanHandoffScore    float64 `json:"human_handoff_score" yaml:"human_handoff_score" validate:"gte=0,lte=100,ltefield=OverallTarget"`
	WorkerTimeoutSeconds int     `json:"worker_timeout_seconds" yaml:"worker_timeout_seconds" validate:"gte=0"`
	// OnEscalate must be given explicitly: halt or continue
	OnEscalate string `json:"on_escalate" yaml:"on_escalate" validate:"required,oneof=halt continue"`

	StoreDir    string `json:"store_dir,omitempty" yaml:"store_dir,omitempty"`
	DatabaseURL string `json:"database_url,omitempty" yaml:"database_url,omitempty"`

	// Document limits
	MaxPages         int      `json:"max_pages,omitempty" yaml:"max_pages,omitempty" validate:"gte=0"`
	MaxCharsPerLine  int      `json:"max_chars_per_line,omitempty" yaml:"max_chars_per_line,omitempty" validate:"gte=0"`
	ForbiddenPhrases []string `json:"forbidden_phrases,omitempty" yaml:"forbidden_phrases,omitempty"`
	Title            string   `json:"title,omitempty" yaml:"title,omitempty"`
	Author           string   `json:"author,omitempty" yaml:"author,omitempty"`

	// Analyzer
	APIKey                string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	AnalyzerRatePerMinute int    `json:"analyzer_rate_per_minute,omitempty" yaml:"analyzer_rate_per_minute,omitempty" validate:"gte=0"`
	UseBrowser            bool   `json:"use_browser,omitempty" yaml:"use_browser,omitempty"`

	Stages []StageConfig `json:"stages" yaml:"stages" validate:"required,min=1,dive"`
}

// Default returns the configuration used when no file overrides a value. OnEscalate is left
// empty so that a configuration must choose it.
func Default() Config {
	return Config{
		OverallTarget:         85,
		HumanHandoffScore:     75,
		WorkerTimeoutSeconds:  300,
		StoreDir:              ".docpipeline",
		MaxPages:              20,
		MaxCharsPerLine:       120,
		AnalyzerRatePerMinute: 30,
		Title:                 "Research Report",
		Stages: []StageConfig{
			{Name: "content_review", Minimum: 80, Good: 85, Excellent: 92, EscalationFloor: 70, MaxIterations: 3},
			{Name: "latex_generation", Minimum: 85, Good: 90, Excellent: 95, EscalationFloor: 75, MaxIterations: 3},
			{Name: "optimization", Minimum: 85, Good: 90, Excellent: 95, EscalationFloor: 75, MaxIterations: 3},
			{Name: "visual_qa", Minimum: 85, Good: 90, Excellent: 95, EscalationFloor: 75, MaxIterations: 3, RetryTarget: "latex_generation"},
		},
	}
}

// LoadConfig loads configuration from a JSON or YAML file, chosen by extension.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	return &cfg, nil
}

// Load reads path (when given), fills unset values from Default and validates the result
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	merged := cfg.MergeWithDefaults(Default())
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &merged, nil
}

// MergeWithDefaults returns a new Config with zero fields filled from defaults.
// Stages are taken as a whole: a file that lists stages replaces the default list.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.OverallTarget == 0 {
		result.OverallTarget = defaults.OverallTarget
	}
	if result.HumanHandoffScore == 0 {
		result.HumanHandoffScore = defaults.HumanHandoffScore
	}
	if result.WorkerTimeoutSeconds == 0 {
		result.WorkerTimeoutSeconds = defaults.WorkerTimeoutSeconds
	}
	if result.OnEscalate == "" {
		result.OnEscalate = defaults.OnEscalate
	}
	if result.StoreDir == "" {
		result.StoreDir = defaults.StoreDir
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.MaxPages == 0 {
		result.MaxPages = defaults.MaxPages
	}
	if result.MaxCharsPerLine == 0 {
		result.MaxCharsPerLine = defaults.MaxCharsPerLine
	}
	if len(result.ForbiddenPhrases) == 0 {
		result.ForbiddenPhrases = defaults.ForbiddenPhrases
	}
	if result.Title == "" {
		result.Title = defaults.Title
	}
	if result.Author == "" {
		result.Author = defaults.Author
	}
	if result.APIKey == "" {
		result.APIKey = defaults.APIKey
	}
	if result.AnalyzerRatePerMinute == 0 {
		result.AnalyzerRatePerMinute = defaults.AnalyzerRatePerMinute
	}
	if len(result.Stages) == 0 {
		result.Stages = append([]StageConfig(nil), defaults.Stages...)
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

// Validate checks struct tags and the cross-stage rules
func (c *Config) Validate() error {
	v := validator.New()
	v.RegisterStructValidation(validateStages, Config{})
	if err := v.Struct(c); err != nil {
		return newValidationError(err)
	}
	return nil
}

// validateStages checks stage names are unique and that retry targets name an
// earlier (or the same) stage
func validateStages(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)
	index := make(map[string]int, len(cfg.Stages))
	for i, st := range cfg.Stages {
		if _, dup := index[st.Name]; dup {
			sl.ReportError(st.Name, fmt.Sprintf("Stages[%d].Name", i), "Name", "unique", st.Name)
			continue
		}
		index[st.Name] = i
	}
	for i, st := range cfg.Stages {
		if st.RetryTarget == "" {
			continue
		}
		target, ok := index[st.RetryTarget]
		if !ok || target > i {
			sl.ReportError(st.RetryTarget, fmt.Sprintf("Stages[%d].RetryTarget", i), "RetryTarget", "retry_target", st.RetryTarget)
		}
	}
}

// EscalationContinues reports whether the run advances past escalated stages
func (c *Config) EscalationContinues() bool {
	return c.OnEscalate == OnEscalateContinue
}

// WorkerTimeout returns the per-invocation worker bound
func (c *Config) WorkerTimeout() time.Duration {
	return time.Duration(c.WorkerTimeoutSeconds) * time.Second
}

// Stage returns the named stage configuration
func (c *Config) Stage(name string) (StageConfig, bool) {
	for _, st := range c.Stages {
		if st.Name == name {
			return st, true
		}
	}
	return StageConfig{}, false
}
