// Package stage defines the stage worker contract and the ordered stage registry.
package stage

import (
	"context"
	"fmt"

	"github.com/jonathan/docpipeline/internal/gate"
	"github.com/jonathan/docpipeline/internal/types"
)

// Canonical stage names, in pipeline order
const (
	ContentReview   = "content_review"
	LaTeXGeneration = "latex_generation"
	Optimization    = "optimization"
	VisualQA        = "visual_qa"
)

// DefaultOrder is the order of the four built-in stages
var DefaultOrder = []string{ContentReview, LaTeXGeneration, Optimization, VisualQA}

// Input is what a worker receives: the committed unit and its materialized files
type Input struct {
	Unit  *types.ContentUnit
	Files map[string][]byte
}

// Output is a worker's result: the complete file set of the new version and the raw quality signal
type Output struct {
	Files  map[string][]byte
	Signal types.QualityScore
	Notes  string
}

// CorrectionContext carries the issues of a previous attempt to target fixes
type CorrectionContext struct {
	Stage   string             `json:"stage"`
	Attempt int                `json:"attempt"`
	Score   types.QualityScore `json:"score"`
}

// Issues returns the issues to fix, most severe first
func (c *CorrectionContext) Issues() []types.Issue {
	if c == nil {
		return nil
	}
	issues := append([]types.Issue(nil), c.Score.Issues...)
	types.SortIssues(issues)
	return issues
}

// Worker processes a unit into a new file set plus a quality signal.
// A worker returns *WorkerFailure when it could not produce output and
// *AnalysisFailure when its scoring step broke.
type Worker interface {
	Name() string
	Process(ctx context.Context, in Input, correction *CorrectionContext) (*Output, error)
}

// Func adapts a function to the Worker interface
type Func struct {
	ID string
	Fn func(ctx context.Context, in Input, correction *CorrectionContext) (*Output, error)
}

// Name returns the worker identity
func (f Func) Name() string { return f.ID }

// Process calls the wrapped function
func (f Func) Process(ctx context.Context, in Input, correction *CorrectionContext) (*Output, error) {
	return f.Fn(ctx, in, correction)
}

// Stage is one ordered phase of the pipeline
type Stage struct {
	Name          string
	Worker        Worker
	Thresholds    types.Thresholds
	MaxIterations int
	// RetryTarget names the stage whose worker handles corrections; empty means the stage itself
	RetryTarget string
}

// CorrectionStage returns the stage name whose worker runs on RETRY
func (s *Stage) CorrectionStage() string {
	if s.RetryTarget == "" {
		return s.Name
	}
	return s.RetryTarget
}

// Redirects reports whether corrections run on a different stage's worker
func (s *Stage) Redirects() bool {
	return s.RetryTarget != "" && s.RetryTarget != s.Name
}

// Registry holds the stages in pipeline order
type Registry struct {
	stages []*Stage
	index  map[string]int
}

// NewRegistry validates and orders stages. A retry target must be a stage at or before the redirecting one.
func NewRegistry(stages ...Stage) (*Registry, error) {
	r := &Registry{index: make(map[string]int, len(stages))}
	for i := range stages {
		s := stages[i]
		if s.Name == "" {
			return nil, fmt.Errorf("stage %d has no name", i+1)
		}
		if s.Name == types.OriginalStage {
			return nil, fmt.Errorf("stage name %q is reserved", s.Name)
		}
		if _, dup := r.index[s.Name]; dup {
			return nil, fmt.Errorf("duplicate stage: %s", s.Name)
		}
		if s.Worker == nil {
			return nil, fmt.Errorf("stage %s has no worker", s.Name)
		}
		if s.MaxIterations < 1 {
			return nil, fmt.Errorf("stage %s: max iterations must be at least 1", s.Name)
		}
		if err := gate.Validate(s.Thresholds); err != nil {
			return nil, fmt.Errorf("stage %s: %w", s.Name, err)
		}
		r.index[s.Name] = i
		r.stages = append(r.stages, &s)
	}
	for _, s := range r.stages {
		if s.RetryTarget == "" {
			continue
		}
		target, ok := r.index[s.RetryTarget]
		if !ok {
			return nil, &DependencyError{Stage: s.Name, Missing: []string{s.RetryTarget}}
		}
		if target > r.index[s.Name] {
			return nil, fmt.Errorf("stage %s: retry target %s runs later in the pipeline", s.Name, s.RetryTarget)
		}
	}
	return r, nil
}

// Stages returns the stages in order
func (r *Registry) Stages() []*Stage {
	return r.stages
}

// Names returns the stage names in order
func (r *Registry) Names() []string {
	names := make([]string, len(r.stages))
	for i, s := range r.stages {
		names[i] = s.Name
	}
	return names
}

// Lookup returns the stage with the given name
func (r *Registry) Lookup(name string) (*Stage, bool) {
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.stages[i], true
}

// Index returns the zero-based position of a stage, or -1
func (r *Registry) Index(name string) int {
	i, ok := r.index[name]
	if !ok {
		return -1
	}
	return i
}

// DependencyError reports a stage referring to stages that are not registered
type DependencyError struct {
	Stage   string
	Missing []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("stage %s refers to unknown stages: %v", e.Stage, e.Missing)
}
