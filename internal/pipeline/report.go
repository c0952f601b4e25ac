package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonathan/docpipeline/internal/store"
	"github.com/jonathan/docpipeline/internal/types"
)

// StageSummary condenses one stage's attempts
type StageSummary struct {
	Name        string         `json:"name"`
	Attempts    int            `json:"attempts"`
	Corrections int            `json:"corrections"`
	Scores      []float64      `json:"scores"`
	FinalScore  *float64       `json:"final_score,omitempty"`
	Decision    types.Decision `json:"decision,omitempty"`
	Mark        types.Mark     `json:"mark,omitempty"`
	Versions    []string       `json:"versions"`
	Escalated   bool           `json:"escalated,omitempty"`
	TopIssues   []types.Issue  `json:"top_issues,omitempty"`
}

// ChangeSummary condenses one change record
type ChangeSummary struct {
	From     string `json:"from,omitempty"`
	To       string `json:"to"`
	Added    int    `json:"added"`
	Modified int    `json:"modified"`
	Removed  int    `json:"removed"`
	Summary  string `json:"summary"`
}

// Report is the structured summary of a run. It is a pure projection of the
// run record and its change records.
type Report struct {
	RunID       string                  `json:"run_id"`
	Source      string                  `json:"source"`
	Status      types.RunStatus         `json:"status"`
	Reason      string                  `json:"reason,omitempty"`
	Degraded    bool                    `json:"degraded"`
	FinalScore  *float64                `json:"final_score,omitempty"`
	CausedBy    *types.Cause            `json:"caused_by,omitempty"`
	StartedAt   time.Time               `json:"started_at"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
	Stages      []StageSummary          `json:"stages"`
	Versions    []string                `json:"versions"`
	Trajectory  []types.TrajectoryEntry `json:"trajectory"`
	Changes     []ChangeSummary         `json:"changes"`
}

const maxTopIssues = 5

// BuildReport projects a run and its change records into a report
func BuildReport(run *types.PipelineRun, records []types.ChangeRecord) *Report {
	r := &Report{
		RunID:       run.ID,
		Source:      run.Source,
		Status:      run.Status,
		Reason:      run.Reason,
		Degraded:    run.Degraded,
		FinalScore:  run.FinalScore,
		CausedBy:    run.CausedBy,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Versions:    append([]string{}, run.VersionHistory...),
		Trajectory:  append([]types.TrajectoryEntry{}, run.QualityTrajectory...),
		Stages:      []StageSummary{},
		Changes:     []ChangeSummary{},
	}

	escalated := make(map[string]bool, len(run.EscalatedStages))
	for _, s := range run.EscalatedStages {
		escalated[s] = true
	}

	order := append([]string(nil), run.Stages...)
	known := make(map[string]bool, len(order))
	for _, s := range order {
		known[s] = true
	}
	for _, e := range run.QualityTrajectory {
		if !known[e.Stage] {
			known[e.Stage] = true
			order = append(order, e.Stage)
		}
	}

	for _, name := range order {
		summary := StageSummary{
			Name:        name,
			Attempts:    run.AttemptsByStage[name],
			Corrections: run.IterationCountByStage[name],
			Scores:      []float64{},
			Versions:    []string{},
			Escalated:   escalated[name],
		}
		var last *types.TrajectoryEntry
		for i := range run.QualityTrajectory {
			e := &run.QualityTrajectory[i]
			if e.Stage != name {
				continue
			}
			summary.Scores = append(summary.Scores, e.Score.Score)
			if e.VersionID != "" {
				summary.Versions = append(summary.Versions, e.VersionID)
			}
			last = e
		}
		if last == nil {
			continue
		}
		score := last.Score.Score
		summary.FinalScore = &score
		summary.Decision = last.Decision
		summary.Mark = last.Mark
		issues := append([]types.Issue(nil), last.Score.Issues...)
		types.SortIssues(issues)
		if len(issues) > maxTopIssues {
			issues = issues[:maxTopIssues]
		}
		summary.TopIssues = issues
		r.Stages = append(r.Stages, summary)
	}

	for _, rec := range records {
		r.Changes = append(r.Changes, ChangeSummary{
			From:     rec.FromVersion,
			To:       rec.ToVersion,
			Added:    rec.Count(types.ChangeAdded),
			Modified: rec.Count(types.ChangeModified),
			Removed:  rec.Count(types.ChangeRemoved),
			Summary:  rec.Summary,
		})
	}
	return r
}

// Stage returns the summary of the named stage
func (r *Report) Stage(name string) (StageSummary, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageSummary{}, false
}

// LoadReport builds the report of a stored run. When the run record is missing,
// for example after a crash, the run is rebuilt from its durable logs.
func LoadReport(ctx context.Context, s store.Store, runID string) (*Report, error) {
	run, err := s.LoadRun(ctx, runID)
	if err != nil {
		var notFound *store.NotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
		}
		run, err = Rebuild(ctx, s, runID)
		if err != nil {
			return nil, err
		}
	}
	records, err := s.Changes(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load changes of run %s: %w", runID, err)
	}
	return BuildReport(run, records), nil
}
