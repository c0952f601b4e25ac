package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jonathan/docpipeline/internal/ingestion"
	"github.com/jonathan/docpipeline/internal/pipeline"
	"github.com/jonathan/docpipeline/internal/store"
	"github.com/jonathan/docpipeline/internal/types"
)

// RunRequest represents the request body for POST /runs
type RunRequest struct {
	// Source is a directory, a file or an http(s) URL
	Source string `json:"source"`
}

// RunResponse represents the response for POST /runs
type RunResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	Files  int    `json:"files"`
}

// VersionResponse summarizes one committed version
type VersionResponse struct {
	VersionID  string   `json:"version_id"`
	Sequence   int      `json:"sequence"`
	Stage      string   `json:"stage"`
	Parent     string   `json:"parent,omitempty"`
	ProducedBy string   `json:"produced_by"`
	CreatedAt  string   `json:"created_at"`
	Files      []string `json:"files"`
}

// handleCreateRun ingests the source and starts a pipeline run in the background
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorFor(w, &ErrValidation{Field: "body", Message: err.Error()})
		return
	}
	req.Source = strings.TrimSpace(req.Source)
	if req.Source == "" {
		s.errorFor(w, &ErrValidation{Field: "source", Message: "is required"})
		return
	}

	src, err := ingestion.Load(r.Context(), req.Source, s.ingest)
	if err != nil {
		if errors.Is(err, ingestion.ErrEmptySource) {
			s.errorFor(w, err)
			return
		}
		s.errorFor(w, &ErrValidation{Field: "source", Message: err.Error()})
		return
	}

	runID := newRunID()
	s.hub.open(runID)
	s.runs.Add(1)
	go s.execute(runID, src)

	s.logger.Info("run started", "run_id", runID, "source", src.Location, "files", len(src.Files))
	s.jsonResponse(w, http.StatusAccepted, RunResponse{
		RunID:  runID,
		Status: "started",
		Files:  len(src.Files),
	})
}

// execute runs the pipeline and records its events for /runs/{id}/events
func (s *Server) execute(runID string, src *ingestion.Source) {
	defer s.runs.Done()

	report, err := s.orchestrator.RunPipeline(s.runCtx, pipeline.RunOptions{
		RunID:  runID,
		Source: src.Location,
		Files:  src.Files,
		OnProgress: func(event pipeline.ProgressEvent) {
			s.hub.publish(runID, Event{Name: EventProgress, Data: event})
		},
	})
	if err != nil {
		s.logger.Error("run failed to start", "run_id", runID, "error", err)
		s.hub.publish(runID, Event{Name: EventError, Data: map[string]string{"error": err.Error()}})
		s.hub.finish(runID, completeEvent(runID, string(types.StatusFailed), ""))
		return
	}

	s.logger.Info("run finished", "run_id", runID, "status", report.Status, "reason", report.Reason)
	s.hub.publish(runID, Event{Name: EventReport, Data: report})
	s.hub.finish(runID, completeEvent(runID, string(report.Status), report.Reason))
}

// handleListRuns returns the IDs of every stored run
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.ListRuns(r.Context())
	if err != nil {
		s.errorFor(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"runs": ids})
}

// handleGetRun returns the report of a run, finished or not
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		s.errorFor(w, err)
		return
	}
	report, err := pipeline.LoadReport(r.Context(), s.store, runID)
	if err != nil {
		s.errorFor(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, report)
}

// handleRunEvents streams the progress of a run. Runs started by this server are
// replayed from their first event; other stored runs get their report and a
// completion event.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		s.errorFor(w, err)
		return
	}

	if !s.hub.has(runID) {
		report, err := pipeline.LoadReport(r.Context(), s.store, runID)
		if err != nil {
			s.errorFor(w, err)
			return
		}
		sse, err := NewSSEWriter(w)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		if err := sse.Write(Event{Name: EventReport, Data: report}); err != nil {
			return
		}
		sse.Write(completeEvent(runID, string(report.Status), report.Reason)) //nolint:errcheck
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	err = s.hub.follow(r.Context(), runID, sse.Write)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("event stream ended", "run_id", runID, "error", err)
	}
}

// handleRunVersions lists the committed versions of a run in commit order
func (s *Server) handleRunVersions(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		s.errorFor(w, err)
		return
	}
	manifest, err := s.store.Manifest(r.Context(), runID)
	if err != nil {
		s.errorFor(w, err)
		return
	}
	if len(manifest) == 0 && !s.runExists(r.Context(), runID) {
		s.errorFor(w, &ErrRunNotFound{RunID: runID})
		return
	}

	versions := make([]VersionResponse, 0, len(manifest))
	for _, unit := range manifest {
		files := make([]string, 0, len(unit.Payloads))
		for _, ref := range unit.Payloads {
			files = append(files, ref.Path)
		}
		versions = append(versions, VersionResponse{
			VersionID:  unit.VersionID,
			Sequence:   unit.Sequence,
			Stage:      unit.StageName,
			Parent:     unit.Parent,
			ProducedBy: unit.ProducedBy,
			CreatedAt:  unit.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			Files:      files,
		})
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"run_id": runID, "versions": versions})
}

// handleRunChanges returns the change records of a run
func (s *Server) handleRunChanges(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		s.errorFor(w, err)
		return
	}
	records, err := s.store.Changes(r.Context(), runID)
	if err != nil {
		s.errorFor(w, err)
		return
	}
	if len(records) == 0 && !s.runExists(r.Context(), runID) {
		s.errorFor(w, &ErrRunNotFound{RunID: runID})
		return
	}
	if records == nil {
		records = []types.ChangeRecord{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"run_id": runID, "changes": records})
}

// pathRunID returns the {id} path value, rejecting IDs that are not a single path element
func pathRunID(r *http.Request) (string, error) {
	runID := r.PathValue("id")
	if err := store.ValidateRunID(runID); err != nil {
		return "", &ErrValidation{Field: "id", Message: err.Error()}
	}
	return runID, nil
}

func (s *Server) runExists(ctx context.Context, runID string) bool {
	if s.hub.has(runID) {
		return true
	}
	_, err := s.store.LoadRun(ctx, runID)
	var notFound *store.NotFoundError
	return err == nil || !errors.As(err, &notFound)
}
