package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/docpipeline/internal/store"
	"github.com/jonathan/docpipeline/internal/types"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// AppendTrajectory appends one gated attempt to the run's trajectory
func (db *DB) AppendTrajectory(ctx context.Context, entry types.TrajectoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal trajectory entry: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO trajectory_entries (run_id, stage, attempt, entry) VALUES ($1, $2, $3, $4)`,
		entry.RunID, entry.Stage, entry.Attempt, data,
	)
	if err != nil {
		return &store.StorageError{Message: "failed to append trajectory entry", Cause: err}
	}
	return nil
}

// Trajectory returns the run's trajectory in append order
func (db *DB) Trajectory(ctx context.Context, runID string) ([]types.TrajectoryEntry, error) {
	var entries []types.TrajectoryEntry
	err := db.queryJSON(ctx, `SELECT entry FROM trajectory_entries WHERE run_id = $1 ORDER BY id`, runID, func(data []byte) error {
		var e types.TrajectoryEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		entries = append(entries, e)
		return nil
	})
	return entries, err
}

// AppendChange stores a change record. A second record for the same version is rejected.
func (db *DB) AppendChange(ctx context.Context, record types.ChangeRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal change record: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO change_records (run_id, to_version, record) VALUES ($1, $2, $3)`,
		record.RunID, record.ToVersion, data,
	)
	if isUniqueViolation(err) {
		return &store.DuplicateVersionError{RunID: record.RunID, VersionID: record.ToVersion}
	}
	if err != nil {
		return &store.StorageError{Message: "failed to append change record", Cause: err}
	}
	return nil
}

// Changes returns the run's change records in append order
func (db *DB) Changes(ctx context.Context, runID string) ([]types.ChangeRecord, error) {
	var records []types.ChangeRecord
	err := db.queryJSON(ctx, `SELECT record FROM change_records WHERE run_id = $1 ORDER BY id`, runID, func(data []byte) error {
		var r types.ChangeRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		records = append(records, r)
		return nil
	})
	return records, err
}

// SaveRun upserts the run record
func (db *DB) SaveRun(ctx context.Context, run *types.PipelineRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, status, record, started_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET status = $2, record = $3, updated_at = NOW()`,
		run.ID, string(run.Status), data, run.StartedAt,
	)
	if err != nil {
		return &store.StorageError{Message: "failed to save run " + run.ID, Cause: err}
	}
	return nil
}

// LoadRun returns the saved run record
func (db *DB) LoadRun(ctx context.Context, runID string) (*types.PipelineRun, error) {
	var data []byte
	err := db.pool.QueryRow(ctx, `SELECT record FROM pipeline_runs WHERE id = $1`, runID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &store.NotFoundError{RunID: runID, Key: runID, Kind: "run record"}
	}
	if err != nil {
		return nil, &store.StorageError{Message: "failed to load run " + runID, Cause: err}
	}
	var run types.PipelineRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, &store.StorageError{Message: "failed to parse run " + runID, Cause: err}
	}
	return &run, nil
}

// ListRuns returns every run ID, oldest first
func (db *DB) ListRuns(ctx context.Context) ([]string, error) {
	rows, err := db.pool.Query(ctx, `SELECT id FROM pipeline_runs ORDER BY started_at, id`)
	if err != nil {
		return nil, &store.StorageError{Message: "failed to list runs", Cause: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &store.StorageError{Message: "failed to scan run id", Cause: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.StorageError{Message: "failed to iterate runs", Cause: err}
	}
	return ids, nil
}

func (db *DB) queryJSON(ctx context.Context, sql, runID string, fn func([]byte) error) error {
	rows, err := db.pool.Query(ctx, sql, runID)
	if err != nil {
		return &store.StorageError{Message: "failed to query run " + runID, Cause: err}
	}
	defer rows.Close()
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return &store.StorageError{Message: "failed to scan row", Cause: err}
		}
		if err := fn(data); err != nil {
			return &store.StorageError{Message: "failed to parse row", Cause: err}
		}
	}
	if err := rows.Err(); err != nil {
		return &store.StorageError{Message: "failed to iterate rows", Cause: err}
	}
	return nil
}
