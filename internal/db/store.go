package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/docpipeline/internal/store"
	"github.com/jonathan/docpipeline/internal/types"
)

var _ store.Store = (*DB)(nil)

// PutBlob stores data under its digest. Existing blobs are left untouched.
func (db *DB) PutBlob(ctx context.Context, data []byte) (string, error) {
	digest := store.Digest(data)
	_, err := db.pool.Exec(ctx,
		`INSERT INTO blobs (digest, data, size) VALUES ($1, $2, $3)
		 ON CONFLICT (digest) DO NOTHING`,
		digest, data, len(data),
	)
	if err != nil {
		return "", &store.StorageError{Message: "failed to store blob", Cause: err}
	}
	return digest, nil
}

// GetBlob returns the blob with the given digest
func (db *DB) GetBlob(ctx context.Context, digest string) ([]byte, error) {
	var data []byte
	err := db.pool.QueryRow(ctx, `SELECT data FROM blobs WHERE digest = $1`, digest).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &store.NotFoundError{Key: digest, Kind: "blob"}
	}
	if err != nil {
		return nil, &store.StorageError{Message: "failed to get blob", Cause: err}
	}
	return data, nil
}

// Commit inserts the unit inside a transaction holding the run's advisory lock,
// so that lineage checks and the insert are atomic across processes.
func (db *DB) Commit(ctx context.Context, unit *types.ContentUnit) (string, error) {
	if err := store.CheckUnit(unit); err != nil {
		return "", err
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return "", &store.StorageError{Message: "failed to begin transaction", Cause: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, unit.RunID); err != nil {
		return "", &store.StorageError{Message: "failed to lock run", Cause: err}
	}

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM content_units WHERE run_id = $1 AND version_id = $2)`,
		unit.RunID, unit.VersionID,
	).Scan(&exists); err != nil {
		return "", &store.StorageError{Message: "failed to check version", Cause: err}
	}
	if exists {
		return "", &store.DuplicateVersionError{RunID: unit.RunID, VersionID: unit.VersionID}
	}

	for _, ref := range unit.Payloads {
		var found bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM blobs WHERE digest = $1)`, ref.Digest).Scan(&found); err != nil {
			return "", &store.StorageError{Message: "failed to check blob", Cause: err}
		}
		if !found {
			return "", &store.NotFoundError{RunID: unit.RunID, Key: ref.Digest, Kind: "blob"}
		}
	}

	existing, err := queryManifest(ctx, tx, unit.RunID)
	if err != nil {
		return "", err
	}
	if err := store.CheckLineage(unit, existing); err != nil {
		return "", err
	}

	committed := store.CloneUnit(unit)
	if committed.CreatedAt.IsZero() {
		committed.CreatedAt = nowUTC()
	}
	payloads, err := json.Marshal(committed.Payloads)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payloads: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO content_units (run_id, version_id, sequence, stage_name, parent, payloads, produced_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		committed.RunID, committed.VersionID, committed.Sequence, committed.StageName,
		committed.Parent, payloads, committed.ProducedBy, committed.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", &store.DuplicateVersionError{RunID: unit.RunID, VersionID: unit.VersionID}
		}
		return "", &store.StorageError{Message: "failed to insert content unit", Cause: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return "", &store.StorageError{Message: "failed to commit transaction", Cause: err}
	}
	return committed.VersionID, nil
}

// Get returns a committed unit
func (db *DB) Get(ctx context.Context, runID, versionID string) (*types.ContentUnit, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT run_id, version_id, sequence, stage_name, parent, payloads, produced_by, created_at
		 FROM content_units WHERE run_id = $1 AND version_id = $2`,
		runID, versionID,
	)
	unit, err := scanUnit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &store.NotFoundError{RunID: runID, Key: versionID}
	}
	if err != nil {
		return nil, &store.StorageError{Message: "failed to get content unit", Cause: err}
	}
	return unit, nil
}

// Manifest returns the run's units in sequence order
func (db *DB) Manifest(ctx context.Context, runID string) ([]types.ContentUnit, error) {
	return queryManifest(ctx, db.pool, runID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryManifest(ctx context.Context, q querier, runID string) ([]types.ContentUnit, error) {
	rows, err := q.Query(ctx,
		`SELECT run_id, version_id, sequence, stage_name, parent, payloads, produced_by, created_at
		 FROM content_units WHERE run_id = $1 ORDER BY sequence`,
		runID,
	)
	if err != nil {
		return nil, &store.StorageError{Message: "failed to query manifest", Cause: err}
	}
	defer rows.Close()

	var units []types.ContentUnit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, &store.StorageError{Message: "failed to scan content unit", Cause: err}
		}
		units = append(units, *unit)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.StorageError{Message: "failed to iterate manifest", Cause: err}
	}
	return units, nil
}

func scanUnit(row pgx.Row) (*types.ContentUnit, error) {
	var unit types.ContentUnit
	var payloads []byte
	if err := row.Scan(&unit.RunID, &unit.VersionID, &unit.Sequence, &unit.StageName,
		&unit.Parent, &payloads, &unit.ProducedBy, &unit.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payloads, &unit.Payloads); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payloads: %w", err)
	}
	unit.CreatedAt = unit.CreatedAt.UTC()
	return &unit, nil
}
