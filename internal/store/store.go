// Package store provides the append-only artifact store and the run ledger.
package store

import (
	"context"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jonathan/docpipeline/internal/types"
	"golang.org/x/crypto/blake2b"
)

// ArtifactStore holds content blobs and version-tagged ContentUnits.
// There is no update or delete: corrections always produce new versions.
type ArtifactStore interface {
	// PutBlob stores data and returns its content digest. Storing the same bytes twice is a no-op.
	PutBlob(ctx context.Context, data []byte) (string, error)
	GetBlob(ctx context.Context, digest string) ([]byte, error)

	// Commit stores an immutable unit. Fails with *DuplicateVersionError when the tag exists.
	Commit(ctx context.Context, unit *types.ContentUnit) (string, error)
	// Get fails with *NotFoundError when the version does not exist.
	Get(ctx context.Context, runID, versionID string) (*types.ContentUnit, error)
	// Manifest returns every committed unit of a run in commit order.
	Manifest(ctx context.Context, runID string) ([]types.ContentUnit, error)
}

// Ledger persists the durable run records next to the artifacts.
type Ledger interface {
	AppendTrajectory(ctx context.Context, entry types.TrajectoryEntry) error
	Trajectory(ctx context.Context, runID string) ([]types.TrajectoryEntry, error)
	AppendChange(ctx context.Context, record types.ChangeRecord) error
	Changes(ctx context.Context, runID string) ([]types.ChangeRecord, error)
	SaveRun(ctx context.Context, run *types.PipelineRun) error
	LoadRun(ctx context.Context, runID string) (*types.PipelineRun, error)
	ListRuns(ctx context.Context) ([]string, error)
}

// Store is a full backend: artifacts plus ledger.
type Store interface {
	ArtifactStore
	Ledger
	Close() error
}

const digestPrefix = "blake2b-"

// Digest returns the content address of data
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return digestPrefix + hex.EncodeToString(sum[:])
}

// validDigest reports whether d looks like a digest produced by Digest
func validDigest(d string) bool {
	if !strings.HasPrefix(d, digestPrefix) {
		return false
	}
	raw := strings.TrimPrefix(d, digestPrefix)
	if len(raw) != 64 {
		return false
	}
	_, err := hex.DecodeString(raw)
	return err == nil
}

// ValidateRunID rejects run IDs that are not a single local path element
func ValidateRunID(id string) error {
	if id == "" || id == "." || strings.ContainsAny(id, `/\`) || !filepath.IsLocal(id) {
		return &InvalidRunIDError{RunID: id}
	}
	return nil
}

// CheckUnit validates the fields every backend requires before a commit
func CheckUnit(unit *types.ContentUnit) error {
	if unit == nil {
		return fmt.Errorf("content unit is nil")
	}
	if err := ValidateRunID(unit.RunID); err != nil {
		return err
	}
	if unit.VersionID == "" {
		return fmt.Errorf("content unit has no version id")
	}
	seen := make(map[string]bool, len(unit.Payloads))
	for _, ref := range unit.Payloads {
		if ref.Path == "" {
			return fmt.Errorf("content unit %s has a payload without a path", unit.VersionID)
		}
		if seen[ref.Path] {
			return fmt.Errorf("content unit %s has duplicate payload path %s", unit.VersionID, ref.Path)
		}
		seen[ref.Path] = true
		if !validDigest(ref.Digest) {
			return fmt.Errorf("content unit %s has invalid digest for %s", unit.VersionID, ref.Path)
		}
	}
	return nil
}

// CheckLineage enforces strictly increasing sequences and a single existing predecessor.
// existing is the run's manifest in commit order.
func CheckLineage(unit *types.ContentUnit, existing []types.ContentUnit) error {
	if len(existing) == 0 {
		if unit.Parent != "" {
			return &NotFoundError{RunID: unit.RunID, Key: unit.Parent, Kind: "parent version"}
		}
		return nil
	}
	last := existing[len(existing)-1]
	if unit.Sequence <= last.Sequence {
		return &LineageError{
			RunID:     unit.RunID,
			VersionID: unit.VersionID,
			Message:   fmt.Sprintf("sequence %d does not follow %d (%s)", unit.Sequence, last.Sequence, last.VersionID),
		}
	}
	if unit.Parent == "" {
		return &LineageError{RunID: unit.RunID, VersionID: unit.VersionID, Message: "missing predecessor"}
	}
	for i := range existing {
		if existing[i].VersionID == unit.Parent {
			return nil
		}
	}
	return &NotFoundError{RunID: unit.RunID, Key: unit.Parent, Kind: "parent version"}
}

// CloneUnit copies a unit so callers cannot mutate committed state
func CloneUnit(unit *types.ContentUnit) *types.ContentUnit {
	c := *unit
	c.Payloads = append([]types.PayloadRef(nil), unit.Payloads...)
	return &c
}
