package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonathan/docpipeline/internal/types"
)

// File names inside a run directory
const (
	ManifestFile   = "manifest.jsonl"
	TrajectoryFile = "trajectory.jsonl"
	ChangesFile    = "changes.jsonl"
	RunFile        = "run.json"
	versionsDir    = "versions"
	blobsDir       = "blobs"
	runsDir        = "runs"
)

// FileStore keeps blobs and run records on the local filesystem:
//
//	<root>/blobs/<xx>/<digest>
//	<root>/runs/<run>/versions/<version>.json
//	<root>/runs/<run>/manifest.jsonl
//	<root>/runs/<run>/trajectory.jsonl
//	<root>/runs/<run>/changes.jsonl
//	<root>/runs/<run>/run.json
//
// Version files are published with a hard link so a commit is either fully
// visible or absent, and a second commit of the same tag fails even across processes.
type FileStore struct {
	root string
	now  func() time.Time
	mu   sync.Mutex
	// appendLog appends one line to a log file
	appendLog func(path string, data []byte) error
}

// NewFileStore opens (creating if needed) a store rooted at dir
func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory is empty")
	}
	for _, sub := range []string{blobsDir, runsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, &StorageError{Message: "failed to create store directory", Cause: err}
		}
	}
	o := buildOptions(opts)
	return &FileStore{root: dir, now: o.now, appendLog: appendLine}, nil
}

// Root returns the store directory
func (s *FileStore) Root() string { return s.root }

// RunDir returns the directory holding a run's records. The ID must be a single
// path element so no run can reach outside the store.
func (s *FileStore) RunDir(runID string) (string, error) {
	if err := ValidateRunID(runID); err != nil {
		return "", err
	}
	return filepath.Join(s.root, runsDir, runID), nil
}

// runFile returns the path of name inside the run's directory
func (s *FileStore) runFile(runID, name string) (string, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func (s *FileStore) blobPath(digest string) string {
	raw := strings.TrimPrefix(digest, digestPrefix)
	return filepath.Join(s.root, blobsDir, raw[:2], digest)
}

// PutBlob writes data under its digest
func (s *FileStore) PutBlob(_ context.Context, data []byte) (string, error) {
	digest := Digest(data)
	p := s.blobPath(digest)
	if _, err := os.Stat(p); err == nil {
		return digest, nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", &StorageError{Message: "failed to create blob directory", Cause: err}
	}
	tmp, err := writeTemp(filepath.Dir(p), data)
	if err != nil {
		return "", err
	}
	// identical content, so a concurrent rename of the same digest is harmless
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return "", &StorageError{Message: "failed to publish blob", Cause: err}
	}
	return digest, nil
}

// GetBlob reads the blob with the given digest
func (s *FileStore) GetBlob(_ context.Context, digest string) ([]byte, error) {
	if !validDigest(digest) {
		return nil, &NotFoundError{Key: digest, Kind: "blob"}
	}
	data, err := os.ReadFile(s.blobPath(digest))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{Key: digest, Kind: "blob"}
	}
	if err != nil {
		return nil, &StorageError{Message: "failed to read blob", Cause: err}
	}
	return data, nil
}

// Commit publishes the unit's version file and appends its manifest entry
func (s *FileStore) Commit(ctx context.Context, unit *types.ContentUnit) (string, error) {
	if err := CheckUnit(unit); err != nil {
		return "", err
	}
	for _, ref := range unit.Payloads {
		if _, err := os.Stat(s.blobPath(ref.Digest)); err != nil {
			return "", &NotFoundError{RunID: unit.RunID, Key: ref.Digest, Kind: "blob"}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.Manifest(ctx, unit.RunID)
	if err != nil {
		return "", err
	}
	for i := range existing {
		if existing[i].VersionID == unit.VersionID {
			return "", &DuplicateVersionError{RunID: unit.RunID, VersionID: unit.VersionID}
		}
	}
	if err := CheckLineage(unit, existing); err != nil {
		return "", err
	}

	committed := CloneUnit(unit)
	if committed.CreatedAt.IsZero() {
		committed.CreatedAt = s.now().UTC()
	}
	data, err := json.Marshal(committed)
	if err != nil {
		return "", fmt.Errorf("failed to marshal content unit: %w", err)
	}

	dir, err := s.runFile(unit.RunID, versionsDir)
	if err != nil {
		return "", err
	}
	manifest, err := s.runFile(unit.RunID, ManifestFile)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &StorageError{Message: "failed to create versions directory", Cause: err}
	}
	tmp, err := writeTemp(dir, data)
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(tmp) }()

	final := filepath.Join(dir, unit.VersionID+".json")
	if err := os.Link(tmp, final); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", &DuplicateVersionError{RunID: unit.RunID, VersionID: unit.VersionID}
		}
		return "", &StorageError{Message: "failed to publish version", Cause: err}
	}

	if err := s.appendLog(manifest, data); err != nil {
		// unpublish so Get never sees a version the manifest lacks
		_ = os.Remove(final)
		return "", err
	}
	return committed.VersionID, nil
}

// Get reads a committed version file
func (s *FileStore) Get(_ context.Context, runID, versionID string) (*types.ContentUnit, error) {
	if strings.ContainsAny(versionID, `/\`) || versionID == "" {
		return nil, &NotFoundError{RunID: runID, Key: versionID}
	}
	dir, err := s.runFile(runID, versionsDir)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, versionID+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{RunID: runID, Key: versionID}
	}
	if err != nil {
		return nil, &StorageError{Message: "failed to read version", Cause: err}
	}
	var unit types.ContentUnit
	if err := json.Unmarshal(data, &unit); err != nil {
		return nil, &StorageError{Message: "failed to parse version " + versionID, Cause: err}
	}
	return &unit, nil
}

// Manifest reads the run's manifest log
func (s *FileStore) Manifest(_ context.Context, runID string) ([]types.ContentUnit, error) {
	var units []types.ContentUnit
	path, err := s.runFile(runID, ManifestFile)
	if err != nil {
		return nil, err
	}
	err = readLines(path, func(line []byte) error {
		var unit types.ContentUnit
		if err := json.Unmarshal(line, &unit); err != nil {
			return err
		}
		units = append(units, unit)
		return nil
	})
	return units, err
}

// AppendTrajectory appends a line to the trajectory log
func (s *FileStore) AppendTrajectory(_ context.Context, entry types.TrajectoryEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("trajectory entry has no run id")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal trajectory entry: %w", err)
	}
	path, err := s.runFile(entry.RunID, TrajectoryFile)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLog(path, data)
}

// Trajectory reads the trajectory log
func (s *FileStore) Trajectory(_ context.Context, runID string) ([]types.TrajectoryEntry, error) {
	var entries []types.TrajectoryEntry
	path, err := s.runFile(runID, TrajectoryFile)
	if err != nil {
		return nil, err
	}
	err = readLines(path, func(line []byte) error {
		var entry types.TrajectoryEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	return entries, err
}

// AppendChange appends a line to the change log
func (s *FileStore) AppendChange(_ context.Context, record types.ChangeRecord) error {
	if record.RunID == "" {
		return fmt.Errorf("change record has no run id")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal change record: %w", err)
	}
	path, err := s.runFile(record.RunID, ChangesFile)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLog(path, data)
}

// Changes reads the change log
func (s *FileStore) Changes(_ context.Context, runID string) ([]types.ChangeRecord, error) {
	var records []types.ChangeRecord
	path, err := s.runFile(runID, ChangesFile)
	if err != nil {
		return nil, err
	}
	err = readLines(path, func(line []byte) error {
		var record types.ChangeRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return err
		}
		records = append(records, record)
		return nil
	})
	return records, err
}

// SaveRun replaces the run record atomically
func (s *FileStore) SaveRun(_ context.Context, run *types.PipelineRun) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	dir, err := s.RunDir(run.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &StorageError{Message: "failed to create run directory", Cause: err}
	}
	tmp, err := writeTemp(dir, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(dir, RunFile)); err != nil {
		_ = os.Remove(tmp)
		return &StorageError{Message: "failed to save run record", Cause: err}
	}
	return nil
}

// LoadRun reads the run record
func (s *FileStore) LoadRun(_ context.Context, runID string) (*types.PipelineRun, error) {
	path, err := s.runFile(runID, RunFile)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{RunID: runID, Key: runID, Kind: "run record"}
	}
	if err != nil {
		return nil, &StorageError{Message: "failed to read run record", Cause: err}
	}
	var run types.PipelineRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, &StorageError{Message: "failed to parse run record", Cause: err}
	}
	return &run, nil
}

// ListRuns lists run directories
func (s *FileStore) ListRuns(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, runsDir))
	if err != nil {
		return nil, &StorageError{Message: "failed to list runs", Cause: err}
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op
func (s *FileStore) Close() error { return nil }

// writeTemp writes data to a fresh temp file in dir and syncs it
func writeTemp(dir string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", &StorageError{Message: "failed to create temp file", Cause: err}
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", &StorageError{Message: "failed to write temp file", Cause: err}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", &StorageError{Message: "failed to sync temp file", Cause: err}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", &StorageError{Message: "failed to close temp file", Cause: err}
	}
	return name, nil
}

// appendLine appends one JSON line in a single write
func appendLine(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &StorageError{Message: "failed to create log directory", Cause: err}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return &StorageError{Message: "failed to open " + filepath.Base(path), Cause: err}
	}
	line := append(bytes.TrimSpace(data), '\n')
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return &StorageError{Message: "failed to append to " + filepath.Base(path), Cause: err}
	}
	return f.Close()
}

// readLines calls fn for each non-empty line. A missing file yields no lines.
func readLines(path string, fn func([]byte) error) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &StorageError{Message: "failed to open " + filepath.Base(path), Cause: err}
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return &StorageError{Message: fmt.Sprintf("%s line %d", filepath.Base(path), lineNo), Cause: err}
		}
	}
	if err := scanner.Err(); err != nil {
		return &StorageError{Message: "failed to read " + filepath.Base(path), Cause: err}
	}
	return nil
}
