package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonathan/docpipeline/internal/types"
)

// MemoryStore is an in-process Store, used by tests and single-shot runs
type MemoryStore struct {
	mu         sync.RWMutex
	now        func() time.Time
	blobs      map[string][]byte
	units      map[string]map[string]*types.ContentUnit
	order      map[string][]string
	trajectory map[string][]types.TrajectoryEntry
	changes    map[string][]types.ChangeRecord
	runs       map[string][]byte
}

// Option configures a store backend
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used to stamp committed units
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.now = clock
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		now:        o.now,
		blobs:      make(map[string][]byte),
		units:      make(map[string]map[string]*types.ContentUnit),
		order:      make(map[string][]string),
		trajectory: make(map[string][]types.TrajectoryEntry),
		changes:    make(map[string][]types.ChangeRecord),
		runs:       make(map[string][]byte),
	}
}

// PutBlob stores data under its digest
func (s *MemoryStore) PutBlob(_ context.Context, data []byte) (string, error) {
	digest := Digest(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[digest]; !ok {
		s.blobs[digest] = append([]byte(nil), data...)
	}
	return digest, nil
}

// GetBlob returns a copy of the blob with the given digest
func (s *MemoryStore) GetBlob(_ context.Context, digest string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[digest]
	if !ok {
		return nil, &NotFoundError{Key: digest, Kind: "blob"}
	}
	return append([]byte(nil), data...), nil
}

// Commit stores the unit if its tag is new for the run
func (s *MemoryStore) Commit(_ context.Context, unit *types.ContentUnit) (string, error) {
	if err := CheckUnit(unit); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	runUnits := s.units[unit.RunID]
	if _, exists := runUnits[unit.VersionID]; exists {
		return "", &DuplicateVersionError{RunID: unit.RunID, VersionID: unit.VersionID}
	}
	for _, ref := range unit.Payloads {
		if _, ok := s.blobs[ref.Digest]; !ok {
			return "", &NotFoundError{RunID: unit.RunID, Key: ref.Digest, Kind: "blob"}
		}
	}
	if err := CheckLineage(unit, s.manifestLocked(unit.RunID)); err != nil {
		return "", err
	}

	committed := CloneUnit(unit)
	if committed.CreatedAt.IsZero() {
		committed.CreatedAt = s.now().UTC()
	}
	if runUnits == nil {
		runUnits = make(map[string]*types.ContentUnit)
		s.units[unit.RunID] = runUnits
	}
	runUnits[unit.VersionID] = committed
	s.order[unit.RunID] = append(s.order[unit.RunID], unit.VersionID)
	return committed.VersionID, nil
}

// Get returns a committed unit
func (s *MemoryStore) Get(_ context.Context, runID, versionID string) (*types.ContentUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	unit, ok := s.units[runID][versionID]
	if !ok {
		return nil, &NotFoundError{RunID: runID, Key: versionID}
	}
	return CloneUnit(unit), nil
}

// Manifest returns the run's units in commit order
func (s *MemoryStore) Manifest(_ context.Context, runID string) ([]types.ContentUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manifestLocked(runID), nil
}

func (s *MemoryStore) manifestLocked(runID string) []types.ContentUnit {
	out := make([]types.ContentUnit, 0, len(s.order[runID]))
	for _, v := range s.order[runID] {
		out = append(out, *CloneUnit(s.units[runID][v]))
	}
	return out
}

// AppendTrajectory appends one score snapshot
func (s *MemoryStore) AppendTrajectory(_ context.Context, entry types.TrajectoryEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("trajectory entry has no run id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trajectory[entry.RunID] = append(s.trajectory[entry.RunID], entry)
	return nil
}

// Trajectory returns the run's trajectory log
func (s *MemoryStore) Trajectory(_ context.Context, runID string) ([]types.TrajectoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.TrajectoryEntry(nil), s.trajectory[runID]...), nil
}

// AppendChange appends one change record
func (s *MemoryStore) AppendChange(_ context.Context, record types.ChangeRecord) error {
	if record.RunID == "" {
		return fmt.Errorf("change record has no run id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes[record.RunID] = append(s.changes[record.RunID], record)
	return nil
}

// Changes returns the run's change records in order
func (s *MemoryStore) Changes(_ context.Context, runID string) ([]types.ChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.ChangeRecord(nil), s.changes[runID]...), nil
}

// SaveRun stores a snapshot of the run record
func (s *MemoryStore) SaveRun(_ context.Context, run *types.PipelineRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = data
	return nil
}

// LoadRun returns the last saved snapshot of a run
func (s *MemoryStore) LoadRun(_ context.Context, runID string) (*types.PipelineRun, error) {
	s.mu.RLock()
	data, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{RunID: runID, Key: runID, Kind: "run record"}
	}
	var run types.PipelineRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// ListRuns returns the IDs of every run with a record or a committed version
func (s *MemoryStore) ListRuns(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	for id := range s.runs {
		seen[id] = true
	}
	for id := range s.order {
		seen[id] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }
