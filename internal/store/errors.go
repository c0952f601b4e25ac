package store

import "fmt"

// DuplicateVersionError is returned when a version tag is committed twice
type DuplicateVersionError struct {
	RunID     string
	VersionID string
}

func (e *DuplicateVersionError) Error() string {
	return fmt.Sprintf("duplicate version error: run %s already has version %s", e.RunID, e.VersionID)
}

// NotFoundError is returned when a version, blob or run record does not exist
type NotFoundError struct {
	RunID string
	Key   string
	Kind  string
}

func (e *NotFoundError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "version"
	}
	if e.RunID == "" {
		return fmt.Sprintf("not found error: %s %s", kind, e.Key)
	}
	return fmt.Sprintf("not found error: run %s has no %s %s", e.RunID, kind, e.Key)
}

// InvalidRunIDError is returned for a run ID that cannot name a run directory
type InvalidRunIDError struct {
	RunID string
}

func (e *InvalidRunIDError) Error() string {
	return fmt.Sprintf("invalid run id error: %q must be a single path element", e.RunID)
}

// LineageError is returned when a commit would break version ordering
type LineageError struct {
	RunID     string
	VersionID string
	Message   string
}

func (e *LineageError) Error() string {
	return fmt.Sprintf("lineage error: run %s version %s: %s", e.RunID, e.VersionID, e.Message)
}

// StorageError wraps an underlying I/O or database failure
type StorageError struct {
	Message string
	Cause   error
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("storage error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("storage error: %s", e.Message)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}
