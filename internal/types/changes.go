//nolint:revive // types is a standard Go package name pattern
package types

// ChangeKind classifies a file-level change between two versions
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// ChangeRecord is the diff between two consecutive ContentUnits.
// Payloads carries the after-state reference of every added or modified path.
type ChangeRecord struct {
	RunID       string                `json:"run_id"`
	FromVersion string                `json:"from_version,omitempty"`
	ToVersion   string                `json:"to_version"`
	Changes     map[string]ChangeKind `json:"file_level_changes"`
	Payloads    map[string]PayloadRef `json:"payloads,omitempty"`
	Summary     string                `json:"summary"`
}

// Count returns the number of changes of the given kind
func (c *ChangeRecord) Count(kind ChangeKind) int {
	n := 0
	for _, k := range c.Changes {
		if k == kind {
			n++
		}
	}
	return n
}
