// Package changes computes, applies and persists file-level diffs between versions.
package changes

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jonathan/docpipeline/internal/store"
	"github.com/jonathan/docpipeline/internal/types"
)

// Diff compares two units by payload digest. from may be nil for the first version,
// in which case every file of to is reported as added.
func Diff(from, to *types.ContentUnit) types.ChangeRecord {
	record := types.ChangeRecord{
		Changes:  make(map[string]types.ChangeKind),
		Payloads: make(map[string]types.PayloadRef),
	}
	if to != nil {
		record.RunID = to.RunID
		record.ToVersion = to.VersionID
	}
	if from != nil {
		record.FromVersion = from.VersionID
	}

	before := from.FileSet()
	after := to.FileSet()

	for p, ref := range after {
		prev, ok := before[p]
		switch {
		case !ok:
			record.Changes[p] = types.ChangeAdded
			record.Payloads[p] = ref
		case prev.Digest != ref.Digest || prev.Kind != ref.Kind:
			record.Changes[p] = types.ChangeModified
			record.Payloads[p] = ref
		}
	}
	for p := range before {
		if _, ok := after[p]; !ok {
			record.Changes[p] = types.ChangeRemoved
		}
	}

	record.Summary = Summarize(record)
	return record
}

// Apply replays a record on top of a file set and returns the resulting set.
// The input map is not modified.
func Apply(files map[string]types.PayloadRef, record types.ChangeRecord) (map[string]types.PayloadRef, error) {
	out := make(map[string]types.PayloadRef, len(files))
	for p, ref := range files {
		out[p] = ref
	}
	for p, kind := range record.Changes {
		switch kind {
		case types.ChangeAdded, types.ChangeModified:
			ref, ok := record.Payloads[p]
			if !ok {
				return nil, fmt.Errorf("change %s -> %s: %s %s has no payload", record.FromVersion, record.ToVersion, kind, p)
			}
			if _, exists := out[p]; kind == types.ChangeAdded && exists {
				return nil, fmt.Errorf("change %s -> %s: %s added but already present", record.FromVersion, record.ToVersion, p)
			}
			out[p] = ref
		case types.ChangeRemoved:
			if _, exists := out[p]; !exists {
				return nil, fmt.Errorf("change %s -> %s: %s removed but not present", record.FromVersion, record.ToVersion, p)
			}
			delete(out, p)
		default:
			return nil, fmt.Errorf("unknown change kind %q for %s", kind, p)
		}
	}
	return out, nil
}

// Reconstruct replays records in order starting from an empty file set.
// The first record is expected to be the all-added record of v0.
func Reconstruct(records []types.ChangeRecord) (map[string]types.PayloadRef, error) {
	files := map[string]types.PayloadRef{}
	for i, record := range records {
		if i > 0 && record.FromVersion != records[i-1].ToVersion {
			return nil, fmt.Errorf("change chain broken at %s: expected from %s, got %s",
				record.ToVersion, records[i-1].ToVersion, record.FromVersion)
		}
		next, err := Apply(files, record)
		if err != nil {
			return nil, err
		}
		files = next
	}
	return files, nil
}

// Chain returns the records leading from the first version to version, following FromVersion links.
func Chain(records []types.ChangeRecord, version string) ([]types.ChangeRecord, error) {
	byTo := make(map[string]types.ChangeRecord, len(records))
	for _, r := range records {
		byTo[r.ToVersion] = r
	}
	var chain []types.ChangeRecord
	for v := version; v != ""; {
		r, ok := byTo[v]
		if !ok {
			return nil, fmt.Errorf("no change record for version %s", v)
		}
		chain = append(chain, r)
		v = r.FromVersion
		if len(chain) > len(records) {
			return nil, fmt.Errorf("change records for %s form a cycle", version)
		}
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Summarize renders a one-line description of a record
func Summarize(record types.ChangeRecord) string {
	added := record.Count(types.ChangeAdded)
	modified := record.Count(types.ChangeModified)
	removed := record.Count(types.ChangeRemoved)
	if added+modified+removed == 0 {
		return "no file changes"
	}

	var parts []string
	for _, kind := range []types.ChangeKind{types.ChangeAdded, types.ChangeModified, types.ChangeRemoved} {
		paths := pathsOfKind(record, kind)
		if len(paths) == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d %s (%s)", len(paths), kind, abbreviate(paths, 3)))
	}
	return strings.Join(parts, "; ")
}

func pathsOfKind(record types.ChangeRecord, kind types.ChangeKind) []string {
	var paths []string
	for p, k := range record.Changes {
		if k == kind {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

func abbreviate(paths []string, limit int) string {
	if len(paths) <= limit {
		return strings.Join(paths, ", ")
	}
	return fmt.Sprintf("%s, +%d more", strings.Join(paths[:limit], ", "), len(paths)-limit)
}

// Tracker records diffs into a ledger right after each commit
type Tracker struct {
	ledger store.Ledger
}

// NewTracker creates a tracker persisting into ledger
func NewTracker(ledger store.Ledger) *Tracker {
	return &Tracker{ledger: ledger}
}

// Record diffs from against to and appends the result to the change log
func (t *Tracker) Record(ctx context.Context, from, to *types.ContentUnit) (types.ChangeRecord, error) {
	record := Diff(from, to)
	if err := t.ledger.AppendChange(ctx, record); err != nil {
		return record, fmt.Errorf("failed to record changes for %s: %w", record.ToVersion, err)
	}
	return record, nil
}
