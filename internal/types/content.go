// Package types provides type definitions for structured data used throughout the document pipeline.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

// PayloadKind classifies a file carried by a ContentUnit
type PayloadKind string

const (
	PayloadText  PayloadKind = "text"
	PayloadTable PayloadKind = "table"
	PayloadImage PayloadKind = "image"
	PayloadLaTeX PayloadKind = "latex"
	PayloadPDF   PayloadKind = "pdf"
	PayloadOther PayloadKind = "other"
)

// KindForPath infers the payload kind from a file extension
func KindForPath(p string) PayloadKind {
	switch strings.ToLower(path.Ext(p)) {
	case ".md", ".markdown", ".txt", ".html", ".htm":
		return PayloadText
	case ".csv":
		return PayloadTable
	case ".png", ".jpg", ".jpeg":
		return PayloadImage
	case ".tex":
		return PayloadLaTeX
	case ".pdf":
		// PDFs under figures/ are images to be embedded, not compiled output
		if strings.HasPrefix(p, "figures/") {
			return PayloadImage
		}
		return PayloadPDF
	default:
		return PayloadOther
	}
}

// PayloadRef is a file-like reference held by a ContentUnit. Digest addresses
// the blob in the artifact store.
type PayloadRef struct {
	Path   string      `json:"path"`
	Kind   PayloadKind `json:"kind"`
	Digest string      `json:"digest"`
	Size   int64       `json:"size"`
}

// ContentUnit is an immutable snapshot of document material at one pipeline stage
type ContentUnit struct {
	RunID      string       `json:"run_id"`
	VersionID  string       `json:"version_id"`
	Sequence   int          `json:"sequence"`
	StageName  string       `json:"stage_name"`
	Parent     string       `json:"parent,omitempty"`
	Payloads   []PayloadRef `json:"payloads"`
	CreatedAt  time.Time    `json:"created_at"`
	ProducedBy string       `json:"produced_by"`
}

// Payload returns the reference stored under path p
func (u *ContentUnit) Payload(p string) (PayloadRef, bool) {
	for _, ref := range u.Payloads {
		if ref.Path == p {
			return ref, true
		}
	}
	return PayloadRef{}, false
}

// FileSet returns the payloads keyed by path
func (u *ContentUnit) FileSet() map[string]PayloadRef {
	if u == nil {
		return map[string]PayloadRef{}
	}
	files := make(map[string]PayloadRef, len(u.Payloads))
	for _, ref := range u.Payloads {
		files[ref.Path] = ref
	}
	return files
}

// PayloadsOfKind returns the payloads of the given kind sorted by path
func (u *ContentUnit) PayloadsOfKind(kind PayloadKind) []PayloadRef {
	var out []PayloadRef
	for _, ref := range u.Payloads {
		if ref.Kind == kind {
			out = append(out, ref)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// VersionTag builds the tag for a unit at sequence seq produced by stage.
// correction is 0 for a first attempt and k for the k-th correction iteration.
func VersionTag(seq int, stage string, correction int) string {
	if correction > 0 {
		return fmt.Sprintf("v%d_%s_iteration_%d", seq, stage, correction)
	}
	return fmt.Sprintf("v%d_%s", seq, stage)
}

// OriginalStage is the stage name of the ingested content (v0_original)
const OriginalStage = "original"
