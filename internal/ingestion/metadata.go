package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonathan/docpipeline/internal/store"
)

// Metadata describes an ingested content source
type Metadata struct {
	Source    string    `json:"source"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	// Digest addresses the whole file set; identical sources ingest to identical digests
	Digest   string `json:"digest"`
	Sections int    `json:"sections"`
	Tables   int    `json:"tables"`
	Figures  int    `json:"figures"`
	Browser  bool   `json:"browser,omitempty"`
}

// NewMetadata summarizes a file set
func NewMetadata(source, kind string, files map[string][]byte, now time.Time) *Metadata {
	m := &Metadata{
		Source:    source,
		Kind:      kind,
		Timestamp: now.UTC(),
		Digest:    fileSetDigest(files),
	}
	for p := range files {
		switch {
		case hasPrefix(p, SectionsDir):
			m.Sections++
		case hasPrefix(p, TablesDir):
			m.Tables++
		case hasPrefix(p, FiguresDir):
			m.Figures++
		}
	}
	return m
}

// fileSetDigest hashes the sorted (path, content digest) pairs
func fileSetDigest(files map[string][]byte) string {
	var manifest []byte
	for _, p := range sortedPaths(files) {
		manifest = append(manifest, p...)
		manifest = append(manifest, 0)
		manifest = append(manifest, store.Digest(files[p])...)
		manifest = append(manifest, '\n')
	}
	return store.Digest(manifest)
}

// ToJSON marshals Metadata to pretty-printed JSON
func (m *Metadata) ToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata to JSON: %w", err)
	}
	return data, nil
}
