// Package schemas holds the JSON Schemas of the pipeline's durable records and analyzer responses.
package schemas

import "embed"

// FS contains every *.schema.json file in this directory
//
//go:embed *.schema.json
var FS embed.FS

// Schema file names
const (
	ManifestEntry   = "manifest_entry.schema.json"
	TrajectoryEntry = "trajectory_entry.schema.json"
	ChangeRecord    = "change_record.schema.json"
	Report          = "report.schema.json"
	ReviewResponse  = "review_response.schema.json"
)

// All lists every embedded schema
var All = []string{ManifestEntry, TrajectoryEntry, ChangeRecord, Report, ReviewResponse}
