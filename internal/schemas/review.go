package schemas

import (
	"encoding/json"
	"fmt"

	"github.com/jonathan/docpipeline/internal/types"
	schemafiles "github.com/jonathan/docpipeline/schemas"
)

// DecodeReview validates an analyzer response against the review schema and
// returns it as a quality score with the score clamped and issues sorted.
// Issues without a category get fallbackCategory.
func DecodeReview(document []byte, fallbackCategory string) (types.QualityScore, error) {
	if err := Validate(schemafiles.ReviewResponse, document); err != nil {
		return types.QualityScore{}, err
	}
	var score types.QualityScore
	if err := json.Unmarshal(document, &score); err != nil {
		return types.QualityScore{}, fmt.Errorf("failed to decode review: %w", err)
	}
	score.Score = types.ClampScore(score.Score)
	for name, v := range score.Dimensions {
		score.Dimensions[name] = types.ClampScore(v)
	}
	for i := range score.Issues {
		if score.Issues[i].Category == "" {
			score.Issues[i].Category = fallbackCategory
		}
	}
	types.SortIssues(score.Issues)
	return score, nil
}
