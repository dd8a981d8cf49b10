package review

import (
	"encoding/json"
	"fmt"

	"github.com/fablewright/fable/internal/providers"
	"github.com/fablewright/fable/internal/story"
)

var criterionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"score":    map[string]any{"type": "number", "minimum": 1, "maximum": 10},
		"evidence": map[string]any{"type": "string"},
		"fix":      map[string]any{"type": "string"},
	},
	"required":             []string{"score"},
	"additionalProperties": false,
}

// Schema is the response format for a rubric review.
var Schema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "chapter_review",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"scores": map[string]any{
					"type": "object",
					"properties": map[string]any{
						story.CriterionShowDontTell:         criterionSchema,
						story.CriterionDialogue:             criterionSchema,
						story.CriterionPacing:               criterionSchema,
						story.CriterionAgeAppropriateness:   criterionSchema,
						story.CriterionCharacterConsistency: criterionSchema,
						story.CriterionProseQuality:         criterionSchema,
					},
					"required": []string{
						story.CriterionShowDontTell,
						story.CriterionDialogue,
						story.CriterionPacing,
						story.CriterionAgeAppropriateness,
						story.CriterionCharacterConsistency,
						story.CriterionProseQuality,
					},
					"additionalProperties": false,
				},
				"summary": map[string]any{"type": "string"},
				"priority_fixes": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
			},
			"required":             []string{"scores"},
			"additionalProperties": false,
		},
	},
}

// ResponseFormat returns the provider response format for reviews.
func ResponseFormat() *providers.ResponseFormat {
	raw, err := json.Marshal(Schema["json_schema"])
	if err != nil {
		return nil
	}
	return &providers.ResponseFormat{Type: "json_schema", JSONSchema: raw}
}

// RequiredFields lists the top-level keys the repair gate must find.
func RequiredFields() []string { return []string{"scores"} }

type wireReview struct {
	Scores        map[string]story.CriterionScore `json:"scores"`
	Summary       string                          `json:"summary"`
	PriorityFixes []string                        `json:"priority_fixes"`
}

// Parse builds a QualityReview from a repaired response document,
// computing the weighted score against threshold.
func Parse(doc map[string]any, threshold float64) (story.QualityReview, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return story.QualityReview{}, fmt.Errorf("re-encoding review response: %w", err)
	}
	var w wireReview
	if err := json.Unmarshal(raw, &w); err != nil {
		return story.QualityReview{}, fmt.Errorf("decoding review response: %w", err)
	}
	if len(w.Scores) == 0 {
		return story.QualityReview{}, fmt.Errorf("review response missing scores")
	}
	for name := range story.RubricWeights {
		if _, ok := w.Scores[name]; !ok {
			return story.QualityReview{}, fmt.Errorf("review response missing criterion %q", name)
		}
	}
	weighted := story.WeightedScore(w.Scores)
	return story.QualityReview{
		Scores:        w.Scores,
		WeightedScore: weighted,
		Passed:        weighted >= threshold,
		PriorityFixes: w.PriorityFixes,
		Summary:       w.Summary,
	}, nil
}
