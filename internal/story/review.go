package story

import "math"

// Rubric criteria names. The review prompt scores each 1..10.
const (
	CriterionShowDontTell         = "show_dont_tell"
	CriterionDialogue             = "dialogue"
	CriterionPacing               = "pacing"
	CriterionAgeAppropriateness   = "age_appropriateness"
	CriterionCharacterConsistency = "character_consistency"
	CriterionProseQuality         = "prose_quality"
)

// RubricWeights are fixed. They sum to 1.0.
var RubricWeights = map[string]float64{
	CriterionShowDontTell:         0.15,
	CriterionDialogue:             0.20,
	CriterionPacing:               0.20,
	CriterionAgeAppropriateness:   0.15,
	CriterionCharacterConsistency: 0.05,
	CriterionProseQuality:         0.25,
}

// DefaultQualityThreshold is the weighted score a chapter must reach to
// pass review without regeneration.
const DefaultQualityThreshold = 7.5

// QualityReview is the rubric breakdown persisted with every chapter.
type QualityReview struct {
	Scores          map[string]CriterionScore `json:"scores"`
	WeightedScore   float64                   `json:"weighted_score"`
	Passed          bool                      `json:"passed"`
	PriorityFixes   []string                  `json:"priority_fixes,omitempty"`
	ProseViolations []string                  `json:"prose_violations,omitempty"`
	Summary         string                    `json:"summary,omitempty"`
}

// CriterionScore is one rubric dimension: the score, an evidence quote, and
// a concrete fix when the score is below 7.
type CriterionScore struct {
	Score    float64 `json:"score"`
	Evidence string  `json:"evidence,omitempty"`
	Fix      string  `json:"fix,omitempty"`
}

// WeightedScore computes the rubric-weighted total for a score set.
// Criteria missing from scores contribute zero.
func WeightedScore(scores map[string]CriterionScore) float64 {
	var total float64
	for name, weight := range RubricWeights {
		if s, ok := scores[name]; ok {
			total += s.Score * weight
		}
	}
	return total
}

// RoundScore rounds to one decimal place, the precision persisted on the
// chapter row.
func RoundScore(score float64) float64 {
	return math.Round(score*10) / 10
}

// Fixes collects the reviewer's priority fixes followed by the concrete
// fixes from criteria scoring below 7.
func (r QualityReview) Fixes() []string {
	fixes := append([]string{}, r.PriorityFixes...)
	for _, s := range r.Scores {
		if s.Score < 7 && s.Fix != "" {
			fixes = append(fixes, s.Fix)
		}
	}
	return fixes
}
