package story

import (
	"math"
	"testing"
)

func TestWeightedScore(t *testing.T) {
	scores := map[string]CriterionScore{
		CriterionShowDontTell:         {Score: 8},
		CriterionDialogue:             {Score: 7},
		CriterionPacing:               {Score: 9},
		CriterionAgeAppropriateness:   {Score: 10},
		CriterionCharacterConsistency: {Score: 6},
		CriterionProseQuality:         {Score: 8},
	}
	// 8*.15 + 7*.20 + 9*.20 + 10*.15 + 6*.05 + 8*.25 = 8.2
	got := WeightedScore(scores)
	if math.Abs(got-8.2) > 1e-9 {
		t.Errorf("WeightedScore() = %v, want 8.2", got)
	}
}

func TestWeightedScore_MissingCriterion(t *testing.T) {
	scores := map[string]CriterionScore{
		CriterionProseQuality: {Score: 10},
	}
	// Missing criteria contribute zero rather than being renormalized.
	got := WeightedScore(scores)
	if math.Abs(got-2.5) > 1e-9 {
		t.Errorf("WeightedScore() = %v, want 2.5", got)
	}
}

func TestWeightedScore_IgnoresUnknownCriteria(t *testing.T) {
	scores := map[string]CriterionScore{
		CriterionProseQuality: {Score: 8},
		"vibes":               {Score: 10},
	}
	got := WeightedScore(scores)
	if math.Abs(got-2.0) > 1e-9 {
		t.Errorf("WeightedScore() = %v, want 2.0", got)
	}
}

func TestRoundScore(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{8.24999, 8.2},
		{8.25, 8.3},
		{7.4999999, 7.5},
		{0, 0},
	}
	for _, tt := range tests {
		if got := RoundScore(tt.in); got != tt.want {
			t.Errorf("RoundScore(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRubricWeightsSumToOne(t *testing.T) {
	var sum float64
	for _, w := range RubricWeights {
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("rubric weights sum to %v, want 1.0", sum)
	}
}

func TestReviewFixes(t *testing.T) {
	r := QualityReview{
		Scores: map[string]CriterionScore{
			CriterionDialogue: {Score: 5, Fix: "give each character a distinct register"},
			CriterionPacing:   {Score: 8, Fix: "tighten the middle"},
		},
		PriorityFixes: []string{"open with action"},
	}
	fixes := r.Fixes()
	if len(fixes) != 2 {
		t.Fatalf("Fixes() returned %d entries, want 2: %v", len(fixes), fixes)
	}
	// Priority fixes come first; criterion fixes only for scores below 7.
	if fixes[0] != "open with action" {
		t.Errorf("fixes[0] = %q", fixes[0])
	}
	if fixes[1] != "give each character a distinct register" {
		t.Errorf("fixes[1] = %q", fixes[1])
	}
}
