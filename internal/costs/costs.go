// Package costs aggregates model-call cost records into the summaries the
// CLI prints: per story, per call kind, and across the whole store.
package costs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fablewright/fable/internal/store"
	"github.com/fablewright/fable/internal/story"
)

// Summary aggregates a set of cost records.
type Summary struct {
	Count        int           `json:"count"`
	TotalCostUSD float64       `json:"total_cost_usd"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	TotalTime    time.Duration `json:"total_time"`
	SuccessCount int           `json:"success_count"`
	ErrorCount   int           `json:"error_count"`
	AvgCostUSD   float64       `json:"avg_cost_usd"`
}

// StorySummary is one story's spend with its per-kind breakdown.
type StorySummary struct {
	StoryID string              `json:"story_id"`
	Title   string              `json:"title"`
	Status  string              `json:"status"`
	Totals  Summary             `json:"totals"`
	ByKind  map[string]*Summary `json:"by_kind"`
}

// Summarize folds records into a Summary.
func Summarize(recs []story.CostRecord) Summary {
	var s Summary
	s.Count = len(recs)
	for _, r := range recs {
		s.TotalCostUSD += r.CostUSD
		s.InputTokens += r.InputTokens
		s.OutputTokens += r.OutputTokens
		s.TotalTime += r.Duration
		if r.Success {
			s.SuccessCount++
		} else {
			s.ErrorCount++
		}
	}
	if s.Count > 0 {
		s.AvgCostUSD = s.TotalCostUSD / float64(s.Count)
	}
	return s
}

// ByKind groups records by call kind (bible, arc, chapter, review,
// editor_brief, cover and the rest) and summarizes each group.
func ByKind(recs []story.CostRecord) map[string]*Summary {
	grouped := make(map[string][]story.CostRecord)
	for _, r := range recs {
		grouped[r.Kind] = append(grouped[r.Kind], r)
	}
	out := make(map[string]*Summary, len(grouped))
	for kind, rs := range grouped {
		s := Summarize(rs)
		out[kind] = &s
	}
	return out
}

// Query answers cost questions from the store.
type Query struct {
	store store.Store
}

// NewQuery creates a cost query over the store.
func NewQuery(st store.Store) *Query {
	return &Query{store: st}
}

// Story returns one story's cost summary with the per-kind breakdown.
func (q *Query) Story(ctx context.Context, storyID string) (*StorySummary, error) {
	st, err := q.store.LoadStory(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load story: %w", err)
	}
	recs, err := q.store.ListCostRecords(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cost records: %w", err)
	}
	return &StorySummary{
		StoryID: st.ID,
		Title:   st.Title,
		Status:  st.Status,
		Totals:  Summarize(recs),
		ByKind:  ByKind(recs),
	}, nil
}

// All returns summaries for every story (optionally one owner's), most
// expensive first. Stories with no recorded calls are skipped.
func (q *Query) All(ctx context.Context, owner string) ([]*StorySummary, error) {
	stories, err := q.store.ListStories(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}

	out := make([]*StorySummary, 0, len(stories))
	for _, st := range stories {
		recs, err := q.store.ListCostRecords(ctx, st.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load cost records for %s: %w", st.ID, err)
		}
		if len(recs) == 0 {
			continue
		}
		out = append(out, &StorySummary{
			StoryID: st.ID,
			Title:   st.Title,
			Status:  st.Status,
			Totals:  Summarize(recs),
			ByKind:  ByKind(recs),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Totals.TotalCostUSD > out[j].Totals.TotalCostUSD
	})
	return out, nil
}
