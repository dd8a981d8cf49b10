package story

import "time"

// Operation kinds for cost records.
const (
	KindBible        = "bible"
	KindArc          = "arc"
	KindChapter      = "chapter"
	KindReview       = "review"
	KindEditorBrief  = "editor_brief"
	KindLedger       = "ledger"
	KindEntityRepair = "entity_repair"
	KindVoiceReview  = "voice_review"
	KindTranscript   = "transcript_reduce"
	KindCover        = "cover"
)

// CostRecord tracks one model call's token usage and cost, attributed to a
// story and an operation kind.
type CostRecord struct {
	ID           string
	StoryID      string
	Kind         string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Duration     time.Duration
	Success      bool
	ErrorType    string
	CreatedAt    time.Time
}

// Pricing converts token counts to dollars. Rates are per million tokens
// and come from runtime configuration.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Cost computes the dollar cost of a call under this pricing.
func (p Pricing) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1e6*p.InputPerMillion +
		float64(outputTokens)/1e6*p.OutputPerMillion
}
