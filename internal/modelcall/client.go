// Package modelcall wraps an LLM provider with the orchestrator's retry
// policy and cost accounting. Transient provider failures are retried on a
// fixed backoff schedule; anything else surfaces immediately to the caller.
package modelcall

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/fablewright/fable/internal/providers"
	"github.com/fablewright/fable/internal/story"
)

// MaxAttempts is the total number of tries per call.
const MaxAttempts = 4

// backoffSchedule is the wait before each attempt: immediate first try,
// then increasingly patient waits for upstream load to clear.
var backoffSchedule = []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}

// CostRecorder persists cost records. Implementations must be best-effort:
// recording failures are logged, never propagated.
type CostRecorder interface {
	InsertCostRecord(ctx context.Context, rec story.CostRecord)
}

// Result is the caller-facing slice of a successful model call.
type Result struct {
	Text         string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Duration     time.Duration
	Model        string
}

// Options tags a call with its story context for logs and cost records.
type Options struct {
	// Title is the story title, stamped on every attempt's log line.
	Title string

	// StoryID and Kind attribute the cost record.
	StoryID string
	Kind    string

	// MaxTokens bounds the response size. Zero uses the provider default.
	MaxTokens int

	// Temperature for generation. Zero uses the provider default.
	Temperature float64

	// ResponseFormat requests provider-side structured output.
	ResponseFormat *providers.ResponseFormat
}

// Client calls an LLM with retry and cost accounting.
type Client struct {
	llm     providers.LLMClient
	model   string
	pricing story.Pricing
	costs   CostRecorder
	logger  *slog.Logger
}

// New creates a Client. costs may be nil to skip cost accounting (tests).
func New(llm providers.LLMClient, model string, pricing story.Pricing, costs CostRecorder, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		llm:     llm,
		model:   model,
		pricing: pricing,
		costs:   costs,
		logger:  logger,
	}
}

// Model returns the model identifier this client targets.
func (c *Client) Model() string {
	return c.model
}

// IsTransient reports whether an error is momentary provider load. Callers
// use this to decide between unbounded and budget-capped retries.
func IsTransient(err error) bool {
	return providers.IsTransient(err)
}

// Call sends messages to the model, retrying transient failures up to
// MaxAttempts with the fixed backoff schedule. Every successful call emits
// exactly one cost record; a final failure emits one failure record.
func (c *Client) Call(ctx context.Context, messages []providers.Message, opts Options) (*Result, error) {
	promptSize := 0
	for _, m := range messages {
		promptSize += len(m.Content)
	}

	req := &providers.ChatRequest{
		Messages:       messages,
		Model:          c.model,
		MaxTokens:      opts.MaxTokens,
		Temperature:    opts.Temperature,
		ResponseFormat: opts.ResponseFormat,
		RequestID:      uuid.New().String(),
	}

	start := time.Now()
	attempt := 0

	var result *providers.ChatResult
	err := retry.Do(
		func() error {
			attempt++
			c.logger.Info("model call",
				"title", opts.Title,
				"kind", opts.Kind,
				"attempt", attempt,
				"prompt_chars", promptSize)

			res, callErr := c.llm.Chat(ctx, req)
			if callErr != nil {
				return callErr
			}
			result = res
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(MaxAttempts),
		retry.RetryIf(providers.IsTransient),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			// n is the count of failures so far; the next attempt is n+1.
			next := int(n) + 1
			if next >= len(backoffSchedule) {
				next = len(backoffSchedule) - 1
			}
			return backoffSchedule[next]
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		c.recordFailure(ctx, opts, err, time.Since(start))
		return nil, fmt.Errorf("model call failed after %d attempt(s): %w", attempt, err)
	}

	out := &Result{
		Text:         result.Content,
		InputTokens:  result.PromptTokens,
		OutputTokens: result.CompletionTokens,
		CostUSD:      result.CostUSD,
		Duration:     result.ExecutionTime,
		Model:        result.ModelUsed,
	}
	if out.Model == "" {
		out.Model = c.model
	}
	if out.CostUSD == 0 {
		// Provider did not report cost; fall back to configured pricing.
		out.CostUSD = c.pricing.Cost(out.InputTokens, out.OutputTokens)
	}
	if out.Duration == 0 {
		out.Duration = time.Since(start)
	}

	c.recordSuccess(ctx, opts, out)
	return out, nil
}

func (c *Client) recordSuccess(ctx context.Context, opts Options, res *Result) {
	if c.costs == nil {
		return
	}
	c.costs.InsertCostRecord(ctx, story.CostRecord{
		ID:           uuid.New().String(),
		StoryID:      opts.StoryID,
		Kind:         opts.Kind,
		Model:        res.Model,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		CostUSD:      res.CostUSD,
		Duration:     res.Duration,
		Success:      true,
		CreatedAt:    time.Now().UTC(),
	})
}

func (c *Client) recordFailure(ctx context.Context, opts Options, err error, elapsed time.Duration) {
	if c.costs == nil {
		return
	}
	c.costs.InsertCostRecord(ctx, story.CostRecord{
		ID:        uuid.New().String(),
		StoryID:   opts.StoryID,
		Kind:      opts.Kind,
		Model:     c.model,
		Duration:  elapsed,
		Success:   false,
		ErrorType: providers.ErrorType(err),
		CreatedAt: time.Now().UTC(),
	})
}
