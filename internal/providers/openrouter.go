package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	OpenRouterName    = "openrouter"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// maxStructuredRepairAttempts limits client-side self-repair loops when
// structured output parsing/validation fails.
const maxStructuredRepairAttempts = 2

// OpenRouterConfig holds configuration for the OpenRouter client.
type OpenRouterConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	// Rate limiting
	RPM        int           // Requests per minute (default: 60)
	MaxRetries int           // Max retry attempts within a single call (default: 3)
	RetryDelay time.Duration // Base delay between retries (default: 1s)
}

// OpenRouterClient implements LLMClient using the OpenRouter API.
type OpenRouterClient struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
	limiter      *RateLimiter
	rpm          int
	maxRetries   int
	retryDelay   time.Duration
}

// NewOpenRouterClient creates a new OpenRouter client.
func NewOpenRouterClient(cfg OpenRouterConfig) *OpenRouterClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenRouterBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic/claude-sonnet-4.5"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.RPM <= 0 {
		cfg.RPM = 60
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}

	return &OpenRouterClient{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		defaultModel: cfg.DefaultModel,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:    NewRateLimiter(cfg.RPM),
		rpm:        cfg.RPM,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

// Name returns the client identifier.
func (c *OpenRouterClient) Name() string {
	return OpenRouterName
}

// RequestsPerMinute returns the configured rate limit.
func (c *OpenRouterClient) RequestsPerMinute() int {
	return c.rpm
}

// LimiterStatus exposes the rate limiter state for the status command.
func (c *OpenRouterClient) LimiterStatus() RateLimiterStatus {
	return c.limiter.Status()
}

// Chat sends a chat completion request.
func (c *OpenRouterClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	orReq := openRouterRequest{
		Model:       model,
		Messages:    make([]openRouterMessage, 0, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Usage:       &openRouterUsageRequest{Include: true},
	}
	for _, m := range req.Messages {
		orReq.Messages = append(orReq.Messages, openRouterMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	// OpenRouter may route anthropic/* models to backends that reject native
	// structured outputs; for those the schema is enforced locally instead.
	if req.ResponseFormat != nil {
		rf, err := adaptedResponseFormat(model, req.ResponseFormat)
		if err != nil {
			return &ChatResult{
				RequestID:    requestID,
				Provider:     OpenRouterName,
				Success:      false,
				ErrorType:    "schema_error",
				ErrorMessage: err.Error(),
				TotalTime:    time.Since(start),
			}, err
		}
		orReq.ResponseFormat = rf
	}

	result := &ChatResult{
		RequestID: requestID,
		Provider:  OpenRouterName,
	}

	for attempt := 0; ; attempt++ {
		result.Attempts = attempt + 1

		orResp, httpErr := c.doRequest(ctx, "/chat/completions", &orReq)
		if httpErr != nil {
			result.Success = false
			result.ErrorType = ErrorType(httpErr)
			result.ErrorMessage = httpErr.Error()
			result.TotalTime = time.Since(start)
			return result, httpErr
		}

		content, err := c.extractContent(orResp)
		if err != nil {
			result.Success = false
			result.ErrorType = "empty_response"
			result.ErrorMessage = err.Error()
			result.TotalTime = time.Since(start)
			return result, err
		}

		result.Content = content
		result.ModelUsed = orResp.Model
		result.PromptTokens += orResp.Usage.PromptTokens
		result.CompletionTokens += orResp.Usage.CompletionTokens
		result.TotalTokens += orResp.Usage.TotalTokens
		result.ReasoningTokens += orResp.Usage.CompletionTokensDetails.ReasoningTokens
		if orResp.Usage.Cost > 0 {
			result.CostUSD += orResp.Usage.Cost
		} else if orResp.Usage.NativeTotalCost > 0 {
			result.CostUSD += orResp.Usage.NativeTotalCost
		}
		result.ExecutionTime = time.Since(start)
		result.TotalTime = result.ExecutionTime

		if req.ResponseFormat == nil {
			result.Success = true
			return result, nil
		}

		// Structured output: parse and validate locally, asking the model to
		// fix its own output when it does not conform.
		parsed, parseErr := parseStructuredJSON(content)
		if parseErr == nil {
			parseErr = validateStructuredJSON(req.ResponseFormat.JSONSchema, parsed)
		}
		if parseErr == nil {
			result.Success = true
			result.ParsedJSON = parsed
			return result, nil
		}

		if attempt >= maxStructuredRepairAttempts {
			result.Success = false
			result.ErrorType = "json_parse"
			result.ErrorMessage = parseErr.Error()
			result.TotalTime = time.Since(start)
			return result, fmt.Errorf("structured output invalid after %d attempts: %w", result.Attempts, parseErr)
		}

		orReq.Messages = append(orReq.Messages,
			openRouterMessage{Role: "assistant", Content: content},
			openRouterMessage{Role: "user", Content: structuredRepairPrompt(req.ResponseFormat.JSONSchema, content, parseErr)},
		)
	}
}

func (c *OpenRouterClient) extractContent(orResp *openRouterResponse) (string, error) {
	if len(orResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	switch v := orResp.Choices[0].Message.Content.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to marshal content: %w", err)
		}
		return string(b), nil
	}
}

// Verify interface
var _ LLMClient = (*OpenRouterClient)(nil)
