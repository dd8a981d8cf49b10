package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockResponse is one scripted reply for a MockClient.
type MockResponse struct {
	Content string
	Err     error
}

// MockClient is an LLMClient for testing. Responses can be scripted in order
// with Enqueue/EnqueueError; when the script is exhausted the client falls
// back to ResponseText.
type MockClient struct {
	// Configurable behavior
	Latency      time.Duration
	ShouldFail   bool
	FailAfter    int // Fail after N requests (0 = never)
	ResponseText string

	mu       sync.Mutex
	script   []MockResponse
	requests []*ChatRequest

	requestCount atomic.Int64
}

// NewMockClient creates a new mock client with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		Latency:      time.Millisecond,
		ResponseText: "mock response",
	}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// Enqueue scripts a successful response.
func (c *MockClient) Enqueue(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, MockResponse{Content: content})
}

// EnqueueError scripts a failed call.
func (c *MockClient) EnqueueError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, MockResponse{Err: err})
}

// Requests returns every request the client has seen, in order.
func (c *MockClient) Requests() []*ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*ChatRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

// Chat sends a mock chat request.
func (c *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	count := c.requestCount.Add(1)

	c.mu.Lock()
	c.requests = append(c.requests, req)
	var scripted *MockResponse
	if len(c.script) > 0 {
		scripted = &c.script[0]
		c.script = c.script[1:]
	}
	c.mu.Unlock()

	result := &ChatResult{
		RequestID: fmt.Sprintf("mock-%d", count),
		Provider:  MockClientName,
		ModelUsed: req.Model,
		Attempts:  1,
	}

	fail := func(err error) (*ChatResult, error) {
		result.Success = false
		result.ErrorType = ErrorType(err)
		result.ErrorMessage = err.Error()
		result.TotalTime = time.Since(start)
		return result, err
	}

	if c.ShouldFail {
		return fail(fmt.Errorf("mock client configured to fail"))
	}
	if c.FailAfter > 0 && int(count) > c.FailAfter {
		return fail(fmt.Errorf("mock client failed after %d requests", c.FailAfter))
	}
	if scripted != nil && scripted.Err != nil {
		return fail(scripted.Err)
	}

	// Simulate latency
	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			return fail(ctx.Err())
		}
	}

	content := c.ResponseText
	if scripted != nil {
		content = scripted.Content
	}

	result.Success = true
	result.Content = content
	result.ExecutionTime = time.Since(start)
	result.TotalTime = result.ExecutionTime

	// Simulate token counting
	promptTokens := 0
	for _, m := range req.Messages {
		promptTokens += len(m.Content) / 4
	}
	completionTokens := len(content) / 4

	result.PromptTokens = promptTokens
	result.CompletionTokens = completionTokens
	result.TotalTokens = promptTokens + completionTokens

	if req.ResponseFormat != nil {
		var parsed json.RawMessage
		if err := json.Unmarshal([]byte(content), &parsed); err == nil {
			result.ParsedJSON = parsed
		}
	}

	return result, nil
}

// RequestCount returns the number of requests made.
func (c *MockClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// Reset clears counters, captured requests and any remaining script.
func (c *MockClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestCount.Store(0)
	c.script = nil
	c.requests = nil
}

// Verify interface
var _ LLMClient = (*MockClient)(nil)

// MockImageClient is an ImageClient for testing.
type MockImageClient struct {
	Latency    time.Duration
	ShouldFail bool
	Image      []byte
	URL        string

	requestCount atomic.Int64
}

// NewMockImageClient creates a new mock image client.
func NewMockImageClient() *MockImageClient {
	return &MockImageClient{
		Latency: time.Millisecond,
		Image:   []byte("mock-image-bytes"),
	}
}

// Name returns the provider identifier.
func (c *MockImageClient) Name() string {
	return "mock-images"
}

// Generate renders a mock image.
func (c *MockImageClient) Generate(ctx context.Context, req *ImageRequest) (*ImageResult, error) {
	start := time.Now()
	c.requestCount.Add(1)

	if c.ShouldFail {
		err := fmt.Errorf("mock image client configured to fail")
		return &ImageResult{
			Success:       false,
			ErrorMessage:  err.Error(),
			ExecutionTime: time.Since(start),
		}, err
	}

	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			return &ImageResult{
				Success:       false,
				ErrorMessage:  ctx.Err().Error(),
				ExecutionTime: time.Since(start),
			}, ctx.Err()
		}
	}

	return &ImageResult{
		Success:       true,
		Image:         c.Image,
		URL:           c.URL,
		CostUSD:       0.001,
		ExecutionTime: time.Since(start),
	}, nil
}

// RequestCount returns the number of requests made.
func (c *MockImageClient) RequestCount() int64 {
	return c.requestCount.Load()
}

var _ ImageClient = (*MockImageClient)(nil)
