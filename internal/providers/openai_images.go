package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIImagesName         = "openai"
	openAIImagesDefaultModel = "dall-e-3"
	openAIImagesDefaultSize  = "1024x1792" // Portrait, book cover proportions
)

// OpenAIImagesConfig holds configuration for the OpenAI image client.
type OpenAIImagesConfig struct {
	APIKey     string
	Model      string        // "dall-e-3" (default), "gpt-image-1"
	Size       string        // "1024x1792" (default)
	Quality    string        // "standard" (default), "hd"
	MaxRetries int           // Retry attempts for SDK transport
	Timeout    time.Duration // HTTP timeout
	BaseURL    string        // Optional (tests)
	HTTPClient *http.Client  // Optional (tests)
}

// OpenAIImagesClient implements ImageClient using the official OpenAI SDK.
type OpenAIImagesClient struct {
	apiKey  string
	model   string
	size    string
	quality string
	client  openai.Client
}

// NewOpenAIImagesClient creates a new OpenAI image client.
func NewOpenAIImagesClient(cfg OpenAIImagesConfig) *OpenAIImagesClient {
	if cfg.Model == "" {
		cfg.Model = openAIImagesDefaultModel
	}
	if cfg.Size == "" {
		cfg.Size = openAIImagesDefaultSize
	}
	if cfg.Quality == "" {
		cfg.Quality = "standard"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIImagesClient{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		size:    cfg.Size,
		quality: cfg.Quality,
		client:  openai.NewClient(opts...),
	}
}

// Name returns the provider identifier.
func (c *OpenAIImagesClient) Name() string {
	return OpenAIImagesName
}

// Model returns the configured default model.
func (c *OpenAIImagesClient) Model() string {
	return c.model
}

// Generate renders an image from a text prompt.
func (c *OpenAIImagesClient) Generate(ctx context.Context, req *ImageRequest) (*ImageResult, error) {
	start := time.Now()

	if req == nil || strings.TrimSpace(req.Prompt) == "" {
		err := fmt.Errorf("prompt is required")
		return &ImageResult{
			Success:       false,
			ErrorMessage:  err.Error(),
			ExecutionTime: time.Since(start),
		}, err
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	size := req.Size
	if size == "" {
		size = c.size
	}
	quality := req.Quality
	if quality == "" {
		quality = c.quality
	}

	params := openai.ImageGenerateParams{
		Prompt:  req.Prompt,
		Model:   openai.ImageModel(model),
		Size:    openai.ImageGenerateParamsSize(size),
		Quality: openai.ImageGenerateParamsQuality(quality),
		N:       openai.Int(1),
	}
	// gpt-image-1 always returns base64 and rejects response_format.
	if strings.HasPrefix(strings.ToLower(model), "dall-e") {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormatB64JSON
	}

	resp, err := c.client.Images.Generate(ctx, params)
	if err != nil {
		err = mapOpenAIError(err)
		return &ImageResult{
			Success:       false,
			ErrorMessage:  err.Error(),
			ExecutionTime: time.Since(start),
		}, err
	}
	if len(resp.Data) == 0 {
		err := fmt.Errorf("no image data in response")
		return &ImageResult{
			Success:       false,
			ErrorMessage:  err.Error(),
			ExecutionTime: time.Since(start),
		}, err
	}

	result := &ImageResult{
		Success:       true,
		URL:           resp.Data[0].URL,
		RevisedPrompt: resp.Data[0].RevisedPrompt,
		CostUSD:       estimateImageCostUSD(model, size, quality),
		ExecutionTime: time.Since(start),
	}

	if b64 := resp.Data[0].B64JSON; b64 != "" {
		img, decErr := base64.StdEncoding.DecodeString(b64)
		if decErr != nil {
			err := fmt.Errorf("failed to decode image payload: %w", decErr)
			result.Success = false
			result.ErrorMessage = err.Error()
			return result, err
		}
		result.Image = img
	}

	return result, nil
}

// estimateImageCostUSD approximates per-image pricing. Image responses do not
// include usage, so these are published list prices.
func estimateImageCostUSD(model, size, quality string) float64 {
	model = strings.ToLower(strings.TrimSpace(model))
	quality = strings.ToLower(strings.TrimSpace(quality))

	if strings.HasPrefix(model, "gpt-image") {
		switch quality {
		case "low":
			return 0.011
		case "high":
			return 0.167
		default:
			return 0.042
		}
	}

	// dall-e-3
	tall := size == "1024x1792" || size == "1792x1024"
	switch {
	case quality == "hd" && tall:
		return 0.12
	case quality == "hd":
		return 0.08
	case tall:
		return 0.08
	default:
		return 0.04
	}
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			retryAfter := time.Duration(0)
			if apiErr.Response != nil {
				retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			}
			return &RateLimitError{
				Message:    fmt.Sprintf("OpenAI rate limited: %s", apiErr.Message),
				RetryAfter: retryAfter,
				StatusCode: apiErr.StatusCode,
			}
		}
		if apiErr.Message != "" {
			return fmt.Errorf("OpenAI image error (status %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("OpenAI image error (status %d)", apiErr.StatusCode)
	}
	return err
}

var _ ImageClient = (*OpenAIImagesClient)(nil)
