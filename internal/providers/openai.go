package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	OpenAIName         = "openai"
	OpenAIVisionName   = "openai-vision"
	openAIDefaultModel = "gpt-4o-mini"

	// Vision models do not report per-region scores.
	openAIVisionConfidence = 0.85
)

// OpenAIConfig holds configuration for any OpenAI-compatible chat endpoint
// (OpenAI, Groq, local servers).
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string // Optional, e.g. https://api.groq.com/openai/v1
	DefaultModel string
	Timeout      time.Duration
	MaxRetries   int
	HTTPClient   *http.Client // Optional (tests)
}

// OpenAIClient implements LLMClient using the official OpenAI SDK.
type OpenAIClient struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       openai.Client
}

// NewOpenAIClient creates a new OpenAI-compatible client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openAIDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
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

	return &OpenAIClient{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		defaultModel: cfg.DefaultModel,
		client:       openai.NewClient(opts...),
	}
}

// Name returns the client identifier.
func (c *OpenAIClient) Name() string {
	return OpenAIName
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toOpenAIMessages(req.Messages),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.ResponseFormat != nil {
		// Schema conformance is checked locally; json_object is the widest
		// supported mode across compatible endpoints.
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	content := resp.Choices[0].Message.Content
	result := &ChatResult{
		Content:          content,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
		ExecutionTime:    time.Since(start),
		Provider:         OpenAIName,
		ModelUsed:        resp.Model,
		RequestID:        requestID,
		Attempts:         1,
	}
	if req.ResponseFormat != nil {
		if parsed, err := ParseStructuredJSON(content); err == nil {
			result.ParsedJSON = parsed
		}
	}
	return result, nil
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			if len(m.Images) == 0 {
				out = append(out, openai.UserMessage(m.Content))
				continue
			}
			parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(m.Content)}
			for _, img := range m.Images {
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: imageDataURL(img),
				}))
			}
			out = append(out, openai.UserMessage(parts))
		}
	}
	return out
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
		return &StatusError{Provider: "OpenAI", StatusCode: apiErr.StatusCode, Body: apiErr.Message}
	}
	return err
}

// OpenAIVisionOCR implements OCRProvider by prompting a vision-capable
// chat model to transcribe an image.
type OpenAIVisionOCR struct {
	chat      *OpenAIClient
	model     string
	rateLimit float64
}

// OpenAIVisionConfig configures OpenAIVisionOCR.
type OpenAIVisionConfig struct {
	OpenAIConfig
	RateLimit float64
}

// NewOpenAIVisionOCR creates a vision OCR provider.
func NewOpenAIVisionOCR(cfg OpenAIVisionConfig) *OpenAIVisionOCR {
	chat := NewOpenAIClient(cfg.OpenAIConfig)
	return &OpenAIVisionOCR{chat: chat, model: chat.defaultModel, rateLimit: cfg.RateLimit}
}

// Name returns the provider identifier.
func (p *OpenAIVisionOCR) Name() string {
	return OpenAIVisionName
}

// RequestsPerSecond returns the configured rate limit.
func (p *OpenAIVisionOCR) RequestsPerSecond() float64 {
	return p.rateLimit
}

const visionOCRPrompt = `Transcribe all text in this image exactly as written.
Preserve paragraph breaks with blank lines. Do not add commentary, headings or formatting.
If the image contains no text, return an empty response.`

// ProcessImage transcribes image with the vision model.
func (p *OpenAIVisionOCR) ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	start := time.Now()
	res, err := p.chat.Chat(ctx, &ChatRequest{
		Model:    p.model,
		Messages: []Message{{Role: "user", Content: visionOCRPrompt, Images: [][]byte{image}}},
	})
	if err != nil {
		return nil, err
	}
	return &OCRResult{
		Text:          res.Content,
		Confidences:   regionConfidences(res.Content, openAIVisionConfidence),
		Metadata:      map[string]any{"model_used": res.ModelUsed, "page_num": pageNum},
		ExecutionTime: time.Since(start),
	}, nil
}

var (
	_ LLMClient   = (*OpenAIClient)(nil)
	_ OCRProvider = (*OpenAIVisionOCR)(nil)
)
