package providers

import (
	"bytes"
	"cmp"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
)

const (
	OpenRouterName    = "openrouter"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// OpenRouterConfig holds configuration for the OpenRouter client.
type OpenRouterConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	MaxRetries   int           // Transport-level attempts per request (default: 2)
	RetryDelay   time.Duration // Base delay between attempts (default: 500ms)
	HTTPClient   *http.Client  // Optional (tests)
}

// OpenRouterClient talks to OpenRouter's OpenAI-compatible chat endpoint.
// Rate limits, 5xx replies and network errors are retried inside Chat.
type OpenRouterClient struct {
	cfg  OpenRouterConfig
	http *http.Client
}

// NewOpenRouterClient creates a new OpenRouter client.
func NewOpenRouterClient(cfg OpenRouterConfig) *OpenRouterClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenRouterBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "openai/gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenRouterClient{cfg: cfg, http: hc}
}

func (c *OpenRouterClient) Name() string { return OpenRouterName }

// Chat sends a chat completion request.
func (c *OpenRouterClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	wire, err := c.wireRequest(req)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("openrouter: encode request: %w", err)
	}

	var (
		reply    openRouterResponse
		attempts int
	)
	err = retry.Do(
		func() error {
			attempts++
			return c.attempt(ctx, payload, &reply)
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.MaxRetries)),
		retry.Delay(c.cfg.RetryDelay),
		retry.MaxDelay(10*time.Second),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(c.cfg.RetryDelay/2),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return retry.IsRecoverable(err) &&
				!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
	)
	if err != nil {
		return nil, err
	}
	if reply.Error != nil {
		return nil, fmt.Errorf("openrouter model error: %s", reply.Error.Message)
	}
	if len(reply.Choices) == 0 {
		return nil, errors.New("openrouter: no choices in response")
	}

	content, err := messageText(reply.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	result := &ChatResult{
		Content:          content,
		PromptTokens:     reply.Usage.PromptTokens,
		CompletionTokens: reply.Usage.CompletionTokens,
		TotalTokens:      reply.Usage.TotalTokens,
		ExecutionTime:    time.Since(start),
		Provider:         OpenRouterName,
		ModelUsed:        reply.Model,
		RequestID:        requestID,
		Attempts:         attempts,
	}
	if req.ResponseFormat != nil {
		if parsed, err := ParseStructuredJSON(content); err == nil {
			result.ParsedJSON = parsed
		}
	}
	return result, nil
}

// wireRequest converts a ChatRequest into the OpenRouter body. Messages with
// images become multi-part content.
func (c *OpenRouterClient) wireRequest(req *ChatRequest) (*openRouterRequest, error) {
	model := cmp.Or(req.Model, c.cfg.DefaultModel)
	rf, err := wireResponseFormat(model, req.ResponseFormat)
	if err != nil {
		return nil, err
	}

	out := &openRouterRequest{
		Model:          model,
		Messages:       make([]openRouterMessage, len(req.Messages)),
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		ResponseFormat: rf,
	}
	for i, m := range req.Messages {
		out.Messages[i] = openRouterMessage{Role: m.Role, Content: m.Content}
		if len(m.Images) == 0 {
			continue
		}
		parts := make([]openRouterContent, 0, len(m.Images)+1)
		parts = append(parts, openRouterContent{Type: "text", Text: m.Content})
		for _, img := range m.Images {
			parts = append(parts, openRouterContent{Type: "image_url", ImageURL: &openRouterImageURL{URL: imageDataURL(img)}})
		}
		out.Messages[i].Content = parts
	}
	return out, nil
}

// attempt performs one POST. Errors wrapped in retry.Unrecoverable end the
// retry loop.
func (c *OpenRouterClient) attempt(ctx context.Context, payload []byte, out *openRouterResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("openrouter: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("HTTP-Referer", "https://github.com/jackzampolin/qforge")
	req.Header.Set("X-Title", "qforge")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("openrouter: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("openrouter: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{
			Message:    "OpenRouter rate limited: " + string(body),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			StatusCode: resp.StatusCode,
		}
	case resp.StatusCode != http.StatusOK:
		se := &StatusError{Provider: "OpenRouter", StatusCode: resp.StatusCode, Body: string(body)}
		if se.Retryable() {
			return se
		}
		return retry.Unrecoverable(se)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return retry.Unrecoverable(fmt.Errorf("openrouter: decode response: %w", err))
	}
	return nil
}

// messageText flattens a reply's content field, which may be a string,
// null, or structured parts.
func messageText(content any) (string, error) {
	switch v := content.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("openrouter: encode content: %w", err)
		}
		return string(b), nil
	}
}

func imageDataURL(img []byte) string {
	mime := http.DetectContentType(img)
	if mime == "application/octet-stream" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img)
}

type openRouterRequest struct {
	Model          string                    `json:"model"`
	Messages       []openRouterMessage       `json:"messages"`
	Temperature    float64                   `json:"temperature,omitempty"`
	MaxTokens      int                       `json:"max_tokens,omitempty"`
	ResponseFormat *openRouterResponseFormat `json:"response_format,omitempty"`
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []openRouterContent
}

type openRouterContent struct {
	Type     string              `json:"type"`
	Text     string              `json:"text,omitempty"`
	ImageURL *openRouterImageURL `json:"image_url,omitempty"`
}

type openRouterImageURL struct {
	URL string `json:"url"`
}

type openRouterResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

type openRouterResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *openRouterError `json:"error,omitempty"`
}

type openRouterError struct {
	Message string `json:"message"`
	Code    any    `json:"code,omitempty"`
}

var _ LLMClient = (*OpenRouterClient)(nil)
