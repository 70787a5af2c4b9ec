package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// LLMClient is the interface for chat/completion requests.
type LLMClient interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	// Name returns the client identifier (e.g., "openrouter").
	Name() string
}

// OCRProvider handles image-to-text extraction.
// Separate from LLM because results carry per-region confidences and
// rate limits are usually much lower.
type OCRProvider interface {
	// Name returns the provider identifier (e.g., "mistral-ocr", "tesseract").
	Name() string

	// ProcessImage extracts text from an image.
	ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error)

	// RequestsPerSecond is the configured throttle, 0 for unlimited.
	RequestsPerSecond() float64
}

// ErrNotAvailable is returned by providers that cannot run in this build
// or environment (e.g. tesseract without cgo bindings).
var ErrNotAvailable = errors.New("provider not available")

// Message represents a chat message.
type Message struct {
	Role    string   `json:"role"` // "system", "user", "assistant"
	Content string   `json:"content"`
	Images  [][]byte `json:"-"` // For vision models (base64 encoded in request)
}

// ResponseFormat specifies structured output format.
type ResponseFormat struct {
	Type       string          `json:"type"` // "json_schema" or "json_object"
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

// ChatRequest is a request to an LLM.
type ChatRequest struct {
	Messages []Message `json:"messages"`

	// Model selection (uses client default if empty)
	Model string `json:"model,omitempty"`

	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	RequestID string `json:"-"`
}

// ChatResult is the complete response from an LLM call.
type ChatResult struct {
	Content    string          `json:"content"`
	ParsedJSON json.RawMessage `json:"parsed_json,omitempty"` // Set when ResponseFormat was requested and parsed

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	ExecutionTime time.Duration `json:"execution_time"`

	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`
	RequestID string `json:"request_id"`
	Attempts  int    `json:"attempts"`
}

// OCRResult is the response from an OCR provider.
type OCRResult struct {
	Text string `json:"text"`

	// Confidences holds one score in [0,1] per recognized region
	// (word box, paragraph or page depending on the provider).
	Confidences []float64 `json:"confidences"`

	// Metadata from provider (dimensions, detected images, etc.)
	Metadata map[string]any `json:"metadata,omitempty"`

	ExecutionTime time.Duration `json:"execution_time"`
}

// regionConfidences assigns conf to every non-blank paragraph in text.
// Used by providers that do not report per-region scores.
func regionConfidences(text string, conf float64) []float64 {
	var out []float64
	for _, para := range splitParagraphs(text) {
		if para != "" {
			out = append(out, conf)
		}
	}
	return out
}

func splitParagraphs(text string) []string {
	parts := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}
