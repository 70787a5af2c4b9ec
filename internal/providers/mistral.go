package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	MistralOCRName    = "mistral-ocr"
	MistralOCRBaseURL = "https://api.mistral.ai/v1"
	MistralOCRModel   = "mistral-ocr-latest"

	// Mistral returns markdown without scores; each paragraph gets this value.
	mistralDefaultConfidence = 0.9

	mistralMaxErrorBody = 64 << 10
)

// MistralOCRConfig holds configuration for the Mistral OCR client.
type MistralOCRConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	RateLimit  float64 // requests per second, default 6
	Confidence float64 // per-paragraph confidence, default 0.9
}

// MistralOCRClient reads page images through Mistral's /ocr endpoint.
type MistralOCRClient struct {
	cfg  MistralOCRConfig
	http *http.Client
}

// NewMistralOCRClient creates a new Mistral OCR client.
func NewMistralOCRClient(cfg MistralOCRConfig) *MistralOCRClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = MistralOCRBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = MistralOCRModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 6
	}
	if cfg.Confidence <= 0 || cfg.Confidence > 1 {
		cfg.Confidence = mistralDefaultConfidence
	}
	return &MistralOCRClient{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

func (c *MistralOCRClient) Name() string               { return MistralOCRName }
func (c *MistralOCRClient) RequestsPerSecond() float64 { return c.cfg.RateLimit }

// ProcessImage sends one page image and returns its markdown. Mistral
// reports no per-word scores, so every paragraph carries the configured
// confidence.
func (c *MistralOCRClient) ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	start := time.Now()

	var out mistralOCRResponse
	err := c.post(ctx, "/ocr", mistralOCRRequest{
		Model:    c.cfg.Model,
		Document: mistralDocument{Type: "image_url", ImageURL: imageDataURL(image)},
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Pages) == 0 {
		return nil, errors.New("mistral ocr: response has no pages")
	}

	page := out.Pages[0]
	meta := map[string]any{
		"model_used": out.Model,
		"page_num":   pageNum,
		"width":      page.Dimensions.Width,
		"height":     page.Dimensions.Height,
		"dpi":        page.Dimensions.DPI,
	}
	if out.UsageInfo != nil {
		meta["pages_processed"] = out.UsageInfo.PagesProcessed
	}

	return &OCRResult{
		Text:          page.Markdown,
		Confidences:   regionConfidences(page.Markdown, c.cfg.Confidence),
		Metadata:      meta,
		ExecutionTime: time.Since(start),
	}, nil
}

// post sends body as JSON and decodes a 200 reply into out. 429 becomes a
// RateLimitError and any other status a StatusError.
func (c *MistralOCRClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("mistral ocr: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("mistral ocr: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mistral ocr: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("mistral ocr: decode response: %w", err)
		}
		return nil
	case http.StatusTooManyRequests:
		return &RateLimitError{
			Message:    "Mistral OCR rate limited",
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			StatusCode: resp.StatusCode,
		}
	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, mistralMaxErrorBody))
		return &StatusError{Provider: "Mistral OCR", StatusCode: resp.StatusCode, Body: mistralErrorMessage(raw)}
	}
}

// mistralErrorMessage prefers the structured error message over the raw body.
func mistralErrorMessage(raw []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return string(raw)
}

type mistralOCRRequest struct {
	Model    string          `json:"model"`
	Document mistralDocument `json:"document"`
}

type mistralDocument struct {
	Type     string `json:"type"`
	ImageURL string `json:"image_url,omitempty"`
}

type mistralOCRResponse struct {
	Model     string            `json:"model"`
	Pages     []mistralOCRPage  `json:"pages"`
	UsageInfo *mistralUsageInfo `json:"usage_info,omitempty"`
}

type mistralOCRPage struct {
	Index      int                   `json:"index"`
	Markdown   string                `json:"markdown"`
	Dimensions mistralPageDimensions `json:"dimensions"`
}

type mistralPageDimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	DPI    int `json:"dpi"`
}

type mistralUsageInfo struct {
	PagesProcessed int `json:"pages_processed"`
}

var _ OCRProvider = (*MistralOCRClient)(nil)
