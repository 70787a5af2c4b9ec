package enhance

import (
	"context"
	_ "embed"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/jackzampolin/qforge/internal/adapters"
	"github.com/jackzampolin/qforge/internal/prompts"
	"github.com/jackzampolin/qforge/internal/providers"
	"github.com/jackzampolin/qforge/internal/types"
)

//go:embed prompts/system.tmpl
var systemPrompt string

//go:embed prompts/user.tmpl
var userPrompt string

var (
	systemTemplate = prompts.Register("enhance.ocr_repair.system", "OCR repair system prompt", systemPrompt)
	userTemplate   = prompts.Register("enhance.ocr_repair.user", "OCR repair user prompt", userPrompt)
)

// Defaults for the LLM enhancer.
const (
	DefaultMaxChars    = 12000
	DefaultTemperature = 0.1
)

// LLMConfig configures the LLM enhancer.
type LLMConfig struct {
	Client providers.LLMClient
	Model  string
	// MaxChars is the longest input, in runes, the enhancer accepts.
	MaxChars    int
	Temperature float64
	Logger      *slog.Logger
}

// LLM repairs OCR artifacts with a chat model.
type LLM struct {
	client      providers.LLMClient
	model       string
	maxChars    int
	temperature float64
	logger      *slog.Logger
}

// NewLLM creates an LLM enhancer.
func NewLLM(cfg LLMConfig) *LLM {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LLM{
		client:      cfg.Client,
		model:       cfg.Model,
		maxChars:    cfg.MaxChars,
		temperature: cfg.Temperature,
		logger:      cfg.Logger,
	}
}

// Name returns "llm:<client>".
func (e *LLM) Name() string {
	return "llm:" + e.client.Name()
}

// Supports accepts non-empty text up to MaxChars runes.
func (e *LLM) Supports(text string) bool {
	return strings.TrimSpace(text) != "" && utf8.RuneCountInString(text) <= e.maxChars
}

// Enhance sends text through the OCR repair prompt.
func (e *LLM) Enhance(ctx context.Context, text string) (*types.EnhancedText, error) {
	if !e.Supports(text) {
		return nil, adapters.Unavailable(e.Name(), opEnhance, adapters.ErrUnsupported)
	}

	user, err := userTemplate.Execute(struct{ Text string }{Text: text})
	if err != nil {
		return nil, adapters.Invalid(e.Name(), opEnhance, err)
	}

	resp, err := e.client.Chat(ctx, &providers.ChatRequest{
		Model: e.model,
		Messages: []providers.Message{
			{Role: "system", Content: systemTemplate.Text()},
			{Role: "user", Content: user},
		},
		Temperature: e.temperature,
		MaxTokens:   max(1024, utf8.RuneCountInString(text)),
	})
	if err != nil {
		return nil, adapters.ClassifyProvider(e.Name(), opEnhance, err)
	}

	out := stripFences(resp.Content)
	if out == "" {
		return nil, adapters.Remote(e.Name(), opEnhance, errors.New("empty response"))
	}

	e.logger.Debug("llm enhancement",
		"provider", resp.Provider,
		"model", resp.ModelUsed,
		"tokens", resp.TotalTokens,
		"in_chars", len(text),
		"out_chars", len(out))

	return result(e.Name(), text, out), nil
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

var _ adapters.Enhancer = (*LLM)(nil)
