package generate

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

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
	systemTemplate = prompts.Register("generate.questions.system", "Question generation system prompt", systemPrompt)
	userTemplate   = prompts.Register("generate.questions.user", "Question generation user prompt", userPrompt)
)

// Defaults for the LLM generator.
const (
	DefaultTemperature    = 0.3
	DefaultRepairAttempts = 2
	DefaultMaxInputChars  = 16000
)

// LLMConfig configures the LLM generator.
type LLMConfig struct {
	Client      providers.LLMClient
	Model       string
	Temperature float64
	// RepairAttempts is how many follow-up prompts are sent when the output
	// fails to parse or validate. Negative disables repair.
	RepairAttempts int
	// MaxInputChars truncates the study material placed in the prompt.
	MaxInputChars int
	Logger        *slog.Logger
}

// LLM generates questions with a chat model and structured output.
type LLM struct {
	client         providers.LLMClient
	model          string
	temperature    float64
	repairAttempts int
	maxInputChars  int
	logger         *slog.Logger
}

// NewLLM creates an LLM generator.
func NewLLM(cfg LLMConfig) *LLM {
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.RepairAttempts == 0 {
		cfg.RepairAttempts = DefaultRepairAttempts
	}
	if cfg.RepairAttempts < 0 {
		cfg.RepairAttempts = 0
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = DefaultMaxInputChars
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LLM{
		client:         cfg.Client,
		model:          cfg.Model,
		temperature:    cfg.Temperature,
		repairAttempts: cfg.RepairAttempts,
		maxInputChars:  cfg.MaxInputChars,
		logger:         cfg.Logger,
	}
}

// Name returns "llm:<client>".
func (g *LLM) Name() string {
	return "llm:" + g.client.Name()
}

// Supports accepts any non-empty text and a known question type.
func (g *LLM) Supports(req adapters.GenerateRequest) bool {
	_, known := typeGuides[req.Type]
	return known && req.Count > 0 && strings.TrimSpace(req.Text) != ""
}

// Generate asks the model for req.Count questions. It may return more or
// fewer; the caller enforces cardinality.
func (g *LLM) Generate(ctx context.Context, req adapters.GenerateRequest) ([]types.Question, error) {
	if !g.Supports(req) {
		return nil, adapters.Unavailable(g.Name(), opGenerate, adapters.ErrUnsupported)
	}

	user, err := userTemplate.Execute(promptData{
		Count:           req.Count,
		TypeLabel:       typeLabels[req.Type],
		TypeGuide:       typeGuides[req.Type],
		ChoicesGuide:    choicesGuides[req.Type],
		Difficulty:      string(req.Difficulty),
		DifficultyGuide: difficultyGuides[req.Difficulty],
		Text:            truncateRunes(req.Text, g.maxInputChars),
	})
	if err != nil {
		return nil, adapters.Invalid(g.Name(), opGenerate, err)
	}

	schema, _ := json.Marshal(QuestionsSchema["json_schema"])
	chat := &providers.ChatRequest{
		Model: g.model,
		Messages: []providers.Message{
			{Role: "system", Content: systemTemplate.Text()},
			{Role: "user", Content: user},
		},
		Temperature:    g.temperature,
		MaxTokens:      max(2048, 300*req.Count),
		ResponseFormat: &providers.ResponseFormat{Type: "json_schema", JSONSchema: schema},
	}

	var lastErr error
	for attempt := 0; attempt <= g.repairAttempts; attempt++ {
		resp, err := g.client.Chat(ctx, chat)
		if err != nil {
			return nil, adapters.ClassifyProvider(g.Name(), opGenerate, err)
		}

		questions, err := g.parse(resp, schema, req)
		if err == nil {
			g.logger.Debug("questions generated",
				"provider", resp.Provider,
				"model", resp.ModelUsed,
				"requested", req.Count,
				"returned", len(questions),
				"repairs", attempt)
			return questions, nil
		}

		lastErr = err
		g.logger.Warn("invalid generation output",
			"provider", resp.Provider,
			"attempt", attempt+1,
			"error", err)
		chat.Messages = append(chat.Messages,
			providers.Message{Role: "assistant", Content: resp.Content},
			providers.Message{Role: "user", Content: providers.RepairPrompt(schema, resp.Content, err)},
		)
	}

	return nil, adapters.Remote(g.Name(), opGenerate,
		fmt.Errorf("output still invalid after %d repair attempts: %w", g.repairAttempts, lastErr))
}

type promptData struct {
	Count           int
	TypeLabel       string
	TypeGuide       string
	ChoicesGuide    string
	Difficulty      string
	DifficultyGuide string
	Text            string
}

// parse decodes, validates and normalizes a model response. A bare JSON
// array of questions is accepted as well as the {"questions": [...]} object.
func (g *LLM) parse(resp *providers.ChatResult, schema json.RawMessage, req adapters.GenerateRequest) ([]types.Question, error) {
	data := resp.ParsedJSON
	if len(data) == 0 {
		var err error
		if data, err = providers.ParseStructuredJSON(resp.Content); err != nil {
			return nil, err
		}
	}
	if trimmed := strings.TrimSpace(string(data)); strings.HasPrefix(trimmed, "[") {
		data = json.RawMessage(`{"questions":` + trimmed + `}`)
	}

	if err := providers.ValidateStructuredJSON(schema, data); err != nil {
		return nil, err
	}

	var raw rawResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	if len(raw.Questions) == 0 {
		return nil, errors.New("no questions in output")
	}

	questions := make([]types.Question, 0, len(raw.Questions))
	for i, rq := range raw.Questions {
		q, err := normalize(rq, req.Type, req.Difficulty)
		if err != nil {
			g.logger.Warn("dropping invalid question", "index", i, "error", err)
			continue
		}
		questions = append(questions, q)
	}
	questions = dedupe(questions)
	if len(questions) == 0 {
		return nil, fmt.Errorf("none of the %d questions were valid", len(raw.Questions))
	}
	return questions, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var _ adapters.Generator = (*LLM)(nil)
