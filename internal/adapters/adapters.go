// Package adapters defines the contracts between the pipeline coordinator
// and the external capabilities it drives: text extraction, text
// enhancement and question generation.
//
// Concrete implementations live in the extract, enhance and generate
// subpackages. Each adapter reports what it can handle through Supports so
// the coordinator can pick capable adapters in configured order.
package adapters

import (
	"context"

	"github.com/jackzampolin/qforge/internal/types"
)

// Extractor turns an image or PDF into raw text with confidences.
type Extractor interface {
	Name() string
	Supports(in types.Input) bool
	Extract(ctx context.Context, in types.Input) (*types.ExtractionResult, error)
}

// Enhancer corrects OCR artifacts without changing meaning.
type Enhancer interface {
	Name() string
	Supports(text string) bool
	Enhance(ctx context.Context, text string) (*types.EnhancedText, error)
}

// GenerateRequest is the input to a Generator.
type GenerateRequest struct {
	Text       string
	Type       types.QuestionType
	Difficulty types.Difficulty
	Count      int
}

// Generator produces questions from text.
type Generator interface {
	Name() string
	Supports(req GenerateRequest) bool
	Generate(ctx context.Context, req GenerateRequest) ([]types.Question, error)
}

// Info describes a configured adapter for status reporting.
type Info struct {
	Name  string `json:"name"`
	Stage string `json:"stage"`
}
