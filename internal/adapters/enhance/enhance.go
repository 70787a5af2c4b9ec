// Package enhance provides Enhancer adapters that repair OCR artifacts
// without changing meaning: a deterministic rule pass and an LLM pass.
package enhance

import (
	"github.com/jackzampolin/qforge/internal/textsim"
	"github.com/jackzampolin/qforge/internal/types"
)

const opEnhance = "enhance"

// result builds the EnhancedText for original → text.
func result(enhancer, original, text string) *types.EnhancedText {
	return &types.EnhancedText{
		Original:         original,
		Text:             text,
		Changes:          textsim.Changes(original, text),
		MeaningPreserved: true,
		Similarity:       textsim.Similarity(original, text),
		Enhancer:         enhancer,
	}
}
