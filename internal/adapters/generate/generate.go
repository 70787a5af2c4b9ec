// Package generate provides Generator adapters that turn text into questions:
// an LLM generator with structured output and an offline cloze generator.
package generate

import (
	"strings"

	"github.com/jackzampolin/qforge/internal/types"
)

const opGenerate = "generate"

var typeLabels = map[types.QuestionType]string{
	types.QuestionMCQ:         "multiple choice",
	types.QuestionTrueFalse:   "true/false",
	types.QuestionShortAnswer: "short answer",
}

var typeGuides = map[types.QuestionType]string{
	types.QuestionMCQ: `Each question has exactly 4 plausible choices and exactly one correct answer.
The answer is the full text of the correct choice.`,
	types.QuestionTrueFalse: `Each question is a statement that is either true or false according to the material.
The answer is exactly "True" or "False". Mix true and false statements.`,
	types.QuestionShortAnswer: `Each question can be answered in one or two sentences.
The answer is a brief model answer.`,
}

var choicesGuides = map[types.QuestionType]string{
	types.QuestionMCQ:         "exactly 4 strings",
	types.QuestionTrueFalse:   `["True", "False"]`,
	types.QuestionShortAnswer: "an empty array",
}

var difficultyGuides = map[types.Difficulty]string{
	types.DifficultyEasy:   "Use simple language and focus on basic concepts. Test recall and basic understanding.",
	types.DifficultyMedium: "Include some complexity. Test application of concepts.",
	types.DifficultyHard:   "Require analysis, evaluation or synthesis of the information.",
}

// dedupe drops questions whose prompt repeats an earlier one.
func dedupe(qs []types.Question) []types.Question {
	seen := make(map[string]bool, len(qs))
	out := qs[:0:0]
	for _, q := range qs {
		key := strings.ToLower(q.Prompt)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
	}
	return out
}
