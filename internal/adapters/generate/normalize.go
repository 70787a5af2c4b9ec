package generate

import (
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/jackzampolin/qforge/internal/types"
)

var strictPolicy = bluemonday.StrictPolicy()

// clean strips HTML from model output and collapses whitespace.
func clean(s string) string {
	s = html.UnescapeString(strictPolicy.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

// answerText renders the model's answer field as a string.
func answerText(v any) string {
	switch a := v.(type) {
	case string:
		return clean(a)
	case bool:
		if a {
			return types.True
		}
		return types.False
	case nil:
		return ""
	default:
		return clean(fmt.Sprint(a))
	}
}

// normalize converts a model question into a Question of the requested
// type and difficulty. It returns an error when the question cannot be
// repaired into a valid one.
func normalize(raw rawQuestion, qtype types.QuestionType, difficulty types.Difficulty) (types.Question, error) {
	q := types.Question{
		Type:       qtype,
		Difficulty: difficulty,
		Prompt:     clean(raw.Question),
		Answer:     answerText(raw.Answer),
		Rationale:  clean(raw.Rationale),
	}

	switch qtype {
	case types.QuestionMCQ:
		choices := raw.Choices
		if len(choices) == 0 {
			choices = raw.Options
		}
		answer, options, err := normalizeChoices(q.Answer, choices)
		if err != nil {
			return q, err
		}
		q.Answer, q.Distractors = answer, options
	case types.QuestionTrueFalse:
		answer, ok := canonicalBool(q.Answer)
		if !ok {
			return q, fmt.Errorf("true_false answer %q is not true or false", q.Answer)
		}
		q.Answer = answer
		q.Distractors = []string{types.True, types.False}
	case types.QuestionShortAnswer:
		q.Distractors = nil
	}

	if err := q.Validate(); err != nil {
		return q, err
	}
	return q, nil
}

// normalizeChoices maps a letter answer onto its option, deduplicates the
// options and pads or trims them to exactly four while keeping the answer.
func normalizeChoices(answer string, choices []string) (string, []string, error) {
	const want = 4

	cleaned := make([]string, 0, len(choices))
	for _, c := range choices {
		cleaned = append(cleaned, clean(c))
	}

	if idx, ok := letterIndex(answer); ok && idx < len(cleaned) && cleaned[idx] != "" {
		answer = cleaned[idx]
	}
	if answer == "" {
		return "", nil, fmt.Errorf("empty answer")
	}

	options := make([]string, 0, want)
	seen := make(map[string]bool)
	add := func(s string) {
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			return
		}
		seen[key] = true
		options = append(options, s)
	}

	answerPresent := false
	for _, c := range cleaned {
		if !answerPresent && strings.EqualFold(c, answer) {
			answer = c
			answerPresent = true
		}
		add(c)
	}
	if !answerPresent {
		add(answer)
	}
	if len(options) < 2 {
		return "", nil, fmt.Errorf("mcq needs at least 2 distinct options, got %d", len(options))
	}

	if len(options) > want {
		trimmed := make([]string, 0, want)
		for _, o := range options {
			if len(trimmed) == want-1 && !containsFold(trimmed, answer) && o != answer {
				continue
			}
			trimmed = append(trimmed, o)
			if len(trimmed) == want {
				break
			}
		}
		options = trimmed
	}
	for next := len(options); len(options) < want; next++ {
		add(fmt.Sprintf("Option %c", 'A'+next))
	}
	return answer, options, nil
}

// letterIndex reads answers like "B", "b)", "(C)" or "D." as option indexes.
func letterIndex(answer string) (int, bool) {
	s := strings.Trim(strings.TrimSpace(answer), "().: ")
	if len(s) != 1 {
		return 0, false
	}
	c := s[0] | 0x20
	if c < 'a' || c > 'd' {
		return 0, false
	}
	return int(c - 'a'), true
}

// canonicalBool maps the many ways a model writes true/false onto True or False.
func canonicalBool(s string) (string, bool) {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(s), ".!")) {
	case "true", "t", "yes", "correct", "1":
		return types.True, true
	case "false", "f", "no", "incorrect", "0":
		return types.False, true
	}
	return "", false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
