package types

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// QuestionType is the kind of question to generate.
type QuestionType string

const (
	QuestionMCQ         QuestionType = "mcq"
	QuestionTrueFalse   QuestionType = "true_false"
	QuestionShortAnswer QuestionType = "short_answer"
)

// QuestionTypes lists all supported question types.
var QuestionTypes = []QuestionType{QuestionMCQ, QuestionTrueFalse, QuestionShortAnswer}

// ParseQuestionType converts a string to a QuestionType.
func ParseQuestionType(s string) (QuestionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mcq", "multiple_choice", "multiple-choice":
		return QuestionMCQ, nil
	case "true_false", "true-false", "truefalse", "tf":
		return QuestionTrueFalse, nil
	case "short_answer", "short-answer", "short":
		return QuestionShortAnswer, nil
	default:
		return "", fmt.Errorf("unknown question type %q", s)
	}
}

// Distractors returns the expected option count for the type.
func (t QuestionType) Distractors() int {
	switch t {
	case QuestionMCQ:
		return 4
	case QuestionTrueFalse:
		return 2
	default:
		return 0
	}
}

// Difficulty is the requested question difficulty.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty converts a string to a Difficulty.
func ParseDifficulty(s string) (Difficulty, error) {
	switch Difficulty(strings.ToLower(strings.TrimSpace(s))) {
	case DifficultyEasy:
		return DifficultyEasy, nil
	case DifficultyMedium:
		return DifficultyMedium, nil
	case DifficultyHard:
		return DifficultyHard, nil
	default:
		return "", fmt.Errorf("unknown difficulty %q", s)
	}
}

// True and False are the canonical true_false options.
const (
	True  = "True"
	False = "False"
)

// Question is a single generated question.
// For choice questions Distractors holds every option, including the answer.
type Question struct {
	Type        QuestionType `json:"type"`
	Difficulty  Difficulty   `json:"difficulty"`
	Prompt      string       `json:"prompt"`
	Answer      string       `json:"answer"`
	Distractors []string     `json:"distractors,omitempty"`
	Rationale   string       `json:"rationale,omitempty"`
}

// Validate checks option cardinality and answer membership.
func (q *Question) Validate() error {
	if strings.TrimSpace(q.Prompt) == "" {
		return errors.New("empty prompt")
	}
	if strings.TrimSpace(q.Answer) == "" {
		return errors.New("empty answer")
	}
	if want := q.Type.Distractors(); len(q.Distractors) != want {
		return fmt.Errorf("%s question has %d distractors, want %d", q.Type, len(q.Distractors), want)
	}
	switch q.Type {
	case QuestionMCQ, QuestionTrueFalse:
		if !slices.Contains(q.Distractors, q.Answer) {
			return fmt.Errorf("answer %q is not one of the distractors", q.Answer)
		}
	case QuestionShortAnswer:
	default:
		return fmt.Errorf("unknown question type %q", q.Type)
	}
	return nil
}

// QuestionSet is the stored output of a run.
type QuestionSet struct {
	RunID     string     `json:"run_id"`
	Questions []Question `json:"questions"`
	Requested int        `json:"requested"`
	TeacherID string     `json:"teacher_id,omitempty"`
	ClassID   string     `json:"class_id,omitempty"`
	Subject   string     `json:"subject,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Complete reports whether the set holds exactly the requested count.
func (s *QuestionSet) Complete() bool {
	return len(s.Questions) == s.Requested
}

// StoredQuestion is a question as returned by queries, with its attribution.
type StoredQuestion struct {
	Question
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Position  int       `json:"position"`
	TeacherID string    `json:"teacher_id,omitempty"`
	ClassID   string    `json:"class_id,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
