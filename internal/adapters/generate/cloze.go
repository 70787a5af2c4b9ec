package generate

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jackzampolin/qforge/internal/adapters"
	"github.com/jackzampolin/qforge/internal/types"
)

// ClozeName is the name of the offline generator.
const ClozeName = "cloze"

const (
	blank          = "_____"
	minKeywordLen  = 4
	minSentenceLen = 4 // words
)

var stopwords = map[string]bool{
	"about": true, "above": true, "after": true, "again": true, "also": true,
	"because": true, "been": true, "before": true, "being": true, "between": true,
	"both": true, "could": true, "does": true, "during": true, "each": true,
	"from": true, "have": true, "having": true, "into": true, "more": true,
	"most": true, "other": true, "over": true, "same": true, "should": true,
	"some": true, "such": true, "than": true, "that": true, "their": true,
	"them": true, "then": true, "there": true, "these": true, "they": true,
	"this": true, "those": true, "through": true, "under": true, "until": true,
	"very": true, "were": true, "what": true, "when": true, "where": true,
	"which": true, "while": true, "with": true, "would": true, "your": true,
}

// Cloze builds fill-in-the-blank style questions without a model. Output
// depends only on the input text and request.
type Cloze struct{}

// NewCloze creates the cloze generator.
func NewCloze() *Cloze { return &Cloze{} }

// Name returns "cloze".
func (*Cloze) Name() string { return ClozeName }

// Supports reports whether the text has at least one usable sentence, and
// for multiple choice enough distinct keywords to draw distractors from.
// Text with fewer sentences than requested is still supported; Generate
// then returns a short set.
func (c *Cloze) Supports(req adapters.GenerateRequest) bool {
	if req.Count <= 0 {
		return false
	}
	items := clozeItems(req.Text)
	if len(items) == 0 {
		return false
	}
	switch req.Type {
	case types.QuestionMCQ:
		return len(distinctKeywords(items)) >= 4
	case types.QuestionTrueFalse:
		return len(distinctKeywords(items)) >= 2
	case types.QuestionShortAnswer:
		return true
	}
	return false
}

// Generate returns one question per usable sentence, up to req.Count.
func (c *Cloze) Generate(ctx context.Context, req adapters.GenerateRequest) ([]types.Question, error) {
	if err := ctx.Err(); err != nil {
		return nil, adapters.Classify(ClozeName, opGenerate, err)
	}
	if !c.Supports(req) {
		return nil, adapters.Unavailable(ClozeName, opGenerate, adapters.ErrUnsupported)
	}

	items := clozeItems(req.Text)
	keywords := distinctKeywords(items)
	items = items[:min(req.Count, len(items))]
	questions := make([]types.Question, 0, len(items))

	for i, it := range items {
		q := types.Question{
			Type:       req.Type,
			Difficulty: req.Difficulty,
			Rationale:  fmt.Sprintf("From the text: %q", it.sentence),
		}
		switch req.Type {
		case types.QuestionShortAnswer:
			q.Prompt = "Fill in the blank: " + it.blanked()
			q.Answer = it.keyword
		case types.QuestionMCQ:
			q.Prompt = "Which word best completes the sentence? " + it.blanked()
			q.Answer = it.keyword
			q.Distractors = mcqOptions(it.keyword, keywords, i)
		case types.QuestionTrueFalse:
			q.Distractors = []string{types.True, types.False}
			if i%2 == 0 {
				q.Prompt = "True or false: " + it.sentence
				q.Answer = types.True
			} else {
				swap := nextKeyword(it.keyword, keywords, i)
				q.Prompt = "True or false: " + it.replaced(swap)
				q.Answer = types.False
				q.Rationale = fmt.Sprintf("The text says %q, not %q.", it.keyword, swap)
			}
		}
		questions = append(questions, q)
	}
	return questions, nil
}

type clozeItem struct {
	sentence string
	keyword  string
	offset   int // byte offset of keyword in sentence
}

func (it clozeItem) blanked() string {
	return it.replaced(blank)
}

func (it clozeItem) replaced(with string) string {
	return it.sentence[:it.offset] + with + it.sentence[it.offset+len(it.keyword):]
}

// clozeItems splits text into sentences and picks a keyword for each.
// Sentences without a usable keyword are skipped.
func clozeItems(text string) []clozeItem {
	var items []clozeItem
	for _, s := range splitSentences(text) {
		if len(strings.Fields(s)) < minSentenceLen {
			continue
		}
		kw, off := longestKeyword(s)
		if kw == "" {
			continue
		}
		items = append(items, clozeItem{sentence: s, keyword: kw, offset: off})
	}
	return items
}

// splitSentences breaks text at ., ! or ? followed by whitespace, and at blank lines.
func splitSentences(text string) []string {
	var out []string
	var sb strings.Builder
	flush := func() {
		if s := strings.Join(strings.Fields(sb.String()), " "); s != "" {
			out = append(out, s)
		}
		sb.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		sb.WriteRune(r)
		atEnd := i+1 == len(runes)
		switch {
		case (r == '.' || r == '!' || r == '?') && (atEnd || unicode.IsSpace(runes[i+1])):
			flush()
		case r == '\n' && !atEnd && runes[i+1] == '\n':
			flush()
		}
	}
	flush()
	return out
}

// longestKeyword returns the first longest non-stopword word in s and its byte offset.
func longestKeyword(s string) (string, int) {
	best, bestOff, bestLen := "", -1, 0
	start := -1
	check := func(end int) {
		if start < 0 {
			return
		}
		w := s[start:end]
		n := utf8.RuneCountInString(w)
		if n >= minKeywordLen && n > bestLen && !stopwords[strings.ToLower(w)] {
			best, bestOff, bestLen = w, start, n
		}
		start = -1
	}
	for i, r := range s {
		if unicode.IsLetter(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		check(i)
	}
	check(len(s))
	return best, bestOff
}

func distinctKeywords(items []clozeItem) []string {
	seen := make(map[string]bool)
	var out []string
	for _, it := range items {
		k := strings.ToLower(it.keyword)
		if !seen[k] {
			seen[k] = true
			out = append(out, it.keyword)
		}
	}
	return out
}

// mcqOptions picks three other keywords in document order and places the
// answer at a position that rotates with the question index.
func mcqOptions(answer string, keywords []string, idx int) []string {
	others := make([]string, 0, 3)
	for _, k := range keywords {
		if len(others) == 3 {
			break
		}
		if !strings.EqualFold(k, answer) {
			others = append(others, k)
		}
	}
	pos := idx % 4
	options := make([]string, 0, 4)
	options = append(options, others[:pos]...)
	options = append(options, answer)
	options = append(options, others[pos:]...)
	return options
}

// nextKeyword returns the first keyword after position idx that differs from kw.
func nextKeyword(kw string, keywords []string, idx int) string {
	for i := 1; i <= len(keywords); i++ {
		k := keywords[(idx+i)%len(keywords)]
		if !strings.EqualFold(k, kw) {
			return k
		}
	}
	return kw
}

var _ adapters.Generator = (*Cloze)(nil)
