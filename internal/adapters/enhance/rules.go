package enhance

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/jackzampolin/qforge/internal/adapters"
	"github.com/jackzampolin/qforge/internal/types"
)

// RulesName is the name of the rule-based enhancer.
const RulesName = "rules"

var (
	spaceBeforePunct = regexp.MustCompile(`[ \t]+([.,;:!?])`)
	blankLines       = regexp.MustCompile(`\n{3,}`)
)

// ocrSubstitutions maps characters commonly misread for letters.
var ocrSubstitutions = map[rune]rune{
	'0': 'o',
	'1': 'l',
	'|': 'l',
}

// Rules is a local, deterministic correction pass. It is always available.
type Rules struct{}

// NewRules creates the rule-based enhancer.
func NewRules() *Rules { return &Rules{} }

// Name returns "rules".
func (*Rules) Name() string { return RulesName }

// Supports accepts any text.
func (*Rules) Supports(string) bool { return true }

// Enhance applies the correction rules.
func (r *Rules) Enhance(ctx context.Context, text string) (*types.EnhancedText, error) {
	if err := ctx.Err(); err != nil {
		return nil, adapters.Classify(RulesName, opEnhance, err)
	}
	return result(RulesName, text, Correct(text)), nil
}

// Correct runs every rule over text.
func Correct(text string) string {
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		line = fixSubstitutions(line)
		line = strings.Join(dedupeWords(strings.Fields(line)), " ")
		lines[i] = spaceBeforePunct.ReplaceAllString(line, "$1")
	}
	text = strings.Join(lines, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// fixSubstitutions replaces a misread character inside a word. The
// character must sit between two letters, at least one of them lower case,
// and be the only non-letter in its token, so codes like H1N1 or C0A are
// left alone.
func fixSubstitutions(line string) string {
	runes := []rune(line)
	changed := false
	for start := 0; start < len(runes); {
		if !inToken(runes[start]) {
			start++
			continue
		}
		end := start
		for end < len(runes) && inToken(runes[end]) {
			end++
		}
		if i, ok := loneSubstitution(runes[start:end]); ok {
			runes[start+i] = ocrSubstitutions[runes[start+i]]
			changed = true
		}
		start = end
	}
	if !changed {
		return line
	}
	return string(runes)
}

func inToken(r rune) bool {
	_, sub := ocrSubstitutions[r]
	return sub || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// loneSubstitution returns the index of the single substitutable rune in
// tok when every other rune is a letter and the rune is flanked by letters.
func loneSubstitution(tok []rune) (int, bool) {
	idx := -1
	for i, r := range tok {
		if unicode.IsLetter(r) {
			continue
		}
		if _, ok := ocrSubstitutions[r]; !ok || idx >= 0 {
			return 0, false
		}
		idx = i
	}
	if idx <= 0 || idx == len(tok)-1 {
		return 0, false
	}
	prev, next := tok[idx-1], tok[idx+1]
	return idx, unicode.IsLower(prev) || unicode.IsLower(next)
}

// dedupeWords drops a word that repeats the previous one, ignoring case.
// Only alphabetic words are collapsed so "1 1" or "- -" survive.
func dedupeWords(words []string) []string {
	out := make([]string, 0, len(words))
	for i, w := range words {
		if i > 0 && isAlpha(w) && strings.EqualFold(w, words[i-1]) {
			continue
		}
		out = append(out, w)
	}
	return out
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}

var _ adapters.Enhancer = (*Rules)(nil)
