// Package textsim measures how far an edited text has drifted from its source.
package textsim

import (
	"time"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/jackzampolin/qforge/internal/types"
)

// diffTimeout bounds a single diff computation on very long inputs.
const diffTimeout = 2 * time.Second

func newDMP() *diffmatchpatch.DiffMatchPatch {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = diffTimeout
	return dmp
}

// Similarity returns 1 - levenshtein(a, b) / max(len(a), len(b)), measured in runes.
// Two empty strings are identical.
func Similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	if a == b {
		return 1
	}

	dmp := newDMP()
	diffs := dmp.DiffMain(a, b, false)
	dist := dmp.DiffLevenshtein(diffs)
	return 1 - float64(dist)/float64(longest)
}

// Changes returns the semantic edit records turning original into edited.
// Positions are rune offsets into original.
func Changes(original, edited string) []types.Change {
	if original == edited {
		return nil
	}

	dmp := newDMP()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(original, edited, false))

	var changes []types.Change
	pos := 0
	for _, d := range diffs {
		n := utf8.RuneCountInString(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			pos += n
		case diffmatchpatch.DiffDelete:
			changes = append(changes, types.Change{Op: types.ChangeDelete, Position: pos, Text: d.Text})
			pos += n
		case diffmatchpatch.DiffInsert:
			changes = append(changes, types.Change{Op: types.ChangeInsert, Position: pos, Text: d.Text})
		}
	}
	return changes
}

// Apply replays changes against original, reproducing the edited text.
func Apply(original string, changes []types.Change) string {
	src := []rune(original)
	out := make([]rune, 0, len(src))
	pos := 0
	for _, c := range changes {
		if c.Position > pos {
			out = append(out, src[pos:min(c.Position, len(src))]...)
			pos = c.Position
		}
		switch c.Op {
		case types.ChangeInsert:
			out = append(out, []rune(c.Text)...)
		case types.ChangeDelete:
			pos += utf8.RuneCountInString(c.Text)
		}
	}
	if pos < len(src) {
		out = append(out, src[pos:]...)
	}
	return string(out)
}
