// Package prompts holds the embedded prompt templates used by LLM-backed adapters.
//
// Each adapter package embeds its .tmpl files and registers them here so the
// status endpoint can report which prompt version produced a run.
package prompts

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"text/template"
)

// variablePattern matches Go template variable references like {{.VarName}} or {{ .VarName }}
var variablePattern = regexp.MustCompile(`\{\{\s*\.([a-zA-Z_][a-zA-Z0-9_.]*)\s*\}\}`)

// ExtractVariables extracts template variable names from a Go template string.
// For example, "Hello {{.Name}}, you have {{.Count}} items" returns ["Count", "Name"].
func ExtractVariables(text string) []string {
	matches := variablePattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool)
	var vars []string

	for _, match := range matches {
		if len(match) > 1 {
			varName := match[1]
			if !seen[varName] {
				seen[varName] = true
				vars = append(vars, varName)
			}
		}
	}

	sort.Strings(vars)
	return vars
}

// HashText returns a SHA256 hash of the text for change detection.
func HashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// Template is a parsed, registered prompt.
type Template struct {
	Key         string   `json:"key"`
	Description string   `json:"description,omitempty"`
	Variables   []string `json:"variables,omitempty"`
	Hash        string   `json:"hash"`

	text string
	tmpl *template.Template
}

var (
	mu       sync.RWMutex
	registry = map[string]*Template{}
)

// Register parses text and records it under key. It panics on a parse error
// or duplicate key, so it belongs in package-level var initialization.
func Register(key, description, text string) *Template {
	t := &Template{
		Key:         key,
		Description: description,
		Variables:   ExtractVariables(text),
		Hash:        HashText(text),
		text:        text,
		tmpl:        template.Must(template.New(key).Option("missingkey=error").Parse(text)),
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[key]; exists {
		panic(fmt.Sprintf("prompts: duplicate key %q", key))
	}
	registry[key] = t
	return t
}

// Execute renders the template with data.
func (t *Template) Execute(data any) (string, error) {
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", t.Key, err)
	}
	return buf.String(), nil
}

// Text returns the raw template source.
func (t *Template) Text() string {
	return t.text
}

// Get returns the registered template for key.
func Get(key string) (*Template, bool) {
	mu.RLock()
	defer mu.RUnlock()
	t, ok := registry[key]
	return t, ok
}

// All returns every registered template sorted by key.
func All() []*Template {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]*Template, 0, len(registry))
	for _, t := range registry {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
