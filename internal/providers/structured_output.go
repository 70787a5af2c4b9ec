package providers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// maxRepairEcho caps how much of a bad reply is quoted back in a repair prompt.
const maxRepairEcho = 12000

// wireResponseFormat converts a ResponseFormat into the OpenRouter request
// field. Anthropic models get no response_format at all: OpenRouter can route
// them to backends that reject it, so those replies are checked locally.
func wireResponseFormat(model string, rf *ResponseFormat) (*openRouterResponseFormat, error) {
	if rf == nil || isAnthropicModel(model) {
		return nil, nil
	}
	schema, err := schemaForModel(model, rf.JSONSchema)
	if err != nil {
		return nil, err
	}
	return &openRouterResponseFormat{Type: rf.Type, JSONSchema: schema}, nil
}

// schemaForModel returns a copy of schema the given model will accept.
// Anthropic models reject bounds on integer properties.
func schemaForModel(model string, schema json.RawMessage) (json.RawMessage, error) {
	if len(schema) == 0 || !isAnthropicModel(model) {
		return schema, nil
	}

	var doc any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, fmt.Errorf("parse output schema: %w", err)
	}
	walkSchema(doc, func(node map[string]any) {
		if !hasType(node["type"], "integer") {
			return
		}
		for _, k := range []string{"minimum", "maximum", "exclusiveMinimum", "exclusiveMaximum"} {
			delete(node, k)
		}
	})
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode output schema: %w", err)
	}
	return out, nil
}

func isAnthropicModel(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "anthropic/")
}

// walkSchema calls fn on every object node of a decoded JSON document.
func walkSchema(node any, fn func(map[string]any)) {
	switch n := node.(type) {
	case map[string]any:
		fn(n)
		for _, child := range n {
			walkSchema(child, fn)
		}
	case []any:
		for _, child := range n {
			walkSchema(child, fn)
		}
	}
}

// hasType reports whether a schema "type" value (string or list) names want.
func hasType(typ any, want string) bool {
	switch t := typ.(type) {
	case string:
		return t == want
	case []any:
		for _, v := range t {
			if s, _ := v.(string); s == want {
				return true
			}
		}
	}
	return false
}

// ParseStructuredJSON pulls a JSON document out of a model reply. The reply
// may be bare JSON, JSON inside a markdown fence, or JSON surrounded by prose.
// The result is re-encoded compactly.
func ParseStructuredJSON(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("empty structured output")
	}

	for _, candidate := range []string{content, unfence(content), outermostJSON(content)} {
		if candidate == "" {
			continue
		}
		var v any
		if json.Unmarshal([]byte(candidate), &v) != nil {
			continue
		}
		out, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("normalize structured output: %w", err)
		}
		return out, nil
	}
	return nil, errors.New("no JSON document found in output")
}

// unfence returns the body of a ``` fenced block, or "" when s is not fenced.
func unfence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return ""
	}
	_, body, ok := strings.Cut(s, "\n")
	if !ok {
		return ""
	}
	body = strings.TrimSpace(body)
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}

// outermostJSON returns the span from the first '{' or '[' to the last
// matching closer.
func outermostJSON(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(s, closer)
	if end <= start {
		return ""
	}
	return s[start : end+1]
}

// ValidateStructuredJSON checks doc against schema. schema may be a bare JSON
// Schema or one wrapped as {"name","schema"} or {"json_schema":{"schema"}}.
func ValidateStructuredJSON(schema, doc json.RawMessage) error {
	if len(schema) == 0 || len(doc) == 0 {
		return nil
	}

	compiled, err := compileSchema(schema)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return fmt.Errorf("decode structured output: %w", err)
	}
	if err := compiled.Validate(v); err != nil {
		return fmt.Errorf("structured output does not match schema: %w", err)
	}
	return nil
}

// compiled schemas keyed by their wrapped source text
var schemaCache sync.Map

func compileSchema(wrapped json.RawMessage) (*jsonschema.Schema, error) {
	key := string(wrapped)
	if s, ok := schemaCache.Load(key); ok {
		return s.(*jsonschema.Schema), nil
	}

	inner, err := unwrapSchema(wrapped)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("output.json", bytes.NewReader(inner)); err != nil {
		return nil, fmt.Errorf("load output schema: %w", err)
	}
	s, err := c.Compile("output.json")
	if err != nil {
		return nil, fmt.Errorf("compile output schema: %w", err)
	}
	schemaCache.Store(key, s)
	return s, nil
}

func unwrapSchema(raw json.RawMessage) (json.RawMessage, error) {
	var wrapper struct {
		Schema     json.RawMessage `json:"schema"`
		JSONSchema *struct {
			Schema json.RawMessage `json:"schema"`
		} `json:"json_schema"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("parse output schema: %w", err)
	}
	switch {
	case len(wrapper.Schema) > 0:
		return wrapper.Schema, nil
	case wrapper.JSONSchema != nil && len(wrapper.JSONSchema.Schema) > 0:
		return wrapper.JSONSchema.Schema, nil
	default:
		return raw, nil
	}
}

// RepairPrompt builds the follow-up message asking the model to correct a
// reply that failed parsing or validation.
func RepairPrompt(schema json.RawMessage, lastOutput string, issue error) string {
	lastOutput = strings.TrimSpace(lastOutput)
	if len(lastOutput) > maxRepairEcho {
		lastOutput = lastOutput[:maxRepairEcho] + "\n...[truncated]"
	}

	var b strings.Builder
	b.WriteString("Your previous reply could not be used. Reply again with ONLY a JSON document ")
	b.WriteString("(no markdown fences, no commentary) that conforms to this schema.\n\n")
	fmt.Fprintf(&b, "Schema:\n%s\n\n", schema)
	fmt.Fprintf(&b, "Previous reply:\n%s\n\n", lastOutput)
	fmt.Fprintf(&b, "Problem:\n%v", issue)
	return b.String()
}
