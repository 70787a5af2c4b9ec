package schema

import (
	"embed"
	"fmt"
	"sort"
	"strings"
)

//go:embed schemas/*.graphql
var schemaFS embed.FS

// Collection names.
const (
	PipelineRun = "PipelineRun"
	QuestionSet = "QuestionSet"
	Question    = "Question"
)

// Schema represents a DefraDB collection schema.
type Schema struct {
	Name  string // collection name, e.g. "PipelineRun"
	SDL   string // GraphQL SDL definition
	Order int    // Initialization order (lower = first)
}

// registry holds all schemas in initialization order.
var registry = []Schema{
	{Name: PipelineRun, Order: 1},
	{Name: QuestionSet, Order: 2},
	{Name: Question, Order: 3},
}

// All returns all schemas in dependency order.
// Schemas are loaded from embedded .graphql files.
func All() ([]Schema, error) {
	schemas := make([]Schema, len(registry))
	copy(schemas, registry)

	for i := range schemas {
		sdl, err := load(schemas[i].Name)
		if err != nil {
			return nil, err
		}
		schemas[i].SDL = sdl
	}

	sort.Slice(schemas, func(i, j int) bool {
		return schemas[i].Order < schemas[j].Order
	})

	return schemas, nil
}

// Get returns a single schema by name.
func Get(name string) (*Schema, error) {
	for _, s := range registry {
		if s.Name == name {
			sdl, err := load(s.Name)
			if err != nil {
				return nil, err
			}
			s.SDL = sdl
			return &s, nil
		}
	}
	return nil, fmt.Errorf("schema not found: %s", name)
}

func load(name string) (string, error) {
	content, err := schemaFS.ReadFile(fmt.Sprintf("schemas/%s.graphql", strings.ToLower(name)))
	if err != nil {
		return "", fmt.Errorf("failed to read schema %s: %w", name, err)
	}
	return string(content), nil
}
