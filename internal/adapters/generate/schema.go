package generate

// QuestionsSchema is the JSON schema for generated questions.
var QuestionsSchema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "question_generation",
		"strict": false,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"questions": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"question": map[string]any{
								"type":        "string",
								"minLength":   1,
								"description": "The question text",
							},
							"answer": map[string]any{
								"type":        []string{"string", "boolean"},
								"description": "The correct answer; for multiple choice either the option text or its letter A-D",
							},
							"choices": map[string]any{
								"type":        "array",
								"items":       map[string]any{"type": "string"},
								"description": "Answer options for multiple choice questions",
							},
							"rationale": map[string]any{
								"type":        "string",
								"description": "Why the answer is correct",
							},
						},
						"required": []string{"question", "answer"},
					},
				},
			},
			"required":             []string{"questions"},
			"additionalProperties": false,
		},
	},
}

// rawQuestion is one question as returned by the model, before normalization.
type rawQuestion struct {
	Question  string   `json:"question"`
	Answer    any      `json:"answer"`
	Choices   []string `json:"choices"`
	Options   []string `json:"options"`
	Rationale string   `json:"rationale"`
}

type rawResponse struct {
	Questions []rawQuestion `json:"questions"`
}
