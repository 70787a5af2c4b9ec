package types

import (
	"math"
	"testing"
	"time"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		file string
		data []byte
		want SourceFormat
	}{
		{"pdf extension", "notes.PDF", nil, FormatPDF},
		{"png extension", "scan.png", nil, FormatImage},
		{"jpeg extension", "scan.jpeg", nil, FormatImage},
		{"text extension", "chapter.txt", nil, FormatText},
		{"pdf magic", "upload", []byte("%PDF-1.7\n..."), FormatPDF},
		{"png magic", "upload", []byte("\x89PNG\r\n\x1a\n0000"), FormatImage},
		{"plain text sniff", "upload", []byte("photosynthesis converts light"), FormatText},
		{"unknown", "archive.zip", []byte{0x50, 0x4b, 0x03, 0x04}, ""},
		{"empty", "upload", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFormat(tt.file, tt.data); got != tt.want {
				t.Errorf("DetectFormat(%q) = %q, want %q", tt.file, got, tt.want)
			}
		})
	}
}

func TestExtractionResult_Validate(t *testing.T) {
	tests := []struct {
		name    string
		result  ExtractionResult
		wantErr bool
	}{
		{"valid image", ExtractionResult{Text: "hello", Confidences: []float64{0.9, 0.95}, Format: FormatImage}, false},
		{"confidence above one", ExtractionResult{Text: "hello", Confidences: []float64{1.2}, Format: FormatImage}, true},
		{"negative confidence", ExtractionResult{Text: "hello", Confidences: []float64{-0.1}, Format: FormatPDF}, true},
		{"nan confidence", ExtractionResult{Text: "hello", Confidences: []float64{0.9, math.NaN()}, Format: FormatImage}, true},
		{"empty text low confidence", ExtractionResult{Text: "", Confidences: []float64{0.1, 0.2}, Format: FormatImage}, false},
		{"empty text high confidence", ExtractionResult{Text: " ", Confidences: []float64{0.1, 0.9}, Format: FormatImage}, true},
		{"text format rejected", ExtractionResult{Text: "x", Format: FormatText}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.result.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExtractionResult_Level(t *testing.T) {
	tests := []struct {
		confidences []float64
		want        ConfidenceLevel
	}{
		{nil, ConfidenceError},
		{[]float64{0.9, 0.95}, ConfidenceHigh},
		{[]float64{0.6, 0.7}, ConfidenceMedium},
		{[]float64{0.1, 0.3}, ConfidenceLow},
	}
	for _, tt := range tests {
		r := ExtractionResult{Confidences: tt.confidences}
		if got := r.Level(); got != tt.want {
			t.Errorf("Level(%v) = %q, want %q", tt.confidences, got, tt.want)
		}
	}
}

func TestQuestion_Validate(t *testing.T) {
	tests := []struct {
		name    string
		q       Question
		wantErr bool
	}{
		{
			name: "valid mcq",
			q: Question{Type: QuestionMCQ, Prompt: "Capital of France?", Answer: "Paris",
				Distractors: []string{"Paris", "Lyon", "Nice", "Lille"}},
		},
		{
			name: "mcq answer missing from options",
			q: Question{Type: QuestionMCQ, Prompt: "Capital of France?", Answer: "Paris",
				Distractors: []string{"Rome", "Lyon", "Nice", "Lille"}},
			wantErr: true,
		},
		{
			name: "mcq with three options",
			q: Question{Type: QuestionMCQ, Prompt: "Capital of France?", Answer: "Paris",
				Distractors: []string{"Paris", "Lyon", "Nice"}},
			wantErr: true,
		},
		{
			name: "valid true_false",
			q: Question{Type: QuestionTrueFalse, Prompt: "Water boils at 100C at sea level.", Answer: True,
				Distractors: []string{True, False}},
		},
		{
			name: "valid short answer",
			q:    Question{Type: QuestionShortAnswer, Prompt: "Name the process plants use to make food.", Answer: "photosynthesis"},
		},
		{
			name:    "short answer with options",
			q:       Question{Type: QuestionShortAnswer, Prompt: "p", Answer: "a", Distractors: []string{"a"}},
			wantErr: true,
		},
		{
			name:    "empty prompt",
			q:       Question{Type: QuestionShortAnswer, Answer: "a"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.q.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunParams_Validate(t *testing.T) {
	valid := RunParams{QuestionType: QuestionMCQ, Difficulty: DifficultyMedium, NumQuestions: 3}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	bad := RunParams{QuestionType: "essay", Difficulty: "brutal", NumQuestions: 0}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for invalid params")
	}
}

func TestPipelineRun_Transition(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	run := NewRun("run-1", TextInput("some text"), RunParams{NumQuestions: 1}, now)

	if run.Status != StatusPending {
		t.Fatalf("Status = %q, want pending", run.Status)
	}
	if run.InputRef != "some text" {
		t.Errorf("InputRef = %q", run.InputRef)
	}
	fileRun := NewRun("run-2", FileInput("/data/notes.txt", []byte("secret notes")), RunParams{NumQuestions: 1}, now)
	if fileRun.InputRef != FileRefPrefix+"/data/notes.txt" {
		t.Errorf("file InputRef = %q, want the path only", fileRun.InputRef)
	}

	run.Transition(StatusEnhancing, now.Add(time.Second), 0, "", "")
	if run.CompletedAt != nil {
		t.Error("CompletedAt set on non-terminal status")
	}
	run.Transition(StatusDone, now.Add(2*time.Second), 1, "cloze", "")
	if run.CompletedAt == nil || !run.CompletedAt.Equal(now.Add(2*time.Second)) {
		t.Errorf("CompletedAt = %v", run.CompletedAt)
	}
	if run.Visited(StatusExtracting) {
		t.Error("run should not have visited extracting")
	}
	if len(run.History) != 3 {
		t.Errorf("len(History) = %d, want 3", len(run.History))
	}

	clone := run.Clone()
	clone.History[0].Note = "mutated"
	if run.History[0].Note == "mutated" {
		t.Error("Clone shares history backing array")
	}
}
