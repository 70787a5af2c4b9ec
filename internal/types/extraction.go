// Package types provides shared types used across multiple packages.
// This package has no dependencies on other qforge packages to avoid import cycles.
package types

import (
	"bytes"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

// SourceFormat tags where pipeline input came from.
type SourceFormat string

const (
	FormatImage SourceFormat = "image"
	FormatPDF   SourceFormat = "pdf"
	FormatText  SourceFormat = "text"
)

// LowConfidence is the cutoff below which a region counts as low confidence.
const LowConfidence = 0.5

// HighConfidence is the cutoff at or above which a result is labelled high.
const HighConfidence = 0.8

// ConfidenceLevel summarizes extraction confidence.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceError  ConfidenceLevel = "error"
)

// Input is an opaque reference to pipeline input: a file on disk, raw bytes, or literal text.
type Input struct {
	Path     string       `json:"path,omitempty"`
	Filename string       `json:"filename,omitempty"`
	Text     string       `json:"text,omitempty"`
	Data     []byte       `json:"-"`
	Format   SourceFormat `json:"format"`
}

// TextInput builds an Input for raw text.
func TextInput(text string) Input {
	return Input{Text: text, Format: FormatText}
}

// FileInput builds an Input for file contents, detecting the format from
// the filename extension and the leading bytes. Plain-text files become
// text input.
func FileInput(path string, data []byte) Input {
	in := Input{
		Path:     path,
		Filename: filepath.Base(path),
		Data:     data,
		Format:   DetectFormat(path, data),
	}
	if in.IsText() {
		in.Text = string(data)
	}
	return in
}

// IsText reports whether extraction can be skipped for this input.
func (in Input) IsText() bool {
	return in.Format == FormatText
}

// FileRefPrefix marks a run reference that names a file rather than
// carrying literal text.
const FileRefPrefix = "file://"

// Ref returns the reference persisted on the run record: the file for
// path-backed input, otherwise the literal text. File contents are never
// copied into the reference.
func (in Input) Ref() string {
	if in.Path != "" {
		return FileRefPrefix + in.Path
	}
	return in.Text
}

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// DetectFormat guesses the source format from the extension, falling back
// to content sniffing. Returns "" when the input is not a supported format.
func DetectFormat(name string, data []byte) SourceFormat {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case ext == ".pdf":
		return FormatPDF
	case imageExts[ext]:
		return FormatImage
	case ext == ".txt" || ext == ".md":
		return FormatText
	}

	if len(data) == 0 {
		return ""
	}
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return FormatPDF
	}
	ct := http.DetectContentType(data)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return FormatImage
	case ct == "application/pdf":
		return FormatPDF
	case strings.HasPrefix(ct, "text/plain"):
		return FormatText
	}
	return ""
}

// ExtractionResult is the output of the extraction stage.
type ExtractionResult struct {
	Text        string       `json:"text"`
	Confidences []float64    `json:"confidences"`
	Format      SourceFormat `json:"format"`
	Provider    string       `json:"provider,omitempty"`
	Method      string       `json:"method,omitempty"` // "text" or "ocr"
	Pages       int          `json:"pages,omitempty"`
}

// Validate checks the confidence bounds and the empty-text rule.
func (r *ExtractionResult) Validate() error {
	if r.Format != FormatImage && r.Format != FormatPDF {
		return fmt.Errorf("invalid source format %q", r.Format)
	}
	for i, c := range r.Confidences {
		if !(c >= 0 && c <= 1) {
			return fmt.Errorf("confidence %d out of range: %v", i, c)
		}
	}
	if strings.TrimSpace(r.Text) == "" {
		for _, c := range r.Confidences {
			if c >= LowConfidence {
				return fmt.Errorf("empty text with confidence %.2f", c)
			}
		}
	}
	return nil
}

// MeanConfidence returns the average region confidence, or 0 with no regions.
func (r *ExtractionResult) MeanConfidence() float64 {
	if len(r.Confidences) == 0 {
		return 0
	}
	var sum float64
	for _, c := range r.Confidences {
		sum += c
	}
	return sum / float64(len(r.Confidences))
}

// Level labels the mean confidence.
func (r *ExtractionResult) Level() ConfidenceLevel {
	if len(r.Confidences) == 0 {
		return ConfidenceError
	}
	mean := r.MeanConfidence()
	switch {
	case mean >= HighConfidence:
		return ConfidenceHigh
	case mean >= LowConfidence:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// ChangeOp is the kind of an edit record.
type ChangeOp string

const (
	ChangeInsert ChangeOp = "insert"
	ChangeDelete ChangeOp = "delete"
)

// Change is a single edit between original and enhanced text.
// Position is a rune offset into the original text.
type Change struct {
	Op       ChangeOp `json:"op"`
	Position int      `json:"position"`
	Text     string   `json:"text"`
}

// EnhancedText is the output of the enhancement stage.
type EnhancedText struct {
	Original         string   `json:"original"`
	Text             string   `json:"text"`
	Changes          []Change `json:"changes,omitempty"`
	MeaningPreserved bool     `json:"meaning_preserved"`
	Similarity       float64  `json:"similarity"`
	Enhancer         string   `json:"enhancer,omitempty"`
}
