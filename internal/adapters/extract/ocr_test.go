package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackzampolin/qforge/internal/adapters"
	"github.com/jackzampolin/qforge/internal/providers"
	"github.com/jackzampolin/qforge/internal/types"
)

func TestOCR_Extract(t *testing.T) {
	mock := providers.NewMockOCRProvider()
	mock.Latency = 0
	mock.ResponseText = "  The mitochondria is the powerhouse of the cell.\n\nIt makes ATP.  "
	mock.Confidences = []float64{0.9, 0.95}

	ocr := NewOCR(mock)
	res, err := ocr.Extract(context.Background(), types.Input{Data: []byte("png"), Format: types.FormatImage})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if res.Text != "The mitochondria is the powerhouse of the cell.\n\nIt makes ATP." {
		t.Errorf("Text = %q", res.Text)
	}
	if len(res.Confidences) != 2 || res.Confidences[0] != 0.9 {
		t.Errorf("Confidences = %v", res.Confidences)
	}
	if res.Format != types.FormatImage || res.Method != "ocr" || res.Provider != "mock-ocr" {
		t.Errorf("unexpected metadata: %+v", res)
	}
	if res.Level() != types.ConfidenceHigh {
		t.Errorf("Level() = %q, want high", res.Level())
	}
}

func TestOCR_ReadsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.png")
	if err := os.WriteFile(path, []byte("not really a png"), 0o644); err != nil {
		t.Fatal(err)
	}
	mock := providers.NewMockOCRProvider()
	mock.Latency = 0

	res, err := NewOCR(mock).Extract(context.Background(), types.Input{Path: path, Format: types.FormatImage})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.Text != "mock OCR text" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestOCR_Supports(t *testing.T) {
	ocr := NewOCR(providers.NewMockOCRProvider())
	if ocr.Name() != "ocr:mock-ocr" {
		t.Errorf("Name() = %q", ocr.Name())
	}
	for format, want := range map[types.SourceFormat]bool{
		types.FormatImage: true,
		types.FormatPDF:   false,
		types.FormatText:  false,
	} {
		if got := ocr.Supports(types.Input{Format: format}); got != want {
			t.Errorf("Supports(%s) = %v, want %v", format, got, want)
		}
	}

	_, err := ocr.Extract(context.Background(), types.Input{Format: types.FormatPDF, Data: []byte("x")})
	if adapters.KindOf(err) != adapters.NotAvailable {
		t.Errorf("KindOf(err) = %q, want NotAvailable", adapters.KindOf(err))
	}
}

func TestOCR_ErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		in   types.Input
		want adapters.Kind
	}{
		{
			name: "missing data",
			in:   types.Input{Format: types.FormatImage},
			want: adapters.InvalidInput,
		},
		{
			name: "provider not installed",
			err:  providers.ErrNotAvailable,
			want: adapters.NotAvailable,
		},
		{
			name: "unauthorized",
			err:  &providers.StatusError{Provider: "mock", StatusCode: 401},
			want: adapters.NotAvailable,
		},
		{
			name: "bad request",
			err:  &providers.StatusError{Provider: "mock", StatusCode: 400},
			want: adapters.InvalidInput,
		},
		{
			name: "server error",
			err:  &providers.StatusError{Provider: "mock", StatusCode: 503},
			want: adapters.RemoteError,
		},
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: adapters.Timeout,
		},
		{
			name: "generic",
			err:  errors.New("connection reset"),
			want: adapters.RemoteError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := providers.NewMockOCRProvider()
			mock.Err = tt.err
			in := tt.in
			if in.Format == "" {
				in = types.Input{Data: []byte("img"), Format: types.FormatImage}
			}

			_, err := NewOCR(mock).Extract(context.Background(), in)
			if got := adapters.KindOf(err); got != tt.want {
				t.Errorf("KindOf(%v) = %q, want %q", err, got, tt.want)
			}
		})
	}
}

func TestOCR_EmptyTextHighConfidence(t *testing.T) {
	mock := providers.NewMockOCRProvider()
	mock.Latency = 0
	mock.ResponseText = "   "
	mock.Confidences = []float64{0.99}

	_, err := NewOCR(mock).Extract(context.Background(), types.Input{Data: []byte("img"), Format: types.FormatImage})
	if adapters.KindOf(err) != adapters.RemoteError {
		t.Errorf("expected RemoteError for inconsistent provider output, got %v", err)
	}
}

func TestOCR_ClampsConfidences(t *testing.T) {
	mock := providers.NewMockOCRProvider()
	mock.Latency = 0
	mock.Confidences = []float64{1.4, -0.2}

	res, err := NewOCR(mock).Extract(context.Background(), types.Input{Data: []byte("img"), Format: types.FormatImage})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.Confidences[0] != 1 || res.Confidences[1] != 0 {
		t.Errorf("Confidences = %v, want [1 0]", res.Confidences)
	}
}
