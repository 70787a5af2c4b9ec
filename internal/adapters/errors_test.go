package adapters

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackzampolin/qforge/internal/providers"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", context.DeadlineExceeded, Timeout},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), Timeout},
		{"net timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, Timeout},
		{"unsupported", fmt.Errorf("tiff: %w", ErrUnsupported), NotAvailable},
		{"generic", errors.New("status 502"), RemoteError},
		{"already typed", Invalid("ocr", "extract", errors.New("empty")), InvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify("ocr", "extract", tt.err)
			if got := KindOf(err); got != tt.want {
				t.Errorf("KindOf(Classify(%v)) = %q, want %q", tt.err, got, tt.want)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("Classify lost the cause: %v", err)
			}
		})
	}

	if Classify("x", "y", nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestKindRetryable(t *testing.T) {
	if !Timeout.Retryable() || !RemoteError.Retryable() {
		t.Error("Timeout and RemoteError should be retryable")
	}
	if NotAvailable.Retryable() || InvalidInput.Retryable() {
		t.Error("NotAvailable and InvalidInput should not be retryable")
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: Timeout, Adapter: "mistral", Op: "extract", Err: context.DeadlineExceeded}
	want := "mistral extract: Timeout: context deadline exceeded"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestClassifyProvider(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"not installed", fmt.Errorf("tesseract: %w", providers.ErrNotAvailable), NotAvailable},
		{"forbidden", &providers.StatusError{Provider: "openai", StatusCode: 403}, NotAvailable},
		{"unprocessable", &providers.StatusError{Provider: "openai", StatusCode: 422}, InvalidInput},
		{"payload too large", &providers.StatusError{Provider: "mistral", StatusCode: 413}, InvalidInput},
		{"unknown model", &providers.StatusError{Provider: "openrouter", StatusCode: 404}, NotAvailable},
		{"unauthorized", &providers.StatusError{Provider: "openai", StatusCode: 401}, NotAvailable},
		{"bad request", &providers.StatusError{Provider: "openai", StatusCode: 400}, NotAvailable},
		{"overloaded", &providers.StatusError{Provider: "openai", StatusCode: 529}, RemoteError},
		{"rate limited", &providers.RateLimitError{StatusCode: 429}, RemoteError},
		{"deadline", context.DeadlineExceeded, Timeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(ClassifyProvider("a", "op", tt.err)); got != tt.want {
				t.Errorf("KindOf(ClassifyProvider(%v)) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
	if ClassifyProvider("a", "op", nil) != nil {
		t.Error("ClassifyProvider(nil) should be nil")
	}
}
