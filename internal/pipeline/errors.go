package pipeline

import (
	"errors"
	"fmt"

	"github.com/jackzampolin/qforge/internal/adapters"
	"github.com/jackzampolin/qforge/internal/types"
)

// Stage names a pipeline step.
type Stage string

const (
	StageSubmit   Stage = "submit"
	StageExtract  Stage = "extract"
	StageEnhance  Stage = "enhance"
	StageGenerate Stage = "generate"
)

// Error is a run failure with its kind and the stage it happened in.
type Error struct {
	Kind  types.FailureKind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func failure(kind types.FailureKind, stage Stage, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// KindOf returns the failure kind carried by err, or "" if none.
func KindOf(err error) types.FailureKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsInputInvalid reports whether err rejects the caller's input.
func IsInputInvalid(err error) bool {
	return KindOf(err) == types.KindInputInvalid
}

// kindFor maps an adapter failure to the run failure kind.
func kindFor(err error) types.FailureKind {
	switch adapters.KindOf(err) {
	case adapters.Timeout:
		return types.KindAdapterTimeout
	case adapters.RemoteError:
		return types.KindAdapterRemoteError
	case adapters.InvalidInput:
		return types.KindInputInvalid
	default:
		return types.KindAdapterUnavailable
	}
}
