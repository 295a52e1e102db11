// Package capability wraps the external providers each stage depends on:
// the media codec, the transcription service, and the NLP analyzer. Each
// adapter classifies provider failures as transient or permanent so the
// orchestration core never has to know provider-specific quirks.
package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/mkramer/session-insights/internal/types"
)

// Extractor pulls an audio track out of an uploaded recording.
type Extractor interface {
	Extract(ctx context.Context, media []byte) ([]byte, error)
}

// Transcriber converts audio into a speaker-labeled transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Analyzer produces the structured clinical-insights JSON for a transcript.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string) ([]byte, error)
}

// Error is a classified capability failure.
type Error struct {
	Kind types.FailureKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable: timeouts, rate limits, provider
// outages.
func Transient(err error) error {
	return &Error{Kind: types.FailureTransient, Err: err}
}

// Permanent wraps err as non-retryable: malformed input, unsupported
// formats, rejected credentials.
func Permanent(err error) error {
	return &Error{Kind: types.FailurePermanent, Err: err}
}

// Transientf is Transient with formatting.
func Transientf(format string, args ...any) error {
	return Transient(fmt.Errorf(format, args...))
}

// Permanentf is Permanent with formatting.
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

// Classify returns the failure kind for a capability error. Unclassified
// errors default to transient so unexpected conditions stay retryable.
func Classify(err error) types.FailureKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return types.FailureTransient
}

// IsPermanent reports whether err must not consume retry budget.
func IsPermanent(err error) bool {
	return Classify(err) == types.FailurePermanent
}
