package types

import "errors"

// FailureKind classifies why an operation failed. Workers classify provider
// errors; the orchestrator alone decides retry vs terminal failure.
type FailureKind string

// FailureKind constants
const (
	// FailureTransient covers timeouts, rate limits, and network errors;
	// the attempt is eligible for retry.
	FailureTransient FailureKind = "transient"
	// FailurePermanent covers malformed or unsupported input and
	// authorization failures; retrying cannot help.
	FailurePermanent FailureKind = "permanent"
	// FailureExhausted is recorded when a transient failure consumed the
	// whole retry budget.
	FailureExhausted FailureKind = "exhausted"
	// FailureCancelled is recorded when an operator aborts a session.
	FailureCancelled FailureKind = "cancelled"
)

// ErrConflict signals that a concurrency guard tripped: a compare-and-set
// saw unexpected prior state, or an artifact slot already holds different
// content. It is always a no-op for the caller, never a session failure.
var ErrConflict = errors.New("conflict")

// ErrNotFound signals that the requested session or artifact does not exist.
var ErrNotFound = errors.New("not found")
