package types

import "github.com/google/uuid"

// EventType distinguishes the three messages exchanged on the channel.
type EventType string

// EventType constants
const (
	EventRequest EventType = "request"
	EventSuccess EventType = "success"
	EventFailure EventType = "failure"
)

// StageEvent is a message on the channel. Attempt must match the session's
// current_stage_attempt in the ledger for the event to have any effect;
// events carrying a stale attempt are dropped by the consumer.
type StageEvent struct {
	SessionID uuid.UUID   `json:"session_id"`
	Stage     Stage       `json:"stage"`
	Attempt   int         `json:"attempt"`
	Type      EventType   `json:"event_type"`
	InputRef  string      `json:"input_ref,omitempty"`
	OutputRef string      `json:"output_ref,omitempty"`
	Error     *StageError `json:"error,omitempty"`
	Permanent bool        `json:"permanent,omitempty"`
}

// Request builds the REQUEST event that asks a stage worker to run.
func Request(sessionID uuid.UUID, stage Stage, attempt int, inputRef string) StageEvent {
	return StageEvent{
		SessionID: sessionID,
		Stage:     stage,
		Attempt:   attempt,
		Type:      EventRequest,
		InputRef:  inputRef,
	}
}

// Success builds the SUCCESS outcome for a completed stage attempt.
func Success(req StageEvent, outputRef string) StageEvent {
	return StageEvent{
		SessionID: req.SessionID,
		Stage:     req.Stage,
		Attempt:   req.Attempt,
		Type:      EventSuccess,
		OutputRef: outputRef,
	}
}

// Failure builds the FAILURE outcome for a stage attempt. permanent marks
// failures that must not consume further retry budget.
func Failure(req StageEvent, kind FailureKind, message string, permanent bool) StageEvent {
	return StageEvent{
		SessionID: req.SessionID,
		Stage:     req.Stage,
		Attempt:   req.Attempt,
		Type:      EventFailure,
		Error:     &StageError{Kind: kind, Message: message},
		Permanent: permanent,
	}
}
