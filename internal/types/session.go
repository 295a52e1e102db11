// Package types defines the domain model shared by the pipeline core:
// sessions, stages, stage events, and the failure taxonomy.
package types

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a session.
type Status string

// Status constants
const (
	StatusPending      Status = "pending"
	StatusExtracting   Status = "extracting"
	StatusTranscribing Status = "transcribing"
	StatusAnalyzing    Status = "analyzing"
	StatusComplete     Status = "complete"
	StatusFailed       Status = "failed"
)

// Terminal reports whether no further transitions may occur from s.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Stage is one processing phase of the pipeline.
type Stage string

// Stage constants, in pipeline order
const (
	StageExtraction    Stage = "extraction"
	StageTranscription Stage = "transcription"
	StageAnalysis      Stage = "analysis"
)

// Stages lists all stages in pipeline order.
var Stages = []Stage{StageExtraction, StageTranscription, StageAnalysis}

// Status returns the session status that corresponds to the stage being
// in flight.
func (s Stage) Status() Status {
	switch s {
	case StageExtraction:
		return StatusExtracting
	case StageTranscription:
		return StatusTranscribing
	case StageAnalysis:
		return StatusAnalyzing
	}
	return ""
}

// Next returns the stage that follows s, or false if s is the last stage.
func (s Stage) Next() (Stage, bool) {
	switch s {
	case StageExtraction:
		return StageTranscription, true
	case StageTranscription:
		return StageAnalysis, true
	}
	return "", false
}

// InputKind returns the artifact kind a stage consumes.
func (s Stage) InputKind() ArtifactKind {
	switch s {
	case StageExtraction:
		return KindRaw
	case StageTranscription:
		return KindAudio
	case StageAnalysis:
		return KindTranscript
	}
	return ""
}

// OutputKind returns the artifact kind a stage produces.
func (s Stage) OutputKind() ArtifactKind {
	switch s {
	case StageExtraction:
		return KindAudio
	case StageTranscription:
		return KindTranscript
	case StageAnalysis:
		return KindAnalysis
	}
	return ""
}

// ArtifactKind identifies one of the artifact slots a session owns.
type ArtifactKind string

// ArtifactKind constants
const (
	KindRaw        ArtifactKind = "raw"
	KindAudio      ArtifactKind = "audio"
	KindTranscript ArtifactKind = "transcript"
	KindAnalysis   ArtifactKind = "analysis"
)

// ArtifactKinds lists all artifact kinds in the order they are produced.
var ArtifactKinds = []ArtifactKind{KindRaw, KindAudio, KindTranscript, KindAnalysis}

// Valid reports whether k is a known artifact kind.
func (k ArtifactKind) Valid() bool {
	switch k {
	case KindRaw, KindAudio, KindTranscript, KindAnalysis:
		return true
	}
	return false
}

// StageError is the structured error recorded on a session while a stage is
// mid-retry or after the session has failed.
type StageError struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// Session is one uploaded recording's journey through the pipeline.
// The orchestrator is the sole writer of Status and StageAttempt; workers
// are the sole writers of their own stage's artifact reference.
type Session struct {
	ID           uuid.UUID               `json:"session_id"`
	Status       Status                  `json:"status"`
	StageAttempt int                     `json:"current_stage_attempt"`
	ArtifactRefs map[ArtifactKind]string `json:"artifact_refs"`
	LastError    *StageError             `json:"last_error,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}
