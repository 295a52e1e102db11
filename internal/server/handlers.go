package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/mkramer/session-insights/internal/types"
)

// handleSubmitSession accepts a raw recording upload and starts the
// pipeline for it. The response is 202: processing continues after the
// request returns.
func (s *Server) handleSubmitSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.errorResponse(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		s.errorResponse(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(data) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "empty request body")
		return
	}

	sessionID := uuid.New()
	rawRef, err := s.store.Put(r.Context(), sessionID, types.KindRaw, data)
	if err != nil {
		s.log.WithSession(sessionID).WithError(err).Error("failed to store upload")
		s.errorResponse(w, httpStatus(err), "failed to store recording")
		return
	}

	sess, err := s.pipeline.Submit(r.Context(), sessionID, rawRef)
	if err != nil {
		s.log.WithSession(sessionID).WithError(err).Error("failed to submit session")
		s.errorResponse(w, httpStatus(err), "failed to submit session")
		return
	}

	s.jsonResponse(w, http.StatusAccepted, sess)
}

// handleListSessions returns the most recently updated sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	sessions, err := s.ledger.List(r.Context(), limit)
	if err != nil {
		s.log.WithError(err).Error("failed to list sessions")
		s.errorResponse(w, httpStatus(err), "failed to list sessions")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}

// handleGetSession returns one session's current state.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid session ID")
		return
	}

	sess, err := s.ledger.Get(r.Context(), sessionID)
	if err != nil {
		s.errorResponse(w, httpStatus(err), "session not found")
		return
	}
	s.jsonResponse(w, http.StatusOK, sess)
}

// handleGetArtifact streams one of a session's stored artifacts.
func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid session ID")
		return
	}
	kind := types.ArtifactKind(r.PathValue("kind"))
	if !kind.Valid() {
		s.errorResponse(w, http.StatusBadRequest, "unknown artifact kind")
		return
	}

	sess, err := s.ledger.Get(r.Context(), sessionID)
	if err != nil {
		s.errorResponse(w, httpStatus(err), "session not found")
		return
	}

	ref, ok := sess.ArtifactRefs[kind]
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "artifact not available yet")
		return
	}

	data, err := s.store.Get(r.Context(), ref)
	if err != nil {
		s.log.WithSession(sessionID).WithError(err).Error("failed to read artifact")
		s.errorResponse(w, httpStatus(err), "failed to read artifact")
		return
	}

	w.Header().Set("Content-Type", contentType(kind))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.log.WithSession(sessionID).WithError(err).Error("failed to write artifact response")
	}
}

// handleCancelSession aborts a session that has not finished.
func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid session ID")
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		// reason is optional; a bad body is still a bad request
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
			s.errorResponse(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := s.pipeline.Cancel(r.Context(), sessionID, body.Reason); err != nil {
		s.errorResponse(w, httpStatus(err), err.Error())
		return
	}

	sess, err := s.ledger.Get(r.Context(), sessionID)
	if err != nil {
		s.errorResponse(w, httpStatus(err), "session not found")
		return
	}
	s.jsonResponse(w, http.StatusOK, sess)
}

// contentType maps an artifact kind onto its response media type.
func contentType(kind types.ArtifactKind) string {
	switch kind {
	case types.KindAudio:
		return "audio/mpeg"
	case types.KindTranscript:
		return "text/plain; charset=utf-8"
	case types.KindAnalysis:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
