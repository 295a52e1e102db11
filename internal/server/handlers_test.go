package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkramer/session-insights/internal/artifact"
	"github.com/mkramer/session-insights/internal/channel"
	"github.com/mkramer/session-insights/internal/ledger"
	"github.com/mkramer/session-insights/internal/logger"
	"github.com/mkramer/session-insights/internal/orchestrator"
	"github.com/mkramer/session-insights/internal/types"
)

type testEnv struct {
	srv   *Server
	led   *ledger.MemoryLedger
	store *artifact.MemoryStore
}

// newTestEnv wires a server over in-memory state. The channel has no
// workers subscribed, so sessions stay in extracting until tests move them.
func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	log := logger.New()
	led := ledger.NewMemoryLedger()
	store := artifact.NewMemoryStore()
	ch := channel.NewMemoryChannel(log, channel.MemoryOptions{RedeliveryDelay: time.Millisecond})
	t.Cleanup(ch.Close)

	orch := orchestrator.New(led, ch, log, orchestrator.Options{})
	return &testEnv{
		srv:   New(cfg, led, store, orch, log),
		led:   led,
		store: store,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) submit(t *testing.T, body []byte) types.Session {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/sessions", body, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var sess types.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	return sess
}

func TestHandleSubmitSession(t *testing.T) {
	e := newTestEnv(t, Config{Port: 8080})

	sess := e.submit(t, []byte("recording bytes"))
	assert.Equal(t, types.StatusExtracting, sess.Status)
	assert.NotEqual(t, uuid.Nil, sess.ID)
	require.Contains(t, sess.ArtifactRefs, types.KindRaw)

	stored, err := e.store.Get(context.Background(), sess.ArtifactRefs[types.KindRaw])
	require.NoError(t, err)
	assert.Equal(t, []byte("recording bytes"), stored)
}

func TestHandleSubmitSession_EmptyBody(t *testing.T) {
	e := newTestEnv(t, Config{Port: 8080})
	rec := e.do(t, http.MethodPost, "/sessions", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// brokenReader fails mid-body, like a client disconnecting during upload.
type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestHandleSubmitSession_BodyReadFailureIsBadRequest(t *testing.T) {
	e := newTestEnv(t, Config{Port: 8080})
	req := httptest.NewRequest(http.MethodPost, "/sessions", brokenReader{})
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code, "a failed read is not an oversized upload")
	assert.NotContains(t, rec.Body.String(), "too large")
}

func TestHandleGetSession(t *testing.T) {
	e := newTestEnv(t, Config{Port: 8080})
	sess := e.submit(t, []byte("recording bytes"))

	rec := e.do(t, http.MethodGet, "/sessions/"+sess.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got types.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, types.StatusExtracting, got.Status)
}

func TestHandleGetSession_NotFound(t *testing.T) {
	e := newTestEnv(t, Config{Port: 8080})
	rec := e.do(t, http.MethodGet, "/sessions/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetSession_BadID(t *testing.T) {
	e := newTestEnv(t, Config{Port: 8080})
	rec := e.do(t, http.MethodGet, "/sessions/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListSessions(t *testing.T) {
	e := newTestEnv(t, Config{Port: 8080})
	e.submit(t, []byte("one"))
	e.submit(t, []byte("two"))

	rec := e.do(t, http.MethodGet, "/sessions?limit=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Sessions []types.Session `json:"sessions"`
		Count    int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Len(t, resp.Sessions, 1)
}

func TestHandleListSessions_BadLimit(t *testing.T) {
	e := newTestEnv(t, Config{Port: 8080})
	rec := e.do(t, http.MethodGet, "/sessions?limit=zero", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetArtifact(t *testing.T) {
	e := newTestEnv(t, Config{Port: 8080})
	sess := e.submit(t, []byte("recording bytes"))

	rec := e.do(t, http.MethodGet, "/sessions/"+sess.ID.String()+"/artifacts/raw", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte("recording bytes"), rec.Body.Bytes())
}

func TestHandleGetArtifact_NotReady(t *testing.T) {
	e := newTestEnv(t, Config{Port: 8080})
	sess := e.submit(t, []byte("recording bytes"))

	rec := e.do(t, http.MethodGet, "/sessions/"+sess.ID.String()+"/artifacts/analysis", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not available yet")
}

func TestHandleGetArtifact_UnknownKind(t *testing.T) {
	e := newTestEnv(t, Config{Port: 8080})
	sess := e.submit(t, []byte("recording bytes"))

	rec := e.do(t, http.MethodGet, "/sessions/"+sess.ID.String()+"/artifacts/summary", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCancelSession(t *testing.T) {
	e := newTestEnv(t, Config{Port: 8080})
	sess := e.submit(t, []byte("recording bytes"))

	body := []byte(`{"reason":"patient withdrew consent"}`)
	rec := e.do(t, http.MethodPost, "/sessions/"+sess.ID.String()+"/cancel", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got types.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, types.StatusFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Equal(t, types.FailureCancelled, got.LastError.Kind)
	assert.Equal(t, "patient withdrew consent", got.LastError.Message)
}

func TestHandleCancelSession_AlreadyTerminal(t *testing.T) {
	e := newTestEnv(t, Config{Port: 8080})
	sess := e.submit(t, []byte("recording bytes"))

	first := e.do(t, http.MethodPost, "/sessions/"+sess.ID.String()+"/cancel", nil, nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := e.do(t, http.MethodPost, "/sessions/"+sess.ID.String()+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, second.Code)
}

func TestHandleCancelSession_NotFound(t *testing.T) {
	e := newTestEnv(t, Config{Port: 8080})
	rec := e.do(t, http.MethodPost, "/sessions/"+uuid.NewString()+"/cancel", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	e := newTestEnv(t, Config{Port: 8080})
	rec := e.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuth_ProtectsMutatingRoutes(t *testing.T) {
	e := newTestEnv(t, Config{Port: 8080, IngestJWTSecret: "test-secret"})

	rec := e.do(t, http.MethodPost, "/sessions", []byte("recording"), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, "/sessions", []byte("recording"), map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := NewJWTService("test-secret", time.Hour).GenerateToken("ingest-ui")
	require.NoError(t, err)
	rec = e.do(t, http.MethodPost, "/sessions", []byte("recording"), map[string]string{
		"Authorization": "Bearer " + token,
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestAuth_ReadRoutesStayOpen(t *testing.T) {
	e := newTestEnv(t, Config{Port: 8080, IngestJWTSecret: "test-secret"})
	rec := e.do(t, http.MethodGet, "/sessions", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t, Config{Port: 8080})
	rec := e.do(t, http.MethodOptions, "/sessions", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandleSubmitSession_WhitespaceBodyIsStored(t *testing.T) {
	// a body of only whitespace is still bytes; the pipeline decides later
	// whether it is valid media
	e := newTestEnv(t, Config{Port: 8080})
	sess := e.submit(t, []byte(strings.Repeat(" ", 8)))
	assert.Equal(t, types.StatusExtracting, sess.Status)
}
