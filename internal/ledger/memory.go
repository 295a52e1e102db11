package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkramer/session-insights/internal/types"
)

// MemoryLedger is an in-process Ledger used by unit tests and database-less
// local runs. Semantics match PostgresLedger exactly.
type MemoryLedger struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*types.Session
	now      func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		sessions: make(map[uuid.UUID]*types.Session),
		now:      time.Now,
	}
}

// Create implements Ledger.
func (l *MemoryLedger) Create(_ context.Context, sessionID uuid.UUID, rawRef string) (*types.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.sessions[sessionID]; ok {
		return nil, fmt.Errorf("session %s already exists: %w", sessionID, types.ErrConflict)
	}

	now := l.now()
	sess := &types.Session{
		ID:           sessionID,
		Status:       types.StatusPending,
		StageAttempt: 0,
		ArtifactRefs: map[types.ArtifactKind]string{types.KindRaw: rawRef},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	l.sessions[sessionID] = sess
	return copySession(sess), nil
}

// Get implements Ledger.
func (l *MemoryLedger) Get(_ context.Context, sessionID uuid.UUID) (*types.Session, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	sess, ok := l.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, types.ErrNotFound)
	}
	return copySession(sess), nil
}

// List implements Ledger.
func (l *MemoryLedger) List(_ context.Context, limit int) ([]types.Session, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]types.Session, 0, len(l.sessions))
	for _, sess := range l.sessions {
		out = append(out, *copySession(sess))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CompareAndSetStatus implements Ledger.
func (l *MemoryLedger) CompareAndSetStatus(_ context.Context, sessionID uuid.UUID, expectedStatus types.Status, expectedAttempt int, upd Update) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sess, ok := l.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, types.ErrNotFound)
	}
	if sess.Status != expectedStatus || sess.StageAttempt != expectedAttempt {
		return fmt.Errorf("session %s at (%s, %d), expected (%s, %d): %w",
			sessionID, sess.Status, sess.StageAttempt, expectedStatus, expectedAttempt, types.ErrConflict)
	}

	sess.Status = upd.Status
	sess.StageAttempt = upd.Attempt
	sess.LastError = upd.LastError
	if upd.ArtifactKind != "" {
		if _, exists := sess.ArtifactRefs[upd.ArtifactKind]; !exists {
			sess.ArtifactRefs[upd.ArtifactKind] = upd.ArtifactRef
		}
	}

	// updated_at is monotonically non-decreasing
	if now := l.now(); now.After(sess.UpdatedAt) {
		sess.UpdatedAt = now
	}
	return nil
}

func copySession(sess *types.Session) *types.Session {
	out := *sess
	out.ArtifactRefs = make(map[types.ArtifactKind]string, len(sess.ArtifactRefs))
	for k, v := range sess.ArtifactRefs {
		out.ArtifactRefs[k] = v
	}
	if sess.LastError != nil {
		e := *sess.LastError
		out.LastError = &e
	}
	return &out
}
