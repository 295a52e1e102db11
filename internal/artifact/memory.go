package artifact

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mkramer/session-insights/internal/types"
)

type slotKey struct {
	session uuid.UUID
	kind    types.ArtifactKind
}

type slot struct {
	digest string
	data   []byte
}

// MemoryStore is an in-process Store used by unit tests and database-less
// local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[slotKey]slot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[slotKey]slot)}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, sessionID uuid.UUID, kind types.ArtifactKind, data []byte) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("unknown artifact kind %q", kind)
	}
	dig := digest(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	key := slotKey{session: sessionID, kind: kind}
	if existing, ok := s.slots[key]; ok {
		if existing.digest == dig {
			return makeRef(sessionID, kind, dig), nil
		}
		return "", fmt.Errorf("artifact %s/%s already written with different content: %w", sessionID, kind, types.ErrConflict)
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	s.slots[key] = slot{digest: dig, data: stored}
	return makeRef(sessionID, kind, dig), nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, ref string) ([]byte, error) {
	sessionID, kind, err := parseRef(ref)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sl, ok := s.slots[slotKey{session: sessionID, kind: kind}]
	if !ok {
		return nil, fmt.Errorf("artifact %s: %w", ref, types.ErrNotFound)
	}
	out := make([]byte, len(sl.data))
	copy(out, sl.data)
	return out, nil
}

// Ref implements Store.
func (s *MemoryStore) Ref(_ context.Context, sessionID uuid.UUID, kind types.ArtifactKind) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sl, ok := s.slots[slotKey{session: sessionID, kind: kind}]
	if !ok {
		return "", fmt.Errorf("artifact %s/%s: %w", sessionID, kind, types.ErrNotFound)
	}
	return makeRef(sessionID, kind, sl.digest), nil
}
