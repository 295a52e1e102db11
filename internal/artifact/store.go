// Package artifact provides durable, immutable blob storage for the
// pipeline: raw uploads, extracted audio, transcripts, and analysis JSON.
// An artifact slot is keyed (session, kind) and written exactly once;
// rewriting identical bytes is a no-op, rewriting different bytes is a
// conflict.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mkramer/session-insights/internal/types"
)

// Store is the durable blob store shared by every stage.
type Store interface {
	// Put writes data into the (sessionID, kind) slot and returns its
	// reference. Rewriting identical content returns the existing
	// reference with no error; divergent content returns
	// types.ErrConflict and leaves the stored artifact untouched.
	Put(ctx context.Context, sessionID uuid.UUID, kind types.ArtifactKind, data []byte) (string, error)
	// Get resolves a reference produced by Put.
	Get(ctx context.Context, ref string) ([]byte, error)
	// Ref returns the reference for an already-written slot, or
	// types.ErrNotFound. Workers use it as their idempotency check.
	Ref(ctx context.Context, sessionID uuid.UUID, kind types.ArtifactKind) (string, error)
}

// digest returns the hex sha-256 of data.
func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// makeRef builds the session-scoped, content-derived reference string.
func makeRef(sessionID uuid.UUID, kind types.ArtifactKind, dig string) string {
	return fmt.Sprintf("%s/%s/%s", sessionID, kind, dig[:12])
}

// parseRef splits a reference back into its slot key.
func parseRef(ref string) (uuid.UUID, types.ArtifactKind, error) {
	parts := strings.Split(ref, "/")
	if len(parts) != 3 {
		return uuid.Nil, "", fmt.Errorf("malformed artifact ref %q", ref)
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("malformed artifact ref %q: %w", ref, err)
	}
	kind := types.ArtifactKind(parts[1])
	if !kind.Valid() {
		return uuid.Nil, "", fmt.Errorf("malformed artifact ref %q: unknown kind", ref)
	}
	return id, kind, nil
}
