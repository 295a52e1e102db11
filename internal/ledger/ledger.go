// Package ledger provides the durable record of every session: identity,
// current stage, attempt counter, artifact references, and last error.
// Its compare-and-set is the single concurrency-control primitive the
// orchestrator relies on; a failed comparison means the incoming event is
// stale or a duplicate and must be dropped without side effects.
package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/mkramer/session-insights/internal/types"
)

// Update describes the state a successful compare-and-set writes. The
// artifact fields are optional; when set, the reference is recorded in the
// same operation that advances the status.
type Update struct {
	Status       types.Status
	Attempt      int
	ArtifactKind types.ArtifactKind
	ArtifactRef  string
	LastError    *types.StageError
}

// Ledger is the storage-of-record for pipeline state.
type Ledger interface {
	// Create records a new session in PENDING holding its raw artifact
	// reference. Creating an existing session returns types.ErrConflict.
	Create(ctx context.Context, sessionID uuid.UUID, rawRef string) (*types.Session, error)

	// Get returns a session or types.ErrNotFound.
	Get(ctx context.Context, sessionID uuid.UUID) (*types.Session, error)

	// List returns the most recently updated sessions, newest first.
	List(ctx context.Context, limit int) ([]types.Session, error)

	// CompareAndSetStatus applies upd only if the session currently holds
	// exactly (expectedStatus, expectedAttempt). A mismatch returns
	// types.ErrConflict and changes nothing. Artifact references are
	// add-only; a compare-and-set never removes or overwrites one.
	CompareAndSetStatus(ctx context.Context, sessionID uuid.UUID, expectedStatus types.Status, expectedAttempt int, upd Update) error
}
