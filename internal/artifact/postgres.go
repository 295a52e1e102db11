package artifact

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkramer/session-insights/internal/types"
)

// PostgresStore persists artifacts in a PostgreSQL table keyed
// (session_id, kind) with a sha-256 digest guarding immutability.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const artifactSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
    session_id UUID NOT NULL,
    kind       TEXT NOT NULL,
    digest     TEXT NOT NULL,
    content    BYTEA NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (session_id, kind)
)`

// NewPostgresStore wraps an existing connection pool and ensures the
// artifacts table exists.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, artifactSchema); err != nil {
		return nil, fmt.Errorf("failed to ensure artifacts schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Put implements Store. The insert is conditional; losing the race to an
// earlier write degrades to a digest comparison.
func (s *PostgresStore) Put(ctx context.Context, sessionID uuid.UUID, kind types.ArtifactKind, data []byte) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("unknown artifact kind %q", kind)
	}
	dig := digest(data)

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO artifacts (session_id, kind, digest, content)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id, kind) DO NOTHING`,
		sessionID, string(kind), dig, data,
	)
	if err != nil {
		return "", fmt.Errorf("failed to put artifact %s/%s: %w", sessionID, kind, err)
	}
	if tag.RowsAffected() == 1 {
		return makeRef(sessionID, kind, dig), nil
	}

	var existing string
	err = s.pool.QueryRow(ctx,
		`SELECT digest FROM artifacts WHERE session_id = $1 AND kind = $2`,
		sessionID, string(kind),
	).Scan(&existing)
	if err != nil {
		return "", fmt.Errorf("failed to read artifact digest %s/%s: %w", sessionID, kind, err)
	}
	if existing == dig {
		return makeRef(sessionID, kind, dig), nil
	}
	return "", fmt.Errorf("artifact %s/%s already written with different content: %w", sessionID, kind, types.ErrConflict)
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, ref string) ([]byte, error) {
	sessionID, kind, err := parseRef(ref)
	if err != nil {
		return nil, err
	}

	var content []byte
	err = s.pool.QueryRow(ctx,
		`SELECT content FROM artifacts WHERE session_id = $1 AND kind = $2`,
		sessionID, string(kind),
	).Scan(&content)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("artifact %s: %w", ref, types.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get artifact %s: %w", ref, err)
	}
	return content, nil
}

// Ref implements Store.
func (s *PostgresStore) Ref(ctx context.Context, sessionID uuid.UUID, kind types.ArtifactKind) (string, error) {
	var dig string
	err := s.pool.QueryRow(ctx,
		`SELECT digest FROM artifacts WHERE session_id = $1 AND kind = $2`,
		sessionID, string(kind),
	).Scan(&dig)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", fmt.Errorf("artifact %s/%s: %w", sessionID, kind, types.ErrNotFound)
		}
		return "", fmt.Errorf("failed to resolve artifact ref %s/%s: %w", sessionID, kind, err)
	}
	return makeRef(sessionID, kind, dig), nil
}
