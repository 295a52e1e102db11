package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkramer/session-insights/internal/types"
)

// PostgresLedger stores sessions in PostgreSQL. The compare-and-set is a
// conditional UPDATE guarded on (status, stage_attempt); RowsAffected
// distinguishes a conflict from a successful advance.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
    id            UUID PRIMARY KEY,
    status        TEXT NOT NULL,
    stage_attempt INT NOT NULL DEFAULT 0,
    error_kind    TEXT,
    error_message TEXT,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS session_artifacts (
    session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    kind       TEXT NOT NULL,
    ref        TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (session_id, kind)
)`

// Connect establishes a connection pool and ensures the schema exists.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// NewPostgresLedger wraps an existing pool and ensures the session tables
// exist.
func NewPostgresLedger(ctx context.Context, pool *pgxpool.Pool) (*PostgresLedger, error) {
	if _, err := pool.Exec(ctx, sessionSchema); err != nil {
		return nil, fmt.Errorf("failed to ensure session schema: %w", err)
	}
	return &PostgresLedger{pool: pool}, nil
}

// Create implements Ledger.
func (l *PostgresLedger) Create(ctx context.Context, sessionID uuid.UUID, rawRef string) (*types.Session, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin create: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO sessions (id, status) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		sessionID, string(types.StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("session %s already exists: %w", sessionID, types.ErrConflict)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO session_artifacts (session_id, kind, ref) VALUES ($1, $2, $3)`,
		sessionID, string(types.KindRaw), rawRef,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record raw artifact ref: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit create: %w", err)
	}
	return l.Get(ctx, sessionID)
}

// Get implements Ledger.
func (l *PostgresLedger) Get(ctx context.Context, sessionID uuid.UUID) (*types.Session, error) {
	sess, err := scanSession(l.pool.QueryRow(ctx,
		`SELECT id, status, stage_attempt, error_kind, error_message, created_at, updated_at
		 FROM sessions WHERE id = $1`, sessionID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("session %s: %w", sessionID, types.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	rows, err := l.pool.Query(ctx,
		`SELECT kind, ref FROM session_artifacts WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifact refs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, ref string
		if err := rows.Scan(&kind, &ref); err != nil {
			return nil, fmt.Errorf("failed to scan artifact ref: %w", err)
		}
		sess.ArtifactRefs[types.ArtifactKind(kind)] = ref
	}
	return sess, nil
}

// List implements Ledger.
func (l *PostgresLedger) List(ctx context.Context, limit int) ([]types.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, status, stage_attempt, error_kind, error_message, created_at, updated_at
		 FROM sessions ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, nil
}

// CompareAndSetStatus implements Ledger.
func (l *PostgresLedger) CompareAndSetStatus(ctx context.Context, sessionID uuid.UUID, expectedStatus types.Status, expectedAttempt int, upd Update) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin compare-and-set: %w", err)
	}
	defer tx.Rollback(ctx)

	var errKind, errMsg *string
	if upd.LastError != nil {
		k := string(upd.LastError.Kind)
		m := upd.LastError.Message
		errKind, errMsg = &k, &m
	}

	tag, err := tx.Exec(ctx,
		`UPDATE sessions
		 SET status = $1, stage_attempt = $2, error_kind = $3, error_message = $4,
		     updated_at = GREATEST(updated_at, NOW())
		 WHERE id = $5 AND status = $6 AND stage_attempt = $7`,
		string(upd.Status), upd.Attempt, errKind, errMsg,
		sessionID, string(expectedStatus), expectedAttempt,
	)
	if err != nil {
		return fmt.Errorf("failed to compare-and-set session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, sessionID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check session existence: %w", err)
		}
		if !exists {
			return fmt.Errorf("session %s: %w", sessionID, types.ErrNotFound)
		}
		return fmt.Errorf("session %s not at (%s, %d): %w",
			sessionID, expectedStatus, expectedAttempt, types.ErrConflict)
	}

	if upd.ArtifactKind != "" {
		// add-only: an existing ref for the kind wins
		_, err = tx.Exec(ctx,
			`INSERT INTO session_artifacts (session_id, kind, ref)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (session_id, kind) DO NOTHING`,
			sessionID, string(upd.ArtifactKind), upd.ArtifactRef,
		)
		if err != nil {
			return fmt.Errorf("failed to record artifact ref: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit compare-and-set: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var sess types.Session
	var errKind, errMsg *string

	err := row.Scan(&sess.ID, &sess.Status, &sess.StageAttempt,
		&errKind, &errMsg, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sess.ArtifactRefs = make(map[types.ArtifactKind]string)
	if errKind != nil {
		sess.LastError = &types.StageError{Kind: types.FailureKind(*errKind)}
		if errMsg != nil {
			sess.LastError.Message = *errMsg
		}
	}
	return &sess, nil
}
