package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/xyl2024/Mini-Agent-Web/unifiedllm"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            VARCHAR(64) PRIMARY KEY,
	workspace_dir VARCHAR(512) NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS messages (
	id                 SERIAL PRIMARY KEY,
	session_id         VARCHAR(64) NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	position           INTEGER NOT NULL,
	role               VARCHAR(16) NOT NULL,
	content            TEXT NOT NULL,
	thinking           TEXT,
	thinking_signature TEXT,
	tool_calls         JSONB,
	tool_call_id       VARCHAR(64),
	name               VARCHAR(64),
	is_error           BOOLEAN NOT NULL DEFAULT FALSE,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_messages_session_position ON messages (session_id, position);
`

// PostgresStore keeps histories in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens and pings the database at databaseURL.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, id, workspaceDir string) (*Session, error) {
	query := `
		INSERT INTO sessions (id, workspace_dir)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING id, workspace_dir, created_at, updated_at`

	sess := &Session{}
	err := s.db.QueryRowContext(ctx, query, id, workspaceDir).
		Scan(&sess.ID, &sess.WorkspaceDir, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `
		SELECT id, workspace_dir, created_at, updated_at
		FROM sessions
		WHERE id = $1`

	sess := &Session{}
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&sess.ID, &sess.WorkspaceDir, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context) ([]Session, error) {
	query := `
		SELECT id, workspace_dir, created_at, updated_at
		FROM sessions
		ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.WorkspaceDir, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SaveHistory replaces the stored history of id in one transaction.
func (s *PostgresStore) SaveHistory(ctx context.Context, id string, msgs []unifiedllm.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}

	insert := `
		INSERT INTO messages
			(session_id, position, role, content, thinking, thinking_signature, tool_calls, tool_call_id, name, is_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	for i, msg := range withoutSystem(msgs) {
		row, err := toRow(msg)
		if err != nil {
			return err
		}
		var toolCalls interface{}
		if len(row.ToolCalls) > 0 {
			toolCalls = string(row.ToolCalls)
		}
		if _, err := tx.ExecContext(ctx, insert,
			id, i, row.Role, row.Content, row.Thinking, row.ThinkingSignature,
			toolCalls, row.ToolCallID, row.Name, row.IsError,
		); err != nil {
			return fmt.Errorf("failed to insert message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadHistory(ctx context.Context, id string) ([]unifiedllm.Message, error) {
	if _, err := s.GetSession(ctx, id); err != nil {
		return nil, err
	}

	query := `
		SELECT role, content, thinking, thinking_signature, tool_calls, tool_call_id, name, is_error
		FROM messages
		WHERE session_id = $1
		ORDER BY position`

	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var msgs []unifiedllm.Message
	for rows.Next() {
		var row messageRow
		if err := rows.Scan(&row.Role, &row.Content, &row.Thinking, &row.ThinkingSignature,
			&row.ToolCalls, &row.ToolCallID, &row.Name, &row.IsError); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
