// Package store persists agent conversations so sessions survive a server
// restart.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/xyl2024/Mini-Agent-Web/unifiedllm"
)

// ErrSessionNotFound is returned when a session has no stored record.
var ErrSessionNotFound = errors.New("session not found")

// Session is the stored metadata of one conversation.
type Session struct {
	ID           string    `json:"id"`
	WorkspaceDir string    `json:"workspace_dir"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HistoryStore saves and restores conversation histories. Histories are
// stored without the system message; it is rebuilt from configuration.
type HistoryStore interface {
	CreateSession(ctx context.Context, id, workspaceDir string) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	SaveHistory(ctx context.Context, id string, msgs []unifiedllm.Message) error
	LoadHistory(ctx context.Context, id string) ([]unifiedllm.Message, error)
	DeleteSession(ctx context.Context, id string) error
	Close() error
}

// withoutSystem drops system messages from msgs.
func withoutSystem(msgs []unifiedllm.Message) []unifiedllm.Message {
	out := make([]unifiedllm.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != unifiedllm.RoleSystem {
			out = append(out, m)
		}
	}
	return out
}
