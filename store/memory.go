package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/xyl2024/Mini-Agent-Web/unifiedllm"
)

// MemoryStore keeps histories in process memory. It is used when no
// database is configured and in tests.
type MemoryStore struct {
	sessions map[string]*Session
	history  map[string][]unifiedllm.Message
	now      func() time.Time
	mu       sync.RWMutex
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		history:  make(map[string][]unifiedllm.Message),
		now:      time.Now,
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, id, workspaceDir string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[id]; ok {
		copied := *existing
		return &copied, nil
	}
	now := s.now()
	sess := &Session{ID: id, WorkspaceDir: workspaceDir, CreatedAt: now, UpdatedAt: now}
	s.sessions[id] = sess
	copied := *sess
	return &copied, nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := *sess
	return &copied, nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := lo.MapToSlice(s.sessions, func(_ string, sess *Session) Session { return *sess })
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) SaveHistory(_ context.Context, id string, msgs []unifiedllm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.history[id] = withoutSystem(msgs)
	sess.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) LoadHistory(_ context.Context, id string) ([]unifiedllm.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[id]; !ok {
		return nil, ErrSessionNotFound
	}
	return append([]unifiedllm.Message(nil), s.history[id]...), nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	delete(s.history, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
