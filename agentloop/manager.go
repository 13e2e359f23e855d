package agentloop

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionBusy is returned when a run is already in progress.
	ErrSessionBusy = errors.New("session is busy")
)

// DefaultSessionTimeout is how long a session may stay idle before
// CleanupIdle removes it.
const DefaultSessionTimeout = time.Hour

// AgentFactory builds the agent for a new session.
type AgentFactory func(sessionID string) (*Agent, error)

// SessionInfo describes a managed session.
type SessionInfo struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	MessageCount int       `json:"message_count"`
	Busy         bool      `json:"busy"`
}

type managedSession struct {
	id        string
	agent     *Agent
	createdAt time.Time

	runMu sync.Mutex

	mu         sync.Mutex
	lastActive time.Time
	busy       bool
	// signal cancels the current run; nil when idle.
	signal *CancelSignal
}

func (s *managedSession) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

func (s *managedSession) cancelRun() {
	s.mu.Lock()
	signal := s.signal
	s.mu.Unlock()
	signal.Cancel()
}

func (s *managedSession) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:           s.id,
		CreatedAt:    s.createdAt,
		LastActiveAt: s.lastActive,
		MessageCount: len(s.agent.History()),
		Busy:         s.busy,
	}
}

// SessionManager keeps one Agent per session id. Runs within a session are
// exclusive; a second Chat on a busy session fails with ErrSessionBusy
// instead of queueing.
type SessionManager struct {
	factory  AgentFactory
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
	sessions map[string]*managedSession
	mu       sync.RWMutex
}

// NewSessionManager creates a manager. A non-positive timeout selects
// DefaultSessionTimeout.
func NewSessionManager(factory AgentFactory, timeout time.Duration) *SessionManager {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &SessionManager{
		factory:  factory,
		timeout:  timeout,
		logger:   slog.Default(),
		now:      time.Now,
		sessions: make(map[string]*managedSession),
	}
}

// SetLogger replaces the structured logger.
func (m *SessionManager) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Create starts a new session and returns its id.
func (m *SessionManager) Create() (string, error) {
	id := uuid.New().String()
	if _, err := m.create(id); err != nil {
		return "", err
	}
	return id, nil
}

// GetOrCreate returns the agent for id, creating the session if needed.
func (m *SessionManager) GetOrCreate(id string) (*Agent, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s.agent, nil
	}
	s, err := m.create(id)
	if err != nil {
		return nil, err
	}
	return s.agent, nil
}

func (m *SessionManager) create(id string) (*managedSession, error) {
	agent, err := m.factory(id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[id]; ok {
		agent.Close()
		return existing, nil
	}
	now := m.now()
	s := &managedSession{id: id, agent: agent, createdAt: now, lastActive: now}
	m.sessions[id] = s
	m.logger.Info("session created", "session_id", id)
	return s, nil
}

// Get returns the agent for id.
func (m *SessionManager) Get(id string) (*Agent, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.agent, nil
}

func (m *SessionManager) lookup(id string) (*managedSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Chat appends message to the session and runs the agent. It returns
// ErrSessionBusy without touching the history when a run is in progress.
func (m *SessionManager) Chat(ctx context.Context, id, message string) (RunResult, error) {
	s, err := m.lookup(id)
	if err != nil {
		return RunResult{}, err
	}
	if !s.runMu.TryLock() {
		return RunResult{}, ErrSessionBusy
	}
	defer s.runMu.Unlock()

	signal := NewCancelSignal()
	s.mu.Lock()
	s.busy = true
	s.signal = signal
	s.lastActive = m.now()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.busy = false
		s.signal = nil
		s.lastActive = m.now()
		s.mu.Unlock()
	}()

	s.agent.AddUserMessage(message)
	return s.agent.Run(ctx, signal), nil
}

// Cancel requests cancellation of the session's current run. It is a no-op
// when the session is idle.
func (m *SessionManager) Cancel(id string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.cancelRun()
	s.touch(m.now())
	return nil
}

// Remove cancels any run in progress and closes the session's agent.
func (m *SessionManager) Remove(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.cancelRun()
	s.agent.Close()
	m.logger.Info("session removed", "session_id", id)
	return nil
}

// Sessions lists all sessions ordered by creation time.
func (m *SessionManager) Sessions() []SessionInfo {
	m.mu.RLock()
	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.info())
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// CleanupIdle removes sessions idle for longer than the timeout and returns
// their ids. Busy sessions are never removed.
func (m *SessionManager) CleanupIdle() []string {
	cutoff := m.now().Add(-m.timeout)

	var expired []string
	m.mu.RLock()
	for id, s := range m.sessions {
		info := s.info()
		if !info.Busy && info.LastActiveAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	sort.Strings(expired)
	for _, id := range expired {
		_ = m.Remove(id)
	}
	if len(expired) > 0 {
		m.logger.Info("idle sessions cleaned up", "count", len(expired))
	}
	return expired
}

// StartJanitor runs CleanupIdle every interval until ctx is done.
func (m *SessionManager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.timeout / 4
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CleanupIdle()
			}
		}
	}()
}

// Close removes every session.
func (m *SessionManager) Close() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		_ = m.Remove(id)
	}
}
