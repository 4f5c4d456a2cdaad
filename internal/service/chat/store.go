package chat

import (
	"context"
	"sort"
	"sync"

	"github.com/zhouzirui/studydesk/internal/model/chat"
)

// Store persists sessions and their transcripts.
type Store interface {
	CreateSession(ctx context.Context, session chat.Session) error
	ListSessions(ctx context.Context) ([]chat.Session, error)
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	UpdateSession(ctx context.Context, session chat.Session) error
	DeleteSession(ctx context.Context, sessionID string) error
	AppendMessage(ctx context.Context, message chat.StoredMessage) error
	LoadTranscript(ctx context.Context, sessionID string) ([]chat.StoredMessage, error)
	// TruncateTranscript keeps only the first keep messages of the session.
	TruncateTranscript(ctx context.Context, sessionID string, keep int) error
	Close() error
}

// MemoryStore keeps everything in process memory. Suitable for development
// and tests; state is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]chat.StoredMessage
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.StoredMessage),
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, session chat.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.ID]; ok {
		return ErrSessionExists
	}
	m.sessions[session.ID] = session
	m.messages[session.ID] = make([]chat.StoredMessage, 0, 16)
	return nil
}

// ListSessions returns sessions ordered by most recent update first.
func (m *MemoryStore) ListSessions(_ context.Context) ([]chat.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]chat.Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		out = append(out, session)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, session chat.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.ID]; !ok {
		return ErrSessionNotFound
	}
	m.sessions[session.ID] = session
	return nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, sessionID)
	delete(m.messages, sessionID)
	return nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, message chat.StoredMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[message.SessionID]; !ok {
		return ErrSessionNotFound
	}
	m.messages[message.SessionID] = append(m.messages[message.SessionID], message)
	return nil
}

func (m *MemoryStore) LoadTranscript(_ context.Context, sessionID string) ([]chat.StoredMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	messages, ok := m.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.StoredMessage, len(messages))
	copy(copied, messages)
	return copied, nil
}

func (m *MemoryStore) TruncateTranscript(_ context.Context, sessionID string, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	messages, ok := m.messages[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if keep < 0 {
		keep = 0
	}
	if keep < len(messages) {
		m.messages[sessionID] = messages[:keep:keep]
	}
	return nil
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error { return nil }
