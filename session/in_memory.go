package session

import (
	"sync"

	"github.com/hupe1980/concierge/core"
)

// InMemoryStore keeps sessions in process memory. Histories and memory maps
// are lost on restart.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

var _ core.SessionStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*core.Session),
	}
}

// Load returns a snapshot of the session, creating it on first access.
func (s *InMemoryStore) Load(sessionKey string) (*core.Session, error) {
	return s.session(sessionKey).Clone(), nil
}

// Append adds a message to the session's history.
func (s *InMemoryStore) Append(sessionKey string, msg core.Message) error {
	s.session(sessionKey).Append(msg)
	return nil
}

// GetMemory looks up a memory value for the session.
func (s *InMemoryStore) GetMemory(sessionKey, key string) (string, bool, error) {
	v, ok := s.session(sessionKey).MemoryGet(key)
	return v, ok, nil
}

// SetMemory stores a memory value for the session.
func (s *InMemoryStore) SetMemory(sessionKey, key, value string) error {
	s.session(sessionKey).MemorySet(key, value)
	return nil
}

func (s *InMemoryStore) session(sessionKey string) *core.Session {
	s.mu.RLock()
	sess, ok := s.sessions[sessionKey]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok = s.sessions[sessionKey]; ok {
		return sess
	}
	sess = core.NewSession(sessionKey)
	s.sessions[sessionKey] = sess
	return sess
}
