package core

import (
	"sync"
	"time"
)

// Session is the persistent conversational context for one channel:chat
// identity. It tracks the ordered message history plus a string key/value
// memory map that survives across turns until explicitly cleared. It is safe
// for concurrent access, although the gateway guarantees at most one
// in-flight turn per session.
type Session struct {
	Key          string            `json:"key"`
	History      []Message         `json:"history"`
	Memory       map[string]string `json:"memory"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActiveAt time.Time         `json:"last_active_at"`
	mu           sync.RWMutex
}

// NewSession creates an empty session for the given key.
func NewSession(key string) *Session {
	now := time.Now().UTC()
	return &Session{
		Key:          key,
		History:      []Message{},
		Memory:       map[string]string{},
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// Append adds a message to the history and bumps LastActiveAt.
func (s *Session) Append(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = append(s.History, msg)
	s.LastActiveAt = time.Now().UTC()
}

// Messages returns a defensive copy of the full ordered history.
func (s *Session) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.History))
	copy(out, s.History)
	return out
}

// Window returns a copy of the most recent n history messages. n <= 0 means
// the full history.
func (s *Session) Window(n int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if n > 0 && len(s.History) > n {
		start = len(s.History) - n
	}
	out := make([]Message, len(s.History)-start)
	copy(out, s.History[start:])
	return out
}

// MemoryGet looks up a memory value.
func (s *Session) MemoryGet(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.Memory[key]
	return v, ok
}

// MemorySet stores a memory value and bumps LastActiveAt.
func (s *Session) MemorySet(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Memory[key] = value
	s.LastActiveAt = time.Now().UTC()
}

// MemorySnapshot returns a copy of the memory map.
func (s *Session) MemorySnapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.Memory))
	for k, v := range s.Memory {
		out[k] = v
	}
	return out
}

// Clone returns a deep copy safe for independent mutation.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{
		Key:          s.Key,
		History:      make([]Message, len(s.History)),
		Memory:       make(map[string]string, len(s.Memory)),
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.LastActiveAt,
	}
	copy(clone.History, s.History)
	for k, v := range s.Memory {
		clone.Memory[k] = v
	}
	return clone
}

// SessionStore persists sessions, their message history and memory. The
// reasoning loop only ever appends for a given key, and the gateway
// guarantees no two turns for the same key run concurrently, so
// implementations need internal safety only across different keys.
//
// Load creates the session lazily on first access and returns a snapshot the
// caller may read without further coordination.
type SessionStore interface {
	Load(sessionKey string) (*Session, error)
	Append(sessionKey string, msg Message) error
	GetMemory(sessionKey, key string) (string, bool, error)
	SetMemory(sessionKey, key, value string) error
}
