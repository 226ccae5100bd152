package cron

import (
	"errors"
	"sort"
	"sync"
)

// ErrTaskNotFound is returned when a task id does not exist in the store.
var ErrTaskNotFound = errors.New("cron task not found")

// TaskStore persists task definitions. Implementations must survive process
// restarts (except the in-memory store, which exists for tests and ephemeral
// setups) and be safe for concurrent use.
type TaskStore interface {
	Put(task Task) error
	Get(id string) (Task, error)
	Delete(id string) error
	List() ([]Task, error)
}

// InMemoryTaskStore is a volatile TaskStore backed by a map.
type InMemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

// NewInMemoryTaskStore constructs an empty in-memory task store.
func NewInMemoryTaskStore() *InMemoryTaskStore {
	return &InMemoryTaskStore{tasks: make(map[string]Task)}
}

// Put inserts or replaces a task.
func (s *InMemoryTaskStore) Put(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

// Get returns a task by id.
func (s *InMemoryTaskStore) Get(id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return task, nil
}

// Delete removes a task by id.
func (s *InMemoryTaskStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	delete(s.tasks, id)
	return nil
}

// List returns all tasks ordered by creation time then id for stable output.
func (s *InMemoryTaskStore) List() ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
