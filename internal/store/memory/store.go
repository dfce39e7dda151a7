// Package memory keeps sessions in process memory. Contents are lost on
// restart, which is fine for local development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/nimblechat/backend/internal/model/chat"
	"github.com/nimblechat/backend/internal/store"
)

// Store is the map-backed session store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string][]chat.Message
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{sessions: make(map[string][]chat.Message)}
}

// CreateSession registers the session ID if it is not already present.
func (s *Store) CreateSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		s.sessions[sessionID] = make([]chat.Message, 0, 16)
	}
	return nil
}

// SessionExists reports whether the session ID is known.
func (s *Store) SessionExists(_ context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[sessionID]
	return ok, nil
}

// AppendMessage adds a turn to the session transcript.
func (s *Store) AppendMessage(_ context.Context, sessionID string, msg chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return store.ErrSessionNotFound
	}
	s.sessions[sessionID] = append(s.sessions[sessionID], msg)
	return nil
}

// History returns a copy of the transcript in append order.
func (s *Store) History(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.sessions[sessionID]
	if !ok {
		return nil, store.ErrSessionNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// ClearSession drops the transcript while keeping the session registered.
func (s *Store) ClearSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return store.ErrSessionNotFound
	}
	s.sessions[sessionID] = s.sessions[sessionID][:0]
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }
