// Package chat manages conversation sessions on top of a store backend.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nimblechat/backend/internal/model/chat"
	"github.com/nimblechat/backend/internal/store"
)

// ErrSessionNotFound mirrors the store sentinel so handlers only need to
// import this package.
var ErrSessionNotFound = store.ErrSessionNotFound

// Service encapsulates conversation state management.
type Service struct {
	store store.Store
}

// NewService wires the session service to a store backend.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// NewSession provisions a session with a fresh identifier.
func (s *Service) NewSession(ctx context.Context) (string, error) {
	sessionID := uuid.NewString()
	if err := s.store.CreateSession(ctx, sessionID); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return sessionID, nil
}

// EnsureSession registers the session ID if it is not known yet. Chat and
// upload accept caller-supplied IDs, so sessions come into being on first
// use rather than only through NewSession.
func (s *Service) EnsureSession(ctx context.Context, sessionID string) error {
	return s.store.CreateSession(ctx, sessionID)
}

// Exists reports whether the session ID is known.
func (s *Service) Exists(ctx context.Context, sessionID string) (bool, error) {
	return s.store.SessionExists(ctx, sessionID)
}

// SaveMessage appends a turn to the session transcript, stamping it with
// the current time when the caller left the timestamp zero.
func (s *Service) SaveMessage(ctx context.Context, sessionID string, message chat.Message) (chat.Message, error) {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	if err := s.store.AppendMessage(ctx, sessionID, message); err != nil {
		return chat.Message{}, err
	}
	return message, nil
}

// History returns the session transcript in append order.
func (s *Service) History(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return s.store.History(ctx, sessionID)
}

// Info summarises a session without returning its transcript.
func (s *Service) Info(ctx context.Context, sessionID string) (chat.SessionInfo, error) {
	messages, err := s.store.History(ctx, sessionID)
	if err != nil {
		return chat.SessionInfo{}, err
	}
	return chat.Summarize(sessionID, messages), nil
}

// Clear drops the session transcript while keeping the session alive.
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	return s.store.ClearSession(ctx, sessionID)
}
