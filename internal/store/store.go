// Package store defines the persistence boundary for conversation sessions.
// Two implementations exist: a process-local map for throwaway deployments
// and a SQLite file for anything that should survive a restart.
package store

import (
	"context"
	"errors"

	"github.com/nimblechat/backend/internal/model/chat"
)

// ErrSessionNotFound reports an operation against a session ID that was
// never created.
var ErrSessionNotFound = errors.New("session not found")

// Store persists sessions and their transcripts. Implementations must be
// safe for concurrent use.
type Store interface {
	// CreateSession registers a session ID. Creating an ID that already
	// exists is a no-op, so callers can ensure presence without racing.
	CreateSession(ctx context.Context, sessionID string) error

	// SessionExists reports whether the session ID is known.
	SessionExists(ctx context.Context, sessionID string) (bool, error)

	// AppendMessage adds a turn to the end of the session transcript.
	AppendMessage(ctx context.Context, sessionID string, msg chat.Message) error

	// History returns the transcript in append order.
	History(ctx context.Context, sessionID string) ([]chat.Message, error)

	// ClearSession drops the transcript but keeps the session usable.
	ClearSession(ctx context.Context, sessionID string) error

	// Close releases underlying resources.
	Close() error
}
