package repository

import (
	"context"
	"time"

	"go-bg-remover/internal/workflow"
)

// SessionRepository defines the interface for browser session storage
type SessionRepository interface {
	// Save stores a new session
	Save(ctx context.Context, session *Session) error

	// Get retrieves a session by ID
	Get(ctx context.Context, id string) (*Session, error)

	// Touch records activity on a session
	Touch(ctx context.Context, id string, at time.Time) error

	// Delete removes a session
	Delete(ctx context.Context, id string) error

	// DeleteIdle removes every session last seen before cutoff and reports how many
	DeleteIdle(ctx context.Context, cutoff time.Time) (int, error)

	// Count returns the number of stored sessions
	Count(ctx context.Context) int
}

// Session binds one browser view to its upload workflow
type Session struct {
	ID         string
	UserID     string
	Controller *workflow.Controller
	CreatedAt  time.Time
	LastSeen   time.Time
}
