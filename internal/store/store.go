// Package store provides the session repository for the investigation
// engine. Handlers and the orchestrator depend on the SessionRepository
// interface, making it easy to swap the in-memory default for a
// persistent key-value store when scaling horizontally.
package store

import (
	"context"

	"github.com/opsleuth/opsleuth/pkg/models"
)

// SessionRepository is the storage contract for investigation sessions.
// Implementations must guarantee atomic per-session create/update and
// keyed isolation — no cross-session mutation is ever permitted.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *models.InvestigationSession) error
	GetSession(ctx context.Context, id string) (*models.InvestigationSession, error)
	UpdateSession(ctx context.Context, session *models.InvestigationSession) error
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context, limit int) ([]models.InvestigationSession, error)

	// Close releases all resources held by the store.
	Close() error
}

// ErrNotFound is returned when a requested session does not exist.
type ErrNotFound struct {
	Key string
}

func (e *ErrNotFound) Error() string {
	return "session not found: " + e.Key
}

// ErrConflict is returned when creating a session whose ID already exists.
type ErrConflict struct {
	Key string
}

func (e *ErrConflict) Error() string {
	return "session already exists: " + e.Key
}
