package repository

import (
	"context"
	"errors"
	"time"

	"wisefido-checkin/internal/models"
)

var (
	// ErrSessionNotFound no session with that id
	ErrSessionNotFound = errors.New("session not found")
	// ErrStatusConflict current status is not the expected one, or the edge is illegal
	ErrStatusConflict = errors.New("session status conflict")
)

// SessionStore durable sessions, contacts and the append-only event log.
// Every call is atomic on its own; callers await completion before moving on.
type SessionStore interface {
	// CreateSession assigns ids, forces status pending and inserts contacts in the same transaction
	CreateSession(ctx context.Context, session *models.Session) error
	// GetSession returns the session with contacts ordered by display_order
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	// UpdateStatus compare-and-set from→to; reason nil keeps the stored reason
	UpdateStatus(ctx context.Context, sessionID string, from, to models.SessionStatus, reason *string) error
	UpdateLocation(ctx context.Context, sessionID, location string) error
	// RecordAttempt stores initiation retry bookkeeping
	RecordAttempt(ctx context.Context, sessionID string, attempts int, nextAttemptAt *time.Time) error

	// AppendEvent payload is JSON-encoded; nil sessionID marks an orphan/global event
	AppendEvent(ctx context.Context, sessionID *string, eventType string, payload any) (*models.Event, error)
	ListEvents(ctx context.Context, sessionID string) ([]*models.Event, error)

	// ListPending all pending sessions ordered by scheduled_at, without contacts
	ListPending(ctx context.Context) ([]*models.Session, error)
	// ListActiveBefore active sessions last updated before the given instant, without contacts
	ListActiveBefore(ctx context.Context, before time.Time) ([]*models.Session, error)

	Stats(ctx context.Context, now time.Time) (*StoreStats, error)
	Ping(ctx context.Context) error
}

// StoreStats queue-depth snapshot for diagnostics
type StoreStats struct {
	Pending       int        `json:"pending"`
	DuePending    int        `json:"due_pending"`
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
	Active        int        `json:"active"`
	Escalated     int        `json:"escalated"`
}

var (
	_ SessionStore = (*PostgresSessionStore)(nil)
	_ SessionStore = (*MemorySessionStore)(nil)
)
