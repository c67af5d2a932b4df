package models

import (
	"encoding/json"
	"time"
)

// SessionStatus lifecycle of a check-in session
type SessionStatus string

const (
	StatusPending   SessionStatus = "pending"
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusEscalated SessionStatus = "escalated"
	StatusCancelled SessionStatus = "cancelled"
)

// IsTerminal completed, escalated and cancelled never change again
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusEscalated || s == StatusCancelled
}

// Valid reports whether s is a known status
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusCompleted, StatusEscalated, StatusCancelled:
		return true
	}
	return false
}

// legal edges; pending→completed exists only for the admin force-complete of overdue sessions
var transitions = map[SessionStatus][]SessionStatus{
	StatusPending: {StatusActive, StatusCancelled, StatusCompleted},
	StatusActive:  {StatusPending, StatusCompleted, StatusEscalated, StatusCancelled},
}

// CanTransition reports whether from→to is an edge of the session state machine
func CanTransition(from, to SessionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Session one scheduled safety check (checkin_sessions)
type Session struct {
	ID             string        `json:"id" db:"session_id"`
	Phone          string        `json:"phone" db:"phone"`
	SafeWord       string        `json:"safe_word" db:"safe_word"`
	EscalationWord string        `json:"escalation_word" db:"escalation_word"`
	ScheduledAt    time.Time     `json:"scheduled_at" db:"scheduled_at"`
	Location       *string       `json:"location,omitempty" db:"location"`
	Status         SessionStatus `json:"status" db:"status"`
	StatusReason   *string       `json:"status_reason,omitempty" db:"status_reason"`

	// initiation retry bookkeeping
	Attempts      int        `json:"attempts" db:"attempts"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty" db:"next_attempt_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	Contacts []EmergencyContact `json:"contacts"`
}

// IsDue scheduled time reached and no retry backoff pending
func (s *Session) IsDue(now time.Time) bool {
	if s.ScheduledAt.UTC().After(now.UTC()) {
		return false
	}
	if s.NextAttemptAt != nil && s.NextAttemptAt.UTC().After(now.UTC()) {
		return false
	}
	return true
}

// LocationText latest submitted location or ""
func (s *Session) LocationText() string {
	if s.Location == nil {
		return ""
	}
	return *s.Location
}

// EmergencyContact belongs to exactly one session; immutable after creation
type EmergencyContact struct {
	ID           string `json:"id" db:"contact_id"`
	SessionID    string `json:"session_id" db:"session_id"`
	Phone        string `json:"phone" db:"phone"`
	IsPrimary    bool   `json:"is_primary" db:"is_primary"`
	DisplayOrder int    `json:"display_order" db:"display_order"`
}

// Event append-only audit record (checkin_events)
type Event struct {
	ID        string          `json:"id" db:"event_id"`
	SessionID *string         `json:"session_id,omitempty" db:"session_id"`
	EventType string          `json:"event_type" db:"event_type"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// StatusChange payload of every post-transition event
type StatusChange struct {
	From    SessionStatus `json:"from"`
	To      SessionStatus `json:"to"`
	Trigger string        `json:"trigger,omitempty"`
	Reason  string        `json:"reason,omitempty"`
}
