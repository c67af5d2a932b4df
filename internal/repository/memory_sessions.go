package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wisefido-checkin/internal/models"

	"github.com/google/uuid"
)

// MemorySessionStore: used when the DB is not available (local runs, tests).
// Same semantics as the Postgres store; nothing survives a restart.
type MemorySessionStore struct {
	mu sync.RWMutex

	sessions map[string]*models.Session // sessionID -> session (contacts included)
	events   []*models.Event            // insertion order

	now func() time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: map[string]*models.Session{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source
func (r *MemorySessionStore) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *MemorySessionStore) CreateSession(_ context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	if len(session.Contacts) == 0 {
		return fmt.Errorf("at least one emergency contact is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	session.ID = uuid.NewString()
	session.Status = models.StatusPending
	session.ScheduledAt = session.ScheduledAt.UTC()
	session.Attempts = 0
	session.NextAttemptAt = nil
	session.CreatedAt = now
	session.UpdatedAt = now
	for i := range session.Contacts {
		session.Contacts[i].ID = uuid.NewString()
		session.Contacts[i].SessionID = session.ID
	}
	session.Contacts = models.SortContacts(session.Contacts)

	r.sessions[session.ID] = cloneSession(session)
	return nil
}

func (r *MemorySessionStore) GetSession(_ context.Context, sessionID string) (*models.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(s), nil
}

func (r *MemorySessionStore) UpdateStatus(_ context.Context, sessionID string, from, to models.SessionStatus, reason *string) error {
	if !models.CanTransition(from, to) {
		return fmt.Errorf("%w: illegal transition %s -> %s", ErrStatusConflict, from, to)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Status != from {
		return fmt.Errorf("%w: expected %s, found %s", ErrStatusConflict, from, s.Status)
	}
	s.Status = to
	if reason != nil {
		v := *reason
		s.StatusReason = &v
	}
	s.UpdatedAt = r.now()
	return nil
}

func (r *MemorySessionStore) UpdateLocation(_ context.Context, sessionID, location string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.Location = &location
	s.UpdatedAt = r.now()
	return nil
}

func (r *MemorySessionStore) RecordAttempt(_ context.Context, sessionID string, attempts int, nextAttemptAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.Attempts = attempts
	s.NextAttemptAt = nil
	if nextAttemptAt != nil {
		t := nextAttemptAt.UTC()
		s.NextAttemptAt = &t
	}
	return nil
}

func (r *MemorySessionStore) AppendEvent(_ context.Context, sessionID *string, eventType string, payload any) (*models.Event, error) {
	if eventType == "" {
		return nil, fmt.Errorf("event_type is required")
	}
	data, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var sid *string
	if sessionID != nil {
		v := *sessionID
		sid = &v
	}
	event := &models.Event{
		ID:        uuid.NewString(),
		SessionID: sid,
		EventType: eventType,
		Payload:   data,
		CreatedAt: r.now(),
	}
	r.events = append(r.events, event)

	out := *event
	return &out, nil
}

func (r *MemorySessionStore) ListEvents(_ context.Context, sessionID string) ([]*models.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Event
	for _, e := range r.events {
		if e.SessionID != nil && *e.SessionID == sessionID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// AllEvents every event including orphans, in insertion order
func (r *MemorySessionStore) AllEvents() []*models.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Event, 0, len(r.events))
	for _, e := range r.events {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

func (r *MemorySessionStore) ListPending(_ context.Context) ([]*models.Session, error) {
	return r.filter(func(s *models.Session) bool {
		return s.Status == models.StatusPending
	}, func(a, b *models.Session) bool {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}), nil
}

func (r *MemorySessionStore) ListActiveBefore(_ context.Context, before time.Time) ([]*models.Session, error) {
	return r.filter(func(s *models.Session) bool {
		return s.Status == models.StatusActive && s.UpdatedAt.Before(before)
	}, func(a, b *models.Session) bool {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}), nil
}

func (r *MemorySessionStore) filter(keep func(*models.Session) bool, less func(a, b *models.Session) bool) []*models.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Session
	for _, s := range r.sessions {
		if keep(s) {
			cp := cloneSession(s)
			cp.Contacts = nil
			out = append(out, cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func (r *MemorySessionStore) Stats(_ context.Context, now time.Time) (*StoreStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats StoreStats
	for _, s := range r.sessions {
		switch s.Status {
		case models.StatusPending:
			stats.Pending++
			if !s.ScheduledAt.After(now.UTC()) {
				stats.DuePending++
			}
			if stats.OldestPending == nil || s.ScheduledAt.Before(*stats.OldestPending) {
				t := s.ScheduledAt
				stats.OldestPending = &t
			}
		case models.StatusActive:
			stats.Active++
		case models.StatusEscalated:
			stats.Escalated++
		}
	}
	return &stats, nil
}

func (r *MemorySessionStore) Ping(_ context.Context) error { return nil }

func cloneSession(s *models.Session) *models.Session {
	cp := *s
	if s.Location != nil {
		v := *s.Location
		cp.Location = &v
	}
	if s.StatusReason != nil {
		v := *s.StatusReason
		cp.StatusReason = &v
	}
	if s.NextAttemptAt != nil {
		v := *s.NextAttemptAt
		cp.NextAttemptAt = &v
	}
	cp.Contacts = append([]models.EmergencyContact(nil), s.Contacts...)
	return &cp
}
