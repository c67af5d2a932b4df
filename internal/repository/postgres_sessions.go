package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-checkin/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PostgresSessionStore SessionStore over checkin_sessions / checkin_contacts / checkin_events
type PostgresSessionStore struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewPostgresSessionStore creates the store
func NewPostgresSessionStore(db *sql.DB, logger *zap.Logger) *PostgresSessionStore {
	return &PostgresSessionStore{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

const sessionColumns = `
			session_id,
			phone,
			safe_word,
			escalation_word,
			scheduled_at,
			location,
			status,
			status_reason,
			attempts,
			next_attempt_at,
			created_at,
			updated_at`

// ============================================
// Sessions
// ============================================

// CreateSession inserts the session (always pending) and its contacts atomically
func (r *PostgresSessionStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	if len(session.Contacts) == 0 {
		return fmt.Errorf("at least one emergency contact is required")
	}

	now := r.now()
	session.ID = uuid.New().String()
	session.Status = models.StatusPending
	session.ScheduledAt = session.ScheduledAt.UTC()
	session.Attempts = 0
	session.NextAttemptAt = nil
	session.CreatedAt = now
	session.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkin_sessions (
			session_id, phone, safe_word, escalation_word, scheduled_at,
			location, status, attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		session.ID,
		session.Phone,
		session.SafeWord,
		session.EscalationWord,
		session.ScheduledAt,
		nullString(session.Location),
		string(session.Status),
		session.Attempts,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	for i := range session.Contacts {
		c := &session.Contacts[i]
		c.ID = uuid.New().String()
		c.SessionID = session.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO checkin_contacts (contact_id, session_id, phone, is_primary, display_order)
			VALUES ($1, $2, $3, $4, $5)
		`, c.ID, c.SessionID, c.Phone, c.IsPrimary, c.DisplayOrder)
		if err != nil {
			return fmt.Errorf("failed to insert contact: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}
	session.Contacts = models.SortContacts(session.Contacts)
	return nil
}

// GetSession session plus contacts; ErrSessionNotFound when missing
func (r *PostgresSessionStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	if !isSessionID(sessionID) {
		return nil, ErrSessionNotFound
	}

	row := r.db.QueryRowContext(ctx, `SELECT`+sessionColumns+`
		FROM checkin_sessions
		WHERE session_id = $1
	`, sessionID)

	session, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT contact_id, session_id, phone, is_primary, display_order
		FROM checkin_contacts
		WHERE session_id = $1
		ORDER BY display_order, contact_id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c models.EmergencyContact
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Phone, &c.IsPrimary, &c.DisplayOrder); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		session.Contacts = append(session.Contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contacts: %w", err)
	}

	return session, nil
}

// UpdateStatus compare-and-set; illegal edges are rejected before touching the row
func (r *PostgresSessionStore) UpdateStatus(ctx context.Context, sessionID string, from, to models.SessionStatus, reason *string) error {
	if !models.CanTransition(from, to) {
		return fmt.Errorf("%w: illegal transition %s -> %s", ErrStatusConflict, from, to)
	}
	if !isSessionID(sessionID) {
		return ErrSessionNotFound
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE checkin_sessions
		SET status = $1,
		    status_reason = COALESCE($2, status_reason),
		    updated_at = $3
		WHERE session_id = $4
		  AND status = $5
	`, string(to), nullString(reason), r.now(), sessionID, string(from))
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// distinguish missing row from lost race
	var current string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM checkin_sessions WHERE session_id = $1`, sessionID).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read session status: %w", err)
	}
	return fmt.Errorf("%w: expected %s, found %s", ErrStatusConflict, from, current)
}

// UpdateLocation stores the latest free-text location
func (r *PostgresSessionStore) UpdateLocation(ctx context.Context, sessionID, location string) error {
	if !isSessionID(sessionID) {
		return ErrSessionNotFound
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE checkin_sessions
		SET location = $1, updated_at = $2
		WHERE session_id = $3
	`, location, r.now(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update location: %w", err)
	}
	return requireOneRow(res)
}

// RecordAttempt stores the attempt counter and the earliest next initiation time
func (r *PostgresSessionStore) RecordAttempt(ctx context.Context, sessionID string, attempts int, nextAttemptAt *time.Time) error {
	if !isSessionID(sessionID) {
		return ErrSessionNotFound
	}
	var next sql.NullTime
	if nextAttemptAt != nil {
		next = sql.NullTime{Time: nextAttemptAt.UTC(), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE checkin_sessions
		SET attempts = $1, next_attempt_at = $2
		WHERE session_id = $3
	`, attempts, next, sessionID)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return requireOneRow(res)
}

// ListPending pending sessions, oldest schedule first
func (r *PostgresSessionStore) ListPending(ctx context.Context) ([]*models.Session, error) {
	return r.listSessions(ctx, `SELECT`+sessionColumns+`
		FROM checkin_sessions
		WHERE status = 'pending'
		ORDER BY scheduled_at
	`)
}

// ListActiveBefore active sessions not touched since before
func (r *PostgresSessionStore) ListActiveBefore(ctx context.Context, before time.Time) ([]*models.Session, error) {
	return r.listSessions(ctx, `SELECT`+sessionColumns+`
		FROM checkin_sessions
		WHERE status = 'active'
		  AND updated_at < $1
		ORDER BY updated_at
	`, before.UTC())
}

func (r *PostgresSessionStore) listSessions(ctx context.Context, query string, args ...any) ([]*models.Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

// ============================================
// Events
// ============================================

// AppendEvent inserts one audit row
func (r *PostgresSessionStore) AppendEvent(ctx context.Context, sessionID *string, eventType string, payload any) (*models.Event, error) {
	if eventType == "" {
		return nil, fmt.Errorf("event_type is required")
	}

	data, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	event := &models.Event{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		EventType: eventType,
		Payload:   data,
		CreatedAt: r.now(),
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO checkin_events (event_id, session_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, event.ID, nullString(sessionID), event.EventType, []byte(event.Payload), event.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}
	return event, nil
}

// ListEvents events of one session in insertion order
func (r *PostgresSessionStore) ListEvents(ctx context.Context, sessionID string) ([]*models.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_id, session_id, event_type, payload, created_at
		FROM checkin_events
		WHERE session_id = $1
		ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var e models.Event
		var sid sql.NullString
		var payload []byte
		if err := rows.Scan(&e.ID, &sid, &e.EventType, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if sid.Valid {
			e.SessionID = &sid.String
		}
		if len(payload) > 0 {
			e.Payload = payload
		} else {
			e.Payload = json.RawMessage("{}")
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

// ============================================
// Diagnostics
// ============================================

// Stats queue depth and oldest pending item
func (r *PostgresSessionStore) Stats(ctx context.Context, now time.Time) (*StoreStats, error) {
	var stats StoreStats
	var oldest sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'pending' AND scheduled_at <= $1),
			MIN(scheduled_at) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'escalated')
		FROM checkin_sessions
	`, now.UTC()).Scan(&stats.Pending, &stats.DuePending, &oldest, &stats.Active, &stats.Escalated)
	if err != nil {
		return nil, fmt.Errorf("failed to read session stats: %w", err)
	}
	if oldest.Valid {
		t := oldest.Time.UTC()
		stats.OldestPending = &t
	}
	return &stats, nil
}

// Ping database reachability
func (r *PostgresSessionStore) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// ============================================
// helpers
// ============================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	var status string
	var location, reason sql.NullString
	var next sql.NullTime

	err := row.Scan(
		&s.ID,
		&s.Phone,
		&s.SafeWord,
		&s.EscalationWord,
		&s.ScheduledAt,
		&location,
		&status,
		&reason,
		&s.Attempts,
		&next,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Status = models.SessionStatus(status)
	s.ScheduledAt = s.ScheduledAt.UTC()
	if location.Valid {
		s.Location = &location.String
	}
	if reason.Valid {
		s.StatusReason = &reason.String
	}
	if next.Valid {
		t := next.Time.UTC()
		s.NextAttemptAt = &t
	}
	return &s, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func requireOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage("{}"), nil
		}
		return p, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return data, nil
}

// isSessionID session_id is a UUID column; any other text cannot match a row
func isSessionID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
