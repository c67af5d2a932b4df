package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"wisefido-checkin/internal/analyzer"
	"wisefido-checkin/internal/models"
	"wisefido-checkin/internal/repository"
	"wisefido-checkin/internal/store"

	"go.uber.org/zap"
)

// Input limits, in characters
const (
	MaxPhoneLen  = 25
	MaxWordLen   = 100
	MaxReasonLen = 100
)

// ContactInput one emergency contact of an activation request
type ContactInput struct {
	Phone        string `json:"phone"`
	IsPrimary    bool   `json:"is_primary"`
	DisplayOrder *int   `json:"display_order,omitempty"`
}

// ActivateRequest schedules a check-in
type ActivateRequest struct {
	Phone          string         `json:"phone"`
	SafeWord       string         `json:"safe_word"`
	EscalationWord string         `json:"escalation_word"`
	ScheduledAt    time.Time      `json:"scheduled_at"`
	Location       *string        `json:"location,omitempty"`
	Contacts       []ContactInput `json:"contacts"`
}

// LocationReport result of SubmitLocation
type LocationReport struct {
	SessionID string               `json:"session_id"`
	Status    models.SessionStatus `json:"status"`
	Location  string               `json:"location"`
	BroadcastReport
}

// DependencyCheck named reachability check shown in diagnostics
type DependencyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Diagnostics operator view of the queue and collaborators
type Diagnostics struct {
	Now           time.Time         `json:"now"`
	Pending       int               `json:"pending"`
	DuePending    int               `json:"due_pending"`
	OldestPending *time.Time        `json:"oldest_pending,omitempty"`
	Active        int               `json:"active"`
	Escalated     int               `json:"escalated"`
	LastTick      *time.Time        `json:"last_scheduler_tick,omitempty"`
	LastRun       json.RawMessage   `json:"last_scheduler_run,omitempty"`
	Dependencies  map[string]string `json:"dependencies"`
	Settings      map[string]string `json:"settings,omitempty"`
}

// SessionService activation, queries and operator actions
type SessionService struct {
	store      repository.SessionStore
	controller *SessionController
	ladder     *EscalationLadder
	kv         store.KV
	checks     []DependencyCheck
	settings   map[string]string
	now        func() time.Time
	logger     *zap.Logger
}

func NewSessionService(
	st repository.SessionStore,
	controller *SessionController,
	ladder *EscalationLadder,
	kv store.KV,
	logger *zap.Logger,
) *SessionService {
	return &SessionService{
		store:      st,
		controller: controller,
		ladder:     ladder,
		kv:         kv,
		checks:     []DependencyCheck{{Name: "store", Check: st.Ping}},
		settings:   map[string]string{},
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}
}

// AddCheck registers a dependency check for Diagnostics; a check with the
// same name (including the built-in "store") is replaced
func (s *SessionService) AddCheck(name string, check func(ctx context.Context) error) {
	for i := range s.checks {
		if s.checks[i].Name == name {
			s.checks[i].Check = check
			return
		}
	}
	s.checks = append(s.checks, DependencyCheck{Name: name, Check: check})
}

// SetSetting static key/value shown in Diagnostics (provider kind, classifier policy, ...)
func (s *SessionService) SetSetting(key, value string) {
	s.settings[key] = value
}

// ============================================
// Activation and queries
// ============================================

// Activate validates the request and stores a pending session
func (s *SessionService) Activate(ctx context.Context, req ActivateRequest) (*models.Session, error) {
	if err := validateActivate(&req); err != nil {
		return nil, err
	}

	session := &models.Session{
		Phone:          strings.TrimSpace(req.Phone),
		SafeWord:       strings.TrimSpace(req.SafeWord),
		EscalationWord: strings.TrimSpace(req.EscalationWord),
		ScheduledAt:    req.ScheduledAt.UTC(),
	}
	if req.Location != nil {
		if loc := strings.TrimSpace(*req.Location); loc != "" {
			session.Location = &loc
		}
	}
	for i, c := range req.Contacts {
		order := i
		if c.DisplayOrder != nil {
			order = *c.DisplayOrder
		}
		session.Contacts = append(session.Contacts, models.EmergencyContact{
			Phone:        strings.TrimSpace(c.Phone),
			IsPrimary:    c.IsPrimary,
			DisplayOrder: order,
		})
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	primary, _ := models.PrimaryContact(session.Contacts)
	s.controller.Events().Append(ctx, session.ID, models.EventSessionCreated, map[string]any{
		"phone":           session.Phone,
		"scheduled_at":    session.ScheduledAt,
		"contacts":        len(session.Contacts),
		"primary_contact": primary.Phone,
	})

	s.logger.Info("Session activated",
		zap.String("session_id", session.ID),
		zap.Time("scheduled_at", session.ScheduledAt),
		zap.Int("contacts", len(session.Contacts)),
	)
	return session, nil
}

func validateActivate(req *ActivateRequest) error {
	if strings.TrimSpace(req.Phone) == "" {
		return invalid("phone", "is required")
	}
	if err := maxLen("phone", req.Phone, MaxPhoneLen); err != nil {
		return err
	}
	if err := maxLen("safe_word", req.SafeWord, MaxWordLen); err != nil {
		return err
	}
	if err := maxLen("escalation_word", req.EscalationWord, MaxWordLen); err != nil {
		return err
	}
	safe := analyzer.Normalize(req.SafeWord)
	escalation := analyzer.Normalize(req.EscalationWord)
	if safe == "" {
		return invalid("safe_word", "is required")
	}
	if escalation == "" {
		return invalid("escalation_word", "is required")
	}
	if safe == escalation {
		return invalid("escalation_word", "must differ from safe_word")
	}
	if req.ScheduledAt.IsZero() {
		return invalid("scheduled_at", "is required")
	}
	if len(req.Contacts) == 0 {
		return invalid("contacts", "at least one emergency contact is required")
	}
	for i, c := range req.Contacts {
		field := fmt.Sprintf("contacts[%d].phone", i)
		if strings.TrimSpace(c.Phone) == "" {
			return invalid(field, "is required")
		}
		if err := maxLen(field, c.Phone, MaxPhoneLen); err != nil {
			return err
		}
	}
	return nil
}

// maxLen bounds the trimmed value in characters, matching the VARCHAR columns
func maxLen(field, value string, limit int) error {
	if utf8.RuneCountInString(strings.TrimSpace(value)) > limit {
		return invalid(field, "must be at most %d characters", limit)
	}
	return nil
}

// Get session with contacts
func (s *SessionService) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// Events audit log of one session, oldest first
func (s *SessionService) Events(ctx context.Context, sessionID string) ([]*models.Event, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, sessionID)
}

// ============================================
// Late location
// ============================================

// SubmitLocation stores the location and re-broadcasts it to every contact.
// Status is never changed; every call broadcasts again.
func (s *SessionService) SubmitLocation(ctx context.Context, sessionID, location string) (*LocationReport, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, invalid("location", "is required")
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateLocation(ctx, session.ID, location); err != nil {
		return nil, fmt.Errorf("failed to update location: %w", err)
	}
	session.Location = &location

	s.controller.Events().Append(ctx, session.ID, models.EventLocationSubmitted, map[string]any{
		"location": location,
		"status":   session.Status,
	})

	report := s.ladder.BroadcastLocation(context.WithoutCancel(ctx), session, location)

	s.logger.Info("Location submitted",
		zap.String("session_id", session.ID),
		zap.String("status", string(session.Status)),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
	)
	return &LocationReport{
		SessionID:       session.ID,
		Status:          session.Status,
		Location:        location,
		BroadcastReport: report,
	}, nil
}

// ============================================
// Operator actions
// ============================================

// Cancel administrative override from pending or active
func (s *SessionService) Cancel(ctx context.Context, sessionID, reason string) (*models.Session, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = ReasonAdminCancel
	}
	if err := maxLen("reason", reason, MaxReasonLen); err != nil {
		return nil, err
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: session is %s", repository.ErrStatusConflict, session.Status)
	}

	err = s.controller.Transition(ctx, session, models.StatusCancelled, Trigger{
		EventType: models.EventCancelRequested,
		Payload:   map[string]any{"reason": reason},
		Reason:    reason,
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ForceCompleteOverdue completes every pending session scheduled at or before now without
// calling anyone. Sessions picked up concurrently by the scheduler are skipped.
func (s *SessionService) ForceCompleteOverdue(ctx context.Context, now time.Time) (int, error) {
	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending sessions: %w", err)
	}

	completed := 0
	for _, session := range pending {
		if session.ScheduledAt.After(now.UTC()) {
			continue
		}
		err := s.controller.Transition(ctx, session, models.StatusCompleted, Trigger{
			EventType: models.EventForceCompleted,
			Payload: map[string]any{
				"scheduled_at": session.ScheduledAt,
				"cutoff":       now.UTC(),
			},
			Reason: ReasonForceCompleted,
		})
		if errors.Is(err, repository.ErrStatusConflict) || errors.Is(err, repository.ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return completed, err
		}
		completed++
	}

	s.logger.Info("Force-completed overdue sessions",
		zap.Time("cutoff", now.UTC()),
		zap.Int("completed", completed),
	)
	return completed, nil
}

// Diagnostics queue depth, scheduler heartbeat and dependency reachability
func (s *SessionService) Diagnostics(ctx context.Context) (*Diagnostics, error) {
	now := s.now()
	stats, err := s.store.Stats(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to read session stats: %w", err)
	}

	d := &Diagnostics{
		Now:           now,
		Pending:       stats.Pending,
		DuePending:    stats.DuePending,
		OldestPending: stats.OldestPending,
		Active:        stats.Active,
		Escalated:     stats.Escalated,
		Dependencies:  map[string]string{},
		Settings:      s.settings,
	}

	for _, c := range s.checks {
		d.Dependencies[c.Name] = status(c.Check(ctx))
	}

	if s.kv != nil {
		hb := store.ReadHeartbeat(ctx, s.kv)
		d.LastTick = hb.LastTick
		d.LastRun = hb.LastRun
	}
	return d, nil
}

func status(err error) string {
	if err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}
