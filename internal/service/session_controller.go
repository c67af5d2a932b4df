package service

import (
	"context"
	"errors"
	"fmt"

	"wisefido-checkin/internal/analyzer"
	"wisefido-checkin/internal/classifier"
	"wisefido-checkin/internal/metrics"
	"wisefido-checkin/internal/models"
	"wisefido-checkin/internal/provider"
	"wisefido-checkin/internal/repository"

	"go.uber.org/zap"
)

// DefaultDistressThreshold classifier probability at or above which a session escalates
const DefaultDistressThreshold = 0.7

// Status reasons stored on the session row
const (
	ReasonEscalationWord   = "escalation_word"
	ReasonSafeWord         = "safe_word"
	ReasonClassifier       = "classifier"
	ReasonClassifierFailed = "classifier_unavailable"
	ReasonNoTranscript     = "no_transcript"
	ReasonInitiationFailed = "initiation_failed"
	ReasonInteractionTO    = "interaction_timeout"
	ReasonRetryLimit       = "retry_limit_reached"
	ReasonForceCompleted   = "force_completed"
	ReasonAdminCancel      = "admin_cancel"
)

// Trigger the event written before a transition; Reason, when set, becomes status_reason
type Trigger struct {
	EventType string
	Payload   map[string]any
	Reason    string
}

// SessionController owns every status change and the reaction to provider callbacks
type SessionController struct {
	store      repository.SessionStore
	events     *EventRecorder
	classifier classifier.DistressClassifier
	ladder     *EscalationLadder
	metrics    *metrics.Collector
	threshold  float64
	logger     *zap.Logger
}

func NewSessionController(
	store repository.SessionStore,
	events *EventRecorder,
	cls classifier.DistressClassifier,
	ladder *EscalationLadder,
	mc *metrics.Collector,
	threshold float64,
	logger *zap.Logger,
) *SessionController {
	if cls == nil {
		cls = classifier.NopClassifier{}
	}
	if threshold <= 0 {
		threshold = DefaultDistressThreshold
	}
	return &SessionController{
		store:      store,
		events:     events,
		classifier: cls,
		ladder:     ladder,
		metrics:    mc,
		threshold:  threshold,
		logger:     logger,
	}
}

// Events the recorder shared with the scheduler
func (c *SessionController) Events() *EventRecorder { return c.events }

// ============================================
// Transitions
// ============================================

// Transition trigger event, compare-and-set from session.Status to `to`, outcome event.
// A failed trigger write aborts before the status changes. On success session.Status is updated.
func (c *SessionController) Transition(ctx context.Context, session *models.Session, to models.SessionStatus, t Trigger) error {
	from := session.Status
	sid := session.ID

	payload := t.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if _, err := c.events.Record(ctx, &sid, t.EventType, payload); err != nil {
		return fmt.Errorf("failed to record %s: %w", t.EventType, err)
	}

	var reason *string
	if t.Reason != "" {
		reason = &t.Reason
	}
	if err := c.store.UpdateStatus(ctx, sid, from, to, reason); err != nil {
		c.logger.Warn("Session transition rejected",
			zap.String("session_id", sid),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("trigger", t.EventType),
			zap.Error(err),
		)
		return err
	}

	session.Status = to
	if reason != nil {
		session.StatusReason = reason
	}
	c.metrics.Transition(string(from), string(to))

	c.events.Append(ctx, sid, outcomeEvent(to), models.StatusChange{
		From:    from,
		To:      to,
		Trigger: t.EventType,
		Reason:  t.Reason,
	})

	c.logger.Info("Session transitioned",
		zap.String("session_id", sid),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("trigger", t.EventType),
	)
	return nil
}

func outcomeEvent(to models.SessionStatus) string {
	switch to {
	case models.StatusActive:
		return models.EventSessionActivated
	case models.StatusPending:
		return models.EventSessionRequeued
	case models.StatusEscalated:
		return models.EventSessionEscalated
	case models.StatusCancelled:
		return models.EventSessionCancelled
	}
	return models.EventSessionCompleted
}

// ============================================
// Provider callbacks
// ============================================

// lookup resolves the callback's session; unknown or missing ids are logged as callback_ignored
func (c *SessionController) lookup(ctx context.Context, sessionID, callback string, detail map[string]any) (*models.Session, error) {
	ignore := func(reason string, sid *string) {
		payload := map[string]any{"callback": callback, "reason": reason, "session_id": sessionID}
		for k, v := range detail {
			payload[k] = v
		}
		_, _ = c.events.Record(ctx, sid, models.EventCallbackIgnored, payload)
		c.logger.Warn("Callback ignored",
			zap.String("callback", callback),
			zap.String("session_id", sessionID),
			zap.String("reason", reason),
		)
	}

	if sessionID == "" {
		ignore("missing session_id", nil)
		return nil, nil
	}

	session, err := c.store.GetSession(ctx, sessionID)
	if errors.Is(err, repository.ErrSessionNotFound) {
		ignore("unknown session", nil)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return session, nil
}

// HandleAnswered logs call_answered; reports whether the greeting should be played
func (c *SessionController) HandleAnswered(ctx context.Context, sessionID, callSID string) (bool, error) {
	session, err := c.lookup(ctx, sessionID, "answer", map[string]any{"call_sid": callSID})
	if err != nil || session == nil {
		return false, err
	}

	c.events.Append(ctx, session.ID, models.EventCallAnswered, map[string]any{
		"call_sid": callSID,
		"status":   session.Status,
	})
	return session.Status == models.StatusActive, nil
}

// HandleStatus call lifecycle telemetry; never changes status
func (c *SessionController) HandleStatus(ctx context.Context, cb provider.StatusCallback) error {
	session, err := c.lookup(ctx, cb.SessionID, "status", map[string]any{
		"call_sid":    cb.CallSID,
		"call_status": cb.CallStatus,
	})
	if err != nil || session == nil {
		return err
	}

	c.events.Append(ctx, session.ID, models.EventCallStatus, cb)
	return nil
}

// VoiceAlertTarget subject phone and latest location for the voice alert script
func (c *SessionController) VoiceAlertTarget(ctx context.Context, sessionID, subject string) (string, string, bool, error) {
	session, err := c.lookup(ctx, sessionID, "alert", map[string]any{"subject": subject})
	if err != nil || session == nil {
		return "", "", false, err
	}
	return session.Phone, session.LocationText(), true, nil
}

// HandleRecording applies the transcript to an active session: keyword analysis first,
// the distress classifier only when neither word is present. Callbacks for sessions
// that are no longer active are recorded and otherwise ignored.
func (c *SessionController) HandleRecording(ctx context.Context, cb provider.RecordingCallback) error {
	session, err := c.lookup(ctx, cb.SessionID, "recording", map[string]any{
		"call_sid":      cb.CallSID,
		"recording_sid": cb.RecordingSID,
	})
	if err != nil || session == nil {
		return err
	}

	// decision writes outlive the callback request
	persist := context.WithoutCancel(ctx)

	if session.Status != models.StatusActive {
		c.events.Append(persist, session.ID, models.EventCallbackIgnored, map[string]any{
			"callback":      "recording",
			"reason":        "session not active",
			"status":        session.Status,
			"recording_sid": cb.RecordingSID,
		})
		c.logger.Info("Recording for inactive session ignored",
			zap.String("session_id", session.ID),
			zap.String("status", string(session.Status)),
		)
		return nil
	}

	transcript := cb.Transcript()
	c.events.Append(persist, session.ID, models.EventRecordingReceived, map[string]any{
		"call_sid":             cb.CallSID,
		"recording_sid":        cb.RecordingSID,
		"recording_url":        cb.RecordingURL,
		"transcription_status": cb.TranscriptionStatus,
		"transcript":           transcript,
	})

	// 1. nothing to analyze
	if transcript == "" {
		c.logger.Warn("No transcript available, completing session",
			zap.String("session_id", session.ID),
			zap.String("transcription_status", cb.TranscriptionStatus),
		)
		return c.Transition(persist, session, models.StatusCompleted, Trigger{
			EventType: models.EventNoTranscriptAvailable,
			Payload: map[string]any{
				"recording_sid":        cb.RecordingSID,
				"transcription_status": cb.TranscriptionStatus,
			},
			Reason: ReasonNoTranscript,
		})
	}

	// 2. keywords
	switch analyzer.Analyze(transcript, session.SafeWord, session.EscalationWord) {
	case analyzer.Escalate:
		return c.escalate(persist, session, Trigger{
			EventType: models.EventKeywordMatch,
			Payload:   map[string]any{"outcome": analyzer.Escalate.String(), "transcript": transcript},
			Reason:    ReasonEscalationWord,
		})
	case analyzer.Safe:
		return c.Transition(persist, session, models.StatusCompleted, Trigger{
			EventType: models.EventKeywordMatch,
			Payload:   map[string]any{"outcome": analyzer.Safe.String(), "transcript": transcript},
			Reason:    ReasonSafeWord,
		})
	}

	// 3. classifier
	res := c.classifier.Classify(ctx, transcript)
	if res.Available {
		c.metrics.Classifier("ok")
	} else {
		c.metrics.Classifier("unavailable")
	}

	trigger := Trigger{
		EventType: models.EventClassifierResult,
		Payload: map[string]any{
			"outcome":     analyzer.Unknown.String(),
			"probability": res.Probability,
			"rationale":   res.Rationale,
			"available":   res.Available,
			"threshold":   c.threshold,
		},
		Reason: ReasonClassifier,
	}
	if !res.Available {
		trigger.Reason = ReasonClassifierFailed
	}

	if res.Probability >= c.threshold {
		return c.escalate(persist, session, trigger)
	}
	return c.Transition(persist, session, models.StatusCompleted, trigger)
}

// escalate status first, then the ladder; ladder failures never surface
func (c *SessionController) escalate(ctx context.Context, session *models.Session, t Trigger) error {
	if err := c.Transition(ctx, session, models.StatusEscalated, t); err != nil {
		return err
	}
	if c.ladder != nil {
		c.ladder.Run(context.WithoutCancel(ctx), session)
	}
	return nil
}
