package service

import (
	"context"
	"fmt"
	"strings"

	"wisefido-checkin/internal/metrics"
	"wisefido-checkin/internal/models"
	"wisefido-checkin/internal/provider"

	"go.uber.org/zap"
)

// Notification kinds (metrics label)
const (
	KindInteraction     = "interaction"
	KindLocationRequest = "location_request"
	KindAlert           = "alert"
	KindVoiceAlert      = "voice_alert"
	KindLocationAlert   = "location_alert"
)

// LadderReport what one escalation run managed to send
type LadderReport struct {
	LocationRequested bool
	AlertsSent        int
	AlertsFailed      int
	VoiceAlertStarted bool
	VoiceAlertContact string
}

// BroadcastReport outcome of a location re-broadcast
type BroadcastReport struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// EscalationLadder notifies the subject and the emergency contacts of an escalated session.
// Every send is independent: a failure is recorded and the ladder moves on.
type EscalationLadder struct {
	provider provider.NotificationProvider
	events   *EventRecorder
	metrics  *metrics.Collector
	// locationURL where the subject can submit a location; "" omits the link
	locationURL func(sessionID string) string
	logger      *zap.Logger
}

func NewEscalationLadder(
	p provider.NotificationProvider,
	events *EventRecorder,
	mc *metrics.Collector,
	publicBaseURL string,
	logger *zap.Logger,
) *EscalationLadder {
	l := &EscalationLadder{provider: p, events: events, metrics: mc, logger: logger}
	if base := strings.TrimRight(publicBaseURL, "/"); base != "" {
		l.locationURL = func(id string) string {
			return fmt.Sprintf("%s/api/v1/sessions/%s/location", base, id)
		}
	}
	return l
}

// Run the session must already be escalated
func (l *EscalationLadder) Run(ctx context.Context, session *models.Session) LadderReport {
	var report LadderReport

	// 1. ask the subject where they are
	report.LocationRequested = l.requestLocation(ctx, session)

	// 2. level 1: text every contact, in display order
	contacts := models.SortContacts(session.Contacts)
	text := alertText(session)
	for _, contact := range contacts {
		if l.sendToContact(ctx, session, contact, text, KindAlert, models.EventAlertSent, models.EventAlertFailed) {
			report.AlertsSent++
		} else {
			report.AlertsFailed++
		}
	}

	// 3. level 2: voice alert to the primary contact
	primary, ok := models.PrimaryContact(contacts)
	if !ok {
		l.logger.Error("Escalated session has no contacts", zap.String("session_id", session.ID))
	} else {
		report.VoiceAlertContact = primary.Phone
		report.VoiceAlertStarted = l.voiceAlert(ctx, session, primary)
	}

	l.logger.Info("Escalation ladder finished",
		zap.String("session_id", session.ID),
		zap.Bool("location_requested", report.LocationRequested),
		zap.Int("alerts_sent", report.AlertsSent),
		zap.Int("alerts_failed", report.AlertsFailed),
		zap.Bool("voice_alert_started", report.VoiceAlertStarted),
	)
	return report
}

// BroadcastLocation texts the new location to every contact; status is not touched
func (l *EscalationLadder) BroadcastLocation(ctx context.Context, session *models.Session, location string) BroadcastReport {
	var report BroadcastReport
	text := fmt.Sprintf("LOCATION UPDATE for %s: %s", session.Phone, location)
	for _, contact := range models.SortContacts(session.Contacts) {
		if l.sendToContact(ctx, session, contact, text, KindLocationAlert, models.EventLocationAlertSent, models.EventLocationAlertFailed) {
			report.Sent++
		} else {
			report.Failed++
		}
	}
	return report
}

func (l *EscalationLadder) requestLocation(ctx context.Context, session *models.Session) bool {
	text := "Your safety check-in was escalated and your emergency contacts are being alerted."
	if l.locationURL != nil {
		text += " If you can, share your current location at " + l.locationURL(session.ID)
	}

	sid, err := l.provider.SendAlert(ctx, session.Phone, text)
	l.metrics.Notification(KindLocationRequest, err)
	if err != nil {
		l.events.Append(ctx, session.ID, models.EventLocationRequestFailed, failurePayload(session.Phone, err))
		l.logger.Warn("Location request failed", zap.String("session_id", session.ID), zap.Error(err))
		return false
	}
	l.events.Append(ctx, session.ID, models.EventLocationRequestSent, map[string]any{
		"phone":       session.Phone,
		"message_sid": sid,
	})
	return true
}

func (l *EscalationLadder) sendToContact(ctx context.Context, session *models.Session, contact models.EmergencyContact, text, kind, sentEvent, failedEvent string) bool {
	sid, err := l.provider.SendAlert(ctx, contact.Phone, text)
	l.metrics.Notification(kind, err)
	if err != nil {
		payload := failurePayload(contact.Phone, err)
		payload["contact"] = contact.Phone
		payload["display_order"] = contact.DisplayOrder
		l.events.Append(ctx, session.ID, failedEvent, payload)
		l.logger.Warn("Contact alert failed",
			zap.String("session_id", session.ID),
			zap.String("contact", contact.Phone),
			zap.String("kind", kind),
			zap.Error(err),
		)
		return false
	}
	l.events.Append(ctx, session.ID, sentEvent, map[string]any{
		"contact":       contact.Phone,
		"display_order": contact.DisplayOrder,
		"message_sid":   sid,
	})
	return true
}

func (l *EscalationLadder) voiceAlert(ctx context.Context, session *models.Session, primary models.EmergencyContact) bool {
	sid, err := l.provider.StartVoiceAlert(ctx, primary.Phone, session.ID, session.Phone)
	l.metrics.Notification(KindVoiceAlert, err)
	if err != nil {
		payload := failurePayload(primary.Phone, err)
		payload["contact"] = primary.Phone
		l.events.Append(ctx, session.ID, models.EventVoiceAlertFailed, payload)
		l.logger.Warn("Voice alert failed",
			zap.String("session_id", session.ID),
			zap.String("contact", primary.Phone),
			zap.Error(err),
		)
		return false
	}
	l.events.Append(ctx, session.ID, models.EventVoiceAlertInitiated, map[string]any{
		"contact":  primary.Phone,
		"call_sid": sid,
	})
	return true
}

func alertText(session *models.Session) string {
	text := fmt.Sprintf("SAFETY ALERT: %s did not respond safely to a scheduled check-in and may need help.", session.Phone)
	if loc := strings.TrimSpace(session.LocationText()); loc != "" {
		text += " Last known location: " + loc
	}
	return text
}

func failurePayload(phone string, err error) map[string]any {
	return map[string]any{
		"phone":       phone,
		"error":       err.Error(),
		"status_code": provider.StatusCode(err),
	}
}
