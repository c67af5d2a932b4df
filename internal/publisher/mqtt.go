package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-checkin/internal/models"
)

// MQTTPublisher the part of the MQTT client the sink needs
type MQTTPublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// StatusMessage retained per-session status
type StatusMessage struct {
	SessionID string               `json:"session_id"`
	Status    models.SessionStatus `json:"status"`
	From      models.SessionStatus `json:"from"`
	EventType string               `json:"event_type"`
	Reason    string               `json:"reason,omitempty"`
	At        time.Time            `json:"at"`
}

// MQTTStatusSink publishes status changes to <prefix>/sessions/<id>/status.
// Events without a StatusChange payload are skipped.
type MQTTStatusSink struct {
	client MQTTPublisher
	prefix string
	qos    byte
}

func NewMQTTStatusSink(client MQTTPublisher, prefix string, qos byte) *MQTTStatusSink {
	if prefix == "" {
		prefix = "checkin"
	}
	return &MQTTStatusSink{client: client, prefix: prefix, qos: qos}
}

// Topic status topic of one session
func (s *MQTTStatusSink) Topic(sessionID string) string {
	return fmt.Sprintf("%s/sessions/%s/status", s.prefix, sessionID)
}

func (s *MQTTStatusSink) Publish(_ context.Context, event *models.Event) error {
	if event == nil || event.SessionID == nil {
		return nil
	}

	var change models.StatusChange
	if err := json.Unmarshal(event.Payload, &change); err != nil || change.To == "" {
		return nil
	}

	payload, err := json.Marshal(StatusMessage{
		SessionID: *event.SessionID,
		Status:    change.To,
		From:      change.From,
		EventType: event.EventType,
		Reason:    change.Reason,
		At:        event.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal status message: %w", err)
	}

	return s.client.Publish(s.Topic(*event.SessionID), s.qos, true, payload)
}
