package service

import (
	"context"

	"wisefido-checkin/internal/models"
	"wisefido-checkin/internal/publisher"
	"wisefido-checkin/internal/repository"

	"go.uber.org/zap"
)

// EventRecorder appends audit events and mirrors them to the configured sinks
type EventRecorder struct {
	store  repository.SessionStore
	sinks  []publisher.EventSink
	logger *zap.Logger
}

func NewEventRecorder(store repository.SessionStore, logger *zap.Logger, sinks ...publisher.EventSink) *EventRecorder {
	return &EventRecorder{store: store, sinks: sinks, logger: logger}
}

// Record appends one event. Sink failures are logged and never returned.
func (r *EventRecorder) Record(ctx context.Context, sessionID *string, eventType string, payload any) (*models.Event, error) {
	event, err := r.store.AppendEvent(ctx, sessionID, eventType, payload)
	if err != nil {
		r.logger.Error("Failed to append event",
			zap.Stringp("session_id", sessionID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return nil, err
	}

	r.logger.Debug("Event recorded",
		zap.Stringp("session_id", sessionID),
		zap.String("event_type", eventType),
		zap.String("event_id", event.ID),
	)

	for _, sink := range r.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			r.logger.Warn("Failed to mirror event",
				zap.String("event_id", event.ID),
				zap.String("event_type", eventType),
				zap.Error(err),
			)
		}
	}
	return event, nil
}

// Append best-effort Record for a known session; failures are only logged
func (r *EventRecorder) Append(ctx context.Context, sessionID string, eventType string, payload any) {
	_, _ = r.Record(ctx, &sessionID, eventType, payload)
}
