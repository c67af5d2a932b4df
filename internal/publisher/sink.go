package publisher

import (
	"context"

	"wisefido-checkin/internal/models"
)

// EventSink receives every audit event after it is durably appended.
// Sinks are best-effort mirrors: errors are logged by the caller, never retried.
type EventSink interface {
	Publish(ctx context.Context, event *models.Event) error
}
