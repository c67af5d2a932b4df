package provider

import (
	"context"
	"errors"
	"fmt"
)

// NotificationProvider outbound voice and SMS transport.
// Call progress and transcripts come back through the HTTP callback routes.
type NotificationProvider interface {
	// StartInteraction places the check-in call; returns the provider call id
	StartInteraction(ctx context.Context, phone, sessionID string) (string, error)
	// SendAlert one-way text message; returns the provider message id
	SendAlert(ctx context.Context, phone, text string) (string, error)
	// StartVoiceAlert calls a contact and reads the alert script about subjectPhone
	StartVoiceAlert(ctx context.Context, phone, sessionID, subjectPhone string) (string, error)
}

// ProviderError the provider rejected or could not complete a request
type ProviderError struct {
	StatusCode int    `json:"status_code"` // HTTP status, 0 when no response was received
	Code       int    `json:"code"`        // provider-specific error code
	Message    string `json:"message"`
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("provider error %d (status %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Message)
}

// StatusCode HTTP status carried by a ProviderError anywhere in err's chain, else 0
func StatusCode(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}
