package provider

import (
	"net/url"
	"strconv"
	"strings"
)

// RecordingCallback transcription result for the check-in recording
type RecordingCallback struct {
	SessionID           string `json:"session_id"`
	CallSID             string `json:"call_sid,omitempty"`
	RecordingSID        string `json:"recording_sid,omitempty"`
	RecordingURL        string `json:"recording_url,omitempty"`
	TranscriptionStatus string `json:"transcription_status,omitempty"`
	TranscriptionText   string `json:"transcription_text,omitempty"`
}

// Transcript the usable transcript text, "" when none was produced
func (c RecordingCallback) Transcript() string {
	if c.TranscriptionStatus != "" && !strings.EqualFold(c.TranscriptionStatus, "completed") {
		return ""
	}
	return strings.TrimSpace(c.TranscriptionText)
}

// ParseRecordingCallback reads the transcribeCallback form
func ParseRecordingCallback(sessionID string, form url.Values) RecordingCallback {
	return RecordingCallback{
		SessionID:           strings.TrimSpace(sessionID),
		CallSID:             form.Get("CallSid"),
		RecordingSID:        form.Get("RecordingSid"),
		RecordingURL:        form.Get("RecordingUrl"),
		TranscriptionStatus: form.Get("TranscriptionStatus"),
		TranscriptionText:   form.Get("TranscriptionText"),
	}
}

// StatusCallback call lifecycle telemetry
type StatusCallback struct {
	SessionID    string `json:"session_id"`
	CallSID      string `json:"call_sid,omitempty"`
	CallStatus   string `json:"call_status"`
	Direction    string `json:"direction,omitempty"`
	To           string `json:"to,omitempty"`
	CallDuration int    `json:"call_duration,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
}

// ParseStatusCallback reads the StatusCallback form
func ParseStatusCallback(sessionID string, form url.Values) StatusCallback {
	duration, _ := strconv.Atoi(form.Get("CallDuration"))
	return StatusCallback{
		SessionID:    strings.TrimSpace(sessionID),
		CallSID:      form.Get("CallSid"),
		CallStatus:   form.Get("CallStatus"),
		Direction:    form.Get("Direction"),
		To:           form.Get("To"),
		CallDuration: duration,
		ErrorCode:    form.Get("ErrorCode"),
	}
}
