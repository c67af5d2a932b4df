package models

// Event types written to the audit log. Open set: the store accepts any string.
const (
	EventSessionCreated = "session_created"

	// scheduler
	EventCallInitiated      = "call_initiated"
	EventCallFailed         = "call_failed"
	EventSessionActivated   = "session_activated"
	EventSessionRequeued    = "session_requeued"
	EventCallPlaced         = "call_placed"
	EventRetryLimitReached  = "retry_limit_reached"
	EventInteractionTimeout = "interaction_timeout"

	// provider callbacks
	EventCallAnswered          = "call_answered"
	EventCallStatus            = "call_status"
	EventRecordingReceived     = "recording_received"
	EventNoTranscriptAvailable = "no_transcript_available"
	EventCallbackIgnored       = "callback_ignored"

	// decision
	EventKeywordMatch     = "keyword_match"
	EventClassifierResult = "classifier_result"
	EventSessionCompleted = "session_completed"
	EventSessionEscalated = "session_escalated"
	EventSessionCancelled = "session_cancelled"
	EventCancelRequested  = "cancel_requested"
	EventForceCompleted   = "force_completed"

	// escalation ladder
	EventLocationRequestSent   = "location_request_sent"
	EventLocationRequestFailed = "location_request_failed"
	EventAlertSent             = "alert_sent"
	EventAlertFailed           = "alert_failed"
	EventVoiceAlertInitiated   = "voice_alert_initiated"
	EventVoiceAlertFailed      = "voice_alert_failed"

	// late location
	EventLocationSubmitted   = "location_submitted"
	EventLocationAlertSent   = "location_alert_sent"
	EventLocationAlertFailed = "location_alert_failed"
)
