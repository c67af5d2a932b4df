package httpapi

import (
	"net/http"
	"net/url"

	"wisefido-checkin/internal/provider"
	"wisefido-checkin/internal/service"

	"go.uber.org/zap"
)

// CallbackHandler provider webhooks. Always answers 200 so the provider never retries a dead callback.
type CallbackHandler struct {
	controller    *service.SessionController
	publicBaseURL string
	logger        *zap.Logger
}

func NewCallbackHandler(controller *service.SessionController, publicBaseURL string, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{controller: controller, publicBaseURL: publicBaseURL, logger: logger}
}

func (h *CallbackHandler) form(r *http.Request) (string, url.Values) {
	if err := r.ParseForm(); err != nil {
		h.logger.Warn("Malformed callback form", zap.String("path", r.URL.Path), zap.Error(err))
	}
	return r.URL.Query().Get("session_id"), r.PostForm
}

// Answer greeting + record when the session is active, otherwise hang up
func (h *CallbackHandler) Answer(w http.ResponseWriter, r *http.Request) {
	sessionID, form := h.form(r)

	play, err := h.controller.HandleAnswered(r.Context(), sessionID, form.Get("CallSid"))
	if err != nil {
		h.logger.Error("Answer callback failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	if !play {
		writeTwiML(w, provider.HangupResponse())
		return
	}

	q := url.Values{"session_id": {sessionID}}
	writeTwiML(w, provider.GreetingResponse(
		absoluteURL(r, h.publicBaseURL, provider.HangupPath, q),
		absoluteURL(r, h.publicBaseURL, provider.RecordingPath, q),
	))
}

// Recording transcription result
func (h *CallbackHandler) Recording(w http.ResponseWriter, r *http.Request) {
	sessionID, form := h.form(r)

	cb := provider.ParseRecordingCallback(sessionID, form)
	if err := h.controller.HandleRecording(r.Context(), cb); err != nil {
		h.logger.Error("Recording callback failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	writeTwiML(w, provider.EmptyResponse())
}

// Status call lifecycle telemetry
func (h *CallbackHandler) Status(w http.ResponseWriter, r *http.Request) {
	sessionID, form := h.form(r)

	if err := h.controller.HandleStatus(r.Context(), provider.ParseStatusCallback(sessionID, form)); err != nil {
		h.logger.Error("Status callback failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	writeTwiML(w, provider.EmptyResponse())
}

// Alert script for the primary contact's voice alert
func (h *CallbackHandler) Alert(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := h.form(r)

	subject, location, ok, err := h.controller.VoiceAlertTarget(r.Context(), sessionID, r.URL.Query().Get("subject"))
	if err != nil {
		h.logger.Error("Alert callback failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	if !ok {
		writeTwiML(w, provider.HangupResponse())
		return
	}
	writeTwiML(w, provider.VoiceAlertResponse(subject, location))
}

// Hangup end of the recording leg
func (h *CallbackHandler) Hangup(w http.ResponseWriter, _ *http.Request) {
	writeTwiML(w, provider.HangupResponse())
}
