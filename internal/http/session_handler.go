package httpapi

import (
	"net/http"
	"net/url"
	"strings"

	"wisefido-checkin/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SessionHandler /api/v1/sessions
type SessionHandler struct {
	svc    *service.SessionService
	logger *zap.Logger
}

func NewSessionHandler(svc *service.SessionService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{svc: svc, logger: logger}
}

// Activate POST /api/v1/sessions
func (h *SessionHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req service.ActivateRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid JSON body: "+err.Error()))
		return
	}

	session, err := h.svc.Activate(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(session))
}

// Get GET /api/v1/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(session))
}

// Events GET /api/v1/sessions/{id}/events?limit=N (latest N when set)
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.Events(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if limit := parseInt(r.URL.Query().Get("limit"), 0); limit > 0 && limit < len(events) {
		events = events[len(events)-limit:]
	}
	writeJSON(w, http.StatusOK, Ok(events))
}

// SubmitLocation POST /api/v1/sessions/{id}/location, JSON {"location": "..."} or a form field
func (h *SessionHandler) SubmitLocation(w http.ResponseWriter, r *http.Request) {
	location, err := readLocation(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}

	report, err := h.svc.SubmitLocation(r.Context(), chi.URLParam(r, "id"), location)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(report))
}

func readLocation(r *http.Request) (string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return "", err
		}
		return r.PostForm.Get("location"), nil
	}

	var body struct {
		Location string `json:"location"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		return "", err
	}
	return body.Location, nil
}

// absoluteURL base + path + query; base "" falls back to the request's own host
func absoluteURL(r *http.Request, base, path string, q url.Values) string {
	if base == "" {
		scheme := r.Header.Get("X-Forwarded-Proto")
		if scheme == "" {
			scheme = "http"
			if r.TLS != nil {
				scheme = "https"
			}
		}
		base = scheme + "://" + r.Host
	}
	return strings.TrimRight(base, "/") + path + "?" + q.Encode()
}
