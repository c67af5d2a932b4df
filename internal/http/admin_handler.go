package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"wisefido-checkin/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AdminHandler /admin/api/v1 operator actions
type AdminHandler struct {
	svc    *service.SessionService
	logger *zap.Logger
	now    func() time.Time
}

func NewAdminHandler(svc *service.SessionService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// ForceCompleteOverdue POST /admin/api/v1/sessions/force-complete-overdue?before=RFC3339
func (h *AdminHandler) ForceCompleteOverdue(w http.ResponseWriter, r *http.Request) {
	cutoff := h.now()
	if v := r.URL.Query().Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Invalid("before", "before must be RFC3339"))
			return
		}
		cutoff = t.UTC()
	}

	n, err := h.svc.ForceCompleteOverdue(r.Context(), cutoff)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.logger.Info("Force-completed overdue sessions", zap.Int("count", n), zap.Time("before", cutoff))
	writeJSON(w, http.StatusOK, Ok(map[string]any{"completed": n, "before": cutoff}))
}

// Cancel POST /admin/api/v1/sessions/{id}/cancel, optional body {"reason": "..."}
func (h *AdminHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid JSON body: "+err.Error()))
		return
	}

	session, err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(session))
}

// Diagnostics GET /admin/api/v1/diagnostics
func (h *AdminHandler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Diagnostics(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(d))
}

// ExportEvents GET /admin/api/v1/sessions/{id}/events.xlsx
func (h *AdminHandler) ExportEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	events, err := h.svc.Events(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	data, err := GenerateEventExport(session, events)
	if err != nil {
		h.logger.Error("Failed to generate event export", zap.String("session_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate export"))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="session_`+id+`_events.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
