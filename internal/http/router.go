package httpapi

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Router chi mux with request id, panic recovery and access logging
type Router struct {
	mux    *chi.Mux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	mux.Use(accessLog(logger))

	return &Router{mux: mux, logger: logger}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterSessionRoutes public session API
func (r *Router) RegisterSessionRoutes(h *SessionHandler) {
	r.mux.Route("/api/v1/sessions", func(sr chi.Router) {
		sr.Post("/", h.Activate)
		sr.Get("/{id}", h.Get)
		sr.Get("/{id}/events", h.Events)
		sr.Post("/{id}/location", h.SubmitLocation)
	})
}

// RegisterCallbackRoutes voice provider webhooks
func (r *Router) RegisterCallbackRoutes(h *CallbackHandler) {
	r.mux.Route("/callbacks/voice", func(cr chi.Router) {
		cr.Post("/answer", h.Answer)
		cr.Post("/recording", h.Recording)
		cr.Post("/status", h.Status)
		cr.Post("/alert", h.Alert)
		cr.Post("/hangup", h.Hangup)
	})
}

// RegisterAdminRoutes operator routes; token "" leaves them open
func (r *Router) RegisterAdminRoutes(h *AdminHandler, token string) {
	r.mux.Route("/admin/api/v1", func(ar chi.Router) {
		ar.Use(adminToken(token))
		ar.Post("/sessions/force-complete-overdue", h.ForceCompleteOverdue)
		ar.Post("/sessions/{id}/cancel", h.Cancel)
		ar.Get("/sessions/{id}/events.xlsx", h.ExportEvents)
		ar.Get("/diagnostics", h.Diagnostics)
	})
}

// RegisterOpsRoutes liveness and metrics
func (r *Router) RegisterOpsRoutes(health http.HandlerFunc, metrics http.Handler) {
	r.mux.Get("/healthz", health)
	r.mux.Method(http.MethodGet, "/metrics", metrics)
}

func adminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			got := req.Header.Get("X-Admin-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, Fail("invalid admin token"))
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, req)
			logger.Debug("HTTP request",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(req.Context())),
			)
		})
	}
}
