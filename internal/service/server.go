package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"wisefido-checkin/internal/config"

	"go.uber.org/zap"
)

// Server serves the session API and the voice provider callbacks
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *zap.Logger
}

func NewServer(cfg config.HTTPConfig, handler http.Handler, logger *zap.Logger) *Server {
	s := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	shutdown := cfg.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 10 * time.Second
	}
	return &Server{httpServer: s, shutdownTimeout: shutdown, logger: logger}
}

// Start blocks until the listener fails or Stop is called; Stop yields nil
func (s *Server) Start() error {
	s.logger.Info("Starting wisefido-checkin HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Run serves until ctx is done, then lets in-flight callbacks finish
// within the shutdown timeout
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping wisefido-checkin HTTP server")
	return s.httpServer.Shutdown(ctx)
}
