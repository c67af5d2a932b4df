package consumer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"wisefido-checkin/internal/config"
	"wisefido-checkin/internal/metrics"
	"wisefido-checkin/internal/models"
	"wisefido-checkin/internal/provider"
	"wisefido-checkin/internal/repository"
	"wisefido-checkin/internal/service"
	"wisefido-checkin/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TickSummary what one tick did; also written to the KV heartbeat
type TickSummary struct {
	At        time.Time `json:"at"`
	Due       int       `json:"due"`
	Activated int32     `json:"activated"`
	Failed    int32     `json:"failed"`
	Cancelled int32     `json:"cancelled"`
	TimedOut  int32     `json:"timed_out"`
	Error     string    `json:"error,omitempty"`
}

// DueSessionPoller moves due pending sessions to active and places the check-in call.
// One tick at a time: a tick that fires while another is still running is dropped.
type DueSessionPoller struct {
	cfg        config.SchedulerConfig
	store      repository.SessionStore
	controller *service.SessionController
	provider   provider.NotificationProvider
	kv         store.KV
	metrics    *metrics.Collector
	logger     *zap.Logger
	now        func() time.Time

	running atomic.Bool
	wg      sync.WaitGroup
}

func NewDueSessionPoller(
	cfg config.SchedulerConfig,
	st repository.SessionStore,
	controller *service.SessionController,
	p provider.NotificationProvider,
	kv store.KV,
	mc *metrics.Collector,
	logger *zap.Logger,
) *DueSessionPoller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &DueSessionPoller{
		cfg:        cfg,
		store:      st,
		controller: controller,
		provider:   p,
		kv:         kv,
		metrics:    mc,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start runs one tick immediately, then one per interval until ctx is done.
// Each tick runs on its own goroutine so the overlap guard, not the ticker, decides.
func (p *DueSessionPoller) Start(ctx context.Context) error {
	p.logger.Info("Due session poller started",
		zap.Duration("poll_interval", p.cfg.PollInterval),
		zap.Int("concurrency", p.cfg.Concurrency),
		zap.Int("max_attempts", p.cfg.MaxAttempts),
		zap.Duration("active_grace_period", p.cfg.ActiveGracePeriod),
	)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.spawn(ctx)

	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			p.logger.Info("Due session poller stopped")
			return nil
		case <-ticker.C:
			p.spawn(ctx)
		}
	}
}

func (p *DueSessionPoller) spawn(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.Tick(ctx)
	}()
}

// Tick runs one pass; returns false when dropped because a previous pass is still running
func (p *DueSessionPoller) Tick(ctx context.Context) bool {
	if !p.running.CompareAndSwap(false, true) {
		p.logger.Debug("Scheduler tick skipped, previous tick still running")
		p.metrics.Tick(metrics.TickSkipped, 0)
		return false
	}
	defer p.running.Store(false)

	started := time.Now()
	summary := p.runOnce(ctx)
	p.metrics.Tick(metrics.TickRan, time.Since(started))
	p.heartbeat(ctx, summary)

	if summary.Due > 0 || summary.TimedOut > 0 || summary.Error != "" {
		p.logger.Info("Scheduler tick finished",
			zap.Int("due", summary.Due),
			zap.Int32("activated", summary.Activated),
			zap.Int32("failed", summary.Failed),
			zap.Int32("cancelled", summary.Cancelled),
			zap.Int32("timed_out", summary.TimedOut),
			zap.Duration("took", time.Since(started)),
		)
	}
	return true
}

func (p *DueSessionPoller) runOnce(ctx context.Context) *TickSummary {
	now := p.now().UTC()
	summary := &TickSummary{At: now}

	// 1. active sessions whose callback never came
	if p.cfg.ActiveGracePeriod > 0 {
		p.sweepStale(ctx, now, summary)
	}

	// 2. due pending sessions, compared in UTC
	pending, err := p.store.ListPending(ctx)
	if err != nil {
		p.logger.Error("Failed to list pending sessions", zap.Error(err))
		summary.Error = err.Error()
		return summary
	}

	due := make([]*models.Session, 0, len(pending))
	for _, s := range pending {
		if s.IsDue(now) {
			due = append(due, s)
		}
	}
	summary.Due = len(due)

	// 3. initiate with bounded concurrency
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for _, s := range due {
		if ctx.Err() != nil {
			break
		}
		s := s
		g.Go(func() error {
			p.activate(ctx, s, now, summary)
			return nil
		})
	}
	_ = g.Wait()

	return summary
}

// activate call_initiated, pending -> active, then the provider call.
// The status flip happens first so the next tick cannot pick the session up again.
func (p *DueSessionPoller) activate(ctx context.Context, s *models.Session, now time.Time, summary *TickSummary) {
	attempt := s.Attempts + 1

	err := p.controller.Transition(ctx, s, models.StatusActive, service.Trigger{
		EventType: models.EventCallInitiated,
		Payload: map[string]any{
			"phone":        s.Phone,
			"attempt":      attempt,
			"scheduled_at": s.ScheduledAt,
		},
	})
	if err != nil {
		if !errors.Is(err, repository.ErrStatusConflict) {
			p.logger.Error("Failed to activate session", zap.String("session_id", s.ID), zap.Error(err))
		}
		return
	}

	callSID, err := p.provider.StartInteraction(ctx, s.Phone, s.ID)
	p.metrics.Notification(service.KindInteraction, err)

	// the session is active: its outcome is recorded even if ctx was cancelled mid-call
	ctx = context.WithoutCancel(ctx)

	if err == nil {
		atomic.AddInt32(&summary.Activated, 1)
		p.controller.Events().Append(ctx, s.ID, models.EventCallPlaced, map[string]any{
			"call_sid": callSID,
			"attempt":  attempt,
		})
		return
	}

	atomic.AddInt32(&summary.Failed, 1)
	p.logger.Warn("Check-in call failed",
		zap.String("session_id", s.ID),
		zap.Int("attempt", attempt),
		zap.Int("status_code", provider.StatusCode(err)),
		zap.Error(err),
	)

	// retry edge
	err = p.controller.Transition(ctx, s, models.StatusPending, service.Trigger{
		EventType: models.EventCallFailed,
		Payload: map[string]any{
			"error":       err.Error(),
			"status_code": provider.StatusCode(err),
			"attempt":     attempt,
		},
		Reason: service.ReasonInitiationFailed,
	})
	if err != nil {
		p.logger.Error("Failed to revert session to pending", zap.String("session_id", s.ID), zap.Error(err))
		return
	}
	if p.applyRetryPolicy(ctx, s, attempt, now) {
		atomic.AddInt32(&summary.Cancelled, 1)
	}
}

// sweepStale takes the retry edge for active sessions untouched for longer than the grace period
func (p *DueSessionPoller) sweepStale(ctx context.Context, now time.Time, summary *TickSummary) {
	stale, err := p.store.ListActiveBefore(ctx, now.Add(-p.cfg.ActiveGracePeriod))
	if err != nil {
		p.logger.Error("Failed to list stale active sessions", zap.Error(err))
		return
	}

	for _, s := range stale {
		attempt := s.Attempts + 1
		err := p.controller.Transition(ctx, s, models.StatusPending, service.Trigger{
			EventType: models.EventInteractionTimeout,
			Payload: map[string]any{
				"last_update":  s.UpdatedAt,
				"grace_period": p.cfg.ActiveGracePeriod.String(),
				"attempt":      attempt,
			},
			Reason: service.ReasonInteractionTO,
		})
		if err != nil {
			continue
		}
		summary.TimedOut++
		if p.applyRetryPolicy(ctx, s, attempt, now) {
			summary.Cancelled++
		}
	}
}

// applyRetryPolicy records the attempt, cancels at the ceiling, otherwise sets the backoff.
// Returns true when the session was cancelled.
func (p *DueSessionPoller) applyRetryPolicy(ctx context.Context, s *models.Session, attempts int, now time.Time) bool {
	if p.cfg.MaxAttempts > 0 && attempts >= p.cfg.MaxAttempts {
		if err := p.store.RecordAttempt(ctx, s.ID, attempts, nil); err != nil {
			p.logger.Error("Failed to record attempt", zap.String("session_id", s.ID), zap.Error(err))
		}
		err := p.controller.Transition(ctx, s, models.StatusCancelled, service.Trigger{
			EventType: models.EventRetryLimitReached,
			Payload: map[string]any{
				"attempts":     attempts,
				"max_attempts": p.cfg.MaxAttempts,
			},
			Reason: service.ReasonRetryLimit,
		})
		if err != nil {
			p.logger.Error("Failed to cancel session at retry limit", zap.String("session_id", s.ID), zap.Error(err))
			return false
		}
		return true
	}

	var next *time.Time
	if d := p.backoff(attempts); d > 0 {
		t := now.Add(d)
		next = &t
	}
	if err := p.store.RecordAttempt(ctx, s.ID, attempts, next); err != nil {
		p.logger.Error("Failed to record attempt", zap.String("session_id", s.ID), zap.Error(err))
	}
	return false
}

// backoff RetryBackoff * 2^(attempts-1), capped at MaxRetryBackoff; 0 retries on the next tick
func (p *DueSessionPoller) backoff(attempts int) time.Duration {
	base := p.cfg.RetryBackoff
	if base <= 0 || attempts <= 0 {
		return 0
	}
	limit := p.cfg.MaxRetryBackoff
	d := base
	for i := 1; i < attempts; i++ {
		if limit > 0 && d >= limit {
			break
		}
		if d > time.Duration(1<<62) {
			break
		}
		d *= 2
	}
	if limit > 0 && d > limit {
		d = limit
	}
	return d
}

func (p *DueSessionPoller) heartbeat(ctx context.Context, summary *TickSummary) {
	if p.kv == nil {
		return
	}
	if err := store.WriteHeartbeat(ctx, p.kv, summary.At, summary); err != nil {
		p.logger.Warn("Failed to write scheduler heartbeat", zap.Error(err))
	}
}
