package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"wisefido-checkin/internal/classifier"
	"wisefido-checkin/internal/config"
	"wisefido-checkin/internal/models"
	"wisefido-checkin/internal/provider"
	"wisefido-checkin/internal/repository"
	"wisefido-checkin/internal/service"
	"wisefido-checkin/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubProvider optionally blocks or fails StartInteraction
type stubProvider struct {
	mu        sync.Mutex
	started   []string
	alerts    []string
	voice     []string
	failStart bool
	block     chan struct{} // when set, StartInteraction waits on it
	entered   chan string
}

func (s *stubProvider) StartInteraction(ctx context.Context, phone, sessionID string) (string, error) {
	if s.entered != nil {
		s.entered <- sessionID
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failStart {
		return "", &provider.ProviderError{StatusCode: 503, Message: "service unavailable"}
	}
	s.started = append(s.started, sessionID)
	return fmt.Sprintf("CA%d", len(s.started)), nil
}

func (s *stubProvider) SendAlert(_ context.Context, phone, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, phone)
	return "SM1", nil
}

func (s *stubProvider) StartVoiceAlert(_ context.Context, phone, _, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voice = append(s.voice, phone)
	return "CA-alert", nil
}

type pollerEnv struct {
	store      *repository.MemorySessionStore
	provider   *stubProvider
	kv         *store.MemoryKV
	controller *service.SessionController
	service    *service.SessionService
	poller     *DueSessionPoller
	now        time.Time
}

// ctxStore fails writes once ctx is done, like database/sql does
type ctxStore struct {
	*repository.MemorySessionStore
}

func (s ctxStore) UpdateStatus(ctx context.Context, sessionID string, from, to models.SessionStatus, reason *string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemorySessionStore.UpdateStatus(ctx, sessionID, from, to, reason)
}

func (s ctxStore) AppendEvent(ctx context.Context, sessionID *string, eventType string, payload any) (*models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemorySessionStore.AppendEvent(ctx, sessionID, eventType, payload)
}

func (s ctxStore) RecordAttempt(ctx context.Context, sessionID string, attempts int, nextAttemptAt *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemorySessionStore.RecordAttempt(ctx, sessionID, attempts, nextAttemptAt)
}

func newPollerEnv(t *testing.T, cfg config.SchedulerConfig) *pollerEnv {
	mem := repository.NewMemorySessionStore()
	return newPollerEnvWithStore(t, cfg, mem, mem)
}

// newPollerEnvWithStore wires st into the services; mem is the same data, read directly by assertions
func newPollerEnvWithStore(t *testing.T, cfg config.SchedulerConfig, st repository.SessionStore, mem *repository.MemorySessionStore) *pollerEnv {
	t.Helper()
	logger := zap.NewNop()

	p := &stubProvider{}
	kv := store.NewMemoryKV()
	events := service.NewEventRecorder(st, logger)
	ladder := service.NewEscalationLadder(p, events, nil, "", logger)
	controller := service.NewSessionController(st, events, classifier.NopClassifier{}, ladder, nil, service.DefaultDistressThreshold, logger)
	svc := service.NewSessionService(st, controller, ladder, kv, logger)

	env := &pollerEnv{
		store:      mem,
		provider:   p,
		kv:         kv,
		controller: controller,
		service:    svc,
		now:        time.Now().UTC(),
	}
	env.poller = NewDueSessionPoller(cfg, st, controller, p, kv, nil, logger)
	env.poller.now = func() time.Time { return env.now }
	return env
}

func (e *pollerEnv) activate(t *testing.T, scheduledAt time.Time) *models.Session {
	t.Helper()
	s, err := e.service.Activate(context.Background(), service.ActivateRequest{
		Phone:          "+15551230000",
		SafeWord:       "pineapple",
		EscalationWord: "banana",
		ScheduledAt:    scheduledAt,
		Contacts: []service.ContactInput{
			{Phone: "+15551230001", IsPrimary: true},
			{Phone: "+15551230002"},
		},
	})
	require.NoError(t, err)
	return s
}

func (e *pollerEnv) session(t *testing.T, id string) *models.Session {
	t.Helper()
	s, err := e.store.GetSession(context.Background(), id)
	require.NoError(t, err)
	return s
}

func (e *pollerEnv) count(t *testing.T, sessionID, eventType string) int {
	t.Helper()
	events, err := e.store.ListEvents(context.Background(), sessionID)
	require.NoError(t, err)
	n := 0
	for _, ev := range events {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}

func TestTick_ActivatesOnlyDueSessions(t *testing.T) {
	env := newPollerEnv(t, config.SchedulerConfig{})
	due := env.activate(t, env.now.Add(-time.Minute))
	future := env.activate(t, env.now.Add(time.Hour))

	require.True(t, env.poller.Tick(context.Background()))

	assert.Equal(t, models.StatusActive, env.session(t, due.ID).Status)
	assert.Equal(t, models.StatusPending, env.session(t, future.ID).Status)
	assert.Equal(t, []string{due.ID}, env.provider.started)
	assert.Equal(t, 1, env.count(t, due.ID, models.EventCallInitiated))
	assert.Equal(t, 1, env.count(t, due.ID, models.EventCallPlaced))

	// already active: the next tick leaves it alone
	require.True(t, env.poller.Tick(context.Background()))
	assert.Len(t, env.provider.started, 1)
}

func TestTick_ComparesInUTC(t *testing.T) {
	env := newPollerEnv(t, config.SchedulerConfig{})
	tokyo := time.FixedZone("JST", 9*3600)
	s := env.activate(t, env.now.Add(-time.Second).In(tokyo))

	env.poller.Tick(context.Background())

	assert.Equal(t, models.StatusActive, env.session(t, s.ID).Status)
}

func TestTick_OverlappingTickMakesNoMutations(t *testing.T) {
	env := newPollerEnv(t, config.SchedulerConfig{Concurrency: 1})
	env.provider.block = make(chan struct{})
	env.provider.entered = make(chan string, 4)
	first := env.activate(t, env.now.Add(-2*time.Minute))
	second := env.activate(t, env.now.Add(-time.Minute))

	done := make(chan bool)
	go func() { done <- env.poller.Tick(context.Background()) }()

	// first tick is now inside StartInteraction for the oldest session
	assert.Equal(t, first.ID, <-env.provider.entered)
	before := len(env.store.AllEvents())
	secondStatus := env.session(t, second.ID).Status

	assert.False(t, env.poller.Tick(context.Background()))

	assert.Len(t, env.store.AllEvents(), before)
	assert.Equal(t, secondStatus, env.session(t, second.ID).Status)

	env.provider.entered = nil
	close(env.provider.block)
	assert.True(t, <-done)
	assert.Equal(t, models.StatusActive, env.session(t, second.ID).Status)
}

func TestTick_InitiationFailureRevertsToPendingUnbounded(t *testing.T) {
	env := newPollerEnv(t, config.SchedulerConfig{})
	env.provider.failStart = true
	s := env.activate(t, env.now.Add(-time.Minute))

	for i := 0; i < 3; i++ {
		env.poller.Tick(context.Background())
	}

	got := env.session(t, s.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Nil(t, got.NextAttemptAt)
	assert.Equal(t, 3, env.count(t, s.ID, models.EventCallFailed))
	assert.Equal(t, 3, env.count(t, s.ID, models.EventSessionRequeued))

	events, _ := env.store.ListEvents(context.Background(), s.ID)
	for _, e := range events {
		if e.EventType == models.EventCallFailed {
			var payload map[string]any
			require.NoError(t, json.Unmarshal(e.Payload, &payload))
			assert.Equal(t, float64(503), payload["status_code"])
		}
	}
}

func TestTick_CancelledMidCallStillRevertsToPending(t *testing.T) {
	mem := repository.NewMemorySessionStore()
	env := newPollerEnvWithStore(t, config.SchedulerConfig{}, ctxStore{mem}, mem)
	env.provider.block = make(chan struct{})
	env.provider.entered = make(chan string, 1)
	s := env.activate(t, env.now.Add(-time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		env.poller.Tick(ctx)
	}()

	<-env.provider.entered
	cancel() // shutdown while the provider call is outstanding
	<-done

	got := env.session(t, s.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, 1, env.count(t, s.ID, models.EventCallFailed))
	assert.Equal(t, 1, env.count(t, s.ID, models.EventSessionRequeued))
}

func TestTick_BackoffAndRetryLimit(t *testing.T) {
	env := newPollerEnv(t, config.SchedulerConfig{
		MaxAttempts:     2,
		RetryBackoff:    time.Minute,
		MaxRetryBackoff: 10 * time.Minute,
	})
	env.provider.failStart = true
	s := env.activate(t, env.now.Add(-time.Minute))

	// attempt 1 fails, backoff one minute
	env.poller.Tick(context.Background())
	got := env.session(t, s.ID)
	require.NotNil(t, got.NextAttemptAt)
	assert.True(t, env.now.Add(time.Minute).Equal(*got.NextAttemptAt))

	// still backing off: nothing happens
	before := len(env.store.AllEvents())
	env.poller.Tick(context.Background())
	assert.Len(t, env.store.AllEvents(), before)

	// attempt 2 fails, ceiling reached
	env.now = env.now.Add(2 * time.Minute)
	env.poller.Tick(context.Background())

	got = env.session(t, s.ID)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, service.ReasonRetryLimit, *got.StatusReason)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, 1, env.count(t, s.ID, models.EventRetryLimitReached))
}

func TestBackoff(t *testing.T) {
	p := &DueSessionPoller{cfg: config.SchedulerConfig{RetryBackoff: time.Minute, MaxRetryBackoff: 5 * time.Minute}}
	assert.Equal(t, time.Minute, p.backoff(1))
	assert.Equal(t, 2*time.Minute, p.backoff(2))
	assert.Equal(t, 4*time.Minute, p.backoff(3))
	assert.Equal(t, 5*time.Minute, p.backoff(4))
	assert.Equal(t, 5*time.Minute, p.backoff(200))

	p.cfg.RetryBackoff = 0
	assert.Equal(t, time.Duration(0), p.backoff(3))
}

func TestTick_StaleActiveSweep(t *testing.T) {
	env := newPollerEnv(t, config.SchedulerConfig{ActiveGracePeriod: 10 * time.Minute})
	old := env.now.Add(-30 * time.Minute)
	env.store.SetClock(func() time.Time { return old })
	s := env.activate(t, old)
	env.poller.now = func() time.Time { return old }
	env.poller.Tick(context.Background())
	require.Equal(t, models.StatusActive, env.session(t, s.ID).Status)

	// no callback for 30 minutes; the sweep requeues, then the same tick calls again
	env.store.SetClock(func() time.Time { return env.now })
	env.poller.now = func() time.Time { return env.now }
	env.poller.Tick(context.Background())

	got := env.session(t, s.ID)
	assert.Equal(t, models.StatusActive, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, 1, env.count(t, s.ID, models.EventInteractionTimeout))
	assert.Equal(t, 2, env.count(t, s.ID, models.EventCallPlaced))
}

func TestTick_SweepDisabledByDefault(t *testing.T) {
	env := newPollerEnv(t, config.SchedulerConfig{})
	old := env.now.Add(-24 * time.Hour)
	env.store.SetClock(func() time.Time { return old })
	s := env.activate(t, old)
	env.poller.Tick(context.Background())
	env.store.SetClock(func() time.Time { return env.now })

	env.poller.Tick(context.Background())

	assert.Equal(t, 0, env.count(t, s.ID, models.EventInteractionTimeout))
	assert.Equal(t, models.StatusActive, env.session(t, s.ID).Status)
}

func TestTick_BoundedConcurrency(t *testing.T) {
	env := newPollerEnv(t, config.SchedulerConfig{Concurrency: 3})
	var ids []string
	for i := 0; i < 6; i++ {
		ids = append(ids, env.activate(t, env.now.Add(-time.Duration(i+1)*time.Minute)).ID)
	}

	env.poller.Tick(context.Background())

	assert.ElementsMatch(t, ids, env.provider.started)
	for _, id := range ids {
		assert.Equal(t, models.StatusActive, env.session(t, id).Status)
	}
}

func TestTick_WritesHeartbeat(t *testing.T) {
	env := newPollerEnv(t, config.SchedulerConfig{})
	env.activate(t, env.now.Add(-time.Minute))

	env.poller.Tick(context.Background())

	v, err := env.kv.Get(context.Background(), store.KeySchedulerLastTick)
	require.NoError(t, err)
	assert.Equal(t, env.now.Format(time.RFC3339Nano), v)

	raw, err := env.kv.Get(context.Background(), store.KeySchedulerLastRun)
	require.NoError(t, err)
	var summary TickSummary
	require.NoError(t, json.Unmarshal([]byte(raw), &summary))
	assert.Equal(t, 1, summary.Due)
	assert.Equal(t, int32(1), summary.Activated)
}

func TestStart_RunsImmediatelyAndStops(t *testing.T) {
	env := newPollerEnv(t, config.SchedulerConfig{PollInterval: time.Hour})
	s := env.activate(t, env.now.Add(-time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error)
	go func() { stopped <- env.poller.Start(ctx) }()

	require.Eventually(t, func() bool {
		got, err := env.store.GetSession(context.Background(), s.ID)
		return err == nil && got.Status == models.StatusActive
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

// activate at now+1s, tick, transcript "banana, help": escalated with the full ladder
func TestEndToEnd_EscalationScenario(t *testing.T) {
	env := newPollerEnv(t, config.SchedulerConfig{})
	s := env.activate(t, env.now.Add(time.Second))

	env.now = env.now.Add(2 * time.Second)
	require.True(t, env.poller.Tick(context.Background()))
	require.Equal(t, models.StatusActive, env.session(t, s.ID).Status)

	err := env.controller.HandleRecording(context.Background(), provider.RecordingCallback{
		SessionID:           s.ID,
		CallSID:             "CA1",
		RecordingSID:        "RE1",
		TranscriptionStatus: "completed",
		TranscriptionText:   "banana, help",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusEscalated, env.session(t, s.ID).Status)
	assert.Equal(t, 2, env.count(t, s.ID, models.EventAlertSent))
	assert.Equal(t, 1, env.count(t, s.ID, models.EventVoiceAlertInitiated))
	assert.Equal(t, 1, env.count(t, s.ID, models.EventLocationRequestSent))
	assert.ElementsMatch(t, []string{"+15551230000", "+15551230001", "+15551230002"}, env.provider.alerts)
	assert.Equal(t, []string{"+15551230001"}, env.provider.voice)
}
