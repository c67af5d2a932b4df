package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"wisefido-checkin/internal/classifier"
	"wisefido-checkin/internal/models"
	"wisefido-checkin/internal/provider"
	"wisefido-checkin/internal/repository"
	"wisefido-checkin/internal/store"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentMessage struct {
	Phone string
	Text  string
}

type voiceCall struct {
	Phone        string
	SessionID    string
	SubjectPhone string
}

// fakeProvider records requests; phones in fail get a ProviderError
type fakeProvider struct {
	mu         sync.Mutex
	messages   []sentMessage
	calls      []voiceCall
	checkIns   []string
	fail       map[string]bool
	failVoice  bool
	failStarts bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{fail: map[string]bool{}}
}

func (f *fakeProvider) StartInteraction(_ context.Context, phone, sessionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStarts {
		return "", &provider.ProviderError{StatusCode: 400, Code: 21608, Message: "unverified"}
	}
	f.checkIns = append(f.checkIns, sessionID)
	return fmt.Sprintf("CA%d", len(f.checkIns)), nil
}

func (f *fakeProvider) SendAlert(_ context.Context, phone, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[phone] {
		return "", &provider.ProviderError{StatusCode: 400, Code: 21211, Message: "invalid number"}
	}
	f.messages = append(f.messages, sentMessage{Phone: phone, Text: text})
	return fmt.Sprintf("SM%d", len(f.messages)), nil
}

func (f *fakeProvider) StartVoiceAlert(_ context.Context, phone, sessionID, subjectPhone string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failVoice {
		return "", &provider.ProviderError{StatusCode: 503, Message: "unavailable"}
	}
	f.calls = append(f.calls, voiceCall{Phone: phone, SessionID: sessionID, SubjectPhone: subjectPhone})
	return fmt.Sprintf("CA-alert-%d", len(f.calls)), nil
}

type fixedClassifier struct {
	result classifier.Result
	calls  int
}

func (c *fixedClassifier) Classify(_ context.Context, _ string) classifier.Result {
	c.calls++
	return c.result
}

type testEnv struct {
	store      *repository.MemorySessionStore
	provider   *fakeProvider
	classifier *fixedClassifier
	kv         *store.MemoryKV
	controller *SessionController
	ladder     *EscalationLadder
	service    *SessionService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	st := repository.NewMemorySessionStore()
	p := newFakeProvider()
	cls := &fixedClassifier{result: classifier.Result{Probability: 0, Available: true}}
	events := NewEventRecorder(st, logger)
	ladder := NewEscalationLadder(p, events, nil, "https://checkin.example.com", logger)
	controller := NewSessionController(st, events, cls, ladder, nil, DefaultDistressThreshold, logger)
	kv := store.NewMemoryKV()
	svc := NewSessionService(st, controller, ladder, kv, logger)

	return &testEnv{
		store:      st,
		provider:   p,
		classifier: cls,
		kv:         kv,
		controller: controller,
		ladder:     ladder,
		service:    svc,
	}
}

func intPtr(v int) *int { return &v }

func (e *testEnv) activate(t *testing.T, scheduledAt time.Time) *models.Session {
	t.Helper()
	s, err := e.service.Activate(context.Background(), ActivateRequest{
		Phone:          "+15551230000",
		SafeWord:       "pineapple",
		EscalationWord: "banana",
		ScheduledAt:    scheduledAt,
		Contacts: []ContactInput{
			{Phone: "+15551230001", IsPrimary: true, DisplayOrder: intPtr(0)},
			{Phone: "+15551230002", DisplayOrder: intPtr(1)},
		},
	})
	require.NoError(t, err)
	return s
}

// makeActive moves a fresh session to active the way the scheduler does
func (e *testEnv) makeActive(t *testing.T) *models.Session {
	t.Helper()
	s := e.activate(t, time.Now().Add(-time.Minute))
	require.NoError(t, e.controller.Transition(context.Background(), s, models.StatusActive, Trigger{
		EventType: models.EventCallInitiated,
	}))
	return s
}

func (e *testEnv) eventTypes(t *testing.T, sessionID string) []string {
	t.Helper()
	events, err := e.store.ListEvents(context.Background(), sessionID)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.EventType)
	}
	return types
}

func (e *testEnv) status(t *testing.T, sessionID string) models.SessionStatus {
	t.Helper()
	s, err := e.store.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	return s.Status
}

func count(types []string, want string) int {
	n := 0
	for _, tp := range types {
		if tp == want {
			n++
		}
	}
	return n
}

func recording(sessionID, transcript string) provider.RecordingCallback {
	return provider.RecordingCallback{
		SessionID:           sessionID,
		CallSID:             "CA1",
		RecordingSID:        "RE1",
		TranscriptionStatus: "completed",
		TranscriptionText:   transcript,
	}
}

// ctxSessionStore fails writes once ctx is done, like database/sql does
type ctxSessionStore struct {
	*repository.MemorySessionStore
}

func (s ctxSessionStore) UpdateStatus(ctx context.Context, sessionID string, from, to models.SessionStatus, reason *string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemorySessionStore.UpdateStatus(ctx, sessionID, from, to, reason)
}

func (s ctxSessionStore) AppendEvent(ctx context.Context, sessionID *string, eventType string, payload any) (*models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemorySessionStore.AppendEvent(ctx, sessionID, eventType, payload)
}

// cancellingClassifier cancels the caller's ctx mid-classification
type cancellingClassifier struct {
	cancel context.CancelFunc
	result classifier.Result
}

func (c *cancellingClassifier) Classify(_ context.Context, _ string) classifier.Result {
	c.cancel()
	return c.result
}

// pingCountingStore counts reachability checks
type pingCountingStore struct {
	*repository.MemorySessionStore
	pings int
}

func (s *pingCountingStore) Ping(ctx context.Context) error {
	s.pings++
	return s.MemorySessionStore.Ping(ctx)
}
