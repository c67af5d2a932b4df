package service

import (
	"context"
	"encoding/json"
	"testing"

	"wisefido-checkin/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func escalated(t *testing.T, env *testEnv) *models.Session {
	t.Helper()
	s := env.makeActive(t)
	require.NoError(t, env.controller.Transition(context.Background(), s, models.StatusEscalated, Trigger{EventType: models.EventKeywordMatch}))
	got, err := env.store.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	return got
}

func TestLadder_AllStepsSucceed(t *testing.T) {
	env := newTestEnv(t)
	s := escalated(t, env)

	report := env.ladder.Run(context.Background(), s)

	assert.True(t, report.LocationRequested)
	assert.Equal(t, 2, report.AlertsSent)
	assert.True(t, report.VoiceAlertStarted)
	assert.Equal(t, "+15551230001", report.VoiceAlertContact)

	require.Len(t, env.provider.messages, 3)
	assert.Equal(t, "+15551230000", env.provider.messages[0].Phone)
	assert.Contains(t, env.provider.messages[0].Text, "https://checkin.example.com/api/v1/sessions/"+s.ID+"/location")
	assert.Equal(t, "+15551230001", env.provider.messages[1].Phone)
	assert.Equal(t, "+15551230002", env.provider.messages[2].Phone)

	require.Len(t, env.provider.calls, 1)
	assert.Equal(t, voiceCall{Phone: "+15551230001", SessionID: s.ID, SubjectPhone: "+15551230000"}, env.provider.calls[0])
}

func TestLadder_ContactFailureIsIsolated(t *testing.T) {
	env := newTestEnv(t)
	s := escalated(t, env)
	env.provider.fail["+15551230001"] = true

	report := env.ladder.Run(context.Background(), s)

	assert.Equal(t, 1, report.AlertsSent)
	assert.Equal(t, 1, report.AlertsFailed)
	assert.True(t, report.VoiceAlertStarted, "voice alert still fires")

	events, err := env.store.ListEvents(context.Background(), s.ID)
	require.NoError(t, err)

	var failed, sent map[string]any
	for _, e := range events {
		switch e.EventType {
		case models.EventAlertFailed:
			require.NoError(t, json.Unmarshal(e.Payload, &failed))
		case models.EventAlertSent:
			require.NoError(t, json.Unmarshal(e.Payload, &sent))
		}
	}
	assert.Equal(t, "+15551230001", failed["contact"])
	assert.Equal(t, float64(400), failed["status_code"])
	assert.Equal(t, "+15551230002", sent["contact"])
	assert.Equal(t, 1, count(env.eventTypes(t, s.ID), models.EventVoiceAlertInitiated))
}

func TestLadder_EverySendFailsStatusStaysEscalated(t *testing.T) {
	env := newTestEnv(t)
	s := escalated(t, env)
	env.provider.fail["+15551230000"] = true
	env.provider.fail["+15551230001"] = true
	env.provider.fail["+15551230002"] = true
	env.provider.failVoice = true

	report := env.ladder.Run(context.Background(), s)

	assert.False(t, report.LocationRequested)
	assert.Equal(t, 2, report.AlertsFailed)
	assert.False(t, report.VoiceAlertStarted)
	assert.Equal(t, models.StatusEscalated, env.status(t, s.ID))

	types := env.eventTypes(t, s.ID)
	assert.Equal(t, 1, count(types, models.EventLocationRequestFailed))
	assert.Equal(t, 2, count(types, models.EventAlertFailed))
	assert.Equal(t, 1, count(types, models.EventVoiceAlertFailed))
}

func TestLadder_PrimaryFallsBackToLowestOrder(t *testing.T) {
	env := newTestEnv(t)
	s := escalated(t, env)
	for i := range s.Contacts {
		s.Contacts[i].IsPrimary = false
	}
	s.Contacts[0].DisplayOrder = 5

	env.ladder.Run(context.Background(), s)

	require.Len(t, env.provider.calls, 1)
	assert.Equal(t, "+15551230002", env.provider.calls[0].Phone)
}

func TestLadder_AlertTextCarriesLocation(t *testing.T) {
	env := newTestEnv(t)
	s := escalated(t, env)
	loc := "Main St library"
	s.Location = &loc

	env.ladder.Run(context.Background(), s)

	assert.Contains(t, env.provider.messages[1].Text, "Last known location: Main St library")
}
