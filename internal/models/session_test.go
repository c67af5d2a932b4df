package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]SessionStatus{
		{StatusPending, StatusActive},
		{StatusPending, StatusCancelled},
		{StatusPending, StatusCompleted},
		{StatusActive, StatusPending},
		{StatusActive, StatusCompleted},
		{StatusActive, StatusEscalated},
		{StatusActive, StatusCancelled},
	}
	for _, edge := range allowed {
		assert.True(t, CanTransition(edge[0], edge[1]), "%s -> %s", edge[0], edge[1])
	}

	denied := [][2]SessionStatus{
		{StatusPending, StatusEscalated},
		{StatusCompleted, StatusPending},
		{StatusEscalated, StatusPending},
		{StatusEscalated, StatusCompleted},
		{StatusCancelled, StatusActive},
		{StatusCompleted, StatusCancelled},
		{StatusActive, StatusActive},
	}
	for _, edge := range denied {
		assert.False(t, CanTransition(edge[0], edge[1]), "%s -> %s", edge[0], edge[1])
	}
}

func TestSessionStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusActive.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusEscalated.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, SessionStatus("paused").Valid())
}

func TestSession_IsDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{ScheduledAt: now.Add(-time.Second)}
	assert.True(t, s.IsDue(now))

	s.ScheduledAt = now.Add(time.Second)
	assert.False(t, s.IsDue(now))

	// same instant expressed in another zone
	tz := time.FixedZone("UTC-7", -7*3600)
	s.ScheduledAt = now.In(tz)
	assert.True(t, s.IsDue(now))

	backoff := now.Add(time.Minute)
	s.NextAttemptAt = &backoff
	assert.False(t, s.IsDue(now))
}

func TestPrimaryContact_Flagged(t *testing.T) {
	contacts := []EmergencyContact{
		{Phone: "+15550000003", DisplayOrder: 2, IsPrimary: true},
		{Phone: "+15550000001", DisplayOrder: 0},
		{Phone: "+15550000002", DisplayOrder: 1, IsPrimary: true},
	}
	primary, ok := PrimaryContact(contacts)
	assert.True(t, ok)
	assert.Equal(t, "+15550000002", primary.Phone)
}

func TestPrimaryContact_FallbackToLowestOrder(t *testing.T) {
	contacts := []EmergencyContact{
		{Phone: "+15550000002", DisplayOrder: 5},
		{Phone: "+15550000001", DisplayOrder: 1},
	}
	primary, ok := PrimaryContact(contacts)
	assert.True(t, ok)
	assert.Equal(t, "+15550000001", primary.Phone)

	_, ok = PrimaryContact(nil)
	assert.False(t, ok)
}
