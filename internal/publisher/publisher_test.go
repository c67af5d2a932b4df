package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"wisefido-checkin/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionEvent(t *testing.T, eventType string, payload any) *models.Event {
	t.Helper()
	sid := "s-1"
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &models.Event{
		ID:        "e-1",
		SessionID: &sid,
		EventType: eventType,
		Payload:   data,
		CreatedAt: time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestRedisStreamSink_Publish(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sink := NewRedisStreamSink(client, "", 1000)
	event := sessionEvent(t, models.EventAlertSent, map[string]string{"contact": "+15551230001"})

	require.NoError(t, sink.Publish(context.Background(), event))

	msgs, err := client.XRange(context.Background(), DefaultEventStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var got models.Event
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &got))
	assert.Equal(t, models.EventAlertSent, got.EventType)
	assert.Equal(t, "s-1", *got.SessionID)
	assert.JSONEq(t, `{"contact":"+15551230001"}`, string(got.Payload))
}

type fakeMQTT struct {
	topics   []string
	payloads [][]byte
	retained []bool
	err      error
}

func (f *fakeMQTT) Publish(topic string, _ byte, retained bool, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	f.retained = append(f.retained, retained)
	return nil
}

func TestMQTTStatusSink_PublishesStatusChanges(t *testing.T) {
	client := &fakeMQTT{}
	sink := NewMQTTStatusSink(client, "wisefido/checkin", 1)

	event := sessionEvent(t, models.EventSessionEscalated, models.StatusChange{
		From: models.StatusActive, To: models.StatusEscalated, Trigger: "keyword",
	})
	require.NoError(t, sink.Publish(context.Background(), event))

	require.Len(t, client.topics, 1)
	assert.Equal(t, "wisefido/checkin/sessions/s-1/status", client.topics[0])
	assert.True(t, client.retained[0])

	var msg StatusMessage
	require.NoError(t, json.Unmarshal(client.payloads[0], &msg))
	assert.Equal(t, models.StatusEscalated, msg.Status)
	assert.Equal(t, models.StatusActive, msg.From)
	assert.Equal(t, models.EventSessionEscalated, msg.EventType)
}

func TestMQTTStatusSink_SkipsNonStatusEvents(t *testing.T) {
	client := &fakeMQTT{}
	sink := NewMQTTStatusSink(client, "", 0)

	require.NoError(t, sink.Publish(context.Background(),
		sessionEvent(t, models.EventAlertSent, map[string]string{"contact": "+1"})))
	require.NoError(t, sink.Publish(context.Background(),
		&models.Event{EventType: models.EventCallbackIgnored, Payload: json.RawMessage(`{}`)}))

	assert.Empty(t, client.topics)
}

func TestMQTTStatusSink_PropagatesClientError(t *testing.T) {
	client := &fakeMQTT{err: errors.New("not connected")}
	sink := NewMQTTStatusSink(client, "", 0)

	err := sink.Publish(context.Background(), sessionEvent(t, models.EventSessionCompleted,
		models.StatusChange{From: models.StatusActive, To: models.StatusCompleted}))
	assert.EqualError(t, err, "not connected")
}
