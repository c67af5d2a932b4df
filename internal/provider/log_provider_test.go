package provider

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogProvider(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewLogProvider(zap.New(core))

	callID, err := p.StartInteraction(context.Background(), "+15551230000", "s-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(callID, "log-call-"))

	msgID, err := p.SendAlert(context.Background(), "+15551230001", "hello")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(msgID, "log-msg-"))

	_, err = p.StartVoiceAlert(context.Background(), "+15551230001", "s-1", "+15551230000")
	require.NoError(t, err)

	assert.Equal(t, 3, logs.Len())
	assert.Equal(t, "s-1", logs.All()[0].ContextMap()["session_id"])
}
