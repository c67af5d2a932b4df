package provider

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogProvider development transport: logs every request and reports success
type LogProvider struct {
	logger *zap.Logger
}

func NewLogProvider(logger *zap.Logger) *LogProvider {
	return &LogProvider{logger: logger}
}

func (p *LogProvider) StartInteraction(_ context.Context, phone, sessionID string) (string, error) {
	id := "log-call-" + uuid.NewString()
	p.logger.Info("Check-in call (log provider)",
		zap.String("phone", phone),
		zap.String("session_id", sessionID),
		zap.String("call_sid", id),
	)
	return id, nil
}

func (p *LogProvider) SendAlert(_ context.Context, phone, text string) (string, error) {
	id := "log-msg-" + uuid.NewString()
	p.logger.Info("Text message (log provider)",
		zap.String("phone", phone),
		zap.String("text", text),
		zap.String("message_sid", id),
	)
	return id, nil
}

func (p *LogProvider) StartVoiceAlert(_ context.Context, phone, sessionID, subjectPhone string) (string, error) {
	id := "log-call-" + uuid.NewString()
	p.logger.Info("Voice alert (log provider)",
		zap.String("phone", phone),
		zap.String("session_id", sessionID),
		zap.String("subject_phone", subjectPhone),
		zap.String("call_sid", id),
	)
	return id, nil
}
