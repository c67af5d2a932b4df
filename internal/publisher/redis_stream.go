package publisher

import (
	"context"
	"fmt"

	rediscommon "wisefido-checkin/internal/common/redis"
	"wisefido-checkin/internal/models"

	"github.com/go-redis/redis/v8"
)

const DefaultEventStream = "checkin:events"

// RedisStreamSink mirrors audit events into a capped Redis stream
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamSink(client *redis.Client, stream string, maxLen int64) *RedisStreamSink {
	if stream == "" {
		stream = DefaultEventStream
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Publish(ctx context.Context, event *models.Event) error {
	if _, err := rediscommon.PublishJSONToStream(ctx, s.client, s.stream, s.maxLen, event); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", s.stream, err)
	}
	return nil
}
