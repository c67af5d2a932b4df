package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

var ErrMiss = errors.New("cache miss")

// KV small key/value surface used for scheduler heartbeats and diagnostics
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// Keys
const (
	KeySchedulerLastTick = "checkin:scheduler:last_tick"
	KeySchedulerLastRun  = "checkin:scheduler:last_run" // JSON summary of the last completed tick
)

// RedisKV holds the scheduler heartbeat in Redis. The poller writes
// last_tick/last_run after every tick and the diagnostics endpoint reads
// them back, so the two can run as separate processes.
type RedisKV struct {
	c *redis.Client
}

func NewRedisKV(c *redis.Client) *RedisKV { return &RedisKV{c: c} }

// Get returns ErrMiss for absent or expired keys
func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.c.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

// ============================================
// Scheduler heartbeat
// ============================================

// Heartbeat last scheduler tick as seen by diagnostics
type Heartbeat struct {
	LastTick *time.Time
	LastRun  json.RawMessage
}

// WriteHeartbeat stores the tick time and its JSON summary. The tick time is
// written first; a failed summary leaves the previous one in place.
func WriteHeartbeat(ctx context.Context, kv KV, at time.Time, summary any) error {
	if err := kv.Set(ctx, KeySchedulerLastTick, at.UTC().Format(time.RFC3339Nano), 0); err != nil {
		return fmt.Errorf("failed to write last tick: %w", err)
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal tick summary: %w", err)
	}
	if err := kv.Set(ctx, KeySchedulerLastRun, string(data), 0); err != nil {
		return fmt.Errorf("failed to write last run: %w", err)
	}
	return nil
}

// ReadHeartbeat never fails: missing or malformed values are left empty
func ReadHeartbeat(ctx context.Context, kv KV) Heartbeat {
	var hb Heartbeat
	if v, err := kv.Get(ctx, KeySchedulerLastTick); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			hb.LastTick = &t
		}
	}
	if v, err := kv.Get(ctx, KeySchedulerLastRun); err == nil && json.Valid([]byte(v)) {
		hb.LastRun = json.RawMessage(v)
	}
	return hb
}
