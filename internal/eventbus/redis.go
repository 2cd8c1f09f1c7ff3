/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/loopcast/internal/events"
)

// LastEventsKey is a hash of event type -> last encoded message, so a late
// reader can see the current state without waiting for the next event.
const LastEventsKey = "loopcast:last_events"

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     4,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func newRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}

// RedisSink publishes events on Redis pub/sub channels.
type RedisSink struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisSink connects and pings Redis.
func NewRedisSink(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisSink, error) {
	client := newRedisClient(cfg)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	logger.Info().Str("addr", cfg.Addr).Msg("redis event sink connected")
	return &RedisSink{client: client, logger: logger}, nil
}

func (s *RedisSink) Name() string { return "redis" }

// Publish sends data on the event's channel and records it as the latest.
func (s *RedisSink) Publish(ctx context.Context, eventType events.EventType, data []byte) error {
	pipe := s.client.Pipeline()
	pipe.Publish(ctx, SubjectPrefix+string(eventType), data)
	pipe.HSet(ctx, LastEventsKey, string(eventType), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish %s: %w", eventType, err)
	}
	return nil
}

// Close closes the client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// LastEvents returns the latest message per event type.
func LastEvents(ctx context.Context, cfg RedisConfig) (map[events.EventType]*Message, error) {
	client := newRedisClient(cfg)
	defer client.Close()

	raw, err := client.HGetAll(ctx, LastEventsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read last events: %w", err)
	}
	out := make(map[events.EventType]*Message, len(raw))
	for k, v := range raw {
		msg, err := Decode([]byte(v))
		if err != nil {
			continue
		}
		out[events.EventType(k)] = msg
	}
	return out, nil
}

// TailRedis calls fn for each mirrored event until ctx ends.
func TailRedis(ctx context.Context, cfg RedisConfig, fn func(*Message)) error {
	client := newRedisClient(cfg)
	defer client.Close()

	pubsub := client.PSubscribe(ctx, SubjectPrefix+"*")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := Decode([]byte(m.Payload))
			if err != nil {
				continue
			}
			fn(msg)
		}
	}
}
