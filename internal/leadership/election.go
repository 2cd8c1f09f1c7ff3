/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package leadership keeps a Redis lease on a live directory so that only one
// loopcast instance rotates it. Other instances wait on standby and take over
// when the lease expires.
package leadership

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/loopcast/internal/telemetry"
)

const (
	keyPrefix = "loopcast:lease:"

	// leader must renew before this expires
	defaultLeaseDuration = 15 * time.Second

	defaultRenewalInterval = 5 * time.Second

	// how often standbys try to take the lease
	defaultRetryInterval = 2 * time.Second
)

// renewScript extends the lease only while we still own it.
var renewScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// ErrLeaseLost is the cancellation cause handed to lead when another
// instance takes over.
var ErrLeaseLost = errors.New("instance lease lost")

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// ElectionConfig configures the lease.
type ElectionConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Key is the Redis key of the lease; see KeyFor.
	Key string

	LeaseDuration   time.Duration
	RenewalInterval time.Duration
	RetryInterval   time.Duration

	// InstanceID identifies this process in the lease value.
	InstanceID string
}

// KeyFor derives the lease key for a live directory.
func KeyFor(liveDir string) string {
	sum := sha1.Sum([]byte(filepath.Clean(liveDir)))
	return keyPrefix + hex.EncodeToString(sum[:8])
}

// Election campaigns for the lease and runs the leader's work while held.
type Election struct {
	client *redis.Client
	logger zerolog.Logger
	config ElectionConfig

	mu       sync.Mutex
	isLeader bool
}

// NewElection connects to Redis.
func NewElection(config ElectionConfig, logger zerolog.Logger) (*Election, error) {
	if config.Key == "" {
		return nil, errors.New("lease key required")
	}
	if config.LeaseDuration <= 0 {
		config.LeaseDuration = defaultLeaseDuration
	}
	if config.RenewalInterval <= 0 {
		config.RenewalInterval = defaultRenewalInterval
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = defaultRetryInterval
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis for instance lease: %w", err)
	}

	logger.Info().
		Str("redis_addr", config.RedisAddr).
		Str("instance_id", config.InstanceID).
		Str("key", config.Key).
		Msg("connected to Redis for instance lease")

	return &Election{
		client: client,
		logger: logger.With().Str("component", "leadership").Logger(),
		config: config,
	}, nil
}

// Close releases the Redis connection.
func (e *Election) Close() error {
	return e.client.Close()
}

// IsLeader reports whether this instance holds the lease.
func (e *Election) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader
}

// Leader returns the instance currently holding the lease, or "".
func (e *Election) Leader(ctx context.Context) (string, error) {
	id, err := e.client.Get(ctx, e.config.Key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get leader: %w", err)
	}
	return id, nil
}

// Run campaigns until ctx ends. While the lease is held, lead runs with a
// context that is cancelled with cause ErrLeaseLost when the lease is lost;
// after lead returns the campaign resumes. On exit the lease is released.
func (e *Election) Run(ctx context.Context, lead func(ctx context.Context)) {
	e.logger.Info().Str("instance_id", e.config.InstanceID).Dur("lease", e.config.LeaseDuration).Msg("campaigning for live directory")
	defer e.release()

	retry := time.NewTicker(e.config.RetryInterval)
	defer retry.Stop()
	for {
		acquired, err := e.acquire(ctx)
		if err != nil && ctx.Err() == nil {
			e.logger.Error().Err(err).Msg("lease acquire failed")
		}
		if acquired {
			e.hold(ctx, lead)
		}
		select {
		case <-ctx.Done():
			return
		case <-retry.C:
		}
	}
}

// hold runs lead and renews the lease until either stops.
func (e *Election) hold(ctx context.Context, lead func(ctx context.Context)) {
	e.setLeader(true)
	defer e.setLeader(false)

	leadCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		lead(leadCtx)
	}()
	defer func() {
		cancel(nil)
		<-done
	}()

	renew := time.NewTicker(e.config.RenewalInterval)
	defer renew.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-renew.C:
			ok, err := e.renew(ctx)
			if err != nil {
				// a failed renewal keeps the lead until the lease would have run out
				e.logger.Warn().Err(err).Msg("lease renewal failed")
				continue
			}
			if !ok {
				e.logger.Warn().Str("instance_id", e.config.InstanceID).Msg("lease lost to another instance")
				cancel(ErrLeaseLost)
				return
			}
		}
	}
}

func (e *Election) acquire(ctx context.Context) (bool, error) {
	ok, err := e.client.SetNX(ctx, e.config.Key, e.config.InstanceID, e.config.LeaseDuration).Result()
	if err != nil {
		return false, fmt.Errorf("set lease: %w", err)
	}
	if ok {
		return true, nil
	}
	// a restarted process with a fixed instance id picks its own lease back up
	return e.renew(ctx)
}

func (e *Election) renew(ctx context.Context) (bool, error) {
	n, err := renewScript.Run(ctx, e.client, []string{e.config.Key}, e.config.InstanceID, e.config.LeaseDuration.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return n == 1, nil
}

func (e *Election) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, e.client, []string{e.config.Key}, e.config.InstanceID).Err(); err != nil {
		e.logger.Error().Err(err).Msg("release lease")
		return
	}
	e.logger.Info().Msg("released live directory lease")
}

func (e *Election) setLeader(v bool) {
	e.mu.Lock()
	changed := e.isLeader != v
	e.isLeader = v
	e.mu.Unlock()
	if !changed {
		return
	}
	if v {
		telemetry.InstanceLockHeld.Set(1)
		telemetry.InstanceLockChangesTotal.WithLabelValues("acquired").Inc()
		e.logger.Info().Str("instance_id", e.config.InstanceID).Msg("acquired live directory lease")
	} else {
		telemetry.InstanceLockHeld.Set(0)
		telemetry.InstanceLockChangesTotal.WithLabelValues("lost").Inc()
	}
}
