/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/friendsincode/loopcast/internal/events"
)

func startRedis(t *testing.T) RedisConfig {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	cfg := DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	return cfg
}

func TestRedisSinkRecordsLastEvent(t *testing.T) {
	cfg := startRedis(t)
	ctx := context.Background()

	sink, err := NewRedisSink(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedisSink: %v", err)
	}
	defer sink.Close()

	data, err := encode(events.EventRotationSwitched, events.Payload{"session_id": "s1"}, "node-a", time.Now())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := sink.Publish(ctx, events.EventRotationSwitched, data); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	last, err := LastEvents(ctx, cfg)
	if err != nil {
		t.Fatalf("LastEvents: %v", err)
	}
	msg := last[events.EventRotationSwitched]
	if msg == nil {
		t.Fatalf("no last event recorded: %v", last)
	}
	if msg.NodeID != "node-a" || msg.Payload["session_id"] != "s1" {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestMirrorForwardsToRedis(t *testing.T) {
	cfg := startRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink, err := NewRedisSink(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedisSink: %v", err)
	}

	got := make(chan *Message, 1)
	tailCtx, stopTail := context.WithCancel(ctx)
	defer stopTail()
	tailReady := make(chan struct{})
	go func() {
		close(tailReady)
		_ = TailRedis(tailCtx, cfg, func(m *Message) {
			select {
			case got <- m:
			default:
			}
		})
	}()
	<-tailReady

	bus := events.NewBus()
	m := NewMirror(bus, sink, MirrorConfig{NodeID: "n1"}, zerolog.Nop())
	mirrorDone := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(mirrorDone)
	}()

	// the subscriptions are set up asynchronously; publish until one lands
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case msg := <-got:
			if msg.EventType != events.EventItemAdvanced || msg.NodeID != "n1" {
				t.Fatalf("msg = %+v", msg)
			}
			cancel()
			<-mirrorDone
			return
		case <-tick.C:
			bus.Publish(events.EventItemAdvanced, events.Payload{"file": "01_a.mp4"})
		case <-deadline:
			t.Fatalf("event never reached redis subscriber")
		}
	}
}

type flakySink struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *flakySink) Name() string { return "flaky" }
func (f *flakySink) Close() error { return nil }
func (f *flakySink) Publish(context.Context, events.EventType, []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func TestMirrorCircuitBreaker(t *testing.T) {
	sink := &flakySink{err: errors.New("down")}
	m := NewMirror(events.NewBus(), sink, MirrorConfig{MaxFailures: 2, RetryInterval: time.Minute}, zerolog.Nop())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		m.forward(ctx, events.EventPaused, events.Payload{})
	}
	if sink.calls != 2 {
		t.Fatalf("calls = %d, want 2 before the breaker opens", sink.calls)
	}

	now = now.Add(2 * time.Minute)
	sink.err = nil
	m.forward(ctx, events.EventPaused, events.Payload{})
	m.forward(ctx, events.EventPaused, events.Payload{})
	if sink.calls != 4 {
		t.Fatalf("calls = %d, want 4 after recovery", sink.calls)
	}
}

func TestNATSConnectFailure(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.Timeout = 200 * time.Millisecond
	if _, err := NewNATSSink(cfg, zerolog.Nop()); err == nil {
		t.Fatalf("expected connection error")
	}
}
