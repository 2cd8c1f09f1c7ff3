/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"testing"
	"time"
)

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBus()
	sub := b.SubscribeSize(EventItemAdvanced, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(EventItemAdvanced, Payload{"n": i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
	if got := (<-sub)["n"]; got != 0 {
		t.Fatalf("first payload = %v, want 0", got)
	}
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(EventExhausted)
	b.Unsubscribe(EventExhausted, sub)
	if _, ok := <-sub; ok {
		t.Fatalf("expected closed channel")
	}
	// a second unsubscribe of the same channel is a no-op
	b.Unsubscribe(EventExhausted, sub)
	b.Publish(EventExhausted, Payload{})
}

func TestSubscribeAll(t *testing.T) {
	b := NewBus()
	done := make(chan struct{})
	ch := b.SubscribeAll(done, []EventType{EventPaused, EventResumed}, 4)

	b.Publish(EventPaused, Payload{"reason": "manual"})
	b.Publish(EventResumed, Payload{})

	seen := map[EventType]bool{}
	for i := 0; i < 2; i++ {
		select {
		case tg := <-ch:
			seen[tg.Type] = true
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	if !seen[EventPaused] || !seen[EventResumed] {
		t.Fatalf("seen = %v", seen)
	}

	close(done)
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected channel to close after done")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed")
	}
}
