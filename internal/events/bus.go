/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventServiceStarted  EventType = "service.started"
	EventServiceStopping EventType = "service.stopping"
	EventUpdateAvailable EventType = "service.update_available"

	EventStateChanged     EventType = "rotation.state"
	EventRotationSelected EventType = "rotation.selected"
	EventNextReady        EventType = "rotation.next_ready"
	EventRotationSwitched EventType = "rotation.switched"
	EventRotationFailed   EventType = "rotation.failed"
	EventSessionResumed   EventType = "rotation.resumed"
	EventDownloadWarning  EventType = "download.warning"

	EventItemAdvanced      EventType = "playback.advanced"
	EventExhausted         EventType = "playback.exhausted"
	EventTempPlaybackStart EventType = "playback.temp_start"
	EventTempPlaybackEnd   EventType = "playback.temp_end"

	EventStreamerLive    EventType = "live.started"
	EventStreamerOffline EventType = "live.ended"
	EventPaused          EventType = "control.paused"
	EventResumed         EventType = "control.resumed"

	EventFreezeDetected  EventType = "freeze.detected"
	EventFreezeRecovered EventType = "freeze.recovered"
	EventFreezeBlocked   EventType = "freeze.blocked"

	EventPublisherFailed EventType = "publisher.failed"
)

// AllTypes lists every event type, for subscribers that mirror everything.
var AllTypes = []EventType{
	EventServiceStarted, EventServiceStopping, EventUpdateAvailable,
	EventStateChanged, EventRotationSelected, EventNextReady, EventRotationSwitched,
	EventRotationFailed, EventSessionResumed, EventDownloadWarning,
	EventItemAdvanced, EventExhausted, EventTempPlaybackStart, EventTempPlaybackEnd,
	EventStreamerLive, EventStreamerOffline, EventPaused, EventResumed,
	EventFreezeDetected, EventFreezeRecovered, EventFreezeBlocked,
	EventPublisherFailed,
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Publisher is what producers need from a bus.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// Bus implements a simple in-process pubsub. Publish never blocks: a full
// subscriber misses the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	return b.SubscribeSize(eventType, 8)
}

// SubscribeSize registers a subscriber with a custom buffer.
func (b *Bus) SubscribeSize(eventType EventType, size int) Subscriber {
	ch := make(Subscriber, size)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. The payload map is shared; receivers
// must not modify it.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	b.subs[eventType] = subs
}

// Tagged pairs a payload with its type, for fan-in subscribers.
type Tagged struct {
	Type    EventType
	Payload Payload
}

// SubscribeAll fans every listed event type into one channel until done is
// closed. The returned channel is closed after done.
func (b *Bus) SubscribeAll(done <-chan struct{}, types []EventType, size int) <-chan Tagged {
	out := make(chan Tagged, size)
	var wg sync.WaitGroup
	for _, et := range types {
		sub := b.SubscribeSize(et, size)
		wg.Add(1)
		go func(et EventType, sub Subscriber) {
			defer wg.Done()
			defer b.Unsubscribe(et, sub)
			for {
				select {
				case <-done:
					return
				case p, ok := <-sub:
					if !ok {
						return
					}
					select {
					case out <- Tagged{Type: et, Payload: p}:
					case <-done:
						return
					}
				}
			}
		}(et, sub)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
