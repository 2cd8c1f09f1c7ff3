/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package notifications turns rotation events into operator notifications.
// Delivery is fire-and-forget: producers never wait on a sink.
package notifications

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/loopcast/internal/config"
	"github.com/friendsincode/loopcast/internal/events"
	"github.com/friendsincode/loopcast/internal/telemetry"
)

// Level selects the presentation of a notification.
type Level string

const (
	LevelInfo     Level = "info"
	LevelSuccess  Level = "success"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelLive     Level = "live"
	LevelProgress Level = "progress"
	LevelMuted    Level = "muted"
)

// Notification is one message for operators.
type Notification struct {
	Event events.EventType `json:"event"`
	Title string           `json:"title"`
	Body  string           `json:"body"`
	Level Level            `json:"level"`
	At    time.Time        `json:"timestamp"`
}

// Sink delivers notifications somewhere.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// SettingsSource yields the current settings snapshot.
type SettingsSource interface {
	Current() *config.Settings
}

const queueSize = 64

// Service subscribes to the event bus and delivers formatted notifications.
type Service struct {
	bus      *events.Bus
	settings SettingsSource
	sinks    []Sink
	logger   zerolog.Logger

	queue chan Notification

	mu      sync.RWMutex
	running bool
}

// NewService creates a notification service. With no sinks it only logs.
func NewService(bus *events.Bus, settings SettingsSource, logger zerolog.Logger, sinks ...Sink) *Service {
	return &Service{
		bus:      bus,
		settings: settings,
		sinks:    sinks,
		logger:   logger.With().Str("component", "notifications").Logger(),
		queue:    make(chan Notification, queueSize),
	}
}

// Notify queues n for delivery. It never blocks; a full queue drops n.
func (s *Service) Notify(n Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	select {
	case s.queue <- n:
	default:
		telemetry.NotificationsDroppedTotal.WithLabelValues("queue_full").Inc()
		s.logger.Warn().Str("title", n.Title).Msg("notification queue full, dropping")
	}
}

// Announce formats a lifecycle event and queues it directly. Used where the
// bus subscription may not be running yet, or is about to stop.
func (s *Service) Announce(et events.EventType, p events.Payload) {
	if n, ok := s.format(et, p); ok {
		s.Notify(n)
	}
}

// Running reports whether Start is active.
func (s *Service) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Start consumes bus events and delivers queued notifications until ctx ends.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info().Int("sinks", len(s.sinks)).Msg("notification service started")

	stream := s.bus.SubscribeAll(ctx.Done(), events.AllTypes, 16)
	for {
		select {
		case <-ctx.Done():
			s.drain()
			s.logger.Info().Msg("notification service stopping")
			return
		case tg, ok := <-stream:
			if !ok {
				stream = nil
				continue
			}
			if n, ok := s.format(tg.Type, tg.Payload); ok {
				s.Notify(n)
			}
		case n := <-s.queue:
			s.deliver(ctx, n)
		}
	}
}

// drain delivers what is already queued, bounded so shutdown cannot hang.
func (s *Service) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case n := <-s.queue:
			s.deliver(ctx, n)
		default:
			return
		}
	}
}

func (s *Service) deliver(ctx context.Context, n Notification) {
	s.logger.Info().Str("event", string(n.Event)).Str("title", n.Title).Msg(n.Body)
	for _, sink := range s.sinks {
		sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := sink.Send(sctx, n); err != nil {
			s.logger.Error().Err(err).Str("sink", sink.Name()).Str("title", n.Title).Msg("notification delivery failed")
		}
		cancel()
	}
}

func (s *Service) format(et events.EventType, p events.Payload) (Notification, bool) {
	str := func(k string) string {
		v, _ := p[k].(string)
		return v
	}
	groups := strings.Join(stringList(p["groups"]), ", ")
	n := Notification{Event: et}

	switch et {
	case events.EventServiceStarted:
		n.Title, n.Body, n.Level = "Automation Started", "24/7 stream automation is online", LevelSuccess
	case events.EventServiceStopping:
		n.Title, n.Body, n.Level = "Automation Shutting Down", "24/7 stream automation is going offline", LevelWarning
	case events.EventUpdateAvailable:
		n.Title, n.Level = "Update Available", LevelInfo
		n.Body = fmt.Sprintf("Version %s is available (running %s)\n%s", str("latest"), str("current"), str("url"))
		if p["critical"] == true {
			n.Title, n.Level = "Critical Update Available", LevelWarning
			n.Body += "\nThis release fixes downloads; update soon."
		}
	case events.EventRotationSelected:
		n.Title, n.Body, n.Level = "Content Rotation Started", "Downloading: "+groups, LevelProgress
	case events.EventNextReady:
		n.Title, n.Body, n.Level = "Next Rotation Ready", "Downloaded: "+groups, LevelSuccess
		if p["degraded"] == true {
			n.Body += " (some items failed)"
			n.Level = LevelWarning
		}
	case events.EventRotationSwitched:
		n.Title, n.Body, n.Level = "Now Playing", "Switched to: **"+groups+"**", LevelSuccess
	case events.EventRotationFailed:
		n.Title, n.Body, n.Level = "Rotation Error", str("reason"), LevelError
	case events.EventDownloadWarning:
		n.Title, n.Body, n.Level = "Download Warning", str("reason"), LevelWarning
	case events.EventSessionResumed:
		n.Title, n.Level = "Session Resumed", LevelInfo
		n.Body = fmt.Sprintf("Resumed session **%s**", str("session_id"))
		if file := str("file"); file != "" {
			n.Body += "\nResuming **" + file + "**"
		}
	case events.EventItemAdvanced:
		if s.settings == nil || !s.settings.Current().NotifyVideoTransitions {
			return n, false
		}
		n.Title, n.Body, n.Level = "Video Transition", "**"+str("file")+"**", LevelMuted
		if cat := str("category"); cat != "" {
			n.Body += " (" + cat + ")"
		}
	case events.EventTempPlaybackStart:
		n.Title, n.Level = "Temp Playback Activated", LevelProgress
		n.Body = fmt.Sprintf("Long download detected, streaming %v ready files while download continues", p["files"])
	case events.EventTempPlaybackEnd:
		n.Title, n.Body, n.Level = "Temp Playback Complete", "Download finished", LevelSuccess
	case events.EventStreamerLive:
		n.Title, n.Body, n.Level = "Streamer is LIVE!", "24/7 stream paused", LevelLive
	case events.EventStreamerOffline:
		n.Title, n.Body, n.Level = "Streamer is OFFLINE", "24/7 stream resumed", LevelSuccess
	case events.EventFreezeDetected:
		n.Title, n.Body, n.Level = "Render Freeze Detected", "Restarting the control surface", LevelWarning
	case events.EventFreezeRecovered:
		n.Title, n.Body, n.Level = "Render Freeze Recovered", "Control surface restarted and reconnected", LevelSuccess
	case events.EventFreezeBlocked:
		n.Title, n.Level = "Freeze Recovery Failed", LevelError
		n.Body = "Automatic recovery is suspended until a manual reconnect. " + str("detail")
	case events.EventPublisherFailed:
		n.Title, n.Level = str("platform")+" Stream Update Failed", LevelError
		n.Body = "Failed to update stream info on " + str("platform")
	default:
		return n, false
	}
	return n, true
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
