/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus mirrors in-process rotation events to an external broker
// so dashboards and other processes can follow the rotation.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/loopcast/internal/events"
)

// SubjectPrefix prefixes every mirrored channel or subject.
const SubjectPrefix = "loopcast.events."

// Sink delivers an encoded event to a broker.
type Sink interface {
	Name() string
	Publish(ctx context.Context, eventType events.EventType, data []byte) error
	Close() error
}

// Message is the wire form of a mirrored event.
type Message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func encode(eventType events.EventType, payload events.Payload, nodeID string, now time.Time) ([]byte, error) {
	return json.Marshal(Message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: now.UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

// Decode parses a mirrored message.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode event message: %w", err)
	}
	return &msg, nil
}

// MirrorConfig tunes the circuit breaker in front of the sink.
type MirrorConfig struct {
	NodeID        string
	MaxFailures   int
	RetryInterval time.Duration
	BufferSize    int
}

// DefaultMirrorConfig returns the defaults.
func DefaultMirrorConfig() MirrorConfig {
	return MirrorConfig{
		MaxFailures:   5,
		RetryInterval: 30 * time.Second,
		BufferSize:    64,
	}
}

// Mirror forwards bus events to a sink. After MaxFailures consecutive
// failures the sink is bypassed until RetryInterval has passed.
type Mirror struct {
	bus    *events.Bus
	sink   Sink
	cfg    MirrorConfig
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	failCount int
	open      bool
	openedAt  time.Time
}

// NewMirror creates a mirror. A blank NodeID gets a random one.
func NewMirror(bus *events.Bus, sink Sink, cfg MirrorConfig, logger zerolog.Logger) *Mirror {
	def := DefaultMirrorConfig()
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}
	return &Mirror{
		bus:    bus,
		sink:   sink,
		cfg:    cfg,
		logger: logger.With().Str("component", "eventbus").Str("sink", sink.Name()).Logger(),
		now:    time.Now,
	}
}

// Run forwards events until ctx is cancelled, then closes the sink.
func (m *Mirror) Run(ctx context.Context) {
	m.logger.Info().Str("node_id", m.cfg.NodeID).Msg("event mirror started")
	defer func() {
		if err := m.sink.Close(); err != nil {
			m.logger.Warn().Err(err).Msg("close sink")
		}
		m.logger.Info().Msg("event mirror stopped")
	}()

	for tg := range m.bus.SubscribeAll(ctx.Done(), events.AllTypes, m.cfg.BufferSize) {
		m.forward(ctx, tg.Type, tg.Payload)
	}
}

func (m *Mirror) forward(ctx context.Context, eventType events.EventType, payload events.Payload) {
	if !m.allow() {
		return
	}
	data, err := encode(eventType, payload, m.cfg.NodeID, m.now())
	if err != nil {
		m.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("encode event")
		return
	}
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := m.sink.Publish(pctx, eventType, data); err != nil {
		m.failure(err, eventType)
		return
	}
	m.mu.Lock()
	m.failCount = 0
	m.mu.Unlock()
}

func (m *Mirror) allow() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return true
	}
	if m.now().Sub(m.openedAt) < m.cfg.RetryInterval {
		return false
	}
	// half-open: let one through; a failure reopens immediately
	m.open = false
	m.failCount = m.cfg.MaxFailures - 1
	m.logger.Info().Msg("retrying event sink")
	return true
}

func (m *Mirror) failure(err error, eventType events.EventType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCount++
	m.logger.Warn().Err(err).Str("event_type", string(eventType)).Int("fail_count", m.failCount).Msg("publish to sink failed")
	if m.failCount >= m.cfg.MaxFailures && !m.open {
		m.open = true
		m.openedAt = m.now()
		m.logger.Warn().Dur("retry_in", m.cfg.RetryInterval).Msg("event sink failing, pausing mirror")
	}
}
