/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/loopcast/internal/events"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "loopcast",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSSink publishes events on NATS subjects.
type NATSSink struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// NewNATSSink connects to NATS.
func NewNATSSink(cfg NATSConfig, logger zerolog.Logger) (*NATSSink, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	logger.Info().Str("url", conn.ConnectedUrl()).Msg("nats event sink connected")
	return &NATSSink{conn: conn, logger: logger}, nil
}

func (s *NATSSink) Name() string { return "nats" }

// Publish sends data on the event's subject. NATS buffers while
// reconnecting, so only a closed connection fails here.
func (s *NATSSink) Publish(_ context.Context, eventType events.EventType, data []byte) error {
	if err := s.conn.Publish(SubjectPrefix+string(eventType), data); err != nil {
		return fmt.Errorf("nats publish %s: %w", eventType, err)
	}
	return nil
}

// Close drains and closes the connection.
func (s *NATSSink) Close() error {
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return err
	}
	return nil
}

// TailNATS calls fn for each mirrored event until ctx ends.
func TailNATS(ctx context.Context, cfg NATSConfig, fn func(*Message)) error {
	conn, err := nats.Connect(cfg.URL, nats.Name(cfg.Name+"-tail"), nats.Timeout(cfg.Timeout))
	if err != nil {
		return fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	defer conn.Close()

	ch := make(chan *nats.Msg, 64)
	sub, err := conn.ChanSubscribe(SubjectPrefix+">", ch)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-ch:
			msg, err := Decode(m.Data)
			if err != nil {
				continue
			}
			fn(msg)
		}
	}
}
