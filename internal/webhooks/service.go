/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package webhooks delivers notifications as signed JSON to a generic HTTP endpoint.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/loopcast/internal/notifications"
	"github.com/friendsincode/loopcast/internal/version"
)

// Payload is the body posted to the endpoint.
type Payload struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Level     string `json:"level"`
	Timestamp string `json:"timestamp"`
}

// Sink posts notifications to one URL.
type Sink struct {
	url    string
	secret string
	client *http.Client
}

// NewSink creates a webhook sink. When secret is set every request carries
// an HMAC-SHA256 signature of the body.
func NewSink(url, secret string, client *http.Client) *Sink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Sink{url: url, secret: secret, client: client}
}

func (s *Sink) Name() string { return "webhook" }

// Send posts n.
func (s *Sink) Send(ctx context.Context, n notifications.Notification) error {
	body, err := json.Marshal(Payload{
		ID:        uuid.NewString(),
		Event:     string(n.Event),
		Title:     n.Title,
		Body:      n.Body,
		Level:     string(n.Level),
		Timestamp: n.At.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Loopcast-Webhook/"+version.Version)
	req.Header.Set("X-Loopcast-Event", string(n.Event))
	req.Header.Set("X-Loopcast-Timestamp", strconv.FormatInt(n.At.Unix(), 10))
	if s.secret != "" {
		req.Header.Set("X-Loopcast-Signature", Sign(body, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the signature header value for body.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
