/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/friendsincode/loopcast/internal/telemetry"
)

// Discord allows 30 webhook messages per 60 seconds.
const (
	discordBurst  = 30
	discordWindow = 60 * time.Second
)

// ErrRateLimited marks a notification dropped by a rate limit.
var ErrRateLimited = errors.New("rate limited")

var levelColors = map[Level]int{
	LevelInfo:     0x0099FF,
	LevelSuccess:  0x00FF00,
	LevelWarning:  0xFF9900,
	LevelError:    0xFF0000,
	LevelLive:     0x9146FF,
	LevelProgress: 0xFFA500,
	LevelMuted:    0x808080,
}

// Discord posts embeds to a webhook URL.
type Discord struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewDiscord creates a Discord sink.
func NewDiscord(webhookURL string, client *http.Client) *Discord {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Discord{
		url:     webhookURL,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(discordWindow/discordBurst), discordBurst),
	}
}

func (d *Discord) Name() string { return "discord" }

// Send posts n. Over the local budget, or on a 429, n is dropped.
func (d *Discord) Send(ctx context.Context, n Notification) error {
	if !d.limiter.Allow() {
		telemetry.NotificationsDroppedTotal.WithLabelValues("rate_limited").Inc()
		return fmt.Errorf("discord: %w locally, dropping %q", ErrRateLimited, n.Title)
	}

	payload := map[string]any{
		"embeds": []map[string]any{{
			"title":       n.Title,
			"description": n.Body,
			"color":       levelColors[n.Level],
			"timestamp":   n.At.UTC().Format(time.RFC3339),
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("discord: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		telemetry.NotificationsDroppedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("discord: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		telemetry.NotificationsDroppedTotal.WithLabelValues("rate_limited").Inc()
		return fmt.Errorf("discord: %w by server, dropping %q", ErrRateLimited, n.Title)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		telemetry.NotificationsDroppedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("discord: status %d", resp.StatusCode)
	}
	return nil
}
