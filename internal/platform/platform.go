/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package platform publishes stream metadata to streaming platforms.
package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/friendsincode/loopcast/internal/config"
	"github.com/friendsincode/loopcast/internal/telemetry"
)

// ErrCategoryNotFound is returned when a platform has no category by that name.
var ErrCategoryNotFound = errors.New("category not found")

// Publisher is one platform's metadata capability.
type Publisher interface {
	Name() string
	SetTitle(ctx context.Context, title string) error
	SetCategory(ctx context.Context, category string) error
	IsLive(ctx context.Context, handle string) (bool, error)
}

// APIError is a non-2xx platform response.
type APIError struct {
	Platform string
	Op       string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Platform, e.Op, e.Status, e.Body)
}

// Manager fans calls out to every configured publisher. One failing
// platform never prevents the others from being updated.
type Manager struct {
	publishers []Publisher
	logger     zerolog.Logger
}

// NewManager wraps the given publishers.
func NewManager(logger zerolog.Logger, publishers ...Publisher) *Manager {
	return &Manager{
		publishers: publishers,
		logger:     logger.With().Str("component", "platforms").Logger(),
	}
}

// Names lists the configured platforms.
func (m *Manager) Names() []string {
	out := make([]string, len(m.publishers))
	for i, p := range m.publishers {
		out[i] = p.Name()
	}
	return out
}

// Empty reports whether no publisher is configured.
func (m *Manager) Empty() bool {
	return len(m.publishers) == 0
}

// SetTitle updates the title everywhere and returns the per-platform failures.
func (m *Manager) SetTitle(ctx context.Context, title string) map[string]error {
	if title == "" {
		return nil
	}
	return m.each(ctx, "set_title", func(ctx context.Context, p Publisher) error {
		return p.SetTitle(ctx, title)
	})
}

// SetCategories sets each platform's category from a platform -> category
// map. Platforms without an entry are left alone.
func (m *Manager) SetCategories(ctx context.Context, categories map[string]string) map[string]error {
	if len(categories) == 0 {
		return nil
	}
	return m.each(ctx, "set_category", func(ctx context.Context, p Publisher) error {
		cat := lookupFold(categories, p.Name())
		if cat == "" {
			return nil
		}
		return p.SetCategory(ctx, cat)
	})
}

// AnyLive reports whether any handle is live on its platform. handles maps
// platform name to streamer handle. Lookup errors count as offline.
func (m *Manager) AnyLive(ctx context.Context, handles map[string]string) (bool, string) {
	for _, p := range m.publishers {
		handle := lookupFold(handles, p.Name())
		if handle == "" {
			continue
		}
		live, err := p.IsLive(ctx, handle)
		if err != nil {
			telemetry.PublisherErrorsTotal.WithLabelValues(p.Name(), "is_live").Inc()
			m.logger.Warn().Err(err).Str("platform", p.Name()).Str("handle", handle).Msg("live check failed")
			continue
		}
		if live {
			return true, p.Name() + ":" + handle
		}
	}
	return false, ""
}

func (m *Manager) each(ctx context.Context, op string, fn func(context.Context, Publisher) error) map[string]error {
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs map[string]error
	)
	for _, p := range m.publishers {
		wg.Add(1)
		go func(p Publisher) {
			defer wg.Done()
			if err := fn(ctx, p); err != nil {
				telemetry.PublisherErrorsTotal.WithLabelValues(p.Name(), op).Inc()
				m.logger.Warn().Err(err).Str("platform", p.Name()).Str("op", op).Msg("publisher update failed")
				mu.Lock()
				if errs == nil {
					errs = make(map[string]error)
				}
				errs[p.Name()] = err
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	if len(errs) < len(m.publishers) {
		m.logger.Debug().Str("op", op).Int("ok", len(m.publishers)-len(errs)).Int("total", len(m.publishers)).Msg("publishers updated")
	}
	return errs
}

func lookupFold(m map[string]string, key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// ComposeTitle fills the {GROUPS} placeholder of template with the upper-cased
// group names joined by " | ". Group names are appended one at a time; the
// first one that would push the title past limit is dropped together with
// every group after it. With no groups the placeholder becomes "VARIETY".
func ComposeTitle(template string, groups []string, limit int) string {
	if template == "" {
		template = config.DefaultTitleTemplate
	}
	if limit <= 0 {
		limit = config.DefaultTitleLimit
	}
	if !strings.Contains(template, config.GroupsPlaceholder) {
		return truncateRunes(template, limit)
	}
	if len(groups) == 0 {
		return truncateRunes(strings.Replace(template, config.GroupsPlaceholder, "VARIETY", 1), limit)
	}

	fixed := utf8.RuneCountInString(template) - utf8.RuneCountInString(config.GroupsPlaceholder)
	var parts []string
	used := 0
	for _, g := range groups {
		name := strings.ToUpper(strings.TrimSpace(g))
		if name == "" {
			continue
		}
		add := utf8.RuneCountInString(name)
		if len(parts) > 0 {
			add += len(" | ")
		}
		if fixed+used+add > limit {
			break
		}
		parts = append(parts, name)
		used += add
	}
	title := strings.Replace(template, config.GroupsPlaceholder, strings.Join(parts, " | "), 1)
	return truncateRunes(strings.TrimSpace(title), limit)
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:limit]))
}
