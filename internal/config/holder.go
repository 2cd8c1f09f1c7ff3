/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

const reloadDebounce = 500 * time.Millisecond

// Holder owns the current settings snapshot. Readers take Current() once per
// unit of work and never observe a partially applied reload.
type Holder struct {
	current atomic.Pointer[Settings]
	path    string
	logger  zerolog.Logger

	writeMu sync.Mutex

	listenMu  sync.RWMutex
	listeners []chan<- *Settings
}

// NewHolder loads the settings file. A missing or invalid file at startup is fatal
// to the caller; later reload failures keep the previous snapshot.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	initial, err := LoadSettings(path)
	if err != nil {
		return nil, err
	}
	return NewHolderWith(initial, path, logger), nil
}

// NewHolderWith wraps an already validated snapshot.
func NewHolderWith(initial *Settings, path string, logger zerolog.Logger) *Holder {
	h := &Holder{
		path:   path,
		logger: logger.With().Str("component", "settings").Logger(),
	}
	h.current.Store(initial)
	return h
}

// Current returns the active snapshot.
func (h *Holder) Current() *Settings {
	return h.current.Load()
}

// Path returns the watched settings file.
func (h *Holder) Path() string {
	return h.path
}

// Reload re-reads the file. On failure the previous snapshot stays active.
// It is serialized with Update so a reload never replaces a newer update
// with the file it read before that update was written.
func (h *Holder) Reload(_ context.Context) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	next, err := LoadSettings(h.path)
	if err != nil {
		h.logger.Error().Err(err).Str("path", h.path).Msg("settings reload rejected, keeping previous")
		return err
	}
	h.swap(next)
	return nil
}

// Update applies fn to a copy of the current snapshot, validates it, persists it
// atomically and makes it current.
func (h *Holder) Update(fn func(*Settings)) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	next := h.Current().Clone()
	fn(next)
	if err := next.Validate(); err != nil {
		return err
	}

	data, err := next.Marshal()
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if h.path != "" {
		if err := renameio.WriteFile(h.path, data, 0o644); err != nil {
			return fmt.Errorf("write settings: %w", err)
		}
	}
	h.swap(next)
	return nil
}

func (h *Holder) swap(next *Settings) {
	prev := h.current.Swap(next)
	logChanges(h.logger, prev, next)
	h.notifyListeners(next)
}

// RegisterListener receives every accepted snapshot. Sends never block.
func (h *Holder) RegisterListener(ch chan<- *Settings) {
	h.listenMu.Lock()
	defer h.listenMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

func (h *Holder) notifyListeners(next *Settings) {
	h.listenMu.RLock()
	defer h.listenMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- next:
		default:
			h.logger.Warn().Msg("settings listener full, skipped")
		}
	}
}

// Watch reloads the file when it changes until ctx is done. The parent
// directory is watched so atomic replaces (rename over) are seen.
func (h *Holder) Watch(ctx context.Context) error {
	if h.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(h.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch settings dir: %w", err)
	}
	h.logger.Info().Str("path", h.path).Msg("watching settings file")

	go h.watchLoop(ctx, watcher)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	target := filepath.Clean(h.path)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				_ = h.Reload(ctx)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("settings watcher error")
		}
	}
}

func logChanges(logger zerolog.Logger, prev, next *Settings) {
	if prev == nil {
		return
	}
	if prev.MinGroups != next.MinGroups || prev.MaxGroups != next.MaxGroups {
		logger.Info().
			Int("min_groups", next.MinGroups).
			Int("max_groups", next.MaxGroups).
			Msg("settings changed: group bounds")
	}
	if prev.TitleTemplate != next.TitleTemplate {
		logger.Info().Str("old", prev.TitleTemplate).Str("new", next.TitleTemplate).Msg("settings changed: title template")
	}
	if prev.DownloadRetryAttempts != next.DownloadRetryAttempts {
		logger.Info().Int("attempts", next.DownloadRetryAttempts).Msg("settings changed: download retries")
	}
	if len(prev.Groups) != len(next.Groups) {
		logger.Info().Int("groups", len(next.Groups)).Msg("settings changed: groups")
	}
}
