/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LOOPCAST_LIVE_DIR", t.TempDir())
	t.Setenv("LOOPCAST_STAGING_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Fatalf("unexpected backend: %q", cfg.DBBackend)
	}
	if cfg.FreezePollInterval != 20*time.Second || cfg.FreezeStallThreshold != 3 {
		t.Fatalf("unexpected freeze defaults: %v / %d", cfg.FreezePollInterval, cfg.FreezeStallThreshold)
	}
	if cfg.SceneTransition != "content-switch" {
		t.Fatalf("unexpected transition scene: %q", cfg.SceneTransition)
	}
}

func TestLoadRejectsSameLiveAndStaging(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LOOPCAST_LIVE_DIR", dir)
	t.Setenv("LOOPCAST_STAGING_DIR", dir)

	_, err := Load()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestLoadDurationAcceptsSeconds(t *testing.T) {
	t.Setenv("LOOPCAST_LIVE_DIR", t.TempDir())
	t.Setenv("LOOPCAST_STAGING_DIR", t.TempDir())
	t.Setenv("LOOPCAST_FREEZE_POLL_INTERVAL", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.FreezePollInterval != 30*time.Second {
		t.Fatalf("expected 30s, got %v", cfg.FreezePollInterval)
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("VIDEO_FOLDER", t.TempDir())
	t.Setenv("LOOPCAST_STAGING_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}

func TestParseSettings(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{"empty uses defaults", "", false},
		{"valid groups", "groups:\n  - name: a\n    url: https://x/a\n    enabled: true\n", false},
		{"min above max", "min_groups: 3\nmax_groups: 2\n", true},
		{"duplicate group", "groups:\n  - name: a\n    url: u\n  - name: A\n    url: u\n", true},
		{"group missing url", "groups:\n  - name: a\n", true},
		{"unknown field", "bogus: 1\n", true},
		{"zero retries", "download_retry_attempts: 0\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSettings([]byte(tt.yaml))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSettings() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestParseSettingsDefaults(t *testing.T) {
	s, err := ParseSettings(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.MinGroups != DefaultMinGroups || s.MaxGroups != DefaultMaxGroups {
		t.Fatalf("unexpected bounds %d/%d", s.MinGroups, s.MaxGroups)
	}
	if !s.DeleteConsumedFiles() {
		t.Fatal("expected delete-consumed default on")
	}
}

func TestHolderReloadKeepsPreviousOnInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("min_groups: 1\nmax_groups: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	h, err := NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("new holder: %v", err)
	}
	before := h.Current()

	if err := os.WriteFile(path, []byte("min_groups: 5\nmax_groups: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := h.Reload(context.Background()); err == nil {
		t.Fatal("expected reload error")
	}
	if h.Current() != before {
		t.Fatal("snapshot changed after rejected reload")
	}

	if err := os.WriteFile(path, []byte("min_groups: 2\nmax_groups: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := h.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := h.Current().MaxGroups; got != 3 {
		t.Fatalf("expected max 3, got %d", got)
	}
	if before.MaxGroups != 1 {
		t.Fatal("previous snapshot was mutated")
	}
}

func TestHolderUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("groups:\n  - name: a\n    url: u\n    enabled: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	h, err := NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("new holder: %v", err)
	}
	listener := make(chan *Settings, 1)
	h.RegisterListener(listener)

	err = h.Update(func(s *Settings) { s.Groups[0].Enabled = false })
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	select {
	case s := <-listener:
		if s.Groups[0].Enabled {
			t.Fatal("listener saw stale snapshot")
		}
	default:
		t.Fatal("listener not notified")
	}

	reloaded, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("reload from disk: %v", err)
	}
	if reloaded.Groups[0].Enabled {
		t.Fatal("update not persisted")
	}
}

func TestHolderReloadDoesNotLoseUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("min_groups: 1\nmax_groups: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	h, err := NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("new holder: %v", err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_ = h.Reload(context.Background())
			}
		}()
	}

	const last = 40
	for n := 2; n <= last; n++ {
		n := n
		if err := h.Update(func(s *Settings) { s.MaxGroups = n }); err != nil {
			t.Fatalf("update %d: %v", n, err)
		}
		if got := h.Current().MaxGroups; got < n {
			t.Fatalf("update %d overwritten by a stale reload: max = %d", n, got)
		}
	}
	close(stop)
	wg.Wait()

	if got := h.Current().MaxGroups; got != last {
		t.Fatalf("max groups = %d, want %d", got, last)
	}
}

func TestHolderUpdateRejectsInvalid(t *testing.T) {
	h := NewHolderWith(func() *Settings { s := DefaultSettings(); return &s }(), "", zerolog.Nop())
	if err := h.Update(func(s *Settings) { s.MinGroups = 0 }); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if h.Current().MinGroups != DefaultMinGroups {
		t.Fatal("invalid update applied")
	}
}

func TestHolderWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("max_groups: 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	h, err := NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("new holder: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.Watch(ctx); err != nil {
		t.Fatalf("watch: %v", err)
	}

	if err := os.WriteFile(path, []byte("max_groups: 6\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h.Current().MaxGroups == 6 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("watcher did not reload settings")
}
