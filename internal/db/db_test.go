/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/loopcast/internal/config"
	"github.com/friendsincode/loopcast/internal/models"
)

func TestConnectSQLiteFileUsesWAL(t *testing.T) {
	cfg := &config.Config{
		Environment: "test",
		DBBackend:   config.DatabaseSQLite,
		DBDSN:       filepath.Join(t.TempDir(), "loopcast.db"),
	}
	database, err := Connect(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() { _ = Close(database) }()

	var mode string
	if err := database.Raw("PRAGMA journal_mode").Scan(&mode).Error; err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}

	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !database.Migrator().HasTable(&models.PlaybackCursor{}) {
		t.Fatalf("cursor table missing after migrate")
	}
}

func TestConnectUnknownBackend(t *testing.T) {
	if _, err := Connect(&config.Config{DBBackend: "oracle"}, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestIsMemoryDSN(t *testing.T) {
	for dsn, want := range map[string]bool{
		":memory:":                        true,
		"file:x?mode=memory&cache=shared": true,
		"/var/lib/loopcast/loopcast.db":   false,
	} {
		if got := isMemoryDSN(dsn); got != want {
			t.Fatalf("isMemoryDSN(%q) = %v", dsn, got)
		}
	}
}
