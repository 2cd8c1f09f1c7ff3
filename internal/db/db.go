/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package db opens the session store database.
package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/friendsincode/loopcast/internal/config"
)

// sqlitePragmas are per connection; sqlite keeps its single connection for
// the life of the process.
var sqlitePragmas = []string{
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
}

// Connect opens the configured backend and registers query metrics.
func Connect(cfg *config.Config, log zerolog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBBackend {
	case config.DatabasePostgres:
		dialector = postgres.Open(cfg.DBDSN)
	case config.DatabaseMySQL:
		dialector = mysql.Open(cfg.DBDSN)
	case config.DatabaseSQLite:
		dialector = sqlite.Open(cfg.DBDSN)
	default:
		return nil, fmt.Errorf("unknown database backend: %s", cfg.DBBackend)
	}

	level, out := gormlogger.Warn, zerolog.WarnLevel
	if cfg.Environment == "development" {
		level, out = gormlogger.Info, zerolog.DebugLevel
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(printer{log: log.With().Str("component", "db").Logger(), level: out}, gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.DBBackend, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.DBBackend == config.DatabaseSQLite {
		// one writer; the tick and the download workers share it
		sqlDB.SetMaxOpenConns(1)
		pragmas := sqlitePragmas
		if !isMemoryDSN(cfg.DBDSN) {
			pragmas = append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
		}
		for _, p := range pragmas {
			if err := db.Exec(p).Error; err != nil {
				return nil, fmt.Errorf("%s: %w", p, err)
			}
		}
	} else {
		sqlDB.SetMaxIdleConns(2)
		sqlDB.SetMaxOpenConns(8)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := RegisterCallbacks(db); err != nil {
		return nil, fmt.Errorf("register db callbacks: %w", err)
	}
	return db, nil
}

// Close releases database resources.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// printer routes gorm's log lines into zerolog.
type printer struct {
	log   zerolog.Logger
	level zerolog.Level
}

func (p printer) Printf(format string, args ...any) {
	p.log.WithLevel(p.level).Msgf(format, args...)
}
