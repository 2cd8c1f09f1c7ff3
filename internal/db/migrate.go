/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"github.com/friendsincode/loopcast/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	return database.AutoMigrate(
		&models.RotationSession{},
		&models.ContentGroup{},
		&models.ContentItem{},
		&models.PlaybackCursor{},
		&models.FreezeIncident{},
		&models.LedgerEntry{},
		&models.PlayHistory{},
	)
}
