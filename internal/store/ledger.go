/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/loopcast/internal/models"
)

// LedgerLookup returns the ledger entry for an item, if any.
func (s *Store) LedgerLookup(ctx context.Context, itemID string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := s.db.WithContext(ctx).Where("item_id = ?", itemID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger lookup: %w", err)
	}
	return &entry, nil
}

// RecordFetched notes a completed download. An existing entry is left alone so
// a consumed item is never downgraded.
func (s *Store) RecordFetched(ctx context.Context, sessionID, itemID, path string) error {
	entry := models.LedgerEntry{ItemID: itemID, SessionID: sessionID, Kind: models.LedgerFetched, Path: path}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("ledger record fetched: %w", err)
	}
	return nil
}

// RecordConsumed notes an item was played and deleted.
func (s *Store) RecordConsumed(ctx context.Context, sessionID, itemID string) error {
	entry := models.LedgerEntry{ItemID: itemID, SessionID: sessionID, Kind: models.LedgerConsumed}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "item_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("ledger record consumed: %w", err)
	}
	return nil
}

// ReleaseLedger drops fetched (not consumed) entries for itemIDs. Used when a
// download job is cancelled.
func (s *Store) ReleaseLedger(ctx context.Context, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Where("item_id IN ? AND kind = ?", itemIDs, models.LedgerFetched).
		Delete(&models.LedgerEntry{}).Error
	if err != nil {
		return fmt.Errorf("ledger release: %w", err)
	}
	return nil
}

// PurgeLedger removes every entry of an archived session.
func (s *Store) PurgeLedger(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&models.LedgerEntry{}).Error
}
