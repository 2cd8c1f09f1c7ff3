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

// SaveCursor persists the playback cursor at most once per save interval.
// A save arriving inside the interval is held and written by the next
// eligible call or by Flush. Saving an unchanged cursor is a no-op.
func (s *Store) SaveCursor(ctx context.Context, cursor models.PlaybackCursor) error {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()

	cursor.ID = models.CursorRowID
	if s.lastCursor != nil && sameCursor(*s.lastCursor, cursor) {
		s.pending = nil
		return nil
	}

	now := s.now()
	if !s.lastWriteAt.IsZero() && now.Sub(s.lastWriteAt) < s.saveInterval {
		c := cursor
		s.pending = &c
		return nil
	}
	return s.writeCursorLocked(ctx, cursor)
}

// Flush writes a held cursor immediately (used on shutdown and before switches).
func (s *Store) Flush(ctx context.Context) error {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()
	if s.pending == nil {
		return nil
	}
	return s.writeCursorLocked(ctx, *s.pending)
}

// Tick writes a held cursor once the interval has elapsed.
func (s *Store) Tick(ctx context.Context) error {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()
	if s.pending == nil || s.now().Sub(s.lastWriteAt) < s.saveInterval {
		return nil
	}
	return s.writeCursorLocked(ctx, *s.pending)
}

func (s *Store) writeCursorLocked(ctx context.Context, cursor models.PlaybackCursor) error {
	cursor.UpdatedAt = s.now()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&cursor).Error
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	s.lastCursor = &cursor
	s.lastWriteAt = cursor.UpdatedAt
	s.pending = nil
	return nil
}

// Cursor returns the persisted cursor, or nil when none exists.
func (s *Store) Cursor(ctx context.Context) (*models.PlaybackCursor, error) {
	var cursor models.PlaybackCursor
	err := s.db.WithContext(ctx).Where("id = ?", models.CursorRowID).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cursor: %w", err)
	}
	return &cursor, nil
}

// ClearCursor removes the persisted cursor.
func (s *Store) ClearCursor(ctx context.Context) error {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()
	s.lastCursor = nil
	s.pending = nil
	return s.db.WithContext(ctx).Where("id = ?", models.CursorRowID).Delete(&models.PlaybackCursor{}).Error
}

func sameCursor(a, b models.PlaybackCursor) bool {
	return a.SessionID == b.SessionID &&
		a.ItemID == b.ItemID &&
		a.FileName == b.FileName &&
		a.Phase == b.Phase &&
		a.ElapsedSeconds == b.ElapsedSeconds
}
