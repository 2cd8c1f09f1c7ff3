/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store persists rotation sessions, items, the playback cursor, freeze
// incidents and the completion ledger. It is the only package that touches the
// database; the rotation orchestrator is its only writer of session state.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/loopcast/internal/config"
	"github.com/friendsincode/loopcast/internal/models"
)

var (
	// ErrCorruptSession means persisted session records contradict each other.
	ErrCorruptSession = errors.New("corrupt session state")

	// ErrNotFound is returned for lookups of unknown records.
	ErrNotFound = errors.New("record not found")
)

// DefaultSaveInterval bounds how often the cursor is written.
const DefaultSaveInterval = time.Second

// Store wraps the database with rotation-specific operations.
type Store struct {
	db           *gorm.DB
	logger       zerolog.Logger
	saveInterval time.Duration
	now          func() time.Time

	cursorMu    sync.Mutex
	lastCursor  *models.PlaybackCursor
	lastWriteAt time.Time
	pending     *models.PlaybackCursor
}

// New creates a store. saveInterval <= 0 uses DefaultSaveInterval.
func New(db *gorm.DB, saveInterval time.Duration, logger zerolog.Logger) *Store {
	if saveInterval <= 0 {
		saveInterval = DefaultSaveInterval
	}
	return &Store{
		db:           db,
		logger:       logger.With().Str("component", "store").Logger(),
		saveInterval: saveInterval,
		now:          time.Now,
	}
}

// DB exposes the handle for health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Sessions

// CreateSession inserts a session and its items in one transaction.
func (s *Store) CreateSession(ctx context.Context, session *models.RotationSession, items []models.ContentItem) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = s.now()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(session).Error; err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		for i := range items {
			if items[i].ID == "" {
				items[i].ID = uuid.NewString()
			}
			items[i].SessionID = session.ID
			if items[i].State == "" {
				items[i].State = models.ItemPending
			}
		}
		if len(items) > 0 {
			if err := tx.Create(&items).Error; err != nil {
				return fmt.Errorf("create items: %w", err)
			}
		}
		return nil
	})
}

// SetSessionStatus moves a session to status, stamping EndedAt for terminal states.
func (s *Store) SetSessionStatus(ctx context.Context, id string, status models.SessionStatus) error {
	updates := map[string]any{"status": status}
	if status == models.SessionArchived || status == models.SessionFailed {
		updates["ended_at"] = s.now()
	}
	res := s.db.WithContext(ctx).Model(&models.RotationSession{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("set session status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateSession applies column updates to a session.
func (s *Store) UpdateSession(ctx context.Context, id string, updates map[string]any) error {
	if err := s.db.WithContext(ctx).Model(&models.RotationSession{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// Session loads one session.
func (s *Store) Session(ctx context.Context, id string) (*models.RotationSession, error) {
	var session models.RotationSession
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return &session, nil
}

// SessionsByStatus returns sessions in any of statuses, newest first.
func (s *Store) SessionsByStatus(ctx context.Context, statuses ...models.SessionStatus) ([]models.RotationSession, error) {
	var sessions []models.RotationSession
	err := s.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("started_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// RecentSessions returns the newest sessions regardless of status.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]models.RotationSession, error) {
	var sessions []models.RotationSession
	if err := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// Items

// Items returns a session's items ordered by group then ordering.
func (s *Store) Items(ctx context.Context, sessionID string) ([]models.ContentItem, error) {
	var items []models.ContentItem
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("group_name, ordering").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

// UpdateItem applies column updates to an item.
func (s *Store) UpdateItem(ctx context.Context, id string, updates map[string]any) error {
	if err := s.db.WithContext(ctx).Model(&models.ContentItem{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// SetItemState updates one item's lifecycle state.
func (s *Store) SetItemState(ctx context.Context, id string, state models.ItemState) error {
	return s.UpdateItem(ctx, id, map[string]any{"state": state})
}

// PlayingItems returns every item currently marked playing across all sessions.
func (s *Store) PlayingItems(ctx context.Context) ([]models.ContentItem, error) {
	var items []models.ContentItem
	if err := s.db.WithContext(ctx).Where("state = ?", models.ItemPlaying).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list playing items: %w", err)
	}
	return items, nil
}

// MarkPlaying makes id the single playing item, demoting any other.
func (s *Store) MarkPlaying(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ContentItem{}).
			Where("state = ? AND id <> ?", models.ItemPlaying, id).
			Update("state", models.ItemStaged).Error; err != nil {
			return fmt.Errorf("demote playing items: %w", err)
		}
		return tx.Model(&models.ContentItem{}).Where("id = ?", id).Update("state", models.ItemPlaying).Error
	})
}

// CountOutstanding counts items still pending, downloading, staged or playing.
func (s *Store) CountOutstanding(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.ContentItem{}).
		Where("session_id = ? AND state IN ?", sessionID, []models.ItemState{
			models.ItemPending, models.ItemDownloading, models.ItemStaged, models.ItemPlaying,
		}).
		Count(&n).Error
	return n, err
}

// Groups

// SyncGroups mirrors the configured groups into the database, keeping selection
// timestamps. Groups no longer configured are disabled, not deleted.
func (s *Store) SyncGroups(ctx context.Context, groups []config.GroupSettings) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		names := make([]string, 0, len(groups))
		for _, g := range groups {
			names = append(names, g.Name)
			row := models.ContentGroup{
				Name:       g.Name,
				SourceURL:  g.URL,
				Enabled:    g.Enabled,
				Priority:   g.Priority,
				Categories: g.Categories,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"source_url", "enabled", "priority", "categories", "updated_at"}),
			}).Create(&row).Error
			if err != nil {
				return fmt.Errorf("upsert group %s: %w", g.Name, err)
			}
		}
		q := tx.Model(&models.ContentGroup{})
		if len(names) > 0 {
			q = q.Where("name NOT IN ?", names)
		} else {
			q = q.Where("1 = 1")
		}
		return q.Update("enabled", false).Error
	})
}

// Groups returns every known group.
func (s *Store) Groups(ctx context.Context) ([]models.ContentGroup, error) {
	var groups []models.ContentGroup
	if err := s.db.WithContext(ctx).Order("name").Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// TouchGroups bumps LastSelectedAt for names.
func (s *Store) TouchGroups(ctx context.Context, names []string, at time.Time) error {
	if len(names) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&models.ContentGroup{}).
		Where("name IN ?", names).
		Update("last_selected_at", at).Error
	if err != nil {
		return fmt.Errorf("touch groups: %w", err)
	}
	return nil
}

// History

// RecordPlay appends to the play history.
func (s *Store) RecordPlay(ctx context.Context, entry models.PlayHistory) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.PlayedAt.IsZero() {
		entry.PlayedAt = s.now()
	}
	return s.db.WithContext(ctx).Create(&entry).Error
}

// RecentPlays returns the newest history entries.
func (s *Store) RecentPlays(ctx context.Context, limit int) ([]models.PlayHistory, error) {
	var out []models.PlayHistory
	if err := s.db.WithContext(ctx).Order("played_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return out, nil
}
