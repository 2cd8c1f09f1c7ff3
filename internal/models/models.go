/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"
)

// SessionStatus enumerates rotation session lifecycle states.
type SessionStatus string

const (
	SessionPreparing    SessionStatus = "preparing"
	SessionActive       SessionStatus = "active"
	SessionTempPlayback SessionStatus = "temp-playback"
	SessionExhausted    SessionStatus = "exhausted"
	SessionArchived     SessionStatus = "archived"
	SessionFailed       SessionStatus = "failed" // every item failed permanently
)

// IsCurrent reports whether the status belongs to the single on-air session.
func (s SessionStatus) IsCurrent() bool {
	return s == SessionActive || s == SessionTempPlayback || s == SessionExhausted
}

// RotationSession is one content era: the selected groups played until exhausted.
type RotationSession struct {
	ID        string        `gorm:"type:varchar(36);primaryKey"`
	Status    SessionStatus `gorm:"type:varchar(16);index"`
	Groups    []string      `gorm:"serializer:json"` // selection order = play order
	Degraded  bool
	Title     string
	StartedAt time.Time
	EndedAt   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ContentGroup is a selectable source of items.
type ContentGroup struct {
	Name           string            `gorm:"type:varchar(191);primaryKey"`
	SourceURL      string            `gorm:"type:text"`
	Enabled        bool              `gorm:"index"`
	Priority       int               // lower wins ties
	Categories     map[string]string `gorm:"serializer:json"`
	LastSelectedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ItemState tracks a content item through download and playback.
type ItemState string

const (
	ItemPending     ItemState = "pending"
	ItemDownloading ItemState = "downloading"
	ItemStaged      ItemState = "staged"
	ItemPlaying     ItemState = "playing"
	ItemConsumed    ItemState = "consumed"
	ItemFailed      ItemState = "failed"
)

// Outstanding reports whether the item still counts toward a session's remaining content.
func (s ItemState) Outstanding() bool {
	switch s {
	case ItemPending, ItemDownloading, ItemStaged, ItemPlaying:
		return true
	}
	return false
}

// ContentItem is one playable file belonging to a group within a session.
type ContentItem struct {
	ID              string    `gorm:"type:varchar(36);primaryKey"`
	SessionID       string    `gorm:"type:varchar(36);index"`
	GroupName       string    `gorm:"type:varchar(191);index"`
	SourceKey       string    `gorm:"type:varchar(191)"` // extractor id of the entry
	SourceURL       string    `gorm:"type:text"`
	Title           string    `gorm:"type:text"`
	Ordering        int       // position within the group
	StagedPath      string    `gorm:"type:text"`
	LiveName        string    `gorm:"type:varchar(255);index"`
	DurationSeconds float64
	State           ItemState `gorm:"type:varchar(16);index"`
	LastError       string    `gorm:"type:text"`
	Attempts        int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PlaybackCursor is the single persisted pointer used for crash recovery.
type PlaybackCursor struct {
	ID             uint `gorm:"primaryKey"`
	SessionID      string
	ItemID         string
	FileName       string
	ElapsedSeconds float64
	Phase          string // rotation state at save time
	UpdatedAt      time.Time
}

// CursorRowID is the primary key of the one cursor row.
const CursorRowID uint = 1

// IncidentOutcome records how a freeze recovery ended.
type IncidentOutcome string

const (
	IncidentPending   IncidentOutcome = "pending"
	IncidentRecovered IncidentOutcome = "recovered"
	IncidentFailed    IncidentOutcome = "failed"
)

// FreezeIncident records a render stall and the recovery that followed.
type FreezeIncident struct {
	ID                string          `gorm:"type:varchar(36);primaryKey"`
	DetectedAt        time.Time       `gorm:"index"`
	StalledPolls      int
	Outcome           IncidentOutcome `gorm:"type:varchar(16)"`
	Blocked           bool            `gorm:"index"` // further automatic recovery suppressed
	CapturedStreaming bool
	CapturedItem      string
	Detail            string `gorm:"type:text"`
	ClearedAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// LedgerKind distinguishes completion ledger entries.
type LedgerKind string

const (
	LedgerFetched  LedgerKind = "fetched"
	LedgerConsumed LedgerKind = "consumed"
)

// LedgerEntry marks an item as already fetched or consumed so it is never requested again.
type LedgerEntry struct {
	ItemID    string     `gorm:"type:varchar(36);primaryKey"`
	SessionID string     `gorm:"type:varchar(36);index"`
	Kind      LedgerKind `gorm:"type:varchar(16)"`
	Path      string     `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PlayHistory logs each item that reached the player.
type PlayHistory struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	SessionID string    `gorm:"type:varchar(36);index"`
	ItemID    string    `gorm:"type:varchar(36)"`
	GroupName string    `gorm:"type:varchar(191)"`
	FileName  string    `gorm:"type:text"`
	Temp      bool
	PlayedAt  time.Time `gorm:"index"`
}

// TableName overrides for GORM.
func (PlayHistory) TableName() string {
	return "play_history"
}

// TableName overrides for GORM.
func (LedgerEntry) TableName() string {
	return "completion_ledger"
}
