/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/loopcast/internal/models"
)

// OpenIncident inserts a new freeze incident.
func (s *Store) OpenIncident(ctx context.Context, inc *models.FreezeIncident) error {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.DetectedAt.IsZero() {
		inc.DetectedAt = s.now()
	}
	if inc.Outcome == "" {
		inc.Outcome = models.IncidentPending
	}
	if err := s.db.WithContext(ctx).Create(inc).Error; err != nil {
		return fmt.Errorf("open incident: %w", err)
	}
	return nil
}

// ResolveIncident records the outcome of a recovery attempt. A failed outcome
// blocks further automatic recovery.
func (s *Store) ResolveIncident(ctx context.Context, id string, outcome models.IncidentOutcome, detail string) error {
	updates := map[string]any{
		"outcome": outcome,
		"detail":  detail,
		"blocked": outcome == models.IncidentFailed,
	}
	if err := s.db.WithContext(ctx).Model(&models.FreezeIncident{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("resolve incident: %w", err)
	}
	return nil
}

// BlockingIncident returns the newest uncleared blocking incident, or nil.
func (s *Store) BlockingIncident(ctx context.Context) (*models.FreezeIncident, error) {
	var inc models.FreezeIncident
	err := s.db.WithContext(ctx).
		Where("blocked = ? AND cleared_at IS NULL", true).
		Order("detected_at DESC").
		First(&inc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query blocking incident: %w", err)
	}
	return &inc, nil
}

// ClearIncidents unblocks automatic recovery after a manual reconnect.
func (s *Store) ClearIncidents(ctx context.Context) error {
	err := s.db.WithContext(ctx).Model(&models.FreezeIncident{}).
		Where("blocked = ? AND cleared_at IS NULL", true).
		Updates(map[string]any{"blocked": false, "cleared_at": s.now()}).Error
	if err != nil {
		return fmt.Errorf("clear incidents: %w", err)
	}
	return nil
}

// Incidents returns the newest incidents.
func (s *Store) Incidents(ctx context.Context, limit int) ([]models.FreezeIncident, error) {
	var out []models.FreezeIncident
	if err := s.db.WithContext(ctx).Order("detected_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return out, nil
}
