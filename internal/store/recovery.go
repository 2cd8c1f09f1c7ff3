/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/friendsincode/loopcast/internal/models"
)

// RecoveredState is everything persisted that startup needs to resume.
type RecoveredState struct {
	Current      *models.RotationSession
	CurrentItems []models.ContentItem
	Next         *models.RotationSession
	NextItems    []models.ContentItem
	Cursor       *models.PlaybackCursor
	Incident     *models.FreezeIncident
}

// Empty reports whether nothing was persisted.
func (r *RecoveredState) Empty() bool {
	return r == nil || (r.Current == nil && r.Next == nil && r.Cursor == nil)
}

// Load reads the persisted state once at startup. It returns (nil, nil) for a
// fresh database. When records contradict each other it returns whatever could
// be read together with an error wrapping ErrCorruptSession.
func (s *Store) Load(ctx context.Context) (*RecoveredState, error) {
	state := &RecoveredState{}
	var corrupt []string

	current, err := s.SessionsByStatus(ctx, models.SessionActive, models.SessionTempPlayback, models.SessionExhausted)
	if err != nil {
		return nil, err
	}
	if len(current) > 1 {
		corrupt = append(corrupt, fmt.Sprintf("%d sessions claim to be on air", len(current)))
	}
	if len(current) > 0 {
		state.Current = &current[0]
	}

	preparing, err := s.SessionsByStatus(ctx, models.SessionPreparing)
	if err != nil {
		return nil, err
	}
	if len(preparing) > 1 {
		corrupt = append(corrupt, fmt.Sprintf("%d sessions preparing", len(preparing)))
	}
	if len(preparing) > 0 {
		state.Next = &preparing[0]
	}

	if state.Cursor, err = s.Cursor(ctx); err != nil {
		return nil, err
	}
	if state.Cursor != nil && state.Cursor.SessionID != "" {
		if _, err := s.Session(ctx, state.Cursor.SessionID); errors.Is(err, ErrNotFound) {
			corrupt = append(corrupt, "cursor references unknown session "+state.Cursor.SessionID)
		} else if err != nil {
			return nil, err
		}
	}

	if state.Current != nil {
		if state.CurrentItems, err = s.Items(ctx, state.Current.ID); err != nil {
			return nil, err
		}
	}
	if state.Next != nil {
		if state.NextItems, err = s.Items(ctx, state.Next.ID); err != nil {
			return nil, err
		}
	}
	if state.Incident, err = s.BlockingIncident(ctx); err != nil {
		return nil, err
	}

	if len(corrupt) > 0 {
		return state, fmt.Errorf("%w: %v", ErrCorruptSession, corrupt)
	}
	if state.Empty() && state.Incident == nil {
		return nil, nil
	}
	return state, nil
}
