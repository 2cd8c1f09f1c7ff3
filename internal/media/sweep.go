/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// partialSuffixes mark files the fetch tool has not finished writing.
var partialSuffixes = []string{".part", ".ytdl", ".temp", ".tmp"}

// SweepResult summarizes one staging sweep.
type SweepResult struct {
	Scanned  int
	Removed  int
	Errors   int
	Duration time.Duration
}

// StagingSweeper removes leftovers from staging: partial downloads older
// than a cutoff and group directories no session references any more.
type StagingSweeper struct {
	root   string
	maxAge time.Duration
	logger zerolog.Logger
}

// NewStagingSweeper creates a sweeper for root.
func NewStagingSweeper(root string, maxAge time.Duration, logger zerolog.Logger) *StagingSweeper {
	return &StagingSweeper{
		root:   root,
		maxAge: maxAge,
		logger: logger.With().Str("component", "staging_sweeper").Logger(),
	}
}

// IsPartial reports whether name looks like an unfinished download.
func IsPartial(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range partialSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return strings.Contains(lower, ".part-frag")
}

// Sweep walks staging. keep names the top-level group directories that belong
// to a live or preparing session; everything else at the top level is removed.
func (s *StagingSweeper) Sweep(ctx context.Context, keep map[string]bool) (*SweepResult, error) {
	start := time.Now()
	result := &SweepResult{}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, fmt.Errorf("read staging: %w", err)
	}

	cutoff := start.Add(-s.maxAge)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		path := filepath.Join(s.root, e.Name())
		result.Scanned++

		if e.IsDir() {
			if keep[e.Name()] {
				result.Removed += s.sweepPartials(path, cutoff, result)
				continue
			}
			if err := os.RemoveAll(path); err != nil {
				s.logger.Warn().Err(err).Str("dir", e.Name()).Msg("failed to remove stale staging directory")
				result.Errors++
				continue
			}
			s.logger.Debug().Str("dir", e.Name()).Msg("removed stale staging directory")
			result.Removed++
		}
	}

	result.Duration = time.Since(start)
	s.logger.Info().
		Int("scanned", result.Scanned).
		Int("removed", result.Removed).
		Int("errors", result.Errors).
		Dur("duration", result.Duration).
		Msg("staging sweep complete")
	return result, nil
}

func (s *StagingSweeper) sweepPartials(dir string, cutoff time.Time, result *SweepResult) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		result.Errors++
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !IsPartial(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			result.Errors++
			continue
		}
		removed++
	}
	return removed
}
