/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package tempplay streams the next session's already-staged items while the
// rest of its batch is still downloading, so a slow download never leaves the
// stream without content.
package tempplay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/loopcast/internal/controlsurface"
	"github.com/friendsincode/loopcast/internal/detector"
	"github.com/friendsincode/loopcast/internal/media"
)

var (
	// ErrNothingStaged is returned when no complete item is available yet.
	ErrNothingStaged = errors.New("no staged items to play")
	// ErrNotActive is returned by operations that need an active temp session.
	ErrNotActive = errors.New("temp playback not active")
)

// Ledger records items consumed while still in staging.
type Ledger interface {
	RecordConsumed(ctx context.Context, sessionID, itemID string) error
}

// Staged is one complete item in staging.
type Staged struct {
	ItemID string
	Group  string
	Path   string // absolute
}

// Next describes the session whose items are played early.
type Next struct {
	SessionID string
	Groups    []string
	Staged    []Staged
}

// Config names the scenes and source used for the swap.
type Config struct {
	StreamScene     string
	TransitionScene string
	MediaSource     string
	// Settle is how long the transition scene is held before and after the
	// media source is reloaded.
	Settle time.Duration
}

// TempSession is the state of an active temp playback.
type TempSession struct {
	SessionID string
	Dir       string
	Groups    []string
	Playlist  []string // relative to Dir, in play order
	Started   time.Time
	Consumed  []string // item IDs
	Refreshes int

	items map[string]string // relative path to item ID
}

// Remaining returns the playlist entries still on disk.
func (t *TempSession) Remaining() []string {
	var out []string
	for _, rel := range t.Playlist {
		if _, err := os.Stat(filepath.Join(t.Dir, rel)); err == nil {
			out = append(out, rel)
		}
	}
	return out
}

// Player drives temp playback through the control surface and the detector.
type Player struct {
	surface  controlsurface.Surface
	detector *detector.Detector
	ledger   Ledger
	cfg      Config
	logger   zerolog.Logger
	// OnMetadata is called with the temp session's groups after activation so
	// title and category reflect what is on air.
	OnMetadata func(ctx context.Context, groups []string)

	mu     sync.Mutex
	active *TempSession
}

// New creates a player.
func New(surface controlsurface.Surface, det *detector.Detector, ledger Ledger, cfg Config, logger zerolog.Logger) *Player {
	return &Player{
		surface:  surface,
		detector: det,
		ledger:   ledger,
		cfg:      cfg,
		logger:   logger.With().Str("component", "tempplay").Logger(),
	}
}

// Active returns a copy of the active temp session, or nil.
func (p *Player) Active() *TempSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return nil
	}
	cp := *p.active
	cp.Playlist = append([]string(nil), p.active.Playlist...)
	cp.Consumed = append([]string(nil), p.active.Consumed...)
	return &cp
}

// Activate points the media source at the complete staged items of next and
// retargets the detector at them. stagingDir is the staging root; every
// staged path must be inside it.
func (p *Player) Activate(ctx context.Context, stagingDir string, next Next) (*TempSession, error) {
	ts, err := p.activate(ctx, stagingDir, next)
	if err != nil {
		return nil, err
	}
	if p.OnMetadata != nil {
		p.OnMetadata(ctx, ts.Groups)
	}
	return ts, nil
}

func (p *Player) activate(ctx context.Context, stagingDir string, next Next) (*TempSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts := &TempSession{
		SessionID: next.SessionID,
		Dir:       stagingDir,
		Groups:    append([]string(nil), next.Groups...),
		Started:   time.Now(),
		items:     make(map[string]string),
	}
	playlist, err := p.playable(ts, next, nil)
	if err != nil {
		return nil, err
	}
	if len(playlist) == 0 {
		return nil, ErrNothingStaged
	}

	p.logger.Info().Str("session_id", next.SessionID).Int("items", len(playlist)).Msg("activating temp playback")
	if err := p.swap(ctx, stagingDir, playlist); err != nil {
		return nil, err
	}
	ts.Playlist = playlist
	p.active = ts

	p.detector.SetDeleteOnAdvance(true)
	p.detector.Retarget(stagingDir, playlist)

	cp := *ts
	cp.Playlist = append([]string(nil), playlist...)
	return &cp, nil
}

// Restore re-enters temp playback after a restart. Items already consumed are
// gone from disk; current, when still present, is played first and seeked to
// elapsed.
func (p *Player) Restore(ctx context.Context, stagingDir string, next Next, current string, elapsed time.Duration) (*TempSession, error) {
	ts, err := p.Activate(ctx, stagingDir, next)
	if err != nil {
		return nil, err
	}
	if current == "" || elapsed <= 0 || len(ts.Playlist) == 0 || ts.Playlist[0] != current {
		return ts, nil
	}
	if err := p.surface.SeekMedia(ctx, p.cfg.MediaSource, elapsed); err != nil {
		p.logger.Warn().Err(err).Dur("elapsed", elapsed).Msg("seek after restore failed")
	}
	p.detector.Resync(current)
	return ts, nil
}

// Consumed records that file (relative to the staging root) finished playing.
// The detector has already deleted it; the ledger entry keeps the download
// coordinator from fetching it again.
func (p *Player) Consumed(ctx context.Context, file string) error {
	p.mu.Lock()
	ts := p.active
	var itemID, sessionID string
	if ts != nil {
		itemID = ts.items[file]
		sessionID = ts.SessionID
	}
	p.mu.Unlock()

	if ts == nil {
		return ErrNotActive
	}
	if itemID == "" {
		p.logger.Warn().Str("file", file).Msg("played file has no item")
		return nil
	}
	if err := p.ledger.RecordConsumed(ctx, sessionID, itemID); err != nil {
		return fmt.Errorf("record consumed %s: %w", itemID, err)
	}

	p.mu.Lock()
	if p.active == ts {
		ts.Consumed = append(ts.Consumed, itemID)
	}
	p.mu.Unlock()
	p.logger.Info().Str("item_id", itemID).Str("file", file).Msg("temp item consumed")
	return nil
}

// Refresh reloads the source once the temp playlist has drained, picking up
// items that finished downloading since. It reports false when nothing new is
// staged yet.
func (p *Player) Refresh(ctx context.Context, next Next) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts := p.active
	if ts == nil {
		return false, ErrNotActive
	}
	consumed := make(map[string]bool, len(ts.Consumed))
	for _, id := range ts.Consumed {
		consumed[id] = true
	}
	playlist, err := p.playable(ts, next, consumed)
	if err != nil {
		return false, err
	}
	if len(playlist) == 0 {
		return false, nil
	}

	p.logger.Info().Int("items", len(playlist)).Msg("refreshing temp playlist")
	if err := p.swap(ctx, ts.Dir, playlist); err != nil {
		return false, err
	}
	ts.Playlist = playlist
	ts.Refreshes++
	p.detector.Retarget(ts.Dir, playlist)
	return true, nil
}

// Deactivate ends temp playback. The orchestrator follows with a normal
// switch, which retargets the detector at the live directory.
func (p *Player) Deactivate() (*TempSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return nil, ErrNotActive
	}
	ts := p.active
	p.active = nil
	p.logger.Info().
		Str("session_id", ts.SessionID).
		Int("consumed", len(ts.Consumed)).
		Dur("duration", time.Since(ts.Started)).
		Msg("temp playback deactivated")
	return ts, nil
}

// playable lists staged items that exist on disk and were not consumed, in
// group selection order then file order. It fills ts.items.
func (p *Player) playable(ts *TempSession, next Next, consumed map[string]bool) ([]string, error) {
	rank := make(map[string]int, len(next.Groups))
	for i, g := range next.Groups {
		rank[g] = i
	}
	type entry struct {
		rel  string
		rank int
	}
	var entries []entry
	for _, s := range next.Staged {
		if consumed[s.ItemID] || !media.IsMedia(s.Path) || media.IsPartial(s.Path) {
			continue
		}
		if _, err := os.Stat(s.Path); err != nil {
			continue
		}
		rel, err := filepath.Rel(ts.Dir, s.Path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("staged file %s is outside %s", s.Path, ts.Dir)
		}
		r, ok := rank[s.Group]
		if !ok {
			r = len(next.Groups)
		}
		entries = append(entries, entry{rel: rel, rank: r})
		ts.items[rel] = s.ItemID
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].rank != entries[j].rank {
			return entries[i].rank < entries[j].rank
		}
		return entries[i].rel < entries[j].rel
	})
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.rel
	}
	return out, nil
}

// swap reloads the media source behind the transition scene. On failure it
// still tries to return to the stream scene.
func (p *Player) swap(ctx context.Context, dir string, playlist []string) error {
	if err := p.surface.SwitchTo(ctx, p.cfg.TransitionScene); err != nil {
		return fmt.Errorf("switch to transition scene: %w", err)
	}
	p.settle(ctx)

	files := make([]string, len(playlist))
	for i, rel := range playlist {
		files[i] = filepath.Join(dir, rel)
	}
	if err := p.surface.LoadMediaFiles(ctx, p.cfg.MediaSource, files); err != nil {
		if serr := p.surface.SwitchTo(ctx, p.cfg.StreamScene); serr != nil {
			p.logger.Error().Err(serr).Msg("cannot return to stream scene")
		}
		return fmt.Errorf("load temp playlist: %w", err)
	}
	p.settle(ctx)

	if err := p.surface.SwitchTo(ctx, p.cfg.StreamScene); err != nil {
		return fmt.Errorf("switch to stream scene: %w", err)
	}
	return nil
}

func (p *Player) settle(ctx context.Context) {
	if p.cfg.Settle <= 0 {
		return
	}
	t := time.NewTimer(p.cfg.Settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
