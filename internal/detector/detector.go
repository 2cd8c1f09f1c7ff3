/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package detector infers playback transitions from which file the external
// player holds open. The player offers no API; its file handles are the only
// ground truth and they live outside this process.
package detector

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/loopcast/internal/media"
	"github.com/friendsincode/loopcast/internal/telemetry"
)

// EventKind classifies a detector event.
type EventKind string

const (
	// Advanced: the held file was released and a different file is now held.
	Advanced EventKind = "advanced"
	// DirectoryExhausted: the held file was released and nothing else is held.
	DirectoryExhausted EventKind = "exhausted"
	// NothingToPlay: the target was empty when the rotation started.
	NothingToPlay EventKind = "nothing_to_play"
)

// Event is emitted by Poll. File names are base names within the target.
type Event struct {
	Kind EventKind
	Old  string
	New  string
	// StillHeld is set when exhaustion was inferred from the player's position
	// on a looping last file; the file was not deleted.
	StillHeld bool
}

// PositionSource reports the player's position in the current file.
type PositionSource interface {
	MediaPosition(ctx context.Context) (elapsed, duration time.Duration, err error)
}

// Config tunes detection.
type Config struct {
	// ExhaustConfirmPolls is how many consecutive polls must see nothing held
	// before exhaustion is declared. The player briefly holds nothing between files.
	ExhaustConfirmPolls int
	// Grace suppresses events after Reset while the player opens its first file.
	Grace time.Duration
	// NearEnd is the remaining time at which a looping last file counts as played.
	NearEnd time.Duration
}

// DefaultConfig mirrors the production cadence of a one second tick.
func DefaultConfig() Config {
	return Config{
		ExhaustConfirmPolls: 2,
		Grace:               15 * time.Second,
		NearEnd:             1500 * time.Millisecond,
	}
}

// Detector tracks the held file in one target. Poll is called from the
// orchestrator tick; the remaining methods are safe from any goroutine.
type Detector struct {
	probe    media.ExclusiveAccessProbe
	position PositionSource
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time

	mu              sync.Mutex
	dir             string
	files           []string // explicit playlist; nil means every file in dir
	current         string
	releasedPolls   int
	exhausted       bool
	nothingEmitted  bool
	suspended       bool
	deleteOnAdvance bool
	graceUntil      time.Time
	undeleted       []string
}

// New creates a detector with no target.
func New(probe media.ExclusiveAccessProbe, cfg Config, logger zerolog.Logger) *Detector {
	if cfg.ExhaustConfirmPolls < 1 {
		cfg.ExhaustConfirmPolls = 1
	}
	return &Detector{
		probe:           probe,
		cfg:             cfg,
		logger:          logger.With().Str("component", "detector").Logger(),
		now:             time.Now,
		deleteOnAdvance: true,
	}
}

// SetPositionSource enables near-end detection for a looping last file.
func (d *Detector) SetPositionSource(p PositionSource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.position = p
}

// Reset targets every playable file in dir for a new rotation.
func (d *Detector) Reset(dir string) {
	d.Retarget(dir, nil)
}

// Retarget targets an explicit playlist inside dir (temp playback). A nil
// list means every playable file in dir.
func (d *Detector) Retarget(dir string, files []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dir = dir
	d.files = files
	d.current = ""
	d.releasedPolls = 0
	d.exhausted = false
	d.nothingEmitted = false
	d.suspended = false
	d.undeleted = nil
	d.graceUntil = d.now().Add(d.cfg.Grace)
	d.logger.Info().Str("dir", dir).Int("playlist", len(files)).Msg("detector retargeted")
}

// Resync forgets the held file without re-arming exhaustion detection or the
// grace period. Used after a restore when the player was reloaded mid-file.
func (d *Detector) Resync(current string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = current
	d.releasedPolls = 0
}

// Suspend makes Poll a no-op, for freeze recovery and while the control
// surface is away: a dying player releases every handle at once.
func (d *Detector) Suspend() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suspended = true
	d.releasedPolls = 0
	d.logger.Info().Msg("detector suspended")
}

// Resume re-enables Poll.
func (d *Detector) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.suspended {
		return
	}
	d.suspended = false
	d.releasedPolls = 0
	d.logger.Info().Msg("detector resumed")
}

// Suspended reports whether Poll is disabled.
func (d *Detector) Suspended() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suspended
}

// SetDeleteOnAdvance toggles consume-and-delete. Disabled while looping a
// fallback playlist that must survive.
func (d *Detector) SetDeleteOnAdvance(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleteOnAdvance = enabled
}

// Current returns the held file name, or "" when unknown.
func (d *Detector) Current() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Exhausted reports whether exhaustion has been emitted for this target.
func (d *Detector) Exhausted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exhausted
}

// Dir returns the current target directory.
func (d *Detector) Dir() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dir
}

// Poll inspects the target once and returns at most one event.
func (d *Detector) Poll(ctx context.Context) (Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dir == "" || d.exhausted || d.suspended {
		return Event{}, false
	}
	d.retryDeletes()

	candidates, err := d.candidates()
	if err != nil {
		d.logger.Warn().Err(err).Msg("list candidates failed")
		return Event{}, false
	}

	if len(candidates) == 0 {
		if d.current != "" {
			return d.exhaust(false), true
		}
		if !d.nothingEmitted {
			d.nothingEmitted = true
			d.exhausted = true
			telemetry.DetectorEventsTotal.WithLabelValues(string(NothingToPlay)).Inc()
			d.logger.Warn().Str("dir", d.dir).Msg("nothing to play")
			return Event{Kind: NothingToPlay}, true
		}
		return Event{}, false
	}

	paths := make([]string, len(candidates))
	for i, c := range candidates {
		paths[i] = filepath.Join(d.dir, c)
	}
	heldSet, err := d.probe.Held(paths)
	if err != nil {
		// an unreadable probe is not a release
		d.logger.Warn().Err(err).Msg("probe failed")
		return Event{}, false
	}
	held := ""
	for i, c := range candidates {
		if heldSet[paths[i]] {
			held = c
			break
		}
	}

	inGrace := d.now().Before(d.graceUntil)

	if d.current == "" {
		if held != "" {
			d.current = held
			d.graceUntil = time.Time{}
			d.logger.Info().Str("file", held).Msg("player holds file")
		}
		return Event{}, false
	}

	if inGrace {
		// a seek may briefly release the file; only a hold on another file
		// counts inside grace
		if held == "" || held == d.current {
			return Event{}, false
		}
		d.graceUntil = time.Time{}
	}

	switch {
	case held == d.current:
		// still playing, or released and re-held the same file (skip-to-end loop)
		d.releasedPolls = 0
		if candidates[len(candidates)-1] == d.current && d.position != nil {
			if d.nearEnd(ctx) {
				return d.exhaust(true), true
			}
		}
		return Event{}, false

	case held != "":
		old := d.current
		d.current = held
		d.releasedPolls = 0
		if d.deleteOnAdvance {
			d.remove(old)
		}
		telemetry.DetectorEventsTotal.WithLabelValues(string(Advanced)).Inc()
		d.logger.Info().Str("old", old).Str("new", held).Msg("playback advanced")
		return Event{Kind: Advanced, Old: old, New: held}, true

	default:
		d.releasedPolls++
		if d.releasedPolls < d.cfg.ExhaustConfirmPolls {
			return Event{}, false
		}
		return d.exhaust(false), true
	}
}

func (d *Detector) exhaust(stillHeld bool) Event {
	old := d.current
	if d.deleteOnAdvance && !stillHeld && old != "" {
		d.remove(old)
	}
	d.current = ""
	d.releasedPolls = 0
	d.exhausted = true
	telemetry.DetectorEventsTotal.WithLabelValues(string(DirectoryExhausted)).Inc()
	d.logger.Info().Str("last", old).Bool("still_held", stillHeld).Msg("directory exhausted")
	return Event{Kind: DirectoryExhausted, Old: old, StillHeld: stillHeld}
}

func (d *Detector) nearEnd(ctx context.Context) bool {
	elapsed, duration, err := d.position.MediaPosition(ctx)
	if err != nil || duration <= 0 {
		return false
	}
	return duration-elapsed <= d.cfg.NearEnd
}

// candidates lists target files in play order. Finished files waiting for
// deletion are not candidates.
func (d *Detector) candidates() ([]string, error) {
	var names []string
	if d.files == nil {
		listed, err := media.List(d.dir)
		if err != nil {
			return nil, err
		}
		names = listed
	} else {
		for _, f := range d.files {
			if !media.IsMedia(f) {
				continue
			}
			if _, err := os.Stat(filepath.Join(d.dir, f)); err == nil {
				names = append(names, f)
			}
		}
	}
	if len(d.undeleted) == 0 {
		return names, nil
	}
	out := names[:0]
	for _, n := range names {
		if !d.pendingDelete(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (d *Detector) pendingDelete(name string) bool {
	path := filepath.Join(d.dir, name)
	for _, u := range d.undeleted {
		if u == path {
			return true
		}
	}
	return false
}

func (d *Detector) remove(name string) {
	path := filepath.Join(d.dir, name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		d.logger.Warn().Err(err).Str("file", name).Msg("cannot delete finished file, will retry")
		d.undeleted = append(d.undeleted, path)
		return
	}
	d.logger.Info().Str("file", name).Msg("deleted finished file")
}

func (d *Detector) retryDeletes() {
	if len(d.undeleted) == 0 {
		return
	}
	kept := d.undeleted[:0]
	for _, path := range d.undeleted {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			kept = append(kept, path)
		}
	}
	d.undeleted = kept
}
