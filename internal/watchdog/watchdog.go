/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package watchdog detects a hung control surface from its render counter and
// restarts it. A failed restart blocks further automatic attempts until an
// operator reconnects by hand.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/loopcast/internal/controlsurface"
	"github.com/friendsincode/loopcast/internal/events"
	"github.com/friendsincode/loopcast/internal/models"
	"github.com/friendsincode/loopcast/internal/telemetry"
)

var (
	// ErrRenderFreeze is returned by Check when a freeze was declared.
	ErrRenderFreeze = errors.New("render freeze")
	// ErrRecoveryBlocked means a freeze was seen while automatic recovery is
	// suppressed.
	ErrRecoveryBlocked = errors.New("automatic recovery blocked")
)

// Process restarts the control surface application.
type Process interface {
	Kill(ctx context.Context) error
	Launch(ctx context.Context) error
}

// Incidents persists freeze incidents.
type Incidents interface {
	OpenIncident(ctx context.Context, inc *models.FreezeIncident) error
	ResolveIncident(ctx context.Context, id string, outcome models.IncidentOutcome, detail string) error
	BlockingIncident(ctx context.Context) (*models.FreezeIncident, error)
	ClearIncidents(ctx context.Context) error
}

// Hooks connect the watchdog to the orchestrator. All are optional.
type Hooks struct {
	// CurrentItem returns the item on air, captured before the restart.
	CurrentItem func() string
	// OnFreeze runs before the process is killed.
	OnFreeze func()
	// OnRecovered runs after a reconnect with the captured item.
	OnRecovered func(ctx context.Context, item string)
}

// Config tunes the watchdog.
type Config struct {
	PollInterval      time.Duration
	StallThreshold    int
	SentinelDir       string
	LaunchWait        time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

// DefaultConfig polls every 20 s and declares a freeze after a minute
// without new frames.
func DefaultConfig() Config {
	return Config{
		PollInterval:      20 * time.Second,
		StallThreshold:    3,
		LaunchWait:        8 * time.Second,
		ReconnectAttempts: 5,
		ReconnectDelay:    3 * time.Second,
	}
}

// Watchdog samples the render heartbeat on its own schedule.
type Watchdog struct {
	surface   controlsurface.Surface
	process   Process
	incidents Incidents
	bus       events.Publisher
	hooks     Hooks
	cfg       Config
	logger    zerolog.Logger
	sleep     func(ctx context.Context, d time.Duration)

	mu         sync.Mutex
	last       uint64
	sampled    bool
	stalls     int
	blocked    bool
	recovering bool
}

// New creates a watchdog.
func New(surface controlsurface.Surface, process Process, incidents Incidents, bus events.Publisher, hooks Hooks, cfg Config, logger zerolog.Logger) *Watchdog {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.StallThreshold < 1 {
		cfg.StallThreshold = def.StallThreshold
	}
	if cfg.ReconnectAttempts < 1 {
		cfg.ReconnectAttempts = def.ReconnectAttempts
	}
	return &Watchdog{
		surface:   surface,
		process:   process,
		incidents: incidents,
		bus:       bus,
		hooks:     hooks,
		cfg:       cfg,
		logger:    logger.With().Str("component", "watchdog").Logger(),
		sleep:     sleepCtx,
	}
}

// Start restores the blocked flag from the store and polls until ctx ends.
func (w *Watchdog) Start(ctx context.Context) {
	if inc, err := w.incidents.BlockingIncident(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("cannot read blocking incident")
	} else if inc != nil {
		w.setBlocked(true)
		w.logger.Warn().Str("incident_id", inc.ID).Msg("automatic freeze recovery blocked by earlier incident")
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// outcomes are logged and published by Check
			_ = w.Check(ctx)
		}
	}
}

// Blocked reports whether automatic recovery is suppressed.
func (w *Watchdog) Blocked() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.blocked
}

// Recovering reports whether a restart is in progress.
func (w *Watchdog) Recovering() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.recovering
}

// Check takes one heartbeat sample. It returns ErrRenderFreeze after a
// recovery ran (successful or not) and ErrRecoveryBlocked when a freeze was
// seen but recovery is suppressed.
func (w *Watchdog) Check(ctx context.Context) error {
	stalled, ok := w.sample(ctx)
	if !ok {
		return nil
	}
	if w.Blocked() {
		telemetry.FreezeIncidentsTotal.WithLabelValues("blocked").Inc()
		w.logger.Error().Int("stalled_polls", stalled).Msg("render freeze while recovery is blocked, manual intervention required")
		w.bus.Publish(events.EventFreezeBlocked, events.Payload{
			"detail": "froze again while recovery is blocked",
		})
		return ErrRecoveryBlocked
	}
	w.recover(ctx, stalled)
	return ErrRenderFreeze
}

// sample returns the stall count and true once the threshold is reached.
func (w *Watchdog) sample(ctx context.Context) (int, bool) {
	frames, err := w.surface.RenderHeartbeat(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.recovering {
		return 0, false
	}
	if err != nil {
		// a disconnected surface is not a freeze
		w.logger.Debug().Err(err).Msg("heartbeat unavailable, sampling reset")
		w.resetLocked()
		return 0, false
	}
	if !w.sampled {
		w.last, w.sampled = frames, true
		return 0, false
	}
	if frames > w.last {
		w.last = frames
		w.stalls = 0
		return 0, false
	}
	w.stalls++
	w.logger.Warn().
		Int("stalls", w.stalls).
		Int("threshold", w.cfg.StallThreshold).
		Uint64("frames", frames).
		Msg("render frames stalled")
	if w.stalls < w.cfg.StallThreshold {
		return 0, false
	}
	stalled := w.stalls
	w.resetLocked()
	return stalled, true
}

func (w *Watchdog) resetLocked() {
	w.sampled = false
	w.stalls = 0
	w.last = 0
}

func (w *Watchdog) setBlocked(v bool) {
	w.mu.Lock()
	w.blocked = v
	w.mu.Unlock()
	if v {
		telemetry.RecoveryBlocked.Set(1)
	} else {
		telemetry.RecoveryBlocked.Set(0)
	}
}

func (w *Watchdog) setRecovering(v bool) {
	w.mu.Lock()
	w.recovering = v
	w.mu.Unlock()
}

// recover restarts the control surface and restores what was on air.
func (w *Watchdog) recover(ctx context.Context, stalled int) {
	w.setRecovering(true)
	defer w.setRecovering(false)

	streaming, err := w.surface.StreamActive(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("cannot capture stream state, assuming offline")
		streaming = false
	}
	item := ""
	if w.hooks.CurrentItem != nil {
		item = w.hooks.CurrentItem()
	}

	inc := &models.FreezeIncident{
		StalledPolls:      stalled,
		CapturedStreaming: streaming,
		CapturedItem:      item,
	}
	if err := w.incidents.OpenIncident(ctx, inc); err != nil {
		w.logger.Error().Err(err).Msg("cannot persist freeze incident")
	}
	w.logger.Error().
		Str("incident_id", inc.ID).
		Bool("streaming", streaming).
		Str("item", item).
		Msg("render freeze detected, restarting control surface")
	w.bus.Publish(events.EventFreezeDetected, events.Payload{
		"incident_id": inc.ID,
		"streaming":   streaming,
		"item":        item,
	})
	if w.hooks.OnFreeze != nil {
		w.hooks.OnFreeze()
	}

	rctx, span := telemetry.StartSpan(ctx, "watchdog.recover", telemetry.AttrIncidentID.String(inc.ID))
	err = w.restart(rctx, streaming)
	telemetry.EndSpan(span, err)
	if err != nil {
		w.fail(ctx, inc.ID, err)
		return
	}

	if err := w.incidents.ResolveIncident(ctx, inc.ID, models.IncidentRecovered, ""); err != nil {
		w.logger.Error().Err(err).Msg("cannot resolve freeze incident")
	}
	telemetry.FreezeIncidentsTotal.WithLabelValues(string(models.IncidentRecovered)).Inc()
	w.logger.Info().Str("incident_id", inc.ID).Msg("control surface recovered")
	w.bus.Publish(events.EventFreezeRecovered, events.Payload{"incident_id": inc.ID, "item": item})
	if w.hooks.OnRecovered != nil {
		w.hooks.OnRecovered(ctx, item)
	}
}

func (w *Watchdog) restart(ctx context.Context, streaming bool) error {
	_ = w.surface.Close()
	if err := w.process.Kill(ctx); err != nil {
		// the process may already be gone
		w.logger.Warn().Err(err).Msg("kill control surface")
	}
	if n, err := ClearSentinels(w.cfg.SentinelDir); err != nil {
		w.logger.Warn().Err(err).Msg("cannot clear crash sentinels")
	} else if n > 0 {
		w.logger.Info().Int("files", n).Msg("cleared crash sentinels")
	}
	if err := w.process.Launch(ctx); err != nil {
		return fmt.Errorf("launch control surface: %w", err)
	}
	w.sleep(ctx, w.cfg.LaunchWait)

	if err := w.reconnect(ctx); err != nil {
		return err
	}
	if streaming {
		if err := w.surface.StartStream(ctx); err != nil {
			return fmt.Errorf("restore streaming: %w", err)
		}
		w.logger.Info().Msg("streaming restored")
	}
	return nil
}

func (w *Watchdog) reconnect(ctx context.Context) error {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(w.cfg.ReconnectDelay), uint64(w.cfg.ReconnectAttempts-1))
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return w.surface.Connect(ctx)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		w.logger.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("reconnect failed, retrying")
	})
	if err != nil {
		return fmt.Errorf("reconnect after %d attempts: %w", attempt, err)
	}
	return nil
}

func (w *Watchdog) fail(ctx context.Context, incidentID string, cause error) {
	w.setBlocked(true)
	if err := w.incidents.ResolveIncident(ctx, incidentID, models.IncidentFailed, cause.Error()); err != nil {
		w.logger.Error().Err(err).Msg("cannot resolve freeze incident")
	}
	telemetry.FreezeIncidentsTotal.WithLabelValues(string(models.IncidentFailed)).Inc()
	w.logger.Error().Err(cause).Str("incident_id", incidentID).Msg("freeze recovery failed, automatic recovery blocked")
	w.bus.Publish(events.EventFreezeBlocked, events.Payload{
		"incident_id": incidentID,
		"detail":      cause.Error(),
	})
}

// ManualReconnect connects the surface on operator request. On success any
// blocking incident is cleared and automatic recovery is armed again.
func (w *Watchdog) ManualReconnect(ctx context.Context) error {
	if w.Recovering() {
		return errors.New("recovery in progress")
	}
	if !w.surface.IsConnected() {
		if err := w.surface.Connect(ctx); err != nil {
			return fmt.Errorf("manual reconnect: %w", err)
		}
	}
	wasBlocked := w.Blocked()
	if err := w.incidents.ClearIncidents(ctx); err != nil {
		return err
	}
	w.setBlocked(false)
	w.mu.Lock()
	w.resetLocked()
	w.mu.Unlock()

	w.logger.Info().Bool("was_blocked", wasBlocked).Msg("manual reconnect succeeded")
	if wasBlocked {
		w.bus.Publish(events.EventFreezeRecovered, events.Payload{"manual": true})
		if w.hooks.OnRecovered != nil {
			item := ""
			if w.hooks.CurrentItem != nil {
				item = w.hooks.CurrentItem()
			}
			w.hooks.OnRecovered(ctx, item)
		}
	}
	return nil
}

// ClearSentinels removes the files the control surface leaves behind while
// running. Left after a kill, they make the next launch stop at a crash dialog.
func ClearSentinels(dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !os.IsNotExist(err) {
			return n, err
		}
		n++
	}
	return n, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
