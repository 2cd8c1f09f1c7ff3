/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package rotation runs the rotation state machine: it selects the next
// content groups, waits for their downloads, swaps them into the live
// directory and follows playback until the directory is exhausted.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/loopcast/internal/config"
	"github.com/friendsincode/loopcast/internal/controlsurface"
	"github.com/friendsincode/loopcast/internal/detector"
	"github.com/friendsincode/loopcast/internal/download"
	"github.com/friendsincode/loopcast/internal/events"
	"github.com/friendsincode/loopcast/internal/media"
	"github.com/friendsincode/loopcast/internal/models"
	"github.com/friendsincode/loopcast/internal/platform"
	"github.com/friendsincode/loopcast/internal/store"
	"github.com/friendsincode/loopcast/internal/telemetry"
	"github.com/friendsincode/loopcast/internal/tempplay"
)

var (
	// ErrNotOnAir is returned by commands that need content playing.
	ErrNotOnAir = errors.New("nothing on air")
	// ErrNotReady is returned by Trigger when no next session is staged.
	ErrNotReady = errors.New("next rotation not ready")
	// ErrUnknownGroup is returned by Override for a group missing from settings.
	ErrUnknownGroup = errors.New("unknown group")
)

// SettingsSource yields the current settings snapshot.
type SettingsSource interface {
	Current() *config.Settings
}

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Store     *store.Store
	Surface   controlsurface.Surface
	Detector  *detector.Detector
	Downloads *download.Coordinator
	Temp      *tempplay.Player
	Platforms *platform.Manager // optional
	Bus       events.Publisher
	Settings  SettingsSource
}

// Config holds directories, scene names and cadence.
type Config struct {
	LiveDir         string
	StagingDir      string
	JournalPath     string
	StreamScene     string
	PauseScene      string
	TransitionScene string
	MediaSource     string

	TickInterval      time.Duration
	LiveCheckInterval time.Duration
	// ReconnectEvery spaces connection attempts while the surface is away.
	ReconnectEvery time.Duration
	// StaleStaging is the age after which partial downloads are swept.
	StaleStaging time.Duration
	// PublishTimeout bounds one round of title or category updates.
	PublishTimeout time.Duration
}

// ConfigFrom derives the orchestrator config from process config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		LiveDir:           cfg.LiveDir,
		StagingDir:        cfg.StagingDir,
		JournalPath:       cfg.JournalPath(),
		StreamScene:       cfg.SceneStream,
		PauseScene:        cfg.ScenePause,
		TransitionScene:   cfg.SceneTransition,
		MediaSource:       cfg.MediaSourceName,
		TickInterval:      cfg.TickInterval,
		LiveCheckInterval: cfg.LiveCheckInterval,
	}
}

type recoverMode int

const (
	recoverReconcile recoverMode = iota // rebuild from store, journal and disk
	recoverFreeze                       // wait for the watchdog, then resume prior
)

// Orchestrator is the single mutator of rotation state. Tick and command
// handling run on the Run goroutine; the exported query methods are safe from
// any goroutine.
type Orchestrator struct {
	store     *store.Store
	surface   controlsurface.Surface
	detector  *detector.Detector
	downloads *download.Coordinator
	temp      *tempplay.Player
	platforms *platform.Manager
	bus       events.Publisher
	settings  SettingsSource
	cfg       Config
	logger    zerolog.Logger
	live      *media.Dir
	sweeper   *media.StagingSweeper
	now       func() time.Time

	state       State
	prior       State
	mode        recoverMode
	current     *session
	next        *prepared
	override    []string
	pendingOver []string

	playingFile string
	playingItem string
	cursor      *models.PlaybackCursor

	manualPause   bool
	streamerLive  bool
	surfaceLost   bool
	lastConnect   time.Time
	selectFailing bool
	synced        *config.Settings
	lastTitle     string

	onWaitScreen bool

	freezing    atomic.Bool
	recovered   atomic.Bool
	liveRunning atomic.Bool
	commands    chan command
	liveResults chan liveResult

	bg     context.Context
	wg     sync.WaitGroup
	mu     sync.RWMutex
	status Status
}

// New creates an orchestrator in RECOVERING; the first tick restores state.
func New(deps Deps, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.LiveCheckInterval <= 0 {
		cfg.LiveCheckInterval = time.Minute
	}
	if cfg.ReconnectEvery <= 0 {
		cfg.ReconnectEvery = 5 * time.Second
	}
	if cfg.StaleStaging <= 0 {
		cfg.StaleStaging = 6 * time.Hour
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 30 * time.Second
	}
	logger = logger.With().Str("component", "rotation").Logger()
	o := &Orchestrator{
		store:       deps.Store,
		surface:     deps.Surface,
		detector:    deps.Detector,
		downloads:   deps.Downloads,
		temp:        deps.Temp,
		platforms:   deps.Platforms,
		bus:         deps.Bus,
		settings:    deps.Settings,
		cfg:         cfg,
		logger:      logger,
		live:        media.NewDir(cfg.LiveDir, logger),
		sweeper:     media.NewStagingSweeper(cfg.StagingDir, cfg.StaleStaging, logger),
		now:         time.Now,
		state:       StateRecovering,
		mode:        recoverReconcile,
		commands:    make(chan command),
		liveResults: make(chan liveResult, 1),
		bg:          context.Background(),
	}
	if o.temp != nil {
		o.temp.OnMetadata = func(_ context.Context, groups []string) { o.publishTitle(groups) }
	}
	telemetry.SetRotationState(string(o.state), stateNames())
	o.publishStatus()
	return o
}

// Run ticks until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.bg = ctx
	tick := time.NewTicker(o.cfg.TickInterval)
	defer tick.Stop()
	liveTick := time.NewTicker(o.cfg.LiveCheckInterval)
	defer liveTick.Stop()

	o.logger.Info().Dur("tick", o.cfg.TickInterval).Msg("rotation orchestrator started")
	o.Tick(ctx)
	o.startLiveCheck(ctx)

	for {
		select {
		case <-ctx.Done():
			// any cause other than a plain cancel means another instance owns the surface now
			o.shutdown(context.Cause(ctx) == context.Canceled)
			return ctx.Err()
		case cmd := <-o.commands:
			cmd.reply <- o.execute(ctx, cmd)
		case r := <-o.liveResults:
			o.applyLive(ctx, r)
		case <-liveTick.C:
			o.startLiveCheck(ctx)
		case <-tick.C:
			o.Tick(ctx)
		}
	}
}

// shutdown saves the cursor and, when pause is set, leaves the pause scene up.
func (o *Orchestrator) shutdown(pause bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.Flush(ctx); err != nil {
		o.logger.Error().Err(err).Msg("flush cursor on shutdown")
	}
	if pause && o.surface.IsConnected() && o.cfg.PauseScene != "" {
		if err := o.surface.SwitchTo(ctx, o.cfg.PauseScene); err != nil {
			o.logger.Warn().Err(err).Msg("switch to pause scene on shutdown")
		}
	}
	o.wg.Wait()
	o.logger.Info().Msg("rotation orchestrator stopped")
}

// Tick advances the state machine once.
func (o *Orchestrator) Tick(ctx context.Context) {
	start := time.Now()
	defer func() { telemetry.TickDuration.Observe(time.Since(start).Seconds()) }()

	o.syncSettings(ctx)
	o.watchSurface(ctx)

	if (o.freezing.Load() || o.recovered.Load()) && o.state != StateRecovering {
		o.prior = o.state
		o.mode = recoverFreeze
		if err := o.transition(StateRecovering); err != nil {
			o.logger.Error().Err(err).Msg("enter freeze recovery")
		}
	}

	o.applyPendingOverride(ctx)
	if o.state != StateRecovering || o.mode == recoverFreeze {
		if err := o.advancePrep(ctx); err != nil {
			o.logger.Error().Err(err).Msg("prepare next rotation")
		}
	}

	var err error
	switch o.state {
	case StateRecovering:
		err = o.tickRecovering(ctx)
	case StateSelecting, StateDownloading, StateReadyToSwitch:
		err = o.followPrep(ctx)
	case StateSwitching:
		err = o.switchNext(ctx)
	case StatePlaying:
		err = o.tickPlaying(ctx)
	case StateExhausted:
		err = o.handleExhausted(ctx)
	case StateTempPlayback:
		err = o.tickTemp(ctx)
	}
	if err != nil {
		o.logger.Error().Err(err).Str("state", string(o.state)).Msg("tick failed")
	}

	o.saveCursor(ctx)
	if err := o.store.Tick(ctx); err != nil {
		o.logger.Warn().Err(err).Msg("cursor write failed")
	}
	o.publishStatus()
}

func (o *Orchestrator) transition(to State) error {
	from := o.state
	if !isValidTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	o.state = to
	if to.OnAir() {
		o.onWaitScreen = false
	}
	telemetry.RotationTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	telemetry.SetRotationState(string(to), stateNames())
	o.logger.Info().Str("from", string(from)).Str("to", string(to)).Msg("rotation state changed")
	o.publish(events.EventStateChanged, events.Payload{"from": string(from), "to": string(to)})
	return nil
}

func (o *Orchestrator) publish(t events.EventType, p events.Payload) {
	if o.bus != nil {
		o.bus.Publish(t, p)
	}
}

// syncSettings mirrors a new settings snapshot into the group table and
// republishes the title when its template changed.
func (o *Orchestrator) syncSettings(ctx context.Context) {
	s := o.settings.Current()
	if s == o.synced {
		return
	}
	if err := o.store.SyncGroups(ctx, s.Groups); err != nil {
		o.logger.Error().Err(err).Msg("sync groups")
		return
	}
	o.synced = s
	if o.current != nil && o.state.OnAir() {
		o.publishTitle(o.current.Groups)
	}
}

// watchSurface suspends playback tracking while the control surface is away
// and reconnects outside freeze recovery, which the watchdog owns.
func (o *Orchestrator) watchSurface(ctx context.Context) {
	if o.surface.IsConnected() {
		telemetry.ControlSurfaceConnected.Set(1)
		if o.surfaceLost {
			o.surfaceLost = false
			o.logger.Info().Msg("control surface back")
			if !o.paused() && !o.freezing.Load() && o.state.OnAir() {
				o.detector.Resume()
			}
		}
		return
	}
	telemetry.ControlSurfaceConnected.Set(0)
	if !o.surfaceLost {
		o.surfaceLost = true
		o.detector.Suspend()
		o.logger.Warn().Msg("control surface unavailable, playback tracking suspended")
	}
	if o.freezing.Load() || o.now().Sub(o.lastConnect) < o.cfg.ReconnectEvery {
		return
	}
	o.lastConnect = o.now()
	if err := o.surface.Connect(ctx); err != nil {
		o.logger.Debug().Err(err).Msg("control surface connect failed")
	}
}

func (o *Orchestrator) paused() bool {
	return o.manualPause || o.streamerLive
}

// Status is a point-in-time view for the admin surface.
type Status struct {
	State        State                   `json:"state"`
	Paused       bool                    `json:"paused"`
	StreamerLive bool                    `json:"streamer_live"`
	Recovering   bool                    `json:"recovering"`
	Current      *models.RotationSession `json:"current,omitempty"`
	Next         *NextStatus             `json:"next,omitempty"`
	PlayingFile  string                  `json:"playing_file,omitempty"`
	PlayingItem  string                  `json:"playing_item,omitempty"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// NextStatus describes the prepared rotation.
type NextStatus struct {
	SessionID string            `json:"session_id,omitempty"`
	Groups    []string          `json:"groups"`
	Phase     string            `json:"phase"`
	Progress  download.Progress `json:"progress"`
}

// Status returns the latest snapshot.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return o.Status().State
}

// CurrentItem returns the file on air, for freeze incidents.
func (o *Orchestrator) CurrentItem() string {
	return o.Status().PlayingFile
}

func (o *Orchestrator) publishStatus() {
	st := Status{
		State:        o.state,
		Paused:       o.paused(),
		StreamerLive: o.streamerLive,
		Recovering:   o.freezing.Load(),
		PlayingFile:  o.playingFile,
		PlayingItem:  o.playingItem,
		UpdatedAt:    o.now(),
	}
	if o.current != nil {
		rec := o.current.RotationSession
		rec.Groups = append([]string(nil), rec.Groups...)
		st.Current = &rec
	}
	if n := o.next; n != nil {
		ns := &NextStatus{
			SessionID: n.ID,
			Groups:    append([]string(nil), n.Groups...),
			Phase:     string(n.phase),
		}
		if n.job != "" {
			ns.Progress, _ = o.downloads.Progress(n.job)
		}
		st.Next = ns
	}
	o.mu.Lock()
	o.status = st
	o.mu.Unlock()
}

// async runs fn off the tick, bounded by the publish timeout.
func (o *Orchestrator) async(fn func(ctx context.Context)) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(o.bg), o.cfg.PublishTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until background publishes finish.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) publishTitle(groups []string) {
	if o.platforms == nil || o.platforms.Empty() {
		return
	}
	s := o.settings.Current()
	title := platform.ComposeTitle(s.TitleTemplate, groups, s.TitleLimit)
	if title == "" || title == o.lastTitle {
		return
	}
	o.lastTitle = title
	o.async(func(ctx context.Context) {
		o.reportPublish(o.platforms.SetTitle(ctx, title), "set_title")
	})
}

func (o *Orchestrator) publishCategory(group string) {
	if o.platforms == nil || o.platforms.Empty() {
		return
	}
	g, ok := o.settings.Current().Group(group)
	if !ok || len(g.Categories) == 0 {
		return
	}
	cats := make(map[string]string, len(g.Categories))
	for k, v := range g.Categories {
		cats[k] = v
	}
	o.async(func(ctx context.Context) {
		o.reportPublish(o.platforms.SetCategories(ctx, cats), "set_category")
	})
}

func (o *Orchestrator) reportPublish(errs map[string]error, op string) {
	for name, err := range errs {
		o.logger.Warn().Err(err).Str("platform", name).Str("operation", op).Msg("platform update failed")
		o.publish(events.EventPublisherFailed, events.Payload{"platform": name, "operation": op, "error": err.Error()})
	}
}
