/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rotation

import (
	"context"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/friendsincode/loopcast/internal/detector"
	"github.com/friendsincode/loopcast/internal/events"
	"github.com/friendsincode/loopcast/internal/media"
	"github.com/friendsincode/loopcast/internal/models"
	"github.com/friendsincode/loopcast/internal/telemetry"
	"github.com/friendsincode/loopcast/internal/tempplay"
)

func (o *Orchestrator) tickPlaying(ctx context.Context) error {
	if ev, ok := o.detector.Poll(ctx); ok {
		switch ev.Kind {
		case detector.Advanced:
			if err := o.consume(ctx, ev.Old); err != nil {
				o.logger.Error().Err(err).Str("file", ev.Old).Msg("mark item consumed")
			}
		case detector.DirectoryExhausted, detector.NothingToPlay:
			return o.exhaust(ctx, ev)
		}
	}
	o.syncPlaying(ctx)
	return nil
}

// consume marks the item behind file as played.
func (o *Orchestrator) consume(ctx context.Context, file string) error {
	it := o.current.item(file)
	if it == nil {
		o.logger.Warn().Str("file", file).Msg("played file has no item")
		return nil
	}
	it.State = models.ItemConsumed
	if o.state == StateTempPlayback && o.next != nil {
		o.next.consumed[it.ID] = true
		if err := o.temp.Consumed(ctx, file); err != nil {
			return err
		}
	}
	return o.store.SetItemState(ctx, it.ID, models.ItemConsumed)
}

// syncPlaying records the file the player holds as the single playing item.
func (o *Orchestrator) syncPlaying(ctx context.Context) {
	file := o.detector.Current()
	if file == "" || file == o.playingFile || o.current == nil {
		return
	}
	prevGroup := ""
	if prev := o.current.items[o.playingItem]; prev != nil {
		prevGroup = prev.GroupName
	}
	o.playingFile, o.playingItem = file, ""

	it := o.current.item(file)
	if it == nil {
		o.logger.Warn().Str("file", file).Msg("playing file has no item")
		return
	}
	o.playingItem = it.ID
	if err := o.store.MarkPlaying(ctx, it.ID); err != nil {
		o.logger.Error().Err(err).Str("item_id", it.ID).Msg("mark playing")
	}

	temp := o.state == StateTempPlayback
	mode := "live"
	if temp {
		mode = "temp"
	}
	telemetry.ItemsPlayedTotal.WithLabelValues(mode).Inc()
	if err := o.store.RecordPlay(ctx, models.PlayHistory{
		SessionID: o.current.ID,
		ItemID:    it.ID,
		GroupName: it.GroupName,
		FileName:  filepath.Base(file),
		Temp:      temp,
	}); err != nil {
		o.logger.Error().Err(err).Msg("record play history")
	}
	if it.GroupName != prevGroup {
		o.publishCategory(it.GroupName)
	}
	o.publish(events.EventItemAdvanced, events.Payload{
		"session_id": o.current.ID,
		"item_id":    it.ID,
		"group":      it.GroupName,
		"file":       filepath.Base(file),
		"category":   o.categoryLabel(it.GroupName),
		"temp":       temp,
	})
}

func (o *Orchestrator) categoryLabel(group string) string {
	g, ok := o.settings.Current().Group(group)
	if !ok || len(g.Categories) == 0 {
		return ""
	}
	platforms := make([]string, 0, len(g.Categories))
	for p := range g.Categories {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)
	vals := make([]string, 0, len(platforms))
	for _, p := range platforms {
		if v := g.Categories[p]; v != "" && !containsString(vals, v) {
			vals = append(vals, v)
		}
	}
	return strings.Join(vals, " / ")
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// exhaust handles the end of the live directory.
func (o *Orchestrator) exhaust(ctx context.Context, ev detector.Event) error {
	if ev.Old != "" {
		if err := o.consume(ctx, ev.Old); err != nil {
			o.logger.Error().Err(err).Str("file", ev.Old).Msg("mark item consumed")
		}
	}
	if o.current != nil {
		if err := o.store.SetSessionStatus(ctx, o.current.ID, models.SessionExhausted); err != nil {
			return err
		}
		o.current.Status = models.SessionExhausted
	}
	o.playingFile, o.playingItem = "", ""
	sessionID := ""
	if o.current != nil {
		sessionID = o.current.ID
	}
	o.publish(events.EventExhausted, events.Payload{"session_id": sessionID, "kind": string(ev.Kind)})
	if err := o.transition(StateExhausted); err != nil {
		return err
	}
	return o.handleExhausted(ctx)
}

// handleExhausted decides what follows an exhausted directory: a switch when
// the next rotation is staged, temp playback when part of it is, otherwise
// the wait screen.
func (o *Orchestrator) handleExhausted(ctx context.Context) error {
	n := o.next
	switch {
	case n == nil || n.phase == phaseListing:
		o.waitScreen(ctx)
		return o.transition(StateSelecting)
	case n.phase == phaseReady:
		if o.paused() || !o.surface.IsConnected() {
			return nil
		}
		if err := o.transition(StateSwitching); err != nil {
			return err
		}
		return o.switchNext(ctx)
	}
	if len(n.staged()) > 0 {
		if err := o.startTemp(ctx); err != nil {
			return err
		}
	}
	if o.state == StateExhausted {
		o.waitScreen(ctx)
	}
	return nil
}

func (o *Orchestrator) tickTemp(ctx context.Context) error {
	n := o.next
	natural := false
	if ev, ok := o.detector.Poll(ctx); ok {
		natural = true
		if ev.Old != "" {
			if err := o.consume(ctx, ev.Old); err != nil {
				o.logger.Error().Err(err).Str("file", ev.Old).Msg("mark temp item consumed")
			}
		}
	}
	exhausted := o.detector.Exhausted()
	if n.phase == phaseReady && (natural || exhausted) {
		return o.endTemp(ctx)
	}
	if exhausted {
		refreshed, err := o.temp.Refresh(ctx, o.tempNext())
		if err != nil {
			return err
		}
		if !refreshed {
			o.waitScreen(ctx)
			return nil
		}
		o.onWaitScreen = false
	}
	o.syncPlaying(ctx)
	return nil
}

func (o *Orchestrator) tempNext() tempplay.Next {
	n := o.next
	return tempplay.Next{SessionID: n.ID, Groups: n.Groups, Staged: n.staged()}
}

// waitScreen shows the transition scene while nothing can play.
func (o *Orchestrator) waitScreen(ctx context.Context) {
	if o.onWaitScreen || o.paused() || !o.surface.IsConnected() {
		return
	}
	if err := o.surface.SwitchTo(ctx, o.cfg.TransitionScene); err != nil {
		o.logger.Warn().Err(err).Msg("show wait screen")
		return
	}
	o.onWaitScreen = true
}

// saveCursor records the playback position of the file on air.
func (o *Orchestrator) saveCursor(ctx context.Context) {
	if !o.state.OnAir() || o.current == nil || o.playingFile == "" || !o.surface.IsConnected() {
		return
	}
	st, err := o.surface.MediaStatus(ctx, o.cfg.MediaSource)
	if err != nil {
		return
	}
	c := models.PlaybackCursor{
		SessionID:      o.current.ID,
		ItemID:         o.playingItem,
		FileName:       o.playingFile,
		ElapsedSeconds: math.Round(st.Cursor.Seconds()),
		Phase:          string(o.state),
	}
	o.cursor = &c
	if err := o.store.SaveCursor(ctx, c); err != nil {
		o.logger.Warn().Err(err).Msg("save cursor")
	}
}

// Live gate

type liveResult struct {
	live bool
	who  string
}

// startLiveCheck asks the platforms whether a configured streamer is live,
// off the tick. The answer arrives on liveResults.
func (o *Orchestrator) startLiveCheck(ctx context.Context) {
	if o.platforms == nil || o.platforms.Empty() {
		return
	}
	handles := o.settings.Current().LiveCheckHandles
	if len(handles) == 0 || !o.liveRunning.CompareAndSwap(false, true) {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.liveRunning.Store(false)
		cctx, cancel := context.WithTimeout(ctx, o.cfg.PublishTimeout)
		defer cancel()
		live, who := o.platforms.AnyLive(cctx, handles)
		select {
		case o.liveResults <- liveResult{live: live, who: who}:
		case <-ctx.Done():
		}
	}()
}

func (o *Orchestrator) applyLive(ctx context.Context, r liveResult) {
	switch {
	case r.live && !o.streamerLive:
		o.streamerLive = true
		o.logger.Info().Str("streamer", r.who).Msg("streamer live, pausing")
		o.pauseOutput(ctx)
		o.publish(events.EventStreamerLive, events.Payload{"streamer": r.who})
	case !r.live && o.streamerLive:
		o.streamerLive = false
		o.logger.Info().Msg("streamer offline")
		if !o.manualPause {
			o.resumeOutput(ctx)
		}
		o.publish(events.EventStreamerOffline, nil)
	}
	o.publishStatus()
}

func (o *Orchestrator) pauseOutput(ctx context.Context) {
	o.detector.Suspend()
	o.saveCursor(ctx)
	if err := o.store.Flush(ctx); err != nil {
		o.logger.Warn().Err(err).Msg("flush cursor on pause")
	}
	if o.surface.IsConnected() {
		if err := o.surface.SwitchTo(ctx, o.cfg.PauseScene); err != nil {
			o.logger.Warn().Err(err).Msg("switch to pause scene")
		}
	}
	o.onWaitScreen = false
}

func (o *Orchestrator) resumeOutput(ctx context.Context) {
	scene := o.cfg.TransitionScene
	if o.state.OnAir() {
		scene = o.cfg.StreamScene
		if !o.freezing.Load() {
			o.detector.Resume()
		}
	}
	if !o.surface.IsConnected() {
		return
	}
	if err := o.surface.SwitchTo(ctx, scene); err != nil {
		o.logger.Warn().Err(err).Msg("leave pause scene")
		return
	}
	o.onWaitScreen = scene == o.cfg.TransitionScene
}

// Freeze hooks, called from the watchdog goroutine.

// OnFreeze stops playback tracking while the control surface is restarted.
func (o *Orchestrator) OnFreeze() {
	o.freezing.Store(true)
	o.detector.Suspend()
}

// OnRecovered resumes the prior state on the next tick without reselecting.
func (o *Orchestrator) OnRecovered(_ context.Context, item string) {
	o.logger.Info().Str("item", item).Msg("control surface recovered")
	o.freezing.Store(false)
	o.recovered.Store(true)
}

// restoreAfterFreeze reloads what was playing before the freeze.
func (o *Orchestrator) restoreAfterFreeze(ctx context.Context) error {
	prior := o.prior
	switch prior {
	case StateTempPlayback:
		if _, err := o.temp.Refresh(ctx, o.tempNext()); err != nil {
			return err
		}
	case StatePlaying:
		files, err := media.List(o.cfg.LiveDir)
		if err != nil {
			return err
		}
		if len(files) > 0 {
			if err := o.surface.ReloadMediaSource(ctx, o.cfg.MediaSource, o.cfg.LiveDir); err != nil {
				return err
			}
			if c := o.cursor; c != nil && c.FileName == files[0] && c.ElapsedSeconds > 0 {
				if err := o.surface.SeekMedia(ctx, o.cfg.MediaSource, time.Duration(c.ElapsedSeconds*float64(time.Second))); err != nil {
					o.logger.Warn().Err(err).Msg("seek after freeze")
				}
			}
		}
	}
	o.detector.Resume()
	if prior == StatePlaying {
		o.detector.Resync("")
		o.playingFile, o.playingItem = "", ""
	}

	o.onWaitScreen = false
	switch {
	case o.paused():
		o.pauseOutput(ctx)
	case prior.OnAir():
		if err := o.surface.SwitchTo(ctx, o.cfg.StreamScene); err != nil {
			return err
		}
	default:
		o.waitScreen(ctx)
	}
	o.mode = recoverReconcile
	o.logger.Info().Str("state", string(prior)).Msg("resuming after freeze")
	return o.transition(prior)
}
