/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rotation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/friendsincode/loopcast/internal/controlsurface"
	"github.com/friendsincode/loopcast/internal/events"
	"github.com/friendsincode/loopcast/internal/media"
	"github.com/friendsincode/loopcast/internal/models"
	"github.com/friendsincode/loopcast/internal/telemetry"
	"github.com/friendsincode/loopcast/internal/tempplay"
)

// switchNext swaps the prepared rotation into the live directory. While the
// control surface is away it waits; downloads carry on meanwhile. Any failure
// after the journal is written hands over to reconciliation.
func (o *Orchestrator) switchNext(ctx context.Context) (err error) {
	in := o.next
	if in == nil || in.phase != phaseReady {
		return fmt.Errorf("switch without a ready rotation")
	}
	if !o.surface.IsConnected() {
		return nil
	}
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "rotation.switch", telemetry.AttrSessionID.String(in.ID))
	defer func() { telemetry.EndSpan(span, err) }()

	outgoing := ""
	if o.current != nil && o.current.ID != in.ID {
		outgoing = o.current.ID
	}
	if err := o.store.Flush(ctx); err != nil {
		o.logger.Warn().Err(err).Msg("flush cursor before switch")
	}
	if err := o.surface.SwitchTo(ctx, o.cfg.TransitionScene); err != nil {
		// nothing changed yet; retry on the next tick
		return fmt.Errorf("switch to transition scene: %w", err)
	}
	if err := writeJournal(o.cfg.JournalPath, Journal{Outgoing: outgoing, Incoming: in.ID, StartedAt: o.now()}); err != nil {
		return err
	}
	o.detector.Suspend()

	if err := o.installIncoming(ctx, in.session); err != nil {
		return o.abortSwitch(err)
	}
	if err := o.surface.EnsureSource(ctx, o.cfg.StreamScene, controlsurface.PlaylistSourceKind, o.cfg.MediaSource); err != nil {
		o.logger.Warn().Err(err).Msg("ensure media source")
	}
	if err := o.surface.ReloadMediaSource(ctx, o.cfg.MediaSource, o.cfg.LiveDir); err != nil {
		return o.abortSwitch(fmt.Errorf("reload media source: %w", err))
	}
	if err := o.surface.SwitchTo(ctx, o.cfg.StreamScene); err != nil {
		return o.abortSwitch(fmt.Errorf("switch to stream scene: %w", err))
	}
	if err := o.finishSwitch(ctx, outgoing, in); err != nil {
		return o.abortSwitch(err)
	}
	telemetry.RotationSwitchDuration.Observe(time.Since(start).Seconds())
	return nil
}

func (o *Orchestrator) abortSwitch(cause error) error {
	o.mode = recoverReconcile
	if err := o.transition(StateRecovering); err != nil {
		o.logger.Error().Err(err).Msg("enter recovery after failed switch")
	}
	o.publish(events.EventRotationFailed, events.Payload{"reason": "switch failed: " + cause.Error()})
	return fmt.Errorf("switch aborted: %w", cause)
}

// installIncoming clears the live directory and moves the staged items of s
// in. Names carry a two-digit group prefix so groups play contiguously in
// selection order.
func (o *Orchestrator) installIncoming(ctx context.Context, s *session) error {
	stuck, err := o.live.Clear()
	if err != nil {
		return fmt.Errorf("clear live directory: %w", err)
	}
	if len(stuck) > 0 {
		o.logger.Warn().Strs("files", stuck).Msg("live files could not be removed")
	}
	return o.moveStaged(ctx, s)
}

// moveStaged moves every staged item of s that is still in staging.
func (o *Orchestrator) moveStaged(ctx context.Context, s *session) error {
	rank := make(map[string]int, len(s.Groups))
	for i, g := range s.Groups {
		rank[g] = i
	}
	s.byFile = make(map[string]string)
	moved := 0
	for _, it := range s.ordered() {
		if it.LiveName != "" {
			if _, err := os.Stat(o.live.Path(it.LiveName)); err == nil {
				s.byFile[it.LiveName] = it.ID
				continue
			}
		}
		if (it.State != models.ItemStaged && it.State != models.ItemPlaying) || it.StagedPath == "" {
			continue
		}
		if _, err := os.Stat(it.StagedPath); err != nil {
			o.logger.Warn().Str("item_id", it.ID).Str("path", it.StagedPath).Msg("staged file missing")
			continue
		}
		name := media.LiveName(rank[it.GroupName], filepath.Base(it.StagedPath))
		if err := o.live.MoveIn(it.StagedPath, name); err != nil {
			return err
		}
		it.LiveName = name
		it.StagedPath = ""
		if err := o.store.UpdateItem(ctx, it.ID, map[string]any{"live_name": name, "staged_path": ""}); err != nil {
			return err
		}
		s.byFile[name] = it.ID
		moved++
	}
	o.logger.Info().Str("session_id", s.ID).Int("moved", moved).Msg("live directory populated")
	return nil
}

// finishSwitch commits the switch: journal gone, incoming active, outgoing
// archived, staging swept and the detector pointed at the new directory.
func (o *Orchestrator) finishSwitch(ctx context.Context, outgoing string, in *prepared) error {
	if err := o.store.SetSessionStatus(ctx, in.ID, models.SessionActive); err != nil {
		return err
	}
	if outgoing != "" {
		if err := o.archiveSession(ctx, outgoing); err != nil {
			return err
		}
	}
	if err := removeJournal(o.cfg.JournalPath); err != nil {
		return err
	}

	if in.job != "" {
		o.downloads.Forget(in.job)
	}
	in.Status = models.SessionActive
	o.current = in.session
	o.next = nil
	o.playingFile, o.playingItem = "", ""

	if _, err := o.sweeper.Sweep(ctx, nil); err != nil {
		o.logger.Warn().Err(err).Msg("staging sweep failed")
	}
	o.detector.Reset(o.cfg.LiveDir)
	o.detector.SetDeleteOnAdvance(o.settings.Current().DeleteConsumedFiles())
	if o.paused() {
		o.detector.Suspend()
		if err := o.surface.SwitchTo(ctx, o.cfg.PauseScene); err != nil {
			o.logger.Warn().Err(err).Msg("return to pause scene")
		}
	}

	o.publishTitle(in.Groups)
	o.logger.Info().Str("session_id", in.ID).Str("outgoing", outgoing).Strs("groups", in.Groups).Msg("rotation switched")
	o.publish(events.EventRotationSwitched, events.Payload{"session_id": in.ID, "groups": in.Groups})
	return o.transition(StatePlaying)
}

// archiveSession retires a session. Items it never played count as consumed.
func (o *Orchestrator) archiveSession(ctx context.Context, id string) error {
	items, err := o.store.Items(ctx, id)
	if err != nil {
		return err
	}
	for _, it := range items {
		if it.State.Outstanding() {
			if err := o.store.SetItemState(ctx, it.ID, models.ItemConsumed); err != nil {
				return err
			}
		}
	}
	if err := o.store.SetSessionStatus(ctx, id, models.SessionArchived); err != nil {
		return err
	}
	return o.store.PurgeLedger(ctx, id)
}

// startTemp plays the staged part of the next rotation while the rest
// downloads.
func (o *Orchestrator) startTemp(ctx context.Context) error {
	n := o.next
	if o.temp == nil || !o.surface.IsConnected() || o.paused() {
		return nil
	}
	staged := n.staged()
	ts, err := o.temp.Activate(ctx, o.cfg.StagingDir, o.tempNext())
	if errors.Is(err, tempplay.ErrNothingStaged) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("activate temp playback: %w", err)
	}
	if o.current != nil && o.current.ID != n.ID {
		if err := o.archiveSession(ctx, o.current.ID); err != nil {
			return err
		}
	}
	if err := o.store.SetSessionStatus(ctx, n.ID, models.SessionTempPlayback); err != nil {
		return err
	}
	n.Status = models.SessionTempPlayback
	o.current = n.session
	o.playingFile, o.playingItem = "", ""
	o.logger.Info().Str("session_id", n.ID).Int("files", len(ts.Playlist)).Int("staged", len(staged)).Msg("temp playback started")
	o.publish(events.EventTempPlaybackStart, events.Payload{"session_id": n.ID, "groups": n.Groups, "files": len(ts.Playlist)})
	return o.transition(StateTempPlayback)
}

// endTemp stops temp playback once the rotation is fully downloaded and
// hands over to a normal switch. A file the player already started keeps its
// position in the live directory.
func (o *Orchestrator) endTemp(ctx context.Context) error {
	heldID, elapsed := o.heldTempItem(ctx)
	if _, err := o.temp.Deactivate(); err != nil {
		return err
	}
	o.publish(events.EventTempPlaybackEnd, events.Payload{"session_id": o.next.ID})
	if err := o.transition(StateSwitching); err != nil {
		return err
	}
	if err := o.switchNext(ctx); err != nil {
		return err
	}
	if o.state == StatePlaying && heldID != "" {
		o.seekResumed(ctx, heldID, elapsed)
	}
	return nil
}

// heldTempItem returns the temp item the player holds and its position.
func (o *Orchestrator) heldTempItem(ctx context.Context) (string, time.Duration) {
	it := o.current.item(o.detector.Current())
	if it == nil {
		return "", 0
	}
	st, err := o.surface.MediaStatus(ctx, o.cfg.MediaSource)
	if err != nil || st.Cursor <= 0 {
		return "", 0
	}
	return it.ID, st.Cursor
}

// seekResumed seeks the player to elapsed when the item it was playing before
// the switch is first in the live directory.
func (o *Orchestrator) seekResumed(ctx context.Context, itemID string, elapsed time.Duration) {
	it := o.current.items[itemID]
	if it == nil || it.LiveName == "" {
		return
	}
	files, err := media.List(o.cfg.LiveDir)
	if err != nil || len(files) == 0 || files[0] != it.LiveName {
		return
	}
	if err := o.surface.SeekMedia(ctx, o.cfg.MediaSource, elapsed); err != nil {
		o.logger.Warn().Err(err).Str("file", it.LiveName).Msg("seek after temp playback failed")
		return
	}
	o.logger.Info().Str("file", it.LiveName).Dur("elapsed", elapsed).Msg("continued temp file after switch")
}
