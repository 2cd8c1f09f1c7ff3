/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rotation

import (
	"context"
	"fmt"

	"github.com/friendsincode/loopcast/internal/detector"
	"github.com/friendsincode/loopcast/internal/events"
)

type commandKind string

const (
	cmdTrigger  commandKind = "trigger"
	cmdSkip     commandKind = "skip"
	cmdPause    commandKind = "pause"
	cmdResume   commandKind = "resume"
	cmdOverride commandKind = "override"
)

type command struct {
	kind   commandKind
	groups []string
	reply  chan error
}

// Trigger rotates to the prepared rotation now instead of waiting for the
// live directory to run out.
func (o *Orchestrator) Trigger(ctx context.Context) error {
	return o.send(ctx, command{kind: cmdTrigger})
}

// Skip advances the player to the next file.
func (o *Orchestrator) Skip(ctx context.Context) error {
	return o.send(ctx, command{kind: cmdSkip})
}

// Pause holds the stream on the pause scene until Resume.
func (o *Orchestrator) Pause(ctx context.Context) error {
	return o.send(ctx, command{kind: cmdPause})
}

// Resume ends a manual pause. The stream stays paused while a watched
// streamer is live.
func (o *Orchestrator) Resume(ctx context.Context) error {
	return o.send(ctx, command{kind: cmdResume})
}

// Override replaces the prepared rotation with the named groups. During temp
// playback the override is applied after the next switch.
func (o *Orchestrator) Override(ctx context.Context, groups []string) error {
	if len(groups) == 0 {
		return fmt.Errorf("%w: no groups given", ErrUnknownGroup)
	}
	return o.send(ctx, command{kind: cmdOverride, groups: groups})
}

func (o *Orchestrator) send(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case o.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) execute(ctx context.Context, cmd command) error {
	o.logger.Info().Str("command", string(cmd.kind)).Strs("groups", cmd.groups).Msg("manual command")
	defer o.publishStatus()

	switch cmd.kind {
	case cmdTrigger:
		if o.state != StatePlaying {
			return fmt.Errorf("%w: trigger in %s", ErrNotOnAir, o.state)
		}
		if o.next == nil || o.next.phase != phaseReady {
			return ErrNotReady
		}
		return o.exhaust(ctx, detector.Event{Kind: detector.DirectoryExhausted})

	case cmdSkip:
		if !o.state.OnAir() {
			return fmt.Errorf("%w: skip in %s", ErrNotOnAir, o.state)
		}
		return o.surface.NextMedia(ctx, o.cfg.MediaSource)

	case cmdPause:
		if o.manualPause {
			return nil
		}
		o.manualPause = true
		if !o.streamerLive {
			o.pauseOutput(ctx)
		}
		o.publish(events.EventPaused, nil)
		return nil

	case cmdResume:
		if !o.manualPause {
			return nil
		}
		o.manualPause = false
		if !o.streamerLive {
			o.resumeOutput(ctx)
		}
		o.publish(events.EventResumed, nil)
		return nil

	case cmdOverride:
		settings := o.settings.Current()
		for _, g := range cmd.groups {
			if _, ok := settings.Group(g); !ok {
				return fmt.Errorf("%w: %s", ErrUnknownGroup, g)
			}
		}
		groups := append([]string(nil), cmd.groups...)
		if o.state == StateTempPlayback || o.state == StateSwitching || o.state == StateRecovering {
			o.pendingOver = groups
			return nil
		}
		if err := o.cancelNext(ctx); err != nil {
			return err
		}
		o.override = groups
		if o.state == StateDownloading || o.state == StateReadyToSwitch {
			return o.transition(StateSelecting)
		}
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd.kind)
}

// applyPendingOverride applies an override queued while the state could not
// take it.
func (o *Orchestrator) applyPendingOverride(ctx context.Context) {
	if o.pendingOver == nil {
		return
	}
	switch o.state {
	case StateTempPlayback, StateSwitching, StateRecovering:
		return
	}
	if err := o.cancelNext(ctx); err != nil {
		o.logger.Error().Err(err).Msg("cancel next rotation for override")
		return
	}
	o.override, o.pendingOver = o.pendingOver, nil
	if o.state == StateDownloading || o.state == StateReadyToSwitch {
		if err := o.transition(StateSelecting); err != nil {
			o.logger.Error().Err(err).Msg("restart selection for override")
		}
	}
}
