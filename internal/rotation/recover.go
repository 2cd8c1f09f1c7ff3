/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rotation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/friendsincode/loopcast/internal/controlsurface"
	"github.com/friendsincode/loopcast/internal/download"
	"github.com/friendsincode/loopcast/internal/events"
	"github.com/friendsincode/loopcast/internal/media"
	"github.com/friendsincode/loopcast/internal/models"
	"github.com/friendsincode/loopcast/internal/store"
	"github.com/friendsincode/loopcast/internal/tempplay"
)

func (o *Orchestrator) tickRecovering(ctx context.Context) error {
	if o.mode == recoverFreeze {
		if !o.recovered.Swap(false) {
			return nil
		}
		if err := o.restoreAfterFreeze(ctx); err != nil {
			o.recovered.Store(true)
			return err
		}
		return nil
	}
	if o.freezing.Load() || !o.surface.IsConnected() {
		return nil
	}
	o.recovered.Store(false)
	return o.recover(ctx)
}

// recover rebuilds rotation state from the store, the switch journal and the
// live directory. The directory wins whenever they disagree.
func (o *Orchestrator) recover(ctx context.Context) error {
	o.dropNext()

	st, err := o.store.Load(ctx)
	corrupt := errors.Is(err, store.ErrCorruptSession)
	if err != nil && !corrupt {
		return err
	}
	if st == nil {
		st = &store.RecoveredState{}
	}
	j, err := readJournal(o.cfg.JournalPath)
	if err != nil {
		o.logger.Warn().Err(err).Msg("unreadable switch journal")
		corrupt = true
		if err := removeJournal(o.cfg.JournalPath); err != nil {
			return err
		}
	}
	files, err := media.List(o.cfg.LiveDir)
	if err != nil {
		return err
	}
	if st.Incident != nil {
		o.logger.Warn().Str("incident_id", st.Incident.ID).Msg("freeze recovery blocked until a manual reconnect")
	}

	if corrupt || j != nil || o.mixed(st, files) {
		o.logger.Warn().Bool("corrupt", corrupt).Bool("journal", j != nil).Msg("reconciling against the live directory")
		return o.reconcile(ctx, st, j, files)
	}

	switch {
	case st.Current == nil:
		if st.Next != nil {
			o.next = o.resumePrepared(ctx, *st.Next, st.NextItems)
		}
		return o.freshStart(ctx)
	case st.Current.Status == models.SessionTempPlayback:
		if st.Next != nil {
			if err := o.store.SetSessionStatus(ctx, st.Next.ID, models.SessionArchived); err != nil {
				return err
			}
		}
		return o.resumeTemp(ctx, st)
	default:
		if st.Next != nil {
			o.next = o.resumePrepared(ctx, *st.Next, st.NextItems)
		}
		return o.resumeLive(ctx, newSession(*st.Current, st.CurrentItems), st.Cursor)
	}
}

// dropNext stops a prepared rotation's background work without touching its
// persisted status, so a retried recovery can enqueue it again.
func (o *Orchestrator) dropNext() {
	n := o.next
	if n == nil {
		return
	}
	o.next = nil
	if n.listing != "" {
		o.downloads.CancelListing(n.listing)
	}
	if n.job != "" {
		if err := o.downloads.Cancel(n.job); err != nil && !errors.Is(err, download.ErrUnknownJob) {
			o.logger.Warn().Err(err).Msg("cancel download job")
		}
		o.downloads.Forget(n.job)
	}
}

// mixed reports live files that the on-air session does not own.
func (o *Orchestrator) mixed(st *store.RecoveredState, files []string) bool {
	if st.Current == nil || st.Current.Status == models.SessionTempPlayback {
		return false
	}
	owned := make(map[string]bool, len(st.CurrentItems))
	for _, it := range st.CurrentItems {
		if it.LiveName != "" {
			owned[it.LiveName] = true
		}
	}
	for _, f := range files {
		if !owned[f] {
			return true
		}
	}
	return false
}

// reconcile resolves an interrupted switch or contradictory records. The
// incoming session of a journal wins when any of its files made it to disk
// or staging; otherwise the outgoing one; otherwise the newest session owning
// live files. Files of every other session are discarded.
func (o *Orchestrator) reconcile(ctx context.Context, st *store.RecoveredState, j *Journal, files []string) error {
	var order []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}
	if j != nil {
		add(j.Incoming)
		add(j.Outgoing)
	}
	onAir, err := o.store.SessionsByStatus(ctx, models.SessionActive, models.SessionTempPlayback, models.SessionExhausted)
	if err != nil {
		return err
	}
	for _, s := range onAir {
		add(s.ID)
	}

	sessions := make(map[string]*session, len(order))
	for _, id := range order {
		rec, err := o.store.Session(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		items, err := o.store.Items(ctx, id)
		if err != nil {
			return err
		}
		sessions[id] = newSession(*rec, items)
	}

	owners := make(map[string][]string)
	for _, f := range files {
		for _, id := range order {
			if s := sessions[id]; s != nil && s.byFile[f] != "" {
				owners[id] = append(owners[id], f)
				break
			}
		}
	}

	chosen := ""
	completeMove := false
	if j != nil {
		if in := sessions[j.Incoming]; in != nil && (len(owners[in.ID]) > 0 || o.hasStaged(in)) {
			chosen, completeMove = in.ID, true
		} else if len(owners[j.Outgoing]) > 0 {
			chosen = j.Outgoing
		}
	}
	if chosen == "" {
		var newest time.Time
		for _, id := range order {
			if s := sessions[id]; s != nil && len(owners[id]) > 0 && (chosen == "" || s.StartedAt.After(newest)) {
				chosen, newest = id, s.StartedAt
			}
		}
	}

	owned := make(map[string]bool)
	for _, f := range owners[chosen] {
		owned[f] = true
	}
	for _, f := range files {
		if !owned[f] {
			if err := o.live.Remove(f); err != nil {
				o.logger.Warn().Err(err).Str("file", f).Msg("discard live file")
			}
		}
	}

	var nextRec *session
	for _, id := range order {
		s := sessions[id]
		if s == nil || id == chosen {
			continue
		}
		demote := s.Status == models.SessionTempPlayback || (j != nil && id == j.Incoming)
		if demote && nextRec == nil {
			// its downloads are still useful; prepare it again
			if err := o.store.SetSessionStatus(ctx, id, models.SessionPreparing); err != nil {
				return err
			}
			s.Status = models.SessionPreparing
			nextRec = s
			continue
		}
		if s.Status == models.SessionArchived || s.Status == models.SessionFailed {
			continue
		}
		if err := o.archiveSession(ctx, id); err != nil {
			return err
		}
	}
	if err := removeJournal(o.cfg.JournalPath); err != nil {
		return err
	}

	switch {
	case nextRec != nil:
		if st.Next != nil && st.Next.ID != nextRec.ID {
			if err := o.store.SetSessionStatus(ctx, st.Next.ID, models.SessionArchived); err != nil {
				return err
			}
		}
		items := make([]models.ContentItem, 0, len(nextRec.items))
		for _, it := range nextRec.ordered() {
			items = append(items, *it)
		}
		o.next = o.resumePrepared(ctx, nextRec.RotationSession, items)
	case st.Next != nil && st.Next.ID != chosen:
		o.next = o.resumePrepared(ctx, *st.Next, st.NextItems)
	}

	if chosen == "" {
		if err := o.store.ClearCursor(ctx); err != nil {
			return err
		}
		return o.freshStart(ctx)
	}

	s := sessions[chosen]
	if completeMove {
		if err := o.moveStaged(ctx, s); err != nil {
			return err
		}
	}
	if err := o.store.SetSessionStatus(ctx, chosen, models.SessionActive); err != nil {
		return err
	}
	s.Status = models.SessionActive
	cursor := st.Cursor
	if cursor != nil && cursor.SessionID != chosen {
		cursor = nil
	}
	return o.resumeLive(ctx, s, cursor)
}

func (o *Orchestrator) hasStaged(s *session) bool {
	for _, it := range s.items {
		if it.StagedPath == "" {
			continue
		}
		if _, err := os.Stat(it.StagedPath); err == nil {
			return true
		}
	}
	return false
}

// resumePrepared re-enqueues a preparing session. The ledger settles items
// that were fetched or played before the restart without fetching them again.
func (o *Orchestrator) resumePrepared(ctx context.Context, rec models.RotationSession, items []models.ContentItem) *prepared {
	p := &prepared{
		session:  newSession(rec, items),
		consumed: make(map[string]bool),
	}
	for _, it := range items {
		if it.State == models.ItemConsumed {
			p.consumed[it.ID] = true
		}
	}
	o.enqueue(ctx, p)
	o.logger.Info().Str("session_id", rec.ID).Int("items", len(items)).Msg("prepared rotation resumed")
	return p
}

// resumeLive continues s from the live directory. The resumed file is the
// cursor's file when it is still there, else the next one on disk; files
// before it are leftovers and are removed. When only such leftovers remain
// the session resolves to exhausted rather than replaying an earlier file.
func (o *Orchestrator) resumeLive(ctx context.Context, s *session, cursor *models.PlaybackCursor) error {
	files, err := media.List(o.cfg.LiveDir)
	if err != nil {
		return err
	}
	target, seek := "", time.Duration(0)
	if len(files) > 0 {
		target = files[0]
	}
	if cursor != nil && cursor.SessionID == s.ID && cursor.FileName != "" && len(files) > 0 {
		idx := sort.SearchStrings(files, cursor.FileName)
		switch {
		case idx < len(files) && files[idx] == cursor.FileName:
			target = files[idx]
			seek = time.Duration(cursor.ElapsedSeconds * float64(time.Second))
		case idx < len(files):
			target = files[idx]
		default:
			target = ""
		}
		for _, f := range files[:idx] {
			if it := s.item(f); it != nil {
				it.State = models.ItemConsumed
				if err := o.store.SetItemState(ctx, it.ID, models.ItemConsumed); err != nil {
					return err
				}
			}
			if err := o.live.Remove(f); err != nil {
				o.logger.Warn().Err(err).Str("file", f).Msg("remove played leftover")
			}
		}
	}
	o.current = s
	o.cursor = cursor
	o.playingFile, o.playingItem = "", ""

	if target == "" {
		o.logger.Info().Str("session_id", s.ID).Msg("resumed session has nothing left to play")
		if err := o.store.SetSessionStatus(ctx, s.ID, models.SessionExhausted); err != nil {
			return err
		}
		s.Status = models.SessionExhausted
		if err := o.transition(StateExhausted); err != nil {
			return err
		}
		return o.handleExhausted(ctx)
	}

	if err := o.surface.EnsureSource(ctx, o.cfg.StreamScene, controlsurface.PlaylistSourceKind, o.cfg.MediaSource); err != nil {
		o.logger.Warn().Err(err).Msg("ensure media source")
	}
	if err := o.surface.ReloadMediaSource(ctx, o.cfg.MediaSource, o.cfg.LiveDir); err != nil {
		return err
	}
	if seek > 0 {
		if err := o.surface.SeekMedia(ctx, o.cfg.MediaSource, seek); err != nil {
			o.logger.Warn().Err(err).Dur("position", seek).Msg("seek to saved position")
		}
	}
	if err := o.surface.SwitchTo(ctx, o.cfg.StreamScene); err != nil {
		return err
	}
	o.detector.Reset(o.cfg.LiveDir)
	o.detector.SetDeleteOnAdvance(o.settings.Current().DeleteConsumedFiles())
	if s.Status != models.SessionActive {
		if err := o.store.SetSessionStatus(ctx, s.ID, models.SessionActive); err != nil {
			return err
		}
		s.Status = models.SessionActive
	}

	o.publishTitle(s.Groups)
	o.logger.Info().Str("session_id", s.ID).Str("file", target).Dur("position", seek).Msg("session resumed")
	o.publish(events.EventSessionResumed, events.Payload{"session_id": s.ID, "file": target, "groups": s.Groups})
	return o.transition(StatePlaying)
}

// resumeTemp re-enters temp playback with the staged items left on disk.
func (o *Orchestrator) resumeTemp(ctx context.Context, st *store.RecoveredState) error {
	p := o.resumePrepared(ctx, *st.Current, st.CurrentItems)
	o.next = p
	o.current = p.session

	next := tempplay.Next{SessionID: p.ID, Groups: p.Groups}
	for _, it := range p.ordered() {
		if p.consumed[it.ID] || it.StagedPath == "" {
			continue
		}
		if _, err := os.Stat(it.StagedPath); err != nil {
			continue
		}
		if rel, err := filepath.Rel(o.cfg.StagingDir, it.StagedPath); err == nil {
			p.byFile[rel] = it.ID
		}
		next.Staged = append(next.Staged, tempplay.Staged{ItemID: it.ID, Group: it.GroupName, Path: it.StagedPath})
	}

	current, elapsed := "", time.Duration(0)
	if c := st.Cursor; c != nil && c.SessionID == p.ID {
		current = c.FileName
		elapsed = time.Duration(c.ElapsedSeconds * float64(time.Second))
		o.cursor = c
	}
	ts, err := o.temp.Restore(ctx, o.cfg.StagingDir, next, current, elapsed)
	if errors.Is(err, tempplay.ErrNothingStaged) {
		if err := o.transition(StateExhausted); err != nil {
			return err
		}
		o.waitScreen(ctx)
		return nil
	}
	if err != nil {
		return err
	}
	o.logger.Info().Str("session_id", p.ID).Int("files", len(ts.Playlist)).Msg("temp playback resumed")
	o.publish(events.EventSessionResumed, events.Payload{"session_id": p.ID, "file": current, "groups": p.Groups})
	return o.transition(StateTempPlayback)
}

func (o *Orchestrator) freshStart(ctx context.Context) error {
	o.current = nil
	o.waitScreen(ctx)
	return o.transition(StateSelecting)
}
