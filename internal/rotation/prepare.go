/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rotation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/friendsincode/loopcast/internal/download"
	"github.com/friendsincode/loopcast/internal/events"
	"github.com/friendsincode/loopcast/internal/models"
	"github.com/friendsincode/loopcast/internal/platform"
	"github.com/friendsincode/loopcast/internal/telemetry"
	"github.com/friendsincode/loopcast/internal/tempplay"
)

// session is a persisted session with its items indexed by file.
type session struct {
	models.RotationSession
	items  map[string]*models.ContentItem // by id
	byFile map[string]string              // live name, or staging-relative path, to item id
}

func newSession(rec models.RotationSession, items []models.ContentItem) *session {
	s := &session{
		RotationSession: rec,
		items:           make(map[string]*models.ContentItem, len(items)),
		byFile:          make(map[string]string),
	}
	for i := range items {
		it := items[i]
		s.items[it.ID] = &it
		if it.LiveName != "" {
			s.byFile[it.LiveName] = it.ID
		}
	}
	return s
}

// ordered returns items in play order: selection order of groups, then
// ordering within the group.
func (s *session) ordered() []*models.ContentItem {
	rank := make(map[string]int, len(s.Groups))
	for i, g := range s.Groups {
		rank[g] = i
	}
	out := make([]*models.ContentItem, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := rank[out[i].GroupName], rank[out[j].GroupName]
		if ri != rj {
			return ri < rj
		}
		if out[i].Ordering != out[j].Ordering {
			return out[i].Ordering < out[j].Ordering
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *session) item(file string) *models.ContentItem {
	if s == nil {
		return nil
	}
	return s.items[s.byFile[file]]
}

type prepPhase string

const (
	phaseListing     prepPhase = "listing"
	phaseDownloading prepPhase = "downloading"
	phaseReady       prepPhase = "ready"
)

// prepared is the next rotation while it is listed and downloaded.
type prepared struct {
	*session
	phase    prepPhase
	listing  download.JobHandle
	job      download.JobHandle
	results  map[string]download.Result
	consumed map[string]bool
}

// staged returns the complete items still waiting in staging.
func (p *prepared) staged() []tempplay.Staged {
	var out []tempplay.Staged
	for _, it := range p.ordered() {
		r, ok := p.results[it.ID]
		if !ok || r.State != download.StateStaged || p.consumed[it.ID] || len(r.Paths) == 0 {
			continue
		}
		if _, err := os.Stat(r.Paths[0]); err != nil {
			continue
		}
		out = append(out, tempplay.Staged{ItemID: it.ID, Group: it.GroupName, Path: r.Paths[0]})
	}
	return out
}

// advancePrep moves the next rotation one step through select, list,
// download and ready. It never blocks on the network.
func (o *Orchestrator) advancePrep(ctx context.Context) error {
	if o.next == nil {
		return o.selectNext(ctx)
	}
	switch o.next.phase {
	case phaseListing:
		return o.pollListing(ctx)
	case phaseDownloading:
		return o.pollDownloads(ctx)
	}
	return nil
}

// selectNext picks the groups of the next rotation and starts listing them.
func (o *Orchestrator) selectNext(ctx context.Context) error {
	if o.state == StateSwitching || o.state == StateTempPlayback {
		return nil
	}
	s := o.settings.Current()
	all, err := o.store.Groups(ctx)
	if err != nil {
		return err
	}

	var chosen []models.ContentGroup
	if o.override != nil {
		byName := make(map[string]models.ContentGroup, len(all))
		for _, g := range all {
			byName[strings.ToLower(g.Name)] = g
		}
		requested := o.override
		o.override = nil
		for _, name := range requested {
			g, ok := byName[strings.ToLower(name)]
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownGroup, name)
			}
			chosen = append(chosen, g)
		}
	} else {
		var exclude map[string]bool
		if o.current != nil {
			exclude = excludeSet(o.current.Groups)
		}
		chosen, err = SelectGroups(all, s.MinGroups, s.MaxGroups, exclude)
		if err != nil {
			if !o.selectFailing {
				o.selectFailing = true
				telemetry.SelectionFailuresTotal.Inc()
				o.logger.Warn().Err(err).Msg("group selection failed, retrying")
			}
			return nil
		}
	}
	o.selectFailing = false

	names := make([]string, len(chosen))
	sources := make([]download.Source, len(chosen))
	for i, g := range chosen {
		names[i] = g.Name
		sources[i] = download.Source{Group: g.Name, URL: g.SourceURL}
	}
	if err := o.store.TouchGroups(ctx, names, o.now()); err != nil {
		return err
	}
	o.next = &prepared{
		session: newSession(models.RotationSession{Groups: names}, nil),
		phase:   phaseListing,
		listing: o.downloads.List(ctx, sources),
	}
	o.logger.Info().Strs("groups", names).Msg("selected next rotation")
	return nil
}

// pollListing turns a finished listing into a preparing session and
// starts its downloads.
func (o *Orchestrator) pollListing(ctx context.Context) error {
	n := o.next
	l, err := o.downloads.Listing(n.listing)
	if err != nil {
		o.next = nil
		return err
	}
	if !l.Done {
		return nil
	}
	o.downloads.CancelListing(n.listing)
	n.listing = ""

	var groups []string
	var items []models.ContentItem
	for _, g := range n.Groups {
		if lerr := l.Errors[g]; lerr != nil {
			o.logger.Warn().Err(lerr).Str("group", g).Msg("group listing failed")
			o.publish(events.EventDownloadWarning, events.Payload{"group": g, "reason": fmt.Sprintf("listing %s failed: %v", g, lerr)})
			continue
		}
		entries := l.Entries[g]
		if len(entries) == 0 {
			continue
		}
		src, _ := o.settings.Current().Group(g)
		groups = append(groups, g)
		for i, e := range entries {
			ordering := e.Index
			if ordering <= 0 {
				ordering = i + 1
			}
			url := e.URL
			if url == "" {
				url = src.URL
			}
			items = append(items, models.ContentItem{
				GroupName:       g,
				SourceKey:       e.ID,
				SourceURL:       url,
				Title:           e.Title,
				Ordering:        ordering,
				DurationSeconds: e.Duration,
			})
		}
	}
	if len(items) == 0 {
		o.next = nil
		o.publish(events.EventRotationFailed, events.Payload{"groups": n.Groups, "reason": "no items listed for " + strings.Join(n.Groups, ", ")})
		return fmt.Errorf("no items listed for %v", n.Groups)
	}

	s := o.settings.Current()
	rec := models.RotationSession{
		Status:   models.SessionPreparing,
		Groups:   groups,
		Degraded: len(groups) < len(n.Groups),
		Title:    platform.ComposeTitle(s.TitleTemplate, groups, s.TitleLimit),
	}
	if err := o.store.CreateSession(ctx, &rec, items); err != nil {
		o.next = nil
		return err
	}
	n.session = newSession(rec, items)
	o.enqueue(ctx, n)
	o.logger.Info().Str("session_id", rec.ID).Strs("groups", groups).Int("items", len(items)).Msg("next rotation downloading")
	o.publish(events.EventRotationSelected, events.Payload{"session_id": rec.ID, "groups": groups})
	return nil
}

// enqueue starts (or restarts) the download job for n.
func (o *Orchestrator) enqueue(ctx context.Context, n *prepared) {
	items := n.ordered()
	work := make([]download.Item, 0, len(items))
	for _, it := range items {
		work = append(work, download.Item{
			ID:        it.ID,
			GroupName: it.GroupName,
			SourceURL: it.SourceURL,
			SourceKey: it.SourceKey,
			Ordering:  it.Ordering,
		})
	}
	n.results = make(map[string]download.Result, len(items))
	if n.consumed == nil {
		n.consumed = make(map[string]bool)
	}
	n.job = o.downloads.Enqueue(ctx, n.ID, work)
	n.phase = phaseDownloading
}

// pollDownloads mirrors per-item results into the store and settles the
// rotation once the job is done.
func (o *Orchestrator) pollDownloads(ctx context.Context) error {
	n := o.next
	p, ok := o.downloads.Progress(n.job)
	if !ok {
		o.enqueue(ctx, n)
		return nil
	}
	for _, r := range o.downloads.Results(n.job) {
		prev, seen := n.results[r.ItemID]
		if seen && prev.State == r.State {
			continue
		}
		if err := o.mirrorResult(ctx, n, r); err != nil {
			return err
		}
		n.results[r.ItemID] = r
	}
	if !p.Done {
		return nil
	}

	if p.Failed == len(n.items) {
		return o.failNext(ctx, n)
	}
	n.phase = phaseReady
	if p.Failed > 0 && !n.Degraded {
		n.Degraded = true
		if err := o.store.UpdateSession(ctx, n.ID, map[string]any{"degraded": true}); err != nil {
			return err
		}
	}
	o.logger.Info().Str("session_id", n.ID).Int("staged", p.Completed).Int("failed", p.Failed).Msg("next rotation ready")
	o.publish(events.EventNextReady, events.Payload{"session_id": n.ID, "groups": n.Groups, "degraded": n.Degraded})
	return nil
}

func (o *Orchestrator) mirrorResult(ctx context.Context, n *prepared, r download.Result) error {
	it := n.items[r.ItemID]
	if it == nil {
		return nil
	}
	updates := map[string]any{"attempts": r.Attempts}
	switch r.State {
	case download.StateDownloading:
		updates["state"] = models.ItemDownloading
	case download.StateStaged:
		if n.consumed[it.ID] {
			return nil
		}
		path := ""
		if len(r.Paths) > 0 {
			path = r.Paths[0]
		}
		updates["state"] = models.ItemStaged
		updates["staged_path"] = path
		it.StagedPath = path
		if rel, err := filepath.Rel(o.cfg.StagingDir, path); err == nil && path != "" {
			n.byFile[rel] = it.ID
		}
	case download.StateConsumed:
		updates["state"] = models.ItemConsumed
		n.consumed[it.ID] = true
	case download.StateFailed:
		updates["state"] = models.ItemFailed
		if r.Err != nil {
			updates["last_error"] = r.Err.Error()
		}
	default:
		return nil
	}
	it.State = updates["state"].(models.ItemState)
	return o.store.UpdateItem(ctx, it.ID, updates)
}

// failNext archives a rotation whose every item failed. Its groups go to the
// back of the queue and selection starts over.
func (o *Orchestrator) failNext(ctx context.Context, n *prepared) error {
	o.downloads.Forget(n.job)
	o.next = nil
	if err := o.store.SetSessionStatus(ctx, n.ID, models.SessionFailed); err != nil {
		return err
	}
	if err := o.store.TouchGroups(ctx, n.Groups, o.now()); err != nil {
		return err
	}
	o.logger.Error().Str("session_id", n.ID).Strs("groups", n.Groups).Msg("every item of the next rotation failed")
	o.publish(events.EventRotationFailed, events.Payload{
		"session_id": n.ID,
		"groups":     n.Groups,
		"reason":     "every item failed to download: " + strings.Join(n.Groups, ", "),
	})
	return nil
}

// cancelNext abandons the prepared rotation, as on an override.
func (o *Orchestrator) cancelNext(ctx context.Context) error {
	n := o.next
	if n == nil {
		return nil
	}
	o.dropNext()
	if n.ID != "" {
		return o.store.SetSessionStatus(ctx, n.ID, models.SessionArchived)
	}
	return nil
}

// followPrep keeps SELECTING, DOWNLOADING and READY_TO_SWITCH in step with
// the prepared rotation when nothing is on air.
func (o *Orchestrator) followPrep(ctx context.Context) error {
	n := o.next
	if n == nil || n.phase == phaseListing {
		if o.state != StateSelecting {
			return o.transition(StateSelecting)
		}
		return nil
	}
	if o.state == StateSelecting {
		if err := o.transition(StateDownloading); err != nil {
			return err
		}
	}
	if n.phase == phaseDownloading {
		if o.current != nil && len(n.staged()) > 0 {
			return o.startTemp(ctx)
		}
		return nil
	}
	if o.state == StateDownloading {
		if err := o.transition(StateReadyToSwitch); err != nil {
			return err
		}
	}
	if o.paused() || !o.surface.IsConnected() {
		return nil
	}
	if err := o.transition(StateSwitching); err != nil {
		return err
	}
	return o.switchNext(ctx)
}
