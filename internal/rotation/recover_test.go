/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rotation

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/friendsincode/loopcast/internal/models"
)

// seedSession persists a session whose items already carry live names.
func (f *fixture) seedSession(status models.SessionStatus, group string, liveNames ...string) (models.RotationSession, []models.ContentItem) {
	f.t.Helper()
	rec := models.RotationSession{Status: status, Groups: []string{group}}
	items := make([]models.ContentItem, len(liveNames))
	for i, name := range liveNames {
		items[i] = models.ContentItem{
			GroupName: group,
			SourceKey: name,
			SourceURL: "item://" + name,
			Ordering:  i + 1,
			LiveName:  name,
			State:     models.ItemStaged,
		}
	}
	if err := f.store.CreateSession(f.ctx, &rec, items); err != nil {
		f.t.Fatalf("seed session: %v", err)
	}
	return rec, items
}

func (f *fixture) touch(dir string, names ...string) {
	f.t.Helper()
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			f.t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("media"), 0o644); err != nil {
			f.t.Fatal(err)
		}
	}
}

func (f *fixture) saveCursor(c models.PlaybackCursor) {
	f.t.Helper()
	if err := f.store.SaveCursor(f.ctx, c); err != nil {
		f.t.Fatal(err)
	}
	if err := f.store.Flush(f.ctx); err != nil {
		f.t.Fatal(err)
	}
}

func TestRecoverResumesCursorFile(t *testing.T) {
	f := newFixture(t, "A", "B")
	rec, items := f.seedSession(models.SessionActive, "A", "01_001_a1.mp4", "01_002_a2.mp4", "01_003_a3.mp4")
	f.touch(f.live, "01_002_a2.mp4", "01_003_a3.mp4")
	f.saveCursor(models.PlaybackCursor{SessionID: rec.ID, ItemID: items[1].ID, FileName: "01_002_a2.mp4", ElapsedSeconds: 42})

	f.orch.Tick(f.ctx)

	if f.orch.state != StatePlaying {
		t.Fatalf("state = %s", f.orch.state)
	}
	if f.orch.current.ID != rec.ID {
		t.Fatalf("resumed %s, want %s", f.orch.current.ID, rec.ID)
	}
	if !f.called("SeekMedia Playlist 42s") {
		t.Fatalf("position not restored: %v", f.surface.CallLog())
	}
	if diff := cmp.Diff([]string{"01_002_a2.mp4", "01_003_a3.mp4"}, f.liveFiles()); diff != "" {
		t.Fatalf("live directory changed (-want +got):\n%s", diff)
	}
	if f.orch.next != nil {
		t.Fatal("recovery started a selection in the same tick")
	}
}

func TestRecoverSkipsToNextFileWhenCursorFileMissing(t *testing.T) {
	f := newFixture(t, "A", "B")
	rec, items := f.seedSession(models.SessionActive, "A", "01_001_a1.mp4", "01_002_a2.mp4", "01_003_a3.mp4")
	// a1 is a leftover the player never got to delete; a2 finished and is gone
	f.touch(f.live, "01_001_a1.mp4", "01_003_a3.mp4")
	f.saveCursor(models.PlaybackCursor{SessionID: rec.ID, ItemID: items[1].ID, FileName: "01_002_a2.mp4", ElapsedSeconds: 42})

	f.orch.Tick(f.ctx)

	if f.orch.state != StatePlaying {
		t.Fatalf("state = %s", f.orch.state)
	}
	if diff := cmp.Diff([]string{"01_003_a3.mp4"}, f.liveFiles()); diff != "" {
		t.Fatalf("live directory mismatch (-want +got):\n%s", diff)
	}
	for _, c := range f.surface.CallLog() {
		if c == "SeekMedia Playlist 42s" {
			t.Fatal("seeked into a different file")
		}
	}
	got, err := f.store.Items(f.ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].State != models.ItemConsumed {
		t.Fatalf("leftover a1 state = %s", got[0].State)
	}
}

func TestRecoverWithOnlyEarlierFilesLeftIsExhausted(t *testing.T) {
	f := newFixture(t, "A", "B")
	rec, items := f.seedSession(models.SessionActive, "A", "01_001_a1.mp4", "01_002_a2.mp4", "01_003_a3.mp4")
	// a3 was playing and is gone; only the undeleted a1 is left
	f.touch(f.live, "01_001_a1.mp4")
	f.saveCursor(models.PlaybackCursor{SessionID: rec.ID, ItemID: items[2].ID, FileName: "01_003_a3.mp4", ElapsedSeconds: 10})

	f.orch.Tick(f.ctx)

	if f.orch.state != StateSelecting {
		t.Fatalf("state = %s", f.orch.state)
	}
	if st := f.sessionStatus(rec.ID); st != models.SessionExhausted {
		t.Fatalf("session status = %s", st)
	}
	if files := f.liveFiles(); len(files) != 0 {
		t.Fatalf("leftovers kept in live: %v", files)
	}
	if f.called("ReloadMediaSource Playlist " + f.live) {
		t.Fatalf("replayed an earlier file: %v", f.surface.CallLog())
	}
	got, err := f.store.Items(f.ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].State != models.ItemConsumed {
		t.Fatalf("leftover a1 state = %s", got[0].State)
	}
}

func TestRecoverFreshDatabaseStartsSelecting(t *testing.T) {
	f := newFixture(t, "A")
	f.orch.Tick(f.ctx)
	if f.orch.state != StateSelecting {
		t.Fatalf("state = %s", f.orch.state)
	}
	if f.surface.SceneName() != "Transition" {
		t.Fatalf("scene = %q", f.surface.SceneName())
	}
}

func TestRecoverWaitsForControlSurface(t *testing.T) {
	f := newFixture(t, "A")
	f.surface.SetConnected(false)
	f.surface.ConnectErr = errors.New("refused")
	f.orch.Tick(f.ctx)
	if f.orch.state != StateRecovering {
		t.Fatalf("state = %s", f.orch.state)
	}
}

func TestReconcileCompletesInterruptedSwitch(t *testing.T) {
	f := newFixture(t, "A", "B")
	old, _ := f.seedSession(models.SessionActive, "A", "01_001_a1.mp4", "01_002_a2.mp4")

	in := models.RotationSession{Status: models.SessionPreparing, Groups: []string{"B"}}
	staged := filepath.Join(f.staging, "B", "002_b2.mp4")
	items := []models.ContentItem{
		{GroupName: "B", SourceKey: "b1", Ordering: 1, LiveName: "01_001_b1.mp4", State: models.ItemStaged},
		{GroupName: "B", SourceKey: "b2", Ordering: 2, StagedPath: staged, State: models.ItemStaged},
	}
	if err := f.store.CreateSession(f.ctx, &in, items); err != nil {
		t.Fatal(err)
	}
	// the crash hit after b1 moved in but before a2 was cleared and b2 moved
	f.touch(f.live, "01_001_b1.mp4", "01_002_a2.mp4")
	f.touch(filepath.Dir(staged), filepath.Base(staged))
	if err := writeJournal(f.journal, Journal{Outgoing: old.ID, Incoming: in.ID}); err != nil {
		t.Fatal(err)
	}

	f.orch.Tick(f.ctx)

	if f.orch.state != StatePlaying || f.orch.current.ID != in.ID {
		t.Fatalf("state = %s current = %v", f.orch.state, f.orch.current)
	}
	if diff := cmp.Diff([]string{"01_001_b1.mp4", "01_002_b2.mp4"}, f.liveFiles()); diff != "" {
		t.Fatalf("live directory mismatch (-want +got):\n%s", diff)
	}
	if st := f.sessionStatus(old.ID); st != models.SessionArchived {
		t.Fatalf("outgoing status = %s", st)
	}
	if st := f.sessionStatus(in.ID); st != models.SessionActive {
		t.Fatalf("incoming status = %s", st)
	}
	if _, err := os.Stat(f.journal); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("journal not removed: %v", err)
	}
}

func TestReconcileKeepsOutgoingWhenNothingMovedIn(t *testing.T) {
	f := newFixture(t, "A", "B")
	old, _ := f.seedSession(models.SessionActive, "A", "01_001_a1.mp4", "01_002_a2.mp4")
	in, _ := f.seedSession(models.SessionPreparing, "B", "01_001_b1.mp4")
	// the incoming file was never staged and never moved
	f.touch(f.live, "01_002_a2.mp4")
	if err := writeJournal(f.journal, Journal{Outgoing: old.ID, Incoming: in.ID}); err != nil {
		t.Fatal(err)
	}

	f.orch.Tick(f.ctx)

	if f.orch.state != StatePlaying || f.orch.current.ID != old.ID {
		t.Fatalf("state = %s current = %v", f.orch.state, f.orch.current)
	}
	if f.orch.next == nil || f.orch.next.ID != in.ID {
		t.Fatal("incoming session not prepared again")
	}
	if st := f.sessionStatus(in.ID); st != models.SessionPreparing {
		t.Fatalf("incoming status = %s", st)
	}
}

func TestReconcileDropsFilesOfOtherSessions(t *testing.T) {
	f := newFixture(t, "A", "B")
	rec, _ := f.seedSession(models.SessionActive, "A", "01_001_a1.mp4")
	f.touch(f.live, "01_001_a1.mp4", "01_009_stray.mp4")

	f.orch.Tick(f.ctx)

	if f.orch.state != StatePlaying || f.orch.current.ID != rec.ID {
		t.Fatalf("state = %s current = %v", f.orch.state, f.orch.current)
	}
	if diff := cmp.Diff([]string{"01_001_a1.mp4"}, f.liveFiles()); diff != "" {
		t.Fatalf("live directory mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcileEmptyDirectoryStartsOver(t *testing.T) {
	f := newFixture(t, "A", "B")
	rec, _ := f.seedSession(models.SessionActive, "A", "01_001_a1.mp4")
	if err := writeJournal(f.journal, Journal{Outgoing: rec.ID}); err != nil {
		t.Fatal(err)
	}

	f.orch.Tick(f.ctx)

	if f.orch.state != StateSelecting {
		t.Fatalf("state = %s", f.orch.state)
	}
	if st := f.sessionStatus(rec.ID); st != models.SessionArchived {
		t.Fatalf("session status = %s", st)
	}
}

func TestRecoverResumesTempPlayback(t *testing.T) {
	f := newFixture(t, "A", "B")
	rec := models.RotationSession{Status: models.SessionTempPlayback, Groups: []string{"B"}}
	b1 := filepath.Join(f.staging, "B", "001_b1.mp4")
	items := []models.ContentItem{
		{GroupName: "B", SourceKey: "b1", SourceURL: "item://b1", Ordering: 1, StagedPath: b1, State: models.ItemPlaying},
		{GroupName: "B", SourceKey: "b2", SourceURL: "item://b2", Ordering: 2, State: models.ItemPending},
	}
	if err := f.store.CreateSession(f.ctx, &rec, items); err != nil {
		t.Fatal(err)
	}
	f.touch(filepath.Dir(b1), filepath.Base(b1))
	f.tool.addGroup("B", "b1", "b2")
	f.tool.gate("b2")
	f.saveCursor(models.PlaybackCursor{SessionID: rec.ID, ItemID: items[0].ID, FileName: filepath.Join("B", "001_b1.mp4"), ElapsedSeconds: 12})

	f.orch.Tick(f.ctx)

	if f.orch.state != StateTempPlayback {
		t.Fatalf("state = %s", f.orch.state)
	}
	if !f.called("LoadMediaFiles Playlist 1") || !f.called("SeekMedia Playlist 12s") {
		t.Fatalf("temp playback not restored: %v", f.surface.CallLog())
	}
	if f.orch.next == nil || f.orch.next.ID != rec.ID {
		t.Fatal("temp session downloads not resumed")
	}
}
