/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package detector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeProbe reports whichever base names the test marks as held.
type fakeProbe struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func (p *fakeProbe) hold(names ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held = make(map[string]bool)
	for _, n := range names {
		p.held[n] = true
	}
}

func (p *fakeProbe) Held(paths []string) (map[string]bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	out := make(map[string]bool)
	for _, path := range paths {
		if p.held[filepath.Base(path)] {
			out[path] = true
		}
	}
	return out, nil
}

type fakePosition struct {
	elapsed, duration time.Duration
}

func (f *fakePosition) MediaPosition(context.Context) (time.Duration, time.Duration, error) {
	return f.elapsed, f.duration, nil
}

func setup(t *testing.T, files ...string) (string, *fakeProbe, *Detector) {
	t.Helper()
	dir := t.TempDir()
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	probe := &fakeProbe{}
	cfg := DefaultConfig()
	cfg.Grace = 0
	d := New(probe, cfg, zerolog.Nop())
	d.Reset(dir)
	return dir, probe, d
}

func poll(t *testing.T, d *Detector) (Event, bool) {
	t.Helper()
	return d.Poll(context.Background())
}

func exists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

func TestAdvancedDeletesReleasedFile(t *testing.T) {
	dir, probe, d := setup(t, "01_a.mp4", "02_b.mp4")

	probe.hold("01_a.mp4")
	if _, ok := poll(t, d); ok {
		t.Fatal("initial acquisition must not emit")
	}
	if d.Current() != "01_a.mp4" {
		t.Fatalf("current = %q", d.Current())
	}

	probe.hold("02_b.mp4")
	ev, ok := poll(t, d)
	if !ok || ev.Kind != Advanced || ev.Old != "01_a.mp4" || ev.New != "02_b.mp4" {
		t.Fatalf("expected Advanced(a, b), got %+v ok=%v", ev, ok)
	}
	if exists(dir, "01_a.mp4") {
		t.Fatal("released file was not deleted")
	}
	if !exists(dir, "02_b.mp4") {
		t.Fatal("held file was deleted")
	}
}

func TestExhaustionNeedsConfirmation(t *testing.T) {
	dir, probe, d := setup(t, "01_a.mp4")

	probe.hold("01_a.mp4")
	poll(t, d)

	probe.hold()
	if _, ok := poll(t, d); ok {
		t.Fatal("exhaustion declared on the first empty observation")
	}
	ev, ok := poll(t, d)
	if !ok || ev.Kind != DirectoryExhausted || ev.Old != "01_a.mp4" {
		t.Fatalf("expected DirectoryExhausted, got %+v ok=%v", ev, ok)
	}
	if exists(dir, "01_a.mp4") {
		t.Fatal("last file not deleted on exhaustion")
	}
	// exhaustion is reported once
	if _, ok := poll(t, d); ok {
		t.Fatal("exhaustion emitted twice")
	}
	if !d.Exhausted() {
		t.Fatal("Exhausted() = false")
	}
}

func TestHandOffDuringConfirmationIsAdvance(t *testing.T) {
	_, probe, d := setup(t, "01_a.mp4", "02_b.mp4")
	probe.hold("01_a.mp4")
	poll(t, d)

	probe.hold()
	poll(t, d)
	probe.hold("02_b.mp4")
	ev, ok := poll(t, d)
	if !ok || ev.Kind != Advanced {
		t.Fatalf("expected Advanced after brief gap, got %+v ok=%v", ev, ok)
	}
}

func TestSkipToEndLoopIsNotATransition(t *testing.T) {
	dir, probe, d := setup(t, "01_a.mp4", "02_b.mp4")
	probe.hold("01_a.mp4")
	poll(t, d)

	// released for one poll then re-held: the player looped the same file
	probe.hold()
	poll(t, d)
	probe.hold("01_a.mp4")
	if ev, ok := poll(t, d); ok {
		t.Fatalf("unexpected event %+v", ev)
	}
	probe.hold()
	if ev, ok := poll(t, d); ok {
		t.Fatalf("pending release was not cleared: %+v", ev)
	}
	if !exists(dir, "01_a.mp4") {
		t.Fatal("looping file deleted")
	}
}

func TestNothingToPlayOnce(t *testing.T) {
	_, _, d := setup(t)
	ev, ok := poll(t, d)
	if !ok || ev.Kind != NothingToPlay {
		t.Fatalf("expected NothingToPlay, got %+v ok=%v", ev, ok)
	}
	if _, ok := poll(t, d); ok {
		t.Fatal("NothingToPlay emitted twice")
	}
}

func TestSuspendedPollIsNoop(t *testing.T) {
	dir, probe, d := setup(t, "01_a.mp4", "02_b.mp4")
	probe.hold("01_a.mp4")
	poll(t, d)

	d.Suspend()
	probe.hold()
	for i := 0; i < 5; i++ {
		if _, ok := poll(t, d); ok {
			t.Fatal("suspended detector emitted")
		}
	}
	d.Resume()
	probe.hold("01_a.mp4")
	if _, ok := poll(t, d); ok {
		t.Fatal("resume with same file held emitted")
	}
	if !exists(dir, "01_a.mp4") {
		t.Fatal("file deleted while suspended")
	}
}

func newGraceDetector(t *testing.T, now *time.Time) (string, *fakeProbe, *Detector) {
	t.Helper()
	dir := t.TempDir()
	for _, f := range []string{"01_a.mp4", "02_b.mp4"} {
		if err := os.WriteFile(filepath.Join(dir, f), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	probe := &fakeProbe{}
	d := New(probe, Config{ExhaustConfirmPolls: 1, Grace: 10 * time.Second}, zerolog.Nop())
	d.now = func() time.Time { return *now }
	d.Reset(dir)
	d.Resync("01_a.mp4")
	return dir, probe, d
}

func TestGraceSuppressesReleaseAfterSeek(t *testing.T) {
	now := time.Unix(1000, 0)
	_, probe, d := newGraceDetector(t, &now)

	probe.hold()
	if ev, ok := poll(t, d); ok {
		t.Fatalf("event inside grace period: %+v", ev)
	}
	probe.hold("01_a.mp4")
	if ev, ok := poll(t, d); ok {
		t.Fatalf("event for the resynced file: %+v", ev)
	}
	if d.Current() != "01_a.mp4" {
		t.Fatalf("current = %q", d.Current())
	}

	now = now.Add(11 * time.Second)
	probe.hold()
	ev, ok := poll(t, d)
	if !ok || ev.Kind != DirectoryExhausted {
		t.Fatalf("expected exhaustion after grace, got %+v ok=%v", ev, ok)
	}
}

func TestHandOffInsideGraceIsAdvance(t *testing.T) {
	now := time.Unix(1000, 0)
	dir, probe, d := newGraceDetector(t, &now)

	probe.hold("02_b.mp4")
	ev, ok := poll(t, d)
	if !ok || ev.Kind != Advanced || ev.Old != "01_a.mp4" || ev.New != "02_b.mp4" {
		t.Fatalf("expected advance a -> b inside grace, got %+v ok=%v", ev, ok)
	}
	if exists(dir, "01_a.mp4") {
		t.Fatal("finished file not deleted")
	}
	if d.Current() != "02_b.mp4" {
		t.Fatalf("current = %q", d.Current())
	}
}

func TestNoDeleteMode(t *testing.T) {
	dir, probe, d := setup(t, "01_a.mp4", "02_b.mp4")
	d.SetDeleteOnAdvance(false)
	probe.hold("01_a.mp4")
	poll(t, d)
	probe.hold("02_b.mp4")
	if ev, ok := poll(t, d); !ok || ev.Kind != Advanced {
		t.Fatalf("expected Advanced, got %+v", ev)
	}
	if !exists(dir, "01_a.mp4") {
		t.Fatal("file deleted in no-delete mode")
	}
}

func TestLoopingLastFileNearEnd(t *testing.T) {
	dir, probe, d := setup(t, "01_a.mp4")
	pos := &fakePosition{elapsed: 10 * time.Second, duration: 60 * time.Second}
	d.SetPositionSource(pos)

	probe.hold("01_a.mp4")
	poll(t, d)
	if _, ok := poll(t, d); ok {
		t.Fatal("exhausted mid-file")
	}
	pos.elapsed = 59 * time.Second
	ev, ok := poll(t, d)
	if !ok || ev.Kind != DirectoryExhausted || !ev.StillHeld {
		t.Fatalf("expected held exhaustion, got %+v ok=%v", ev, ok)
	}
	if !exists(dir, "01_a.mp4") {
		t.Fatal("held file must not be deleted")
	}
}

func TestExplicitPlaylistIgnoresOtherFiles(t *testing.T) {
	dir, probe, d := setup(t, "001_a.mp4", "002_b.mp4", "003_c.mp4")
	d.Retarget(dir, []string{"001_a.mp4", "002_b.mp4"})

	probe.hold("001_a.mp4")
	poll(t, d)
	probe.hold("003_c.mp4")
	poll(t, d)
	ev, ok := poll(t, d)
	if !ok || ev.Kind != DirectoryExhausted {
		t.Fatalf("file outside the playlist counted as held: %+v ok=%v", ev, ok)
	}
}

func TestProbeErrorIsNotARelease(t *testing.T) {
	dir, probe, d := setup(t, "01_a.mp4", "02_b.mp4")
	probe.hold("01_a.mp4")
	poll(t, d)

	probe.err = errors.New("proc unreadable")
	for i := 0; i < 3; i++ {
		if _, ok := poll(t, d); ok {
			t.Fatal("probe error produced an event")
		}
	}
	if !exists(dir, "01_a.mp4") {
		t.Fatal("file deleted on probe error")
	}
}
