/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIsMedia(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"01_a.mp4", true},
		{"clip.MKV", true},
		{"clip.webm", true},
		{"clip.mp4.part", false},
		{"clip.f137.mp4", false},
		{".hidden.mp4", false},
		{"archive.txt", false},
		{"cover.jpg", false},
	}
	for _, tt := range tests {
		if got := IsMedia(tt.name); got != tt.want {
			t.Errorf("IsMedia(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestLiveNameOrdersByGroupThenItem(t *testing.T) {
	names := []string{
		LiveName(1, "001_first of b [id1].mp4"),
		LiveName(0, "002_second of a [id2].mp4"),
		LiveName(0, "001_first of a [id3].mp4"),
	}
	if names[0] != "02_001_first of b [id1].mp4" {
		t.Fatalf("unexpected live name %q", names[0])
	}
	if !HasOrderPrefix(names[0]) || StripOrderPrefix(names[0]) != "001_first of b [id1].mp4" {
		t.Fatalf("prefix helpers disagree with LiveName: %q", names[0])
	}
	// re-prefixing an already live name must not stack prefixes
	if got := LiveName(2, names[0]); got != "03_001_first of b [id1].mp4" {
		t.Fatalf("re-prefix = %q", got)
	}
}

func TestListSortsAndFilters(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"02_b.mp4", "01_a.mkv", "notes.txt", "03_c.mp4.part"} {
		touch(t, filepath.Join(dir, n))
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.mp4"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if diff := cmp.Diff([]string{"01_a.mkv", "02_b.mp4"}, got); diff != "" {
		t.Fatalf("List mismatch (-want +got):\n%s", diff)
	}

	missing, err := List(filepath.Join(dir, "nope"))
	if err != nil || len(missing) != 0 {
		t.Fatalf("missing dir: got %v, %v", missing, err)
	}
}

func TestListTreeSkipsWorkDirs(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "g1", "001_x.mp4"))
	touch(t, filepath.Join(dir, "g2", "001_y.mp4"))
	touch(t, filepath.Join(dir, "temp", "001_z.mp4"))

	got, err := ListTree(dir, "temp")
	if err != nil {
		t.Fatalf("ListTree: %v", err)
	}
	want := []string{filepath.Join("g1", "001_x.mp4"), filepath.Join("g2", "001_y.mp4")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ListTree mismatch (-want +got):\n%s", diff)
	}
}

func TestDirMoveInAndClear(t *testing.T) {
	staging := t.TempDir()
	live := NewDir(filepath.Join(t.TempDir(), "live"), zerolog.Nop())
	src := filepath.Join(staging, "001_a.mp4")
	touch(t, src)

	if err := live.MoveIn(src, LiveName(0, "001_a.mp4")); err != nil {
		t.Fatalf("MoveIn: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatal("source still present after move")
	}
	files, _ := live.Files()
	if diff := cmp.Diff([]string{"01_001_a.mp4"}, files); diff != "" {
		t.Fatalf("live files (-want +got):\n%s", diff)
	}

	stuck, err := live.Clear()
	if err != nil || len(stuck) != 0 {
		t.Fatalf("Clear: stuck=%v err=%v", stuck, err)
	}
	if files, _ := live.Files(); len(files) != 0 {
		t.Fatalf("files left after clear: %v", files)
	}
	if err := live.Remove("already-gone.mp4"); err != nil {
		t.Fatalf("removing a missing file should succeed: %v", err)
	}
}

func TestStagingSweep(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "keep", "001_a.mp4"))
	touch(t, filepath.Join(root, "keep", "001_b.mp4.part"))
	touch(t, filepath.Join(root, "stale", "001_c.mp4"))

	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(filepath.Join(root, "keep", "001_b.mp4.part"), old, old); err != nil {
		t.Fatal(err)
	}

	sweeper := NewStagingSweeper(root, time.Hour, zerolog.Nop())
	res, err := sweeper.Sweep(context.Background(), map[string]bool{"keep": true})
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Removed != 2 {
		t.Fatalf("removed = %d, want 2", res.Removed)
	}
	if _, err := os.Stat(filepath.Join(root, "keep", "001_a.mp4")); err != nil {
		t.Fatal("complete file in kept group was removed")
	}
	if _, err := os.Stat(filepath.Join(root, "stale")); !os.IsNotExist(err) {
		t.Fatal("unreferenced group directory survived")
	}
}

func TestProbeFunc(t *testing.T) {
	var p ExclusiveAccessProbe = ProbeFunc(func(paths []string) (map[string]bool, error) {
		return map[string]bool{paths[0]: true}, nil
	})
	held, err := p.Held([]string{"a", "b"})
	if err != nil || !held["a"] || held["b"] {
		t.Fatalf("unexpected result %v %v", held, err)
	}
}
