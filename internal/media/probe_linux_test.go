/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

//go:build linux

package media

import (
	"os"
	"path/filepath"
	"testing"
)

func TestProcProbeMatchesPlayerDescriptors(t *testing.T) {
	media := t.TempDir()
	held := filepath.Join(media, "01_a.mp4")
	free := filepath.Join(media, "02_b.mp4")
	touch(t, held)
	touch(t, free)
	resolved, err := filepath.EvalSymlinks(held)
	if err != nil {
		t.Fatal(err)
	}

	proc := t.TempDir()
	// pid 4242 is the player holding 01_a.mp4; pid 5151 is another process holding 02_b.mp4
	if err := os.MkdirAll(filepath.Join(proc, "4242", "fd"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(proc, "4242", "comm"), []byte("obs\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(resolved, filepath.Join(proc, "4242", "fd", "17")); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(proc, "5151", "fd"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(proc, "5151", "comm"), []byte("rsync\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	freeResolved, _ := filepath.EvalSymlinks(free)
	if err := os.Symlink(freeResolved, filepath.Join(proc, "5151", "fd", "3")); err != nil {
		t.Fatal(err)
	}

	p := &ProcProbe{process: "obs", procRoot: proc}
	got, err := p.Held([]string{held, free})
	if err != nil {
		t.Fatalf("Held: %v", err)
	}
	if !got[held] {
		t.Fatal("player descriptor not detected")
	}
	if got[free] {
		t.Fatal("descriptor of an unrelated process counted as held")
	}
}
