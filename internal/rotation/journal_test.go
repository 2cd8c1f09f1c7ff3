/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rotation

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJournalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "switch.json")

	j, err := readJournal(path)
	if err != nil || j != nil {
		t.Fatalf("missing journal = %v, %v", j, err)
	}

	want := Journal{Outgoing: "old", Incoming: "new", StartedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	if err := writeJournal(path, want); err != nil {
		t.Fatalf("writeJournal: %v", err)
	}
	got, err := readJournal(path)
	if err != nil {
		t.Fatalf("readJournal: %v", err)
	}
	if got.Outgoing != want.Outgoing || got.Incoming != want.Incoming || !got.StartedAt.Equal(want.StartedAt) {
		t.Fatalf("journal = %+v, want %+v", got, want)
	}

	if err := removeJournal(path); err != nil {
		t.Fatalf("removeJournal: %v", err)
	}
	if err := removeJournal(path); err != nil {
		t.Fatalf("second removeJournal: %v", err)
	}
}

func TestReadJournalGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "switch.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := readJournal(path); err == nil {
		t.Fatal("expected decode error")
	}
}
