/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logbuffer

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestBufferEvictsOldest(t *testing.T) {
	b := New(2)
	b.Add(Entry{Message: "one"})
	b.Add(Entry{Message: "two"})
	b.Add(Entry{Message: "three"})

	all := b.All()
	if len(all) != 2 || all[0].Message != "two" || all[1].Message != "three" {
		t.Fatalf("unexpected entries: %+v", all)
	}
}

func TestWriterCapturesZerologFields(t *testing.T) {
	b := New(10)
	logger := zerolog.New(NewWriter(b, nil))

	logger.Info().Str("component", "rotation").Str("session_id", "s1").Msg("switch complete")
	logger.Warn().Str("component", "watchdog").Msg("heartbeat stalled")

	got := b.Find(Query{Component: "rotation"})
	if len(got) != 1 {
		t.Fatalf("expected 1 rotation entry, got %d", len(got))
	}
	if got[0].SessionID != "s1" || got[0].Level != "info" {
		t.Fatalf("unexpected entry: %+v", got[0])
	}

	newest := b.Find(Query{Limit: 1})
	if len(newest) != 1 || newest[0].Message != "heartbeat stalled" {
		t.Fatalf("expected newest first, got %+v", newest)
	}

	if res := b.Find(Query{Search: "STALLED"}); len(res) != 1 {
		t.Fatalf("case-insensitive search failed: %+v", res)
	}
}
