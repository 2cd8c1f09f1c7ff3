/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"0.4.0", "0.4.0", 0},
		{"0.4.0", "0.5.0", -1},
		{"1.0.0", "0.9.9", 1},
		{"v1.2.3", "1.2.3", 0},
		{"1.2.3-rc1", "1.2.3", 0},
		{"1.2", "1.2.1", -1},
	}
	for _, tt := range tests {
		if got := compareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("compareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCheckFlagsCriticalRelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"v99.0.0","name":"99.0.0 [yt-dlp-update]","html_url":"https://example.invalid/r","body":"fix extractor\nmore"}`))
	}))
	defer srv.Close()

	var calls []UpdateInfo
	c := NewChecker(zerolog.Nop(), func(info UpdateInfo) { calls = append(calls, info) })
	c.releaseURL = srv.URL

	for i := 0; i < 2; i++ {
		if _, err := c.Check(context.Background()); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
	}

	info := c.Info()
	if !info.UpdateAvailable || !info.Critical || info.LatestVersion != "99.0.0" {
		t.Fatalf("info = %+v", info)
	}
	if info.ReleaseNotes != "fix extractor" {
		t.Fatalf("notes = %q", info.ReleaseNotes)
	}
	if len(calls) != 1 {
		t.Fatalf("onUpdate called %d times, want once per release", len(calls))
	}
}

func TestCheckReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewChecker(zerolog.Nop(), nil)
	c.releaseURL = srv.URL
	if _, err := c.Check(context.Background()); err == nil {
		t.Fatalf("expected error on 403")
	}
	if info := c.Info(); info.LatestVersion != "" || info.CurrentVersion != Version {
		t.Fatalf("failed check changed info: %+v", info)
	}
}
