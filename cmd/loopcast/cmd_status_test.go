/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/friendsincode/loopcast/internal/api"
	"github.com/friendsincode/loopcast/internal/config"
	"github.com/friendsincode/loopcast/internal/models"
	"github.com/friendsincode/loopcast/internal/rotation"
)

func TestAdminBaseURL(t *testing.T) {
	defer func() { adminAddr, cfg = "", nil }()

	tests := []struct {
		addr string
		bind string
		want string
	}{
		{bind: "0.0.0.0", want: "http://127.0.0.1:8090"},
		{bind: "10.0.0.5", want: "http://10.0.0.5:8090"},
		{bind: "::", want: "http://127.0.0.1:8090"},
		{addr: "host:9000", want: "http://host:9000"},
		{addr: "https://admin.example/", want: "https://admin.example"},
	}
	for _, tt := range tests {
		adminAddr = tt.addr
		cfg = &config.Config{HTTPBind: tt.bind, HTTPPort: 8090}
		if got := adminBaseURL(); got != tt.want {
			t.Fatalf("addr=%q bind=%q: got %q, want %q", tt.addr, tt.bind, got, tt.want)
		}
	}
}

func TestAdminRequestReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"next_not_ready"}`))
	}))
	defer srv.Close()
	adminAddr = srv.URL
	defer func() { adminAddr = "" }()

	err := adminRequest(context.Background(), http.MethodPost, "/api/v1/control/trigger", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "next_not_ready") {
		t.Fatalf("err = %v", err)
	}
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, api.StatusResponse{
		Status: rotation.Status{
			State:        rotation.StatePlaying,
			Paused:       true,
			StreamerLive: true,
			Current:      &models.RotationSession{ID: "s1", Groups: []string{"Alpha", "Beta"}},
			PlayingFile:  "01_001_a.mp4",
			Next:         &rotation.NextStatus{Groups: []string{"Gamma"}, Phase: "downloading"},
		},
		FreezeBlocked: true,
	})
	out := buf.String()
	for _, want := range []string{"PLAYING", "streamer live", "Alpha, Beta (s1)", "01_001_a.mp4", "Gamma [downloading]", "BLOCKED"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}
