/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/loopcast/internal/api"
	"github.com/friendsincode/loopcast/internal/config"
	"github.com/friendsincode/loopcast/internal/controlsurface/surfacetest"
	"github.com/friendsincode/loopcast/internal/rotation"
)

type idleRotation struct{}

func (idleRotation) Status() rotation.Status {
	return rotation.Status{State: rotation.StateSelecting}
}
func (idleRotation) Trigger(context.Context) error            { return rotation.ErrNotReady }
func (idleRotation) Skip(context.Context) error               { return nil }
func (idleRotation) Pause(context.Context) error              { return nil }
func (idleRotation) Resume(context.Context) error             { return nil }
func (idleRotation) Override(context.Context, []string) error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	settings := config.DefaultSettings()
	surface := surfacetest.New()
	surface.SetConnected(false)
	s := &Server{
		logger:  zerolog.Nop(),
		router:  newRouter(),
		surface: surface,
		api: api.New(api.Deps{
			Rotation: idleRotation{},
			Settings: config.NewHolderWith(&settings, "", zerolog.Nop()),
		}, zerolog.Nop()),
	}
	s.configureRoutes()
	return s
}

func TestHealthzReportsControlSurface(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d", rr.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("healthz body %q: %v", rr.Body.String(), err)
	}
	if got["status"] != "ok" || got["control_surface"] != false {
		t.Fatalf("healthz = %v", got)
	}
	if rr.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("security headers missing on router")
	}
}

func TestRoutesMountAPIAndMetrics(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/metrics", "/api/v1/health", "/api/v1/settings/"} {
		rr := httptest.NewRecorder()
		s.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s code = %d", path, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/control/trigger", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("trigger code = %d", rr.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	h := rateLimitMiddleware(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 2; i++ {
		if rr := send("192.0.2.1:1234"); rr.Code != http.StatusNoContent {
			t.Fatalf("request %d code = %d", i, rr.Code)
		}
	}
	rr := send("192.0.2.1:1234")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("third request code = %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("Retry-After = %q", rr.Header().Get("Retry-After"))
	}
	if rr := send("192.0.2.2:1234"); rr.Code != http.StatusNoContent {
		t.Fatalf("other client limited: %d", rr.Code)
	}
}

func TestCloseWithoutWorkers(t *testing.T) {
	s := &Server{logger: zerolog.Nop()}
	closed := 0
	s.DeferClose(func() error { closed++; return nil })
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil || closed != 1 {
		t.Fatalf("second close ran hooks again: closed=%d err=%v", closed, err)
	}
}
