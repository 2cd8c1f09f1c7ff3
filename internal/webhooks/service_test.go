/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/friendsincode/loopcast/internal/events"
	"github.com/friendsincode/loopcast/internal/notifications"
)

func TestSendSignsBody(t *testing.T) {
	var gotSig, gotEvent string
	var payload Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Loopcast-Signature")
		gotEvent = r.Header.Get("X-Loopcast-Event")
		if gotSig != Sign(body, "s3cret") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.Unmarshal(body, &payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSink(srv.URL, "s3cret", srv.Client())
	n := notifications.Notification{
		Event: events.EventFreezeDetected,
		Title: "Render Freeze Detected",
		Level: notifications.LevelWarning,
		At:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := s.Send(context.Background(), n); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotEvent != string(events.EventFreezeDetected) {
		t.Fatalf("event header = %q", gotEvent)
	}
	if payload.Title != n.Title || payload.Timestamp != "2026-03-01T12:00:00Z" || payload.ID == "" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestSendReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewSink(srv.URL, "", srv.Client()).Send(context.Background(), notifications.Notification{At: time.Now()}); err == nil {
		t.Fatalf("expected error on 502")
	}
}
