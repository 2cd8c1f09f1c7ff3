/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strings"

	"github.com/friendsincode/loopcast/internal/logbuffer"
	"github.com/friendsincode/loopcast/internal/rotation"
)

// StatusResponse is the rotation snapshot plus watchdog state.
type StatusResponse struct {
	rotation.Status
	FreezeBlocked    bool `json:"freeze_blocked"`
	FreezeRecovering bool `json:"freeze_recovering"`
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Status: a.rotation.Status()}
	if a.recovery != nil {
		resp.FreezeBlocked = a.recovery.Blocked()
		resp.FreezeRecovering = a.recovery.Recovering()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := queryLimit(r, 50, 500)

	sessions, err := a.history.RecentSessions(ctx, limit)
	if err != nil {
		a.logger.Error().Err(err).Msg("list sessions failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	plays, err := a.history.RecentPlays(ctx, limit)
	if err != nil {
		a.logger.Error().Err(err).Msg("list plays failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"plays":    plays,
	})
}

func (a *API) handleIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := a.history.Incidents(r.Context(), queryLimit(r, 20, 200))
	if err != nil {
		a.logger.Error().Err(err).Msg("list incidents failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusServiceUnavailable, "log_buffer_unavailable")
		return
	}
	q := r.URL.Query()
	entries := a.logBuffer.Find(logbuffer.Query{
		Level:     strings.ToLower(q.Get("level")),
		Component: q.Get("component"),
		SessionID: q.Get("session_id"),
		Search:    q.Get("search"),
		Limit:     queryLimit(r, 500, 5000),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
