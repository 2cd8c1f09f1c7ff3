/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/friendsincode/loopcast/internal/rotation"
)

// command wraps an orchestrator command as a handler. The rotation loop
// answers between ticks, so the wait is bounded.
func (a *API) command(fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), a.commandTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			a.writeCommandError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, a.rotation.Status())
	}
}

func (a *API) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Groups []string `json:"groups"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	groups := make([]string, 0, len(req.Groups))
	for _, g := range req.Groups {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	if len(groups) == 0 {
		writeError(w, http.StatusBadRequest, "groups_required")
		return
	}
	a.command(func(ctx context.Context) error {
		return a.rotation.Override(ctx, groups)
	})(w, r)
}

func (a *API) writeCommandError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rotation.ErrNotOnAir):
		writeError(w, http.StatusConflict, "not_on_air")
	case errors.Is(err, rotation.ErrNotReady):
		writeError(w, http.StatusConflict, "next_not_ready")
	case errors.Is(err, rotation.ErrUnknownGroup):
		writeError(w, http.StatusBadRequest, "unknown_group")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "rotation_busy")
	default:
		a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("command failed")
		writeError(w, http.StatusInternalServerError, "command_failed")
	}
}

// handleIncidentsClear clears blocking freeze incidents. With a watchdog
// running this is a manual reconnect, which re-arms automatic recovery.
func (a *API) handleIncidentsClear(w http.ResponseWriter, r *http.Request) {
	if a.recovery == nil {
		if err := a.history.ClearIncidents(r.Context()); err != nil {
			a.logger.Error().Err(err).Msg("clear incidents failed")
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
		return
	}
	if a.recovery.Recovering() {
		writeError(w, http.StatusConflict, "recovery_in_progress")
		return
	}
	if err := a.recovery.ManualReconnect(r.Context()); err != nil {
		a.logger.Warn().Err(err).Msg("manual reconnect failed")
		writeError(w, http.StatusBadGateway, "reconnect_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true, "blocked": a.recovery.Blocked()})
}
