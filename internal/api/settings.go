/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/loopcast/internal/config"
)

func (a *API) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.settings.Current())
}

func (a *API) handleSettingsReload(w http.ResponseWriter, r *http.Request) {
	if err := a.settings.Reload(r.Context()); err != nil {
		if errors.Is(err, config.ErrInvalid) {
			writeError(w, http.StatusUnprocessableEntity, "settings_invalid")
			return
		}
		a.logger.Error().Err(err).Msg("settings reload failed")
		writeError(w, http.StatusInternalServerError, "reload_failed")
		return
	}
	writeJSON(w, http.StatusOK, a.settings.Current())
}

// handleGroupEnabled toggles a group. The change is written back to the
// settings file and takes effect at the next selection.
func (a *API) handleGroupEnabled(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decode(w, r, &req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled_required")
		return
	}
	if _, ok := a.settings.Current().Group(name); !ok {
		writeError(w, http.StatusNotFound, "unknown_group")
		return
	}

	err := a.settings.Update(func(s *config.Settings) {
		for i := range s.Groups {
			if strings.EqualFold(s.Groups[i].Name, name) {
				s.Groups[i].Enabled = *req.Enabled
			}
		}
	})
	if err != nil {
		if errors.Is(err, config.ErrInvalid) {
			writeError(w, http.StatusUnprocessableEntity, "settings_invalid")
			return
		}
		a.logger.Error().Err(err).Str("group", name).Msg("update group failed")
		writeError(w, http.StatusInternalServerError, "update_failed")
		return
	}
	a.logger.Info().Str("group", name).Bool("enabled", *req.Enabled).Msg("group toggled")
	g, _ := a.settings.Current().Group(name)
	writeJSON(w, http.StatusOK, g)
}
