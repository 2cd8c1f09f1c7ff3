/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the admin endpoints used to watch and steer the
// rotation: status, history, logs, incidents and manual commands.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/loopcast/internal/config"
	"github.com/friendsincode/loopcast/internal/logbuffer"
	"github.com/friendsincode/loopcast/internal/models"
	"github.com/friendsincode/loopcast/internal/rotation"
)

// Rotation is the orchestrator as seen by the admin surface.
type Rotation interface {
	Status() rotation.Status
	Trigger(ctx context.Context) error
	Skip(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Override(ctx context.Context, groups []string) error
}

// Recovery is the freeze watchdog.
type Recovery interface {
	Blocked() bool
	Recovering() bool
	ManualReconnect(ctx context.Context) error
}

// History reads what the store recorded.
type History interface {
	RecentSessions(ctx context.Context, limit int) ([]models.RotationSession, error)
	RecentPlays(ctx context.Context, limit int) ([]models.PlayHistory, error)
	Incidents(ctx context.Context, limit int) ([]models.FreezeIncident, error)
	ClearIncidents(ctx context.Context) error
}

// Settings edits the hot-swappable settings.
type Settings interface {
	Current() *config.Settings
	Update(fn func(*config.Settings)) error
	Reload(ctx context.Context) error
}

// Deps are the collaborators behind the endpoints. Recovery and LogBuffer may
// be nil.
type Deps struct {
	Rotation  Rotation
	Recovery  Recovery
	History   History
	Settings  Settings
	LogBuffer *logbuffer.Buffer
}

// API exposes HTTP handlers.
type API struct {
	rotation  Rotation
	recovery  Recovery
	history   History
	settings  Settings
	logBuffer *logbuffer.Buffer
	// commandTimeout bounds how long a request waits for the rotation loop.
	commandTimeout time.Duration
	logger         zerolog.Logger
}

// New creates the API router wrapper.
func New(deps Deps, logger zerolog.Logger) *API {
	return &API{
		rotation:       deps.Rotation,
		recovery:       deps.Recovery,
		history:        deps.History,
		settings:       deps.Settings,
		logBuffer:      deps.LogBuffer,
		commandTimeout: 15 * time.Second,
		logger:         logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers the admin endpoints under /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Get("/status", a.handleStatus)
		r.Get("/history", a.handleHistory)
		r.Get("/logs", a.handleLogs)

		r.Route("/incidents", func(r chi.Router) {
			r.Get("/", a.handleIncidents)
			r.Post("/clear", a.handleIncidentsClear)
		})

		r.Route("/control", func(r chi.Router) {
			r.Post("/trigger", a.command(a.rotation.Trigger))
			r.Post("/skip", a.command(a.rotation.Skip))
			r.Post("/pause", a.command(a.rotation.Pause))
			r.Post("/resume", a.command(a.rotation.Resume))
			r.Post("/override", a.handleOverride)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", a.handleSettingsGet)
			r.Post("/reload", a.handleSettingsReload)
			r.Put("/groups/{name}/enabled", a.handleGroupEnabled)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryLimit(r *http.Request, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
