/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package controlsurface is the boundary to the program that renders the
// stream (scenes, the media source, streaming output).
package controlsurface

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned by every call when the surface is disconnected
// or did not answer in time. Callers pause adapter work; they never block.
var ErrUnavailable = errors.New("control surface unavailable")

// Media input states as reported by the surface.
const (
	MediaPlaying = "OBS_MEDIA_STATE_PLAYING"
	MediaPaused  = "OBS_MEDIA_STATE_PAUSED"
	MediaEnded   = "OBS_MEDIA_STATE_ENDED"
	MediaStopped = "OBS_MEDIA_STATE_STOPPED"
)

// PlaylistSourceKind is the input kind created for the rotation playlist.
const PlaylistSourceKind = "vlc_source"

// MediaStatus is the state of a media source.
type MediaStatus struct {
	State    string
	Cursor   time.Duration
	Duration time.Duration
}

// Surface is implemented by the OBS client and by test fakes.
type Surface interface {
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool

	SwitchTo(ctx context.Context, scene string) error
	CurrentScene(ctx context.Context) (string, error)
	// EnsureSource creates scene and a source of kind inside it when missing.
	EnsureSource(ctx context.Context, scene, kind, source string) error
	// ReloadMediaSource points source at every playable file in dir.
	ReloadMediaSource(ctx context.Context, source, dir string) error
	// LoadMediaFiles points source at an explicit playlist of absolute paths.
	LoadMediaFiles(ctx context.Context, source string, files []string) error

	// RenderHeartbeat returns a counter that advances while frames render.
	RenderHeartbeat(ctx context.Context) (uint64, error)
	StreamActive(ctx context.Context) (bool, error)
	StartStream(ctx context.Context) error

	MediaStatus(ctx context.Context, source string) (MediaStatus, error)
	SeekMedia(ctx context.Context, source string, position time.Duration) error
	NextMedia(ctx context.Context, source string) error
}

// SourcePosition reports a media source's position; it satisfies the
// detector's position source.
type SourcePosition struct {
	Surface Surface
	Source  string
}

// MediaPosition returns elapsed and total duration of the current file.
func (p SourcePosition) MediaPosition(ctx context.Context) (time.Duration, time.Duration, error) {
	st, err := p.Surface.MediaStatus(ctx, p.Source)
	if err != nil {
		return 0, 0, err
	}
	return st.Cursor, st.Duration, nil
}
