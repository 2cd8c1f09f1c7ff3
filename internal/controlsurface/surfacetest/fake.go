/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package surfacetest provides an in-memory control surface for tests.
package surfacetest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/friendsincode/loopcast/internal/controlsurface"
	"github.com/friendsincode/loopcast/internal/media"
)

// Fake records calls and serves scripted values.
type Fake struct {
	mu sync.Mutex

	Connected  bool
	Scene      string
	Streaming  bool
	Frames     uint64
	Playlist   []string
	Media      controlsurface.MediaStatus
	Calls      []string
	ConnectErr error
	// FramesStep is added to Frames on every heartbeat read.
	FramesStep uint64
}

// New returns a connected fake that renders frames.
func New() *Fake {
	return &Fake{Connected: true, FramesStep: 30}
}

var _ controlsurface.Surface = (*Fake)(nil)

func (f *Fake) record(format string, args ...any) {
	f.Calls = append(f.Calls, fmt.Sprintf(format, args...))
}

func (f *Fake) unavailable(op string) error {
	return fmt.Errorf("%w: %s", controlsurface.ErrUnavailable, op)
}

// CallLog returns a copy of the recorded calls.
func (f *Fake) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Calls...)
}

// ResetCalls clears the call log.
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	f.Calls = nil
	f.mu.Unlock()
}

// SetConnected flips connectivity.
func (f *Fake) SetConnected(v bool) {
	f.mu.Lock()
	f.Connected = v
	f.mu.Unlock()
}

// SetFrozen stops or restarts the frame counter.
func (f *Fake) SetFrozen(frozen bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if frozen {
		f.FramesStep = 0
	} else {
		f.FramesStep = 30
	}
}

// SetFrames sets the frame counter, as a relaunched surface would.
func (f *Fake) SetFrames(n uint64) {
	f.mu.Lock()
	f.Frames = n
	f.mu.Unlock()
}

// SetStreaming sets the stream output state.
func (f *Fake) SetStreaming(v bool) {
	f.mu.Lock()
	f.Streaming = v
	f.mu.Unlock()
}

// SetMedia sets the reported media status.
func (f *Fake) SetMedia(st controlsurface.MediaStatus) {
	f.mu.Lock()
	f.Media = st
	f.mu.Unlock()
}

// CurrentPlaylist returns the loaded playlist.
func (f *Fake) CurrentPlaylist() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Playlist...)
}

// SceneName returns the program scene.
func (f *Fake) SceneName() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Scene
}

// IsStreaming reports the stream output state.
func (f *Fake) IsStreaming() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Streaming
}

func (f *Fake) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Connect")
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.Connected = true
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Close")
	f.Connected = false
	return nil
}

func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

func (f *Fake) SwitchTo(_ context.Context, scene string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Connected {
		return f.unavailable("SwitchTo")
	}
	f.record("SwitchTo %s", scene)
	f.Scene = scene
	return nil
}

func (f *Fake) CurrentScene(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Connected {
		return "", f.unavailable("CurrentScene")
	}
	return f.Scene, nil
}

func (f *Fake) EnsureSource(_ context.Context, scene, kind, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Connected {
		return f.unavailable("EnsureSource")
	}
	f.record("EnsureSource %s %s %s", scene, kind, source)
	return nil
}

func (f *Fake) ReloadMediaSource(ctx context.Context, source, dir string) error {
	names, err := media.List(dir)
	if err != nil {
		return err
	}
	files := make([]string, len(names))
	for i, n := range names {
		files[i] = filepath.Join(dir, n)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Connected {
		return f.unavailable("ReloadMediaSource")
	}
	f.record("ReloadMediaSource %s %s", source, dir)
	f.Playlist = files
	return nil
}

func (f *Fake) LoadMediaFiles(_ context.Context, source string, files []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Connected {
		return f.unavailable("LoadMediaFiles")
	}
	f.record("LoadMediaFiles %s %d", source, len(files))
	f.Playlist = append([]string(nil), files...)
	return nil
}

func (f *Fake) RenderHeartbeat(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Connected {
		return 0, f.unavailable("RenderHeartbeat")
	}
	f.Frames += f.FramesStep
	return f.Frames, nil
}

func (f *Fake) StreamActive(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Connected {
		return false, f.unavailable("StreamActive")
	}
	return f.Streaming, nil
}

func (f *Fake) StartStream(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Connected {
		return f.unavailable("StartStream")
	}
	f.record("StartStream")
	f.Streaming = true
	return nil
}

func (f *Fake) MediaStatus(context.Context, string) (controlsurface.MediaStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Connected {
		return controlsurface.MediaStatus{}, f.unavailable("MediaStatus")
	}
	return f.Media, nil
}

func (f *Fake) SeekMedia(_ context.Context, source string, pos time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Connected {
		return f.unavailable("SeekMedia")
	}
	f.record("SeekMedia %s %s", source, pos)
	f.Media.Cursor = pos
	return nil
}

func (f *Fake) NextMedia(_ context.Context, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Connected {
		return f.unavailable("NextMedia")
	}
	f.record("NextMedia %s", source)
	return nil
}
