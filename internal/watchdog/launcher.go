/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package watchdog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// LaunchArgs keep a relaunched surface out of the way and skip the
// missing-files prompt.
var LaunchArgs = []string{"--minimize-to-tray", "--disable-missing-files-check"}

// Launcher starts and kills the control surface application.
type Launcher struct {
	executable string
	workDir    string
	args       []string
	logger     zerolog.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewLauncher creates a launcher for executable. An empty workDir runs it from
// the executable's directory.
func NewLauncher(executable, workDir string, logger zerolog.Logger) *Launcher {
	if workDir == "" && filepath.IsAbs(executable) {
		workDir = filepath.Dir(executable)
	}
	return &Launcher{
		executable: executable,
		workDir:    workDir,
		args:       LaunchArgs,
		logger:     logger.With().Str("component", "launcher").Logger(),
	}
}

// Launch starts the application detached from this process. It does not wait
// for it to become ready.
func (l *Launcher) Launch(ctx context.Context) error {
	if l.executable == "" {
		return errors.New("control surface executable not configured")
	}
	if filepath.IsAbs(l.executable) {
		if _, err := os.Stat(l.executable); err != nil {
			return fmt.Errorf("control surface executable: %w", err)
		}
	}

	// not bound to ctx: the application must outlive the request that started it
	cmd := exec.Command(l.executable, l.args...)
	cmd.Dir = l.workDir
	cmd.SysProcAttr = detachedAttr()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", l.executable, err)
	}

	l.mu.Lock()
	l.cmd = cmd
	l.mu.Unlock()
	l.logger.Info().Str("executable", l.executable).Int("pid", cmd.Process.Pid).Msg("control surface launched")

	go func() {
		err := cmd.Wait()
		l.logger.Info().Err(err).Int("pid", cmd.Process.Pid).Msg("control surface exited")
		l.mu.Lock()
		if l.cmd == cmd {
			l.cmd = nil
		}
		l.mu.Unlock()
	}()
	return nil
}

// Kill terminates the application, whether or not this launcher started it.
func (l *Launcher) Kill(ctx context.Context) error {
	l.mu.Lock()
	cmd := l.cmd
	l.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		if err := killTree(cmd.Process.Pid); err != nil {
			l.logger.Warn().Err(err).Int("pid", cmd.Process.Pid).Msg("kill launched process")
		}
	}
	return killByName(ctx, filepath.Base(l.executable))
}
