/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
)

// Dir is a directory of playable files (the live directory or a staging
// subdirectory).
type Dir struct {
	root   string
	logger zerolog.Logger
}

// NewDir wraps root.
func NewDir(root string, logger zerolog.Logger) *Dir {
	return &Dir{
		root:   root,
		logger: logger,
	}
}

// Root returns the directory path.
func (d *Dir) Root() string {
	return d.root
}

// Path joins name onto the root.
func (d *Dir) Path(name string) string {
	return filepath.Join(d.root, name)
}

// Files lists playable files in play order.
func (d *Dir) Files() ([]string, error) {
	return List(d.root)
}

// Remove deletes one file. A file that is already gone is not an error.
func (d *Dir) Remove(name string) error {
	fullPath := d.Path(name)
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	d.logger.Debug().Str("path", fullPath).Msg("media file removed")
	return nil
}

// Clear removes every playable file and returns the names it could not remove
// (typically still held by the player on platforms with mandatory locking).
func (d *Dir) Clear() ([]string, error) {
	names, err := d.Files()
	if err != nil {
		return nil, err
	}
	var stuck []string
	for _, name := range names {
		if err := d.Remove(name); err != nil {
			d.logger.Warn().Err(err).Str("file", name).Msg("could not clear file")
			stuck = append(stuck, name)
		}
	}
	return stuck, nil
}

// MoveIn moves src into the directory as name, copying when src lives on a
// different filesystem.
func (d *Dir) MoveIn(src, name string) error {
	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	dst := d.Path(name)
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("move %s: %w", filepath.Base(src), err)
	}
	if err := copyFile(src, dst); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	return os.Remove(src)
}

// CheckAccess verifies the directory exists (creating it if needed) and is a directory.
func (d *Dir) CheckAccess() error {
	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", d.root, err)
	}
	info, err := os.Stat(d.root)
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", d.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", d.root)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
