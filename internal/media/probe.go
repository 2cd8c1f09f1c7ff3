/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"os"
)

// ExclusiveAccessProbe reports which files the external player holds open.
// Implementations are platform specific; callers never assume a mechanism.
type ExclusiveAccessProbe interface {
	// Held returns the subset of paths currently held. Paths that no longer
	// exist are simply not held.
	Held(paths []string) (map[string]bool, error)
}

// RenameProbe detects a held file by renaming it onto itself, which fails
// while another process has it open without share-delete access. It is the
// probe for Windows and the fallback elsewhere.
type RenameProbe struct{}

// Held implements ExclusiveAccessProbe.
func (RenameProbe) Held(paths []string) (map[string]bool, error) {
	held := make(map[string]bool)
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := os.Rename(p, p); err != nil {
			held[p] = true
		}
	}
	return held, nil
}

// ProbeFunc adapts a function to ExclusiveAccessProbe.
type ProbeFunc func(paths []string) (map[string]bool, error)

// Held implements ExclusiveAccessProbe.
func (f ProbeFunc) Held(paths []string) (map[string]bool, error) {
	return f(paths)
}
