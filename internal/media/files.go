/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package media holds the directory contract shared by the detector, the
// download coordinator and the orchestrator: which files count as playable,
// how live names are ordered, and how to tell whether the player holds one.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Extensions is the recognized set of playable file extensions (lower case).
var Extensions = map[string]struct{}{
	".mp4":  {},
	".mkv":  {},
	".avi":  {},
	".webm": {},
	".flv":  {},
	".mov":  {},
}

var (
	orderPrefix = regexp.MustCompile(`^\d{2}_`)
	// yt-dlp writes split formats as name.f137.mp4 before merging them
	formatPart = regexp.MustCompile(`\.f\d+\.[A-Za-z0-9]+$`)
)

// IsMedia reports whether name has a recognized extension. Partial downloads
// and hidden files never qualify.
func IsMedia(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || formatPart.MatchString(base) {
		return false
	}
	_, ok := Extensions[strings.ToLower(filepath.Ext(base))]
	return ok
}

// LiveName composes the name an item gets in the live directory. groupIndex is
// the group's zero-based position in the session's selection; names sort by
// group first, then by the staged name which already leads with the item's
// ordering.
func LiveName(groupIndex int, stagedName string) string {
	return fmt.Sprintf("%02d_%s", groupIndex+1, StripOrderPrefix(filepath.Base(stagedName)))
}

// HasOrderPrefix reports whether name starts with the two-digit group prefix.
func HasOrderPrefix(name string) bool {
	return orderPrefix.MatchString(name)
}

// StripOrderPrefix removes the two-digit group prefix, if present.
func StripOrderPrefix(name string) string {
	return orderPrefix.ReplaceAllString(name, "")
}

// List returns the base names of playable files directly inside dir, in play
// order. A missing directory is empty, not an error.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !IsMedia(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// ListTree returns playable files anywhere below dir as paths relative to
// dir, sorted. Used for staging, where each group has its own subdirectory.
func ListTree(dir string, skip ...string) ([]string, error) {
	skipped := make(map[string]struct{}, len(skip))
	for _, s := range skip {
		skipped[s] = struct{}{}
	}
	var out []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if _, ok := skipped[d.Name()]; ok && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsMedia(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(out)
	return out, nil
}
