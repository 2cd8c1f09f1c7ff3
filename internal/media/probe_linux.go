/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

//go:build linux

package media

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// commLimit is the kernel's truncation of /proc/<pid>/comm.
const commLimit = 15

// ProcProbe scans /proc/<pid>/fd of processes whose name matches the player.
// Linux has no mandatory locks, so an open descriptor is what "held" means.
type ProcProbe struct {
	process  string
	procRoot string
}

// NewProbe returns the platform probe. process is the player's process name
// (for example "obs" or "vlc"); empty scans every process but our own.
func NewProbe(process string) ExclusiveAccessProbe {
	return &ProcProbe{process: process, procRoot: "/proc"}
}

// Held implements ExclusiveAccessProbe.
func (p *ProcProbe) Held(paths []string) (map[string]bool, error) {
	want := make(map[string]string, len(paths))
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
		want[abs] = path
	}

	held := make(map[string]bool)
	if len(want) == 0 {
		return held, nil
	}

	entries, err := os.ReadDir(p.procRoot)
	if err != nil {
		return nil, err
	}
	self := os.Getpid()
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid == self {
			continue
		}
		if !p.matches(pid) {
			continue
		}
		fdDir := filepath.Join(p.procRoot, e.Name(), "fd")
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			// exited or not ours to inspect
			continue
		}
		for _, fd := range fds {
			target, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
			if err != nil {
				continue
			}
			if orig, ok := want[target]; ok {
				held[orig] = true
			}
		}
		if len(held) == len(want) {
			break
		}
	}
	return held, nil
}

func (p *ProcProbe) matches(pid int) bool {
	if p.process == "" {
		return true
	}
	raw, err := os.ReadFile(filepath.Join(p.procRoot, strconv.Itoa(pid), "comm"))
	if err != nil {
		return false
	}
	comm := strings.ToLower(strings.TrimSpace(string(raw)))
	name := strings.ToLower(p.process)
	if len(name) > commLimit {
		name = name[:commLimit]
	}
	return comm == name || strings.HasPrefix(comm, name)
}
