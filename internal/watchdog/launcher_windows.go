/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

//go:build windows

package watchdog

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/windows"
)

func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

func killTree(pid int) error {
	out, err := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)).CombinedOutput()
	if err != nil {
		return fmt.Errorf("taskkill %d: %w (output: %s)", pid, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func killByName(ctx context.Context, name string) error {
	out, err := exec.CommandContext(ctx, "taskkill", "/F", "/IM", name).CombinedOutput()
	if err != nil {
		// 128: no matching process
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 128 {
			return nil
		}
		return fmt.Errorf("taskkill %s: %w (output: %s)", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}
