/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

//go:build !unix

package fetch

import "os/exec"

// setProcessGroup is a no-op where process groups are unavailable; WaitDelay
// still bounds how long a cancelled run waits on inherited pipes.
func setProcessGroup(cmd *exec.Cmd) {}
