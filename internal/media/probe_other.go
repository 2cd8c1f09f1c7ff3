/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

//go:build !linux

package media

// NewProbe returns the platform probe. Outside Linux the player's mandatory
// locks make rename-to-self reliable, so process is unused.
func NewProbe(process string) ExclusiveAccessProbe {
	return RenameProbe{}
}
