/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		env, override string
		want          zerolog.Level
	}{
		{"development", "", zerolog.DebugLevel},
		{"production", "", zerolog.InfoLevel},
		{"production", "warn", zerolog.WarnLevel},
		{"production", "bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := Level(tt.env, tt.override); got != tt.want {
			t.Fatalf("Level(%q, %q) = %v, want %v", tt.env, tt.override, got, tt.want)
		}
	}
}
