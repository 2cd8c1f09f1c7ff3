/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rotation

import (
	"errors"
)

// ErrInvalidTransition indicates an invalid state transition was attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// State is the orchestrator's lifecycle state.
type State string

const (
	StateRecovering    State = "RECOVERING"
	StateSelecting     State = "SELECTING"
	StateDownloading   State = "DOWNLOADING"
	StateReadyToSwitch State = "READY_TO_SWITCH"
	StateSwitching     State = "SWITCHING"
	StatePlaying       State = "PLAYING"
	StateExhausted     State = "EXHAUSTED"
	StateTempPlayback  State = "TEMP_PLAYBACK"
)

// AllStates lists every state, for metrics.
var AllStates = []State{
	StateRecovering, StateSelecting, StateDownloading, StateReadyToSwitch,
	StateSwitching, StatePlaying, StateExhausted, StateTempPlayback,
}

func stateNames() []string {
	out := make([]string, len(AllStates))
	for i, s := range AllStates {
		out[i] = string(s)
	}
	return out
}

// OnAir reports whether content is being played in this state.
func (s State) OnAir() bool {
	return s == StatePlaying || s == StateTempPlayback
}

// Every state may fall into RECOVERING; it is not listed per row.
var validTransitions = map[State][]State{
	StateRecovering: {
		StateSelecting,
		StateDownloading,
		StateReadyToSwitch,
		StateSwitching,
		StatePlaying,
		StateExhausted,
		StateTempPlayback,
	},
	StateSelecting: {
		StateDownloading,
	},
	StateDownloading: {
		StateReadyToSwitch,
		StateSelecting,    // every item failed, or the selection was overridden
		StateTempPlayback, // the previous rotation ran out while this one downloads
	},
	StateReadyToSwitch: {
		StateSwitching,
		StateSelecting, // overridden before the switch
	},
	StateSwitching: {
		StatePlaying,
	},
	StatePlaying: {
		StateExhausted,
		StateTempPlayback,
	},
	StateExhausted: {
		StateSelecting,
		StateDownloading,
		StateSwitching,
		StateTempPlayback,
	},
	StateTempPlayback: {
		StateSwitching,
	},
}

func isValidTransition(from, to State) bool {
	if to == StateRecovering {
		return from != StateRecovering
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
