// ABOUTME: Stream state machine of a playback session
// ABOUTME: Validates transitions and keeps the hr-seek target inside the syncing state
package playback

import "github.com/Resonate-Protocol/resonate-av/pkg/audio"

// State is the audio stream state.
type State int

const (
	StateUninitialized State = iota
	StateSyncing
	StateLocked
	StateEOF
	StateError
	StateSegmentBoundary
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSyncing:
		return "syncing"
	case StateLocked:
		return "locked"
	case StateEOF:
		return "eof"
	case StateError:
		return "error"
	case StateSegmentBoundary:
		return "segment-boundary"
	default:
		return "unknown"
	}
}

// canTransition reports whether s may move to to.
func (s State) canTransition(to State) bool {
	if to == StateUninitialized || to == StateError {
		return true
	}
	switch s {
	case StateUninitialized:
		return to == StateSyncing
	case StateSyncing:
		return to == StateSyncing || to == StateLocked || to == StateEOF || to == StateSegmentBoundary
	case StateLocked:
		return to == StateSyncing || to == StateEOF || to == StateSegmentBoundary
	case StateEOF:
		return to == StateSyncing
	case StateSegmentBoundary:
		return to == StateSyncing
	}
	return false
}

// phase is a State plus the data only that state may carry. The hr-seek
// target exists only while syncing; every other constructor clears it.
type phase struct {
	state  State
	hrseek float64
}

func syncingPhase(hrseek float64) phase {
	return phase{state: StateSyncing, hrseek: hrseek}
}

func phaseOf(s State) phase {
	return phase{state: s, hrseek: audio.NoPTS}
}
