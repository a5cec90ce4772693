// ABOUTME: Tests for the stream state machine
// ABOUTME: Checks allowed transitions and that only syncing carries an hr-seek target
package playback

import (
	"testing"

	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from State
		to   State
		want bool
	}{
		{StateUninitialized, StateSyncing, true},
		{StateUninitialized, StateLocked, false},
		{StateSyncing, StateLocked, true},
		{StateSyncing, StateSyncing, true},
		{StateSyncing, StateEOF, true},
		{StateLocked, StateSyncing, true},
		{StateLocked, StateSegmentBoundary, true},
		{StateLocked, StateLocked, false},
		{StateEOF, StateSyncing, true},
		{StateEOF, StateLocked, false},
		{StateSegmentBoundary, StateSyncing, true},
		{StateSegmentBoundary, StateEOF, false},
		{StateError, StateSyncing, false},
		{StateError, StateUninitialized, true},
		{StateLocked, StateError, true},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			if got := tt.from.canTransition(tt.to); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestPhaseHRSeek(t *testing.T) {
	if p := syncingPhase(12.5); p.state != StateSyncing || p.hrseek != 12.5 {
		t.Errorf("unexpected syncing phase %+v", p)
	}
	for _, st := range []State{StateLocked, StateEOF, StateError, StateSegmentBoundary} {
		if p := phaseOf(st); audio.HasPTS(p.hrseek) {
			t.Errorf("%s carries an hr-seek target %v", st, p.hrseek)
		}
	}
}

func TestStateString(t *testing.T) {
	if got := StateSegmentBoundary.String(); got != "segment-boundary" {
		t.Errorf("expected segment-boundary, got %s", got)
	}
	if got := State(42).String(); got != "unknown" {
		t.Errorf("expected unknown, got %s", got)
	}
}
