// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and carries key presses to the player
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// EventKind says what a control event asks for.
type EventKind int

const (
	EventVolume EventKind = iota
	EventMute
	EventPause
	EventSeek
	EventQuit
)

// Event is a user control request.
type Event struct {
	Kind   EventKind
	Volume int
	Muted  bool
	Paused bool
	Seek   float64
}

// Controls carries events from the TUI to the player.
type Controls struct {
	Events chan Event
}

// NewControls creates a control channel
func NewControls() *Controls {
	return &Controls{Events: make(chan Event, 10)}
}

// emit drops the event when nobody keeps up; a nil Controls ignores it.
func (c *Controls) emit(e Event) {
	if c == nil {
		return
	}
	select {
	case c.Events <- e:
	default:
	}
}

// NewModel creates a new TUI model
func NewModel(ctrl *Controls, volume int) Model {
	return Model{
		volume:   volume,
		controls: ctrl,
	}
}

// New creates the TUI program; the caller runs it and feeds it StatusMsg.
func New(ctrl *Controls, volume int) *tea.Program {
	return tea.NewProgram(NewModel(ctrl, volume), tea.WithAltScreen())
}
