// ABOUTME: Bubbletea model for the player TUI
// ABOUTME: Renders playback and clock sync status and turns keys into controls
package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Resonate-Protocol/resonate-av/internal/sync"
	"github.com/Resonate-Protocol/resonate-av/pkg/audio"
	"github.com/Resonate-Protocol/resonate-av/pkg/playback"
)

const (
	volumeStep = 5
	seekStep   = 5.0
)

var (
	accent    = lipgloss.Color("#00ff9f")
	dim       = lipgloss.Color("#6e7681")
	warn      = lipgloss.Color("#ffb86c")
	titleSty  = lipgloss.NewStyle().Bold(true).Foreground(accent)
	labelSty  = lipgloss.NewStyle().Bold(true).Foreground(accent).Width(9)
	helpSty   = lipgloss.NewStyle().Foreground(dim)
	warnSty   = lipgloss.NewStyle().Foreground(warn)
	borderSty = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(accent).Padding(0, 1)
)

// Model represents the TUI state
type Model struct {
	source string

	// Sync
	haveSync    bool
	syncOffset  int64
	syncRTT     int64
	syncQuality sync.Quality

	stats  playback.Stats
	volume int
	muted  bool
	paused bool

	showDebug bool
	controls  *Controls

	width  int
	height int
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}
	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(titleSty.Render("resonate-av") + " " + helpSty.Render("["+m.stats.State.String()+"]") + "\n\n")
	b.WriteString(m.row("Source", m.source))
	b.WriteString(m.row("Sync", m.renderSync()))
	b.WriteString(m.row("Decoder", m.renderDecoder()))
	b.WriteString(m.row("Output", formatOf(m.stats.Output)))
	b.WriteString(m.row("Position", m.renderPosition()))
	b.WriteString(m.row("Volume", m.renderVolume()))
	b.WriteString(m.row("Stats", fmt.Sprintf("frames %d  dropped %d  speed %.2fx", m.stats.Frames, m.stats.Dropped, m.stats.Speed)))
	if m.showDebug {
		b.WriteString(m.renderDebug())
	}
	b.WriteString("\n" + helpSty.Render("↑/↓ volume  m mute  space pause  ←/→ seek  d debug  q quit"))

	return borderSty.Width(max(m.width-2, 40)).Render(b.String())
}

func (m Model) row(label, value string) string {
	return labelSty.Render(label) + " " + value + "\n"
}

func (m Model) renderSync() string {
	if !m.haveSync {
		return helpSty.Render("local clock")
	}
	switch m.syncQuality {
	case sync.QualityGood:
		return fmt.Sprintf("✓ offset %+.1fms rtt %.1fms", float64(m.syncOffset)/1000, float64(m.syncRTT)/1000)
	case sync.QualityDegraded:
		return warnSty.Render(fmt.Sprintf("⚠ degraded (rtt %.1fms)", float64(m.syncRTT)/1000))
	default:
		return warnSty.Render("✗ lost")
	}
}

func (m Model) renderDecoder() string {
	if m.stats.Backend == "" {
		return helpSty.Render("no stream")
	}
	return m.stats.Backend + " " + formatOf(m.stats.Input)
}

func (m Model) renderPosition() string {
	if !audio.HasPTS(m.stats.PlayingPTS) {
		return "--:--"
	}
	s := fmt.Sprintf("%s  buffered %.0fms  a-v %+.0fms", clock(m.stats.PlayingPTS), m.stats.Buffered*1000, m.stats.AVDifference*1000)
	if m.paused {
		s += "  " + warnSty.Render("paused")
	}
	return s
}

func (m Model) renderVolume() string {
	s := "[" + renderBar(m.volume, 100, 10) + fmt.Sprintf("] %d%%", m.volume)
	if m.muted {
		s += " " + warnSty.Render("muted")
	}
	return s
}

func (m Model) renderDebug() string {
	return "\n" + m.row("Session", m.stats.SessionID) +
		m.row("Written", fmt.Sprintf("%.3fs", m.stats.WrittenPTS)) +
		m.row("Delay", fmt.Sprintf("%.1fms", m.stats.Delay*1000)) +
		m.row("Drift", fmt.Sprintf("%+.2fms", m.stats.Correction*1000))
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.controls.emit(Event{Kind: EventQuit})
		return m, tea.Quit
	case "up":
		m.volume = min(m.volume+volumeStep, 100)
		m.controls.emit(Event{Kind: EventVolume, Volume: m.volume})
	case "down":
		m.volume = max(m.volume-volumeStep, 0)
		m.controls.emit(Event{Kind: EventVolume, Volume: m.volume})
	case "m":
		m.muted = !m.muted
		m.controls.emit(Event{Kind: EventMute, Muted: m.muted})
	case " ":
		m.paused = !m.paused
		m.controls.emit(Event{Kind: EventPause, Paused: m.paused})
	case "left", "right":
		delta := seekStep
		if msg.String() == "left" {
			delta = -seekStep
		}
		if audio.HasPTS(m.stats.PlayingPTS) {
			m.controls.emit(Event{Kind: EventSeek, Seek: max(m.stats.PlayingPTS+delta, 0)})
		}
	case "d":
		m.showDebug = !m.showDebug
	}
	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	m.stats = msg.Stats
	m.paused = msg.Stats.Paused
	if msg.Source != "" {
		m.source = msg.Source
	}
	if msg.HaveSync {
		m.haveSync = true
		m.syncOffset = msg.SyncOffset
		m.syncRTT = msg.SyncRTT
		m.syncQuality = msg.SyncQuality
	}
	if msg.Volume != nil {
		m.volume = *msg.Volume
	}
	if msg.Muted != nil {
		m.muted = *msg.Muted
	}
}

// StatusMsg updates TUI state
type StatusMsg struct {
	Source string
	Stats  playback.Stats

	HaveSync    bool
	SyncOffset  int64
	SyncRTT     int64
	SyncQuality sync.Quality

	// set when the server changed them
	Volume *int
	Muted  *bool
}

func renderBar(value, max, width int) string {
	filled := (value * width) / max
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func formatOf(f audio.Format) string {
	if !f.Valid() {
		return "-"
	}
	return f.String()
}

func clock(sec float64) string {
	t := int(sec)
	return fmt.Sprintf("%02d:%02d.%d", t/60, t%60, int((sec-float64(t))*10))
}
