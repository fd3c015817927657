// ABOUTME: Bubbletea model for the bridge status TUI
// ABOUTME: Renders transition state, buffer fill, counters and the current track
package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/bridge"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/transition"
)

const innerWidth = 54

// Model represents the TUI state
type Model struct {
	controls *Controls

	target string
	stats  bridge.Stats

	// Track
	track  int
	title  string
	artist string
	album  string

	// Runtime
	goroutines int
	memAlloc   uint64

	showDebug bool

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
	b.WriteString(m.renderHeader())
	b.WriteString(m.renderTrack())
	b.WriteString(m.renderBuffer())
	b.WriteString(m.renderCounters())
	if m.showDebug {
		b.WriteString(m.renderDebug())
	}
	b.WriteString(m.renderHelp())
	return b.String()
}

func line(format string, args ...any) string {
	return fmt.Sprintf("│ %-*s │\n", innerWidth-2, truncate(fmt.Sprintf(format, args...), innerWidth-2))
}

func (m Model) renderHeader() string {
	target := m.target
	if target == "" {
		target = "(none)"
	}
	s := "┌─ Resonate Bridge " + strings.Repeat("─", innerWidth-18) + "┐\n"
	s += line("Target: %s", target)
	s += line("State:  %s %s", stateIcon(m.stats.State), m.stats.State)
	s += "├" + strings.Repeat("─", innerWidth) + "┤\n"
	return s
}

func (m Model) renderTrack() string {
	if m.stats.Format.IsZero() {
		return line("No stream")
	}

	s := line("Now Playing (track %d):", m.track+1)
	if m.title != "" {
		s += line("  Track:  %s", m.title)
		s += line("  Artist: %s", m.artist)
		s += line("  Album:  %s", m.album)
	} else {
		s += line("  (No metadata)")
	}
	s += line("")
	s += line("Format: %s", m.stats.Format)
	return s
}

func (m Model) renderBuffer() string {
	gate := "priming"
	if m.stats.Prefilled {
		gate = "open"
	}
	return line("") +
		line("Buffer: [%s] %s / %s",
			renderBar(m.stats.Buffered, m.stats.Capacity, 20),
			humanize.IBytes(uint64(m.stats.Buffered)),
			humanize.IBytes(uint64(m.stats.Capacity))) +
		line("Gate:   %s", gate)
}

func (m Model) renderCounters() string {
	s := "├" + strings.Repeat("─", innerWidth) + "┤\n"
	s += line("Pulled: %s  Pulls: %d  Underruns: %d",
		humanize.IBytes(m.stats.BytesPulled), m.stats.Pulls, m.stats.Underruns)
	s += line("Transitions: quick %d  bounded %d  full %d",
		m.stats.QuickResumes, m.stats.BoundedReopens, m.stats.FullReopens)
	return s
}

func (m Model) renderDebug() string {
	s := line("DEBUG:")
	s += line("  Bridge: %s", m.stats.ID)
	s += line("  Goroutines: %d  Heap: %s", m.goroutines, humanize.IBytes(m.memAlloc))
	if m.stats.LastPlan != nil {
		s += line("  Last: %s", m.stats.LastPlan.Action)
		s += line("  Silence %d  Warmup %d  Delay %s",
			m.stats.LastPlan.SilenceBuffers, m.stats.LastPlan.WarmupBuffers, m.stats.LastPlan.ReopenDelay)
	}
	return s
}

func (m Model) renderHelp() string {
	return line("s:Skip  d:Debug  q:Quit") +
		"└" + strings.Repeat("─", innerWidth) + "┘\n"
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.controls.quit()
		return m, tea.Quit
	case "s":
		m.controls.skip()
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Target != "" {
		m.target = msg.Target
	}
	if msg.Stats != nil {
		m.stats = *msg.Stats
	}
	if msg.Track != nil {
		m.track = msg.Track.Index
		m.title = msg.Track.Title
		m.artist = msg.Track.Artist
		m.album = msg.Track.Album
	}
	if msg.Goroutines != 0 {
		m.goroutines = msg.Goroutines
		m.memAlloc = msg.MemAlloc
	}
}

// TrackInfo announces the track the producer started
type TrackInfo struct {
	Index  int
	Title  string
	Artist string
	Album  string
}

// StatusMsg updates TUI state. Nil and zero fields leave the model as is.
type StatusMsg struct {
	Target     string
	Stats      *bridge.Stats
	Track      *TrackInfo
	Goroutines int
	MemAlloc   uint64
}

func stateIcon(s transition.State) string {
	switch s {
	case transition.Streaming:
		return "▶"
	case transition.Idle:
		return "■"
	default:
		return "↻"
	}
}

func renderBar(value, max, width int) string {
	filled := 0
	if max > 0 {
		filled = (value * width) / max
	}
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len([]rune(s)) <= length {
		return s
	}
	return string([]rune(s)[:length-3]) + "..."
}
