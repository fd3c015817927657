// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and the key channels it feeds back to main
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Controls carries key presses out of the TUI
type Controls struct {
	Skip chan struct{}
	Quit chan struct{}
}

// NewControls creates a control handler
func NewControls() *Controls {
	return &Controls{
		Skip: make(chan struct{}, 1),
		Quit: make(chan struct{}, 1),
	}
}

func (c *Controls) skip() {
	if c == nil {
		return
	}
	select {
	case c.Skip <- struct{}{}:
	default:
	}
}

func (c *Controls) quit() {
	if c == nil {
		return
	}
	select {
	case c.Quit <- struct{}{}:
	default:
	}
}

// NewModel creates a new TUI model
func NewModel(controls *Controls) Model {
	return Model{controls: controls}
}

// New creates the TUI program, started by the caller with Run
func New(controls *Controls) *tea.Program {
	return tea.NewProgram(NewModel(controls), tea.WithAltScreen())
}
