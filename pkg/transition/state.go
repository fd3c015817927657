// ABOUTME: Transition controller states
// ABOUTME: Idle through Streaming, as reported to hooks, stats and the TUI
package transition

import "fmt"

// State is the controller's position in a transition
type State int32

const (
	Idle State = iota
	SilenceFlush
	Closing
	Delay
	Reopening
	Stabilizing
	Streaming
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case SilenceFlush:
		return "silence-flush"
	case Closing:
		return "closing"
	case Delay:
		return "delay"
	case Reopening:
		return "reopening"
	case Stabilizing:
		return "stabilizing"
	case Streaming:
		return "streaming"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}
