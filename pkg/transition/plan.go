// ABOUTME: Format change classification and transition planning
// ABOUTME: Maps a previous and requested format to an action with its silence, delays and warmup
package transition

import (
	"fmt"
	"strings"
	"time"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/pacing"
)

// Action is how a format change is carried out
type Action int

const (
	QuickResume Action = iota
	BoundedReopen
	FullReopen
)

func (a Action) String() string {
	switch a {
	case QuickResume:
		return "quick-resume"
	case BoundedReopen:
		return "bounded-reopen"
	case FullReopen:
		return "full-reopen"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Topology describes how tolerant the target is of soft transitions
type Topology int

const (
	// TopologyTolerant targets absorb a reopen without a full disconnect
	TopologyTolerant Topology = iota
	// TopologyStrict targets are timing-sensitive; every change is a full reopen
	TopologyStrict
)

func (t Topology) String() string {
	if t == TopologyStrict {
		return "strict"
	}
	return "tolerant"
}

// ParseTopology parses "tolerant" or "strict", empty meaning tolerant
func ParseTopology(s string) (Topology, error) {
	var t Topology
	err := t.UnmarshalText([]byte(s))
	return t, err
}

// TopologyReporter is implemented by transports whose target announces its
// topology when connected
type TopologyReporter interface {
	TargetTopology() (Topology, bool)
}

// MarshalText implements encoding.TextMarshaler
func (t Topology) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *Topology) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "", "tolerant":
		*t = TopologyTolerant
	case "strict":
		*t = TopologyStrict
	default:
		return fmt.Errorf("unknown topology %q", string(b))
	}
	return nil
}

// Config holds transition timing. Zero fields fall back to defaults.
type Config struct {
	Pacing   pacing.Config `yaml:"pacing"`
	Topology Topology      `yaml:"topology"`

	DSDToPCMDelay  time.Duration `yaml:"dsd_to_pcm_delay"`
	DSDToDSDDelay  time.Duration `yaml:"dsd_to_dsd_delay"`
	PCMReopenDelay time.Duration `yaml:"pcm_reopen_delay"`
	PostOpenDelay  time.Duration `yaml:"post_open_delay"`

	// DrainPollInterval is how often a silence flush checks the ring
	DrainPollInterval time.Duration `yaml:"drain_poll_interval"`
	// StabilizeSlack is added to the warmup target when waiting for pull cycles
	StabilizeSlack time.Duration `yaml:"stabilize_slack"`
}

// DefaultConfig returns the tuned defaults
func DefaultConfig() Config {
	return Config{
		Pacing:            pacing.DefaultConfig(),
		DSDToPCMDelay:     400 * time.Millisecond,
		DSDToDSDDelay:     200 * time.Millisecond,
		PCMReopenDelay:    100 * time.Millisecond,
		PostOpenDelay:     20 * time.Millisecond,
		DrainPollInterval: 2 * time.Millisecond,
		StabilizeSlack:    500 * time.Millisecond,
	}
}

// WithDefaults fills zero fields from DefaultConfig
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	c.Pacing = c.Pacing.WithDefaults()
	if c.DSDToPCMDelay <= 0 {
		c.DSDToPCMDelay = d.DSDToPCMDelay
	}
	if c.DSDToDSDDelay <= 0 {
		c.DSDToDSDDelay = d.DSDToDSDDelay
	}
	if c.PCMReopenDelay <= 0 {
		c.PCMReopenDelay = d.PCMReopenDelay
	}
	if c.PostOpenDelay <= 0 {
		c.PostOpenDelay = d.PostOpenDelay
	}
	if c.DrainPollInterval <= 0 {
		c.DrainPollInterval = d.DrainPollInterval
	}
	if c.StabilizeSlack <= 0 {
		c.StabilizeSlack = d.StabilizeSlack
	}
	return c
}

// Classify picks the action for moving from prev to next. A zero prev means
// nothing is open yet.
func Classify(prev, next audio.Format, topology Topology) Action {
	if prev.IsZero() {
		return FullReopen
	}
	if prev.Equal(next) {
		return QuickResume
	}
	if topology == TopologyStrict {
		return FullReopen
	}
	switch {
	case !prev.IsDSD():
		return BoundedReopen
	case !next.IsDSD():
		return FullReopen
	case prev.ClockFamily() != next.ClockFamily():
		return FullReopen
	default:
		return BoundedReopen
	}
}

// Plan is the computed recipe for one format change
type Plan struct {
	Action Action
	From   audio.Format
	To     audio.Format

	SilenceBuffers int
	DrainTimeout   time.Duration
	FullClose      bool
	ReopenDelay    time.Duration
	PostOpenDelay  time.Duration
	WarmupBuffers  int
	WarmupTarget   time.Duration
}

// Initial reports whether the plan opens a connection from nothing
func (p Plan) Initial() bool {
	return p.From.IsZero()
}

// NewPlan computes the plan for moving from prev (zero when nothing is
// streaming) to next on a transport with the given frame geometry.
func NewPlan(cfg Config, prev, next audio.Format, frameSize, headerSize int) Plan {
	cfg = cfg.WithDefaults()
	p := Plan{
		Action: Classify(prev, next, cfg.Topology),
		From:   prev,
		To:     next,
	}
	if p.Action == QuickResume {
		return p
	}

	p.PostOpenDelay = cfg.PostOpenDelay
	p.WarmupTarget = cfg.Pacing.WarmupTarget(next)
	p.WarmupBuffers = pacing.WarmupBuffers(p.WarmupTarget, frameSize, headerSize, next.BytesPerSecond())
	if p.Initial() {
		return p
	}

	p.SilenceBuffers = cfg.Pacing.SilenceBuffers(prev)
	p.DrainTimeout = cfg.Pacing.DrainTimeout(p.SilenceBuffers)
	if p.Action == FullReopen {
		p.FullClose = true
		switch {
		case prev.IsDSD() && !next.IsDSD():
			p.ReopenDelay = cfg.DSDToPCMDelay
		case prev.IsDSD():
			p.ReopenDelay = cfg.DSDToDSDDelay
		default:
			p.ReopenDelay = cfg.PCMReopenDelay
		}
	}
	return p
}

func (p Plan) String() string {
	return fmt.Sprintf("%s %s -> %s (silence=%d close=%t delay=%s warmup=%d)",
		p.Action, p.From, p.To, p.SilenceBuffers, p.FullClose, p.ReopenDelay, p.WarmupBuffers)
}
