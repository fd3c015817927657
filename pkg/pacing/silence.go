// ABOUTME: Silence flush sizing before a transport reopen
// ABOUTME: Scales buffer counts with DSD rate and bounds the drain wait
package pacing

import (
	"time"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
)

// SilenceBuffers is the number of transport frames of silence queued before
// leaving f
func (c Config) SilenceBuffers(f audio.Format) int {
	c = c.WithDefaults()
	if f.IsDSD() {
		m := f.DSDStep()
		if m < 1 {
			m = 1
		}
		return c.DSDSilenceBase * m
	}
	return c.PCMSilenceBuffers
}

// DrainTimeout bounds the wait for n silence buffers to drain
func (c Config) DrainTimeout(n int) time.Duration {
	c = c.WithDefaults()
	return c.DrainTimeoutBase + time.Duration(n)*c.DrainTimeoutPerBuffer
}
