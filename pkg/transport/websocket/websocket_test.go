// ABOUTME: Tests for the websocket transport against an in-process receiver
// ABOUTME: Covers stream start, reopen, silence before close and frame accounting
package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/protocol"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/transition"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/transport"
)

// patternPuller fills every pull with a fixed byte
type patternPuller struct {
	pulls atomic.Int64
	empty atomic.Bool
}

func (p *patternPuller) Pull(dst []byte) int {
	p.pulls.Add(1)
	if p.empty.Load() {
		return 0
	}
	for i := range dst {
		dst[i] = 0x5A
	}
	return len(dst)
}

func newTestTransport(t *testing.T, rcv *Receiver) (*Transport, *patternPuller) {
	t.Helper()
	srv := httptest.NewServer(rcv)
	t.Cleanup(srv.Close)

	tr := New(Config{
		URL:          "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream",
		FrameSize:    1773,
		WriteTimeout: 2 * time.Second,
		Hello:        protocol.BridgeHello{BridgeID: "bridge-test", Name: "test bridge", Version: 1},
	})
	p := &patternPuller{}
	tr.Attach(p)
	return tr, p
}

func TestStreamLifecycle(t *testing.T) {
	var events []string
	eventCh := make(chan string, 16)
	rcv := NewReceiver("test target", WithTopology("strict"), WithStreamHook(func(ev StreamEvent) {
		eventCh <- ev.Type
	}))
	tr, puller := newTestTransport(t, rcv)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pcm := audio.PCM(44100, 16, 2)
	require.NoError(t, tr.Open(ctx, pcm))
	assert.Equal(t, "test target", tr.Target().Name)
	assert.Equal(t, "strict", tr.Target().Topology)
	topology, known := tr.TargetTopology()
	assert.True(t, known)
	assert.Equal(t, transition.TopologyStrict, topology)
	assert.Equal(t, protocol.HeaderSize, tr.HeaderSize())
	assert.Equal(t, 1764, transport.PayloadSize(tr))

	require.Eventually(t, func() bool { return rcv.Stats().Frames >= 5 }, 5*time.Second, time.Millisecond)

	dsd := audio.DSD(audio.DSD64Rate, 2)
	require.NoError(t, tr.Reopen(ctx, dsd))
	require.Eventually(t, func() bool {
		return rcv.Stats().ByFormat[protocol.FromFormat(dsd).String()].Frames >= 5
	}, 5*time.Second, time.Millisecond)

	puller.empty.Store(true)
	tr.RequestSilence(4)
	require.NoError(t, tr.Close(ctx))
	assert.GreaterOrEqual(t, puller.pulls.Load(), int64(10))

	require.Eventually(t, func() bool { return rcv.Stats().Ends == 1 }, 5*time.Second, time.Millisecond)
	for len(events) < 3 {
		select {
		case ev := <-eventCh:
			events = append(events, ev)
		case <-time.After(5 * time.Second):
			t.Fatalf("saw only %v", events)
		}
	}
	assert.Equal(t, []string{protocol.TypeStreamStart, protocol.TypeStreamReopen, protocol.TypeStreamEnd}, events)

	st := rcv.Stats()
	assert.Equal(t, 1, st.Sessions)
	assert.Equal(t, 2, st.Streams)
	assert.Zero(t, st.Gaps)
	assert.Zero(t, st.Misaligned)
	pcmStats := st.ByFormat[protocol.FromFormat(pcm).String()]
	assert.Equal(t, pcmStats.Frames*1760, pcmStats.Bytes, "payload rounded to whole 8-byte frames")
	assert.Equal(t, st.Frames, tr.FramesSent())

	_, known = tr.TargetTopology()
	assert.False(t, known, "no topology once closed")
}

func TestReopenRequiresOpen(t *testing.T) {
	tr, _ := newTestTransport(t, NewReceiver("idle"))
	err := tr.Reopen(context.Background(), audio.PCM(48000, 24, 2))
	assert.ErrorIs(t, err, transport.ErrNotOpen)
	assert.NoError(t, tr.Close(context.Background()), "closing a closed transport is a no-op")
}

type idPuller struct {
	patternPuller
}

func (*idPuller) ID() string { return "bridge-42" }

func TestAttachFillsBridgeID(t *testing.T) {
	tr := New(Config{FrameSize: 1773})
	tr.Attach(&idPuller{})
	assert.Equal(t, "bridge-42", tr.cfg.Hello.BridgeID)

	named := New(Config{FrameSize: 1773, Hello: protocol.BridgeHello{BridgeID: "fixed"}})
	named.Attach(&idPuller{})
	assert.Equal(t, "fixed", named.cfg.Hello.BridgeID)
}

func TestOpenFailsWithoutTarget(t *testing.T) {
	tr := New(Config{URL: "ws://127.0.0.1:1/stream", FrameSize: 1773, WriteTimeout: time.Second})
	tr.Attach(&patternPuller{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.Error(t, tr.Open(ctx, audio.PCM(44100, 16, 2)))
}
