// ABOUTME: Websocket receiver accepting bridge streams on the target side
// ABOUTME: Validates frame sequence and alignment and counts audio per format
package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/protocol"
)

// StreamEvent reports a control message seen by the receiver
type StreamEvent struct {
	Type     string
	BridgeID string
	Start    protocol.StreamStart
	End      protocol.StreamEnd
}

// FormatStats counts audio received in one format
type FormatStats struct {
	Frames uint64
	Bytes  uint64
}

// ReceiverStats is a snapshot of everything received
type ReceiverStats struct {
	Sessions   int
	Streams    int
	Ends       int
	Frames     uint64
	Bytes      uint64
	Gaps       uint64 // frames whose sequence skipped ahead or went back
	Misaligned uint64 // frames whose payload is not whole wire frames
	Current    protocol.AudioFormat
	ByFormat   map[string]FormatStats
}

// ReceiverOption configures a Receiver
type ReceiverOption func(*Receiver)

// WithTopology sets the topology advertised in target/hello
func WithTopology(topology string) ReceiverOption {
	return func(r *Receiver) { r.hello.Topology = topology }
}

// WithStreamHook registers a callback for stream control messages
func WithStreamHook(fn func(StreamEvent)) ReceiverOption {
	return func(r *Receiver) { r.onEvent = fn }
}

// Receiver is an http.Handler terminating bridge streams
type Receiver struct {
	hello    protocol.TargetHello
	upgrader gws.Upgrader
	onEvent  func(StreamEvent)

	mu    sync.Mutex
	stats ReceiverStats
}

// NewReceiver creates a receiver advertising name
func NewReceiver(name string, opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		hello: protocol.TargetHello{
			TargetID: uuid.New().String(),
			Name:     name,
			Version:  protocol.Version,
		},
		upgrader: gws.Upgrader{
			// targets live on the local network
			CheckOrigin: func(*http.Request) bool { return true },
		},
		stats: ReceiverStats{ByFormat: map[string]FormatStats{}},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stats returns a copy of the counters
func (r *Receiver) Stats() ReceiverStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.ByFormat = make(map[string]FormatStats, len(r.stats.ByFormat))
	for k, v := range r.stats.ByFormat {
		s.ByFormat[k] = v
	}
	return s
}

func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	conn, bridge, err := protocol.Accept(w, req, &r.upgrader, r.hello, 2*time.Second)
	if err != nil {
		logger.Warnf(ctx, "rejected bridge connection from %s: %v", req.RemoteAddr, err)
		return
	}
	defer conn.Close()
	logger.Infof(ctx, "bridge %s (%s) connected from %s", bridge.Name, bridge.BridgeID, req.RemoteAddr)

	r.mu.Lock()
	r.stats.Sessions++
	r.mu.Unlock()

	var (
		format   protocol.AudioFormat
		expected uint64
		started  bool
	)
	for {
		msg, frame, err := conn.Read()
		if err != nil {
			if !protocol.IsCloseError(err) {
				logger.Debugf(ctx, "bridge %s read: %v", bridge.BridgeID, err)
			}
			return
		}

		if frame != nil {
			seq, payload, err := protocol.ParseFrame(frame)
			if err != nil {
				logger.Warnf(ctx, "bad frame from %s: %v", bridge.BridgeID, err)
				continue
			}
			r.countFrame(format, started && seq != expected, payload)
			expected = seq + 1
			continue
		}

		ev := StreamEvent{Type: msg.Type, BridgeID: bridge.BridgeID}
		switch msg.Type {
		case protocol.TypeStreamStart, protocol.TypeStreamReopen:
			if err := msg.Decode(&ev.Start); err != nil {
				logger.Warnf(ctx, "%v", err)
				continue
			}
			format = ev.Start.Format
			expected = ev.Start.Sequence
			started = true
			r.mu.Lock()
			r.stats.Streams++
			r.stats.Current = format
			r.mu.Unlock()
			logger.Infof(ctx, "%s: %s, %d byte frames", msg.Type, format, ev.Start.FrameSize)
		case protocol.TypeStreamEnd:
			if err := msg.Decode(&ev.End); err != nil {
				logger.Warnf(ctx, "%v", err)
				continue
			}
			started = false
			r.mu.Lock()
			r.stats.Ends++
			r.stats.Current = protocol.AudioFormat{}
			r.mu.Unlock()
			logger.Infof(ctx, "stream end after %d frames (%s)", ev.End.Frames, ev.End.Reason)
		default:
			logger.Debugf(ctx, "ignoring message %s", msg.Type)
			continue
		}
		if r.onEvent != nil {
			r.onEvent(ev)
		}
	}
}

func (r *Receiver) countFrame(format protocol.AudioFormat, gap bool, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Frames++
	r.stats.Bytes += uint64(len(payload))
	if gap {
		r.stats.Gaps++
	}
	if fb := format.FrameBytes(); fb == 0 || len(payload)%fb != 0 {
		r.stats.Misaligned++
	}
	key := format.String()
	fs := r.stats.ByFormat[key]
	fs.Frames++
	fs.Bytes += uint64(len(payload))
	r.stats.ByFormat[key] = fs
}
