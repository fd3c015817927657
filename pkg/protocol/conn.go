// ABOUTME: Websocket connection wrapper for the bridge protocol
// ABOUTME: Handles dialing, the hello handshake, serialized writes and message reads
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const handshakeTimeout = 5 * time.Second

// ErrUnexpectedMessage is returned when the handshake sees the wrong message
var ErrUnexpectedMessage = errors.New("unexpected protocol message")

// Conn is a protocol connection. Writes are serialized; reads must come
// from a single goroutine.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func newConn(ws *websocket.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{ws: ws, writeTimeout: writeTimeout}
}

// Dial connects to a target and performs the hello handshake
func Dial(ctx context.Context, url string, hello BridgeHello, writeTimeout time.Duration) (*Conn, TargetHello, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, TargetHello{}, fmt.Errorf("dial %s: %w", url, err)
	}
	c := newConn(ws, writeTimeout)

	if err := c.Send(TypeBridgeHello, hello); err != nil {
		c.Close()
		return nil, TargetHello{}, fmt.Errorf("send %s: %w", TypeBridgeHello, err)
	}

	var target TargetHello
	if err := c.expect(TypeTargetHello, &target); err != nil {
		c.Close()
		return nil, TargetHello{}, fmt.Errorf("handshake failed: %w", err)
	}
	return c, target, nil
}

// Accept upgrades an HTTP request and answers the bridge's hello
func Accept(w http.ResponseWriter, r *http.Request, upgrader *websocket.Upgrader, hello TargetHello, writeTimeout time.Duration) (*Conn, BridgeHello, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, BridgeHello{}, fmt.Errorf("upgrade: %w", err)
	}
	c := newConn(ws, writeTimeout)

	var bridge BridgeHello
	if err := c.expect(TypeBridgeHello, &bridge); err != nil {
		c.Close()
		return nil, BridgeHello{}, fmt.Errorf("handshake failed: %w", err)
	}
	if err := c.Send(TypeTargetHello, hello); err != nil {
		c.Close()
		return nil, BridgeHello{}, fmt.Errorf("send %s: %w", TypeTargetHello, err)
	}
	return c, bridge, nil
}

func (c *Conn) expect(typ string, v any) error {
	c.ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer c.ws.SetReadDeadline(time.Time{})

	msg, frame, err := c.Read()
	if err != nil {
		return err
	}
	if frame != nil || msg.Type != typ {
		return fmt.Errorf("%w: expected %s, got %q", ErrUnexpectedMessage, typ, msg.Type)
	}
	return msg.Decode(v)
}

func (c *Conn) deadline() time.Time {
	if c.writeTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.writeTimeout)
}

// Send writes a control message
func (c *Conn) Send(typ string, payload any) error {
	msg, err := NewMessage(typ, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	c.ws.SetWriteDeadline(c.deadline())
	return c.ws.WriteJSON(msg)
}

// SendFrame writes a binary audio frame, header included
func (c *Conn) SendFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	c.ws.SetWriteDeadline(c.deadline())
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

// Read returns the next message. Binary frames are returned as frame with a
// zero Message.
func (c *Conn) Read() (Message, []byte, error) {
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			return Message{}, nil, err
		}
		switch typ {
		case websocket.BinaryMessage:
			return Message{}, data, nil
		case websocket.TextMessage:
			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				return Message{}, nil, fmt.Errorf("parse message: %w", err)
			}
			return msg, nil, nil
		}
	}
}

// Close sends a close frame and closes the connection. Safe to call more
// than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

// IsCloseError reports whether err is a normal websocket close
func IsCloseError(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
