// ABOUTME: Bridge wire protocol package
// ABOUTME: Defines control messages, the binary frame header and a websocket connection wrapper
// Package protocol implements the bridge's wire protocol.
//
// A sender dials a target, exchanges bridge/hello and target/hello, then
// announces each stream with stream/start (or stream/reopen on a format
// switch) and sends fixed-size binary frames: a 9-byte header carrying the
// frame type and a big-endian sequence number, followed by wire audio.
//
// Example:
//
//	conn, target, err := protocol.Dial(ctx, "ws://target:8928/stream", hello, 2*time.Second)
//	err = conn.Send(protocol.TypeStreamStart, start)
package protocol
