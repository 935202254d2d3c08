// Package transport implements the wire-level duplex a Session's SendFunc
// and a multiplexer's inbound loop run over. Two concrete implementations
// are provided: a libp2p stream transport and a WebSocket transport.
package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
)

// Duplex is the minimal bidirectional byte-message channel a Session needs:
// send one frame, and receive a stream of inbound frames until the peer
// disconnects (signaled by Recv's channel closing).
type Duplex interface {
	Send(ctx context.Context, data []byte) error
	Recv() <-chan []byte
	Close() error
}

// maxFrameSize bounds a single frame at 4 MiB.
const maxFrameSize = 4 * 1024 * 1024

// writeFrame writes a 4-byte big-endian length prefix followed by payload.
// Used by the libp2p stream duplex; the WebSocket duplex relies on
// WebSocket's own message framing instead.
func writeFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("transport: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("transport: write frame body: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("transport: read frame header: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > maxFrameSize {
		return nil, fmt.Errorf("transport: invalid frame length %d", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("transport: read frame body: %w", err)
	}
	return body, nil
}
