package transport

import (
	"context"
	"fmt"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	p2pprotocol "github.com/libp2p/go-libp2p/core/protocol"
)

// MetaProtocolID is the libp2p protocol identifier streams are negotiated under.
const MetaProtocolID p2pprotocol.ID = "/metaproto-negotiation/1.0.0"

// Host wraps a libp2p host, dialing and accepting MetaProtocolID streams and
// wrapping each as a Duplex.
type Host struct {
	h host.Host

	mu        sync.RWMutex
	onInbound func(Duplex)
}

// NewHost creates a libp2p Host listening on listenAddr (a multiaddr string,
// e.g. "/ip4/127.0.0.1/tcp/0" for an OS-assigned port).
func NewHost(listenAddr string) (*Host, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		return nil, fmt.Errorf("transport: create libp2p host: %w", err)
	}
	host := &Host{h: h}
	h.SetStreamHandler(MetaProtocolID, host.handleStream)
	return host, nil
}

// OnInboundStream registers the callback invoked with a Duplex for every
// inbound MetaProtocolID stream. Typically the callback performs the
// identity handshake (identity package) before handing the Duplex to a
// Multiplexer.
func (h *Host) OnInboundStream(fn func(Duplex)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onInbound = fn
}

func (h *Host) handleStream(s network.Stream) {
	h.mu.RLock()
	fn := h.onInbound
	h.mu.RUnlock()
	if fn == nil {
		_ = s.Close()
		return
	}
	fn(newStreamDuplex(s))
}

// Dial connects to info and opens a MetaProtocolID stream, returning it as a Duplex.
func (h *Host) Dial(ctx context.Context, info peer.AddrInfo) (Duplex, error) {
	if err := h.h.Connect(ctx, info); err != nil {
		return nil, fmt.Errorf("transport: connect: %w", err)
	}
	s, err := h.h.NewStream(ctx, info.ID, MetaProtocolID)
	if err != nil {
		return nil, fmt.Errorf("transport: open stream: %w", err)
	}
	return newStreamDuplex(s), nil
}

// AddrInfo returns the address peers can dial to reach this host.
func (h *Host) AddrInfo() peer.AddrInfo {
	return peer.AddrInfo{ID: h.h.ID(), Addrs: h.h.Addrs()}
}

// Close shuts down the underlying libp2p host.
func (h *Host) Close() error { return h.h.Close() }

// streamDuplex adapts a libp2p network.Stream to Duplex using a 4-byte
// length-prefixed frame. Frames self-describe their kind via the JSON
// messageType field, so no separate type byte is prefixed.
type streamDuplex struct {
	stream network.Stream
	recvCh chan []byte
	closed chan struct{}
	once   sync.Once
}

func newStreamDuplex(s network.Stream) *streamDuplex {
	d := &streamDuplex{
		stream: s,
		recvCh: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
	go d.readLoop()
	return d
}

func (d *streamDuplex) readLoop() {
	defer close(d.recvCh)
	for {
		data, err := readFrame(d.stream)
		if err != nil {
			return
		}
		select {
		case d.recvCh <- data:
		case <-d.closed:
			return
		}
	}
}

func (d *streamDuplex) Send(ctx context.Context, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = d.stream.SetWriteDeadline(deadline)
	}
	if err := writeFrame(d.stream, data); err != nil {
		return fmt.Errorf("transport: stream send: %w", err)
	}
	return nil
}

func (d *streamDuplex) Recv() <-chan []byte { return d.recvCh }

func (d *streamDuplex) Close() error {
	d.once.Do(func() { close(d.closed) })
	return d.stream.Close()
}
