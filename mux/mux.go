// Package mux implements the session multiplexer: the single point
// through which a host's transport layer hands inbound frames to the
// right per-peer Session, and through which new inbound provider-role
// negotiations are spun up lazily.
package mux

import (
	"context"
	"fmt"
	"sync"

	"github.com/arcware-labs/metaproto/protocol"
	"github.com/arcware-labs/metaproto/session"
	"github.com/rs/zerolog"
)

// NewProviderSessionFunc builds a fresh provider-role Session for a DID the
// multiplexer has not seen before. The returned Session must not yet be
// driven; the multiplexer starts WaitRemoteNegotiation itself.
type NewProviderSessionFunc func(peerDID string) *session.Session

// SessionSummary is a point-in-time snapshot of one routed session, for host
// introspection (metrics endpoints, admin CLIs).
type SessionSummary struct {
	PeerDID  string
	Status   protocol.NegotiationStatus
	Disposed bool
}

// Multiplexer routes inbound frames to the Session responsible for their
// peer DID, creating a provider-role session on first contact.
type Multiplexer struct {
	mu                 sync.RWMutex
	sessions           map[string]*session.Session
	newProviderSession NewProviderSessionFunc
	log                zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Multiplexer. newProviderSession may be nil for a host that
// only ever initiates negotiations (pure requester role); inbound frames
// from an unregistered DID are then rejected instead of silently starting a
// session.
func New(newProviderSession NewProviderSessionFunc, log zerolog.Logger) *Multiplexer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Multiplexer{
		sessions:           make(map[string]*session.Session),
		newProviderSession: newProviderSession,
		log:                log,
		ctx:                ctx,
		cancel:             cancel,
	}
}

// Register associates an already-constructed Session with peerDID. Use this
// for requester-role sessions the host drives itself via NegotiateProtocol;
// call Deregister once that call returns so the multiplexer doesn't keep
// routing frames to a disposed session.
func (m *Multiplexer) Register(peerDID string, sess *session.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[peerDID] = sess
}

// Deregister removes peerDID's session from the routing table.
func (m *Multiplexer) Deregister(peerDID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, peerDID)
}

// HandleInbound routes a raw frame received from peerDID. Reserved frame
// kinds outside this negotiator's scope are acknowledged with a log line
// and dropped rather than failing the connection over them.
func (m *Multiplexer) HandleInbound(peerDID string, raw []byte) error {
	kind, err := protocol.PeekKind(raw)
	if err != nil {
		return fmt.Errorf("mux: peek kind from %s: %w", peerDID, err)
	}

	switch kind {
	case protocol.KindProtocolNegotiation, protocol.KindCodeGeneration:
		sess, err := m.lookupOrCreate(peerDID)
		if err != nil {
			return err
		}
		return sess.Deliver(raw)

	case protocol.KindTestCasesNegotiation, protocol.KindFixErrorNegotiation, protocol.KindNaturalLanguageNegotiation:
		m.log.Info().Str("peer", peerDID).Str("kind", string(kind)).Msg("dropping reserved frame kind")
		return nil

	default:
		return fmt.Errorf("mux: unhandled frame kind %q from %s", kind, peerDID)
	}
}

func (m *Multiplexer) lookupOrCreate(peerDID string) (*session.Session, error) {
	m.mu.Lock()
	if sess, ok := m.sessions[peerDID]; ok {
		m.mu.Unlock()
		return sess, nil
	}
	if m.newProviderSession == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("mux: no session for peer %s and no provider-session factory configured", peerDID)
	}
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("mux: closed; not starting a provider session for %s", peerDID)
	}
	sess := m.newProviderSession(peerDID)
	m.sessions[peerDID] = sess
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ok, modulePath, err := sess.WaitRemoteNegotiation(m.ctx)
		ev := m.log.Info()
		if err != nil {
			ev = m.log.Warn()
		}
		ev.Str("peer", peerDID).Bool("success", ok).Str("module_path", modulePath).Msg("provider session finished")
		m.Deregister(peerDID)
	}()
	return sess, nil
}

// Snapshot reports every routed session's current status.
func (m *Multiplexer) Snapshot() []SessionSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SessionSummary, 0, len(m.sessions))
	for did, sess := range m.sessions {
		out = append(out, SessionSummary{PeerDID: did, Status: sess.Status(), Disposed: sess.Disposed()})
	}
	return out
}

// Close stops accepting new provider sessions and waits for in-flight
// provider sessions to finish, bounded by ctx.
func (m *Multiplexer) Close(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mux: close: %w", ctx.Err())
	}
}
