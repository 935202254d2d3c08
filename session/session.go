// Package session implements the meta-protocol session: the per-peer
// state machine that drives the bounded negotiation loop, the code-
// generation handshake, and suspend/resume around the asynchronous LLM
// calls the Negotiator makes on its behalf.
//
// A Session owns exactly one driver: NegotiateProtocol or
// WaitRemoteNegotiation, whichever its role calls, mutates all of its state.
// Inbound frames arrive via DeliverNegotiationFrame/DeliverCodeGenFrame,
// typically called from the Multiplexer's receiver goroutine; they are
// queued and consumed one at a time by the driver, so no locking is needed
// around the state machine itself.
package session

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/arcware-labs/metaproto/codegen"
	"github.com/arcware-labs/metaproto/engine"
	"github.com/arcware-labs/metaproto/errs"
	"github.com/arcware-labs/metaproto/negotiator"
	"github.com/arcware-labs/metaproto/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// inboxCapacity bounds the queue of inbound PROTOCOL_NEGOTIATION frames
// awaiting the driver. Negotiation is strictly ping-pong, so in practice at
// most one frame is ever pending; 16 leaves headroom.
const inboxCapacity = 16

// SendFunc wraps the host-supplied transport send callback.
type SendFunc func(ctx context.Context, frame []byte) error

// Session is a per-peer meta-protocol negotiation session.
type Session struct {
	id      uuid.UUID
	role    protocol.Role
	peerDID string

	send       SendFunc
	negotiator *negotiator.Negotiator
	codegen    codegen.Generator
	cfg        engine.Config

	inbox        chan []byte
	codeGenInbox chan []byte
	disposed     atomic.Bool

	history        []protocol.HistoryEntry
	peerRound      uint32
	status         protocol.NegotiationStatus
	agreedProtocol protocol.ProtocolDocument
	capHistory     []string
}

// New creates a Session for one peer. gen may be nil only if the caller
// never intends to reach the code-generation phase (e.g. tests that stop at
// negotiation); calling the codegen phase with a nil Generator panics.
func New(role protocol.Role, peerDID string, send SendFunc, neg *negotiator.Negotiator, gen codegen.Generator, cfg engine.Config) *Session {
	return &Session{
		id:           uuid.New(),
		role:         role,
		peerDID:      peerDID,
		send:         send,
		negotiator:   neg,
		codegen:      gen,
		cfg:          cfg,
		inbox:        make(chan []byte, inboxCapacity),
		codeGenInbox: make(chan []byte, 1),
		status:       protocol.StatusNegotiating,
	}
}

// ID returns the session's unique identifier, attached to the session's log
// lines.
func (s *Session) ID() uuid.UUID { return s.id }

// PeerDID returns the DID this session negotiates with.
func (s *Session) PeerDID() string { return s.peerDID }

// Status returns the session's current negotiation status.
func (s *Session) Status() protocol.NegotiationStatus { return s.status }

// Disposed reports whether the session has reached its terminal lifecycle
// point and will refuse further inbound frames.
func (s *Session) Disposed() bool { return s.disposed.Load() }

// DeliverNegotiationFrame enqueues a raw PROTOCOL_NEGOTIATION frame for the
// driver to consume. Called from the multiplexer's receiver path.
func (s *Session) DeliverNegotiationFrame(raw []byte) error {
	if s.disposed.Load() {
		return fmt.Errorf("session: deliver negotiation frame: %w", errs.ErrSessionDisposed)
	}
	select {
	case s.inbox <- raw:
		return nil
	default:
		return fmt.Errorf("session: inbox full (capacity %d)", inboxCapacity)
	}
}

// DeliverCodeGenFrame enqueues a raw CODE_GENERATION frame. A session
// accepts exactly one; subsequent deliveries are refused.
func (s *Session) DeliverCodeGenFrame(raw []byte) error {
	if s.disposed.Load() {
		return fmt.Errorf("session: deliver codegen frame: %w", errs.ErrSessionDisposed)
	}
	select {
	case s.codeGenInbox <- raw:
		return nil
	default:
		return fmt.Errorf("session: codegen inbox already holds a frame")
	}
}

// Deliver routes a raw frame to the right inbox by peeking its messageType
// discriminator. The multiplexer uses exactly this dispatch; it is exported
// here too so callers that already own a single Session (tests, or a direct
// peer-to-peer wiring without a multiplexer) don't have to reimplement it.
func (s *Session) Deliver(raw []byte) error {
	kind, err := protocol.PeekKind(raw)
	if err != nil {
		return fmt.Errorf("session: deliver: %w", err)
	}
	switch kind {
	case protocol.KindProtocolNegotiation:
		return s.DeliverNegotiationFrame(raw)
	case protocol.KindCodeGeneration:
		return s.DeliverCodeGenFrame(raw)
	default:
		return fmt.Errorf("session: deliver: unhandled kind %q", kind)
	}
}

// NegotiateProtocol drives the requester-role negotiation: produce the
// initial proposal, then enter the round loop until terminal, then run the
// code-generation handshake.
func (s *Session) NegotiateProtocol(ctx context.Context, requirement, inputDescription, outputDescription string) (success bool, modulePath string, err error) {
	s.role = protocol.RoleRequester
	log := s.cfg.Logger.With().Str("session", s.id.String()).Str("role", "requester").Logger()

	result, err := s.withLLMRetries(ctx, func(ctx context.Context) (protocol.NegotiationResult, error) {
		return s.negotiator.GenerateInitialProtocol(ctx, requirement, inputDescription, outputDescription)
	})
	if err != nil {
		log.Error().Err(err).Msg("initial protocol generation exhausted retries")
		s.disposed.Store(true)
		s.recordOutcome(false)
		return false, "", err
	}

	s.appendHistory(1, result.CandidateProtocol, "", protocol.AuthorSelf)
	frame := protocol.NewNegotiationFrame(1, result.CandidateProtocol, protocol.StatusNegotiating, "")
	if err := s.sendNegotiationFrame(ctx, frame); err != nil {
		log.Error().Err(err).Msg("transport send failed")
		s.disposed.Store(true)
		s.recordOutcome(false)
		return false, "", err
	}
	s.peerRound = 1
	log.Info().Uint32("seq", 1).Msg("sent initial protocol proposal")

	agreed, err := s.roundLoop(ctx, requirement, inputDescription, outputDescription, log)
	return s.finish(ctx, agreed, err, log)
}

// WaitRemoteNegotiation drives the provider-role negotiation: it waits for
// the requester's first proposal before making any LLM call.
func (s *Session) WaitRemoteNegotiation(ctx context.Context) (success bool, modulePath string, err error) {
	s.role = protocol.RoleProvider
	log := s.cfg.Logger.With().Str("session", s.id.String()).Str("role", "provider").Logger()

	agreed, err := s.roundLoop(ctx, "", "", "", log)
	return s.finish(ctx, agreed, err, log)
}

func (s *Session) finish(ctx context.Context, agreed bool, err error, log zerolog.Logger) (bool, string, error) {
	if err != nil || !agreed {
		s.disposed.Store(true)
		s.recordOutcome(false)
		return false, "", err
	}
	return s.codeGenHandshake(ctx, log)
}

// roundLoop implements the ping-pong negotiation loop: consume one inbound
// frame per iteration, evaluate it via the Negotiator when it is a
// NEGOTIATING proposal, and emit the corresponding outbound frame. Returns
// (true, nil) once this session's own status reaches Accepted.
func (s *Session) roundLoop(ctx context.Context, requirement, inputDescription, outputDescription string, log zerolog.Logger) (bool, error) {
	for {
		waitCtx, cancel := context.WithTimeout(ctx, s.cfg.RoundTimeout)
		var raw []byte
		select {
		case raw = <-s.inbox:
			cancel()
		case <-waitCtx.Done():
			cancel()
			s.status = protocol.StatusRejected
			log.Warn().Msg("round timed out awaiting peer frame")
			return false, fmt.Errorf("session: %w: no frame within round timeout", errs.ErrTimeout)
		}

		frame, err := protocol.DecodeNegotiationFrame(raw)
		if err != nil {
			s.status = protocol.StatusRejected
			log.Error().Err(err).Msg("malformed inbound frame")
			return false, fmt.Errorf("session: %w: %v", errs.ErrProtocol, err)
		}

		if frame.SequenceID <= s.peerRound {
			log.Debug().Uint32("seq", frame.SequenceID).Msg("dropping duplicate frame")
			continue
		}
		if frame.SequenceID > s.peerRound+1 {
			log.Error().Uint32("seq", frame.SequenceID).Uint32("expected", s.peerRound+1).Msg("out-of-sequence frame")
			s.sendProtocolErrorReject(ctx, log)
			return false, fmt.Errorf("session: %w: sequence %d, expected %d", errs.ErrProtocol, frame.SequenceID, s.peerRound+1)
		}
		s.peerRound = frame.SequenceID

		switch frame.Status {
		case protocol.StatusAccepted:
			s.status = protocol.StatusAccepted
			s.agreedProtocol = s.lastSelfCandidate()
			log.Info().Msg("peer accepted our proposal")
			return true, nil

		case protocol.StatusRejected:
			s.status = protocol.StatusRejected
			log.Info().Msg("peer rejected the negotiation")
			return false, nil

		case protocol.StatusNegotiating:
			s.appendHistory(frame.SequenceID, frame.CandidateProtocols, frame.ModificationSummary, protocol.AuthorPeer)

			result, nextSeq, capHistory, err := s.withLLMEvaluate(ctx, negotiator.EvalInput{
				Role:                    s.role,
				PeerRound:               s.peerRound,
				PeerCandidate:           frame.CandidateProtocols,
				PeerModificationSummary: frame.ModificationSummary,
				OwnPreviousCandidate:    s.lastSelfCandidate(),
				Requirement:             requirement,
				InputDescription:        inputDescription,
				OutputDescription:       outputDescription,
				CapabilityInfoHistory:   s.capHistory,
			})
			s.capHistory = capHistory
			if err != nil {
				log.Error().Err(err).Msg("evaluation exhausted LLM retries")
				s.sendGenericReject(ctx, log)
				return false, err
			}

			if result.Status == protocol.StatusNegotiating && nextSeq > uint32(s.cfg.MaxRounds) {
				log.Warn().Uint32("seq", nextSeq).Int("max_rounds", s.cfg.MaxRounds).Msg("convergence failure: MAX_ROUNDS exceeded")
				s.status = protocol.StatusRejected
				out := protocol.NewNegotiationFrame(nextSeq, "", protocol.StatusRejected, "convergence failure: round limit exceeded")
				_ = s.sendNegotiationFrame(ctx, out)
				return false, fmt.Errorf("session: %w", errs.ErrConvergence)
			}

			s.appendHistory(nextSeq, result.CandidateProtocol, result.ModificationSummary, protocol.AuthorSelf)
			out := protocol.NewNegotiationFrame(nextSeq, result.CandidateProtocol, result.Status, result.ModificationSummary)
			if err := s.sendNegotiationFrame(ctx, out); err != nil {
				log.Error().Err(err).Msg("transport send failed")
				return false, err
			}
			s.peerRound = nextSeq
			log.Info().Uint32("seq", nextSeq).Str("status", string(result.Status)).Msg("sent negotiation round")

			switch result.Status {
			case protocol.StatusAccepted:
				s.status = protocol.StatusAccepted
				s.agreedProtocol = frame.CandidateProtocols
				return true, nil
			case protocol.StatusRejected:
				s.status = protocol.StatusRejected
				return false, nil
			}
			// StatusNegotiating: continue the loop.
		}
	}
}

func (s *Session) sendProtocolErrorReject(ctx context.Context, log zerolog.Logger) {
	s.status = protocol.StatusRejected
	out := protocol.NewNegotiationFrame(s.peerRound+1, "", protocol.StatusRejected, "protocol error")
	if err := s.sendNegotiationFrame(ctx, out); err != nil {
		log.Warn().Err(err).Msg("failed to notify peer of protocol error")
	}
}

func (s *Session) sendGenericReject(ctx context.Context, log zerolog.Logger) {
	s.status = protocol.StatusRejected
	out := protocol.NewNegotiationFrame(s.peerRound+1, "", protocol.StatusRejected, "negotiation failed")
	if err := s.sendNegotiationFrame(ctx, out); err != nil {
		log.Warn().Err(err).Msg("failed to notify peer of rejection")
	}
}

// codeGenHandshake runs the two-frame code-generation ack, only after this
// session's status reached Accepted.
func (s *Session) codeGenHandshake(ctx context.Context, log zerolog.Logger) (bool, string, error) {
	defer s.disposed.Store(true)

	var modulePath string
	codeOk := true
	generated, genErr := s.codegen.Generate(ctx, s.agreedProtocol, s.role, s.cfg.CodePath)
	if genErr != nil {
		codeOk = false
		log.Error().Err(genErr).Msg("code generation failed locally")
	} else {
		modulePath = generated
	}

	out := protocol.NewCodeGenFrame(codeOk)
	data, err := out.Encode()
	if err != nil {
		s.recordOutcome(false)
		return false, "", fmt.Errorf("session: encode codegen frame: %w", err)
	}
	if err := s.send(ctx, data); err != nil {
		s.recordOutcome(false)
		return false, "", fmt.Errorf("session: %w: %v", errs.ErrTransport, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.CodeGenTimeout)
	defer cancel()

	var raw []byte
	select {
	case raw = <-s.codeGenInbox:
	case <-waitCtx.Done():
		s.recordOutcome(false)
		return false, "", fmt.Errorf("session: %w: no codegen ack within timeout", errs.ErrTimeout)
	}

	peerFrame, err := protocol.DecodeCodeGenFrame(raw)
	if err != nil {
		s.recordOutcome(false)
		return false, "", fmt.Errorf("session: %w: %v", errs.ErrProtocol, err)
	}

	overall := codeOk && peerFrame.Success
	log.Info().Bool("local_ok", codeOk).Bool("peer_ok", peerFrame.Success).Bool("overall", overall).Msg("codegen handshake complete")
	if !overall {
		modulePath = ""
	}
	s.recordOutcome(overall)
	if !codeOk {
		return false, "", fmt.Errorf("session: %w: %v", errs.ErrCodeGen, genErr)
	}
	return overall, modulePath, nil
}

func (s *Session) sendNegotiationFrame(ctx context.Context, f protocol.NegotiationFrame) error {
	data, err := f.Encode()
	if err != nil {
		return fmt.Errorf("session: encode negotiation frame: %w", err)
	}
	if err := s.send(ctx, data); err != nil {
		return fmt.Errorf("session: %w: %v", errs.ErrTransport, err)
	}
	s.cfg.Metrics.RoundsTotal.Inc()
	return nil
}

func (s *Session) appendHistory(round uint32, candidate protocol.ProtocolDocument, summary string, by protocol.AuthorSide) {
	s.history = append(s.history, protocol.HistoryEntry{
		Round:               round,
		CandidateProtocol:   candidate,
		ModificationSummary: summary,
		AuthoredBy:          by,
	})
}

func (s *Session) lastSelfCandidate() protocol.ProtocolDocument {
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].AuthoredBy == protocol.AuthorSelf {
			return s.history[i].CandidateProtocol
		}
	}
	return ""
}

func (s *Session) recordOutcome(success bool) {
	status := "failure"
	if success {
		status = "success"
	}
	s.cfg.Metrics.Outcomes.WithLabelValues(status).Inc()
}

// withLLMRetries retries fn up to cfg.LLMRetries additional times, bounding
// each attempt by the configured LLM timeout.
func (s *Session) withLLMRetries(ctx context.Context, fn func(context.Context) (protocol.NegotiationResult, error)) (protocol.NegotiationResult, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.LLMRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.LLMTimeout)
		result, err := fn(callCtx)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt < s.cfg.LLMRetries {
			s.cfg.Metrics.LLMRetriesTotal.Inc()
		}
	}
	return protocol.NegotiationResult{}, lastErr
}

// withLLMEvaluate is withLLMRetries specialized for EvaluateProtocolProposal,
// which returns extra values the generic helper above doesn't carry.
func (s *Session) withLLMEvaluate(ctx context.Context, in negotiator.EvalInput) (protocol.NegotiationResult, uint32, []string, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.LLMRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.LLMTimeout)
		result, nextSeq, capHistory, err := s.negotiator.EvaluateProtocolProposal(callCtx, in)
		cancel()
		if err == nil {
			return result, nextSeq, capHistory, nil
		}
		lastErr = err
		if attempt < s.cfg.LLMRetries {
			s.cfg.Metrics.LLMRetriesTotal.Inc()
		}
	}
	return protocol.NegotiationResult{}, 0, in.CapabilityInfoHistory, lastErr
}
