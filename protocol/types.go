// Package protocol defines the meta-protocol's own wire format: the
// NegotiationStatus/Role/HistoryEntry data model and its JSON framing. It
// is deliberately small and free of I/O — encoding only.
package protocol

import (
	"encoding/json"
	"fmt"
)

// NegotiationStatus is the tagged status carried by a NegotiationResult and
// by every PROTOCOL_NEGOTIATION frame. Accepted and Rejected are terminal.
type NegotiationStatus string

const (
	StatusNegotiating NegotiationStatus = "negotiating"
	StatusAccepted    NegotiationStatus = "accepted"
	StatusRejected    NegotiationStatus = "rejected"
)

// Terminal reports whether status admits no further PROTOCOL_NEGOTIATION frames.
func (s NegotiationStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Valid reports whether s is one of the three defined statuses.
func (s NegotiationStatus) Valid() bool {
	switch s {
	case StatusNegotiating, StatusAccepted, StatusRejected:
		return true
	default:
		return false
	}
}

// Role distinguishes the two negotiation parties.
type Role string

const (
	RoleRequester Role = "requester"
	RoleProvider  Role = "provider"
)

// AuthorSide records who authored a HistoryEntry.
type AuthorSide string

const (
	AuthorSelf AuthorSide = "self"
	AuthorPeer AuthorSide = "peer"
)

// ProtocolDocument is an opaque Markdown protocol document. The engine never
// inspects its contents; only the negotiator does, indirectly, via the LLM.
type ProtocolDocument string

// HistoryEntry is one append-only entry of a session's negotiation history.
type HistoryEntry struct {
	Round               uint32
	CandidateProtocol   ProtocolDocument
	ModificationSummary string
	AuthoredBy          AuthorSide
}

// NegotiationResult is the strictly validated output of an LLM negotiation
// round, whether producing the initial proposal or evaluating a peer's.
type NegotiationResult struct {
	Status              NegotiationStatus
	CandidateProtocol   ProtocolDocument
	ModificationSummary string
}

// Validate enforces the invariant: CandidateProtocol is non-empty iff status
// is Negotiating.
func (r NegotiationResult) Validate() error {
	if !r.Status.Valid() {
		return fmt.Errorf("protocol: invalid status %q", r.Status)
	}
	hasCandidate := r.CandidateProtocol != ""
	if r.Status == StatusNegotiating && !hasCandidate {
		return fmt.Errorf("protocol: negotiating result must carry a candidate protocol")
	}
	if r.Status != StatusNegotiating && hasCandidate {
		return fmt.Errorf("protocol: %s result must not carry a candidate protocol", r.Status)
	}
	return nil
}

// MessageKind identifies the kind of a framed meta-protocol message.
type MessageKind string

const (
	KindProtocolNegotiation        MessageKind = "protocolNegotiation"
	KindCodeGeneration             MessageKind = "codeGeneration"
	KindTestCasesNegotiation       MessageKind = "testCasesNegotiation"
	KindFixErrorNegotiation        MessageKind = "fixErrorNegotiation"
	KindNaturalLanguageNegotiation MessageKind = "naturalLanguageNegotiation"
)

// kindPeek is used only to read the discriminator field out of an otherwise
// unknown frame before dispatching to a concrete decoder.
type kindPeek struct {
	MessageType MessageKind `json:"messageType"`
}

// PeekKind reads the messageType discriminator out of raw frame bytes
// without fully decoding the frame. Used by the multiplexer to route.
func PeekKind(raw []byte) (MessageKind, error) {
	var k kindPeek
	if err := json.Unmarshal(raw, &k); err != nil {
		return "", fmt.Errorf("protocol: peek kind: %w", err)
	}
	if k.MessageType == "" {
		return "", fmt.Errorf("protocol: missing messageType field")
	}
	return k.MessageType, nil
}
