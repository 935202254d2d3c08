// Package identity provides a reference DID-based identity/handshake
// adapter treated as a pluggable concern: deriving a stable identifier
// from an Ed25519 keypair, and a challenge/response handshake that proves
// key ownership before two peers begin negotiating. The engine depends only
// on the DID string; it never reaches into key material directly.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// DID is a Decentralized Identifier of the form "did:metaproto:<hex(sha256(pubkey))>".
type DID struct {
	Method string
	ID     string

	pubKey  ed25519.PublicKey
	privKey ed25519.PrivateKey
}

// New generates a fresh Ed25519 key-pair and derives a DID from it.
func New() (*DID, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: key generation: %w", err)
	}
	return fromKey(pub, priv), nil
}

// FromPublicKey derives a DID from a raw Ed25519 public key with no private
// half. Use this to model a remote peer whose key you only know from its
// handshake message.
func FromPublicKey(pubKey []byte) (*DID, error) {
	if len(pubKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity: expected %d-byte public key, got %d", ed25519.PublicKeySize, len(pubKey))
	}
	return fromKey(ed25519.PublicKey(pubKey), nil), nil
}

// Parse parses a "did:<method>:<id>" string.
func Parse(s string) (*DID, error) {
	const prefix = "did:"
	if len(s) <= len(prefix) {
		return nil, fmt.Errorf("identity: DID too short %q", s)
	}
	rest := s[len(prefix):]
	for i, c := range rest {
		if c == ':' {
			return &DID{Method: rest[:i], ID: rest[i+1:]}, nil
		}
	}
	return nil, fmt.Errorf("identity: invalid DID format %q", s)
}

func fromKey(pub ed25519.PublicKey, priv ed25519.PrivateKey) *DID {
	h := sha256.Sum256(pub)
	return &DID{
		Method:  "metaproto",
		ID:      hex.EncodeToString(h[:]),
		pubKey:  pub,
		privKey: priv,
	}
}

// String returns the canonical "did:metaproto:<id>" form.
func (d *DID) String() string { return fmt.Sprintf("did:%s:%s", d.Method, d.ID) }

// PublicKey returns a copy of the raw Ed25519 public key, or nil if unknown.
func (d *DID) PublicKey() []byte {
	if d.pubKey == nil {
		return nil
	}
	out := make([]byte, len(d.pubKey))
	copy(out, d.pubKey)
	return out
}

// Sign signs data with the DID's private key. Returns ErrNoPrivateKey if
// only the public half is available.
func (d *DID) Sign(data []byte) ([]byte, error) {
	if d.privKey == nil {
		return nil, ErrNoPrivateKey
	}
	return ed25519.Sign(d.privKey, data), nil
}

// Verify checks that sig is a valid Ed25519 signature of data under this DID's key.
func (d *DID) Verify(data, sig []byte) bool {
	if d.pubKey == nil {
		return false
	}
	return ed25519.Verify(d.pubKey, data, sig)
}

// ValidateBinding confirms that pubKey hashes to this DID's embedded ID.
func (d *DID) ValidateBinding(pubKey []byte) bool {
	h := sha256.Sum256(pubKey)
	return hex.EncodeToString(h[:]) == d.ID
}

// ErrNoPrivateKey is returned when signing is attempted without a private key.
var ErrNoPrivateKey = fmt.Errorf("identity: private key not available")

const challengeSize = 32

// NewChallenge returns a fresh random nonce for a handshake round.
func NewChallenge() ([]byte, error) {
	nonce := make([]byte, challengeSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("identity: nonce generation: %w", err)
	}
	return nonce, nil
}

// Handshake is the message exchanged during identity establishment, carrying
// a self-signed binding proof plus a challenge for the peer to answer.
type Handshake struct {
	DID               string
	PublicKey         []byte
	Challenge         []byte
	ChallengeResponse []byte
}

// StartHandshake builds the initiator's Handshake message, embedding a fresh
// challenge the peer must sign to prove key ownership.
func StartHandshake(self *DID) (Handshake, error) {
	nonce, err := NewChallenge()
	if err != nil {
		return Handshake{}, err
	}
	return Handshake{DID: self.String(), PublicKey: self.PublicKey(), Challenge: nonce}, nil
}

// RespondHandshake validates the initiator's DID/key binding, signs their
// challenge, and returns a response carrying a fresh challenge of our own.
func RespondHandshake(self *DID, incoming Handshake) (Handshake, error) {
	peerDID, err := Parse(incoming.DID)
	if err != nil {
		return Handshake{}, fmt.Errorf("identity: peer DID invalid: %w", err)
	}
	if !peerDID.ValidateBinding(incoming.PublicKey) {
		return Handshake{}, fmt.Errorf("identity: DID/key binding mismatch for %s", incoming.DID)
	}
	sig, err := self.Sign(incoming.Challenge)
	if err != nil {
		return Handshake{}, fmt.Errorf("identity: signing challenge: %w", err)
	}
	nonce, err := NewChallenge()
	if err != nil {
		return Handshake{}, err
	}
	return Handshake{
		DID:               self.String(),
		PublicKey:         self.PublicKey(),
		Challenge:         nonce,
		ChallengeResponse: sig,
	}, nil
}

// FinishHandshake verifies the responder's signature over our original
// challenge, completing the responder's proof of key ownership. The fresh
// challenge carried in response is not answered here, so the initiator's own
// key ownership is not proven by this exchange.
func FinishHandshake(originalChallenge []byte, response Handshake) error {
	peerDID, err := Parse(response.DID)
	if err != nil {
		return fmt.Errorf("identity: peer DID invalid: %w", err)
	}
	if !peerDID.ValidateBinding(response.PublicKey) {
		return fmt.Errorf("identity: DID/key binding mismatch for %s", response.DID)
	}
	d, err := FromPublicKey(response.PublicKey)
	if err != nil {
		return fmt.Errorf("identity: invalid public key: %w", err)
	}
	if !d.Verify(originalChallenge, response.ChallengeResponse) {
		return fmt.Errorf("identity: challenge signature invalid for %s", response.DID)
	}
	return nil
}
