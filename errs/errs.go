// Package errs defines the error taxonomy shared by the negotiation engine.
//
// Every sentinel here corresponds to one row of the error taxonomy: callers
// wrap it with fmt.Errorf("...: %w", ErrX) so errors.Is still matches while
// the message carries local context, the same convention the identity and
// transport packages use for DID and stream errors.
package errs

import "errors"

var (
	// ErrLLM marks an unparseable or schema-invalid LLM response.
	ErrLLM = errors.New("llm error")

	// ErrProtocol marks an out-of-sequence frame, unknown status, or
	// duplicate acceptance observed on the wire.
	ErrProtocol = errors.New("protocol error")

	// ErrTransport marks a send/receive failure at the transport layer.
	ErrTransport = errors.New("transport error")

	// ErrTimeout marks expiry of a round, LLM, or code-gen deadline.
	ErrTimeout = errors.New("timeout")

	// ErrCodeGen marks a code-generator failure. Not fatal to the wire
	// handshake by itself — the peer still receives success=false — but it
	// fails the overall session result.
	ErrCodeGen = errors.New("codegen error")

	// ErrConvergence marks MAX_ROUNDS exhaustion without a terminal status.
	ErrConvergence = errors.New("convergence failure")

	// ErrSessionDisposed is returned when an operation is attempted on a
	// session that has finished: its negotiation failed, or it completed its
	// code-generation handshake.
	ErrSessionDisposed = errors.New("session disposed")
)
