// Package codegen turns an agreed protocol document and a role into
// executable handler source. Real code generation is expected to live
// behind an external generator service; this package pins the calling
// contract and ships a template-based reference implementation so the
// module is runnable end to end without one.
package codegen

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/arcware-labs/metaproto/protocol"
	"google.golang.org/protobuf/encoding/protowire"
)

// Generator turns an agreed protocol document into executable handler
// source. Any error is treated by the session as success=false with the
// error captured for logging.
type Generator interface {
	Generate(ctx context.Context, doc protocol.ProtocolDocument, role protocol.Role, codePath string) (modulePath string, err error)
}

// TemplateGenerator is a reference Generator: it writes a deterministic Go
// handler stub named after a hash of the protocol document, so repeated
// negotiations of the same document produce the same file.
type TemplateGenerator struct{}

// NewTemplateGenerator creates a TemplateGenerator.
func NewTemplateGenerator() *TemplateGenerator { return &TemplateGenerator{} }

// Generate writes codePath/<protocol_hash>.go containing a requester- or
// provider-side handler stub for doc.
func (g *TemplateGenerator) Generate(ctx context.Context, doc protocol.ProtocolDocument, role protocol.Role, codePath string) (string, error) {
	if doc == "" {
		return "", fmt.Errorf("codegen: empty protocol document")
	}
	if err := os.MkdirAll(codePath, 0o755); err != nil {
		return "", fmt.Errorf("codegen: create code path: %w", err)
	}

	hash := protocolHash(doc)
	modulePath := filepath.Join(codePath, hash+".go")

	src := renderHandler(doc, role, hash)
	if hasBinaryTransportHint(doc) {
		src += renderBinaryStub(hash)
	}

	if err := os.WriteFile(modulePath, []byte(src), 0o644); err != nil {
		return "", fmt.Errorf("codegen: write handler: %w", err)
	}
	return modulePath, nil
}

func protocolHash(doc protocol.ProtocolDocument) string {
	sum := sha256.Sum256([]byte(doc))
	return hex.EncodeToString(sum[:])[:16]
}

func hasBinaryTransportHint(doc protocol.ProtocolDocument) bool {
	return strings.Contains(strings.ToLower(string(doc)), "transport: binary")
}

func renderHandler(doc protocol.ProtocolDocument, role protocol.Role, hash string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "// Code generated from negotiated protocol %s. DO NOT EDIT.\n", hash)
	b.WriteString("package generated\n\n")
	switch role {
	case protocol.RoleRequester:
		b.WriteString("// RequesterHandler implements the requester side of the negotiated protocol.\n")
		b.WriteString("type RequesterHandler struct{}\n\n")
		b.WriteString("func (RequesterHandler) Send(payload []byte) ([]byte, error) {\n\tpanic(\"not implemented: fill in per negotiated schema\")\n}\n")
	case protocol.RoleProvider:
		b.WriteString("// ProviderHandler implements the provider side of the negotiated protocol.\n")
		b.WriteString("type ProviderHandler struct{}\n\n")
		b.WriteString("func (ProviderHandler) Handle(payload []byte) ([]byte, error) {\n\tpanic(\"not implemented: fill in per negotiated schema\")\n}\n")
	}
	fmt.Fprintf(&b, "\n/*\nNegotiated protocol document:\n\n%s\n*/\n", doc)
	return b.String()
}

// renderBinaryStub is appended to the JSON handler when the negotiated
// document declares a binary transport hint. It emits a comment and one byte
// slice literal holding the protocol hash pre-encoded with protowire; the
// generated source contains no encode or decode functions.
func renderBinaryStub(hash string) string {
	// Demonstrate the encoder is reachable: encode the protocol hash itself
	// as a single string field, field number 1.
	sample := protowire.AppendTag(nil, 1, protowire.BytesType)
	sample = protowire.AppendString(sample, hash)

	var b strings.Builder
	b.WriteString("\n// Binary transport hint detected; wire codec uses protowire directly.\n")
	fmt.Fprintf(&b, "var sampleEncodedHash = %#v // len=%d\n", sample, len(sample))
	return b.String()
}
