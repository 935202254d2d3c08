package mux_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/arcware-labs/metaproto/codegen"
	"github.com/arcware-labs/metaproto/engine"
	"github.com/arcware-labs/metaproto/llm"
	"github.com/arcware-labs/metaproto/mux"
	"github.com/arcware-labs/metaproto/negotiator"
	"github.com/arcware-labs/metaproto/protocol"
	"github.com/arcware-labs/metaproto/session"
	"github.com/rs/zerolog"
)

type scriptedLLM struct {
	responses []string
	i         int
}

func (s *scriptedLLM) GenerateResponse(ctx context.Context, systemPrompt, userPrompt string, messages []llm.Message) (string, error) {
	if s.i >= len(s.responses) {
		return "", fmt.Errorf("scriptedLLM: exhausted")
	}
	r := s.responses[s.i]
	s.i++
	return r, nil
}

func acceptJSON() string { return "```json\n{\"status\":\"accepted\"}\n```" }

func waitForEmpty(t *testing.T, m *mux.Multiplexer, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(m.Snapshot()) == 0 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for session to be deregistered")
}

func TestHandleInboundCreatesProviderSessionLazily(t *testing.T) {
	sentCh := make(chan []byte, 4)
	cfg := engine.NewConfig(nil, t.TempDir(),
		engine.WithRoundTimeout(time.Second),
		engine.WithCodeGenTimeout(time.Second),
	)

	newProviderSession := func(peerDID string) *session.Session {
		neg := negotiator.New(&scriptedLLM{responses: []string{acceptJSON()}}, nil)
		return session.New(protocol.RoleProvider, peerDID, func(ctx context.Context, f []byte) error {
			sentCh <- f
			return nil
		}, neg, codegen.NewTemplateGenerator(), cfg)
	}

	m := mux.New(newProviderSession, zerolog.Nop())

	initial := protocol.NewNegotiationFrame(1, protocol.ProtocolDocument("# doc\nrequest/response"), protocol.StatusNegotiating, "")
	data, err := initial.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := m.HandleInbound("requester-did", data); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	select {
	case negFrameRaw := <-sentCh:
		negFrame, err := protocol.DecodeNegotiationFrame(negFrameRaw)
		if err != nil {
			t.Fatalf("decode negotiation frame: %v", err)
		}
		if negFrame.Status != protocol.StatusAccepted {
			t.Fatalf("expected accepted, got %s", negFrame.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for provider's accept frame")
	}

	select {
	case cgFrameRaw := <-sentCh:
		cgFrame, err := protocol.DecodeCodeGenFrame(cgFrameRaw)
		if err != nil {
			t.Fatalf("decode codegen frame: %v", err)
		}
		if !cgFrame.Success {
			t.Fatal("expected provider codegen to succeed")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for provider's codegen frame")
	}

	if snap := m.Snapshot(); len(snap) != 1 {
		t.Fatalf("expected one in-flight session, got %d", len(snap))
	}

	ack := protocol.NewCodeGenFrame(true)
	ackData, _ := ack.Encode()
	if err := m.HandleInbound("requester-did", ackData); err != nil {
		t.Fatalf("HandleInbound ack: %v", err)
	}

	waitForEmpty(t, m, time.Second)
}

func TestHandleInboundDropsReservedFrameKinds(t *testing.T) {
	m := mux.New(nil, zerolog.Nop())
	nl := protocol.NaturalLanguageFrame{MessageType: protocol.KindNaturalLanguageNegotiation, Text: "hello"}
	data, err := nl.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := m.HandleInbound("some-did", data); err != nil {
		t.Fatalf("expected reserved frame kinds to be dropped without error, got %v", err)
	}
	if snap := m.Snapshot(); len(snap) != 0 {
		t.Fatalf("expected no session to be created for a reserved frame, got %d", len(snap))
	}
}

func TestHandleInboundWithoutFactoryRejectsUnknownPeer(t *testing.T) {
	m := mux.New(nil, zerolog.Nop())
	frame := protocol.NewNegotiationFrame(1, protocol.ProtocolDocument("# doc"), protocol.StatusNegotiating, "")
	data, _ := frame.Encode()
	if err := m.HandleInbound("unknown-did", data); err == nil {
		t.Fatal("expected an error with no provider-session factory configured")
	}
}

func TestRegisterRoutesToExistingSession(t *testing.T) {
	cfg := engine.NewConfig(nil, t.TempDir())
	neg := negotiator.New(&scriptedLLM{}, nil)
	sess := session.New(protocol.RoleProvider, "peer-did", func(ctx context.Context, f []byte) error { return nil }, neg, codegen.NewTemplateGenerator(), cfg)

	m := mux.New(nil, zerolog.Nop())
	m.Register("peer-did", sess)

	frame := protocol.NewNegotiationFrame(1, protocol.ProtocolDocument("# doc"), protocol.StatusNegotiating, "")
	data, _ := frame.Encode()
	if err := m.HandleInbound("peer-did", data); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	m.Deregister("peer-did")
	if snap := m.Snapshot(); len(snap) != 0 {
		t.Fatalf("expected no sessions after deregister, got %d", len(snap))
	}
}
