package negotiator_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/arcware-labs/metaproto/llm"
	"github.com/arcware-labs/metaproto/negotiator"
	"github.com/arcware-labs/metaproto/protocol"
)

// scriptedLLM returns each entry of responses in order, regardless of prompt,
// and records every call it receives.
type scriptedLLM struct {
	responses []string
	calls     int
}

func (s *scriptedLLM) GenerateResponse(ctx context.Context, systemPrompt, userPrompt string, messages []llm.Message) (string, error) {
	if s.calls >= len(s.responses) {
		return "", fmt.Errorf("scriptedLLM: exhausted %d scripted responses", len(s.responses))
	}
	r := s.responses[s.calls]
	s.calls++
	return r, nil
}

func TestGenerateInitialProtocol(t *testing.T) {
	fake := &scriptedLLM{responses: []string{"Sure, here it is:\n```\n# Protocol\nEcho v1\n```\nLet me know."}}
	n := negotiator.New(fake, nil)

	result, err := n.GenerateInitialProtocol(context.Background(), "echo", "{text:string}", "{text:string}")
	if err != nil {
		t.Fatalf("GenerateInitialProtocol failed: %v", err)
	}
	if result.Status != protocol.StatusNegotiating {
		t.Errorf("Status: got %v want %v", result.Status, protocol.StatusNegotiating)
	}
	if result.CandidateProtocol != "# Protocol\nEcho v1" {
		t.Errorf("CandidateProtocol: got %q", result.CandidateProtocol)
	}
}

func TestGenerateInitialProtocolNoFenceIsLLMError(t *testing.T) {
	fake := &scriptedLLM{responses: []string{"I refuse to produce a protocol."}}
	n := negotiator.New(fake, nil)

	if _, err := n.GenerateInitialProtocol(context.Background(), "echo", "x", "y"); err == nil {
		t.Fatal("expected error when no fenced block is present")
	}
}

func TestEvaluateProtocolProposalRequesterAccepts(t *testing.T) {
	fake := &scriptedLLM{responses: []string{
		"```json\n{\"status\":\"accepted\",\"candidate_protocol\":\"\",\"modification_summary\":\"lgtm\"}\n```",
	}}
	n := negotiator.New(fake, nil)

	result, nextSeq, _, err := n.EvaluateProtocolProposal(context.Background(), negotiator.EvalInput{
		Role:                    negotiator.RoleRequester,
		PeerRound:               2,
		PeerCandidate:           "# Protocol v2",
		PeerModificationSummary: "added userId",
		Requirement:             "echo",
		InputDescription:        "{text:string}",
		OutputDescription:       "{text:string}",
	})
	if err != nil {
		t.Fatalf("EvaluateProtocolProposal failed: %v", err)
	}
	if result.Status != protocol.StatusAccepted {
		t.Errorf("Status: got %v want accepted", result.Status)
	}
	if nextSeq != 3 {
		t.Errorf("nextSeq: got %d want 3", nextSeq)
	}
}

func TestEvaluateProtocolProposalProviderUsesCapabilityTool(t *testing.T) {
	fake := &scriptedLLM{responses: []string{
		"```tool_call\n{\"tool\":\"get_capability_info\",\"requirement\":\"echo\",\"input_description\":\"x\",\"output_description\":\"y\"}\n```",
		"```json\n{\"status\":\"negotiating\",\"candidate_protocol\":\"# revised\",\"modification_summary\":\"tightened schema\"}\n```",
	}}

	var capCalls int
	capInfo := func(ctx context.Context, requirement, inputDesc, outputDesc string) (string, error) {
		capCalls++
		if requirement != "echo" {
			t.Errorf("capability callback requirement: got %q want echo", requirement)
		}
		return "supports echo with utf8 payloads", nil
	}

	n := negotiator.New(fake, capInfo)
	result, nextSeq, capHistory, err := n.EvaluateProtocolProposal(context.Background(), negotiator.EvalInput{
		Role:                    negotiator.RoleProvider,
		PeerRound:               1,
		PeerCandidate:           "# Protocol v1",
		PeerModificationSummary: "",
	})
	if err != nil {
		t.Fatalf("EvaluateProtocolProposal failed: %v", err)
	}
	if capCalls != 1 {
		t.Fatalf("expected exactly one capability-info call, got %d", capCalls)
	}
	if len(capHistory) != 1 || capHistory[0] != "supports echo with utf8 payloads" {
		t.Errorf("capHistory: got %v", capHistory)
	}
	if result.Status != protocol.StatusNegotiating {
		t.Errorf("Status: got %v want negotiating", result.Status)
	}
	if nextSeq != 2 {
		t.Errorf("nextSeq: got %d want 2", nextSeq)
	}
}

func TestEvaluateProtocolProposalInvalidJSONIsLLMError(t *testing.T) {
	fake := &scriptedLLM{responses: []string{"```json\n{not json}\n```"}}
	n := negotiator.New(fake, nil)

	if _, _, _, err := n.EvaluateProtocolProposal(context.Background(), negotiator.EvalInput{Role: negotiator.RoleRequester, PeerRound: 1}); err == nil {
		t.Fatal("expected error for malformed JSON result")
	}
}

func TestEvaluateProtocolProposalInvariantViolationIsLLMError(t *testing.T) {
	// Negotiating status but empty candidate_protocol violates the invariant.
	fake := &scriptedLLM{responses: []string{
		"```json\n{\"status\":\"negotiating\",\"candidate_protocol\":\"\",\"modification_summary\":\"oops\"}\n```",
	}}
	n := negotiator.New(fake, nil)

	if _, _, _, err := n.EvaluateProtocolProposal(context.Background(), negotiator.EvalInput{Role: negotiator.RoleRequester, PeerRound: 1}); err == nil {
		t.Fatal("expected error for invariant-violating result")
	}
}
