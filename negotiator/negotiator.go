// Package negotiator implements the stateless-ish evaluator that asks
// the LLM to produce or judge a protocol proposal. It owns no session state
// of its own — the caller (session) supplies history and the negotiator
// returns a validated result, keeping all retry and ordering logic in the
// session driver.
package negotiator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arcware-labs/metaproto/errs"
	"github.com/arcware-labs/metaproto/extract"
	"github.com/arcware-labs/metaproto/llm"
	"github.com/arcware-labs/metaproto/protocol"
)

// CapabilityInfoFunc resolves a get_capability_info tool call. Only used on
// the provider side; nil on the requester side.
type CapabilityInfoFunc func(ctx context.Context, requirement, inputDescription, outputDescription string) (string, error)

const maxToolCallRounds = 3

// Negotiator is pure except for the LLM call and, on the provider side, the
// injected capability-info callback.
type Negotiator struct {
	llm               llm.Client
	getCapabilityInfo CapabilityInfoFunc
}

// New creates a Negotiator. capInfo may be nil for a requester-role negotiator.
func New(client llm.Client, capInfo CapabilityInfoFunc) *Negotiator {
	return &Negotiator{llm: client, getCapabilityInfo: capInfo}
}

// GenerateInitialProtocol prompts the LLM with the protocol-designer system
// prompt and emits the first Markdown protocol document. Only called by the
// requester. Returns (result, nil) with result.Status == Negotiating on
// success.
func (n *Negotiator) GenerateInitialProtocol(ctx context.Context, requirement, inputDescription, outputDescription string) (protocol.NegotiationResult, error) {
	userPrompt := fmt.Sprintf(
		"Requirement:\n%s\n\nInput description:\n%s\n\nOutput description:\n%s\n",
		requirement, inputDescription, outputDescription,
	)
	text, err := n.llm.GenerateResponse(ctx, protocolDesignerSystemPrompt, userPrompt, nil)
	if err != nil {
		return protocol.NegotiationResult{}, fmt.Errorf("negotiator: generate initial protocol: %w: %v", errs.ErrLLM, err)
	}
	doc := extract.Block(text, extract.LangAny)
	if doc == extract.None {
		return protocol.NegotiationResult{}, fmt.Errorf("negotiator: generate initial protocol: %w: no fenced protocol document in response", errs.ErrLLM)
	}
	result := protocol.NegotiationResult{
		Status:            protocol.StatusNegotiating,
		CandidateProtocol: protocol.ProtocolDocument(doc),
	}
	if err := result.Validate(); err != nil {
		return protocol.NegotiationResult{}, fmt.Errorf("negotiator: generate initial protocol: %w: %v", errs.ErrLLM, err)
	}
	return result, nil
}

// EvalInput carries everything EvaluateProtocolProposal needs to judge a
// peer's candidate. Only the fields relevant to Role need be populated.
type EvalInput struct {
	Role Role

	PeerRound               uint32
	PeerCandidate           protocol.ProtocolDocument
	PeerModificationSummary string

	// OwnPreviousCandidate is the agent's own last proposal from history, if any.
	OwnPreviousCandidate protocol.ProtocolDocument

	// Requester-only.
	Requirement       string
	InputDescription  string
	OutputDescription string

	// Provider-only: accumulated capability-info responses from prior rounds,
	// oldest first. EvaluateProtocolProposal appends to a copy and returns it.
	CapabilityInfoHistory []string
}

// Role mirrors protocol.Role to keep this package's public API
// self-contained; the two are interchangeable by value.
type Role = protocol.Role

const (
	RoleRequester = protocol.RoleRequester
	RoleProvider  = protocol.RoleProvider
)

// EvaluateProtocolProposal prompts the LLM with the role-specific
// negotiation-expert system prompt and returns the validated result together
// with the next outbound sequence number (peerRound + 1) and the, possibly
// extended, capability-info history.
func (n *Negotiator) EvaluateProtocolProposal(ctx context.Context, in EvalInput) (protocol.NegotiationResult, uint32, []string, error) {
	capHistory := append([]string(nil), in.CapabilityInfoHistory...)

	systemPrompt := requesterNegotiationExpertPrompt
	if in.Role == RoleProvider {
		systemPrompt = providerNegotiationExpertPrompt
	}

	messages := []llm.Message{{Role: llm.RoleUser, Content: n.buildEvaluationPrompt(in, capHistory)}}

	for round := 0; round < maxToolCallRounds; round++ {
		text, err := n.llm.GenerateResponse(ctx, systemPrompt, "", messages)
		if err != nil {
			return protocol.NegotiationResult{}, 0, capHistory, fmt.Errorf("negotiator: evaluate proposal: %w: %v", errs.ErrLLM, err)
		}

		if in.Role == RoleProvider {
			if call, ok := parseToolCall(text); ok {
				if n.getCapabilityInfo == nil {
					return protocol.NegotiationResult{}, 0, capHistory, fmt.Errorf("negotiator: evaluate proposal: %w: tool call with no capability-info callback configured", errs.ErrLLM)
				}
				info, err := n.getCapabilityInfo(ctx, call.Requirement, call.InputDescription, call.OutputDescription)
				if err != nil {
					return protocol.NegotiationResult{}, 0, capHistory, fmt.Errorf("negotiator: capability info callback: %w: %v", errs.ErrLLM, err)
				}
				capHistory = append(capHistory, info)
				messages = append(messages,
					llm.Message{Role: llm.RoleAssistant, Content: text},
					llm.Message{Role: llm.RoleUser, Content: "Tool result for get_capability_info:\n" + info},
				)
				continue
			}
		}

		raw := extract.Block(text, extract.LangJSON)
		if raw == extract.None {
			return protocol.NegotiationResult{}, 0, capHistory, fmt.Errorf("negotiator: evaluate proposal: %w: no fenced JSON result in response", errs.ErrLLM)
		}
		var parsed struct {
			Status              protocol.NegotiationStatus `json:"status"`
			CandidateProtocol   string                     `json:"candidate_protocol"`
			ModificationSummary string                     `json:"modification_summary"`
		}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return protocol.NegotiationResult{}, 0, capHistory, fmt.Errorf("negotiator: evaluate proposal: %w: %v", errs.ErrLLM, err)
		}
		result := protocol.NegotiationResult{
			Status:              parsed.Status,
			CandidateProtocol:   protocol.ProtocolDocument(parsed.CandidateProtocol),
			ModificationSummary: parsed.ModificationSummary,
		}
		if err := result.Validate(); err != nil {
			return protocol.NegotiationResult{}, 0, capHistory, fmt.Errorf("negotiator: evaluate proposal: %w: %v", errs.ErrLLM, err)
		}
		return result, in.PeerRound + 1, capHistory, nil
	}

	return protocol.NegotiationResult{}, 0, capHistory, fmt.Errorf("negotiator: evaluate proposal: %w: exceeded %d tool-call rounds without a result", errs.ErrLLM, maxToolCallRounds)
}

func (n *Negotiator) buildEvaluationPrompt(in EvalInput, capHistory []string) string {
	var b strings.Builder
	if in.Role == RoleRequester {
		fmt.Fprintf(&b, "Original requirement:\n%s\n\nInput description:\n%s\n\nOutput description:\n%s\n\n",
			in.Requirement, in.InputDescription, in.OutputDescription)
	} else {
		b.WriteString("Capability-info history (oldest first):\n")
		if len(capHistory) == 0 {
			b.WriteString("(none yet)\n")
		}
		for i, info := range capHistory {
			fmt.Fprintf(&b, "%d. %s\n", i+1, info)
		}
		b.WriteString("\n")
	}
	if in.OwnPreviousCandidate != "" {
		fmt.Fprintf(&b, "Your previous proposal:\n%s\n\n", in.OwnPreviousCandidate)
	}
	fmt.Fprintf(&b, "Peer's latest candidate protocol (round %d):\n%s\n\nPeer's modification summary:\n%s\n",
		in.PeerRound, in.PeerCandidate, in.PeerModificationSummary)
	return b.String()
}

type toolCall struct {
	Tool              string `json:"tool"`
	Requirement       string `json:"requirement"`
	InputDescription  string `json:"input_description"`
	OutputDescription string `json:"output_description"`
}

func parseToolCall(text string) (toolCall, bool) {
	raw := extract.Block(text, extract.Lang("tool_call"))
	if raw == extract.None {
		return toolCall{}, false
	}
	var call toolCall
	if err := json.Unmarshal([]byte(raw), &call); err != nil {
		return toolCall{}, false
	}
	if call.Tool != "get_capability_info" {
		return toolCall{}, false
	}
	return call, true
}
