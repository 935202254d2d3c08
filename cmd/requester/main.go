// requester is a CLI demo of the requester side of a meta-protocol
// negotiation: it dials a provider, exchanges DIDs with it, negotiates a wire
// protocol for the given requirement, and on agreement generates its handler
// code and exchanges code-generation acknowledgements with the provider.
//
// Run:
//
//	go run ./cmd/requester -peer /ip4/127.0.0.1/tcp/4001/p2p/<id> -llm-base-url http://localhost:8081
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/arcware-labs/metaproto/codegen"
	"github.com/arcware-labs/metaproto/engine"
	"github.com/arcware-labs/metaproto/identity"
	"github.com/arcware-labs/metaproto/llm"
	"github.com/arcware-labs/metaproto/negotiator"
	"github.com/arcware-labs/metaproto/protocol"
	"github.com/arcware-labs/metaproto/session"
	"github.com/arcware-labs/metaproto/transport"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"
)

func main() {
	listenAddr := flag.String("listen", "/ip4/127.0.0.1/tcp/0", "libp2p listen multiaddr")
	peerAddr := flag.String("peer", "", "provider's libp2p multiaddr, including /p2p/<id>")
	llmBaseURL := flag.String("llm-base-url", "", "LLM HTTP endpoint base URL")
	llmAPIKey := flag.String("llm-api-key", "", "LLM API key")
	llmModel := flag.String("llm-model", "", "LLM model identifier")
	codePath := flag.String("code-path", "./generated/requester", "directory generated handler code is written under")
	requirement := flag.String("requirement", "Exchange a single request/response of opaque bytes.", "natural-language requirement for the desired protocol")
	inputDesc := flag.String("input-desc", "raw bytes", "description of the input the requester will send")
	outputDesc := flag.String("output-desc", "raw bytes", "description of the output the requester expects")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline for the negotiation")
	flag.Parse()

	if *peerAddr == "" {
		log.Fatal("requester: -peer is required")
	}
	if *llmBaseURL == "" {
		log.Fatal("requester: -llm-base-url is required")
	}

	logger := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Str("role", "requester").Logger()

	self, err := identity.New()
	if err != nil {
		log.Fatalf("requester: generate identity: %v", err)
	}
	fmt.Printf("requester DID: %s\n", self.String())

	host, err := transport.NewHost(*listenAddr)
	if err != nil {
		log.Fatalf("requester: start transport: %v", err)
	}
	defer host.Close()

	info, err := parseAddrInfo(*peerAddr)
	if err != nil {
		log.Fatalf("requester: parse -peer: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	duplex, err := host.Dial(ctx, info)
	if err != nil {
		log.Fatalf("requester: dial provider: %v", err)
	}
	defer duplex.Close()

	peerDID, err := performHandshake(ctx, duplex, self)
	if err != nil {
		log.Fatalf("requester: handshake: %v", err)
	}
	fmt.Printf("provider DID: %s\n", peerDID)

	llmClient := llm.NewHTTPClient(*llmBaseURL, llm.WithAPIKey(*llmAPIKey), llm.WithModel(*llmModel))
	cfg := engine.NewConfig(llmClient, *codePath, engine.WithLogger(logger))
	neg := negotiator.New(llmClient, nil)

	sess := session.New(protocol.RoleRequester, peerDID, func(ctx context.Context, f []byte) error {
		return duplex.Send(ctx, f)
	}, neg, codegen.NewTemplateGenerator(), cfg)

	go func() {
		for raw := range duplex.Recv() {
			if err := sess.Deliver(raw); err != nil {
				logger.Warn().Err(err).Msg("failed to deliver inbound frame")
			}
		}
	}()

	ok, modulePath, err := sess.NegotiateProtocol(ctx, *requirement, *inputDesc, *outputDesc)
	if err != nil {
		logger.Error().Err(err).Msg("negotiation failed")
	}
	if !ok {
		fmt.Println("negotiation did not converge; exiting non-zero")
		os.Exit(1)
	}
	fmt.Printf("negotiation succeeded; generated handler at %s\n", modulePath)
}

func parseAddrInfo(addr string) (peer.AddrInfo, error) {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("invalid multiaddr: %w", err)
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("extract peer info: %w", err)
	}
	return *info, nil
}

// performHandshake runs the DID challenge/response over duplex before any
// PROTOCOL_NEGOTIATION frame is sent: it sends one handshake frame and
// consumes exactly one frame, the provider's response, from duplex.Recv().
func performHandshake(ctx context.Context, d transport.Duplex, self *identity.DID) (string, error) {
	hs, err := identity.StartHandshake(self)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(hs)
	if err != nil {
		return "", err
	}
	if err := d.Send(ctx, data); err != nil {
		return "", fmt.Errorf("send handshake: %w", err)
	}

	select {
	case raw := <-d.Recv():
		var resp identity.Handshake
		if err := json.Unmarshal(raw, &resp); err != nil {
			return "", fmt.Errorf("decode handshake response: %w", err)
		}
		if err := identity.FinishHandshake(hs.Challenge, resp); err != nil {
			return "", err
		}
		return resp.DID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
