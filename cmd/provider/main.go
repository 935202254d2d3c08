// provider is a CLI demo of the provider side of a meta-protocol
// negotiation: it listens for inbound connections, proves its identity to
// each peer, then waits for and evaluates protocol proposals until one is
// agreed or negotiation fails.
//
// Run:
//
//	go run ./cmd/provider -listen /ip4/127.0.0.1/tcp/4001 -llm-base-url http://localhost:8081
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/arcware-labs/metaproto/codegen"
	"github.com/arcware-labs/metaproto/engine"
	"github.com/arcware-labs/metaproto/identity"
	"github.com/arcware-labs/metaproto/llm"
	"github.com/arcware-labs/metaproto/mux"
	"github.com/arcware-labs/metaproto/negotiator"
	"github.com/arcware-labs/metaproto/protocol"
	"github.com/arcware-labs/metaproto/session"
	"github.com/arcware-labs/metaproto/transport"
	"github.com/rs/zerolog"
)

func main() {
	listenAddr := flag.String("listen", "/ip4/127.0.0.1/tcp/0", "libp2p listen multiaddr")
	llmBaseURL := flag.String("llm-base-url", "", "LLM HTTP endpoint base URL")
	llmAPIKey := flag.String("llm-api-key", "", "LLM API key")
	llmModel := flag.String("llm-model", "", "LLM model identifier")
	codePath := flag.String("code-path", "./generated/provider", "directory generated handler code is written under")
	capabilities := flag.String("capabilities", "echo,byte-passthrough", "comma-separated list of capabilities this provider advertises")
	flag.Parse()

	if *llmBaseURL == "" {
		log.Fatal("provider: -llm-base-url is required")
	}

	logger := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Str("role", "provider").Logger()
	caps := strings.Split(*capabilities, ",")

	self, err := identity.New()
	if err != nil {
		log.Fatalf("provider: generate identity: %v", err)
	}
	fmt.Printf("provider DID: %s\n", self.String())

	host, err := transport.NewHost(*listenAddr)
	if err != nil {
		log.Fatalf("provider: start transport: %v", err)
	}
	defer host.Close()

	addr := host.AddrInfo()
	fmt.Printf("provider listening; dial with -peer %s/p2p/%s\n", addr.Addrs[0], addr.ID)

	llmClient := llm.NewHTTPClient(*llmBaseURL, llm.WithAPIKey(*llmAPIKey), llm.WithModel(*llmModel))
	cfg := engine.NewConfig(llmClient, *codePath, engine.WithLogger(logger))

	capInfo := func(ctx context.Context, requirement, inputDescription, outputDescription string) (string, error) {
		return fmt.Sprintf("This provider supports: %s. Declared input: %s. Declared output: %s.",
			strings.Join(caps, ", "), inputDescription, outputDescription), nil
	}

	m := mux.New(nil, logger)

	host.OnInboundStream(func(d transport.Duplex) {
		peerDID, err := respondToHandshake(context.Background(), d, self)
		if err != nil {
			logger.Warn().Err(err).Msg("handshake failed; dropping connection")
			_ = d.Close()
			return
		}
		logger.Info().Str("peer", peerDID).Msg("handshake complete")

		neg := negotiator.New(llmClient, capInfo)
		sess := session.New(protocol.RoleProvider, peerDID, func(ctx context.Context, f []byte) error {
			return d.Send(ctx, f)
		}, neg, codegen.NewTemplateGenerator(), cfg)
		m.Register(peerDID, sess)

		go func() {
			for raw := range d.Recv() {
				if err := sess.Deliver(raw); err != nil {
					logger.Warn().Err(err).Msg("failed to deliver inbound frame")
				}
			}
		}()

		ok, modulePath, err := sess.WaitRemoteNegotiation(context.Background())
		m.Deregister(peerDID)
		ev := logger.Info()
		if err != nil {
			ev = logger.Warn()
		}
		ev.Str("peer", peerDID).Bool("success", ok).Str("module_path", modulePath).Msg("negotiation finished")
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	fmt.Println("provider shutting down")
}

func respondToHandshake(ctx context.Context, d transport.Duplex, self *identity.DID) (string, error) {
	select {
	case raw := <-d.Recv():
		var incoming identity.Handshake
		if err := json.Unmarshal(raw, &incoming); err != nil {
			return "", fmt.Errorf("decode handshake: %w", err)
		}
		resp, err := identity.RespondHandshake(self, incoming)
		if err != nil {
			return "", err
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return "", err
		}
		if err := d.Send(ctx, data); err != nil {
			return "", fmt.Errorf("send handshake response: %w", err)
		}
		return incoming.DID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
