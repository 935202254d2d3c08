package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/arcware-labs/metaproto/transport"
)

func makeHost(t *testing.T) *transport.Host {
	t.Helper()
	h, err := transport.NewHost("/ip4/127.0.0.1/tcp/0")
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestLibp2pDuplexRoundTrip(t *testing.T) {
	hA := makeHost(t)
	hB := makeHost(t)

	received := make(chan []byte, 1)
	hB.OnInboundStream(func(d transport.Duplex) {
		go func() {
			for msg := range d.Recv() {
				received <- msg
			}
		}()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	duplexA, err := hA.Dial(ctx, hB.AddrInfo())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer duplexA.Close()

	if err := duplexA.Send(ctx, []byte(`{"messageType":"protocolNegotiation"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-received:
		if !strings.Contains(string(msg), "protocolNegotiation") {
			t.Errorf("unexpected payload: %s", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for inbound frame")
	}
}

func TestWebSocketDuplexRoundTrip(t *testing.T) {
	var serverDuplex transport.Duplex
	ready := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := transport.UpgradeWS(w, r)
		if err != nil {
			t.Errorf("UpgradeWS: %v", err)
			return
		}
		serverDuplex = d
		close(ready)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clientDuplex, err := transport.DialWS(ctx, wsURL)
	if err != nil {
		t.Fatalf("DialWS: %v", err)
	}
	defer clientDuplex.Close()

	select {
	case <-ready:
	case <-time.After(3 * time.Second):
		t.Fatal("server never completed the upgrade")
	}

	if err := clientDuplex.Send(ctx, []byte(`{"messageType":"codeGeneration","success":true}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-serverDuplex.Recv():
		if !strings.Contains(string(msg), "codeGeneration") {
			t.Errorf("unexpected payload: %s", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for inbound frame")
	}
}
