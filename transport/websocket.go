package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// wsDuplex adapts a gorilla/websocket connection to Duplex. WebSocket
// already frames messages, so unlike streamDuplex it needs no length
// prefix of its own.
type wsDuplex struct {
	conn    *websocket.Conn
	recvCh  chan []byte
	writeMu sync.Mutex
}

func newWSDuplex(conn *websocket.Conn) *wsDuplex {
	d := &wsDuplex{conn: conn, recvCh: make(chan []byte, 16)}
	go d.readLoop()
	return d
}

func (d *wsDuplex) readLoop() {
	defer close(d.recvCh)
	for {
		_, data, err := d.conn.ReadMessage()
		if err != nil {
			return
		}
		d.recvCh <- data
	}
}

func (d *wsDuplex) Send(ctx context.Context, data []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = d.conn.SetWriteDeadline(deadline)
	}
	if err := d.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("transport: websocket send: %w", err)
	}
	return nil
}

func (d *wsDuplex) Recv() <-chan []byte { return d.recvCh }

func (d *wsDuplex) Close() error { return d.conn.Close() }

// DialWS opens a client-side WebSocket connection to url and wraps it as a Duplex.
func DialWS(ctx context.Context, url string) (Duplex, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial websocket: %w", err)
	}
	return newWSDuplex(conn), nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// UpgradeWS upgrades an inbound HTTP request to a WebSocket connection and
// wraps it as a Duplex. Intended for use inside an http.HandlerFunc the host
// registers for its negotiation endpoint.
func UpgradeWS(w http.ResponseWriter, r *http.Request) (Duplex, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: upgrade websocket: %w", err)
	}
	return newWSDuplex(conn), nil
}
