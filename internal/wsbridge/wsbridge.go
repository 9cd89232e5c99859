// Package wsbridge exposes the NNTP port over WebSocket, for clients (a
// browser-based reader, for instance) that cannot open a raw TCP socket.
// Each accepted WebSocket connection is spliced onto a fresh TCP
// connection to the server's own plain NNTP listener; frames move
// byte-for-byte in both directions.
package wsbridge

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Bridge listens for WebSocket connections and relays each one to the
// NNTP server's plain-text address.
type Bridge struct {
	nntpAddr string
	listener net.Listener

	mu      sync.Mutex
	running bool
}

// New builds a Bridge that dials nntpAddr ("host:port") for every accepted
// WebSocket connection.
func New(nntpAddr string) *Bridge {
	return &Bridge{nntpAddr: nntpAddr}
}

// Start listens on addr and serves WebSocket upgrades until Stop is
// called, grounded on the teacher's listen-then-serve-in-a-goroutine
// startup shape (NNTPServer.Start/serve).
func (b *Bridge) Start(addr string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("wsbridge: already running")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/nntp", b.handleUpgrade)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("wsbridge: listen %s: %w", addr, err)
	}
	b.listener = listener
	b.running = true

	go func() {
		if err := http.Serve(listener, mux); err != nil {
			log.Printf("[WSBRIDGE] serve stopped: %v", err)
		}
	}()
	log.Printf("[WSBRIDGE] listening on %s, relaying to %s", addr, b.nntpAddr)
	return nil
}

// Stop closes the WebSocket listener. In-flight relayed connections are
// not forcibly closed; they end when either side hangs up.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return nil
	}
	b.running = false
	return b.listener.Close()
}

func (b *Bridge) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WSBRIDGE] upgrade failed: %v", err)
		return
	}
	go b.relay(ws)
}

// relay splices one upgraded WebSocket connection onto a fresh NNTP
// connection, pumping frames in both directions until either side closes.
func (b *Bridge) relay(ws *websocket.Conn) {
	defer ws.Close()

	nntp, err := net.Dial("tcp", b.nntpAddr)
	if err != nil {
		log.Printf("[WSBRIDGE] dial %s: %v", b.nntpAddr, err)
		return
	}
	defer nntp.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		wsToTCP(ws, nntp)
	}()
	tcpToWS(nntp, ws)
	<-done
}

// wsToTCP copies WebSocket text/binary frames onto tcp until the
// WebSocket connection closes or errors.
func wsToTCP(ws *websocket.Conn, tcp net.Conn) {
	defer tcp.Close()
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.TextMessage, websocket.BinaryMessage:
			if _, err := tcp.Write(data); err != nil {
				return
			}
		case websocket.CloseMessage:
			return
		}
	}
}

// tcpToWS copies bytes read from tcp into WebSocket binary frames until
// tcp closes or errors.
func tcpToWS(tcp net.Conn, ws *websocket.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := tcp.Read(buf)
		if n > 0 {
			if writeErr := ws.WriteMessage(websocket.BinaryMessage, buf[:n]); writeErr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}
