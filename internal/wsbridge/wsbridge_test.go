package wsbridge

import (
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// startEchoNNTP starts a bare TCP listener that echoes back whatever it
// receives, standing in for the real NNTP server during the relay test.
func startEchoNNTP(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 4096)
				for {
					n, err := conn.Read(buf)
					if n > 0 {
						conn.Write(buf[:n])
					}
					if err != nil {
						return
					}
				}
			}()
		}
	}()
	return ln.Addr().String()
}

func TestBridgeRelaysBytesBothWays(t *testing.T) {
	nntpAddr := startEchoNNTP(t)

	bridge := New(nntpAddr)
	wsListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	bridge.listener = wsListener
	bridge.running = true
	mux := http.NewServeMux()
	mux.HandleFunc("/nntp", bridge.handleUpgrade)
	go http.Serve(wsListener, mux)
	t.Cleanup(func() { bridge.Stop() })

	wsURL := "ws://" + wsListener.Addr().String() + "/nntp"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("CAPABILITIES\r\n")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !strings.Contains(string(data), "CAPABILITIES") {
		t.Errorf("expected echoed bytes to contain the sent command, got %q", data)
	}
}
