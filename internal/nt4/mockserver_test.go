package nt4

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockServer is a minimal NT4 server used by the scenario tests in
// client_test.go: it accepts WebSocket upgrades and hands each resulting
// connection to the test so it can script the exchange directly.
type mockServer struct {
	t        *testing.T
	httpSrv  *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	m := &mockServer{
		t:        t,
		conns:    make(chan *websocket.Conn, 8),
		upgrader: websocket.Upgrader{Subprotocols: []string{subProtocol}},
	}
	m.httpSrv = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.httpSrv.Close)
	return m
}

func (m *mockServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	m.conns <- conn
}

// addr is the host:port suitable for passing to NewClient.
func (m *mockServer) addr() string {
	return strings.TrimPrefix(m.httpSrv.URL, "http://")
}

func (m *mockServer) nextConn(timeout time.Duration) *websocket.Conn {
	select {
	case c := <-m.conns:
		return c
	case <-time.After(timeout):
		m.t.Fatal("timed out waiting for client connection")
		return nil
	}
}

// readFrame reads the next WebSocket message, failing the test on timeout.
func readFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) (int, []byte) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	return kind, data
}
