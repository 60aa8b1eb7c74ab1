package supervisor

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockServer is a minimal NT4 server used to observe what a Supervisor's
// nt4.Client sends, mirroring the nt4 package's own test server.
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
		upgrader: websocket.Upgrader{Subprotocols: []string{"networktables.first.wpi.edu"}},
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

// addr is the host:port suitable for passing to Supervisor.SetServerAddress.
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

// readTextFrame reads frames until it sees a TextMessage (the JSON control
// plane), skipping any binary timestamp probes along the way.
func readTextFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) []byte {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		kind, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		if kind == websocket.TextMessage {
			return data
		}
	}
	t.Fatal("readTextFrame: no text message seen")
	return nil
}
