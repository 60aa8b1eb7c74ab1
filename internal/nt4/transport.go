package nt4

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/gorilla/websocket"

	"nt4client/internal/nt4/nt4err"
)

// subProtocol is the WebSocket subprotocol NT4 servers require.
const subProtocol = "networktables.first.wpi.edu"

// defaultPort is used when a server address carries none.
const defaultPort = 5810

// outboundQueueCapacity bounds the transport's send queue (§5).
const outboundQueueCapacity = 100

type transportState int32

const (
	stateConnecting transportState = iota
	stateOpen
	stateReconnecting
	stateFailed
)

// transportOwner is the set of callbacks the transport drives as frames
// arrive and the connection's state changes. Client implements this; the
// transport holds only a weak reference to it (§9: mirrors the Rust
// source's Arc/Weak split between the socket task and the client state it
// feeds) so a caller that drops its Client doesn't keep the background
// goroutine pinned past Close.
type transportOwner interface {
	handleOpen()
	handleControlFrame(data []byte)
	handleBinaryFrame(data []byte)
	handleDisconnect(err error)
}

// outboundMsg is one queued send.
type outboundMsg struct {
	kind int // websocket.TextMessage or websocket.BinaryMessage
	data []byte
}

// transport owns the WebSocket connection and its reconnect state machine
// (§4.2). One transport serves one Client for that Client's lifetime;
// changing server address replaces the transport rather than reusing it.
type transport struct {
	addr string

	connectTimeout         time.Duration
	retryInterval          time.Duration
	timestampProbeInterval time.Duration
	shouldReconnect        func(error) bool

	owner weak.Pointer[Client]

	state atomic.Int32

	mu   sync.Mutex
	conn *websocket.Conn

	outbound chan outboundMsg

	ctx    context.Context
	cancel context.CancelFunc

	done chan struct{}
}

func newTransport(addr string, owner *Client, connectTimeout, retryInterval, timestampProbeInterval time.Duration, shouldReconnect func(error) bool) *transport {
	ctx, cancel := context.WithCancel(context.Background())
	if shouldReconnect == nil {
		shouldReconnect = func(error) bool { return true }
	}
	return &transport{
		addr:                   addr,
		connectTimeout:         connectTimeout,
		retryInterval:          retryInterval,
		timestampProbeInterval: timestampProbeInterval,
		shouldReconnect:        shouldReconnect,
		owner:                  weak.Make(owner),
		outbound:               make(chan outboundMsg, outboundQueueCapacity),
		ctx:                    ctx,
		cancel:                 cancel,
		done:                   make(chan struct{}),
	}
}

// wsURL builds the ws://host:port/nt/<clientName> target address, filling
// in defaultPort when addr carries none.
func wsURL(addr, clientName string) (string, error) {
	host := addr
	if _, _, err := net.SplitHostPort(addr); err != nil {
		host = fmt.Sprintf("%s:%d", addr, defaultPort)
	}
	u := url.URL{Scheme: "ws", Host: host, Path: "/nt/" + url.PathEscape(clientName)}
	return u.String(), nil
}

// run is the transport's single background goroutine: dial, pump frames
// until the read side fails, then retry per the reconnect policy. It
// returns once the owning Client is gone or should_reconnect declines.
func (t *transport) run(clientName string) {
	defer close(t.done)

	for {
		select {
		case <-t.ctx.Done():
			t.state.Store(int32(stateFailed))
			return
		default:
		}

		owner := t.owner.Value()
		if owner == nil {
			t.state.Store(int32(stateFailed))
			return
		}

		target, err := wsURL(t.addr, clientName)
		if err != nil {
			t.state.Store(int32(stateFailed))
			return
		}

		err = t.connectAndPump(target, owner)
		if err == nil {
			// pump exited because ctx was cancelled.
			t.state.Store(int32(stateFailed))
			return
		}

		owner2 := t.owner.Value()
		if owner2 == nil {
			t.state.Store(int32(stateFailed))
			return
		}
		owner2.handleDisconnect(err)

		if !t.shouldReconnect(err) {
			t.state.Store(int32(stateFailed))
			return
		}

		t.state.Store(int32(stateReconnecting))
		select {
		case <-t.ctx.Done():
			t.state.Store(int32(stateFailed))
			return
		case <-time.After(t.retryInterval):
		}
	}
}

// connectAndPump dials once and relays frames until the socket fails or
// the transport is closed. A nil error return means the context was
// cancelled deliberately; any other return is a disconnect to retry.
func (t *transport) connectAndPump(target string, owner *Client) error {
	t.state.Store(int32(stateConnecting))

	dialer := websocket.Dialer{
		Subprotocols:     []string{subProtocol},
		HandshakeTimeout: t.connectTimeout,
	}
	conn, _, err := dialer.DialContext(t.ctx, target, http.Header{})
	if err != nil {
		return fmt.Errorf("%w: %v", nt4err.ErrConnectTimeout, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		if t.conn == conn {
			t.conn.Close()
			t.conn = nil
		}
		t.mu.Unlock()
	}()

	t.state.Store(int32(stateOpen))
	owner.handleOpen()

	readErrCh := make(chan error, 1)
	go t.readLoop(conn, owner, readErrCh)

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		t.writeLoop(conn)
	}()

	probeDone := make(chan struct{})
	go t.probeLoop(owner, probeDone)

	select {
	case <-t.ctx.Done():
		close(probeDone)
		conn.Close()
		<-writeDone
		return nil
	case err := <-readErrCh:
		close(probeDone)
		conn.Close()
		<-writeDone
		return fmt.Errorf("%w: %v", nt4err.ErrSocketIO, err)
	}
}

// probeLoop re-sends a timestamp probe every timestampProbeInterval for as
// long as this connection stays open (§4.3, §5). handleOpen already sent
// the first probe; this loop covers every probe after that.
func (t *transport) probeLoop(owner *Client, done <-chan struct{}) {
	ticker := time.NewTicker(t.timestampProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			owner.probeTimestamp()
		}
	}
}

func (t *transport) readLoop(conn *websocket.Conn, owner *Client, errCh chan<- error) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			errCh <- err
			return
		}
		switch kind {
		case websocket.TextMessage:
			owner.handleControlFrame(data)
		case websocket.BinaryMessage:
			owner.handleBinaryFrame(data)
		}
	}
}

func (t *transport) writeLoop(conn *websocket.Conn) {
	for {
		select {
		case <-t.ctx.Done():
			return
		case msg, ok := <-t.outbound:
			if !ok {
				return
			}
			if err := conn.WriteMessage(msg.kind, msg.data); err != nil {
				return
			}
		}
	}
}

// sendControl enqueues a JSON control-plane text frame.
func (t *transport) sendControl(data []byte) error {
	return t.enqueue(outboundMsg{kind: websocket.TextMessage, data: data})
}

// sendBinary enqueues a MessagePack data-plane binary frame.
func (t *transport) sendBinary(data []byte) error {
	return t.enqueue(outboundMsg{kind: websocket.BinaryMessage, data: data})
}

func (t *transport) enqueue(msg outboundMsg) error {
	select {
	case <-t.done:
		return nt4err.ErrTaskEnded
	default:
	}

	select {
	case t.outbound <- msg:
		return nil
	case <-t.done:
		return nt4err.ErrTaskEnded
	default:
		return nt4err.ErrSendQueueFull
	}
}

// currentState reports the transport's state for diagnostics.
func (t *transport) currentState() transportState {
	return transportState(t.state.Load())
}

// close cancels the background goroutine and waits for it to exit.
func (t *transport) close() {
	t.cancel()
	<-t.done
}
