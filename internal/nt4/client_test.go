package nt4

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testConfig(name string) Config {
	return Config{
		Name:                    name,
		ConnectTimeout:          2 * time.Second,
		DisconnectRetryInterval: 30 * time.Millisecond,
	}
}

// Scenario 1: connect + time probe.
func TestScenarioConnectAndTimeProbe(t *testing.T) {
	srv := newMockServer(t)
	client := NewClient(srv.addr(), testConfig("probe-test"))
	client.Connect()
	t.Cleanup(client.Close)

	conn := srv.nextConn(2 * time.Second)

	kind, data := readFrame(t, conn, time.Second)
	if kind != websocket.BinaryMessage {
		t.Fatalf("first frame kind = %d, want BinaryMessage", kind)
	}
	frames, err := decodeValueFrames(data)
	if err != nil || len(frames) != 1 {
		t.Fatalf("decodeValueFrames: %v, %d frames", err, len(frames))
	}
	probe := frames[0]
	if probe.ID != reservedTimeTopicID {
		t.Fatalf("probe id = %d, want %d", probe.ID, reservedTimeTopicID)
	}
	clientEcho, ok := probe.Value.(int64)
	if !ok {
		t.Fatalf("probe value type = %T, want int64", probe.Value)
	}

	reply, err := encodeValueFrame(valueFrame{
		ID:        reservedTimeTopicID,
		Timestamp: uint32(clientEcho) + 200_000,
		Type:      TypeInt,
		Value:     clientEcho,
	})
	if err != nil {
		t.Fatalf("encodeValueFrame: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, reply); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for client.LatestLatency() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if client.LatestLatency() == 0 {
		t.Error("expected LatestLatency() to become nonzero after time probe reply")
	}
}

// Scenario 2: announce + subscribe fanout.
func TestScenarioAnnounceSubscribeFanout(t *testing.T) {
	srv := newMockServer(t)
	client := NewClient(srv.addr(), testConfig("fanout-test"))
	client.Connect()
	t.Cleanup(client.Close)

	conn := srv.nextConn(2 * time.Second)
	drainProbe(t, conn)

	sub, err := client.Subscribe([]string{"/x"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	drainUntilControl(t, conn)

	announce := `[{"method":"announce","params":{"name":"/x","id":7,"type":"string","properties":{}}}]`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(announce)); err != nil {
		t.Fatalf("write announce: %v", err)
	}

	value, err := encodeValueFrame(valueFrame{ID: 7, Timestamp: 1000, Type: TypeString, Value: "hi"})
	if err != nil {
		t.Fatalf("encodeValueFrame: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, value); err != nil {
		t.Fatalf("write value: %v", err)
	}

	select {
	case msg := <-sub.Updates():
		if msg.TopicName != "/x" || msg.Timestamp != 1000 || msg.Type != TypeString || msg.Data != "hi" {
			t.Errorf("got %+v, want topic /x timestamp 1000 type String data hi", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscriber delivery")
	}
}

// Scenario 3: publish loopback, entirely local.
func TestScenarioPublishLoopback(t *testing.T) {
	srv := newMockServer(t)
	client := NewClient(srv.addr(), testConfig("loopback-test"))
	client.Connect()
	t.Cleanup(client.Close)

	conn := srv.nextConn(2 * time.Second)
	drainProbe(t, conn)

	topic, err := client.PublishTopic("/y", TypeString, nil)
	if err != nil {
		t.Fatalf("PublishTopic: %v", err)
	}
	drainUntilControl(t, conn)

	sub, err := client.Subscribe([]string{"/y"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	drainUntilControl(t, conn)

	if err := client.PublishValue(topic.Pubuid, TypeString, "hello"); err != nil {
		t.Fatalf("PublishValue: %v", err)
	}

	select {
	case msg := <-sub.Updates():
		if msg.TopicName != "/y" || msg.Data != "hello" {
			t.Errorf("got %+v, want topic /y data hello", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for loopback delivery")
	}
}

// Scenario 4: reconnect replay.
func TestScenarioReconnectReplay(t *testing.T) {
	srv := newMockServer(t)

	disconnected := make(chan struct{}, 1)
	reconnected := make(chan struct{}, 1)

	cfg := testConfig("reconnect-test")
	cfg.OnDisconnect = func(error) { disconnected <- struct{}{} }
	cfg.OnReconnect = func() { reconnected <- struct{}{} }

	client := NewClient(srv.addr(), cfg)
	client.Connect()
	t.Cleanup(client.Close)

	conn1 := srv.nextConn(2 * time.Second)
	drainProbe(t, conn1)

	if _, err := client.PublishTopic("/p", TypeDouble, nil); err != nil {
		t.Fatalf("PublishTopic: %v", err)
	}
	drainUntilControl(t, conn1)
	if _, err := client.Subscribe([]string{"/s"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	drainUntilControl(t, conn1)

	conn1.Close()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnDisconnect")
	}

	conn2 := srv.nextConn(2 * time.Second)
	drainProbe(t, conn2)

	kind, data := readFrame(t, conn2, time.Second)
	if kind != websocket.TextMessage {
		t.Fatalf("replay frame kind = %d, want TextMessage", kind)
	}
	if !jsonContains(t, data, "publish", "/p") || !jsonContains(t, data, "subscribe", "/s") {
		t.Errorf("replay batch missing expected entries: %s", data)
	}

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnReconnect")
	}
}

// Scenario 6: timestamp underflow resets the clock without closing the
// connection, and a fresh probe follows.
func TestScenarioUnderflowResetsClock(t *testing.T) {
	srv := newMockServer(t)
	client := NewClient(srv.addr(), testConfig("underflow-test"))
	client.Connect()
	t.Cleanup(client.Close)

	conn := srv.nextConn(2 * time.Second)
	_, data := readFrame(t, conn, time.Second)
	frames, err := decodeValueFrames(data)
	if err != nil || len(frames) != 1 {
		t.Fatalf("decodeValueFrames: %v", err)
	}

	// Echo a clientEcho far in the future of any real elapsed clientTime(),
	// forcing the receiveTime < clientEcho underflow guard in handleNewTimestamp.
	bogusEcho := int64(4_000_000_000)
	reply, err := encodeValueFrame(valueFrame{
		ID:        reservedTimeTopicID,
		Timestamp: 1,
		Type:      TypeInt,
		Value:     bogusEcho,
	})
	if err != nil {
		t.Fatalf("encodeValueFrame: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, reply); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The client should emit a fresh probe rather than closing the socket.
	kind, data2 := readFrame(t, conn, time.Second)
	if kind != websocket.BinaryMessage {
		t.Fatalf("expected a new binary probe after underflow, got kind %d", kind)
	}
	frames2, err := decodeValueFrames(data2)
	if err != nil || len(frames2) != 1 || frames2[0].ID != reservedTimeTopicID {
		t.Fatalf("unexpected frame after underflow reset: %v, %+v", err, frames2)
	}

	if client.LatestLatency() != 0 {
		t.Error("expected latency to remain unset across an underflow reset")
	}
}

// drainProbe consumes the single binary probe frame sent right after open.
func drainProbe(t *testing.T, conn interface {
	SetReadDeadline(time.Time) error
	ReadMessage() (int, []byte, error)
}) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("drainProbe: %v", err)
	}
}

// drainUntilControl reads frames until it sees a TextMessage, skipping any
// further binary probes (the reserved Time topic may re-probe on its own
// schedule in real deployments, though not within these short tests).
func drainUntilControl(t *testing.T, conn interface {
	SetReadDeadline(time.Time) error
	ReadMessage() (int, []byte, error)
}) []byte {
	t.Helper()
	for i := 0; i < 5; i++ {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		kind, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("drainUntilControl: %v", err)
		}
		if kind == websocket.TextMessage {
			return data
		}
	}
	t.Fatal("drainUntilControl: no control message seen")
	return nil
}

// TestTimestampProbeRepeatsOnTicker verifies the timekeeper re-probes on
// TimestampProbeInterval rather than sending a single probe at open.
func TestTimestampProbeRepeatsOnTicker(t *testing.T) {
	srv := newMockServer(t)
	cfg := testConfig("ticker-test")
	cfg.TimestampProbeInterval = 20 * time.Millisecond
	client := NewClient(srv.addr(), cfg)
	client.Connect()
	t.Cleanup(client.Close)

	conn := srv.nextConn(2 * time.Second)

	for i := 0; i < 3; i++ {
		kind, data := readFrame(t, conn, time.Second)
		if kind != websocket.BinaryMessage {
			t.Fatalf("probe %d: kind = %d, want BinaryMessage", i, kind)
		}
		frames, err := decodeValueFrames(data)
		if err != nil || len(frames) != 1 || frames[0].ID != reservedTimeTopicID {
			t.Fatalf("probe %d: unexpected frame: %v, %+v", i, err, frames)
		}
	}
}

func jsonContains(t *testing.T, data []byte, method, needle string) bool {
	t.Helper()
	var envs []struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(data, &envs); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	for _, e := range envs {
		if e.Method != method {
			continue
		}
		if strings.Contains(string(e.Params), needle) {
			return true
		}
	}
	return false
}
