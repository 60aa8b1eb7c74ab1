package nt4

import (
	"sync"
	"time"
)

// clock tracks the client↔server time relationship for one client
// instance. Its small scalars sit behind a plain sync.Mutex (matching the
// synchronous "parking_lot-style" lock the spec calls for) so that
// latestLatency can be read from a non-blocking accessor regardless of
// which goroutine is running.
type clock struct {
	mu          sync.Mutex
	startTime   time.Time
	offset      uint32
	lastLatency uint32
}

func newClock() *clock {
	return &clock{startTime: time.Now()}
}

// clientTime is microseconds elapsed since startTime, truncated to 32
// bits by the int64->uint32 conversion.
func (c *clock) clientTime() uint32 {
	c.mu.Lock()
	start := c.startTime
	c.mu.Unlock()
	return uint32(time.Since(start).Microseconds())
}

// serverTime is clientTime() shifted by the current offset; it is the
// default timestamp for publish_value when the caller supplies none.
func (c *clock) serverTime() uint32 {
	c.mu.Lock()
	start, offset := c.startTime, c.offset
	c.mu.Unlock()
	return uint32(time.Since(start).Microseconds()) + offset
}

// latestLatency returns the most recently computed RTT-derived latency.
func (c *clock) latestLatency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.lastLatency) * time.Microsecond
}

// reset zeroes the offset and rebases startTime at now. Called on every
// (re)connect and whenever handleNewTimestamp detects an underflow.
func (c *clock) reset() {
	c.mu.Lock()
	c.startTime = time.Now()
	c.offset = 0
	c.mu.Unlock()
}

// handleNewTimestamp folds a Time-topic reply into the offset estimate.
// clientEcho is the client_time() value the server echoed back unchanged;
// serverTimestamp is the server's own clock reading at receipt. ok is
// false if any of the three subtractions in §4.3 would underflow — the
// caller must then reset() and re-probe.
func (c *clock) handleNewTimestamp(serverTimestamp, clientEcho uint32) (latency uint32, ok bool) {
	receiveTime := c.clientTime()
	if receiveTime < clientEcho {
		return 0, false
	}
	roundTrip := receiveTime - clientEcho
	latency = roundTrip / 2
	if serverTimestamp < latency {
		return 0, false
	}
	serverAtReceive := serverTimestamp - latency

	c.mu.Lock()
	defer c.mu.Unlock()
	if serverAtReceive < receiveTime {
		return 0, false
	}
	c.offset = serverAtReceive - receiveTime
	c.lastLatency = latency
	return latency, true
}
