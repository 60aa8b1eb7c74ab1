// Package supervisor wraps one nt4.Client with the session-lifecycle
// bookkeeping a host application wants: a correlation id for each
// SetServerAddress session (reconnects within it keep the same id),
// periodic status ticks alongside value updates, and a
// single channel an application can range over for both.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"nt4client/internal/nt4"
)

// ErrNotConnected is returned by Run before SetServerAddress has been
// called.
var ErrNotConnected = errors.New("supervisor: not connected")

// statusTickInterval matches the 300ms status-polling cadence the
// original desktop client drove its UI from.
const statusTickInterval = 300 * time.Millisecond

// Update is the sum type delivered on Run's sink channel.
type Update interface{ isUpdate() }

// StatusUpdate is emitted once per tick while a session is active.
type StatusUpdate struct {
	SessionID string
	Address   string
	Connected bool
	Latency   time.Duration
}

func (StatusUpdate) isUpdate() {}

// ValueUpdate is emitted for every subscription delivery. Value is
// already stringified: a String-typed topic passes through verbatim,
// every other type is formatted with its Go default representation —
// mirroring the original client's MessagePack-string-vs-generic-stringify
// split when forwarding values to its UI layer.
type ValueUpdate struct {
	SessionID string
	Topic     string
	Timestamp uint32
	Type      nt4.Type
	Value     string
}

func (ValueUpdate) isUpdate() {}

// Supervisor owns a single nt4.Client across its connection lifetime,
// replacing it outright on SetServerAddress (§4.9 of the domain-stack
// design: one client per address, not a reused connection).
type Supervisor struct {
	mu        sync.Mutex
	client    *nt4.Client
	sessionID string
	logger    *slog.Logger

	// changed is closed and replaced every time SetServerAddress installs a
	// new client, waking any active Run so it can resubscribe against the
	// replacement rather than stay bound to the client it started with.
	changed chan struct{}
}

// New constructs a Supervisor. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{logger: logger, changed: make(chan struct{})}
}

// SetServerAddress closes any existing client and starts a new one
// against addr, tagging every log line from this connection with a fresh
// session id (grounded on the UUIDv7 instance-id idiom used elsewhere in
// the reference stack's MQTT client).
func (s *Supervisor) SetServerAddress(addr string, cfg nt4.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		s.client.Close()
	}

	sessionID := uuid.NewString()
	s.sessionID = sessionID

	userDisconnect := cfg.OnDisconnect
	userReconnect := cfg.OnReconnect
	cfg.OnDisconnect = func(err error) {
		s.logger.Warn("nt4 session disconnected", "session", sessionID, "addr", addr, "err", err)
		if userDisconnect != nil {
			userDisconnect(err)
		}
	}
	cfg.OnReconnect = func() {
		s.logger.Info("nt4 session reconnected", "session", sessionID, "addr", addr)
		if userReconnect != nil {
			userReconnect()
		}
	}

	s.client = nt4.NewClient(addr, cfg)
	s.client.Connect()
	s.logger.Info("nt4 session starting", "session", sessionID, "addr", addr)

	close(s.changed)
	s.changed = make(chan struct{})
}

// Client returns the currently active nt4.Client, or nil if
// SetServerAddress has not been called.
func (s *Supervisor) Client() *nt4.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Run subscribes to topics and streams StatusUpdate/ValueUpdate values to
// sink until ctx is cancelled. If SetServerAddress installs a new client
// while Run is active, Run resubscribes topics against the replacement
// rather than stranding the old subscription. It blocks; call it from its
// own goroutine.
func (s *Supervisor) Run(ctx context.Context, topics []string, sink chan<- Update) error {
	client, sessionID, changed := s.snapshot()
	if client == nil {
		return ErrNotConnected
	}

	sub, err := client.Subscribe(topics)
	if err != nil {
		return fmt.Errorf("supervisor: subscribe: %w", err)
	}
	defer func() { client.Unsubscribe(sub) }()

	ticker := time.NewTicker(statusTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
			client.Unsubscribe(sub)

			client, sessionID, changed = s.snapshot()
			if client == nil {
				return ErrNotConnected
			}
			sub, err = client.Subscribe(topics)
			if err != nil {
				return fmt.Errorf("supervisor: resubscribe: %w", err)
			}
		case <-ticker.C:
			sink <- StatusUpdate{
				SessionID: sessionID,
				Address:   client.ServerAddress(),
				Connected: client.Connected(),
				Latency:   client.LatestLatency(),
			}
		case msg, ok := <-sub.Updates():
			if !ok {
				return nil
			}
			sink <- ValueUpdate{
				SessionID: sessionID,
				Topic:     msg.TopicName,
				Timestamp: msg.Timestamp,
				Type:      msg.Type,
				Value:     stringifyValue(msg.Type, msg.Data),
			}
		}
	}
}

// snapshot returns the currently active client, its session id, and the
// changed signal that will fire the next time SetServerAddress replaces
// the client.
func (s *Supervisor) snapshot() (*nt4.Client, string, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client, s.sessionID, s.changed
}

// stringifyValue renders a decoded topic value for display. String
// topics are passed through as-is; everything else gets Go's default
// formatting, which is sufficient for numbers, bools, and arrays.
func stringifyValue(t nt4.Type, value any) string {
	if t == nt4.TypeString {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return fmt.Sprintf("%v", value)
}
