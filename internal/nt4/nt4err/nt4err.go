// Package nt4err defines the sentinel errors the NT4 client can return,
// per the error table in the specification. Callers match with errors.Is;
// wrapped context is added with fmt.Errorf("...: %w", ...) at the call site.
package nt4err

import "errors"

var (
	// ErrConnectTimeout wraps a failed WebSocket dial: an upgrade that did
	// not complete within the configured connect timeout, or any other dial
	// or handshake error.
	ErrConnectTimeout = errors.New("nt4: connect timeout")

	// ErrSocketIO wraps a read/write failure or unexpected EOF on the
	// underlying WebSocket.
	ErrSocketIO = errors.New("nt4: socket I/O error")

	// ErrTaskEnded is returned by facade operations once the transport
	// task has exited and will not process further sends.
	ErrTaskEnded = errors.New("nt4: transport task has ended")

	// ErrSendQueueFull is returned when the transport's bounded outbound
	// queue is full. Enqueuing does not wait for space and takes no caller
	// context; the error is returned at once.
	ErrSendQueueFull = errors.New("nt4: send queue full")

	// ErrSerialize marks a failure encoding an outgoing frame. Never fatal.
	ErrSerialize = errors.New("nt4: serialize error")

	// ErrDeserialize marks a failure decoding an incoming frame. Never fatal.
	ErrDeserialize = errors.New("nt4: deserialize error")

	// ErrTypeMismatch marks an incoming value whose MessagePack kind does
	// not agree with its declared TypeTag. The value is dropped silently.
	ErrTypeMismatch = errors.New("nt4: type mismatch")

	// ErrAddressResolution is returned by a collaborator that failed to
	// resolve a server address (bad team number, mDNS lookup failure, ...).
	ErrAddressResolution = errors.New("nt4: address resolution failed")

	// ErrNotInitialized is returned by PublishValue and
	// PublishValueWithTimestamp for a pubuid that is not currently
	// published. Facade operations invoked before Connect do not return it:
	// their frames are queued on the outbound queue like any other send.
	ErrNotInitialized = errors.New("nt4: client not initialized")

	// ErrIDOverflow is returned when a subuid/pubuid counter finds
	// maxIDProbeAttempts (4096) consecutive candidate ids all still in use.
	ErrIDOverflow = errors.New("nt4: id space exhausted")
)
