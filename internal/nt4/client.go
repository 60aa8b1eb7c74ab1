package nt4

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"nt4client/internal/nt4/nt4err"
)

// defaultConnectTimeout, defaultDisconnectRetryInterval and
// defaultTimestampProbeInterval are used when a Config leaves the
// corresponding field at its zero value.
const (
	defaultConnectTimeout          = 5 * time.Second
	defaultDisconnectRetryInterval = 1 * time.Second
	defaultTimestampProbeInterval  = 5 * time.Second
)

// Config configures a Client. Every callback field is optional; nil means
// "do nothing".
type Config struct {
	// Name identifies this client to the server and appears in the
	// WebSocket handshake path.
	Name string

	ConnectTimeout          time.Duration
	DisconnectRetryInterval time.Duration

	// TimestampProbeInterval sets how often the timekeeper re-sends a
	// timestamp probe on an open connection (§4.3).
	TimestampProbeInterval time.Duration

	// ShouldReconnect decides whether a disconnect is retried. A nil value
	// always retries.
	ShouldReconnect func(error) bool

	// Logger receives diagnostics for frames this client drops silently
	// (decode failures, type mismatches). A nil value defaults to
	// slog.Default().
	Logger *slog.Logger

	OnAnnounce   func(Topic)
	OnUnannounce func(Topic)
	OnDisconnect func(error)
	OnReconnect  func()
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.DisconnectRetryInterval == 0 {
		c.DisconnectRetryInterval = defaultDisconnectRetryInterval
	}
	if c.TimestampProbeInterval == 0 {
		c.TimestampProbeInterval = defaultTimestampProbeInterval
	}
	if c.Name == "" {
		c.Name = "nt4client"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Client is the NT4 pub/sub facade described by §4.6. One Client owns one
// transport task and the topic/subscription state it replays on every
// (re)open.
type Client struct {
	cfg  Config
	addr string

	transport *transport

	clock        *clock
	topics       *topicRegistry
	subs         *subscriptionRegistry
	topicCounter topicCounter
	subCounter   subCounter

	everConnected atomic.Bool

	mu sync.Mutex
}

// NewClient constructs a Client for addr (host, or host:port) but does not
// dial; call Connect to start the background transport.
func NewClient(addr string, cfg Config) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:    cfg,
		addr:   addr,
		clock:  newClock(),
		topics: newTopicRegistry(),
		subs:   newSubscriptionRegistry(),
	}
	c.transport = newTransport(addr, c, cfg.ConnectTimeout, cfg.DisconnectRetryInterval, cfg.TimestampProbeInterval, cfg.ShouldReconnect)
	return c
}

// Connect starts the background connect/reconnect loop. It returns
// immediately; use OnDisconnect/OnReconnect to observe connection state.
func (c *Client) Connect() {
	go c.transport.run(c.cfg.Name)
}

// Close stops the background transport and releases its resources.
func (c *Client) Close() {
	c.transport.close()
}

// ServerAddress returns the address this Client was constructed with.
func (c *Client) ServerAddress() string { return c.addr }

// LatestLatency returns the most recently measured round-trip latency.
func (c *Client) LatestLatency() time.Duration { return c.clock.latestLatency() }

// Connected reports whether the background transport currently has an open
// WebSocket connection.
func (c *Client) Connected() bool { return c.transport.currentState() == stateOpen }

// InspectAnnounced returns a snapshot of every topic the server has
// announced, keyed by its server-assigned id.
func (c *Client) InspectAnnounced() map[int32]Topic { return c.topics.snapshotAnnounced() }

// PublishTopic registers a new topic this client will publish values for.
func (c *Client) PublishTopic(name string, typ Type, props *PublishProperties) (PublishedTopic, error) {
	pubuid, err := c.topicCounter.next(c.topics.isPublished)
	if err != nil {
		return PublishedTopic{}, err
	}
	t := PublishedTopic{Name: name, Pubuid: pubuid, Type: typ, Properties: props}
	c.topics.insertPublished(t)

	env, err := encodePublish(name, pubuid, typ, props)
	if err != nil {
		return t, err
	}
	batch, err := encodeControlBatch(env)
	if err != nil {
		return t, err
	}
	if err := c.transport.sendControl(batch); err != nil {
		return t, err
	}
	return t, nil
}

// Unpublish stops publishing pubuid. The local record is dropped only
// after the unpublish message is sent (§4.4).
func (c *Client) Unpublish(pubuid uint32) error {
	env, err := encodeUnpublish(pubuid)
	if err != nil {
		return err
	}
	batch, err := encodeControlBatch(env)
	if err != nil {
		return err
	}
	if err := c.transport.sendControl(batch); err != nil {
		return err
	}
	c.topics.removePublished(pubuid)
	return nil
}

// SetProperties requests a metadata update for a published topic. NT4
// does not acknowledge this message, so the client has no local state to
// reconcile; the call's only effect is the outbound wire message (an open
// question in the source spec, resolved as fire-and-forget — see
// DESIGN.md).
func (c *Client) SetProperties(name string, update *PublishProperties) error {
	env, err := encodeSetProperties(name, update)
	if err != nil {
		return err
	}
	batch, err := encodeControlBatch(env)
	if err != nil {
		return err
	}
	return c.transport.sendControl(batch)
}

// Subscribe subscribes to an exact set of topic names with default
// options.
func (c *Client) Subscribe(topics []string) (*Subscription, error) {
	return c.SubscribeWithOptions(topics, SubscriptionOptions{})
}

// SubscribeWithOptions subscribes to topics (exact names, or prefixes if
// options.Prefix is set) with the given options.
func (c *Client) SubscribeWithOptions(topics []string, options SubscriptionOptions) (*Subscription, error) {
	subuid, err := c.subCounter.next(c.subs.isSubscribed)
	if err != nil {
		return nil, err
	}

	env, err := encodeSubscribe(subuid, topics, options)
	if err != nil {
		return nil, err
	}
	batch, err := encodeControlBatch(env)
	if err != nil {
		return nil, err
	}
	if err := c.transport.sendControl(batch); err != nil {
		return nil, err
	}

	return c.subs.add(subuid, topics, options), nil
}

// Unsubscribe ends a subscription previously returned by Subscribe.
func (c *Client) Unsubscribe(sub *Subscription) error {
	env, err := encodeUnsubscribe(sub.Subuid())
	if err != nil {
		return err
	}
	batch, err := encodeControlBatch(env)
	if err != nil {
		return err
	}
	if err := c.transport.sendControl(batch); err != nil {
		return err
	}
	c.subs.remove(sub.Subuid())
	return nil
}

// PublishValue sends a value for pubuid, timestamped with the client's
// current server-time estimate.
func (c *Client) PublishValue(pubuid uint32, typ Type, value any) error {
	return c.PublishValueWithTimestamp(pubuid, typ, value, c.clock.serverTime())
}

// PublishValueWithTimestamp sends a value for pubuid at an explicit
// timestamp, and loops it back to this client's own matching subscriptions
// (§4.7) without waiting for the server to echo it.
func (c *Client) PublishValueWithTimestamp(pubuid uint32, typ Type, value any, timestamp uint32) error {
	name, ok := c.publishedName(pubuid)
	if !ok {
		return fmt.Errorf("%w: pubuid %d not published", nt4err.ErrNotInitialized, pubuid)
	}

	data, err := encodeValueFrame(valueFrame{ID: int32(pubuid), Timestamp: timestamp, Type: typ, Value: value})
	if err != nil {
		return err
	}
	if err := c.transport.sendBinary(data); err != nil {
		return err
	}

	c.subs.deliver(name, MessageData{TopicName: name, Timestamp: timestamp, Type: typ, Data: value})
	return nil
}

func (c *Client) publishedName(pubuid uint32) (string, bool) {
	for _, t := range c.topics.publishedSnapshot() {
		if t.Pubuid == pubuid {
			return t.Name, true
		}
	}
	return "", false
}

// handleOpen implements transportOwner. It performs the on-open replay
// sequence from §4.6: reseed the announced-topics map, evict dead
// subscriptions, reset the clock and send the first timestamp probe of this
// connection (the transport's probeLoop re-sends it on a timer after this),
// then replay this client's publish/subscribe state as one batch.
func (c *Client) handleOpen() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.topics.resetAnnounced()
	alive := c.subs.evictInvalid()

	c.clock.reset()
	c.probeTimestamp()

	var envs []controlEnvelope
	for _, t := range c.topics.publishedSnapshot() {
		env, err := encodePublish(t.Name, t.Pubuid, t.Type, t.Properties)
		if err != nil {
			c.cfg.Logger.Warn("nt4: failed to encode publish replay", "topic", t.Name, "error", err)
			continue
		}
		envs = append(envs, env)
	}
	for _, s := range alive {
		env, err := encodeSubscribe(s.Subuid, s.Topics, s.Options)
		if err != nil {
			c.cfg.Logger.Warn("nt4: failed to encode subscribe replay", "subuid", s.Subuid, "error", err)
			continue
		}
		envs = append(envs, env)
	}
	if len(envs) > 0 {
		if batch, err := encodeControlBatch(envs...); err == nil {
			if err := c.transport.sendControl(batch); err != nil {
				c.cfg.Logger.Warn("nt4: failed to send replay batch", "error", err)
			}
		} else {
			c.cfg.Logger.Warn("nt4: failed to encode replay batch", "error", err)
		}
	}

	if c.everConnected.Swap(true) {
		if c.cfg.OnReconnect != nil {
			c.cfg.OnReconnect()
		}
	}
}

// probeTimestamp sends a Time-topic exchange that (re)seeds the clock
// offset. handleOpen calls this once per (re)connect; the transport's
// probe loop calls it again every TimestampProbeInterval for the life of
// the connection (§4.3).
func (c *Client) probeTimestamp() {
	echo := int64(c.clock.clientTime())
	data, err := encodeValueFrame(valueFrame{
		ID:        reservedTimeTopicID,
		Timestamp: uint32(echo),
		Type:      TypeInt,
		Value:     echo,
	})
	if err != nil {
		c.cfg.Logger.Warn("nt4: failed to encode timestamp probe", "error", err)
		return
	}
	if err := c.transport.sendBinary(data); err != nil {
		c.cfg.Logger.Warn("nt4: failed to send timestamp probe", "error", err)
	}
}

// handleControlFrame implements transportOwner.
func (c *Client) handleControlFrame(data []byte) {
	announces, unannounces, err := decodeControlBatch(data)
	if err != nil {
		c.cfg.Logger.Warn("nt4: dropping unparseable control frame", "error", err)
		return
	}
	for _, a := range announces {
		t := c.topics.announce(a)
		if c.cfg.OnAnnounce != nil {
			c.cfg.OnAnnounce(t)
		}
	}
	for _, u := range unannounces {
		if t, ok := c.topics.unannounce(u.ID); ok && c.cfg.OnUnannounce != nil {
			c.cfg.OnUnannounce(t)
		}
	}
}

// handleBinaryFrame implements transportOwner. The reserved Time topic is
// intercepted for clock synchronization (§4.3); every other frame is
// dispatched to matching subscriptions.
func (c *Client) handleBinaryFrame(data []byte) {
	frames, err := decodeValueFrames(data)
	if err != nil {
		c.cfg.Logger.Warn("nt4: dropping unparseable binary frame", "error", err)
		return
	}
	for _, f := range frames {
		if f.ID == reservedTimeTopicID {
			c.handleTimestampFrame(f)
			continue
		}
		topic, ok := c.topics.lookupAnnounced(f.ID)
		if !ok {
			continue
		}
		if !valueKindMatchesType(f.Type, f.Value) {
			c.cfg.Logger.Warn("nt4: dropping value with mismatched type",
				"error", nt4err.ErrTypeMismatch, "topic", topic.Name, "type", f.Type, "value", f.Value)
			continue
		}
		c.subs.deliver(topic.Name, MessageData{
			TopicName: topic.Name,
			Timestamp: f.Timestamp,
			Type:      f.Type,
			Data:      f.Value,
		})
	}
}

func (c *Client) handleTimestampFrame(f valueFrame) {
	echo, ok := toUint32(f.Value)
	if !ok {
		c.cfg.Logger.Warn("nt4: dropping timestamp echo of unexpected type", "value", f.Value)
		return
	}
	if _, ok := c.clock.handleNewTimestamp(f.Timestamp, echo); !ok {
		c.clock.reset()
		c.probeTimestamp()
	}
}

// toUint32 normalizes the handful of integer kinds the MessagePack decoder
// may hand back for a scalar value into a uint32.
func toUint32(v any) (uint32, bool) {
	switch n := v.(type) {
	case int64:
		return uint32(n), true
	case uint64:
		return uint32(n), true
	case int8:
		return uint32(n), true
	case uint8:
		return uint32(n), true
	case int16:
		return uint32(n), true
	case uint16:
		return uint32(n), true
	case int32:
		return uint32(n), true
	case uint32:
		return n, true
	case int:
		return uint32(n), true
	default:
		return 0, false
	}
}

// handleDisconnect implements transportOwner.
func (c *Client) handleDisconnect(err error) {
	if c.cfg.OnDisconnect != nil {
		c.cfg.OnDisconnect(err)
	}
}
