package nt4

// Type is the NT4 wire type tag. Each has a stable small-integer code
// used on the binary data plane.
type Type uint8

const (
	TypeBoolean Type = iota
	TypeDouble
	TypeInt
	TypeFloat
	TypeString
	TypeJSON
	TypeRaw
	TypeRPC
	TypeMsgpack
	TypeProtobuf
	TypeBooleanArray
	TypeDoubleArray
	TypeIntArray
	TypeFloatArray
	TypeStringArray
)

// typeNames mirrors the wire string each Type serializes to in the JSON
// control plane (e.g. a `publish` message's `type` field).
var typeNames = map[Type]string{
	TypeBoolean:      "boolean",
	TypeDouble:       "double",
	TypeInt:          "int",
	TypeFloat:        "float",
	TypeString:       "string",
	TypeJSON:         "json",
	TypeRaw:          "raw",
	TypeRPC:          "rpc",
	TypeMsgpack:      "msgpack",
	TypeProtobuf:     "protobuf",
	TypeBooleanArray: "boolean[]",
	TypeDoubleArray:  "double[]",
	TypeIntArray:     "int[]",
	TypeFloatArray:   "float[]",
	TypeStringArray:  "string[]",
}

var nameTypes = func() map[string]Type {
	m := make(map[string]Type, len(typeNames))
	for t, n := range typeNames {
		m[n] = t
	}
	return m
}()

// String returns the wire string form of t, or "" if t is not a known type.
func (t Type) String() string { return typeNames[t] }

// TypeFromString parses the wire string form of a type. ok is false for
// an unrecognized string.
func TypeFromString(s string) (t Type, ok bool) {
	t, ok = nameTypes[s]
	return t, ok
}

// PublishProperties carries the named topic metadata fields the original
// NT4 client exposes, beyond the opaque map spec.md describes. Any field
// left nil is omitted from the wire `properties`/`update` object.
type PublishProperties struct {
	Persistent *bool `json:"persistent,omitempty"`
	Retained   *bool `json:"retained,omitempty"`
	Cached     *bool `json:"cached,omitempty"`
}

// Topic is a server-announced topic, keyed by its server-assigned id.
type Topic struct {
	ID         int32
	Name       string
	Pubuid     *int32
	Type       Type
	Properties map[string]any
}

// reservedTimeTopicID is the Time topic's fixed id, reserved for the
// client/server timestamp exchange.
const reservedTimeTopicID int32 = -1

// reservedTimeTopicName is the name the reserved Time topic is inserted
// under on every (re)open.
const reservedTimeTopicName = "Time"

// PublishedTopic is a topic this client has published to the server.
type PublishedTopic struct {
	Name       string
	Pubuid     uint32
	Type       Type
	Properties *PublishProperties
}

// SubscriptionOptions are passed through to the server mostly verbatim;
// Prefix is additionally interpreted locally for loopback/match purposes.
type SubscriptionOptions struct {
	Periodic    *float64 `json:"periodic,omitempty"`
	All         *bool    `json:"all,omitempty"`
	TopicsOnly  *bool    `json:"topicsonly,omitempty"`
	Prefix      *bool    `json:"prefix,omitempty"`
}

func (o SubscriptionOptions) prefix() bool {
	return o.Prefix != nil && *o.Prefix
}

// MessageData is delivered to a subscription's receive queue for every
// matching value, whether it originated from the server or from a local
// publish_value loopback (§4.7 of the spec).
type MessageData struct {
	TopicName string
	Timestamp uint32
	Type      Type
	Data      any
}
