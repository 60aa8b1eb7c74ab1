package nt4

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"nt4client/internal/nt4/nt4err"
)

// controlEnvelope is the wire shape of one element of a JSON control-plane
// array: {"method": "...", "params": {...}}.
type controlEnvelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// publishParams is the `params` object of a `publish` message.
type publishParams struct {
	Name       string             `json:"name"`
	Pubuid     uint32             `json:"pubuid"`
	Type       string             `json:"type"`
	Properties *PublishProperties `json:"properties,omitempty"`
}

type unpublishParams struct {
	Pubuid uint32 `json:"pubuid"`
}

type setPropertiesParams struct {
	Name   string             `json:"name"`
	Update *PublishProperties `json:"update"`
}

type subscribeParams struct {
	Subuid  int32               `json:"subuid"`
	Topics  []string            `json:"topics"`
	Options SubscriptionOptions `json:"options,omitempty"`
}

type unsubscribeParams struct {
	Subuid int32 `json:"subuid"`
}

// announceParams is the `params` object of a server->client `announce`.
type announceParams struct {
	Name       string         `json:"name"`
	ID         int32          `json:"id"`
	Pubuid     *int32         `json:"pubuid,omitempty"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

type unannounceParams struct {
	Name string `json:"name"`
	ID   int32  `json:"id"`
}

func encodeEnvelope(method string, params any) (controlEnvelope, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return controlEnvelope{}, fmt.Errorf("%w: %v", nt4err.ErrSerialize, err)
	}
	return controlEnvelope{Method: method, Params: raw}, nil
}

func encodePublish(name string, pubuid uint32, typ Type, props *PublishProperties) (controlEnvelope, error) {
	return encodeEnvelope("publish", publishParams{Name: name, Pubuid: pubuid, Type: typ.String(), Properties: props})
}

func encodeUnpublish(pubuid uint32) (controlEnvelope, error) {
	return encodeEnvelope("unpublish", unpublishParams{Pubuid: pubuid})
}

func encodeSetProperties(name string, update *PublishProperties) (controlEnvelope, error) {
	return encodeEnvelope("setproperties", setPropertiesParams{Name: name, Update: update})
}

func encodeSubscribe(subuid int32, topics []string, options SubscriptionOptions) (controlEnvelope, error) {
	return encodeEnvelope("subscribe", subscribeParams{Subuid: subuid, Topics: topics, Options: options})
}

func encodeUnsubscribe(subuid int32) (controlEnvelope, error) {
	return encodeEnvelope("unsubscribe", unsubscribeParams{Subuid: subuid})
}

// encodeControlBatch serializes a batch of envelopes as a single JSON array,
// the wire shape the server expects for both single and batched messages.
func encodeControlBatch(envs ...controlEnvelope) ([]byte, error) {
	data, err := json.Marshal(envs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nt4err.ErrSerialize, err)
	}
	return data, nil
}

// serverAnnounce and serverUnannounce are the decoded forms of the two
// server->client control messages the core acts on. `properties` messages
// are informational only and are parsed, then discarded.
type serverAnnounce struct {
	Name   string
	ID     int32
	Pubuid *int32
	Type   Type
	Raw    map[string]any
}

type serverUnannounce struct {
	Name string
	ID   int32
}

// decodeControlBatch parses one JSON control-plane text frame into the
// announce/unannounce messages it carries. Unknown methods and malformed
// elements are ignored per §4.1 — a single bad element never fails the
// whole batch.
func decodeControlBatch(data []byte) (announces []serverAnnounce, unannounces []serverUnannounce, err error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", nt4err.ErrDeserialize, err)
	}

	for _, elem := range elems {
		var env controlEnvelope
		if err := json.Unmarshal(elem, &env); err != nil {
			continue
		}
		switch env.Method {
		case "announce":
			var p announceParams
			if err := json.Unmarshal(env.Params, &p); err != nil {
				continue
			}
			typ, ok := TypeFromString(p.Type)
			if !ok {
				continue
			}
			announces = append(announces, serverAnnounce{
				Name: p.Name, ID: p.ID, Pubuid: p.Pubuid, Type: typ, Raw: p.Properties,
			})
		case "unannounce":
			var p unannounceParams
			if err := json.Unmarshal(env.Params, &p); err != nil {
				continue
			}
			unannounces = append(unannounces, serverUnannounce{Name: p.Name, ID: p.ID})
		case "properties":
			// Informational only; no action taken client-side (§9 open question).
		default:
			// Unknown methods are ignored per §4.1.
		}
	}
	return announces, unannounces, nil
}

// valueFrame is the decoded form of one binary data-plane 4-tuple:
// [id, timestamp, typecode, value].
type valueFrame struct {
	ID        int32
	Timestamp uint32
	Type      Type
	Value     any
}

// encodeValueFrame builds the MessagePack array for one published or
// probed value.
func encodeValueFrame(f valueFrame) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(4); err != nil {
		return nil, fmt.Errorf("%w: %v", nt4err.ErrSerialize, err)
	}
	if err := enc.EncodeInt(int64(f.ID)); err != nil {
		return nil, fmt.Errorf("%w: %v", nt4err.ErrSerialize, err)
	}
	if err := enc.EncodeUint(uint64(f.Timestamp)); err != nil {
		return nil, fmt.Errorf("%w: %v", nt4err.ErrSerialize, err)
	}
	if err := enc.EncodeUint(uint64(f.Type)); err != nil {
		return nil, fmt.Errorf("%w: %v", nt4err.ErrSerialize, err)
	}
	if err := enc.Encode(f.Value); err != nil {
		return nil, fmt.Errorf("%w: %v", nt4err.ErrSerialize, err)
	}
	return buf.Bytes(), nil
}

// valueKindMatchesType reports whether value's decoded MessagePack kind
// plausibly agrees with typ's wire TypeTag, per §4.1. Array element kinds
// are not inspected; only the top-level shape is checked.
func valueKindMatchesType(typ Type, value any) bool {
	switch typ {
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeDouble, TypeFloat:
		switch value.(type) {
		case float32, float64:
			return true
		default:
			return false
		}
	case TypeInt:
		switch value.(type) {
		case int64, uint64, int, int8, uint8, int16, uint16, int32, uint32:
			return true
		default:
			return false
		}
	case TypeString, TypeJSON:
		_, ok := value.(string)
		return ok
	case TypeRaw, TypeRPC, TypeMsgpack, TypeProtobuf:
		_, ok := value.([]byte)
		return ok
	case TypeBooleanArray, TypeDoubleArray, TypeIntArray, TypeFloatArray, TypeStringArray:
		switch value.(type) {
		case []any, []bool, []float64, []float32, []int64, []string:
			return true
		default:
			return false
		}
	default:
		return true
	}
}

// decodeValueFrames reads a binary frame as a stream of concatenated
// MessagePack values, per §4.1. Any top-level value whose array length is
// not 4 is skipped (its elements consumed so the stream stays in sync)
// rather than aborting the whole frame.
func decodeValueFrames(data []byte) ([]valueFrame, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	var frames []valueFrame

	for {
		n, err := dec.DecodeArrayLen()
		if err == io.EOF {
			break
		}
		if err != nil {
			return frames, fmt.Errorf("%w: %v", nt4err.ErrDeserialize, err)
		}

		if n != 4 {
			for i := 0; i < n; i++ {
				if _, err := dec.DecodeInterface(); err != nil {
					return frames, fmt.Errorf("%w: %v", nt4err.ErrDeserialize, err)
				}
			}
			continue
		}

		id, err := dec.DecodeInt64()
		if err != nil {
			return frames, fmt.Errorf("%w: %v", nt4err.ErrDeserialize, err)
		}
		ts, err := dec.DecodeUint64()
		if err != nil {
			return frames, fmt.Errorf("%w: %v", nt4err.ErrDeserialize, err)
		}
		typecode, err := dec.DecodeUint64()
		if err != nil {
			return frames, fmt.Errorf("%w: %v", nt4err.ErrDeserialize, err)
		}
		value, err := dec.DecodeInterface()
		if err != nil {
			return frames, fmt.Errorf("%w: %v", nt4err.ErrDeserialize, err)
		}

		frames = append(frames, valueFrame{
			ID:        int32(id),
			Timestamp: uint32(ts),
			Type:      Type(typecode),
			Value:     value,
		})
	}

	return frames, nil
}
