// Package codec converts entity payloads to and from their wire
// representation.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec is implemented by objects that can encode and decode entity
// payloads.
type Codec interface {
	// Name identifies the codec, e.g. "json".
	Name() string

	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

var (
	// JSON encodes payloads as JSON documents.
	JSON Codec = jsonCodec{}

	// MsgPack encodes payloads as MessagePack maps.
	MsgPack Codec = msgpackCodec{}
)

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return MsgPack, nil
	default:
		return nil, fmt.Errorf("unsupported codec %q", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

// Merge encodes base, decodes it into a generic map and overlays the
// attributes in extra. It is used to inject metadata attributes (keys,
// handles) into caller-supplied payloads.
func Merge(c Codec, base interface{}, extra map[string]interface{}) ([]byte, error) {
	attrs := make(map[string]interface{})
	if base != nil {
		raw, err := c.Marshal(base)
		if err != nil {
			return nil, err
		}
		if err = c.Unmarshal(raw, &attrs); err != nil {
			return nil, fmt.Errorf("payload is not an object: %w", err)
		}
		if attrs == nil {
			attrs = make(map[string]interface{})
		}
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return c.Marshal(attrs)
}
