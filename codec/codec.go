// Package codec encodes cached values.
//
// Two representations are supported: a packed msgpack encoding used by the flat
// string, list, set and sorted-set caches, and JSON text used by the hash-field
// caches. Decoding an empty payload yields ErrNoValue and a payload the decoder
// rejects, or one with bytes left after the first value, yields ErrCorrupt; callers treat both as a cache miss.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrNoValue is returned when there is nothing to decode.
	ErrNoValue = errors.New("no cached value")

	// ErrCorrupt is returned when a cached payload cannot be decoded.
	ErrCorrupt = errors.New("corrupt cached value")
)

// Codec converts application values to and from their cached form.
type Codec interface {
	// Encode serializes v.
	Encode(v any) ([]byte, error)

	// Decode deserializes data into a generic value. Maps decode as map[string]any.
	Decode(data []byte) (any, error)

	// DecodeInto deserializes data into dst, which must be a pointer.
	DecodeInto(data []byte, dst any) error
}

var (
	// Packed is the msgpack codec.
	Packed Codec = packedCodec{}

	// JSON is the JSON text codec used by hash caches.
	JSON Codec = jsonCodec{}
)

// For returns Packed when pack is true and JSON otherwise.
func For(pack bool) Codec {
	if pack {
		return Packed
	}
	return JSON
}

// Pack is shorthand for Packed.Encode.
func Pack(v any) ([]byte, error) {
	return Packed.Encode(v)
}

// Unpack is shorthand for Packed.Decode.
func Unpack(data []byte) (any, error) {
	return Packed.Decode(data)
}

type packedCodec struct{}

func (packedCodec) Encode(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to pack value: %w", err)
	}
	return data, nil
}

func (c packedCodec) Decode(data []byte) (any, error) {
	var out any
	if err := c.DecodeInto(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (packedCodec) DecodeInto(data []byte, dst any) error {
	if len(data) == 0 {
		return ErrNoValue
	}

	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)
	dec.SetMapDecoder(func(d *msgpack.Decoder) (interface{}, error) {
		return d.DecodeMap()
	})
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if r.Len() > 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, r.Len())
	}
	return nil
}

type jsonCodec struct{}

func (jsonCodec) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value as JSON: %w", err)
	}
	return data, nil
}

func (c jsonCodec) Decode(data []byte) (any, error) {
	var out any
	if err := c.DecodeInto(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (jsonCodec) DecodeInto(data []byte, dst any) error {
	if len(data) == 0 {
		return ErrNoValue
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}
