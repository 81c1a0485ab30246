package cache

import (
	"bytes"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Codec converts values to and from their serialized form. The length of the
// encoded form is the entry's size for budget accounting.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// JSONCodec encodes values as JSON.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cache: encode: %w", err)
	}
	return data, nil
}

func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("cache: decode: %w", err)
	}
	return v, nil
}

// BytesCodec stores byte slices as-is. Values are copied in both directions.
type BytesCodec struct{}

func (BytesCodec) Encode(v []byte) ([]byte, error)    { return bytes.Clone(v), nil }
func (BytesCodec) Decode(data []byte) ([]byte, error) { return bytes.Clone(data), nil }

// StringCodec stores strings as their UTF-8 bytes.
type StringCodec struct{}

func (StringCodec) Encode(v string) ([]byte, error)    { return []byte(v), nil }
func (StringCodec) Decode(data []byte) (string, error) { return string(data), nil }

// CodecFuncs adapts a pair of functions to Codec.
type CodecFuncs[T any] struct {
	EncodeFunc func(T) ([]byte, error)
	DecodeFunc func([]byte) (T, error)
}

func (c CodecFuncs[T]) Encode(v T) ([]byte, error)    { return c.EncodeFunc(v) }
func (c CodecFuncs[T]) Decode(data []byte) (T, error) { return c.DecodeFunc(data) }

var (
	_ Codec[int]    = JSONCodec[int]{}
	_ Codec[[]byte] = BytesCodec{}
	_ Codec[string] = StringCodec{}
	_ Codec[int]    = CodecFuncs[int]{}
)
