// Package codec serializes engine control messages. The active Codec marshals
// protobuf messages; the control helpers in this package build them.
package codec

import (
	"errors"

	"google.golang.org/protobuf/proto"
)

var (
	// errCodecNotInit is returned when an operation is attempted before a Codec
	// has been set.
	errCodecNotInit = errors.New("codec not init")

	// _codec holds the Codec used by the package-level Encode and Decode.
	_codec Codec = &ProtoCodec{}
)

// Codec defines the contract for message serialization.
type Codec interface {
	// Encode marshals m, appending to b.
	Encode(m proto.Message, b []byte) ([]byte, error)
	// Decode unmarshals b into m.
	Decode(b []byte, m proto.Message) error
}

// Encode uses the configured codec to marshal m.
func Encode(m proto.Message, b []byte) ([]byte, error) {
	if _codec == nil {
		return nil, errCodecNotInit
	}
	return _codec.Encode(m, b)
}

// Decode uses the configured codec to unmarshal b into m.
func Decode(b []byte, m proto.Message) error {
	if _codec == nil {
		return errCodecNotInit
	}
	return _codec.Decode(b, m)
}

// SetCodec replaces the global codec. It is not safe for concurrent use and
// should be called during initialization.
func SetCodec(c Codec) {
	_codec = c
}

// ProtoCodec is the default codec: protobuf wire format with deterministic map
// ordering, so that equal messages encode to equal bytes.
type ProtoCodec struct{}

func (c *ProtoCodec) Encode(m proto.Message, b []byte) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.MarshalAppend(b, m)
}

func (c *ProtoCodec) Decode(b []byte, m proto.Message) error {
	return proto.UnmarshalOptions{DiscardUnknown: true}.Unmarshal(b, m)
}
