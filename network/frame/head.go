// Package frame defines the head that prefixes every frame on the wire and a
// reassembler that cuts a byte stream back into frames.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HEAD_SIZE is the fixed size in bytes of Head.
const HEAD_SIZE = 5 // Flags (1 byte) + BodySize (4 bytes)

// Flags describe how a frame body is to be interpreted.
type Flags uint8

const (
	// FlagControl marks engine control frames (handshake, server disconnect). They never reach the application.
	FlagControl Flags = 1 << iota
	// FlagEncrypted marks bodies produced by the payload codec.
	FlagEncrypted
)

// Has reports whether every bit of f2 is set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

const _knownFlags = FlagControl | FlagEncrypted

var (
	// ErrShortHead is returned when fewer than HEAD_SIZE bytes are decoded.
	ErrShortHead = errors.New("buffer too small to decode frame head")
	// ErrUnknownFlags is returned for heads carrying undefined flag bits.
	ErrUnknownFlags = errors.New("frame head has unknown flags")
	// ErrBodyTooLarge is returned when a head announces a body above the limit.
	ErrBodyTooLarge = errors.New("frame body exceeds limit")
)

// Head is the fixed-size prefix of a frame.
type Head struct {
	Flags    Flags
	BodySize uint32
}

// EncodeHead writes hdr into buf, which must hold at least HEAD_SIZE bytes.
func EncodeHead(hdr Head, buf []byte) {
	buf[0] = byte(hdr.Flags)
	binary.LittleEndian.PutUint32(buf[1:HEAD_SIZE], hdr.BodySize)
}

// DecodeHead parses the first HEAD_SIZE bytes of buf.
func DecodeHead(buf []byte) (Head, error) {
	if len(buf) < HEAD_SIZE {
		return Head{}, ErrShortHead
	}
	hdr := Head{
		Flags:    Flags(buf[0]),
		BodySize: binary.LittleEndian.Uint32(buf[1:HEAD_SIZE]),
	}
	if hdr.Flags&^_knownFlags != 0 {
		return Head{}, fmt.Errorf("%w: %#x", ErrUnknownFlags, uint8(hdr.Flags))
	}
	return hdr, nil
}

// Frame is one decoded frame.
type Frame struct {
	Flags Flags
	Body  []byte
}

// Encode returns head and body in one contiguous slice.
func Encode(flags Flags, body []byte) []byte {
	out := make([]byte, HEAD_SIZE+len(body))
	EncodeHead(Head{Flags: flags, BodySize: uint32(len(body))}, out)
	copy(out[HEAD_SIZE:], body)
	return out
}
