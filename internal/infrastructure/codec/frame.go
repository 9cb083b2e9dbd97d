// Package codec classifies and decodes the two wire encodings the broker
// relays: JSON text control messages and length-prefixed binary frames.
// Nothing here mutates the input buffers.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the binary frame header: one kind byte and a big-endian
// uint32 payload length.
const HeaderSize = 5

// KindSimulatedImage tags a 512x512 RGBA simulation image.
const KindSimulatedImage byte = 's'

var (
	ErrShortHeader = errors.New("frame shorter than header")
	ErrTruncated   = errors.New("declared length exceeds available bytes")
	ErrTrailing    = errors.New("bytes after declared payload")
	ErrNotObject   = errors.New("text message is not a JSON object")
)

type Frame struct {
	Kind    byte
	Payload []byte
}

// DecodeError reports a malformed message. It wraps one of the sentinel errors.
type DecodeError struct {
	Err       error
	Declared  uint32
	Available int
}

func (e *DecodeError) Error() string {
	if e.Declared > 0 || e.Available > 0 {
		return fmt.Sprintf("decode: %v (declared %d, available %d)", e.Err, e.Declared, e.Available)
	}
	return fmt.Sprintf("decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode parses one binary frame. The returned payload aliases b.
func Decode(b []byte) (Frame, error) {
	if len(b) < HeaderSize {
		return Frame{}, &DecodeError{Err: ErrShortHeader, Available: len(b)}
	}

	declared := binary.BigEndian.Uint32(b[1:HeaderSize])
	available := len(b) - HeaderSize
	switch {
	case uint64(declared) > uint64(available):
		return Frame{}, &DecodeError{Err: ErrTruncated, Declared: declared, Available: available}
	case uint64(declared) < uint64(available):
		return Frame{}, &DecodeError{Err: ErrTrailing, Declared: declared, Available: available}
	}

	return Frame{Kind: b[0], Payload: b[HeaderSize:]}, nil
}

// Encode builds the wire form of f.
func Encode(f Frame) []byte {
	return AppendFrame(make([]byte, 0, HeaderSize+len(f.Payload)), f)
}

func AppendFrame(dst []byte, f Frame) []byte {
	var hdr [HeaderSize]byte
	hdr[0] = f.Kind
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(f.Payload)))
	dst = append(dst, hdr[:]...)
	return append(dst, f.Payload...)
}

// KindName renders a frame kind for logs and metrics.
func KindName(kind byte) string {
	if kind == KindSimulatedImage {
		return "simulated_image"
	}
	if kind >= 0x20 && kind < 0x7f {
		return string(rune(kind))
	}
	return fmt.Sprintf("0x%02x", kind)
}
