// Package wire holds the framing and msgpack encoding shared by stream transports.
//
// A frame is a 4-byte big-endian length, a 1-byte type and the payload. The
// length counts the type byte and the payload.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderLen is the fixed length prefix plus the type byte.
const HeaderLen = 5

var (
	ErrShortHeader     = errors.New("wire: short frame header")
	ErrEmptyFrame      = errors.New("wire: frame length is zero")
	ErrPayloadTooLarge = errors.New("wire: payload too large")
)

// Frame is one complete wire message.
type Frame struct {
	Type    uint8
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 8 * 1024 * 1024}
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:4]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		// a clean EOF between frames is the normal end of the stream
		return Frame{}, err
	}

	n := binary.BigEndian.Uint32(hdr[:4])
	if n == 0 {
		return Frame{}, ErrEmptyFrame
	}
	if n-1 > limits.MaxPayloadBytes {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, n-1)
	}

	if _, err := io.ReadFull(r, hdr[4:5]); err != nil {
		return Frame{}, ErrShortHeader
	}

	payload := make([]byte, n-1)
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: hdr[4], Payload: payload}, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if uint64(len(f.Payload)) > uint64(limits.MaxPayloadBytes) {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(f.Payload))
	}

	buf := make([]byte, HeaderLen+len(f.Payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(f.Payload)+1))
	buf[4] = f.Type
	copy(buf[HeaderLen:], f.Payload)

	// one Write per frame keeps frames whole on shared writers
	_, err := w.Write(buf)
	return err
}
