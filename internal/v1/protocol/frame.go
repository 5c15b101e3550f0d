// Package protocol implements the session-framed TCP wire protocol described
// in spec §4.2-§4.3 and §6.1: the length-prefixed frame codec, the
// pre-handshake control frames, and the post-handshake command/event
// envelopes shared by the TCP adapter, the WebSocket adapter, and the
// terminal client.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameLength bounds the per-frame allocation. A frame whose declared
// length exceeds this is a protocol violation (§4.2, §8 boundary behaviors).
const MaxFrameLength = 1 << 20 // 1 MiB

// lengthPrefixSize is the size in bytes of the big-endian frame length
// prefix (§4.2: "4-byte big-endian unsigned length L").
const lengthPrefixSize = 4

// ErrFrameTooLarge is returned by ReadFrame when the declared frame length
// exceeds MaxFrameLength. This is connection-fatal per §4.3.
var ErrFrameTooLarge = fmt.Errorf("protocol: frame exceeds maximum length of %d bytes", MaxFrameLength)

// ErrEmptyFrame is returned by ReadFrame for a zero-length frame (§8:
// "Frame of size 0: rejected").
var ErrEmptyFrame = fmt.Errorf("protocol: empty frame")

// ReadFrame blocks until a complete length-prefixed frame has been read from
// r, or returns an error. A short read on the underlying reader is not
// itself an error — io.ReadFull absorbs partial reads by looping until L
// bytes accumulate, exactly as §4.2 requires ("readers buffer until L is
// known, then until L bytes accumulate; a short read is not an error").
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return nil, ErrEmptyFrame
	}
	if length > MaxFrameLength {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("protocol: short read on frame payload: %w", err)
	}
	return payload, nil
}

// WriteFrame writes payload to w as a single length-prefixed frame. It
// rejects empty and oversized payloads before touching the writer so a
// caller never emits a frame the peer would reject.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	if len(payload) > MaxFrameLength {
		return ErrFrameTooLarge
	}

	buf := make([]byte, lengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:lengthPrefixSize], uint32(len(payload)))
	copy(buf[lengthPrefixSize:], payload)

	_, err := w.Write(buf)
	return err
}
