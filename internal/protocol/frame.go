// Package protocol implements the wire framing shared by the server and client.
//
// Every message is one frame:
//
//	[length uint32 big-endian][payload: length bytes]
//
// A request payload is an argument vector: a uint32 count followed by each
// string as a uint32 length and its bytes. A response payload is UTF-8 text.
// The header alone says how many bytes complete the frame, so a reader never
// guesses message boundaries from how full its buffer is.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the size of the length prefix in bytes.
	HeaderSize = 4

	// DefaultMaxFrameSize caps a single payload unless configured otherwise.
	DefaultMaxFrameSize uint32 = 16 << 20
)

var (
	// ErrFraming marks malformed or truncated frames. It is fatal for the connection.
	ErrFraming = errors.New("protocol framing error")

	// ErrFrameTooLarge is returned when a declared length exceeds the limit.
	ErrFrameTooLarge = fmt.Errorf("%w: frame too large", ErrFraming)
)

// WriteFrame writes payload with its length prefix. Callers using a buffered
// writer must flush it.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return fmt.Errorf("%w: payload of %d bytes", ErrFrameTooLarge, len(payload))
	}
	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads exactly one frame. A clean end of stream before any header
// byte returns io.EOF; a partial header or payload is ErrFraming.
func ReadFrame(r io.Reader, limit uint32) ([]byte, error) {
	if limit == 0 {
		limit = DefaultMaxFrameSize
	}

	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated header", ErrFraming)
		}
		return nil, err
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if n > limit {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFrameTooLarge, n, limit)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated payload (want %d bytes)", ErrFraming, n)
		}
		return nil, err
	}
	return payload, nil
}
