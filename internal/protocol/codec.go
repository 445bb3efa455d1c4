package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// EncodeArgs serializes an argument vector into a request payload.
func EncodeArgs(args []string) []byte {
	size := HeaderSize
	for _, a := range args {
		size += HeaderSize + len(a)
	}
	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(args)))
	for _, a := range args {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(a)))
		buf = append(buf, a...)
	}
	return buf
}

// DecodeArgs parses a request payload. Any trailing or missing bytes are ErrFraming.
func DecodeArgs(payload []byte) ([]string, error) {
	if len(payload) < HeaderSize {
		return nil, fmt.Errorf("%w: argument payload shorter than count header", ErrFraming)
	}
	count := binary.BigEndian.Uint32(payload)
	rest := payload[HeaderSize:]

	// Each element needs at least its own length prefix.
	if uint64(count)*HeaderSize > uint64(len(rest)) {
		return nil, fmt.Errorf("%w: argument count %d exceeds payload", ErrFraming, count)
	}

	args := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(rest) < HeaderSize {
			return nil, fmt.Errorf("%w: argument %d missing length", ErrFraming, i)
		}
		n := binary.BigEndian.Uint32(rest)
		rest = rest[HeaderSize:]
		if uint64(n) > uint64(len(rest)) {
			return nil, fmt.Errorf("%w: argument %d truncated", ErrFraming, i)
		}
		args = append(args, string(rest[:n]))
		rest = rest[n:]
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after arguments", ErrFraming, len(rest))
	}
	return args, nil
}

// WriteRequest frames and writes an argument vector.
func WriteRequest(w io.Writer, args []string) error {
	return WriteFrame(w, EncodeArgs(args))
}

// ReadRequest reads and decodes one request frame.
func ReadRequest(r io.Reader, limit uint32) ([]string, error) {
	payload, err := ReadFrame(r, limit)
	if err != nil {
		return nil, err
	}
	return DecodeArgs(payload)
}

// WriteResponse frames and writes response text. Invalid UTF-8 is replaced.
func WriteResponse(w io.Writer, text string) error {
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, string(utf8.RuneError))
	}
	return WriteFrame(w, []byte(text))
}

// ReadResponse reads one response frame as text.
func ReadResponse(r io.Reader, limit uint32) (string, error) {
	payload, err := ReadFrame(r, limit)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
