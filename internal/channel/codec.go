package channel

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Native messaging framing: each message is a 32-bit little-endian length
// followed by that many bytes of JSON. The browser rejects host-to-browser
// frames over 1 MiB, so the codec enforces the same cap both ways.
const MaxFrameSize = 1 << 20

// ErrFrameTooLarge reports a frame exceeding MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// WriteFrame marshals v and writes one length-prefixed frame.
func WriteFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("write frame: marshal: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("write frame: %d bytes: %w", len(data), ErrFrameTooLarge)
	}

	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(data)))
	if _, err := w.Write(length[:]); err != nil {
		return fmt.Errorf("write frame: length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame: body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and unmarshals it into v.
// Returns io.EOF at a clean end of stream.
func ReadFrame(r io.Reader, v any) error {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("read frame: length: %w", err)
	}

	n := binary.LittleEndian.Uint32(length[:])
	if n > MaxFrameSize {
		return fmt.Errorf("read frame: %d bytes: %w", n, ErrFrameTooLarge)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("read frame: body: %w", err)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("read frame: unmarshal: %w", err)
	}
	return nil
}
