// Package frame implements the stream framing shared by the relay server and
// its clients: every payload is preceded by its length as a 4-byte big-endian
// unsigned integer.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"math"
)

// HeaderSize is the size of the length prefix.
const HeaderSize = 4

// DefaultMaxSize is the largest payload a Buffer accepts unless told otherwise (1MB).
const DefaultMaxSize = 1024 * 1024

var (
	// ErrFrameTooLarge is returned when a payload exceeds the allowed size.
	ErrFrameTooLarge = errors.New("frame: payload exceeds maximum size")
	// ErrTornFrame is returned when a stream ends in the middle of a frame.
	ErrTornFrame = errors.New("frame: stream ended inside a frame")
)

// Encode returns payload prefixed with its 4-byte big-endian length.
func Encode(payload []byte) ([]byte, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	out := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[HeaderSize:], payload)
	return out, nil
}

// Buffer accumulates the raw bytes of one connection and cuts them into
// complete payloads. It is not safe for concurrent use; each connection owns
// exactly one Buffer for its lifetime.
type Buffer struct {
	maxSize  int
	expected int // declared size of the in-flight payload, 0 while awaiting a prefix
	buf      []byte
}

// NewBuffer creates a Buffer that rejects payloads larger than maxSize.
// A maxSize <= 0 selects DefaultMaxSize.
func NewBuffer(maxSize int) *Buffer {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Buffer{maxSize: maxSize}
}

// Feed appends p to the buffer and returns the sequence of payloads that are
// now complete, in arrival order. The bytes are buffered immediately; the
// payloads are extracted lazily while the sequence is ranged over. Stopping
// early leaves the remaining payloads buffered for the next call.
//
// A declared length above the limit yields a single ErrFrameTooLarge and
// discards everything buffered.
func (b *Buffer) Feed(p []byte) iter.Seq2[[]byte, error] {
	b.buf = append(b.buf, p...)

	return func(yield func([]byte, error) bool) {
		for {
			payload, ok, err := b.next()
			if err != nil {
				yield(nil, err)
				return
			}
			if !ok {
				return
			}
			if !yield(payload, nil) {
				return
			}
		}
	}
}

// next extracts one payload if enough bytes are buffered.
func (b *Buffer) next() ([]byte, bool, error) {
	if b.expected == 0 {
		if len(b.buf) < HeaderSize {
			return nil, false, nil
		}

		size := binary.BigEndian.Uint32(b.buf)
		if uint64(size) > uint64(b.maxSize) {
			b.reset()
			return nil, false, fmt.Errorf("%w: declared %d bytes, limit %d", ErrFrameTooLarge, size, b.maxSize)
		}
		b.consume(HeaderSize)

		if size == 0 {
			return []byte{}, true, nil
		}
		b.expected = int(size)
	}

	if len(b.buf) < b.expected {
		return nil, false, nil
	}

	payload := make([]byte, b.expected)
	copy(payload, b.buf)
	b.consume(b.expected)
	b.expected = 0

	return payload, true, nil
}

func (b *Buffer) consume(n int) {
	b.buf = b.buf[n:]
	if len(b.buf) == 0 {
		b.buf = nil
	}
}

// Abort discards any partially received frame and resets the buffer. It
// returns ErrTornFrame when bytes were pending, so the caller can tell a
// clean end of stream from one that cut a frame short.
func (b *Buffer) Abort() error {
	torn := b.expected > 0 || len(b.buf) > 0
	pending, expected := len(b.buf), b.expected
	b.reset()

	if torn {
		return fmt.Errorf("%w: %d bytes buffered, %d expected", ErrTornFrame, pending, expected)
	}
	return nil
}

// Pending returns the number of buffered bytes not yet returned as payloads.
func (b *Buffer) Pending() int {
	return len(b.buf)
}

// Expected returns the declared size of the in-flight payload, or 0 while
// the buffer waits for a length prefix.
func (b *Buffer) Expected() int {
	return b.expected
}

func (b *Buffer) reset() {
	b.buf = nil
	b.expected = 0
}
