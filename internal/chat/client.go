package chat

import (
	"github.com/google/uuid"
)

// DefaultOutgoingBuffer is the queue length used when none is given.
const DefaultOutgoingBuffer = 64

// Client is one accepted socket. It exists before authentication; the
// registry binds a name to its ID once auth succeeds.
type Client struct {
	ID        uuid.UUID
	Conn      Conn
	Transport string

	// Outgoing holds framed messages waiting for the write loop. Only the
	// hub sends on it and only the hub closes it.
	Outgoing chan []byte

	// closed is owned by the hub goroutine.
	closed bool
}

// NewClient wraps conn with a fresh ID and an outgoing queue of the given size.
func NewClient(conn Conn, transport string, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultOutgoingBuffer
	}
	return &Client{
		ID:        uuid.New(),
		Conn:      conn,
		Transport: transport,
		Outgoing:  make(chan []byte, buffer),
	}
}

// closeOutgoing ends the write loop once the queued frames are flushed.
func (c *Client) closeOutgoing() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.Outgoing)
}
