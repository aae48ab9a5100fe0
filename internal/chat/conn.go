// Package chat connects transport sockets to the session registry.
package chat

import "context"

// Conn abstracts a bidirectional byte stream for both TCP and WebSocket.
// Chunk boundaries carry no meaning: framing is done on top of Read.
type Conn interface {
	// Read returns the next chunk of bytes received from the peer.
	// Returns io.EOF when the peer closed the connection.
	Read(ctx context.Context) ([]byte, error)

	// Write sends already framed bytes to the peer.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
