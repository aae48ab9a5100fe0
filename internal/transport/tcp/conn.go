// Package tcp adapts raw TCP sockets to the chat connection interface.
package tcp

import (
	"context"
	"net"
)

// Transport names this transport in logs and metrics.
const Transport = "tcp"

// DefaultReadSize is the largest chunk returned by a single Read.
const DefaultReadSize = 4096

// Conn adapts net.Conn to chat.Conn interface.
type Conn struct {
	conn     net.Conn
	readSize int
}

// NewConn wraps a net.Conn.
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn, readSize: DefaultReadSize}
}

// Read implements chat.Conn.
// Returns whatever bytes are available, which may hold part of a frame or
// several frames.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, c.readSize)
	n, err := c.conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	return nil, err
}

// Write implements chat.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}
	_, err := c.conn.Write(data)
	return err
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
