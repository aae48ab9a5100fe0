// Package ws adapts WebSocket connections to the chat connection interface.
// Each binary message carries a chunk of the same length-prefixed stream
// used over raw TCP.
package ws

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Transport names this transport in logs and metrics.
const Transport = "websocket"

// closeTimeout bounds the wait for the closing handshake frame to be written.
const closeTimeout = time.Second

// Conn adapts an upgraded or dialed gobwas/ws connection to chat.Conn.
type Conn struct {
	conn  net.Conn
	rw    io.ReadWriter
	state ws.State
	mu    sync.Mutex
}

// NewServerConn wraps a connection accepted and upgraded by the server.
func NewServerConn(conn net.Conn) *Conn {
	return newConn(conn, nil, ws.StateServerSide)
}

// NewClientConn wraps a connection returned by ws.Dial. br holds bytes the
// handshake read past the response and may be nil.
func NewClientConn(conn net.Conn, br *bufio.Reader) *Conn {
	return newConn(conn, br, ws.StateClientSide)
}

func newConn(conn net.Conn, br *bufio.Reader, state ws.State) *Conn {
	c := &Conn{conn: conn, state: state}
	var r io.Reader = conn
	if br != nil {
		r = br
	}
	// control frame replies written while reading share the write lock
	c.rw = struct {
		io.Reader
		io.Writer
	}{r, lockedWriter{c}}
	return c
}

type lockedWriter struct{ c *Conn }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	return w.c.conn.Write(p)
}

// Read implements chat.Conn.
// Returns the payload of the next data message. A close frame from the peer
// reads as io.EOF.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, _, err := wsutil.ReadData(c.rw, c.state)
	if err != nil {
		var closed wsutil.ClosedError
		if errors.As(err, &closed) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

// Write implements chat.Conn.
// Writes a binary message to the WebSocket connection.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsutil.WriteMessage(c.conn, c.state, ws.OpBinary, data)
}

// Close implements chat.Conn.
// Sends a normal closure frame before closing the socket.
func (c *Conn) Close() error {
	c.mu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(closeTimeout))
	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
	_ = wsutil.WriteMessage(c.conn, c.state, ws.OpClose, body)
	c.mu.Unlock()
	return c.conn.Close()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
