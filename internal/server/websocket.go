package server

import (
	"net/http"
	"strings"

	"github.com/gobwas/ws"
)

// newUpgrader returns a WebSocket upgrader that only accepts requests for path.
func newUpgrader(path string) ws.Upgrader {
	return ws.Upgrader{
		OnRequest: func(uri []byte) error {
			requested, _, _ := strings.Cut(string(uri), "?")
			if requested != path {
				return ws.RejectConnectionError(
					ws.RejectionStatus(http.StatusNotFound),
					ws.RejectionReason("unknown path "+requested),
				)
			}
			return nil
		},
	}
}

// upgrade completes the WebSocket handshake on conn, whose reader already
// holds the peeked request line.
func (s *Server) upgrade(conn *bufferedConn) error {
	_, err := s.upgrader.Upgrade(conn)
	return err
}
