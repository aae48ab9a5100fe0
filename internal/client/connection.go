package client

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/gobwas/ws"

	"github.com/omochice/relay-chat/internal/chat"
	"github.com/omochice/relay-chat/internal/transport/tcp"
	wstransport "github.com/omochice/relay-chat/internal/transport/ws"
)

// DefaultPort is the relay port used when none is given.
const DefaultPort = 5464

// DefaultWebSocketPath is the upgrade path used when a ws:// address has none.
const DefaultWebSocketPath = "/ws"

// target resolves the user supplied address and port. A ws:// or wss://
// address selects the WebSocket transport; anything else is a raw TCP host.
func target(address string, port int) (string, bool, error) {
	if port <= 0 {
		port = DefaultPort
	}

	if !strings.HasPrefix(address, "ws://") && !strings.HasPrefix(address, "wss://") {
		if address == "" {
			address = "localhost"
		}
		return net.JoinHostPort(address, strconv.Itoa(port)), false, nil
	}

	u, err := url.Parse(address)
	if err != nil {
		return "", false, fmt.Errorf("invalid address %q: %w", address, err)
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
	}
	if u.Path == "" {
		u.Path = DefaultWebSocketPath
	}
	return u.String(), true, nil
}

// dial opens a connection to the relay over the transport the address selects.
func dial(ctx context.Context, address string, port int) (chat.Conn, error) {
	addr, websocket, err := target(address, port)
	if err != nil {
		return nil, err
	}

	if websocket {
		conn, br, _, err := ws.Dial(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to server: %w", err)
		}
		return wstransport.NewClientConn(conn, br), nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return tcp.NewConn(conn), nil
}
