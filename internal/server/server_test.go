package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/relay-chat/internal/admin"
	"github.com/omochice/relay-chat/internal/chat"
	"github.com/omochice/relay-chat/internal/config"
	"github.com/omochice/relay-chat/internal/server"
	"github.com/omochice/relay-chat/internal/session"
	"github.com/omochice/relay-chat/internal/transport/tcp"
	wstransport "github.com/omochice/relay-chat/internal/transport/ws"
	"github.com/omochice/relay-chat/pkg/frame"
	"github.com/omochice/relay-chat/pkg/protocol"
)

var fixedNow = time.Date(2026, 10, 17, 18, 45, 12, 0, time.UTC)

func startServer(t *testing.T) *server.Server {
	t.Helper()
	cfg := config.Default()
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.AdminAddress = "127.0.0.1:0"
	cfg.ShutdownGracePeriod = time.Second

	srv := server.New(cfg, server.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errc:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop in time")
		}
	})
	return srv
}

// testClient speaks the framed protocol over either transport.
type testClient struct {
	conn    chat.Conn
	buf     *frame.Buffer
	pending []protocol.Message
}

func dialTCP(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	t.Cleanup(func() { conn.Close() })
	return &testClient{conn: tcp.NewConn(conn), buf: frame.NewBuffer(0)}
}

func dialWS(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, br, _, err := ws.Dial(context.Background(), "ws://"+addr+"/ws")
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	t.Cleanup(func() { conn.Close() })
	return &testClient{conn: wstransport.NewClientConn(conn, br), buf: frame.NewBuffer(0)}
}

func (c *testClient) send(t *testing.T, msg protocol.Message) {
	t.Helper()
	data, err := msg.EncodeFrame()
	require.NoError(t, err)
	require.NoError(t, c.conn.Write(context.Background(), data))
}

func (c *testClient) next(t *testing.T) protocol.Message {
	t.Helper()
	for len(c.pending) == 0 {
		chunk, err := c.conn.Read(context.Background())
		require.NoError(t, err)
		for payload, err := range c.buf.Feed(chunk) {
			require.NoError(t, err)
			var msg protocol.Message
			require.NoError(t, msg.Decode(payload))
			c.pending = append(c.pending, msg)
		}
	}
	msg := c.pending[0]
	c.pending = c.pending[1:]
	return msg
}

// pair authenticates a and b as each other's interlocutor.
func pair(t *testing.T, a *testClient, aName string, b *testClient, bName string) {
	t.Helper()
	a.send(t, protocol.NewAuth(aName, bName))
	require.Equal(t, protocol.NewAuthSuccess(aName, bName, false), a.next(t))

	b.send(t, protocol.NewAuth(bName, aName))
	require.Equal(t, protocol.NewAuthSuccess(bName, aName, true), b.next(t))
	require.Equal(t, protocol.NewInterlocutorConnected(aName), b.next(t))
	require.Equal(t, protocol.NewInterlocutorConnected(bName), a.next(t))
}

func TestServer_StartStop(t *testing.T) {
	cfg := config.Default()
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.AdminAddress = ""
	srv := server.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Run(ctx) }()

	// Addr is polled while Run binds the listener on its own goroutine
	require.Eventually(t, func() bool { return srv.Addr() != "" }, time.Second, 5*time.Millisecond)
	assert.Empty(t, srv.AdminAddr())

	addr := srv.Addr()
	require.NoError(t, srv.Listen())
	assert.Equal(t, addr, srv.Addr())

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop in time")
	}
}

func TestServer_ListenAddressInUse(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	cfg := config.Default()
	cfg.ListenAddress = l.Addr().String()
	assert.Error(t, server.New(cfg).Listen())
}

func TestServer_TCPConversation(t *testing.T) {
	srv := startServer(t)
	alice := dialTCP(t, srv.Addr())
	bob := dialTCP(t, srv.Addr())

	pair(t, alice, "alice", bob, "bob")

	alice.send(t, protocol.NewText("hi"))
	assert.Equal(t, protocol.NewRelayed("alice", "hi", "18:45:12"), bob.next(t))

	bob.send(t, protocol.NewText("hello"))
	assert.Equal(t, protocol.NewRelayed("bob", "hello", "18:45:12"), alice.next(t))

	require.NoError(t, alice.conn.Close())
	assert.Equal(t, protocol.NewInterlocutorDisconnected(), bob.next(t))

	bob.send(t, protocol.NewText("still there?"))
	msg := bob.next(t)
	assert.Equal(t, session.SystemSender, msg.Sender)
	assert.Equal(t, session.NoticeNotPaired, msg.Text)
}

func TestServer_CrossTransportConversation(t *testing.T) {
	srv := startServer(t)
	alice := dialWS(t, srv.Addr())
	bob := dialTCP(t, srv.Addr())

	pair(t, alice, "alice", bob, "bob")

	alice.send(t, protocol.NewText("from the browser"))
	assert.Equal(t, protocol.NewRelayed("alice", "from the browser", "18:45:12"), bob.next(t))

	bob.send(t, protocol.NewText("from the terminal"))
	assert.Equal(t, protocol.NewRelayed("bob", "from the terminal", "18:45:12"), alice.next(t))
}

func TestServer_ChangeInterlocutor(t *testing.T) {
	srv := startServer(t)
	a := dialTCP(t, srv.Addr())
	b := dialTCP(t, srv.Addr())
	c := dialWS(t, srv.Addr())

	pair(t, a, "a", b, "b")
	c.send(t, protocol.NewAuth("c", "a"))
	assert.Equal(t, protocol.TypeAuthError, c.next(t).Type)

	c = dialWS(t, srv.Addr())
	c.send(t, protocol.NewAuth("c", "nobody"))
	require.Equal(t, protocol.NewAuthSuccess("c", "nobody", false), c.next(t))

	a.send(t, protocol.NewChangeInterlocutor("c"))
	assert.Equal(t, protocol.TypeInterlocutorChangeError, a.next(t).Type)

	c.send(t, protocol.NewChangeInterlocutor("a"))
	assert.Equal(t, protocol.TypeInterlocutorChangeError, c.next(t).Type)

	b.send(t, protocol.NewChangeInterlocutor("c"))
	assert.Equal(t, protocol.TypeInterlocutorChangeError, b.next(t).Type)
}

func TestServer_AuthFailureClosesConnection(t *testing.T) {
	srv := startServer(t)
	client := dialTCP(t, srv.Addr())

	client.send(t, protocol.NewAuth("", "bob"))
	assert.Equal(t, protocol.NewAuthError(session.ErrEmptyName.Error()), client.next(t))

	_, err := client.conn.Read(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_WebSocketUnknownPath(t *testing.T) {
	srv := startServer(t)

	_, _, _, err := ws.Dial(context.Background(), "ws://"+srv.Addr()+"/chat")
	var status ws.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusNotFound, int(status))
}

func TestServer_AdminSessions(t *testing.T) {
	srv := startServer(t)
	alice := dialTCP(t, srv.Addr())
	bob := dialWS(t, srv.Addr())
	pair(t, alice, "alice", bob, "bob")

	resp, err := http.Get(fmt.Sprintf("http://%s/sessions", srv.AdminAddr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body admin.SessionsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.Connections)
	assert.Equal(t, []session.Info{
		{Name: "alice", Interlocutor: "bob", Paired: true},
		{Name: "bob", Interlocutor: "alice", Paired: true},
	}, body.Sessions)

	metrics, err := http.Get(fmt.Sprintf("http://%s/metrics", srv.AdminAddr()))
	require.NoError(t, err)
	defer metrics.Body.Close()
	raw, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `relay_connections_active{transport="websocket"} 1`)
	assert.Contains(t, string(raw), "relay_sessions_active 2")
}
