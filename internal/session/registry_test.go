package session_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/relay-chat/internal/session"
	"github.com/omochice/relay-chat/pkg/protocol"
)

var fixedNow = time.Date(2026, 10, 17, 14, 3, 9, 0, time.UTC)

func newRegistry() *session.Registry {
	return session.New(session.WithClock(func() time.Time { return fixedNow }))
}

// auth registers name on a fresh connection and returns the connection id.
func auth(t *testing.T, r *session.Registry, name, interlocutor string) (uuid.UUID, []session.Outbound) {
	t.Helper()
	conn := uuid.New()
	out := r.Dispatch(conn, protocol.NewAuth(name, interlocutor))
	require.NotEmpty(t, out)
	require.Equal(t, protocol.TypeAuthSuccess, out[0].Message.Type, "auth of %s failed: %s", name, out[0].Message.Notice)
	return conn, out
}

// sentTo filters the outbound messages addressed to conn.
func sentTo(out []session.Outbound, conn uuid.UUID) []protocol.Message {
	var msgs []protocol.Message
	for _, o := range out {
		if o.To == conn {
			msgs = append(msgs, o.Message)
		}
	}
	return msgs
}

func interlocutorOf(t *testing.T, r *session.Registry, name string) string {
	t.Helper()
	s, ok := r.Lookup(name)
	require.True(t, ok, "session %s not registered", name)
	return s.Interlocutor
}

func TestRegistry_AuthWaitsForAbsentInterlocutor(t *testing.T) {
	r := newRegistry()

	alice, out := auth(t, r, "alice", "bob")

	require.Len(t, out, 1)
	assert.Equal(t, alice, out[0].To)
	assert.Equal(t, protocol.NewAuthSuccess("alice", "bob", false), out[0].Message)
	assert.False(t, out[0].Close)

	s, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.True(t, s.Authenticated)
	assert.Equal(t, "bob", s.Interlocutor)
	assert.Equal(t, alice, s.Conn)

	name, ok := r.NameOf(alice)
	require.True(t, ok)
	assert.Equal(t, "alice", name)
}

func TestRegistry_MutualAuthPairsBothSides(t *testing.T) {
	r := newRegistry()
	alice, _ := auth(t, r, "alice", "bob")
	bob, out := auth(t, r, "bob", "alice")

	assert.Equal(t, []protocol.Message{
		protocol.NewAuthSuccess("bob", "alice", true),
		protocol.NewInterlocutorConnected("alice"),
	}, sentTo(out, bob))
	assert.Equal(t, []protocol.Message{
		protocol.NewInterlocutorConnected("bob"),
	}, sentTo(out, alice))

	assert.True(t, r.Paired("alice", "bob"))
}

func TestRegistry_AuthValidation(t *testing.T) {
	tests := []struct {
		name         string
		clientName   string
		interlocutor string
		wantErr      error
	}{
		{"both empty", "", "", session.ErrEmptyName},
		{"empty interlocutor", "client", "", session.ErrEmptyName},
		{"empty client", "", "interlocutor", session.ErrEmptyName},
		{"self pairing", "same", "same", session.ErrSelfPairing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRegistry()
			conn := uuid.New()

			out := r.Dispatch(conn, protocol.NewAuth(tt.clientName, tt.interlocutor))

			require.Len(t, out, 1)
			assert.Equal(t, conn, out[0].To)
			assert.Equal(t, protocol.TypeAuthError, out[0].Message.Type)
			assert.Equal(t, tt.wantErr.Error(), out[0].Message.Notice)
			assert.True(t, out[0].Close, "auth failure must close the connection")
			assert.Zero(t, r.Len())
		})
	}
}

func TestRegistry_AuthDuplicateName(t *testing.T) {
	r := newRegistry()
	x, _ := auth(t, r, "x", "y")

	conn := uuid.New()
	out := r.Dispatch(conn, protocol.NewAuth("x", "z"))

	require.Len(t, out, 1)
	assert.Equal(t, conn, out[0].To)
	assert.Equal(t, protocol.TypeAuthError, out[0].Message.Type)
	assert.Contains(t, out[0].Message.Notice, "already taken")
	assert.True(t, out[0].Close)

	s, ok := r.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, x, s.Conn)
	assert.Equal(t, "y", s.Interlocutor)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_AuthAgainstRegisteredInterlocutor(t *testing.T) {
	t.Run("interlocutor paired with someone else", func(t *testing.T) {
		r := newRegistry()
		auth(t, r, "client1", "client2")
		auth(t, r, "client2", "client1")

		err := r.ValidateAuth(uuid.New(), "client3", "client2")
		assert.ErrorIs(t, err, session.ErrInterlocutorBusy)
	})

	t.Run("interlocutor waiting with no target", func(t *testing.T) {
		r := newRegistry()
		auth(t, r, "a", "b")
		b, _ := auth(t, r, "b", "a")
		a, _ := r.Lookup("a")
		r.Disconnect(a.Conn)
		assert.Empty(t, interlocutorOf(t, r, "b"))

		out := r.Dispatch(uuid.New(), protocol.NewAuth("c", "b"))
		require.Len(t, out, 1)
		assert.Equal(t, protocol.TypeAuthError, out[0].Message.Type)
		assert.Contains(t, out[0].Message.Notice, "already waiting for another connection")
		assert.Empty(t, sentTo(out, b))
	})

	t.Run("interlocutor targeting someone offline", func(t *testing.T) {
		r := newRegistry()
		auth(t, r, "b", "zed")

		err := r.ValidateAuth(uuid.New(), "c", "b")
		assert.ErrorIs(t, err, session.ErrInterlocutorBusy)
	})
}

func TestRegistry_AuthTwiceOnSameConnection(t *testing.T) {
	r := newRegistry()
	conn, _ := auth(t, r, "alice", "bob")

	out := r.Dispatch(conn, protocol.NewAuth("carol", "dave"))

	require.Len(t, out, 1)
	assert.Equal(t, protocol.TypeAuthError, out[0].Message.Type)
	assert.Equal(t, session.ErrAlreadyAuthenticated.Error(), out[0].Message.Notice)
	assert.True(t, out[0].Close)
	_, ok := r.Lookup("carol")
	assert.False(t, ok)
}

func TestRegistry_MessageForwardedToPairedInterlocutor(t *testing.T) {
	r := newRegistry()
	alice, _ := auth(t, r, "alice", "bob")
	bob, _ := auth(t, r, "bob", "alice")

	out := r.Dispatch(alice, protocol.NewText("hi"))

	require.Len(t, out, 1)
	assert.Equal(t, bob, out[0].To)
	assert.Equal(t, protocol.NewRelayed("alice", "hi", "14:03:09"), out[0].Message)
}

func TestRegistry_MessageWithoutInterlocutor(t *testing.T) {
	r := newRegistry()
	auth(t, r, "a", "b")
	b, _ := auth(t, r, "b", "a")
	a, _ := r.Lookup("a")
	r.Disconnect(a.Conn)

	out := r.Dispatch(b, protocol.NewText("anyone?"))

	require.Len(t, out, 1)
	assert.Equal(t, b, out[0].To)
	assert.Equal(t, protocol.TypeMessage, out[0].Message.Type)
	assert.Equal(t, session.SystemSender, out[0].Message.Sender)
	assert.Equal(t, session.NoticeNotPaired, out[0].Message.Text)
}

func TestRegistry_MessageToOfflineInterlocutor(t *testing.T) {
	r := newRegistry()
	alice, _ := auth(t, r, "alice", "bob")

	out := r.Dispatch(alice, protocol.NewText("hello?"))

	require.Len(t, out, 1)
	assert.Equal(t, alice, out[0].To)
	assert.Equal(t, protocol.NewInterlocutorOffline(), out[0].Message)
}

func TestRegistry_StalePointerDropsSilently(t *testing.T) {
	r := newRegistry()
	a, _ := auth(t, r, "a", "b")
	auth(t, r, "b", "c")
	// b points at the offline c, so a's message must not reach b.
	out := r.Dispatch(a, protocol.NewText("psst"))
	assert.Empty(t, out)
}

func TestRegistry_MessageFromUnknownConnectionIsDropped(t *testing.T) {
	r := newRegistry()
	auth(t, r, "alice", "bob")

	assert.Empty(t, r.Dispatch(uuid.New(), protocol.NewText("spoof")))
	assert.Empty(t, r.Dispatch(uuid.New(), protocol.NewChangeInterlocutor("alice")))
}

func TestRegistry_UnexpectedTypesAreDropped(t *testing.T) {
	r := newRegistry()
	alice, _ := auth(t, r, "alice", "bob")

	assert.Empty(t, r.Dispatch(alice, protocol.NewInterlocutorOffline()))
	assert.Empty(t, r.Dispatch(alice, protocol.Message{Type: "typing"}))
}

func TestRegistry_DisconnectNotifiesPairedInterlocutor(t *testing.T) {
	r := newRegistry()
	a, _ := auth(t, r, "a", "b")
	b, _ := auth(t, r, "b", "a")

	out := r.Disconnect(a)

	require.Len(t, out, 1)
	assert.Equal(t, b, out[0].To)
	assert.Equal(t, protocol.NewInterlocutorDisconnected(), out[0].Message)
	assert.Empty(t, interlocutorOf(t, r, "b"))

	_, ok := r.Lookup("a")
	assert.False(t, ok)
	_, ok = r.NameOf(a)
	assert.False(t, ok)

	assert.Empty(t, r.Disconnect(a), "second disconnect must be a no-op")
}

func TestRegistry_DisconnectUnauthenticatedConnection(t *testing.T) {
	r := newRegistry()
	auth(t, r, "a", "b")

	assert.Empty(t, r.Disconnect(uuid.New()))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_DisconnectLeavesMovedOnPeerAlone(t *testing.T) {
	r := newRegistry()
	a, _ := auth(t, r, "a", "b")
	auth(t, r, "b", "c")

	assert.Empty(t, r.Disconnect(a))
	assert.Equal(t, "c", interlocutorOf(t, r, "b"))
}

func TestRegistry_ChangeInterlocutorToFreeClient(t *testing.T) {
	r := newRegistry()
	a, _ := auth(t, r, "a", "b")
	b, _ := auth(t, r, "b", "a")
	c, _ := auth(t, r, "c", "d")
	// free c by dropping its target.
	d, _ := auth(t, r, "d", "c")
	r.Disconnect(d)
	require.Empty(t, interlocutorOf(t, r, "c"))

	out := r.Dispatch(a, protocol.NewChangeInterlocutor("c"))

	assert.Equal(t, []protocol.Message{protocol.NewInterlocutorDisconnected()}, sentTo(out, b))
	assert.Equal(t, []protocol.Message{protocol.NewInterlocutorConnected("a")}, sentTo(out, c))
	assert.Equal(t, []protocol.Message{protocol.NewInterlocutorChanged("c", true)}, sentTo(out, a))

	assert.Empty(t, interlocutorOf(t, r, "b"))
	assert.True(t, r.Paired("a", "c"))
}

func TestRegistry_ChangeInterlocutorToOfflineName(t *testing.T) {
	r := newRegistry()
	a, _ := auth(t, r, "a", "b")
	b, _ := auth(t, r, "b", "a")

	out := r.Dispatch(a, protocol.NewChangeInterlocutor("nobody"))

	assert.Equal(t, []protocol.Message{protocol.NewInterlocutorDisconnected()}, sentTo(out, b))
	assert.Equal(t, []protocol.Message{protocol.NewInterlocutorChanged("nobody", false)}, sentTo(out, a))
	assert.Equal(t, "nobody", interlocutorOf(t, r, "a"))
}

func TestRegistry_ChangeInterlocutorToWaitingPeer(t *testing.T) {
	r := newRegistry()
	c, _ := auth(t, r, "c", "a")
	a, _ := auth(t, r, "a", "x")

	out := r.Dispatch(a, protocol.NewChangeInterlocutor("c"))

	assert.Equal(t, []protocol.Message{protocol.NewInterlocutorChanged("c", true)}, sentTo(out, a))
	assert.Equal(t, []protocol.Message{protocol.NewInterlocutorConnected("a")}, sentTo(out, c))
	assert.True(t, r.Paired("a", "c"))
}

func TestRegistry_ChangeInterlocutorValidation(t *testing.T) {
	r := newRegistry()
	a, _ := auth(t, r, "a", "b")
	auth(t, r, "b", "a")
	auth(t, r, "c", "zed")

	tests := []struct {
		name    string
		target  string
		wantErr error
	}{
		{"empty", "", session.ErrEmptyName},
		{"self", "a", session.ErrSelfPairing},
		{"busy", "c", session.ErrInterlocutorBusy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := r.Dispatch(a, protocol.NewChangeInterlocutor(tt.target))

			require.Len(t, out, 1)
			assert.Equal(t, a, out[0].To)
			assert.Equal(t, protocol.TypeInterlocutorChangeError, out[0].Message.Type)
			assert.Contains(t, out[0].Message.Notice, tt.wantErr.Error())
			assert.False(t, out[0].Close, "change errors keep the connection open")

			assert.Equal(t, "b", interlocutorOf(t, r, "a"))
			assert.True(t, r.Paired("a", "b"))
		})
	}
}

func TestRegistry_ChangeInterlocutorToCurrentPeer(t *testing.T) {
	r := newRegistry()
	a, _ := auth(t, r, "a", "b")
	b, _ := auth(t, r, "b", "a")

	out := r.Dispatch(a, protocol.NewChangeInterlocutor("b"))

	assert.Equal(t, []protocol.Message{protocol.NewInterlocutorChanged("b", true)}, sentTo(out, a))
	assert.Equal(t, []protocol.Message{protocol.NewInterlocutorConnected("a")}, sentTo(out, b))
	assert.True(t, r.Paired("a", "b"))
}

func TestRegistry_Snapshot(t *testing.T) {
	r := newRegistry()
	auth(t, r, "bob", "alice")
	auth(t, r, "alice", "bob")
	auth(t, r, "carol", "dave")

	assert.Equal(t, []session.Info{
		{Name: "alice", Interlocutor: "bob", Paired: true},
		{Name: "bob", Interlocutor: "alice", Paired: true},
		{Name: "carol", Interlocutor: "dave", Paired: false},
	}, r.Snapshot())
}
