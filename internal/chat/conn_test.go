package chat_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omochice/relay-chat/internal/chat"
	"github.com/omochice/relay-chat/pkg/frame"
	"github.com/omochice/relay-chat/pkg/protocol"
)

// mockConn is a mock implementation of chat.Conn for testing.
type mockConn struct {
	readCh     chan []byte
	closeOnce  sync.Once
	closedCh   chan struct{}
	writtenMu  sync.Mutex
	written    []byte
	remoteAddr string
}

func newMockConn(addr string) *mockConn {
	return &mockConn{
		readCh:     make(chan []byte, 16),
		closedCh:   make(chan struct{}),
		remoteAddr: addr,
	}
}

func (m *mockConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closedCh:
		return nil, io.EOF
	case data, ok := <-m.readCh:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	}
}

func (m *mockConn) Write(ctx context.Context, data []byte) error {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	m.written = append(m.written, data...)
	return nil
}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.closedCh) })
	return nil
}

func (m *mockConn) RemoteAddr() string {
	return m.remoteAddr
}

func (m *mockConn) isClosed() bool {
	select {
	case <-m.closedCh:
		return true
	default:
		return false
	}
}

// send frames msg and queues it as one read chunk.
func (m *mockConn) send(t *testing.T, msg protocol.Message) {
	t.Helper()
	data, err := msg.EncodeFrame()
	require.NoError(t, err)
	m.readCh <- data
}

// received decodes every frame written to the connection so far.
func (m *mockConn) received(t *testing.T) []protocol.Message {
	t.Helper()
	msgs, err := m.decodeWritten()
	require.NoError(t, err)
	return msgs
}

func (m *mockConn) decodeWritten() ([]protocol.Message, error) {
	m.writtenMu.Lock()
	data := append([]byte(nil), m.written...)
	m.writtenMu.Unlock()

	var msgs []protocol.Message
	for payload, err := range frame.NewBuffer(0).Feed(data) {
		if err != nil {
			return nil, err
		}
		var msg protocol.Message
		if err := msg.Decode(payload); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// waitFor blocks until the connection has received n messages.
func (m *mockConn) waitFor(t *testing.T, n int) []protocol.Message {
	t.Helper()
	require.Eventually(t, func() bool {
		msgs, err := m.decodeWritten()
		return err == nil && len(msgs) >= n
	}, time.Second, 5*time.Millisecond, "waiting for %d messages on %s", n, m.remoteAddr)
	return m.received(t)
}

// Compile-time check that mockConn implements chat.Conn
var _ chat.Conn = (*mockConn)(nil)
