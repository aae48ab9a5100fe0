// Package client implements the relay chat client core: a connection to the
// server, the session state mirrored from server messages, and an event
// stream for whatever presents it.
package client

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/omochice/relay-chat/internal/chat"
	"github.com/omochice/relay-chat/pkg/frame"
	"github.com/omochice/relay-chat/pkg/protocol"
)

const (
	defaultEventBuffer = 64
	defaultDialTimeout = 5 * time.Second
)

// Client is a relay chat client. Commands are safe for concurrent use;
// results arrive on Events.
type Client struct {
	mu    sync.Mutex
	conn  chat.Conn
	state State

	// closing is closed by Disconnect so the read loop never blocks on
	// Events while the connection is torn down.
	closing chan struct{}
	wg      sync.WaitGroup

	events       chan Event
	log          zerolog.Logger
	maxFrameSize int
	dialTimeout  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithEventBuffer sets the capacity of the Events channel.
func WithEventBuffer(n int) Option {
	return func(c *Client) { c.events = make(chan Event, n) }
}

// WithDialTimeout bounds Connect.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

// New creates a disconnected Client.
func New(opts ...Option) *Client {
	c := &Client{
		events:       make(chan Event, defaultEventBuffer),
		log:          zerolog.Nop(),
		maxFrameSize: frame.DefaultMaxSize,
		dialTimeout:  defaultDialTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events returns the stream of notifications. It is never closed.
func (c *Client) Events() <-chan Event {
	return c.events
}

// State returns a copy of the mirrored session state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected returns whether the client is connected
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect dials the relay. An existing connection is dropped first.
func (c *Client) Connect(ctx context.Context, address string, port int) error {
	c.Disconnect()

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	conn, err := dial(dialCtx, address, port)
	if err != nil {
		c.emit(Event{Kind: EventConnectionError, Reason: err.Error()}, nil)
		return err
	}

	closing := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.closing = closing
	c.state.Reset()
	c.mu.Unlock()

	c.log.Info().Str("remote", conn.RemoteAddr()).Msg("connected to server")
	c.emit(Event{Kind: EventConnected}, nil)

	c.wg.Add(1)
	go c.readLoop(conn, closing)
	return nil
}

// Disconnect closes the connection and waits for the read loop to finish.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn, closing := c.conn, c.closing
	c.conn, c.closing = nil, nil
	c.mu.Unlock()

	if conn != nil {
		close(closing)
		_ = conn.Close()
	}
	// a read loop that saw the server close the socket may still be resetting state
	c.wg.Wait()
}

// SendAuthRequest asks the server to register clientName paired with interlocutorName.
func (c *Client) SendAuthRequest(clientName, interlocutorName string) error {
	if err := ValidateAuth(clientName, interlocutorName); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.state.Name = clientName
	c.state.Interlocutor = interlocutorName
	return c.sendLocked(protocol.NewAuth(clientName, interlocutorName))
}

// SendMessage sends a text message to the current interlocutor.
func (c *Client) SendMessage(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.state.ValidateMessage(text); err != nil {
		return err
	}
	return c.sendLocked(protocol.NewText(text))
}

// ChangeInterlocutor asks the server to pair with newInterlocutor instead.
func (c *Client) ChangeInterlocutor(newInterlocutor string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.state.ValidateChange(newInterlocutor); err != nil {
		return err
	}
	return c.sendLocked(protocol.NewChangeInterlocutor(newInterlocutor))
}

func (c *Client) sendLocked(msg protocol.Message) error {
	data, err := msg.EncodeFrame()
	if err != nil {
		return err
	}
	return c.conn.Write(context.Background(), data)
}

func (c *Client) readLoop(conn chat.Conn, closing chan struct{}) {
	defer c.wg.Done()
	buf := frame.NewBuffer(c.maxFrameSize)

	err := func() error {
		for {
			chunk, err := conn.Read(context.Background())
			if err != nil {
				return err
			}
			for payload, err := range buf.Feed(chunk) {
				if err != nil {
					return err
				}
				var msg protocol.Message
				if err := msg.Decode(payload); err != nil {
					c.log.Debug().Err(err).Msg("ignoring undecodable server message")
					continue
				}
				c.handle(msg, closing)
			}
		}
	}()

	select {
	case <-closing:
		// Disconnect was called; the read error is the socket we closed.
	default:
		if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			c.log.Warn().Err(err).Msg("connection lost")
			c.emit(Event{Kind: EventConnectionError, Reason: err.Error()}, closing)
		}
		c.mu.Lock()
		if c.conn == conn {
			c.conn, c.closing = nil, nil
		}
		c.mu.Unlock()
		_ = conn.Close()
	}

	c.mu.Lock()
	c.state.Reset()
	c.mu.Unlock()
	c.emit(Event{Kind: EventDisconnected}, nil)
}

func (c *Client) handle(msg protocol.Message, closing chan struct{}) {
	c.mu.Lock()
	ev, ok := c.state.Apply(msg)
	c.mu.Unlock()
	if !ok {
		c.log.Debug().Str("type", msg.Type.String()).Msg("ignoring unexpected server message")
		return
	}
	c.emit(ev, closing)
}

// emit delivers ev, giving up once closing is closed. A nil closing only
// delivers when there is room.
func (c *Client) emit(ev Event, closing chan struct{}) {
	if closing == nil {
		select {
		case c.events <- ev:
		default:
			c.log.Warn().Stringer("event", ev.Kind).Msg("event buffer full, dropping event")
		}
		return
	}

	select {
	case c.events <- ev:
	case <-closing:
	}
}
