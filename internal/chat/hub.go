package chat

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/omochice/relay-chat/internal/metrics"
	"github.com/omochice/relay-chat/internal/session"
	"github.com/omochice/relay-chat/pkg/frame"
	"github.com/omochice/relay-chat/pkg/protocol"
)

// ErrHubStopped is returned when the hub is no longer running.
var ErrHubStopped = errors.New("hub stopped")

type inbound struct {
	client *Client
	msg    protocol.Message
}

// Hub owns the session registry and every client queue. All registry
// transitions happen on the goroutine running Run, one at a time.
type Hub struct {
	registry     *session.Registry
	clients      map[uuid.UUID]*Client
	register     chan *Client
	unregister   chan *Client
	inbound      chan inbound
	queries      chan func()
	done         chan struct{}
	log          zerolog.Logger
	metrics      *metrics.Metrics
	maxFrameSize int
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Hub) { h.log = l }
}

// WithMetrics sets the collectors updated by the hub and its clients.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithMaxFrameSize limits the payload length accepted from clients.
func WithMaxFrameSize(n int) Option {
	return func(h *Hub) { h.maxFrameSize = n }
}

// NewHub creates a Hub around registry. A nil registry gets a fresh one.
func NewHub(registry *session.Registry, opts ...Option) *Hub {
	h := &Hub{
		registry:     registry,
		clients:      make(map[uuid.UUID]*Client),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		inbound:      make(chan inbound),
		queries:      make(chan func()),
		done:         make(chan struct{}),
		log:          zerolog.Nop(),
		maxFrameSize: frame.DefaultMaxSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.registry == nil {
		h.registry = session.New(session.WithLogger(h.log))
	}
	return h
}

// Run processes hub events until ctx is done. On return every remaining
// client queue is closed, which makes the write loops close their sockets.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	defer func() {
		for _, c := range h.clients {
			c.closeOutgoing()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Int("clients", len(h.clients)).Msg("hub stopping")
			return nil
		case c := <-h.register:
			h.clients[c.ID] = c
			h.log.Debug().Stringer("conn", c.ID).Str("remote", c.Conn.RemoteAddr()).Msg("client registered")
		case c := <-h.unregister:
			h.remove(c)
		case in := <-h.inbound:
			h.dispatch(in)
		case q := <-h.queries:
			q()
		}
	}
}

// dispatch runs a client message through the registry. A connection that is
// already being torn down cannot change registry state any more, which covers
// frames read in the same chunk as a failed auth.
func (h *Hub) dispatch(in inbound) {
	if c, ok := h.clients[in.client.ID]; !ok || c != in.client || c.closed {
		h.log.Debug().Stringer("conn", in.client.ID).Str("type", in.msg.Type.String()).Msg("dropping message from closing connection")
		return
	}
	h.deliver(h.registry.Dispatch(in.client.ID, in.msg))
	h.metrics.SetSessions(h.registry.Len())
}

func (h *Hub) remove(c *Client) {
	if h.clients[c.ID] != c {
		return
	}
	delete(h.clients, c.ID)

	h.deliver(h.registry.Disconnect(c.ID))
	h.metrics.SetSessions(h.registry.Len())
	c.closeOutgoing()
	h.log.Debug().Stringer("conn", c.ID).Msg("client unregistered")
}

// deliver queues registry output without blocking. A full queue loses the
// frame; there is no retry.
func (h *Hub) deliver(out []session.Outbound) {
	for _, o := range out {
		c, ok := h.clients[o.To]
		if !ok || c.closed {
			continue
		}

		data, err := o.Message.EncodeFrame()
		if err != nil {
			h.log.Error().Err(err).Str("type", o.Message.Type.String()).Msg("failed to encode message")
			continue
		}

		select {
		case c.Outgoing <- data:
		default:
			h.metrics.OutgoingDropped()
			h.log.Warn().Stringer("conn", c.ID).Str("type", o.Message.Type.String()).Msg("client queue full, dropping message")
		}

		if o.Close {
			c.closeOutgoing()
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(ctx context.Context, c *Client) error {
	select {
	case h.register <- c:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unregister removes a client and runs its disconnect transition. It is a
// no-op for unknown clients and after the hub stopped.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Submit hands a decoded client message to the registry.
func (h *Hub) Submit(ctx context.Context, c *Client, msg protocol.Message) error {
	select {
	case h.inbound <- inbound{client: c, msg: msg}:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// query runs fn on the hub goroutine and waits for it.
func (h *Hub) query(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case h.queries <- func() { fn(); close(finished) }:
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Snapshot lists the registered sessions.
func (h *Hub) Snapshot(ctx context.Context) ([]session.Info, error) {
	var infos []session.Info
	err := h.query(ctx, func() { infos = h.registry.Snapshot() })
	return infos, err
}

// ClientCount returns number of connected clients, authenticated or not.
func (h *Hub) ClientCount(ctx context.Context) (int, error) {
	var n int
	err := h.query(ctx, func() { n = len(h.clients) })
	return n, err
}
