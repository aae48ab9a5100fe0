package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/omochice/relay-chat/pkg/frame"
	"github.com/omochice/relay-chat/pkg/protocol"
)

// HandleClient registers c and runs its read and write loops until the
// connection is gone. The socket is closed on return and the disconnect
// transition has been submitted to the hub.
func (h *Hub) HandleClient(ctx context.Context, c *Client) error {
	log := h.log.With().Stringer("conn", c.ID).Str("remote", c.Conn.RemoteAddr()).Str("transport", c.Transport).Logger()

	if err := h.Register(ctx, c); err != nil {
		_ = c.Conn.Close()
		return err
	}
	h.metrics.ConnectionOpened(c.Transport)
	defer h.metrics.ConnectionClosed(c.Transport)
	log.Info().Msg("client connected")

	var g errgroup.Group
	g.Go(func() error {
		return h.writeLoop(ctx, c)
	})
	g.Go(func() error {
		defer h.Unregister(c)
		return h.readLoop(ctx, c)
	})

	err := g.Wait()
	if err != nil {
		log.Warn().Err(err).Msg("client disconnected with error")
	} else {
		log.Info().Msg("client disconnected")
	}
	return err
}

// readLoop reassembles frames from the socket and submits each decoded
// message. Payloads that do not decode are skipped; framing errors end the
// connection.
func (h *Hub) readLoop(ctx context.Context, c *Client) error {
	buf := frame.NewBuffer(h.maxFrameSize)

	for {
		chunk, err := c.Conn.Read(ctx)
		if err != nil {
			if aerr := buf.Abort(); aerr != nil {
				h.metrics.FrameError("torn")
				h.log.Debug().Stringer("conn", c.ID).Err(aerr).Msg("discarding partial frame")
			}
			if isClosed(err) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		for payload, err := range buf.Feed(chunk) {
			if err != nil {
				h.metrics.FrameError("too_large")
				return err
			}
			h.metrics.FrameReceived()

			var msg protocol.Message
			if err := msg.Decode(payload); err != nil {
				h.metrics.FrameError("malformed")
				h.log.Warn().Stringer("conn", c.ID).Err(err).Msg("dropping undecodable frame")
				continue
			}
			h.metrics.MessageHandled(msg.Type.String())

			if err := h.Submit(ctx, c, msg); err != nil {
				if errors.Is(err, ErrHubStopped) {
					return nil
				}
				return err
			}
		}
	}
}

// writeLoop flushes the outgoing queue until the hub closes it, then closes
// the socket. A failed write is logged and abandons the queue.
func (h *Hub) writeLoop(ctx context.Context, c *Client) error {
	defer c.Conn.Close()

	for data := range c.Outgoing {
		if err := c.Conn.Write(ctx, data); err != nil {
			h.log.Warn().Stringer("conn", c.ID).Err(err).Msg("failed to write to client")
			return nil
		}
	}
	return nil
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled)
}
