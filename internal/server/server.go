// Package server accepts relay clients on a single port. Raw TCP clients and
// WebSocket clients share the listener; the first bytes of each connection
// decide which transport adapter serves it.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/relay-chat/internal/admin"
	"github.com/omochice/relay-chat/internal/chat"
	"github.com/omochice/relay-chat/internal/config"
	"github.com/omochice/relay-chat/internal/logging"
	"github.com/omochice/relay-chat/internal/metrics"
	"github.com/omochice/relay-chat/internal/session"
	"github.com/omochice/relay-chat/internal/transport/tcp"
	wstransport "github.com/omochice/relay-chat/internal/transport/ws"
)

const (
	acceptBackoff     = 50 * time.Millisecond
	readHeaderTimeout = 5 * time.Second
)

// Server represents the relay chat server.
type Server struct {
	cfg      config.Config
	log      zerolog.Logger
	clock    func() time.Time
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	upgrader ws.Upgrader
	hub      *chat.Hub

	mu            sync.RWMutex // guards listener and adminListener
	listener      net.Listener
	adminListener net.Listener
	conns         *connSet
	wg            sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the root logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetricsRegistry registers the relay collectors with reg and serves reg
// from the admin endpoint.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.metrics = metrics.New(reg)
		s.gatherer = reg
	}
}

// WithClock sets the clock used to stamp relayed messages.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.clock = now }
}

// New creates a Server for cfg. Nothing listens until Listen or Run.
func New(cfg config.Config, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		log:      zerolog.Nop(),
		clock:    time.Now,
		upgrader: newUpgrader(cfg.WebSocketPath),
		conns:    newConnSet(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.gatherer == nil {
		WithMetricsRegistry(prometheus.NewRegistry())(s)
	}

	registry := session.New(
		session.WithClock(s.clock),
		session.WithLogger(logging.Component(s.log, "registry")),
	)
	s.hub = chat.NewHub(registry,
		chat.WithLogger(logging.Component(s.log, "hub")),
		chat.WithMetrics(s.metrics),
		chat.WithMaxFrameSize(cfg.MaxFrameSize),
	)
	return s
}

// Listen binds the relay port and, when configured, the admin port. Run
// calls it when it has not been called yet.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}

	listener, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	var adminListener net.Listener
	if s.cfg.AdminAddress != "" {
		adminListener, err = net.Listen("tcp", s.cfg.AdminAddress)
		if err != nil {
			listener.Close()
			return fmt.Errorf("failed to start admin server: %w", err)
		}
	}
	s.listener, s.adminListener = listener, adminListener
	return nil
}

// listeners returns the bound listeners; admin is nil when disabled.
func (s *Server) listeners() (net.Listener, net.Listener) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listener, s.adminListener
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if l, _ := s.listeners(); l != nil {
		return l.Addr().String()
	}
	return ""
}

// AdminAddr returns the admin listening address, or "" when disabled.
func (s *Server) AdminAddr() string {
	if _, l := s.listeners(); l != nil {
		return l.Addr().String()
	}
	return ""
}

// Run serves clients until ctx is done, then closes the listeners and every
// open connection and waits up to the shutdown grace period for handlers.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	listener, adminListener := s.listeners()
	s.log.Info().
		Str("address", s.Addr()).
		Str("websocket_path", s.cfg.WebSocketPath).
		Str("admin_address", s.AdminAddr()).
		Msg("relay server started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.hub.Run(gctx)
	})
	g.Go(func() error {
		return s.acceptLoop(gctx, listener)
	})
	g.Go(func() error {
		<-gctx.Done()
		_ = listener.Close()
		s.conns.closeAll()
		return nil
	})
	if adminListener != nil {
		s.serveAdmin(gctx, g, adminListener)
	}

	err := g.Wait()
	if !s.waitHandlers(s.cfg.ShutdownGracePeriod) {
		s.log.Warn().Dur("grace_period", s.cfg.ShutdownGracePeriod).Msg("connections still open after grace period")
	}
	s.log.Info().Msg("relay server stopped")
	return err
}

func (s *Server) serveAdmin(ctx context.Context, g *errgroup.Group, l net.Listener) {
	log := logging.Component(s.log, "admin")
	srv := &http.Server{
		Handler:           admin.NewRouter(s.hub, s.gatherer, log),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g.Go(func() error {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}
			s.log.Error().Err(err).Msg("failed to accept connection")
			time.Sleep(acceptBackoff)
			continue
		}

		if !s.conns.add(conn) {
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.conns.remove(conn)
			s.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection determines whether the connection is HTTP (WebSocket) or
// raw TCP and hands it to the hub.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	log := s.log.With().Str("remote", conn.RemoteAddr().String()).Logger()

	proto, reader, err := detectProtocol(conn)
	if err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			log.Warn().Err(err).Msg("failed to detect protocol")
		}
		_ = conn.Close()
		return
	}
	bc := &bufferedConn{Conn: conn, reader: reader}

	var (
		cc        chat.Conn
		transport string
	)
	switch proto {
	case protocolHTTP:
		if err := s.upgrade(bc); err != nil {
			log.Info().Err(err).Msg("websocket upgrade rejected")
			_ = conn.Close()
			return
		}
		cc, transport = wstransport.NewServerConn(bc), wstransport.Transport
	default:
		cc, transport = tcp.NewConn(bc), tcp.Transport
	}

	// the hub logs the outcome of every client
	_ = s.hub.HandleClient(ctx, chat.NewClient(cc, transport, s.cfg.OutgoingBuffer))
}

// waitHandlers waits for connection goroutines and reports whether they all
// finished within grace.
func (s *Server) waitHandlers(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}
