// Package admin serves the operator HTTP endpoints of the relay.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/omochice/relay-chat/internal/session"
)

// requestTimeout bounds how long a handler waits for the hub.
const requestTimeout = 2 * time.Second

// Hub is the part of the chat hub the admin endpoints read from.
type Hub interface {
	Snapshot(ctx context.Context) ([]session.Info, error)
	ClientCount(ctx context.Context) (int, error)
}

// SessionsResponse is the body of GET /sessions.
type SessionsResponse struct {
	Connections int            `json:"connections"`
	Sessions    []session.Info `json:"sessions"`
}

// NewRouter returns the admin handler. A nil gatherer serves the default registry.
func NewRouter(hub Hub, gatherer prometheus.Gatherer, log zerolog.Logger) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/sessions", sessionsHandler(hub))

	return r
}

func sessionsHandler(hub Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		infos, err := hub.Snapshot(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		n, err := hub.ClientCount(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if infos == nil {
			infos = []session.Info{}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(SessionsResponse{Connections: n, Sessions: infos})
	}
}

// requestLogger logs each request at debug level.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Msg("admin request")
		})
	}
}
