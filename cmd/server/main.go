package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/omochice/relay-chat/internal/config"
	"github.com/omochice/relay-chat/internal/logging"
	"github.com/omochice/relay-chat/internal/server"
)

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	v := config.New()

	cmd := &cobra.Command{
		Use:   "relay-server",
		Short: "Relay chat server",
		Long: `Relay chat server pairs named clients and forwards their messages.

Raw TCP clients and WebSocket clients are accepted on the same port.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWith(v, configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	flags.StringP("listen", "l", config.Default().ListenAddress, "Address to listen on for TCP and WebSocket clients")
	flags.String("admin", config.Default().AdminAddress, "Address of the admin HTTP endpoint (empty disables it)")
	flags.String("ws-path", config.Default().WebSocketPath, "WebSocket upgrade path")
	flags.String("log-level", config.Default().LogLevel, "Log level (debug, info, warn, error)")
	flags.String("log-format", config.Default().LogFormat, "Log format (json, console)")

	for key, flag := range map[string]string{
		"listen_address": "listen",
		"admin_address":  "admin",
		"websocket_path": "ws-path",
		"log_level":      "log-level",
		"log_format":     "log-format",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := server.New(cfg,
		server.WithLogger(logging.Component(log, "server")),
		server.WithMetricsRegistry(reg),
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server error")
		return err
	}
	return nil
}
