package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/wilsonzlin/aero/proxy/signal-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/signal-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/signal-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/signal-relay/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting signal-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"sweep_interval", cfg.SweepInterval,
		"idle_timeout", cfg.IdleTimeout,
		"ws_ping_interval", cfg.WSPingInterval,
		"ws_pong_timeout", cfg.WSPongTimeout,
		"max_message_bytes", cfg.MaxMessageBytes,
		"max_messages_per_second", cfg.MaxMessagesPerSecond,
		"ice_servers", len(cfg.ICEServers),
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
	)

	logStartupWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger, ln); err != nil {
		logger.Error("signal-relay exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger, ln net.Listener) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	hub := signaling.NewHub(signaling.HubConfig{
		Logger:        logger.With("component", "hub"),
		Metrics:       m,
		SweepInterval: cfg.SweepInterval,
		IdleTimeout:   cfg.IdleTimeout,
	})
	hub.Start(context.Background())

	commit, buildTime := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: buildTime}, httpserver.Options{
		Peers:   hub,
		Metrics: m,
	})

	ws := signaling.NewServer(signaling.ServerConfig{
		Hub:                  hub,
		Logger:               logger.With("component", "ws"),
		Metrics:              m,
		Origin:               origin.Policy{Allowed: cfg.AllowedOrigins},
		MaxMessageBytes:      cfg.MaxMessageBytes,
		MaxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		SendQueueSize:        cfg.SendQueueSize,
		PingInterval:         cfg.WSPingInterval,
		PongTimeout:          cfg.WSPongTimeout,
	})
	ws.RegisterRoutes(srv.Mux())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("shutdown signal received")
		}

		// Peers get a going-away close before the listener stops accepting.
		hub.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", "err", err)
		}
		return nil
	})

	return g.Wait()
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
