package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Zereker/lpstream"
)

// echo sends every message back on the connection it arrived on. The
// decoded message borrows the read buffer, so it is copied before queuing.
func echo(c *lpstream.Conn, msg []byte) error {
	return c.WriteBlocking(context.Background(), append([]byte(nil), msg...))
}

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("app", "lpecho").Logger()
	logger := lpstream.NewZerologLogger(zl)

	cfg := lpstream.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = lpstream.LoadConfig(*configPath); err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.Addr)
	if err != nil {
		logger.Error("failed to resolve address", "addr", cfg.Addr, "error", err)
		os.Exit(1)
	}

	connOpts := append(cfg.Options(),
		lpstream.OnMessageOption(echo),
		lpstream.LoggerOption(logger),
	)
	serverOpts := append(cfg.ServerOptions(),
		lpstream.ServerLoggerOption(logger),
		lpstream.OnConnectOption(func(c *lpstream.Conn) {
			logger.Info("add new conn", "addr", c.Addr())
		}),
	)

	server, err := lpstream.New(addr, connOpts, serverOpts...)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("server start", "addr", server.Addr().String())
	if err := server.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("server error", "error", err)
	}
}
