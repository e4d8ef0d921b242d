// Development remote store for cardsync: serves the record, change-feed and
// token endpoints from memory. Data is lost on exit.
//
// Usage: go run ./cmd/cardsync-hub --config ~/.config/cardsync/config.toml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/tonimelisma/cardsync/internal/config"
	"github.com/tonimelisma/cardsync/internal/hub"
)

func main() {
	configPath := flag.String("config", "", "config file path (default: platform config dir)")
	listen := flag.String("listen", "", "listen address (overrides [hub] listen)")
	flag.Parse()

	if err := run(*configPath, *listen); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, listen string) error {
	cfg, err := config.Resolve(config.ReadEnvOverrides(), config.CLIOverrides{ConfigPath: configPath})
	if err != nil {
		return err
	}

	if err := config.ValidateHubSecrets(&cfg.Hub); err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.LogLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if len(cfg.Hub.Users) == 0 {
		logger.Warn("no [hub.users] configured, accepting any credentials")
	}

	srv, err := hub.New(hub.Options{
		SigningKey:    cfg.Hub.SigningKey,
		TokenLifetime: cfg.TokenLifetime,
		Users:         cfg.Hub.Users,
	}, logger)
	if err != nil {
		return err
	}

	addr := cfg.Hub.Listen
	if listen != "" {
		addr = listen
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Serve(ctx, ln)
}
