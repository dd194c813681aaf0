package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Versifine/strait/internal/config"
	"github.com/Versifine/strait/internal/debug"
	"github.com/Versifine/strait/internal/event"
	"github.com/Versifine/strait/internal/logger"
	"github.com/Versifine/strait/internal/relay"
	"github.com/jessevdk/go-flags"
)

type Args struct {
	Config   string `short:"c" long:"config" description:"YAML config file; positional endpoints override its listen/upstream settings"`
	LogLevel string `short:"l" long:"log-level" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Override the configured log level"`
	Console  bool   `long:"console" description:"Interactive session stats console (requires a terminal)"`

	Endpoints struct {
		LocalHost    string `positional-arg-name:"local-host"`
		LocalPort    int    `positional-arg-name:"local-port"`
		UpstreamHost string `positional-arg-name:"upstream-host"`
		UpstreamPort int    `positional-arg-name:"upstream-port"`
	} `positional-args:"yes"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts Args
	parser := flags.NewParser(&opts, flags.Default)
	parser.Usage = "[OPTIONS] <local-host> <local-port> <upstream-host> <upstream-port>"
	rest, err := parser.Parse()
	if err != nil {
		if flags.WroteHelp(err) {
			return 0
		}
		return 1
	}
	if len(rest) > 0 {
		fmt.Fprintf(os.Stderr, "unexpected arguments: %v\n", rest)
		return 1
	}

	cfg, err := buildConfig(&opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := event.NewBus()
	server := relay.NewServer(cfg.ListenAddr(), cfg.UpstreamAddr(),
		relay.WithDialTimeout(cfg.Limits.DialTimeout.Std()),
		relay.WithMaxSessions(cfg.Limits.MaxSessions),
		relay.WithBus(bus),
	)

	if cfg.Debug.Console || opts.Console {
		console := debug.NewConsole(bus)
		go func() {
			if err := console.Start(ctx); err != nil {
				slog.Error("Debug console failed", "error", err)
			}
		}()
	}

	if err := server.Start(ctx); err != nil {
		slog.Error("Failed to run relay", "error", err)
		return 1
	}
	return 0
}

// buildConfig merges the optional config file with the positional endpoint
// arguments. Endpoints must come from at least one of the two; positionals
// win when both are given.
func buildConfig(opts *Args) (*config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", opts.Config, err)
		}
		cfg = loaded
	}

	ep := &opts.Endpoints
	if ep.LocalHost != "" || ep.LocalPort != 0 || ep.UpstreamHost != "" || ep.UpstreamPort != 0 {
		if ep.LocalHost == "" || ep.LocalPort == 0 || ep.UpstreamHost == "" || ep.UpstreamPort == 0 {
			return nil, fmt.Errorf("usage: strait <local-host> <local-port> <upstream-host> <upstream-port>")
		}
		cfg.Listen.Host = ep.LocalHost
		cfg.Listen.Port = ep.LocalPort
		cfg.Upstream.Host = ep.UpstreamHost
		cfg.Upstream.Port = ep.UpstreamPort
	} else if opts.Config == "" {
		return nil, fmt.Errorf("usage: strait <local-host> <local-port> <upstream-host> <upstream-port>")
	}

	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
