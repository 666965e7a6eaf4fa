package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/eargollo/imgdup/internal/config"
)

// Injected at build time via -ldflags; defaults to "dev".
var version = "dev"

const usage = `usage: imgdup [-config file] <command> [flags]

commands:
  scan [-threshold n] [-workers n] [-json] [root...]   find near-duplicate images and exit
  serve                                                run the HTTP API and scheduler
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// ── Logging (initial, overridden below once config is loaded) ──────────
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// ── Config ─────────────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	// Re-configure logging with the level from config (default: info).
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	switch args[0] {
	case "scan":
		err = runScan(ctx, cfg, args[1:], os.Stdout, os.Stderr)
	case "serve":
		err = runServe(ctx, cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		flag.Usage()
		os.Exit(2)
	}

	switch {
	case errors.Is(err, flag.ErrHelp):
		os.Exit(2)
	case errors.Is(err, context.Canceled):
		slog.Warn("interrupted")
		os.Exit(130)
	case err != nil:
		slog.Error(args[0]+" failed", "error", err)
		os.Exit(1)
	}
}

// parseLogLevel converts a config string ("debug", "info", "warn", "error")
// to its slog.Level equivalent. Unknown values default to Info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
