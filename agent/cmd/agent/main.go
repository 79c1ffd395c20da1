package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/probewatch/probewatch/agent/internal/config"
	"github.com/probewatch/probewatch/agent/internal/feed"
	"github.com/probewatch/probewatch/agent/internal/shipper"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	drain := flag.Duration("drain", 30*time.Second, "how long to keep shipping after the feed ends")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("probewatch-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Agent.Log.SlogLevel())
	slog.Info("config loaded",
		"server_endpoint", cfg.Agent.ServerEndpoint,
		"source", cfg.Agent.Source.Type,
		"buffer_size", cfg.Agent.BufferSize,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Only the log level is hot-reloaded; endpoint and source changes need a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			level.Set(updated.Agent.Log.SlogLevel())
			slog.Info("config hot-reloaded", "level", updated.Agent.Log.Level)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	src, err := feed.Open(cfg.Agent.Source)
	if err != nil {
		slog.Error("failed to open feed", "err", err)
		os.Exit(1)
	}
	defer src.Close()

	shipCtx, stopShipping := context.WithCancel(context.Background())
	defer stopShipping()

	ship := shipper.New(cfg.Agent)
	shipped := make(chan struct{})
	go func() {
		ship.Run(shipCtx)
		close(shipped)
	}()

	// A blocked stdin read does not see ctx, so the reader runs on its own
	// and a signal abandons it.
	type result struct {
		stats feed.Stats
		err   error
	}
	read := make(chan result, 1)
	go func() {
		stats, err := feed.NewReader(ship.Ship).Run(ctx, src)
		read <- result{stats, err}
	}()

	select {
	case r := <-read:
		if r.err != nil {
			slog.Error("feed stopped", "err", r.err)
		}
		slog.Info("feed finished",
			"lines", r.stats.Lines,
			"commands", r.stats.Commands,
			"skipped", r.stats.Skipped,
		)
	case <-ctx.Done():
	}

	// Give the shipper a bounded window to deliver what is still queued,
	// unless we are already shutting down on a signal.
	if ctx.Err() == nil {
		flushCtx, cancelFlush := context.WithTimeout(ctx, *drain)
		if err := ship.Flush(flushCtx); err != nil {
			slog.Warn("shutting down with undelivered commands", "pending", ship.Pending(), "err", err)
		}
		cancelFlush()
	}

	stopShipping()
	<-shipped
	slog.Info("probewatch-agent shutting down")
}
