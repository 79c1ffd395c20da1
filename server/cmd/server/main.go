package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc"

	"github.com/probewatch/probewatch/pkg/wire"
	"github.com/probewatch/probewatch/server/internal/api"
	"github.com/probewatch/probewatch/server/internal/archive"
	"github.com/probewatch/probewatch/server/internal/auth"
	"github.com/probewatch/probewatch/server/internal/config"
	"github.com/probewatch/probewatch/server/internal/ingest"
	"github.com/probewatch/probewatch/server/internal/logging"
	"github.com/probewatch/probewatch/server/internal/metrics"
	"github.com/probewatch/probewatch/server/internal/notify"
	"github.com/probewatch/probewatch/server/internal/receiver"
	"github.com/probewatch/probewatch/server/internal/store"
	"github.com/probewatch/probewatch/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	watch := flag.Bool("watch", true, "reload log level and push interval when the config file changes")
	flag.Parse()

	lv := logging.Setup(os.Stdout, "info", "json")

	slog.Info("probewatch-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	lv = logging.Setup(os.Stdout, cfg.Server.Log.Level, cfg.Server.Log.Format)

	slog.Info("config loaded",
		"grpc_port", cfg.Server.GRPCPort,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"push_interval", cfg.Server.Push.Interval,
		"archive", cfg.Server.Archive.Backend,
		"webhooks", len(cfg.Server.Notify.Webhooks),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st := store.New()

	opts := ingest.Options{
		BufferSize:    cfg.Server.Ingest.BufferSize,
		SubmitTimeout: cfg.Server.Ingest.SubmitTimeout,
	}
	var history api.History
	var arc *archive.Archive
	if cfg.Server.Archive.Enabled() {
		arc, err = archive.Open(ctx, cfg.Server.Archive.Path, cfg.Server.Archive.Retention)
		if err != nil {
			slog.Error("failed to open session archive", "path", cfg.Server.Archive.Path, "err", err)
			os.Exit(1)
		}
		opts.Archiver = arc
		history = arc
		slog.Info("session archive enabled", "path", cfg.Server.Archive.Path, "retention", cfg.Server.Archive.Retention)
	}
	if len(cfg.Server.Notify.Webhooks) > 0 {
		opts.Notifier = notify.New(cfg.Server.Notify.Webhooks)
	}

	// The funnel outlives the listeners so in-flight requests can finish.
	funnelCtx, stopFunnel := context.WithCancel(context.Background())
	funnel := ingest.New(st, opts)
	funnelDone := make(chan struct{})
	go func() {
		funnel.Run(funnelCtx)
		close(funnelDone)
	}()

	policy := auth.Policy{
		Mode:   cfg.Server.Auth.Mode,
		Header: cfg.Server.Auth.EffectiveHeader(),
		Key:    cfg.Server.Auth.Key(),
	}
	if policy.Mode == auth.ModeAPIKey && !policy.Enabled() {
		slog.Warn("auth mode is apikey but no key is set; write paths are open", "key_env", cfg.Server.Auth.KeyEnv)
	}

	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(policy.Unary()))
	wire.RegisterIngestServer(grpcSrv, receiver.New(funnel))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		slog.Error("failed to listen on gRPC port", "port", cfg.Server.GRPCPort, "err", err)
		os.Exit(1)
	}

	go func() {
		slog.Info("gRPC ingest listening", "port", cfg.Server.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
		}
	}()

	hub := ws.New(st, cfg.Server.Push.Interval)
	go hub.Run(ctx)

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(api.Deps{
		Store:     st,
		Funnel:    funnel,
		History:   history,
		Observers: hub.Count,
		Guard:     policy.Middleware,
	}))
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/metrics", metrics.Handler(metrics.Sources{
		Summary:   st.Summary,
		Ingest:    funnel.Stats,
		Pending:   funnel.Pending,
		Observers: hub.Count,
	}))

	var handler http.Handler = httpMux
	if cfg.Server.H2C {
		handler = h2c.NewHandler(httpMux, &http2.Server{})
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort, "h2c", cfg.Server.H2C)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	if *watch {
		go func() {
			err := config.Watch(ctx, *configPath, func(next *config.Config) {
				lv.Set(logging.ParseLevel(next.Server.Log.Level))
				hub.SetInterval(next.Server.Push.Interval)
			})
			if err != nil {
				slog.Warn("config watch disabled", "err", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("probewatch-server shutting down")

	grpcSrv.GracefulStop()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck

	stopFunnel()
	<-funnelDone
	if arc != nil {
		if err := arc.Close(); err != nil {
			slog.Error("close session archive", "err", err)
		}
	}
}
