package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datastream/internal/backfill"
	"github.com/ajitpratap0/datastream/internal/history"
	"github.com/ajitpratap0/datastream/internal/ingest"
	"github.com/ajitpratap0/datastream/internal/server"
	"github.com/ajitpratap0/datastream/internal/store"
	"github.com/ajitpratap0/datastream/internal/stream"
	"github.com/ajitpratap0/datastream/pkg/config"
	"github.com/ajitpratap0/datastream/pkg/logger"
	"github.com/ajitpratap0/datastream/pkg/observability"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run stream processors, the click consumer and the health/metrics server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	if err := logger.Init(cfg.Log); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.With(zap.String("service", cfg.Service.Name), zap.String("environment", cfg.Service.Environment))

	if cfg.Tracing.ServiceVersion == "" {
		cfg.Tracing.ServiceVersion = version
	}
	shutdownTracing, err := observability.InitTracing(cfg.Tracing)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Connect(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	var queue store.Queue = st.Queue()
	if cfg.Queue.Backend == config.QueueMemory {
		queue = store.NewMemoryQueue(cfg.Queue.MemoryCapacity)
	}

	checks := map[string]server.Pinger{"redis": st}
	var source history.Source
	if cfg.ClickHouse.Enabled {
		ch, err := history.Connect(ctx, cfg.ClickHouse, log)
		if err != nil {
			return err
		}
		defer func() { _ = ch.Close() }()
		source = ch
		checks["clickhouse"] = ch
	}

	svc := stream.NewService(stream.Config{
		Store:      st,
		Queue:      queue,
		Backfill:   backfill.NewEngine(backfill.Config{Store: st, Source: source, Logger: log}),
		PopTimeout: cfg.Queue.PopTimeout,
		Logger:     log,
	})
	if err := svc.Start(ctx); err != nil {
		return err
	}

	var consumer *ingest.Consumer
	if cfg.Ingest.Enabled {
		consumer, err = ingest.NewConsumer(cfg.Ingest, svc, log)
		if err != nil {
			shutdown(cfg, log, nil, svc, shutdownTracing)
			return err
		}
		consumer.Start(ctx)
	}

	srv := server.New(cfg.Server, cfg.Service.Name, checks, log)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err = <-serveErr:
		log.Error("server stopped unexpectedly", zap.Error(err))
	}

	// The consumer stops first so no event is routed to a draining processor.
	if consumer != nil {
		if cerr := consumer.Close(); cerr != nil {
			log.Warn("failed to close click consumer", zap.Error(cerr))
		}
	}
	shutdown(cfg, log, srv, svc, shutdownTracing)
	return err
}

func shutdown(cfg *config.Config, log *zap.Logger, srv *server.Server, svc *stream.Service, shutdownTracing observability.ShutdownFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("server shutdown failed", zap.Error(err))
		}
	}
	if err := svc.Shutdown(ctx); err != nil {
		log.Warn("stream service shutdown incomplete", zap.Error(err))
	}
	if err := shutdownTracing(ctx); err != nil {
		log.Warn("tracer shutdown failed", zap.Error(err))
	}
	log.Info("datastream stopped")
}
