package main

import (
	"context"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/eventrelay/libs/config"
	otelx "github.com/md-rashed-zaman/eventrelay/libs/otel"
	"github.com/md-rashed-zaman/eventrelay/libs/platform"
	"github.com/md-rashed-zaman/eventrelay/libs/runtime"
	"github.com/md-rashed-zaman/eventrelay/services/user-service/internal/handlers"
	"github.com/md-rashed-zaman/eventrelay/services/user-service/internal/storage"
	"github.com/md-rashed-zaman/eventrelay/services/user-service/internal/users"
	"github.com/md-rashed-zaman/eventrelay/services/user-service/migrations"
)

func main() {
	service := config.String("SERVICE_NAME", "user-service")
	port, err := config.Port("PORT", "8081")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	cfg, err := platform.ConfigFromEnv(service)
	if err != nil {
		panic(err)
	}
	p, err := platform.Open(ctx, cfg, logger, migrations.FS)
	if err != nil {
		logger.Error("platform init failed", "err", err)
		panic(err)
	}
	defer p.Close()

	var repo storage.Repository
	if p.DB != nil {
		repo = storage.NewPostgresRepository(p.DB)
	} else {
		repo = storage.NewMemoryRepository(p.Memory)
	}
	svc := users.New(repo, p.Outbox, logger)

	workers := runtime.NewWorkers(logger)
	workers.Go(ctx, "consumer", p.Supervisor(svc.Subscriptions(p.Inbox)...).Run)
	workers.Go(ctx, "outbox-relay", p.Relay.Run)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           p.Handler(handlers.New(svc, logger).Routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	workers.Wait(cfg.Consumer.CloseTimeout * 2)
	logger.Info("http server stopped")
}
