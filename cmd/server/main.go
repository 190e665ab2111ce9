// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/app"
	"github.com/unclebandit/campaign-engine/internal/config"
	"github.com/unclebandit/campaign-engine/internal/jobs"
	"github.com/unclebandit/campaign-engine/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.Must(cfg.Log.Level, cfg.Log.Format)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	// With RabbitMQ the worker binary consumes; in-process queues are drained here.
	if cfg.Queue.Driver == "memory" {
		if err := a.StartConsumers(); err != nil {
			log.Fatal("failed to start consumers", zap.Error(err))
		}
	}

	// In-memory data is invisible to a separate worker, so due campaigns are
	// dispatched from here.
	var cm *jobs.CronManager
	if cfg.Storage.Driver == "memory" {
		cm = jobs.NewCronManager(a.Campaigns, "", "", log)
		if err := cm.SetupJobs(cfg.Worker.DispatchCron, ""); err != nil {
			log.Fatal("failed to setup cron jobs", zap.Error(err))
		}
		cm.Start()
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("server running", zap.String("addr", cfg.Server.Addr),
			zap.String("storage", cfg.Storage.Driver), zap.String("queue", cfg.Queue.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if cm != nil {
		cm.Stop(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
