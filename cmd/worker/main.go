package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/app"
	"github.com/unclebandit/campaign-engine/internal/config"
	"github.com/unclebandit/campaign-engine/internal/jobs"
	"github.com/unclebandit/campaign-engine/internal/logger"
)

// The worker consumes the tracking and completion queues and runs the
// periodic dispatch and automation jobs. Run it next to the server when
// storage is postgres.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.Must(cfg.Log.Level, cfg.Log.Format).Named("worker")
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	if cfg.Queue.Driver == "amqp" {
		if err := a.StartConsumers(); err != nil {
			log.Fatal("failed to start consumers", zap.Error(err))
		}
	} else {
		log.Warn("queue.driver is memory; tracking and completion jobs are consumed by the server")
	}

	cm := jobs.NewCronManager(a.Campaigns, cfg.Worker.SchedulerURL, cfg.Scheduler.Secret, log)
	if err := cm.SetupJobs(cfg.Worker.DispatchCron, cfg.Worker.SchedulerCron); err != nil {
		log.Fatal("failed to setup cron jobs", zap.Error(err))
	}
	cm.Start()
	log.Info("worker running, waiting for messages...")

	<-ctx.Done()
	log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cm.Stop(stopCtx)
}
