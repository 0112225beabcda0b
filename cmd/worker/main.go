// cmd/worker/main.go
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/wacampaign-backend/internal/app"
	"github.com/unclebandit/wacampaign-backend/internal/config"
)

func main() {
	cfg := config.MustLoad()
	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{Queue: true})
	if err != nil {
		logger.Fatal("failed to start worker", zap.Error(err))
	}
	if !cfg.AMQP.Enabled {
		logger.Warn("AMQP disabled: this worker only sees campaigns through the sweep")
	}

	w := &app.Worker{
		Streams:           a.NewDispatcher(a.Transport()),
		Scheduler:         a.CampaignService,
		Queue:             a.Queue,
		Topic:             cfg.AMQP.DispatchQueue,
		SweepInterval:     cfg.Dispatcher.SweepInterval,
		SchedulerInterval: cfg.Dispatcher.SchedulerInterval,
		Logger:            logger,
	}
	if err := w.Run(ctx); err != nil {
		logger.Error("worker failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(shutdownCtx); err != nil {
		logger.Warn("close resources", zap.Error(err))
	}
	logger.Info("worker stopped")
}
