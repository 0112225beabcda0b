// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/wacampaign-backend/internal/app"
	"github.com/unclebandit/wacampaign-backend/internal/config"
	"github.com/unclebandit/wacampaign-backend/internal/controller"
	"github.com/unclebandit/wacampaign-backend/internal/handler"
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
		logger.Fatal("failed to start server", zap.Error(err))
	}

	// Without RabbitMQ the in-memory queue only reaches this process, so the
	// dispatcher runs here.
	workerDone := make(chan struct{})
	if cfg.AMQP.Enabled {
		close(workerDone)
	} else {
		w := &app.Worker{
			Streams:           a.NewDispatcher(a.Transport()),
			Scheduler:         a.CampaignService,
			Queue:             a.Queue,
			Topic:             cfg.AMQP.DispatchQueue,
			SweepInterval:     cfg.Dispatcher.SweepInterval,
			SchedulerInterval: cfg.Dispatcher.SchedulerInterval,
			Logger:            logger,
		}
		go func() {
			defer close(workerDone)
			if err := w.Run(ctx); err != nil {
				logger.Error("embedded worker failed", zap.Error(err))
			}
		}()
		logger.Info("AMQP disabled, running embedded dispatch worker")
	}

	router := handler.NewRouter(handler.RouterDeps{
		Campaigns: &controller.CampaignController{
			CampaignService: a.CampaignService,
			BillingService:  a.BillingService,
			Logger:          logger.Named("campaigns"),
		},
		Admin:   &handler.AdminHandler{Service: a.AdminService, Logger: logger.Named("admin")},
		Status:  &handler.StatusHandler{Service: a.StatusService, Logger: logger.Named("webhook")},
		Metrics: a.Metrics,
		Logger:  logger,
	})

	srv := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}
	go func() {
		logger.Info("server running", zap.String("addr", cfg.App.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	<-workerDone
	if err := a.Close(shutdownCtx); err != nil {
		logger.Warn("close resources", zap.Error(err))
	}
	logger.Info("server stopped")
}
