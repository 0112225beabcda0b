package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/wacampaign-backend/internal/queue"
)

// Streams is the dispatcher as the worker loop sees it.
type Streams interface {
	Enqueue(tenantID string, campaignID int) error
	Sweep(ctx context.Context) (int, error)
	Stop()
}

// Scheduler starts SCHEDULED campaigns whose time has come.
type Scheduler interface {
	StartDue(ctx context.Context) (int, error)
}

// Worker feeds dispatch jobs from the queue into the dispatcher, sweeps
// RUNNING campaigns and starts due ones on fixed intervals.
type Worker struct {
	Streams           Streams
	Scheduler         Scheduler
	Queue             queue.Queue
	Topic             string
	SweepInterval     time.Duration
	SchedulerInterval time.Duration
	Logger            *zap.Logger
}

// Run blocks until ctx is done, then stops the dispatcher.
func (w *Worker) Run(ctx context.Context) error {
	log := w.Logger.Named("worker")
	defer w.Streams.Stop()

	topic := w.Topic
	if topic == "" {
		topic = queue.TopicCampaignDispatch
	}
	if w.Queue != nil {
		err := queue.StartDispatchSubscriber(w.Queue, topic, func(job queue.DispatchJob) error {
			return w.Streams.Enqueue(job.TenantID, job.CampaignID)
		}, log)
		if err != nil {
			return err
		}
	}

	// Pick up whatever was RUNNING before this process started.
	w.sweep(ctx, log)

	sweep := time.NewTicker(w.SweepInterval)
	defer sweep.Stop()
	schedule := time.NewTicker(w.SchedulerInterval)
	defer schedule.Stop()

	log.Info("worker running",
		zap.String("topic", topic),
		zap.Duration("sweep_interval", w.SweepInterval),
		zap.Duration("scheduler_interval", w.SchedulerInterval),
	)
	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopping")
			return nil
		case <-sweep.C:
			w.sweep(ctx, log)
		case <-schedule.C:
			w.startDue(ctx, log)
		}
	}
}

func (w *Worker) sweep(ctx context.Context, log *zap.Logger) {
	n, err := w.Streams.Sweep(ctx)
	if err != nil {
		log.Warn("sweep running campaigns", zap.Int("enqueued", n), zap.Error(err))
		return
	}
	if n > 0 {
		log.Debug("swept running campaigns", zap.Int("enqueued", n))
	}
}

func (w *Worker) startDue(ctx context.Context, log *zap.Logger) {
	if w.Scheduler == nil {
		return
	}
	n, err := w.Scheduler.StartDue(ctx)
	if err != nil {
		log.Warn("start due campaigns", zap.Int("started", n), zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("started scheduled campaigns", zap.Int("started", n))
	}
}
