package dispatcher

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// worker is one tenant's dispatch stream. It runs campaigns one at a time
// in the order they were enqueued.
type worker struct {
	tenantID string
	jobs     chan int
	pacer    Pacer

	// guarded by Dispatcher.mu
	queued  map[int]bool
	running int
	rerun   bool
}

func newWorker(tenantID string, buffer int, pacer Pacer) *worker {
	return &worker{
		tenantID: tenantID,
		jobs:     make(chan int, buffer),
		pacer:    pacer,
		queued:   make(map[int]bool),
	}
}

// start begins processing jobs until ctx is cancelled or the stream has
// been idle for the dispatcher's IdleTimeout.
func (w *worker) start(ctx context.Context, d *Dispatcher) {
	defer d.wg.Done()
	defer d.metrics.StreamStopped()

	idle := time.NewTimer(d.deps.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-idle.C:
			if d.retire(w) {
				return
			}
			idle.Reset(d.deps.IdleTimeout)
		case campaignID := <-w.jobs:
			d.mu.Lock()
			delete(w.queued, campaignID)
			w.running = campaignID
			d.mu.Unlock()

			if err := d.runCampaign(ctx, w, campaignID); err != nil {
				d.passStopped(w.tenantID, campaignID, err)
			}

			d.mu.Lock()
			again := w.rerun
			w.running, w.rerun = 0, false
			d.mu.Unlock()

			if again && ctx.Err() == nil {
				if err := d.Enqueue(w.tenantID, campaignID); err != nil {
					d.logger.Warn("re-enqueue campaign",
						zap.String("tenant_id", w.tenantID),
						zap.Int("campaign_id", campaignID),
						zap.Error(err),
					)
				}
			}
			idle.Reset(d.deps.IdleTimeout)
		}
	}
}

// retire removes an idle stream from the dispatcher. It refuses when work
// arrived while the timer fired; Enqueue then finds the stream still there.
func (d *Dispatcher) retire(w *worker) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(w.jobs) > 0 || w.rerun {
		return false
	}
	if d.workers[w.tenantID] == w {
		delete(d.workers, w.tenantID)
	}
	d.logger.Info("stream retired", zap.String("tenant_id", w.tenantID))
	return true
}
