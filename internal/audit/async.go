package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/wacampaign-backend/internal/metrics"
)

// Async hands entries to a background writer. Record never blocks and
// never returns an error; when the buffer is full the entry is dropped.
type Async struct {
	next    Sink
	ch      chan Entry
	logger  *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsync(next Sink, buffer int, logger *zap.Logger, m *metrics.Metrics) *Async {
	a := &Async{
		next:    next,
		ch:      make(chan Entry, buffer),
		logger:  logger.Named("audit"),
		metrics: m,
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Record(_ context.Context, e Entry) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.drop(e, "closed")
		return nil
	}
	select {
	case a.ch <- e:
	default:
		a.drop(e, "buffer full")
	}
	return nil
}

func (a *Async) drop(e Entry, why string) {
	a.metrics.AuditDrop()
	a.logger.Warn("audit entry dropped",
		zap.String("reason", why),
		zap.String("action", e.Action),
		zap.String("tenant_id", e.TenantID),
		zap.String("target", e.Target),
	)
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.ch {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Record(ctx, e); err != nil {
			a.logger.Error("audit sink failed", zap.String("action", e.Action), zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting entries and waits for the buffer to drain or ctx
// to expire.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
