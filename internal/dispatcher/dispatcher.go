// Package dispatcher drains RUNNING campaigns: one stream per tenant, one
// campaign at a time per stream, messages in insertion order, each send
// paced by the tenant's adaptive rate and cleared by the safety gate.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/lock"
	"github.com/unclebandit/wacampaign-backend/internal/metrics"
	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/ratelimit"
	"github.com/unclebandit/wacampaign-backend/internal/safety"
	"github.com/unclebandit/wacampaign-backend/internal/transport"
)

var (
	ErrStopped    = errors.New("dispatcher stopped")
	ErrStreamFull = errors.New("dispatch stream is full")
	// ErrTenantBusy means another dispatcher holds the tenant's lease. The
	// campaign is picked up again by a later sweep.
	ErrTenantBusy = errors.New("tenant is dispatched elsewhere")
	ErrLeaseLost  = errors.New("dispatch lease lost")
)

type CampaignReader interface {
	GetByID(ctx context.Context, tenantID string, id int) (*model.Campaign, error)
	ListRunning(ctx context.Context) ([]*model.Campaign, error)
}

// MessageStore claims queued messages. A claim hides a message from other
// claimers until it expires or the message leaves QUEUED.
type MessageStore interface {
	ClaimNext(ctx context.Context, campaignID int, now, until time.Time) (*model.CampaignMessage, error)
	Unclaim(ctx context.Context, id int) error
	MarkSent(ctx context.Context, id int, waMessageID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id int, code int, lastError string, at time.Time) (bool, error)
}

type AccountReader interface {
	GetByID(ctx context.Context, tenantID string, id int) (*model.WhatsAppAccount, error)
}

type Gate interface {
	Check(ctx context.Context, req safety.Request) (safety.Decision, error)
}

type RateLimiter interface {
	GetState(ctx context.Context, tenantID string) (ratelimit.Snapshot, error)
	RecordSuccess(ctx context.Context, tenantID string) (ratelimit.Snapshot, error)
	RecordFailure(ctx context.Context, tenantID string, throttled bool) (ratelimit.Snapshot, error)
}

// Completer closes a campaign whose queue has drained.
type Completer interface {
	CompleteIfDrained(ctx context.Context, tenantID string, id int) (bool, error)
}

type Deps struct {
	Campaigns CampaignReader
	Messages  MessageStore
	Accounts  AccountReader
	Gate      Gate
	Limiter   RateLimiter
	Transport transport.Transport
	Completer Completer
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	// Leases serialises a tenant's passes across dispatchers sharing the
	// database. Nil means this is the only dispatcher.
	Leases lock.Leaser

	// NewPacer builds the pacer of a new stream. Defaults to NewRatePacer.
	NewPacer func() Pacer
	// Buffer is the number of campaigns a stream holds before Enqueue fails.
	Buffer int
	// ClaimTTL bounds how long a crashed dispatcher keeps a message hidden.
	ClaimTTL time.Duration
	// IdleTimeout retires a stream that has had no work for this long.
	IdleTimeout time.Duration
	Now         func() time.Time
}

type Dispatcher struct {
	deps    Deps
	logger  *zap.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers map[string]*worker
	stopped bool
}

func New(deps Deps) *Dispatcher {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.NewPacer == nil {
		deps.NewPacer = func() Pacer { return NewRatePacer() }
	}
	if deps.Buffer <= 0 {
		deps.Buffer = 64
	}
	if deps.ClaimTTL <= 0 {
		deps.ClaimTTL = 5 * time.Minute
	}
	if deps.IdleTimeout <= 0 {
		deps.IdleTimeout = 10 * time.Minute
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		deps:    deps,
		logger:  deps.Logger.Named("dispatcher"),
		metrics: deps.Metrics,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[string]*worker),
	}
}

// Enqueue hands a campaign to its tenant's stream, starting the stream if
// needed. A campaign already waiting on the stream is not added twice; one
// that is being processed gets a second pass once the current one ends.
func (d *Dispatcher) Enqueue(tenantID string, campaignID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrStopped
	}

	w, ok := d.workers[tenantID]
	if !ok {
		w = newWorker(tenantID, d.deps.Buffer, d.deps.NewPacer())
		d.workers[tenantID] = w
		d.wg.Add(1)
		d.metrics.StreamStarted()
		go w.start(d.ctx, d)
		d.logger.Info("stream started", zap.String("tenant_id", tenantID))
	}

	if w.queued[campaignID] {
		return nil
	}
	if w.running == campaignID {
		w.rerun = true
		return nil
	}
	select {
	case w.jobs <- campaignID:
		w.queued[campaignID] = true
		return nil
	default:
		return fmt.Errorf("tenant %s: %w", tenantID, ErrStreamFull)
	}
}

// Sweep re-enqueues every RUNNING campaign. It recovers campaigns whose
// dispatch job was lost, stopped by a denial, or interrupted by a restart.
func (d *Dispatcher) Sweep(ctx context.Context) (int, error) {
	running, err := d.deps.Campaigns.ListRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep running campaigns: %w", err)
	}
	n := 0
	var errs []error
	for _, c := range running {
		if err := d.Enqueue(c.TenantID, c.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Stop cancels every stream and waits for them to exit. A send already
// handed to the transport completes and is recorded.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}

// runCampaign makes one pass over a campaign under the tenant's lease. A nil
// error means the campaign drained, was not running, or the dispatcher is
// stopping; anything else says why the pass ended early.
func (d *Dispatcher) runCampaign(ctx context.Context, w *worker, campaignID int) error {
	if d.deps.Leases != nil {
		lease, err := d.deps.Leases.TryLease(ctx, "dispatch:"+w.tenantID)
		if errors.Is(err, lock.ErrLeaseHeld) {
			return ErrTenantBusy
		}
		if err != nil {
			return appErrors.Storage(err, "acquire dispatch lease")
		}
		defer lease.Release()
		ctx = lease.Context()
	}

	err := d.drain(ctx, w, campaignID)
	if err != nil && ctx.Err() != nil {
		if d.ctx.Err() != nil {
			return nil
		}
		return ErrLeaseLost
	}
	return err
}

func (d *Dispatcher) drain(ctx context.Context, w *worker, campaignID int) error {
	log := d.logger.With(zap.String("tenant_id", w.tenantID), zap.Int("campaign_id", campaignID))

	c, err := d.deps.Campaigns.GetByID(ctx, w.tenantID, campaignID)
	if err != nil {
		return err
	}
	if c.Status != model.CampaignRunning {
		log.Debug("campaign not running, skipped", zap.String("status", string(c.Status)))
		return nil
	}
	account, err := d.deps.Accounts.GetByID(ctx, c.TenantID, c.AccountID)
	if err != nil {
		return err
	}

	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		more, err := d.sendNext(ctx, w, c, account, log)
		if appErrors.KindOf(err) == appErrors.KindTransportFailure {
			log.Warn("send failed", zap.Error(err))
			err = nil
		}
		if err != nil {
			return err
		}
		if !more {
			break
		}
		processed++
	}

	if _, err := d.deps.Completer.CompleteIfDrained(ctx, c.TenantID, campaignID); err != nil {
		return err
	}
	log.Info("campaign drained", zap.Int("processed", processed))
	return nil
}

// sendNext claims, paces, clears, sends and records one message. It reports
// false once nothing is left to claim. A TRANSPORT_FAILURE error has already
// been recorded against the message and does not end the pass.
func (d *Dispatcher) sendNext(ctx context.Context, w *worker, c *model.Campaign, account *model.WhatsAppAccount, log *zap.Logger) (bool, error) {
	now := d.deps.Now().UTC()
	msg, err := d.deps.Messages.ClaimNext(ctx, c.ID, now, now.Add(d.deps.ClaimTTL))
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}

	handed := false
	defer func() {
		if !handed {
			d.unclaim(msg.ID, log)
		}
	}()

	snap, err := d.deps.Limiter.GetState(ctx, c.TenantID)
	if err != nil {
		return false, err
	}
	if err := w.pacer.Wait(ctx, snap.Delay()); err != nil {
		return false, err
	}

	decision, err := d.deps.Gate.Check(ctx, safety.Request{
		TenantID:       c.TenantID,
		CampaignID:     c.ID,
		RecipientCount: c.TotalContacts,
	})
	if err != nil {
		return false, err
	}
	if !decision.Allowed {
		return false, appErrors.SafetyDenied(decision.Reason)
	}

	// Past the gate the send is not revocable; finish it even if the
	// dispatcher is stopping or the lease is lost.
	handed = true
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	res, sendErr := d.deps.Transport.Send(ctx, transport.Message{
		PhoneNumberID: account.PhoneNumberID,
		AccessToken:   account.AccessToken,
		To:            msg.Phone,
		TemplateName:  msg.TemplateName,
		LanguageCode:  msg.LanguageCode,
		Variables:     msg.Variables,
	})
	elapsed := time.Since(start).Seconds()
	now = d.deps.Now().UTC()

	if sendErr != nil {
		code := transport.ErrorCode(sendErr)
		throttled := ratelimit.IsThrottlingSignal(code)
		outcome := "failed"
		if throttled {
			outcome = "throttled"
		}
		d.metrics.MessageOutcome(outcome, elapsed)

		if _, err := d.deps.Messages.MarkFailed(ctx, msg.ID, code, sendErr.Error(), now); err != nil {
			return false, err
		}
		if _, err := d.deps.Limiter.RecordFailure(ctx, c.TenantID, throttled); err != nil {
			return false, err
		}
		return true, appErrors.Wrap(sendErr, appErrors.KindTransportFailure, appErrors.CodeTransportFailure,
			fmt.Sprintf("send message %d (code %d, throttled %t)", msg.ID, code, throttled))
	}

	d.metrics.MessageOutcome("sent", elapsed)
	if _, err := d.deps.Messages.MarkSent(ctx, msg.ID, res.MessageID, now); err != nil {
		log.Error("mark message sent",
			zap.Int("message_id", msg.ID),
			zap.String("wa_message_id", res.MessageID),
			zap.Error(err),
		)
		return false, err
	}
	if _, err := d.deps.Limiter.RecordSuccess(ctx, c.TenantID); err != nil {
		return false, err
	}
	return true, nil
}

// unclaim releases a message that was claimed but never sent, so the next
// pass does not wait out the claim.
func (d *Dispatcher) unclaim(id int, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(d.ctx), 5*time.Second)
	defer cancel()
	if err := d.deps.Messages.Unclaim(ctx, id); err != nil {
		log.Warn("unclaim message", zap.Int("message_id", id), zap.Error(err))
	}
}

// passStopped reports why a pass ended before its campaign drained.
func (d *Dispatcher) passStopped(tenantID string, campaignID int, err error) {
	log := d.logger.With(zap.String("tenant_id", tenantID), zap.Int("campaign_id", campaignID), zap.Error(err))

	kind := string(appErrors.KindOf(err))
	switch {
	case errors.Is(err, ErrTenantBusy):
		kind = "BUSY"
		log.Debug("tenant dispatched elsewhere, pass skipped")
	case errors.Is(err, ErrLeaseLost):
		kind = "LEASE_LOST"
		log.Warn("dispatch lease lost, pass stopped")
	case kind == string(appErrors.KindSafetyDenied):
		log.Info("send denied, pass stopped")
	default:
		if kind == "" {
			kind = "INTERNAL"
		}
		log.Error("pass stopped", zap.String("kind", kind))
	}
	d.metrics.PassStopped(kind)
}
