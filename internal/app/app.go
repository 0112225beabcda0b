// Package app wires the shared components of the server, worker and
// operator CLI from configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unclebandit/wacampaign-backend/internal/audit"
	"github.com/unclebandit/wacampaign-backend/internal/config"
	"github.com/unclebandit/wacampaign-backend/internal/db"
	"github.com/unclebandit/wacampaign-backend/internal/dispatcher"
	"github.com/unclebandit/wacampaign-backend/internal/killswitch"
	"github.com/unclebandit/wacampaign-backend/internal/lock"
	"github.com/unclebandit/wacampaign-backend/internal/metrics"
	"github.com/unclebandit/wacampaign-backend/internal/queue"
	"github.com/unclebandit/wacampaign-backend/internal/ratelimit"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
	"github.com/unclebandit/wacampaign-backend/internal/safety"
	"github.com/unclebandit/wacampaign-backend/internal/service"
	"github.com/unclebandit/wacampaign-backend/internal/transport"
)

const (
	auditBuffer = 1024
	lockTTL     = 10 * time.Second
)

// Options selects the optional parts a binary needs.
type Options struct {
	// Queue connects the dispatch job queue.
	Queue bool
}

type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	DB      *sql.DB
	Redis   *redis.Client
	Queue   queue.Queue

	Campaigns *repository.CampaignRepository
	Messages  *repository.CampaignMessageRepository
	Contacts  *repository.ContactRepository
	Templates *repository.TemplateRepository
	Accounts  *repository.AccountRepository
	Tenants   *repository.TenantRepository

	Switch  killswitch.Switch
	Leases  lock.Leaser
	Limiter *ratelimit.Limiter
	Gate    *safety.Gate
	Audit   audit.Sink

	CampaignService *service.CampaignService
	BillingService  *service.BillingService
	StatusService   *service.StatusService
	AdminService    *service.AdminService

	closers []func(context.Context) error
}

// NewLogger builds the process logger: development output locally,
// JSON otherwise.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsLocal() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// New connects every backing service named by cfg. On error everything
// opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.DB, err = db.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return a.DB.Close() })

	a.Campaigns = &repository.CampaignRepository{DB: a.DB}
	a.Messages = &repository.CampaignMessageRepository{DB: a.DB}
	a.Contacts = &repository.ContactRepository{DB: a.DB}
	a.Templates = &repository.TemplateRepository{DB: a.DB}
	a.Accounts = &repository.AccountRepository{DB: a.DB}
	a.Tenants = &repository.TenantRepository{DB: a.DB}

	var (
		store  ratelimit.Store = ratelimit.NewMemoryStore()
		local                  = lock.NewKeyedMutex()
		locker lock.Locker     = local
	)
	a.Leases = local
	a.Switch = killswitch.NewAtomicSwitch()
	if cfg.Redis.Enabled {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.onClose(func(context.Context) error { return a.Redis.Close() })
		if err = a.Redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		store = ratelimit.NewRedisStore(a.Redis)
		rl := lock.NewRedisLocker(a.Redis, lockTTL, logger)
		locker, a.Leases = rl, rl
		a.Switch = killswitch.NewRedisSwitch(a.Redis)
		logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	} else {
		logger.Warn("redis disabled: rate-limit state and kill-switch are process-local")
	}

	a.Limiter = ratelimit.New(store, locker, policyFromConfig(cfg), logger, ratelimit.WithMetrics(a.Metrics))
	a.Gate = &safety.Gate{
		Switch:       a.Switch,
		Tenants:      a.Tenants,
		Campaigns:    a.Campaigns,
		Accounts:     a.Accounts,
		SandboxLimit: cfg.Safety.SandboxRecipientLimit,
		Logger:       logger.Named("safety"),
		Metrics:      a.Metrics,
	}

	var sink audit.Sink = &audit.LogSink{Logger: logger.Named("audit")}
	if cfg.Mongo.Enabled {
		mongoSink, merr := audit.NewMongoSink(ctx, cfg.Mongo.URI, cfg.Mongo.Database, logger)
		if merr != nil {
			return nil, merr
		}
		a.onClose(mongoSink.Close)
		sink = mongoSink
	}
	async := audit.NewAsync(sink, auditBuffer, logger, a.Metrics)
	// Registered after the sink so the buffer drains before the sink closes.
	a.onClose(async.Close)
	a.Audit = async

	if opts.Queue {
		if cfg.AMQP.Enabled {
			amqpQueue, qerr := queue.DialAMQP(cfg.AMQP.URL, logger)
			if qerr != nil {
				return nil, qerr
			}
			a.onClose(func(context.Context) error { return amqpQueue.Close() })
			a.Queue = amqpQueue
		} else {
			a.Queue = queue.NewInMemoryQueue(logger)
		}
	}

	a.CampaignService = &service.CampaignService{
		CampaignRepo:  a.Campaigns,
		MessageRepo:   a.Messages,
		ContactRepo:   a.Contacts,
		TemplateRepo:  a.Templates,
		AccountRepo:   a.Accounts,
		Queue:         a.Queue,
		Audit:         a.Audit,
		Logger:        logger.Named("campaign"),
		Metrics:       a.Metrics,
		SandboxLimit:  cfg.Safety.SandboxRecipientLimit,
		DispatchTopic: cfg.AMQP.DispatchQueue,
	}
	a.BillingService = &service.BillingService{
		CampaignRepo: a.Campaigns,
		MessageRepo:  a.Messages,
		TemplateRepo: a.Templates,
		Prices:       service.PricesFromConfig(cfg),
	}
	a.StatusService = &service.StatusService{
		MessageRepo: a.Messages,
		Logger:      logger.Named("status"),
	}
	a.AdminService = &service.AdminService{
		Switch:     a.Switch,
		TenantRepo: a.Tenants,
		Limiter:    a.Limiter,
		Gate:       a.Gate,
		Audit:      a.Audit,
		Logger:     logger.Named("admin"),
	}
	return a, nil
}

func policyFromConfig(cfg *config.Config) ratelimit.Policy {
	rl := cfg.RateLimit
	return ratelimit.Policy{
		MinRate:          rl.MinRate,
		MaxRate:          rl.MaxRate,
		InitialRate:      rl.InitialRate,
		ScaleUpThreshold: rl.ScaleUpThreshold,
		ScaleUpIncrement: rl.ScaleUpIncrement,
		Cooldown:         rl.Cooldown,
	}
}

// Transport returns the mock sender or the Cloud API client.
func (a *App) Transport() transport.Transport {
	if a.Config.WhatsApp.Mock {
		a.Logger.Warn("using mock WhatsApp transport")
		return transport.NewMock()
	}
	client := &http.Client{Timeout: a.Config.WhatsApp.HTTPTimeout}
	return transport.NewCloudAPI(client, a.Config.WhatsApp.BaseURL, a.Config.WhatsApp.APIVersion, a.Logger)
}

func (a *App) NewDispatcher(tr transport.Transport) *dispatcher.Dispatcher {
	return dispatcher.New(dispatcher.Deps{
		Campaigns: a.Campaigns,
		Messages:  a.Messages,
		Accounts:  a.Accounts,
		Gate:      a.Gate,
		Limiter:   a.Limiter,
		Transport: tr,
		Completer: a.CampaignService,
		Logger:    a.Logger,
		Metrics:   a.Metrics,
		Leases:    a.Leases,

		Buffer:      a.Config.Dispatcher.StreamBuffer,
		ClaimTTL:    a.Config.Dispatcher.ClaimTTL,
		IdleTimeout: a.Config.Dispatcher.StreamIdle,
	})
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
