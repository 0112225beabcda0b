package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/unclebandit/wacampaign-backend/internal/audit"
	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/killswitch"
	"github.com/unclebandit/wacampaign-backend/internal/ratelimit"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
	"github.com/unclebandit/wacampaign-backend/internal/safety"
)

// AdminService is the operator surface: kill-switches, rate-limit reset and
// per-tenant status. Every mutation is audited.
type AdminService struct {
	Switch     killswitch.Switch
	TenantRepo repository.TenantRepositoryInterface
	Limiter    *ratelimit.Limiter
	Gate       *safety.Gate
	Audit      audit.Sink
	Logger     *zap.Logger
}

type TenantStatus struct {
	TenantID  string             `json:"tenant_id"`
	RateLimit ratelimit.Snapshot `json:"rate_limit"`
	Safety    *safety.Status     `json:"safety"`
}

func (s *AdminService) SetGlobalSending(ctx context.Context, actor string, enabled bool) error {
	if err := s.Switch.SetSendingDisabled(ctx, !enabled); err != nil {
		return appErrors.Storage(err, "set global kill-switch")
	}
	s.log().Warn("global sending changed", zap.Bool("enabled", enabled), zap.String("actor", actor))
	s.record(ctx, audit.NewEntry(actor, "", audit.ActionGlobalSending, "global", map[string]any{"enabled": enabled}))
	return nil
}

func (s *AdminService) SetTenantSending(ctx context.Context, actor, tenantID string, enabled bool) error {
	if err := s.TenantRepo.SetSendingEnabled(ctx, tenantID, enabled); err != nil {
		if appErrors.KindOf(err) != "" {
			return err
		}
		return appErrors.Storage(err, "set tenant kill-switch")
	}
	s.log().Warn("tenant sending changed",
		zap.String("tenant_id", tenantID),
		zap.Bool("enabled", enabled),
		zap.String("actor", actor),
	)
	s.record(ctx, audit.NewEntry(actor, tenantID, audit.ActionTenantSending, "tenant:"+tenantID, map[string]any{"enabled": enabled}))
	return nil
}

// ResetRateLimit puts the tenant back on the initial rate with no cooldown.
func (s *AdminService) ResetRateLimit(ctx context.Context, actor, tenantID string) (ratelimit.Snapshot, error) {
	if _, err := s.TenantRepo.GetByID(ctx, tenantID); err != nil {
		return ratelimit.Snapshot{}, err
	}
	before, err := s.Limiter.GetState(ctx, tenantID)
	if err != nil {
		return ratelimit.Snapshot{}, err
	}
	after, err := s.Limiter.Reset(ctx, tenantID)
	if err != nil {
		return ratelimit.Snapshot{}, err
	}
	s.record(ctx, audit.NewEntry(actor, tenantID, audit.ActionRateLimitReset, "tenant:"+tenantID, map[string]any{
		"previous_rate": before.CurrentRate,
		"rate":          after.CurrentRate,
	}))
	return after, nil
}

func (s *AdminService) RateLimitState(ctx context.Context, tenantID string) (ratelimit.Snapshot, error) {
	return s.Limiter.GetState(ctx, tenantID)
}

func (s *AdminService) TenantStatus(ctx context.Context, tenantID string) (*TenantStatus, error) {
	st, err := s.Gate.Status(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	snap, err := s.Limiter.GetState(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &TenantStatus{TenantID: tenantID, RateLimit: snap, Safety: st}, nil
}

func (s *AdminService) record(ctx context.Context, e audit.Entry) {
	if s.Audit == nil {
		return
	}
	if err := s.Audit.Record(ctx, e); err != nil {
		s.log().Warn("audit record failed", zap.String("action", e.Action), zap.Error(err))
	}
}

func (s *AdminService) log() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}
