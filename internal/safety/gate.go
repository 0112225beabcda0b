// Package safety decides, immediately before every send, whether a message
// may leave the system.
package safety

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/killswitch"
	"github.com/unclebandit/wacampaign-backend/internal/metrics"
	"github.com/unclebandit/wacampaign-backend/internal/model"
)

const (
	ReasonGlobalDisabled     = "Global sending is disabled"
	ReasonTenantDisabled     = "Tenant sending is disabled"
	ReasonCampaignNotRunning = "Campaign is not in RUNNING state"
	ReasonSandboxLimit       = "Sandbox mode limits to 5 recipients"
	ReasonNotConnected       = "WhatsApp account is not connected"
	ReasonQualityTooLow      = "Phone quality rating is too low"
	ReasonCheckFailed        = "Safety check failed"
)

type TenantReader interface {
	GetByID(ctx context.Context, id string) (*model.Tenant, error)
}

type CampaignReader interface {
	GetByID(ctx context.Context, tenantID string, id int) (*model.Campaign, error)
}

type AccountReader interface {
	GetByID(ctx context.Context, tenantID string, id int) (*model.WhatsAppAccount, error)
	GetForTenant(ctx context.Context, tenantID string) (*model.WhatsAppAccount, error)
}

type Request struct {
	TenantID       string
	CampaignID     int
	RecipientCount int
}

type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Reason: reason} }

type Gate struct {
	Switch       killswitch.Switch
	Tenants      TenantReader
	Campaigns    CampaignReader
	Accounts     AccountReader
	SandboxLimit int
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// Check runs the four checks in a fixed order and stops at the first
// failure: global switch, tenant switch, campaign state, environment.
// Any collaborator error denies.
func (g *Gate) Check(ctx context.Context, req Request) (Decision, error) {
	d, err := g.check(ctx, req)
	if err != nil {
		g.Logger.Error("safety check failed, denying",
			zap.String("tenant_id", req.TenantID),
			zap.Int("campaign_id", req.CampaignID),
			zap.Error(err),
		)
		d = deny(ReasonCheckFailed)
		err = appErrors.Storage(err, ReasonCheckFailed)
	}
	if !d.Allowed {
		g.Metrics.SafetyDenied(d.Reason)
	}
	return d, err
}

func (g *Gate) check(ctx context.Context, req Request) (Decision, error) {
	disabled, err := g.Switch.SendingDisabled(ctx)
	if err != nil {
		return Decision{}, err
	}
	if disabled {
		return deny(ReasonGlobalDisabled), nil
	}

	tenant, err := g.Tenants.GetByID(ctx, req.TenantID)
	if err != nil {
		return Decision{}, err
	}
	if !tenant.CanSend() {
		return deny(ReasonTenantDisabled), nil
	}

	campaign, err := g.Campaigns.GetByID(ctx, req.TenantID, req.CampaignID)
	if err != nil {
		return Decision{}, err
	}
	if campaign.Status != model.CampaignRunning {
		return deny(ReasonCampaignNotRunning), nil
	}

	account, err := g.Accounts.GetByID(ctx, req.TenantID, campaign.AccountID)
	if err != nil {
		return Decision{}, err
	}
	return g.checkEnvironment(account, req.RecipientCount), nil
}

func (g *Gate) checkEnvironment(a *model.WhatsAppAccount, recipients int) Decision {
	switch a.Environment {
	case model.EnvironmentSandbox:
		if limit := g.sandboxLimit(); recipients > limit {
			return deny(fmt.Sprintf("Sandbox mode limits to %d recipients", limit))
		}
	case model.EnvironmentProduction:
		if a.Status != model.AccountConnected {
			return deny(ReasonNotConnected)
		}
		if a.QualityRating.TooLow() {
			return deny(ReasonQualityTooLow)
		}
	default:
		return deny(fmt.Sprintf("Unknown account environment %q", a.Environment))
	}
	return allow()
}

func (g *Gate) sandboxLimit() int {
	if g.SandboxLimit > 0 {
		return g.SandboxLimit
	}
	return 5
}

type AccountStatus struct {
	ID            int                 `json:"id"`
	Status        model.AccountStatus `json:"status"`
	Environment   model.Environment   `json:"environment"`
	QualityRating model.QualityRating `json:"quality_rating"`
}

// Status is the operator view of every switch that can stop a tenant.
type Status struct {
	GlobalSendingDisabled bool           `json:"global_sending_disabled"`
	TenantActive          bool           `json:"tenant_active"`
	TenantSendingEnabled  bool           `json:"tenant_sending_enabled"`
	Account               *AccountStatus `json:"account,omitempty"`
}

func (g *Gate) Status(ctx context.Context, tenantID string) (*Status, error) {
	disabled, err := g.Switch.SendingDisabled(ctx)
	if err != nil {
		return nil, appErrors.Storage(err, "read global kill-switch")
	}
	tenant, err := g.Tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	st := &Status{
		GlobalSendingDisabled: disabled,
		TenantActive:          tenant.Active,
		TenantSendingEnabled:  tenant.SendingEnabled,
	}

	account, err := g.Accounts.GetForTenant(ctx, tenantID)
	switch {
	case appErrors.KindOf(err) == appErrors.KindNotFound:
	case err != nil:
		return nil, err
	default:
		st.Account = &AccountStatus{
			ID:            account.ID,
			Status:        account.Status,
			Environment:   account.Environment,
			QualityRating: account.QualityRating,
		}
	}
	return st, nil
}
