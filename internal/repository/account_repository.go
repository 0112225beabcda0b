package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
)

type AccountRepositoryInterface interface {
	GetByID(ctx context.Context, tenantID string, id int) (*model.WhatsAppAccount, error)
	GetForTenant(ctx context.Context, tenantID string) (*model.WhatsAppAccount, error)
}

type AccountRepository struct {
	DB *sql.DB
}

const accountColumns = `id, tenant_id, waba_id, phone_number_id, access_token, status, environment, quality_rating`

func (r *AccountRepository) GetByID(ctx context.Context, tenantID string, id int) (*model.WhatsAppAccount, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM whatsapp_accounts WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return scanAccount(row, fmt.Sprintf("account %d", id))
}

// GetForTenant returns the tenant's first connected account, falling back
// to its oldest one.
func (r *AccountRepository) GetForTenant(ctx context.Context, tenantID string) (*model.WhatsAppAccount, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM whatsapp_accounts
        WHERE tenant_id=$1
        ORDER BY (status = 'CONNECTED') DESC, id
        LIMIT 1`, tenantID)
	return scanAccount(row, "account for tenant "+tenantID)
}

func scanAccount(row *sql.Row, what string) (*model.WhatsAppAccount, error) {
	var (
		a       model.WhatsAppAccount
		quality string
	)
	err := row.Scan(&a.ID, &a.TenantID, &a.WABAID, &a.PhoneNumberID, &a.AccessToken, &a.Status, &a.Environment, &quality)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFound(appErrors.CodeAccountNotFound, what+" not found")
		}
		return nil, fmt.Errorf("get %s: %w", what, err)
	}
	a.QualityRating = model.ParseQualityRating(quality)
	return &a, nil
}

// Create is used by the seeder.
func (r *AccountRepository) Create(ctx context.Context, a *model.WhatsAppAccount) error {
	err := r.DB.QueryRowContext(ctx, `
        INSERT INTO whatsapp_accounts (tenant_id, waba_id, phone_number_id, access_token, status, environment, quality_rating)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id`,
		a.TenantID, a.WABAID, a.PhoneNumberID, a.AccessToken, a.Status, a.Environment, a.QualityRating,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

var _ AccountRepositoryInterface = (*AccountRepository)(nil)
