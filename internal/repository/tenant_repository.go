package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
)

type TenantRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*model.Tenant, error)
	SetSendingEnabled(ctx context.Context, id string, enabled bool) error
}

type TenantRepository struct {
	DB *sql.DB
}

// GetByID always reads the row; the tenant kill-switch must never be cached.
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*model.Tenant, error) {
	var t model.Tenant
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, name, active, sending_enabled, created_at FROM tenants WHERE id=$1`, id,
	).Scan(&t.ID, &t.Name, &t.Active, &t.SendingEnabled, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFound(appErrors.CodeTenantNotFound, fmt.Sprintf("tenant %s not found", id))
		}
		return nil, fmt.Errorf("get tenant %s: %w", id, err)
	}
	return &t, nil
}

func (r *TenantRepository) SetSendingEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tenants SET sending_enabled=$1 WHERE id=$2`, enabled, id)
	if err != nil {
		return fmt.Errorf("set tenant %s sending: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set tenant %s sending: %w", id, err)
	}
	if n == 0 {
		return appErrors.NotFound(appErrors.CodeTenantNotFound, fmt.Sprintf("tenant %s not found", id))
	}
	return nil
}

// Create is used by the seeder.
func (r *TenantRepository) Create(ctx context.Context, t *model.Tenant) error {
	_, err := r.DB.ExecContext(ctx, `
        INSERT INTO tenants (id, name, active, sending_enabled)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO NOTHING`,
		t.ID, t.Name, t.Active, t.SendingEnabled,
	)
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

var _ TenantRepositoryInterface = (*TenantRepository)(nil)
