package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
)

type TemplateRepositoryInterface interface {
	GetByName(ctx context.Context, tenantID, name, language string) (*model.Template, error)
}

type TemplateRepository struct {
	DB *sql.DB
}

func (r *TemplateRepository) GetByName(ctx context.Context, tenantID, name, language string) (*model.Template, error) {
	var t model.Template
	err := r.DB.QueryRowContext(ctx, `
        SELECT id, tenant_id, name, language, category, status, body, variable_count
        FROM message_templates
        WHERE tenant_id=$1 AND name=$2 AND language=$3`, tenantID, name, language,
	).Scan(&t.ID, &t.TenantID, &t.Name, &t.Language, &t.Category, &t.Status, &t.Body, &t.VariableCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFound(appErrors.CodeTemplateNotFound, fmt.Sprintf("template %s (%s) not found", name, language))
		}
		return nil, fmt.Errorf("get template %s: %w", name, err)
	}
	return &t, nil
}

// Create is used by the seeder.
func (r *TemplateRepository) Create(ctx context.Context, t *model.Template) error {
	err := r.DB.QueryRowContext(ctx, `
        INSERT INTO message_templates (tenant_id, name, language, category, status, body, variable_count)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (tenant_id, name, language) DO UPDATE SET status = EXCLUDED.status
        RETURNING id`,
		t.TenantID, t.Name, t.Language, t.Category, t.Status, t.Body, t.VariableCount,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

var _ TemplateRepositoryInterface = (*TemplateRepository)(nil)
