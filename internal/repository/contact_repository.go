package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
)

// ContactRepositoryInterface defines methods used by service
type ContactRepositoryInterface interface {
	GetByID(ctx context.Context, tenantID string, id int) (*model.Contact, error)
	ListByIDs(ctx context.Context, tenantID string, ids []int) ([]model.Contact, error)
	ListAll(ctx context.Context, tenantID string) ([]model.Contact, error)
}

type ContactRepository struct {
	DB *sql.DB
}

const contactColumns = `id, tenant_id, phone, first_name, last_name, location, preferred_product`

func (r *ContactRepository) GetByID(ctx context.Context, tenantID string, id int) (*model.Contact, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE tenant_id=$1 AND id=$2`, tenantID, id)

	var c model.Contact
	if err := row.Scan(&c.ID, &c.TenantID, &c.Phone, &c.FirstName, &c.LastName, &c.Location, &c.PreferredProduct); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFound(appErrors.CodeContactNotFound, fmt.Sprintf("contact %d not found", id))
		}
		return nil, fmt.Errorf("get contact %d: %w", id, err)
	}
	return &c, nil
}

// ListByIDs returns the tenant's contacts among ids, ordered by id.
func (r *ContactRepository) ListByIDs(ctx context.Context, tenantID string, ids []int) ([]model.Contact, error) {
	ids64 := make([]int64, len(ids))
	for i, id := range ids {
		ids64[i] = int64(id)
	}
	return r.list(ctx, `SELECT `+contactColumns+` FROM contacts WHERE tenant_id=$1 AND id = ANY($2) ORDER BY id`,
		tenantID, pq.Array(ids64))
}

// ListAll fetches every contact of the tenant.
func (r *ContactRepository) ListAll(ctx context.Context, tenantID string) ([]model.Contact, error) {
	return r.list(ctx, `SELECT `+contactColumns+` FROM contacts WHERE tenant_id=$1 ORDER BY id`, tenantID)
}

func (r *ContactRepository) list(ctx context.Context, query string, args ...any) ([]model.Contact, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Phone, &c.FirstName, &c.LastName, &c.Location, &c.PreferredProduct); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// Create is used by the seeder.
func (r *ContactRepository) Create(ctx context.Context, c *model.Contact) error {
	err := r.DB.QueryRowContext(ctx, `
        INSERT INTO contacts (tenant_id, phone, first_name, last_name, location, preferred_product)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (tenant_id, phone) DO UPDATE SET first_name = EXCLUDED.first_name
        RETURNING id`,
		c.TenantID, c.Phone, c.FirstName, c.LastName, c.Location, c.PreferredProduct,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	return nil
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
