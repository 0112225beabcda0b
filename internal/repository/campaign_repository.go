package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	Create(ctx context.Context, c *model.Campaign, msgs []*model.CampaignMessage) error
	GetByID(ctx context.Context, tenantID string, id int) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, tenantID string, offset, limit int, status string) ([]*model.Campaign, int, error)
	Update(ctx context.Context, c *model.Campaign) error
	Delete(ctx context.Context, tenantID string, id int) (bool, error)

	// Lifecycle
	UpdateStatus(ctx context.Context, tenantID string, id int, from []model.CampaignStatus, to model.CampaignStatus, at time.Time) (bool, error)
	CompleteIfDrained(ctx context.Context, tenantID string, id int, at time.Time) (bool, error)
	ListRunning(ctx context.Context) ([]*model.Campaign, error)
	ListDueScheduled(ctx context.Context, now time.Time) ([]*model.Campaign, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, tenant_id, account_id, name, status, template_name, template_language, variable_mapping,
        total_contacts, sent_count, delivered_count, read_count, failed_count,
        scheduled_at, started_at, completed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID, &c.TenantID, &c.AccountID, &c.Name, &c.Status, &c.TemplateName, &c.TemplateLanguage, pq.Array(&c.VariableMapping),
		&c.TotalContacts, &c.SentCount, &c.DeliveredCount, &c.ReadCount, &c.FailedCount,
		&c.ScheduledAt, &c.StartedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func statusStrings(in []model.CampaignStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

// ====================== Campaign CRUD ======================

// Create inserts the campaign and its QUEUED messages in one transaction.
func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign, msgs []*model.CampaignMessage) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create campaign: %w", err)
	}
	defer tx.Rollback()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.TotalContacts = len(msgs)

	err = tx.QueryRowContext(ctx, `
        INSERT INTO campaigns (tenant_id, account_id, name, status, template_name, template_language, variable_mapping, total_contacts, scheduled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id`,
		c.TenantID, c.AccountID, c.Name, c.Status, c.TemplateName, c.TemplateLanguage, pq.Array(c.VariableMapping),
		c.TotalContacts, c.ScheduledAt, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO campaign_messages (tenant_id, campaign_id, contact_id, phone, status, template_name, language_code, variables, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
        RETURNING id`)
	if err != nil {
		return fmt.Errorf("prepare campaign messages: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		m.TenantID = c.TenantID
		m.CampaignID = c.ID
		m.Status = model.MessageQueued
		m.CreatedAt = c.CreatedAt
		m.UpdatedAt = c.CreatedAt
		err := stmt.QueryRowContext(ctx,
			m.TenantID, m.CampaignID, m.ContactID, m.Phone, m.Status, m.TemplateName, m.LanguageCode, pq.Array(m.Variables), m.CreatedAt,
		).Scan(&m.ID)
		if err != nil {
			return fmt.Errorf("insert campaign message for contact %d: %w", m.ContactID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create campaign: %w", err)
	}
	return nil
}

// Update rewrites editable fields; it only applies to DRAFT and SCHEDULED rows.
func (r *CampaignRepository) Update(ctx context.Context, c *model.Campaign) error {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE campaigns
        SET name=$1, status=$2, template_name=$3, template_language=$4, variable_mapping=$5, scheduled_at=$6, updated_at=NOW()
        WHERE tenant_id=$7 AND id=$8 AND status IN ('DRAFT', 'SCHEDULED')`,
		c.Name, c.Status, c.TemplateName, c.TemplateLanguage, pq.Array(c.VariableMapping), c.ScheduledAt, c.TenantID, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update campaign %d: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update campaign %d: %w", c.ID, err)
	}
	if n == 0 {
		return appErrors.Guard(appErrors.CodeInvalidStatus, "campaign can only be edited in DRAFT or SCHEDULED state")
	}
	return nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, tenantID string, id int) (*model.Campaign, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	c, err := scanCampaign(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, fmt.Errorf("get campaign %d: %w", id, err)
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, tenantID string, offset, limit int, status string) ([]*model.Campaign, int, error) {
	where := ` WHERE tenant_id=$1`
	args := []any{tenantID}
	if status != "" {
		where += ` AND status=$2`
		args = append(args, status)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	return campaigns, total, nil
}

// Delete removes the campaign unless it is RUNNING or COMPLETED.
func (r *CampaignRepository) Delete(ctx context.Context, tenantID string, id int) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM campaigns WHERE tenant_id=$1 AND id=$2 AND status NOT IN ('RUNNING', 'COMPLETED')`, tenantID, id)
	if err != nil {
		return false, fmt.Errorf("delete campaign %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete campaign %d: %w", id, err)
	}
	return n > 0, nil
}

// ====================== Lifecycle ======================

// UpdateStatus is a compare-and-set: the row moves to `to` only while its
// status is one of `from`. started_at is stamped on the first move to
// RUNNING and completed_at on any terminal status.
func (r *CampaignRepository) UpdateStatus(ctx context.Context, tenantID string, id int, from []model.CampaignStatus, to model.CampaignStatus, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE campaigns
        SET status=$1,
            updated_at=$2,
            started_at=CASE WHEN $3 AND started_at IS NULL THEN $2 ELSE started_at END,
            completed_at=CASE WHEN $4 THEN $2 ELSE completed_at END
        WHERE tenant_id=$5 AND id=$6 AND status = ANY($7)`,
		to, at, to == model.CampaignRunning, to.IsTerminal(), tenantID, id, pq.Array(statusStrings(from)),
	)
	if err != nil {
		return false, fmt.Errorf("update campaign %d status to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update campaign %d status to %s: %w", id, to, err)
	}
	return n > 0, nil
}

// CompleteIfDrained moves a RUNNING campaign to COMPLETED when it has no
// QUEUED messages left. The check and the write are one statement.
func (r *CampaignRepository) CompleteIfDrained(ctx context.Context, tenantID string, id int, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE campaigns
        SET status='COMPLETED', completed_at=$1, updated_at=$1
        WHERE tenant_id=$2 AND id=$3 AND status='RUNNING'
          AND NOT EXISTS (SELECT 1 FROM campaign_messages WHERE campaign_id=$3 AND status='QUEUED')`,
		at, tenantID, id,
	)
	if err != nil {
		return false, fmt.Errorf("complete campaign %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete campaign %d: %w", id, err)
	}
	return n > 0, nil
}

// ListRunning returns RUNNING campaigns of every tenant, oldest first.
func (r *CampaignRepository) ListRunning(ctx context.Context) ([]*model.Campaign, error) {
	return r.listWhere(ctx, `status='RUNNING' ORDER BY id`)
}

func (r *CampaignRepository) ListDueScheduled(ctx context.Context, now time.Time) ([]*model.Campaign, error) {
	return r.listWhere(ctx, `status='SCHEDULED' AND scheduled_at <= $1 ORDER BY scheduled_at, id`, now)
}

func (r *CampaignRepository) listWhere(ctx context.Context, cond string, args ...any) ([]*model.Campaign, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE `+cond, args...)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []*model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
