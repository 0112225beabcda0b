package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/wacampaign-backend/internal/model"
)

type MessageRepositoryInterface interface {
	CountQueued(ctx context.Context, campaignID int) (int, error)
	ClaimNext(ctx context.Context, campaignID int, now, until time.Time) (*model.CampaignMessage, error)
	Unclaim(ctx context.Context, id int) error
	GetByID(ctx context.Context, id int) (*model.CampaignMessage, error)
	GetByWAMessageID(ctx context.Context, waMessageID string) (*model.CampaignMessage, error)
	MarkSent(ctx context.Context, id int, waMessageID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id int, code int, lastError string, at time.Time) (bool, error)
	ApplyReceipt(ctx context.Context, id int, from, to model.MessageStatus, at time.Time) (bool, error)
	Stats(ctx context.Context, campaignID int) (map[model.MessageStatus]int, error)
}

type CampaignMessageRepository struct {
	DB *sql.DB
}

const messageColumns = `id, tenant_id, campaign_id, contact_id, phone, status, template_name, language_code, variables,
        wa_message_id, error_code, last_error, retry_count, created_at, updated_at`

// counterColumn is the campaign counter bumped when a message enters a status.
var counterColumn = map[model.MessageStatus]string{
	model.MessageSent:      "sent_count",
	model.MessageDelivered: "delivered_count",
	model.MessageRead:      "read_count",
	model.MessageFailed:    "failed_count",
}

func scanMessage(row rowScanner) (*model.CampaignMessage, error) {
	var (
		m    model.CampaignMessage
		waID sql.NullString
	)
	err := row.Scan(
		&m.ID, &m.TenantID, &m.CampaignID, &m.ContactID, &m.Phone, &m.Status, &m.TemplateName, &m.LanguageCode, pq.Array(&m.Variables),
		&waID, &m.ErrorCode, &m.LastError, &m.RetryCount, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.WAMessageID = waID.String
	return &m, nil
}

func (r *CampaignMessageRepository) CountQueued(ctx context.Context, campaignID int) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaign_messages WHERE campaign_id=$1 AND status='QUEUED'`, campaignID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queued messages for campaign %d: %w", campaignID, err)
	}
	return n, nil
}

// ClaimNext marks the oldest unclaimed QUEUED message of the campaign as
// claimed until `until` and returns it, or nil when there is none. The
// message stays QUEUED; rows another dispatcher is claiming are skipped and
// an expired claim can be taken over.
func (r *CampaignMessageRepository) ClaimNext(ctx context.Context, campaignID int, now, until time.Time) (*model.CampaignMessage, error) {
	row := r.DB.QueryRowContext(ctx, `
        UPDATE campaign_messages SET claimed_until=$3
        WHERE id = (
            SELECT id FROM campaign_messages
            WHERE campaign_id=$1 AND status='QUEUED'
              AND (claimed_until IS NULL OR claimed_until <= $2)
            ORDER BY id
            LIMIT 1
            FOR UPDATE SKIP LOCKED
        )
        RETURNING `+messageColumns, campaignID, now, until)
	return r.one(row, fmt.Sprintf("claim next message for campaign %d", campaignID))
}

// Unclaim returns a message that was claimed but not sent to the queue.
func (r *CampaignMessageRepository) Unclaim(ctx context.Context, id int) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE campaign_messages SET claimed_until=NULL WHERE id=$1 AND status='QUEUED'`, id)
	if err != nil {
		return fmt.Errorf("unclaim message %d: %w", id, err)
	}
	return nil
}

func (r *CampaignMessageRepository) GetByID(ctx context.Context, id int) (*model.CampaignMessage, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM campaign_messages WHERE id=$1`, id)
	return r.one(row, fmt.Sprintf("get message %d", id))
}

func (r *CampaignMessageRepository) GetByWAMessageID(ctx context.Context, waMessageID string) (*model.CampaignMessage, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM campaign_messages WHERE wa_message_id=$1`, waMessageID)
	return r.one(row, "get message by provider id")
}

func (r *CampaignMessageRepository) one(row *sql.Row, what string) (*model.CampaignMessage, error) {
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return m, nil
}

// MarkSent moves a QUEUED message to SENT and bumps the campaign's
// sent_count in the same statement.
func (r *CampaignMessageRepository) MarkSent(ctx context.Context, id int, waMessageID string, at time.Time) (bool, error) {
	return r.transition(ctx, id, []model.MessageStatus{model.MessageQueued}, model.MessageSent,
		`wa_message_id=$5`, at, waMessageID)
}

// MarkFailed moves a QUEUED or SENT message to FAILED, records the error
// and increments retry_count.
func (r *CampaignMessageRepository) MarkFailed(ctx context.Context, id int, code int, lastError string, at time.Time) (bool, error) {
	return r.transition(ctx, id, []model.MessageStatus{model.MessageQueued, model.MessageSent}, model.MessageFailed,
		`error_code=$5, last_error=$6, retry_count=retry_count+1`, at, code, lastError)
}

// ApplyReceipt is a compare-and-set from one delivery status to another.
func (r *CampaignMessageRepository) ApplyReceipt(ctx context.Context, id int, from, to model.MessageStatus, at time.Time) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, nil
	}
	return r.transition(ctx, id, []model.MessageStatus{from}, to, "", at)
}

func (r *CampaignMessageRepository) transition(ctx context.Context, id int, from []model.MessageStatus, to model.MessageStatus, set string, at time.Time, extra ...any) (bool, error) {
	col, ok := counterColumn[to]
	if !ok {
		return false, fmt.Errorf("no counter for message status %s", to)
	}
	if set != "" {
		set = ", " + set
	}
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	query := fmt.Sprintf(`
        WITH m AS (
            UPDATE campaign_messages
            SET status=$1, updated_at=$2%s
            WHERE id=$3 AND status = ANY($4)
            RETURNING campaign_id
        )
        UPDATE campaigns SET %s = %s + 1, updated_at=$2
        FROM m WHERE campaigns.id = m.campaign_id`, set, col, col)

	args := append([]any{to, at, id, pq.Array(fromStrs)}, extra...)
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("mark message %d %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark message %d %s: %w", id, to, err)
	}
	return n > 0, nil
}

func (r *CampaignMessageRepository) Stats(ctx context.Context, campaignID int) (map[model.MessageStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM campaign_messages WHERE campaign_id=$1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("message stats for campaign %d: %w", campaignID, err)
	}
	defer rows.Close()

	stats := map[model.MessageStatus]int{
		model.MessageQueued:    0,
		model.MessageSent:      0,
		model.MessageDelivered: 0,
		model.MessageRead:      0,
		model.MessageFailed:    0,
	}
	for rows.Next() {
		var (
			status model.MessageStatus
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

var _ MessageRepositoryInterface = (*CampaignMessageRepository)(nil)
