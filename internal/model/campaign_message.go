// internal/model/campaign_message.go
package model

import "time"

type MessageStatus string

const (
	MessageQueued    MessageStatus = "QUEUED"
	MessageSent      MessageStatus = "SENT"
	MessageDelivered MessageStatus = "DELIVERED"
	MessageRead      MessageStatus = "READ"
	MessageFailed    MessageStatus = "FAILED"
)

var messageRank = map[MessageStatus]int{
	MessageQueued:    0,
	MessageSent:      1,
	MessageDelivered: 2,
	MessageRead:      3,
}

// CanTransitionTo reports whether a message may move from s to next.
// Progress is one-directional (QUEUED→SENT→DELIVERED→READ); receipts may
// skip ahead. FAILED is reachable only from QUEUED or SENT.
func (s MessageStatus) CanTransitionTo(next MessageStatus) bool {
	if next == MessageFailed {
		return s == MessageQueued || s == MessageSent
	}
	from, ok := messageRank[s]
	if !ok {
		return false
	}
	to, ok := messageRank[next]
	if !ok {
		return false
	}
	return to > from
}

// CampaignMessage is one recipient row of a campaign.
type CampaignMessage struct {
	ID           int           `db:"id" json:"id"`
	TenantID     string        `db:"tenant_id" json:"tenant_id"`
	CampaignID   int           `db:"campaign_id" json:"campaign_id"`
	ContactID    int           `db:"contact_id" json:"contact_id"`
	Phone        string        `db:"phone" json:"phone"`
	Status       MessageStatus `db:"status" json:"status"`
	TemplateName string        `db:"template_name" json:"template_name"`
	LanguageCode string        `db:"language_code" json:"language_code"`
	Variables    []string      `db:"variables" json:"variables"`
	WAMessageID  string        `db:"wa_message_id" json:"wa_message_id,omitempty"`
	ErrorCode    int           `db:"error_code" json:"error_code,omitempty"`
	LastError    string        `db:"last_error" json:"last_error,omitempty"`
	RetryCount   int           `db:"retry_count" json:"retry_count"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}
