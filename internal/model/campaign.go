// internal/model/campaign.go
package model

import "time"

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignScheduled CampaignStatus = "SCHEDULED"
	CampaignQueued    CampaignStatus = "QUEUED"
	CampaignRunning   CampaignStatus = "RUNNING"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignCompleted CampaignStatus = "COMPLETED"
	CampaignFailed    CampaignStatus = "FAILED"
	CampaignCancelled CampaignStatus = "CANCELLED"
)

// Valid reports whether s is one of the known campaign states.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignScheduled, CampaignQueued, CampaignRunning,
		CampaignPaused, CampaignCompleted, CampaignFailed, CampaignCancelled:
		return true
	}
	return false
}

// CanEdit: only campaigns that never started may change content or schedule.
func (s CampaignStatus) CanEdit() bool {
	switch s {
	case CampaignDraft, CampaignScheduled:
		return true
	}
	return false
}

// CanStart reports whether start is a legal transition out of s.
func (s CampaignStatus) CanStart() bool {
	switch s {
	case CampaignDraft, CampaignScheduled:
		return true
	}
	return false
}

// CanDelete is false for RUNNING and COMPLETED campaigns.
func (s CampaignStatus) CanDelete() bool {
	switch s {
	case CampaignRunning, CampaignCompleted:
		return false
	}
	return s.Valid()
}

func (s CampaignStatus) CanCancel() bool {
	switch s {
	case CampaignDraft, CampaignScheduled, CampaignQueued, CampaignRunning, CampaignPaused:
		return true
	}
	return false
}

func (s CampaignStatus) IsTerminal() bool {
	switch s {
	case CampaignCompleted, CampaignFailed, CampaignCancelled:
		return true
	}
	return false
}

type Campaign struct {
	ID               int            `db:"id" json:"id"`
	TenantID         string         `db:"tenant_id" json:"tenant_id"`
	AccountID        int            `db:"account_id" json:"account_id"`
	Name             string         `db:"name" json:"name"`
	Status           CampaignStatus `db:"status" json:"status"`
	TemplateName     string         `db:"template_name" json:"template_name"`
	TemplateLanguage string         `db:"template_language" json:"template_language"`
	VariableMapping  []string       `db:"variable_mapping" json:"variable_mapping"`

	TotalContacts  int `db:"total_contacts" json:"total_contacts"`
	SentCount      int `db:"sent_count" json:"sent_count"`
	DeliveredCount int `db:"delivered_count" json:"delivered_count"`
	ReadCount      int `db:"read_count" json:"read_count"`
	FailedCount    int `db:"failed_count" json:"failed_count"`

	ScheduledAt *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}
