// internal/model/template.go
package model

type TemplateStatus string

const (
	TemplateDraft    TemplateStatus = "DRAFT"
	TemplatePending  TemplateStatus = "PENDING"
	TemplateApproved TemplateStatus = "APPROVED"
	TemplateRejected TemplateStatus = "REJECTED"
	TemplatePaused   TemplateStatus = "PAUSED"
	TemplateDisabled TemplateStatus = "DISABLED"
)

type TemplateCategory string

const (
	CategoryMarketing      TemplateCategory = "MARKETING"
	CategoryUtility        TemplateCategory = "UTILITY"
	CategoryAuthentication TemplateCategory = "AUTHENTICATION"
	CategoryService        TemplateCategory = "SERVICE"
)

// Template is a message template as approved (or not) by Meta.
type Template struct {
	ID            int              `db:"id" json:"id"`
	TenantID      string           `db:"tenant_id" json:"tenant_id"`
	Name          string           `db:"name" json:"name"`
	Language      string           `db:"language" json:"language"`
	Category      TemplateCategory `db:"category" json:"category"`
	Status        TemplateStatus   `db:"status" json:"status"`
	Body          string           `db:"body" json:"body"`
	VariableCount int              `db:"variable_count" json:"variable_count"`
}
