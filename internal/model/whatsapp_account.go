// internal/model/whatsapp_account.go
package model

import "strings"

type AccountStatus string

const (
	AccountConnected    AccountStatus = "CONNECTED"
	AccountError        AccountStatus = "ERROR"
	AccountDisconnected AccountStatus = "DISCONNECTED"
)

type Environment string

const (
	EnvironmentSandbox    Environment = "SANDBOX"
	EnvironmentProduction Environment = "PRODUCTION"
)

type QualityRating string

const (
	QualityGreen   QualityRating = "GREEN"
	QualityYellow  QualityRating = "YELLOW"
	QualityRed     QualityRating = "RED"
	QualityFlagged QualityRating = "FLAGGED"
	QualityUnknown QualityRating = "UNKNOWN"
)

// ParseQualityRating maps provider strings onto the closed set; anything
// unrecognised is UNKNOWN.
func ParseQualityRating(s string) QualityRating {
	switch q := QualityRating(strings.ToUpper(strings.TrimSpace(s))); q {
	case QualityGreen, QualityYellow, QualityRed, QualityFlagged:
		return q
	}
	return QualityUnknown
}

// TooLow is true for ratings that block production sends.
func (q QualityRating) TooLow() bool {
	switch q {
	case QualityRed, QualityFlagged:
		return true
	}
	return false
}

type WhatsAppAccount struct {
	ID            int           `db:"id" json:"id"`
	TenantID      string        `db:"tenant_id" json:"tenant_id"`
	WABAID        string        `db:"waba_id" json:"waba_id"`
	PhoneNumberID string        `db:"phone_number_id" json:"phone_number_id"`
	AccessToken   string        `db:"access_token" json:"-"`
	Status        AccountStatus `db:"status" json:"status"`
	Environment   Environment   `db:"environment" json:"environment"`
	QualityRating QualityRating `db:"quality_rating" json:"quality_rating"`
}
