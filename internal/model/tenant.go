// internal/model/tenant.go
package model

import "time"

type Tenant struct {
	ID             string    `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Active         bool      `db:"active" json:"active"`
	SendingEnabled bool      `db:"sending_enabled" json:"sending_enabled"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// CanSend is the tenant-level kill-switch.
func (t *Tenant) CanSend() bool {
	return t.Active && t.SendingEnabled
}
