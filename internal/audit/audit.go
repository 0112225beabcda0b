// Package audit records administrative actions. Recording is
// fire-and-forget: a failing sink never blocks or fails the audited action.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ActionGlobalSending  = "global_sending.set"
	ActionTenantSending  = "tenant_sending.set"
	ActionRateLimitReset = "rate_limit.reset"
	ActionCampaignStart  = "campaign.start"
	ActionCampaignPause  = "campaign.pause"
	ActionCampaignResume = "campaign.resume"
	ActionCampaignCancel = "campaign.cancel"
)

type Entry struct {
	ID       string         `bson:"_id" json:"id"`
	At       time.Time      `bson:"at" json:"at"`
	Actor    string         `bson:"actor" json:"actor"`
	TenantID string         `bson:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	Action   string         `bson:"action" json:"action"`
	Target   string         `bson:"target,omitempty" json:"target,omitempty"`
	Details  map[string]any `bson:"details,omitempty" json:"details,omitempty"`
}

// NewEntry stamps a fresh id and time.
func NewEntry(actor, tenantID, action, target string, details map[string]any) Entry {
	if actor == "" {
		actor = "system"
	}
	return Entry{
		ID:       uuid.NewString(),
		At:       time.Now().UTC(),
		Actor:    actor,
		TenantID: tenantID,
		Action:   action,
		Target:   target,
		Details:  details,
	}
}

type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// LogSink writes entries to the structured log.
type LogSink struct {
	Logger *zap.Logger
}

func (s *LogSink) Record(_ context.Context, e Entry) error {
	s.Logger.Info("audit",
		zap.String("id", e.ID),
		zap.Time("at", e.At),
		zap.String("actor", e.Actor),
		zap.String("tenant_id", e.TenantID),
		zap.String("action", e.Action),
		zap.String("target", e.Target),
		zap.Any("details", e.Details),
	)
	return nil
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
