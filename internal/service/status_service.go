package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
)

// StatusService applies delivery receipts reported by the provider.
type StatusService struct {
	MessageRepo repository.MessageRepositoryInterface
	Logger      *zap.Logger
	Now         func() time.Time
}

// Apply moves the message identified by the provider id to status when the
// move is forward. Unknown ids, duplicates and out-of-order receipts are
// ignored and reported as not applied.
func (s *StatusService) Apply(ctx context.Context, waMessageID string, status model.MessageStatus) (bool, error) {
	if waMessageID == "" {
		return false, appErrors.Validation("message_id is required")
	}
	switch status {
	case model.MessageDelivered, model.MessageRead, model.MessageFailed:
	default:
		return false, appErrors.Validation(fmt.Sprintf("unsupported receipt status %q", status))
	}

	msg, err := s.MessageRepo.GetByWAMessageID(ctx, waMessageID)
	if err != nil {
		return false, appErrors.Storage(err, "find message for receipt")
	}
	if msg == nil {
		s.log().Debug("receipt for unknown message", zap.String("wa_message_id", waMessageID))
		return false, nil
	}
	if !msg.Status.CanTransitionTo(status) {
		s.log().Debug("receipt ignored",
			zap.Int("message_id", msg.ID),
			zap.String("current", string(msg.Status)),
			zap.String("receipt", string(status)),
		)
		return false, nil
	}

	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	applied, err := s.MessageRepo.ApplyReceipt(ctx, msg.ID, msg.Status, status, now)
	if err != nil {
		return false, appErrors.Storage(err, "apply receipt")
	}
	return applied, nil
}

func (s *StatusService) log() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}
