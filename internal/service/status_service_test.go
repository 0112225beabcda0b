package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/service"
)

func TestStatusServiceAppliesForwardReceipts(t *testing.T) {
	f := newFixture()
	c := f.seed(model.CampaignRunning, 2, 1)
	msgs := &MockMessageRepo{db: f.db}
	_, err := msgs.MarkSent(context.Background(), 1, "wamid.1", f.now)
	require.NoError(t, err)

	svc := &service.StatusService{MessageRepo: msgs, Logger: zap.NewNop(), Now: func() time.Time { return f.now }}

	applied, err := svc.Apply(context.Background(), "wamid.1", model.MessageDelivered)
	require.NoError(t, err)
	assert.True(t, applied)

	// duplicate
	applied, err = svc.Apply(context.Background(), "wamid.1", model.MessageDelivered)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = svc.Apply(context.Background(), "wamid.1", model.MessageRead)
	require.NoError(t, err)
	assert.True(t, applied)

	// backwards and read-then-failed are ignored
	applied, err = svc.Apply(context.Background(), "wamid.1", model.MessageDelivered)
	require.NoError(t, err)
	assert.False(t, applied)
	applied, err = svc.Apply(context.Background(), "wamid.1", model.MessageFailed)
	require.NoError(t, err)
	assert.False(t, applied)

	got := f.db.campaign(c.ID)
	assert.Equal(t, 1, got.SentCount)
	assert.Equal(t, 1, got.DeliveredCount)
	assert.Equal(t, 1, got.ReadCount)
	assert.Equal(t, 0, got.FailedCount)
}

func TestStatusServiceSentToFailed(t *testing.T) {
	f := newFixture()
	c := f.seed(model.CampaignRunning, 1, 1)
	msgs := &MockMessageRepo{db: f.db}
	_, err := msgs.MarkSent(context.Background(), 1, "wamid.9", f.now)
	require.NoError(t, err)

	svc := &service.StatusService{MessageRepo: msgs}
	applied, err := svc.Apply(context.Background(), "wamid.9", model.MessageFailed)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 1, f.db.campaign(c.ID).FailedCount)
}

func TestStatusServiceRejectsBadReceipts(t *testing.T) {
	f := newFixture()
	svc := &service.StatusService{MessageRepo: &MockMessageRepo{db: f.db}}

	_, err := svc.Apply(context.Background(), "", model.MessageRead)
	assert.Equal(t, appErrors.CodeValidation, appErrors.CodeOf(err))

	_, err = svc.Apply(context.Background(), "wamid.1", model.MessageSent)
	assert.Equal(t, appErrors.CodeValidation, appErrors.CodeOf(err))

	applied, err := svc.Apply(context.Background(), "wamid.unknown", model.MessageRead)
	require.NoError(t, err)
	assert.False(t, applied)
}
