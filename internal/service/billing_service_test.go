package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/wacampaign-backend/internal/config"
	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/service"
)

func TestBillingEstimate(t *testing.T) {
	f := newFixture()
	c := f.seed(model.CampaignRunning, 4, 1)
	msgs := &MockMessageRepo{db: f.db}
	_, err := msgs.MarkSent(context.Background(), 1, "wamid.1", f.now)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Pricing.Marketing = 0.5
	cfg.Pricing.Utility = 0.1

	svc := &service.BillingService{
		CampaignRepo: f.campaigns,
		MessageRepo:  msgs,
		TemplateRepo: f.templates,
		Prices:       service.PricesFromConfig(cfg),
	}
	est, err := svc.Estimate(context.Background(), tenant, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryMarketing, est.Category)
	assert.Equal(t, 3, est.QueuedCount)
	assert.Equal(t, 1, est.SentCount)
	assert.InDelta(t, 1.5, est.EstimatedCost, 1e-9)
	assert.InDelta(t, 0.5, est.Spent, 1e-9)

	f.templates.Templates["promo"].Category = model.CategoryService
	est, err = svc.Estimate(context.Background(), tenant, c.ID)
	require.NoError(t, err)
	assert.Zero(t, est.EstimatedCost)
}
