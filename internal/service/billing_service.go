package service

import (
	"context"

	"github.com/unclebandit/wacampaign-backend/internal/config"
	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
)

// Prices is the unit price of one message per template category.
type Prices map[model.TemplateCategory]float64

func PricesFromConfig(cfg *config.Config) Prices {
	return Prices{
		model.CategoryMarketing:      cfg.Pricing.Marketing,
		model.CategoryUtility:        cfg.Pricing.Utility,
		model.CategoryAuthentication: cfg.Pricing.Authentication,
		model.CategoryService:        cfg.Pricing.Service,
	}
}

type BillingService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	MessageRepo  repository.MessageRepositoryInterface
	TemplateRepo repository.TemplateRepositoryInterface
	Prices       Prices
}

type Estimate struct {
	CampaignID    int                    `json:"campaign_id"`
	Category      model.TemplateCategory `json:"category"`
	UnitPrice     float64                `json:"unit_price"`
	QueuedCount   int                    `json:"queued_count"`
	SentCount     int                    `json:"sent_count"`
	EstimatedCost float64                `json:"estimated_cost"`
	Spent         float64                `json:"spent"`
}

// Estimate prices what is still queued and what has already been sent.
func (s *BillingService) Estimate(ctx context.Context, tenantID string, campaignID int) (*Estimate, error) {
	c, err := s.CampaignRepo.GetByID(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	tmpl, err := s.TemplateRepo.GetByName(ctx, tenantID, c.TemplateName, c.TemplateLanguage)
	if err != nil {
		return nil, err
	}
	queued, err := s.MessageRepo.CountQueued(ctx, campaignID)
	if err != nil {
		return nil, appErrors.Storage(err, "count queued messages")
	}

	price := s.Prices[tmpl.Category]
	return &Estimate{
		CampaignID:    campaignID,
		Category:      tmpl.Category,
		UnitPrice:     price,
		QueuedCount:   queued,
		SentCount:     c.SentCount,
		EstimatedCost: float64(queued) * price,
		Spent:         float64(c.SentCount) * price,
	}, nil
}
