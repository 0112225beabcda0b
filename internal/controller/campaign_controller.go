// internal/controller/campaign_controller.go
package controller

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/service"
)

const defaultActor = "api"

type CampaignController struct {
	CampaignService *service.CampaignService
	BillingService  *service.BillingService
	Logger          *zap.Logger
}

func (c *CampaignController) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

// Routes mounts the tenant-scoped campaign API on r.
func (c *CampaignController) Routes(r chi.Router) {
	r.Route("/campaigns", func(r chi.Router) {
		r.Use(RequireTenant(c.logger()))
		r.Post("/", c.CreateCampaign)
		r.Get("/", c.ListCampaigns)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", c.GetCampaignDetails)
			r.Patch("/", c.UpdateCampaign)
			r.Delete("/", c.DeleteCampaign)
			r.Post("/start", c.StartCampaign)
			r.Post("/pause", c.PauseCampaign)
			r.Post("/resume", c.ResumeCampaign)
			r.Post("/cancel", c.CancelCampaign)
			r.Post("/preview", c.PersonalizedPreview)
			r.Get("/estimate", c.EstimateCost)
		})
	})
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	campaignID, err := IntParam(r, "id")
	if err != nil {
		RenderError(w, r, c.logger(), err)
		return
	}

	var body struct {
		ContactID int `json:"contact_id"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		RenderError(w, r, c.logger(), err)
		return
	}

	rendered, err := c.CampaignService.Preview(r.Context(), TenantFromContext(r.Context()), campaignID, body.ContactID)
	if err != nil {
		RenderError(w, r, c.logger(), err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"rendered_message": rendered,
		"campaign_id":      campaignID,
		"contact_id":       body.ContactID,
	})
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body service.CreateCampaignInput
	if err := DecodeJSON(r, &body); err != nil {
		RenderError(w, r, c.logger(), err)
		return
	}

	campaign, err := c.CampaignService.Create(r.Context(), TenantFromContext(r.Context()), body)
	if err != nil {
		RenderError(w, r, c.logger(), err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	// Bad numbers fall back to the service defaults
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.List(r.Context(), TenantFromContext(r.Context()), page, pageSize, status)
	if err != nil {
		RenderError(w, r, c.logger(), err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	id, err := IntParam(r, "id")
	if err != nil {
		RenderError(w, r, c.logger(), err)
		return
	}

	details, err := c.CampaignService.Get(r.Context(), TenantFromContext(r.Context()), id)
	if err != nil {
		RenderError(w, r, c.logger(), err)
		return
	}

	render.JSON(w, r, details)
}

func (c *CampaignController) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := IntParam(r, "id")
	if err != nil {
		RenderError(w, r, c.logger(), err)
		return
	}

	var body service.UpdateCampaignInput
	if err := DecodeJSON(r, &body); err != nil {
		RenderError(w, r, c.logger(), err)
		return
	}

	campaign, err := c.CampaignService.Update(r.Context(), TenantFromContext(r.Context()), id, body)
	if err != nil {
		RenderError(w, r, c.logger(), err)
		return
	}

	render.JSON(w, r, campaign)
}

func (c *CampaignController) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := IntParam(r, "id")
	if err != nil {
		RenderError(w, r, c.logger(), err)
		return
	}

	if err := c.CampaignService.Delete(r.Context(), TenantFromContext(r.Context()), id); err != nil {
		RenderError(w, r, c.logger(), err)
		return
	}

	render.NoContent(w, r)
}

type lifecycleFunc func(ctx context.Context, tenantID, actor string, id int) (*model.Campaign, error)

// lifecycle adapts one of the start/pause/resume/cancel operations.
func (c *CampaignController) lifecycle(op lifecycleFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := IntParam(r, "id")
		if err != nil {
			RenderError(w, r, c.logger(), err)
			return
		}

		campaign, err := op(r.Context(), TenantFromContext(r.Context()), Actor(r, defaultActor), id)
		if err != nil {
			RenderError(w, r, c.logger(), err)
			return
		}

		render.JSON(w, r, campaign)
	}
}

func (c *CampaignController) StartCampaign(w http.ResponseWriter, r *http.Request) {
	c.lifecycle(c.CampaignService.Start)(w, r)
}

func (c *CampaignController) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	c.lifecycle(c.CampaignService.Pause)(w, r)
}

func (c *CampaignController) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	c.lifecycle(c.CampaignService.Resume)(w, r)
}

func (c *CampaignController) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	c.lifecycle(c.CampaignService.Cancel)(w, r)
}

func (c *CampaignController) EstimateCost(w http.ResponseWriter, r *http.Request) {
	id, err := IntParam(r, "id")
	if err != nil {
		RenderError(w, r, c.logger(), err)
		return
	}

	estimate, err := c.BillingService.Estimate(r.Context(), TenantFromContext(r.Context()), id)
	if err != nil {
		RenderError(w, r, c.logger(), err)
		return
	}

	render.JSON(w, r, estimate)
}
