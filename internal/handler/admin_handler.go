// internal/handler/admin_handler.go
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/unclebandit/wacampaign-backend/internal/controller"
	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/service"
)

const adminActor = "admin"

var validate = validator.New()

// AdminHandler exposes the operator surface. Authentication sits in front
// of this router and is not part of it.
type AdminHandler struct {
	Service *service.AdminService
	Logger  *zap.Logger
}

type sendingRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (h *AdminHandler) logger() *zap.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return zap.NewNop()
}

func (h *AdminHandler) Routes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Put("/kill-switch", h.SetGlobalSending)
		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Put("/sending", h.SetTenantSending)
			r.Get("/rate-limit", h.RateLimitState)
			r.Post("/rate-limit/reset", h.ResetRateLimit)
			r.Get("/status", h.TenantStatus)
		})
	})
}

func (h *AdminHandler) decodeSending(r *http.Request) (bool, error) {
	var body sendingRequest
	if err := controller.DecodeJSON(r, &body); err != nil {
		return false, err
	}
	if err := validate.Struct(body); err != nil {
		return false, appErrors.Validation("enabled is required")
	}
	return *body.Enabled, nil
}

// SetGlobalSending flips the process-wide kill-switch. enabled=false stops
// every send of every tenant at the next safety check.
func (h *AdminHandler) SetGlobalSending(w http.ResponseWriter, r *http.Request) {
	enabled, err := h.decodeSending(r)
	if err != nil {
		controller.RenderError(w, r, h.logger(), err)
		return
	}

	if err := h.Service.SetGlobalSending(r.Context(), controller.Actor(r, adminActor), enabled); err != nil {
		controller.RenderError(w, r, h.logger(), err)
		return
	}

	render.JSON(w, r, map[string]interface{}{"sending_enabled": enabled})
}

func (h *AdminHandler) SetTenantSending(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	enabled, err := h.decodeSending(r)
	if err != nil {
		controller.RenderError(w, r, h.logger(), err)
		return
	}

	if err := h.Service.SetTenantSending(r.Context(), controller.Actor(r, adminActor), tenantID, enabled); err != nil {
		controller.RenderError(w, r, h.logger(), err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"tenant_id":       tenantID,
		"sending_enabled": enabled,
	})
}

func (h *AdminHandler) RateLimitState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Service.RateLimitState(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		controller.RenderError(w, r, h.logger(), err)
		return
	}
	render.JSON(w, r, snap)
}

func (h *AdminHandler) ResetRateLimit(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Service.ResetRateLimit(r.Context(), controller.Actor(r, adminActor), chi.URLParam(r, "tenantID"))
	if err != nil {
		controller.RenderError(w, r, h.logger(), err)
		return
	}
	render.JSON(w, r, snap)
}

func (h *AdminHandler) TenantStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.Service.TenantStatus(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		controller.RenderError(w, r, h.logger(), err)
		return
	}
	render.JSON(w, r, st)
}
