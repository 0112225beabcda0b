package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/unclebandit/wacampaign-backend/internal/controller"
	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/service"
)

// StatusHandler takes delivery receipts in the internal {message_id,
// status} shape.
type StatusHandler struct {
	Service *service.StatusService
	Logger  *zap.Logger
}

type receiptRequest struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

func (h *StatusHandler) logger() *zap.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return zap.NewNop()
}

func (h *StatusHandler) Routes(r chi.Router) {
	r.Post("/webhooks/status", h.ApplyReceipt)
}

// ApplyReceipt answers 200 for ignored receipts too so the provider does
// not redeliver them.
func (h *StatusHandler) ApplyReceipt(w http.ResponseWriter, r *http.Request) {
	var body receiptRequest
	if err := controller.DecodeJSON(r, &body); err != nil {
		controller.RenderError(w, r, h.logger(), err)
		return
	}

	status := model.MessageStatus(strings.ToUpper(strings.TrimSpace(body.Status)))
	applied, err := h.Service.Apply(r.Context(), strings.TrimSpace(body.MessageID), status)
	if err != nil {
		controller.RenderError(w, r, h.logger(), err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"message_id": body.MessageID,
		"status":     status,
		"applied":    applied,
	})
}
