package controller

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
)

const (
	TenantHeader = "X-Tenant-ID"
	ActorHeader  = "X-Actor"
)

type ctxKey int

const tenantKey ctxKey = iota

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// RenderError writes err with the status of its AppError kind. Errors that
// carry no AppError are reported as 500 without their text.
func RenderError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	ae, ok := appErrors.As(err)
	if !ok {
		ae = appErrors.Wrap(err, "", appErrors.CodeInternal, "internal error")
	}
	status := ae.HTTPStatus()

	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("error_code", string(ae.Code)),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", fields...)
	} else {
		logger.Debug("request rejected", fields...)
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: ae.Message, Code: string(ae.Code), Details: ae.Details})
}

// DecodeJSON reads the request body into v. An empty body is an error.
func DecodeJSON(r *http.Request, v any) error {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		if errors.Is(err, io.EOF) {
			return appErrors.Validation("request body is empty")
		}
		return appErrors.Validation("invalid request body: " + err.Error())
	}
	return nil
}

// IntParam parses a positive integer path parameter.
func IntParam(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || v <= 0 {
		return 0, appErrors.Validation("invalid " + name)
	}
	return v, nil
}

// RequireTenant rejects requests without a tenant header and stores the
// tenant on the request context.
func RequireTenant(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := strings.TrimSpace(r.Header.Get(TenantHeader))
			if tenantID == "" {
				RenderError(w, r, logger, appErrors.Validation(TenantHeader+" header is required"))
				return
			}
			ctx := context.WithValue(r.Context(), tenantKey, tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func TenantFromContext(ctx context.Context) string {
	tenantID, _ := ctx.Value(tenantKey).(string)
	return tenantID
}

// Actor names the operator for the audit log, falling back to def.
func Actor(r *http.Request, def string) string {
	if a := strings.TrimSpace(r.Header.Get(ActorHeader)); a != "" {
		return a
	}
	return def
}
