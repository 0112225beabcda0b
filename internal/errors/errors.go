// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the coarse error class; it decides retry behaviour and HTTP status.
type Kind string

const (
	KindValidation       Kind = "VALIDATION"
	KindNotFound         Kind = "NOT_FOUND"
	KindInvalidStatus    Kind = "INVALID_STATUS"
	KindSafetyDenied     Kind = "SAFETY_DENIED"
	KindTransportFailure Kind = "TRANSPORT_FAILURE"
	KindStorage          Kind = "STORAGE"
)

// Code is the operator-facing reason.
type Code string

const (
	CodeTemplateNotApproved  Code = "TEMPLATE_NOT_APPROVED"
	CodeWhatsAppNotConnected Code = "WHATSAPP_NOT_CONNECTED"
	CodeNoMessages           Code = "NO_MESSAGES"
	CodeSandboxLimit         Code = "SANDBOX_LIMIT"
	CodeInvalidStatus        Code = "INVALID_STATUS"

	CodeValidation       Code = "VALIDATION_ERROR"
	CodeCampaignNotFound Code = "CAMPAIGN_NOT_FOUND"
	CodeTemplateNotFound Code = "TEMPLATE_NOT_FOUND"
	CodeAccountNotFound  Code = "ACCOUNT_NOT_FOUND"
	CodeTenantNotFound   Code = "TENANT_NOT_FOUND"
	CodeContactNotFound  Code = "CONTACT_NOT_FOUND"
	CodeSafetyDenied     Code = "SAFETY_DENIED"
	CodeTransportFailure Code = "TRANSPORT_FAILURE"
	CodeStorage          Code = "STORAGE_ERROR"
	CodeInternal         Code = "INTERNAL_ERROR"
)

type AppError struct {
	Kind    Kind
	Code    Code
	Message string
	Details any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error kind onto a response status.
func (e *AppError) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidStatus:
		return http.StatusConflict
	case KindSafetyDenied:
		return http.StatusLocked
	case KindTransportFailure:
		return http.StatusBadGateway
	case KindStorage:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func New(kind Kind, code Code, msg string) *AppError {
	return &AppError{Kind: kind, Code: code, Message: msg}
}

func Wrap(err error, kind Kind, code Code, msg string) *AppError {
	return &AppError{Kind: kind, Code: code, Message: msg, Err: err}
}

func Validation(msg string) *AppError {
	return New(KindValidation, CodeValidation, msg)
}

// Guard builds a state machine guard failure carrying a specific code.
func Guard(code Code, msg string) *AppError {
	return New(KindInvalidStatus, code, msg)
}

func NotFound(code Code, msg string) *AppError {
	return New(KindNotFound, code, msg)
}

func Storage(err error, msg string) *AppError {
	return Wrap(err, KindStorage, CodeStorage, msg)
}

func SafetyDenied(reason string) *AppError {
	return New(KindSafetyDenied, CodeSafetyDenied, reason)
}

// As returns the first *AppError in err's chain.
func As(err error) (*AppError, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	var nf *ErrCampaignNotFound
	if errors.As(err, &nf) {
		return nf.AppError(), true
	}
	return nil, false
}

// KindOf returns "" when err carries no AppError.
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return ""
}

func CodeOf(err error) Code {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return ""
}

func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// ErrCampaignNotFound is returned when a campaign does not exist for the tenant.
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

func (e *ErrCampaignNotFound) AppError() *AppError {
	return &AppError{Kind: KindNotFound, Code: CodeCampaignNotFound, Message: e.Error(), Details: map[string]int{"campaign_id": e.CampaignID}}
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}
