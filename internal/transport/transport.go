// Package transport sends template messages to WhatsApp.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Message is one template send. Credentials come from the tenant's account.
type Message struct {
	PhoneNumberID string
	AccessToken   string
	To            string
	TemplateName  string
	LanguageCode  string
	Variables     []string
}

type Result struct {
	MessageID string
}

// SendError is a provider-reported failure. Code feeds throttling
// classification.
type SendError struct {
	Code    int
	Message string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed (code %d): %s", e.Code, e.Message)
}

// ErrorCode returns the provider code carried by err, or 0.
func ErrorCode(err error) int {
	var se *SendError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

type Transport interface {
	Send(ctx context.Context, msg Message) (*Result, error)
}
