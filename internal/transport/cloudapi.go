package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CloudAPI talks to the WhatsApp Cloud API (graph.facebook.com).
type CloudAPI struct {
	client  HTTPDoer
	baseURL string
	version string
	logger  *zap.Logger
}

func NewCloudAPI(client HTTPDoer, baseURL, version string, logger *zap.Logger) *CloudAPI {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &CloudAPI{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		version: version,
		logger:  logger.Named("cloudapi"),
	}
}

type textParam struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type component struct {
	Type       string      `json:"type"`
	Parameters []textParam `json:"parameters"`
}

type templateBody struct {
	Name       string            `json:"name"`
	Language   map[string]string `json:"language"`
	Components []component       `json:"components,omitempty"`
}

type sendRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Template         templateBody `json:"template"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *CloudAPI) Send(ctx context.Context, msg Message) (*Result, error) {
	body := sendRequest{
		MessagingProduct: "whatsapp",
		To:               msg.To,
		Type:             "template",
		Template: templateBody{
			Name:     msg.TemplateName,
			Language: map[string]string{"code": msg.LanguageCode},
		},
	}
	if len(msg.Variables) > 0 {
		params := make([]textParam, len(msg.Variables))
		for i, v := range msg.Variables {
			params[i] = textParam{Type: "text", Text: v}
		}
		body.Template.Components = []component{{Type: "body", Parameters: params}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode send request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.version, msg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build send request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+msg.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send to %s: %w", msg.To, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read send response: %w", err)
	}

	var out sendResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode >= 300 || out.Error != nil {
		se := &SendError{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		graphCode := 0
		if decodeErr == nil && out.Error != nil {
			graphCode = out.Error.Code
			// An HTTP 429 stays 429 whatever code the body carries.
			if graphCode != 0 && resp.StatusCode != http.StatusTooManyRequests {
				se.Code = graphCode
			}
			se.Message = out.Error.Message
		}
		c.logger.Warn("send rejected",
			zap.String("request_id", requestID),
			zap.Int("http_status", resp.StatusCode),
			zap.Int("graph_code", graphCode),
			zap.Int("code", se.Code),
			zap.String("message", se.Message),
		)
		return nil, se
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode send response: %w", decodeErr)
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return nil, &SendError{Code: resp.StatusCode, Message: "response carried no message id"}
	}
	return &Result{MessageID: out.Messages[0].ID}, nil
}
