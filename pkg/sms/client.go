package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/UDDITwork/ZAMMER-sub011/pkg/config"
	pkgerrors "github.com/UDDITwork/ZAMMER-sub011/pkg/errors"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/logger"
)

var (
	errBaseURLRequired = errors.New("sms base url is required")
	errAPIKeyRequired  = errors.New("sms api key is required")
)

// Sender delivers a text message to a phone number. The OTP service only
// depends on this surface; tests substitute their own.
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// Client talks to the SMS provider over its JSON HTTP API.
type Client struct {
	http     *http.Client
	baseURL  string
	apiKey   string
	senderID string
	logger   *logger.Logger
}

// NewClient validates the provider credentials and returns a ready client.
func NewClient(cfg config.SmsConfig, logg *logger.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	return &Client{
		http:     &http.Client{Timeout: cfg.Timeout},
		baseURL:  baseURL,
		apiKey:   apiKey,
		senderID: cfg.SenderID,
		logger:   logg,
	}, nil
}

type sendRequest struct {
	To       string `json:"to"`
	Message  string `json:"message"`
	SenderID string `json:"sender_id,omitempty"`
}

// Send posts the message to the provider. Provider failures surface as
// DEPENDENCY_ERROR so callers can distinguish them from caller mistakes.
func (c *Client) Send(ctx context.Context, phone, message string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "phone number is required")
	}
	if message == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "message is required")
	}

	body, err := json.Marshal(sendRequest{To: phone, Message: message, SenderID: c.senderID})
	if err != nil {
		return fmt.Errorf("encoding sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sms provider unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		if c.logger != nil {
			ctx = c.logger.WithField(ctx, "status", resp.StatusCode)
			c.logger.Warn(ctx, "sms provider rejected message")
		}
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("sms provider returned status %d", resp.StatusCode))
	}
	return nil
}
