// Package whatsapp sends follow-up messages through a whapi-style gateway
// and keeps the delivery bookkeeping around those sends.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/enercall/webhook-relay/pkg/logging"
)

// maxResponseBytes caps how much of a provider response is retained.
const maxResponseBytes = 8192

// SendResponse is the provider's reply to a send attempt that reached it.
type SendResponse struct {
	StatusCode int
	Body       json.RawMessage
	Endpoint   string
}

// OK reports whether the provider accepted the message.
func (r *SendResponse) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Sender is the outbound transport the dispatcher depends on.
type Sender interface {
	SendText(ctx context.Context, to, body string) (*SendResponse, error)
}

// Client posts text messages to the gateway. The provider's path conventions
// have shifted across API revisions, so the client walks an ordered list of
// candidate endpoints: a network-level failure moves on to the next path,
// while any HTTP response, success or not, ends the walk.
type Client struct {
	baseURL    string
	token      string
	paths      []string
	httpClient *http.Client
	logger     *logging.Logger
}

// defaultSendPaths covers the revisions observed in the wild.
var defaultSendPaths = []string{"/messages/text", "/messages", "/api/messages/text", "/api/sendText"}

func NewClient(baseURL, token string, paths []string, timeout time.Duration, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	if len(paths) == 0 {
		paths = defaultSendPaths
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		paths:   paths,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

var _ Sender = (*Client)(nil)

// SendText delivers one message. It returns an error only when every
// candidate endpoint failed at the transport level; an application-level
// rejection comes back as a SendResponse with a non-2xx status.
func (c *Client) SendText(ctx context.Context, to, body string) (*SendResponse, error) {
	if c.token == "" {
		return nil, errors.New("whatsapp: api token missing")
	}
	if to == "" {
		return nil, errors.New("whatsapp: to required")
	}

	payload, err := json.Marshal(map[string]string{"to": to, "body": body})
	if err != nil {
		return nil, fmt.Errorf("whatsapp: marshal payload: %w", err)
	}

	var lastErr error
	for _, path := range c.paths {
		endpoint := c.baseURL + path
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			lastErr = err
			continue
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("whatsapp endpoint unreachable; trying next",
				"endpoint", endpoint,
				"error", err,
			)
			lastErr = err
			continue
		}

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		_ = resp.Body.Close()
		return &SendResponse{
			StatusCode: resp.StatusCode,
			Body:       respBody,
			Endpoint:   endpoint,
		}, nil
	}

	if lastErr == nil {
		lastErr = errors.New("whatsapp: no send endpoints configured")
	}
	return nil, fmt.Errorf("whatsapp: all endpoints failed: %w", lastErr)
}
