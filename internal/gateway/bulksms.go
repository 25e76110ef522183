package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/klaxon/internal/alert"
)

const httpTimeout = 10 * time.Second

// Client sends messages through an eBulkSMS-style HTTP gateway.
type Client struct {
	baseURL  string
	apiKey   string
	senderID string
	client   *http.Client
}

// NewClient creates a gateway client. baseURL is the provider API root.
func NewClient(baseURL, apiKey, senderID string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		senderID: senderID,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type sendRequest struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
	SenderID  string `json:"sender_id,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// Send posts one message to the provider. Transport failures, provider
// throttling and 5xx responses are transient; other 4xx responses are
// permanent.
func (c *Client) Send(ctx context.Context, ch alert.Channel, recipient, body string) (Receipt, error) {
	payload, err := json.Marshal(sendRequest{
		Channel:   string(ch),
		Recipient: recipient,
		Body:      body,
		SenderID:  c.senderID,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("gateway: marshal payload: %w", err)
	}

	url := c.baseURL + "/api/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Receipt{}, fmt.Errorf("gateway: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req) //nolint:gosec // G704: baseURL is from trusted config, not user input
	if err != nil {
		return Receipt{}, &TransientError{Detail: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var sr sendResponse
		if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
			// accepted but unparseable receipt; treat as delivered without one
			return Receipt{}, nil
		}
		return Receipt{ID: sr.MessageID}, nil

	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return Receipt{}, &TransientError{Detail: fmt.Sprintf("provider returned %d", resp.StatusCode)}

	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Receipt{}, &PermanentError{Detail: fmt.Sprintf("provider returned %d: %s", resp.StatusCode, string(detail))}
	}
}

var _ Sender = (*Client)(nil)
